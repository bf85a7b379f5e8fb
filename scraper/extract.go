package scraper

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"rentwatch/config"
	"rentwatch/identity"
	"rentwatch/models"
)

type fieldRule struct {
	name     string
	selector string
	attr     string
	re       *regexp.Regexp
	multiple bool
}

// compileRules turns the site's field map into a stable, ordered rule list.
func compileRules(fields map[string]config.FieldRule) ([]fieldRule, error) {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	rules := make([]fieldRule, 0, len(names))
	for _, name := range names {
		f := fields[name]
		r := fieldRule{name: name, selector: f.Selector, attr: f.Attr, multiple: f.Multiple}
		if f.Regex != "" {
			re, err := regexp.Compile(f.Regex)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", name, err)
			}
			r.re = re
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// extractFields applies rules to a detail page. A rule that matches nothing
// yields an empty column rather than a missing one.
func extractFields(doc *goquery.Selection, rules []fieldRule, base *url.URL) models.RawRecord {
	rec := make(models.RawRecord, len(rules))
	for _, r := range rules {
		sel := doc.Find(r.selector)
		if !r.multiple {
			sel = sel.First()
		}

		var values []string
		sel.Each(func(_ int, s *goquery.Selection) {
			if v := r.value(s, base); v != "" {
				values = append(values, v)
			}
		})
		rec[r.name] = strings.Join(values, ", ")
	}
	return rec
}

func (r fieldRule) value(s *goquery.Selection, base *url.URL) string {
	var v string
	if r.attr != "" {
		v, _ = s.Attr(r.attr)
		if r.attr == "href" || r.attr == "src" {
			v = absoluteURL(base, v)
		}
	} else {
		v = s.Text()
	}
	v = identity.CleanText(v)

	if r.re != nil {
		m := r.re.FindStringSubmatch(v)
		switch {
		case m == nil:
			return ""
		case len(m) > 1:
			return strings.TrimSpace(m[1])
		default:
			return strings.TrimSpace(m[0])
		}
	}
	return v
}

func absoluteURL(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || base == nil {
		return ref
	}
	u, err := base.Parse(ref)
	if err != nil {
		return ref
	}
	return u.String()
}
