package scraper

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"rentwatch/browser"
	"rentwatch/config"
	"rentwatch/identity"
	"rentwatch/models"
	"rentwatch/services"
)

const defaultMaxLoadMore = 50

var consentSelectors = []string{
	"button:has-text('Consent')",
	"button[id*='accept']",
	"button[class*='accept']",
	"button[class*='consent']",
	"#didomi-notice-agree-button",
	"button:has-text('Accept All')",
	"button:has-text('Accept')",
	"button:has-text('Agree')",
}

// BrowserHandler crawls sites whose result list is rendered by script and
// grows through a "load more" control.
type BrowserHandler struct {
	cfg       *config.SiteConfig
	launcher  browser.Launcher
	rules     []fieldRule
	linkRe    *regexp.Regexp
	limiter   *rate.Limiter
	urlColumn string
	log       *logrus.Entry

	findTimeout time.Duration
	waitTimeout time.Duration
}

func NewBrowserHandler(cfg *config.SiteConfig, launcher browser.Launcher, urlColumn string, log *logrus.Entry) (*BrowserHandler, error) {
	if cfg.ListSelector == "" {
		return nil, fmt.Errorf("site %s: list_selector is required for browser crawling", cfg.ID)
	}
	rules, err := compileRules(cfg.Fields)
	if err != nil {
		return nil, fmt.Errorf("site %s: %w", cfg.ID, err)
	}

	h := &BrowserHandler{
		cfg:         cfg,
		launcher:    launcher,
		rules:       rules,
		limiter:     newLimiter(cfg.RateLimitMS),
		urlColumn:   urlColumn,
		log:         log.WithField("handler", "browser"),
		findTimeout: 3 * time.Second,
		waitTimeout: 10 * time.Second,
	}
	if cfg.LinkPattern != "" {
		h.linkRe, err = regexp.Compile(cfg.LinkPattern)
		if err != nil {
			return nil, fmt.Errorf("site %s: link_pattern: %w", cfg.ID, err)
		}
	}
	return h, nil
}

func (h *BrowserHandler) ID() string {
	return h.cfg.ID
}

func (h *BrowserHandler) Crawl(ctx context.Context, known map[string]struct{}) ([]models.RawRecord, error) {
	s, err := h.launcher.Launch(ctx)
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	defer s.Close()

	var links []string
	seen := make(map[string]struct{})
	for _, start := range h.cfg.StartURLs {
		if err := h.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		if err := s.Goto(start); err != nil {
			return nil, fmt.Errorf("open %s: %w", start, err)
		}
		if dismissed := browser.DismissOverlays(s, consentSelectors, h.findTimeout); len(dismissed) > 0 {
			h.log.Debugf("dismissed consent: %v", dismissed)
		}
		if h.cfg.WaitSelector != "" {
			if _, err := s.Find(h.cfg.WaitSelector, h.waitTimeout); err != nil {
				return nil, fmt.Errorf("wait for results on %s: %w", start, err)
			}
		}

		clicks := h.expand(ctx, s)
		html, err := s.Content()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", start, err)
		}

		found, err := h.parseLinks(html, start)
		if err != nil {
			return nil, err
		}
		for _, l := range found {
			if _, ok := seen[l]; ok {
				continue
			}
			seen[l] = struct{}{}
			links = append(links, l)
		}
		h.log.Infof("%s: %d links after %d load-more clicks", start, len(found), clicks)
	}

	var records []models.RawRecord
	skipped := 0
	for _, link := range links {
		if h.cfg.SkipKnown && isKnown(known, identity.RecordKey(link)) {
			skipped++
			continue
		}
		if err := h.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		rec, err := h.visitDetail(s, link)
		if err != nil {
			h.log.Warnf("detail %s: %v", link, err)
			continue
		}
		records = append(records, rec)
	}

	h.log.WithFields(logrus.Fields{"records": len(records), "skipped_known": skipped}).Info("crawl finished")
	return records, nil
}

// expand clicks the load-more control until it disappears or the page cap
// is reached, and returns the number of clicks.
func (h *BrowserHandler) expand(ctx context.Context, s browser.Session) int {
	if h.cfg.LoadMore == "" {
		return 0
	}
	limit := h.cfg.MaxPages
	if limit <= 0 {
		limit = defaultMaxLoadMore
	}

	clicks := 0
	for clicks < limit {
		if ctx.Err() != nil {
			break
		}
		btn, err := s.Find(h.cfg.LoadMore, h.findTimeout)
		if err != nil {
			break
		}
		if visible, _ := btn.IsVisible(); !visible {
			break
		}
		btn.ScrollIntoView()
		if err := btn.Click(); err != nil {
			if err := btn.DispatchClick(); err != nil {
				h.log.Debugf("load more not clickable: %v", err)
				break
			}
		}
		clicks++
		if err := h.limiter.Wait(ctx); err != nil {
			break
		}
	}
	return clicks
}

func (h *BrowserHandler) visitDetail(s browser.Session, link string) (models.RawRecord, error) {
	if err := s.Goto(link); err != nil {
		return nil, err
	}
	if h.cfg.WaitSelector != "" {
		// A detail page without the marker is still parsed.
		s.Find(h.cfg.WaitSelector, h.waitTimeout)
	}
	html, err := s.Content()
	if err != nil {
		return nil, err
	}
	return h.parseDetail(html, link)
}

func (h *BrowserHandler) parseDetail(html, link string) (models.RawRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}
	base, _ := url.Parse(link)
	rec := extractFields(doc.Selection, h.rules, base)
	rec[h.urlColumn] = link
	return rec, nil
}

// parseLinks collects detail links from a rendered result page. With a
// link pattern, the captured id is substituted into the link template.
func (h *BrowserHandler) parseLinks(html, pageURL string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse result page: %w", err)
	}
	base, _ := url.Parse(pageURL)

	var links []string
	doc.Find(h.cfg.ListSelector).Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		link := absoluteURL(base, href)
		if h.linkRe != nil {
			m := h.linkRe.FindStringSubmatch(href)
			if m == nil {
				return
			}
			id := m[0]
			if len(m) > 1 {
				id = m[1]
			}
			if h.cfg.LinkTemplate != "" {
				rendered, err := services.RenderTemplate(h.cfg.LinkTemplate, map[string]string{"id": id})
				if err != nil {
					return
				}
				link = rendered
			}
		}
		if link != "" {
			links = append(links, link)
		}
	})
	return links, nil
}
