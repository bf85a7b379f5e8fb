package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"sort"
	"strings"

	"rentwatch/models"
)

var multiSpaceRegex = regexp.MustCompile(`\s+`)

// CleanEntry strips the list-literal residue ("['...']") that upstream
// exports leave around scalar values.
func CleanEntry(s string) string {
	return strings.Trim(s, "[]'")
}

// CleanText collapses internal whitespace and trims the result.
func CleanText(s string) string {
	return strings.TrimSpace(multiSpaceRegex.ReplaceAllString(s, " "))
}

// RecordKey is the dedup key of a listing within its site: the cleaned URL.
// An empty key means the record cannot take part in a diff.
func RecordKey(rawURL string) string {
	return strings.TrimSpace(CleanEntry(strings.TrimSpace(rawURL)))
}

// Slug returns the last non-empty path segment of a profile URL, e.g.
// "https://www.pararius.com/real-estate-agents/eindhoven/stones-housing"
// yields "stones-housing".
func Slug(profileURL string) string {
	profileURL = strings.TrimSpace(profileURL)
	if profileURL == "" {
		return ""
	}
	p := profileURL
	if u, err := url.Parse(profileURL); err == nil && u.Path != "" {
		p = u.Path
	}
	p = strings.TrimRight(p, "/")
	if p == "" {
		return ""
	}
	return path.Base(p)
}

// Fingerprint hashes the content of a record so a re-crawled listing can be
// told apart from a changed one.
func Fingerprint(r *models.ListingRecord) string {
	keys := make([]string, 0, len(r.Fields))
	for k := range r.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "%s|%s|%s|%.2f|%s|%s", r.URL, CleanText(r.Title), r.RentPrice, r.Area(), r.AgencyName, r.FormLink)
	for _, k := range keys {
		fmt.Fprintf(&b, "|%s=%s", k, r.Fields[k])
	}
	hash := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(hash[:16])
}
