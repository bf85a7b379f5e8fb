package services

import (
	"rentwatch/identity"
	"rentwatch/models"
)

// Diff returns the records of batch whose URL is not in known, in batch
// order. Records without a URL are skipped and a URL seen twice in the batch
// is emitted once, first occurrence wins.
func Diff(batch []models.ListingRecord, known map[string]struct{}) []models.ListingRecord {
	seen := make(map[string]struct{}, len(batch))
	var fresh []models.ListingRecord
	for _, r := range batch {
		key := identity.RecordKey(r.URL)
		if key == "" {
			continue
		}
		if _, ok := known[key]; ok {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		fresh = append(fresh, r)
	}
	return fresh
}

// KnownSet builds the URL key set of stored records.
func KnownSet(records []models.ListingRecord) map[string]struct{} {
	known := make(map[string]struct{}, len(records))
	for _, r := range records {
		if key := identity.RecordKey(r.URL); key != "" {
			known[key] = struct{}{}
		}
	}
	return known
}

// MissingURLs counts records that cannot take part in a diff.
func MissingURLs(batch []models.ListingRecord) int {
	n := 0
	for _, r := range batch {
		if identity.RecordKey(r.URL) == "" {
			n++
		}
	}
	return n
}
