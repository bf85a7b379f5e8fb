package services

import "rentwatch/models"

// Filter keeps the records whose rent is at most criteria.MaxRentPrice and
// whose living area is at least criteria.MinLivingArea. A record without a
// parseable rent never passes. Order is preserved.
func Filter(records []models.ListingRecord, criteria models.FilterCriteria) []models.ListingRecord {
	var out []models.ListingRecord
	for _, r := range records {
		if Matches(r, criteria) {
			out = append(out, r)
		}
	}
	return out
}

// Matches applies the filter rule to a single record.
func Matches(r models.ListingRecord, criteria models.FilterCriteria) bool {
	price, ok := ParseLocaleNumber(r.RentPrice)
	if !ok {
		return false
	}
	return price <= criteria.MaxRentPrice && r.Area() >= criteria.MinLivingArea
}
