package models

import (
	"strconv"
	"strings"
	"time"
)

// RawRecord is one row as a crawler saw it: site column name to scraped text.
type RawRecord map[string]string

// ListingRecord is one observed rental listing in the common shape shared by
// every site.
type ListingRecord struct {
	SiteID        string            `json:"site_id" db:"site_id"`
	URL           string            `json:"url" db:"url"`
	Title         string            `json:"title" db:"title"`
	RentPrice     string            `json:"rent_price" db:"rent_price"` // common locale text, "" when absent
	LivingArea    *float64          `json:"living_area" db:"living_area"`
	AgencyName    string            `json:"agency_name" db:"agency_name"`
	AgencyEmail   string            `json:"agency_email" db:"agency_email"`
	AgencyAddress string            `json:"agency_address" db:"agency_address"`
	FormLink      string            `json:"form_link" db:"form_link"`
	Fields        map[string]string `json:"fields" db:"fields"`
	ScrapedAt     time.Time         `json:"scraped_at" db:"scraped_at"`
}

// Template field names available to every notification and motivation text.
const (
	FieldSite          = "Site"
	FieldURL           = "URL"
	FieldTitle         = "Title"
	FieldRentPrice     = "Rent_Price"
	FieldLivingArea    = "Living_Area"
	FieldAgencyName    = "Agency_Name"
	FieldAgencyEmail   = "Agency_Email"
	FieldAgencyAddress = "Agency_Address"
	FieldFormLink      = "Form_link"
)

// Area returns the living area, 0 when unknown.
func (r ListingRecord) Area() float64 {
	if r.LivingArea == nil {
		return 0
	}
	return *r.LivingArea
}

// TemplateData merges the site-specific extras with the standard fields.
// Standard fields win over extras with the same name.
func (r ListingRecord) TemplateData() map[string]string {
	data := make(map[string]string, len(r.Fields)+9)
	for k, v := range r.Fields {
		data[k] = v
	}
	data[FieldSite] = r.SiteID
	data[FieldURL] = r.URL
	data[FieldTitle] = r.Title
	data[FieldRentPrice] = r.RentPrice
	data[FieldLivingArea] = ""
	if r.LivingArea != nil {
		data[FieldLivingArea] = strconv.FormatFloat(*r.LivingArea, 'f', -1, 64)
	}
	data[FieldAgencyName] = r.AgencyName
	data[FieldAgencyEmail] = r.AgencyEmail
	data[FieldAgencyAddress] = r.AgencyAddress
	data[FieldFormLink] = r.FormLink
	return data
}

// HasAgencyEmail reports whether a usable contact address was resolved.
func (r ListingRecord) HasAgencyEmail() bool {
	return strings.Contains(strings.TrimSpace(r.AgencyEmail), "@")
}

// FilterCriteria are the acceptance thresholds of one filter profile.
// Both bounds are inclusive.
type FilterCriteria struct {
	MaxRentPrice  float64 `yaml:"max_rent_price" validate:"gte=0"`
	MinLivingArea float64 `yaml:"min_living_area" validate:"gte=0"`
}
