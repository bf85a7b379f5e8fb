package services

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"rentwatch/identity"
	"rentwatch/models"
)

// Normalizer kinds a site can select in its config.
const (
	KindPararius        = "pararius"
	KindHunting         = "hunting"
	KindFriendlyHousing = "friendlyhousing"
	KindRotsvast        = "rotsvast"
	KindExtate          = "extate"
	KindLightcity       = "lightcity"
	KindGeneric         = "generic"
)

// siteMapping describes how one site's columns map onto a ListingRecord.
type siteMapping struct {
	url, title, price, area string
	locale                  Locale
	// columns are the site's own column names; a row carrying one of them
	// as a value is a header row leaked by the exporter.
	columns []string
	renames map[string]string
	// agencySlug stamps a fixed agency; agencyLink names the column holding
	// the agency profile URL instead.
	agencySlug string
	agencyLink string
	cleanTitle func(string) string
	rentalAPI  bool
}

var mappings = map[string]siteMapping{
	KindPararius: {
		url: "URL", title: "Title", price: "Rent_Price", area: "Living_Area",
		locale: LocaleEN,
		columns: []string{
			"Agency_Link", "Available_From", "Balcony", "Construction_Type", "Construction_Year",
			"Contract_Type", "Deposit", "Description", "Energy_Rating", "Facilities", "Form_link", "Garage_Present",
			"Garden", "House_Type", "Interior", "Latitude", "Living_Area", "Location", "Longitude",
			"Number_of_Bathrooms", "Number_of_Floors", "Number_of_Rooms", "Offered_Since",
			"Parking_Present", "Parking_Type", "Pets_Allowed", "Rent_Price", "Service_Costs",
			"Shed_Storeroom", "Smoking_Allowed", "Status", "Title", "URL", "Upkeep",
		},
		agencyLink: "Agency_Link",
		cleanTitle: func(s string) string {
			return strings.TrimSpace(strings.ReplaceAll(s, "For rent:", ""))
		},
	},
	KindHunting: {
		url: "url", title: "title", price: "price", area: "surface",
		locale: LocaleEU,
		columns: []string{
			"available_from", "bathrooms", "bedrooms", "deposit", "description", "energy_label",
			"gas_water_electricity_included", "interior", "location", "minimal_rent_period", "minimum_income",
			"pets", "price", "roof_terrace", "rooms", "scraped_at", "service_costs", "smoking", "surface",
			"title", "toilets", "url",
		},
		renames:    map[string]string{"rooms": "Number_of_Rooms"},
		agencySlug: "househunting-eindhoven",
	},
	KindFriendlyHousing: {
		url: "URL", title: "Title", price: "Price", area: "Surface_area",
		locale: LocaleEU,
		columns: []string{
			"Available_from", "Base_rent", "City", "Deposit", "Description", "Dwelling_type", "Energy_label",
			"Furnished", "Income_requirement", "Location", "Maximum_occupancy", "Minimum_rental_period",
			"Number_of_bedrooms", "Number_of_rooms", "Postal_code", "Price", "Price_including_GWL",
			"Service_costs", "Surface_area", "Title", "Total_rent", "URL", "Utilities_included",
		},
		renames:    map[string]string{"Number_of_rooms": "Number_of_Rooms"},
		agencySlug: "friendly-housing",
	},
	KindRotsvast: {
		url: "URL", title: "Title", price: "Rent_Price", area: "Floor_Area",
		locale: LocaleEU,
		columns: []string{
			"Agency_Link", "Bedrooms", "Deposit", "Description", "Energy_Label", "Floor_Area", "Interior",
			"Latitude", "Location", "Longitude", "Other_Costs", "Pets", "Rent_Price", "Rooms", "Service_Costs",
			"Smoking", "Start_Date", "Title", "Total_Rent", "Transfer_Costs", "Type", "URL", "Utilities",
		},
		renames:    map[string]string{"Rooms": "Number_of_Rooms"},
		agencySlug: "rotsvast-eindhoven",
		cleanTitle: func(s string) string {
			return strings.TrimSpace(strings.ReplaceAll(s, "?", ""))
		},
	},
	KindExtate: {
		url: "url", title: "", price: "rentalsPrice", area: "livingSurface",
		locale:     LocaleEN,
		renames:    map[string]string{"rooms": "Number_of_Rooms"},
		agencySlug: "extate-housing",
		rentalAPI:  true,
	},
	KindLightcity: {
		url: "url", title: "", price: "rentalsPrice", area: "livingSurface",
		locale:     LocaleEN,
		renames:    map[string]string{"rooms": "Number_of_Rooms"},
		agencySlug: "lightcity-housing",
		rentalAPI:  true,
	},
	KindGeneric: {
		url: models.FieldURL, title: models.FieldTitle, price: models.FieldRentPrice, area: models.FieldLivingArea,
		locale: LocaleEU,
	},
}

// SupportedKinds lists the normalizer names a site may use.
func SupportedKinds() []string {
	kinds := make([]string, 0, len(mappings))
	for k := range mappings {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// URLColumn is the raw column a crawler must fill with the listing URL for
// sites normalized with kind.
func URLColumn(kind string) string {
	if m, ok := mappings[kind]; ok {
		return m.url
	}
	return models.FieldURL
}

type siteRule struct {
	mapping siteMapping
	city    string
}

// Normalizer maps raw site rows onto ListingRecords. Each site is bound to
// one mapping through Register.
type Normalizer struct {
	agencies *AgencyDirectory
	sites    map[string]siteRule
	now      func() time.Time
}

func NewNormalizer(agencies *AgencyDirectory) *Normalizer {
	if agencies == nil {
		agencies = NewAgencyDirectory()
	}
	return &Normalizer{
		agencies: agencies,
		sites:    make(map[string]siteRule),
		now:      time.Now,
	}
}

// Register binds siteID to a normalizer kind. city restricts rental API
// rows to one city; empty keeps every city.
func (n *Normalizer) Register(siteID, kind, city string) error {
	m, ok := mappings[kind]
	if !ok {
		return fmt.Errorf("unknown normalizer %q for site %s (supported: %s)", kind, siteID, strings.Join(SupportedKinds(), ", "))
	}
	n.sites[siteID] = siteRule{mapping: m, city: city}
	return nil
}

// Normalize maps one raw row. The second return is false when the row must
// be dropped: a leaked header row, or a rental API row that is not an
// active rental in the configured city. Unregistered sites use the generic
// mapping.
func (n *Normalizer) Normalize(siteID string, raw models.RawRecord) (models.ListingRecord, bool) {
	rule, ok := n.sites[siteID]
	if !ok {
		rule = siteRule{mapping: mappings[KindGeneric]}
	}
	m := rule.mapping

	clean := make(map[string]string, len(raw))
	for k, v := range raw {
		clean[k] = identity.CleanEntry(strings.TrimSpace(v))
	}

	if isPlaceholder(clean, m.columns) {
		return models.ListingRecord{}, false
	}

	if m.rentalAPI {
		if !strings.EqualFold(clean["isRentals"], "true") {
			return models.ListingRecord{}, false
		}
		if rule.city != "" && !strings.EqualFold(clean["city"], rule.city) {
			return models.ListingRecord{}, false
		}
	}

	rec := models.ListingRecord{
		SiteID:    siteID,
		URL:       identity.RecordKey(clean[m.url]),
		RentPrice: ConvertLocale(clean[m.price], m.locale),
		Fields:    make(map[string]string),
		ScrapedAt: n.now(),
	}

	if m.rentalAPI {
		rec.Title = fmt.Sprintf("%s, %s in %s", clean["address"], clean["zipcode"], clean["city"])
	} else {
		rec.Title = identity.CleanText(clean[m.title])
	}
	if m.cleanTitle != nil {
		rec.Title = m.cleanTitle(rec.Title)
	}

	if v, ok := ParseNumber(clean[m.area], m.locale); ok {
		rec.LivingArea = &v
	}

	consumed := map[string]bool{m.url: true, m.title: true, m.price: true, m.area: true}
	for _, k := range []string{models.FieldAgencyName, models.FieldAgencyEmail, models.FieldAgencyAddress, models.FieldFormLink} {
		consumed[k] = true
	}

	rec.FormLink = clean[models.FieldFormLink]
	n.stampAgency(&rec, m, clean)

	for k, v := range clean {
		if consumed[k] {
			continue
		}
		if renamed, ok := m.renames[k]; ok {
			k = renamed
		}
		rec.Fields[k] = v
	}
	return rec, true
}

func (n *Normalizer) stampAgency(rec *models.ListingRecord, m siteMapping, clean map[string]string) {
	switch {
	case m.agencySlug != "":
		a, _ := n.agencies.Lookup(m.agencySlug)
		rec.AgencyName = m.agencySlug
		rec.AgencyEmail = a.Email
		rec.AgencyAddress = a.Address
	case m.agencyLink != "":
		slug := identity.Slug(clean[m.agencyLink])
		rec.AgencyName = slug
		if a, ok := n.agencies.Lookup(slug); ok {
			rec.AgencyEmail = a.Email
			rec.AgencyAddress = a.Address
		}
	default:
		rec.AgencyName = clean[models.FieldAgencyName]
		rec.AgencyEmail = clean[models.FieldAgencyEmail]
		rec.AgencyAddress = clean[models.FieldAgencyAddress]
	}
}

// NormalizeBatch maps a whole crawl and reports how many rows were dropped.
func (n *Normalizer) NormalizeBatch(siteID string, raws []models.RawRecord) ([]models.ListingRecord, int) {
	out := make([]models.ListingRecord, 0, len(raws))
	dropped := 0
	for _, raw := range raws {
		rec, ok := n.Normalize(siteID, raw)
		if !ok {
			dropped++
			continue
		}
		out = append(out, rec)
	}
	return out, dropped
}

func isPlaceholder(clean map[string]string, columns []string) bool {
	names := make(map[string]struct{}, len(clean)+len(columns))
	for k := range clean {
		names[k] = struct{}{}
	}
	for _, c := range columns {
		names[c] = struct{}{}
	}
	for _, v := range clean {
		if v == "" {
			continue
		}
		if _, ok := names[v]; ok {
			return true
		}
	}
	return false
}
