package services

import (
	"strings"
	"testing"

	"rentwatch/models"
)

func newTestNormalizer(t *testing.T) *Normalizer {
	t.Helper()
	n := NewNormalizer(nil)
	sites := map[string][2]string{
		"pararius":        {KindPararius, ""},
		"hunting":         {KindHunting, ""},
		"friendlyhousing": {KindFriendlyHousing, ""},
		"rotsvast":        {KindRotsvast, ""},
		"extate":          {KindExtate, "Eindhoven"},
		"lightcity":       {KindLightcity, "Eindhoven"},
	}
	for id, s := range sites {
		if err := n.Register(id, s[0], s[1]); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}
	return n
}

func TestNormalizePararius(t *testing.T) {
	n := newTestNormalizer(t)
	raw := models.RawRecord{
		"URL":             "['https://www.pararius.com/apartment-for-rent/eindhoven/abc/street']",
		"Title":           "For rent: Flat Street 1",
		"Rent_Price":      "1,250",
		"Living_Area":     "45",
		"Agency_Link":     "https://www.pararius.com/real-estate-agents/eindhoven/stones-housing",
		"Form_link":       "https://www.pararius.com/contact/abc",
		"Number_of_Rooms": "2",
	}
	rec, ok := n.Normalize("pararius", raw)
	if !ok {
		t.Fatal("expected record to be kept")
	}
	if rec.URL != "https://www.pararius.com/apartment-for-rent/eindhoven/abc/street" {
		t.Errorf("url not cleaned: %q", rec.URL)
	}
	if rec.Title != "Flat Street 1" {
		t.Errorf("title prefix not stripped: %q", rec.Title)
	}
	if rec.RentPrice != "1.250,00" {
		t.Errorf("price not converted to common locale: %q", rec.RentPrice)
	}
	if rec.Area() != 45 {
		t.Errorf("area = %v", rec.Area())
	}
	if rec.AgencyName != "stones-housing" || rec.AgencyEmail != "info@stoneshousing.nl" {
		t.Errorf("agency not resolved: %q %q", rec.AgencyName, rec.AgencyEmail)
	}
	if rec.FormLink != "https://www.pararius.com/contact/abc" {
		t.Errorf("form link = %q", rec.FormLink)
	}
	if rec.Fields["Number_of_Rooms"] != "2" {
		t.Errorf("extras lost: %v", rec.Fields)
	}
}

func TestNormalizeParariusUnknownAgency(t *testing.T) {
	n := newTestNormalizer(t)
	rec, ok := n.Normalize("pararius", models.RawRecord{
		"URL":         "https://www.pararius.com/x",
		"Agency_Link": "https://www.pararius.com/real-estate-agents/eindhoven/nobody-knows",
	})
	if !ok {
		t.Fatal("expected record to be kept")
	}
	if rec.AgencyName != "nobody-knows" || rec.AgencyEmail != "" {
		t.Fatalf("unexpected agency %q %q", rec.AgencyName, rec.AgencyEmail)
	}
	if rec.HasAgencyEmail() {
		t.Fatal("record must not claim an agency email")
	}
}

func TestNormalizeDropsPlaceholderRows(t *testing.T) {
	n := newTestNormalizer(t)
	raw := models.RawRecord{"URL": "URL", "Title": "Title", "Rent_Price": "Rent_Price"}
	if _, ok := n.Normalize("pararius", raw); ok {
		t.Fatal("header row must be dropped")
	}
	raw = models.RawRecord{"URL": "https://x/1", "Title": "Flat", "Deposit": "Deposit"}
	if _, ok := n.Normalize("pararius", raw); ok {
		t.Fatal("row with any column name as value must be dropped")
	}
}

func TestNormalizeStaticAgencies(t *testing.T) {
	n := newTestNormalizer(t)
	tests := []struct {
		site  string
		raw   models.RawRecord
		email string
		price string
		area  float64
		title string
	}{
		{
			site:  "hunting",
			raw:   models.RawRecord{"url": "https://househunting.nl/woningaanbod/h1-a/", "title": "Street 2", "price": "650", "surface": "30", "rooms": "2"},
			email: "eindhoven@househunting.nl", price: "650,00", area: 30, title: "Street 2",
		},
		{
			site:  "friendlyhousing",
			raw:   models.RawRecord{"URL": "https://friendlyhousing.nl/x", "Title": "Room", "Price": "€ 595,00", "Surface_area": "14", "Number_of_rooms": "1"},
			email: "info@friendlyhousing.nl", price: "595,00", area: 14, title: "Room",
		},
		{
			site:  "rotsvast",
			raw:   models.RawRecord{"URL": "https://www.rotsvast.nl/y", "Title": "Studio ?Centre", "Rent_Price": "1.050,00", "Floor_Area": "40", "Rooms": "2"},
			email: "eindhoven@rotsvast.nl", price: "1.050,00", area: 40, title: "Studio Centre",
		},
	}
	for _, tt := range tests {
		rec, ok := n.Normalize(tt.site, tt.raw)
		if !ok {
			t.Errorf("%s: record dropped", tt.site)
			continue
		}
		if rec.AgencyEmail != tt.email {
			t.Errorf("%s: agency email %q; want %q", tt.site, rec.AgencyEmail, tt.email)
		}
		if rec.RentPrice != tt.price {
			t.Errorf("%s: price %q; want %q", tt.site, rec.RentPrice, tt.price)
		}
		if rec.Area() != tt.area {
			t.Errorf("%s: area %v; want %v", tt.site, rec.Area(), tt.area)
		}
		if rec.Title != tt.title {
			t.Errorf("%s: title %q; want %q", tt.site, rec.Title, tt.title)
		}
		if rec.Fields["Number_of_Rooms"] == "" {
			t.Errorf("%s: rooms not renamed: %v", tt.site, rec.Fields)
		}
	}
}

func TestNormalizeRentalAPI(t *testing.T) {
	n := newTestNormalizer(t)
	rows := []models.RawRecord{
		{"url": "https://extate/1", "isRentals": "true", "city": "Eindhoven", "address": "Street 3", "zipcode": "5612 AB", "rentalsPrice": "675", "livingSurface": "32.5"},
		{"url": "https://extate/2", "isRentals": "false", "city": "Eindhoven", "address": "Sold 1", "zipcode": "5612 AB"},
		{"url": "https://extate/3", "isRentals": "true", "city": "Utrecht", "address": "Far 1", "zipcode": "3511 AA"},
	}
	out, dropped := n.NormalizeBatch("extate", rows)
	if len(out) != 1 || dropped != 2 {
		t.Fatalf("expected 1 kept and 2 dropped, got %d and %d", len(out), dropped)
	}
	rec := out[0]
	if rec.Title != "Street 3, 5612 AB in Eindhoven" {
		t.Errorf("title = %q", rec.Title)
	}
	if rec.RentPrice != "675,00" || rec.Area() != 32.5 {
		t.Errorf("price/area = %q / %v", rec.RentPrice, rec.Area())
	}
	if rec.AgencyName != "extate-housing" || rec.AgencyAddress != "Woenselse Markt 3, 5612 CP Eindhoven" {
		t.Errorf("agency = %q / %q", rec.AgencyName, rec.AgencyAddress)
	}
}

func TestNormalizeThenDiffRoundTrip(t *testing.T) {
	n := newTestNormalizer(t)
	raws := []models.RawRecord{
		{"URL": "https://p/1", "Title": "A", "Rent_Price": "600"},
		{"URL": "https://p/2", "Title": "B", "Rent_Price": "650"},
		{"URL": "https://p/1", "Title": "A again", "Rent_Price": "600"},
	}
	batch, _ := n.NormalizeBatch("pararius", raws)

	stored := KnownSet(batch)
	if got := Diff(batch, stored); len(got) != 0 {
		t.Fatalf("re-diffing a stored batch must be empty, got %v", urls(got))
	}
	fresh := Diff(batch, nil)
	if len(fresh) != 2 {
		t.Fatalf("expected 2 distinct records, got %d", len(fresh))
	}
}

func TestRegisterUnknownKind(t *testing.T) {
	n := NewNormalizer(nil)
	err := n.Register("x", "nope", "")
	if err == nil {
		t.Fatal("expected error for unknown normalizer")
	}
	for _, kind := range []string{KindPararius, KindExtate, KindGeneric} {
		if !strings.Contains(err.Error(), kind) {
			t.Errorf("error %q should list supported kind %s", err, kind)
		}
	}
	if err := n.Register("x", KindRotsvast, "Eindhoven"); err != nil {
		t.Fatalf("Register: %v", err)
	}
}
