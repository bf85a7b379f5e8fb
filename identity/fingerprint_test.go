package identity

import (
	"testing"

	"rentwatch/models"
)

func TestCleanEntry(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"['https://example.com/a']", "https://example.com/a"},
		{"plain", "plain"},
		{"", ""},
		{"[]", ""},
	}
	for _, tt := range tests {
		if got := CleanEntry(tt.in); got != tt.want {
			t.Errorf("CleanEntry(%q) = %q; want %q", tt.in, got, tt.want)
		}
	}
}

func TestSlug(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://www.pararius.com/real-estate-agents/eindhoven/stones-housing", "stones-housing"},
		{"https://www.pararius.com/real-estate-agents/eindhoven/stones-housing/", "stones-housing"},
		{"/real-estate-agents/eindhoven/regiis", "regiis"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Slug(tt.in); got != tt.want {
			t.Errorf("Slug(%q) = %q; want %q", tt.in, got, tt.want)
		}
	}
}

func TestFingerprintChangesWithContent(t *testing.T) {
	area := 30.0
	a := models.ListingRecord{URL: "u", Title: "Flat", RentPrice: "650,00", LivingArea: &area}
	b := a
	if Fingerprint(&a) != Fingerprint(&b) {
		t.Fatalf("identical records must share a fingerprint")
	}
	b.RentPrice = "700,00"
	if Fingerprint(&a) == Fingerprint(&b) {
		t.Fatalf("price change must alter the fingerprint")
	}
}
