package services

import (
	"fmt"
	"io"
	"os"

	"github.com/valyala/fasttemplate"

	"rentwatch/models"
)

// SummaryTemplate is the body sent to the default receiver.
const SummaryTemplate = `New property listing from {Agency_Name}!

Title: {Title}
Price: €{Rent_Price}
Surface: {Living_Area} m²
Rooms: {Number_of_Rooms}

Check full details: {URL}`

// RenderTemplate substitutes every {Field_Name} tag with the record value.
// Unknown fields render as the empty string.
func RenderTemplate(tmpl string, data map[string]string) (string, error) {
	return fasttemplate.ExecuteFuncStringWithErr(tmpl, "{", "}", func(w io.Writer, tag string) (int, error) {
		return w.Write([]byte(data[tag]))
	})
}

// RenderRecord renders tmpl against a listing.
func RenderRecord(tmpl string, r models.ListingRecord) (string, error) {
	return RenderTemplate(tmpl, r.TemplateData())
}

// LoadTemplate reads a template file. It is called at the point of use so an
// edited file takes effect on the next send.
func LoadTemplate(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("template path not configured")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read template: %w", err)
	}
	return string(data), nil
}
