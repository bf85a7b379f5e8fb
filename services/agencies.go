package services

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"rentwatch/identity"
)

// Agency is the contact data of one letting agency.
type Agency struct {
	Name    string `yaml:"-"`
	Email   string `yaml:"email"`
	Address string `yaml:"address"`
}

// AgencyDirectory resolves agency contact data by profile slug, the last
// path segment of the agency page on the listing site.
type AgencyDirectory struct {
	entries map[string]Agency
}

var knownAgencies = map[string]Agency{
	"kempen-o-g-vastgoedbeheer":              {Email: "info@kempen-og.nl", Address: "Geldropseweg 448, 5645 TL EINDHOVEN"},
	"nl-homeservice":                         {Email: "info@nl-homeservice.nl", Address: ""},
	"gohome":                                 {Email: "support@gohome.rent", Address: ""},
	"interhouse-verhuurmakelaars-eindhoven":  {Email: "eindhoven.vh@interhouse.nl", Address: "Tramstraat 21-21, 5611 CM Eindhoven"},
	"w-heeren-makelaardij":                   {Email: "info@wheeren.nl", Address: ""},
	"smart-letting":                          {Email: "info@smartletting.nl", Address: "Nassaustraat 105a, 3601BD MAARSSEN"},
	"kievit-makelaardij":                     {Email: "info@kievitmakelaardij.nl", Address: ""},
	"census-real-estate":                     {Email: "info@censusrealestate.nl", Address: "Bilderdijklaan 23, 5611 NG Eindhoven"},
	"best-intermediair-vastgoed-makelaardij": {Email: "info@bivastgoed.nl", Address: "Valkenswaardseweg 2, 5595 CB Leende, Nederland"},
	"brugvast-makelaardij":                   {Email: "info@brugvast.nl", Address: ""},
	"living-in-holland":                      {Email: "info@livinginholland.eu", Address: ""},
	"regiis":                                 {Email: "maikel@regiis.nl", Address: "Copernicuslaan 323, 5223 EH, ‘s-Hertogenbosch"},
	"stones-housing":                         {Email: "info@stoneshousing.nl", Address: "Leostraat 63, 5644 PB Eindhoven (NL)"},
	"bosscha-makelaardij":                    {Email: "info@bosschamakelaars.nl", Address: "Lindenstraat 48, Haarlem"},
	"liv-housing":                            {Email: "info@livhousing.nl", Address: "Don Boscostraat 4, 5611 KW Eindhoven"},
	"holland2stay":                           {Email: "info@holland2stay.com", Address: ""},
	"dg-vesta":                               {Email: "info@dgvesta.nl", Address: "Nachtegaallaan 8, 5611 CV Eindhoven, Nederland"},
	"tenant-huurwoningen":                    {Email: "info@tenant-huurwoningen.nl", Address: "Aalsterweg 89-B, 5615CB EINDHOVEN"},
	"goeth-vastgoed":                         {Email: "info@goethvastgoed.nl", Address: "Jan smitzlaan 4a, 5611 LE Eindhoven"},
	"dhvc-vastgoed":                          {Email: "info@dhvc.nl", Address: "Aalsterweg 224, 5644 RJ Eindhoven, Nederland"},
	"housing-totaal":                         {Email: "info@housingtotaal.nl", Address: "Hertogstraat 27, 5611 PA Eindhoven"},
	"123wonen-eindhoven":                     {Email: "eindhoven@123wonen.nl", Address: "Croy 7, 5653 LC Eindhoven"},
	"viadaan":                                {Email: "info@viadaan.nl", Address: "Fellenoord 39, Eindhoven 5612 AA"},
	"stoit-groep":                            {Email: "eindhoven@stoit.nl", Address: "De Regent 6, 5611 HW Eindhoven"},
	"my-housing":                             {Email: "info@myhousing.nl", Address: "Geldropseweg 86C, 5611 SK Eindhoven"},
	"huurinc-housing":                        {Email: "info@huurinc.nl", Address: "Wilhelminaplein 15, 5611 HE Eindhoven, Netherlands"},
	"zuid-beheer-b-v":                        {Email: "info@zuidbeheer.nl", Address: "Torenallee 57, 5617 BB Eindhoven"},
	"ki-makelaardij":                         {Email: "contact@ki-makelaardij.nl", Address: "Croy 7c, 5653LC Eindhoven, Nederland"},
	"r56-makelaars-en-huisvesting":           {Email: "info@r56.nl", Address: "Bleekstraat 31, 5611 VB Eindhoven, Nederland"},
	"househunting-eindhoven":                 {Email: "eindhoven@househunting.nl", Address: "Hoogstraat 14, 5611JR Eindhoven"},
	"lemon-suites":                           {Email: "home@lemonsuites.nl", Address: "Torenallee 65, 5617 BB Eindhoven"},
	"lightcity-housing":                      {Email: "info@lightcityhousing.nl", Address: "Leenderweg 36 A, 5615 AA Eindhoven"},
	"brick-vastgoed":                         {Email: "info@brickvastgoed.nl", Address: "Bergstraat 24, 5611 JZ Eindhoven"},
	"friendly-housing":                       {Email: "info@friendlyhousing.nl", Address: "Cassandraplein 55, 5631 BA Eindhoven"},
	"extate-housing":                         {Email: "info@extatehousing.nl", Address: "Woenselse Markt 3, 5612 CP Eindhoven"},
	"rotsvast-eindhoven":                     {Email: "eindhoven@rotsvast.nl", Address: "Willemstraat 14, 5611 HD Eindhoven"},
	"w-en-d-vastgoed":                        {Email: "verhuur@wdvastgoed.nl", Address: "Postbus 96, 5580 AB, Waalre"},
}

// NewAgencyDirectory returns the built-in directory.
func NewAgencyDirectory() *AgencyDirectory {
	d := &AgencyDirectory{entries: make(map[string]Agency, len(knownAgencies))}
	for slug, a := range knownAgencies {
		a.Name = slug
		d.entries[slug] = a
	}
	return d
}

// LoadAgencyDirectory extends the built-in directory with a YAML file of
// slug: {email, address} entries. A missing file is not an error.
func LoadAgencyDirectory(path string) (*AgencyDirectory, error) {
	d := NewAgencyDirectory()
	if path == "" {
		return d, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return d, nil
		}
		return nil, err
	}

	var extra map[string]Agency
	if err := yaml.Unmarshal(data, &extra); err != nil {
		return nil, fmt.Errorf("parse agencies %s: %w", path, err)
	}
	for slug, a := range extra {
		a.Name = slug
		d.entries[strings.ToLower(slug)] = a
	}
	return d, nil
}

// Lookup finds an agency by slug or by full profile URL.
func (d *AgencyDirectory) Lookup(slugOrURL string) (Agency, bool) {
	slug := strings.ToLower(identity.Slug(slugOrURL))
	if slug == "" {
		return Agency{}, false
	}
	a, ok := d.entries[slug]
	if !ok {
		return Agency{Name: slug}, false
	}
	return a, true
}

func (d *AgencyDirectory) Len() int {
	return len(d.entries)
}
