// Package render builds the public testimonials page for a tenant from its
// cached snapshot.
package render

import (
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io"

	"github.com/testimonials-cache/testimonials-cache/internal/clock"
	"github.com/testimonials-cache/testimonials-cache/internal/registry"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

//go:embed templates/styles.css
var stylesheet []byte

// Stylesheet returns the CSS served alongside every page.
func Stylesheet() []byte { return stylesheet }

// Brand holds the site-wide chrome shared by every tenant page.
type Brand struct {
	Name          string
	URL           string
	LogoURL       string
	StylesheetURL string
}

// DefaultBrand is used for fields left empty in configuration.
var DefaultBrand = Brand{
	Name:          "The Mineral Rights Forum",
	URL:           "https://www.mineralrightsforum.com",
	LogoURL:       "https://www.mineralrightsforum.com/uploads/db5755/original/3X/7/7/7710a47c9cd8492b1935dd3b8d80584938456dd4.jpeg",
	StylesheetURL: "/styles.css",
}

// Renderer renders tenant pages. It is safe for concurrent use.
type Renderer struct {
	tmpl  *template.Template
	brand Brand
	clock clock.Clock
}

// New parses the embedded templates. Empty Brand fields fall back to
// DefaultBrand.
func New(brand Brand, c clock.Clock) (*Renderer, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parsing page templates: %w", err)
	}
	if brand.Name == "" {
		brand.Name = DefaultBrand.Name
	}
	if brand.URL == "" {
		brand.URL = DefaultBrand.URL
	}
	if brand.LogoURL == "" {
		brand.LogoURL = DefaultBrand.LogoURL
	}
	if brand.StylesheetURL == "" {
		brand.StylesheetURL = DefaultBrand.StylesheetURL
	}
	return &Renderer{tmpl: tmpl, brand: brand, clock: c}, nil
}

type pageData struct {
	Brand        Brand
	Title        string
	Description  string
	PageURL      string
	Heading      string
	ReturnURL    string
	Testimonials []Testimonial
	Schema       template.JS
	Year         int
}

// Page writes the full HTML page for host.
func (r *Renderer) Page(w io.Writer, host string, site registry.Site, records []json.RawMessage) error {
	visible := Visible(records)
	pageURL := "https://" + host + "/"

	data := pageData{
		Brand:        r.brand,
		Title:        orDefault(site.SEO.Title, "Testimonials"),
		Description:  site.SEO.Description,
		PageURL:      pageURL,
		Heading:      orDefault(site.PageTitle, "Testimonials"),
		ReturnURL:    orDefault(site.ReturnURL, r.brand.URL),
		Testimonials: visible,
		Year:         r.clock.Now().Year(),
	}

	schema, err := SchemaJSON(data.Title, pageURL, data.Description, visible)
	if err != nil {
		return err
	}
	data.Schema = template.JS(schema)

	return r.tmpl.ExecuteTemplate(w, "page.html.tmpl", data)
}

// Message writes a minimal page carrying a heading and detail text, used for
// configuration errors and the "no data yet" state.
func (r *Renderer) Message(w io.Writer, heading, detail string) error {
	return r.tmpl.ExecuteTemplate(w, "message.html.tmpl", map[string]string{
		"Heading": heading,
		"Detail":  detail,
	})
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
