package render

import (
	"encoding/json"
	"fmt"
)

type schemaPerson struct {
	Type string `json:"@type"`
	Name string `json:"name"`
}

type schemaReview struct {
	Type          string       `json:"@type"`
	ID            string       `json:"@id"`
	ReviewBody    string       `json:"reviewBody"`
	Author        schemaPerson `json:"author"`
	DatePublished string       `json:"datePublished"`
}

type schemaListItem struct {
	Type     string       `json:"@type"`
	Position int          `json:"position"`
	Item     schemaReview `json:"item"`
}

type schemaItemList struct {
	Type            string           `json:"@type"`
	ItemListElement []schemaListItem `json:"itemListElement"`
}

type schemaPage struct {
	Context     string         `json:"@context"`
	Type        []string       `json:"@type"`
	Name        string         `json:"name"`
	URL         string         `json:"url"`
	Description string         `json:"description"`
	MainEntity  schemaItemList `json:"mainEntity"`
}

// SchemaJSON builds the schema.org JSON-LD for the page. Testimonials
// without text or a name are left out; positions follow the page order. The
// output escapes '<', '>' and '&' so it is safe inside a script element.
func SchemaJSON(name, url, description string, items []Testimonial) (string, error) {
	page := schemaPage{
		Context:     "https://schema.org",
		Type:        []string{"WebPage", "CollectionPage"},
		Name:        name,
		URL:         url,
		Description: description,
		MainEntity: schemaItemList{
			Type:            "ItemList",
			ItemListElement: []schemaListItem{},
		},
	}

	for i, t := range items {
		if t.Text == "" || t.Name == "" {
			continue
		}
		page.MainEntity.ItemListElement = append(page.MainEntity.ItemListElement, schemaListItem{
			Type:     "ListItem",
			Position: i + 1,
			Item: schemaReview{
				Type:          "Review",
				ID:            fmt.Sprintf("#testimonial-%d", i),
				ReviewBody:    t.Text,
				Author:        schemaPerson{Type: "Person", Name: t.Name},
				DatePublished: t.Date,
			},
		})
	}

	b, err := json.Marshal(page)
	if err != nil {
		return "", fmt.Errorf("encoding JSON-LD: %w", err)
	}
	return string(b), nil
}
