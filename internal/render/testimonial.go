package render

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Field-name variants accepted from the spreadsheet. The first non-empty
// variant wins.
var (
	textFields       = []string{"testimonial", "Testimonial"}
	nameFields       = []string{"name", "Name"}
	dateFields       = []string{"date", "Date"}
	visibilityFields = []string{"Show/Hide", "show_hide"}
)

// Testimonial is a record with its loosely-cased fields resolved.
type Testimonial struct {
	Text    string
	Name    string
	Date    string
	Visible bool
	// When is the parsed Date, zero when Date is empty or unparseable.
	When time.Time
}

// FormattedDate renders Date as "January 2, 2006" when it parses and
// returns it unchanged otherwise.
func (t Testimonial) FormattedDate() string {
	if t.When.IsZero() {
		return t.Date
	}
	return t.When.Format("January 2, 2006")
}

// Parse resolves a raw record. Records that are not JSON objects resolve to
// an empty, hidden Testimonial.
func Parse(raw json.RawMessage) Testimonial {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Testimonial{}
	}
	t := Testimonial{
		Text: pick(fields, textFields),
		Name: pick(fields, nameFields),
		Date: pick(fields, dateFields),
	}
	t.Visible = strings.ToLower(strings.TrimSpace(pick(fields, visibilityFields))) == "show"
	t.When = parseDate(t.Date)
	return t
}

// Visible resolves records, keeps those marked "Show" and sorts them newest
// first. Undated records sort last, in their original order.
func Visible(records []json.RawMessage) []Testimonial {
	out := make([]Testimonial, 0, len(records))
	for _, r := range records {
		if t := Parse(r); t.Visible {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].When.After(out[j].When)
	})
	return out
}

func pick(fields map[string]any, names []string) string {
	for _, n := range names {
		if s := stringify(fields[n]); s != "" {
			return s
		}
	}
	return ""
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		if t {
			return "true"
		}
		return ""
	default:
		return ""
	}
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	time.DateOnly,
	"1/2/2006",
	"1/2/2006 15:04:05",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	time.RFC1123,
	time.RFC1123Z,
}

func parseDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
