package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write registry: %v", err)
	}
	return p
}

const sitesJSON = `{
  // production site
  "Testimonials.Example.com": {
    "sheet": { "url": "https://script.example.com/exec?id=1" },
    "page_title": "What members say",
    "return_url": "https://forum.example.com",
    "seo": { "title": "Testimonials", "description": "Member testimonials" },
  },
  "nofeed.example.com": { "page_title": "No feed" }
}`

func TestLoad_JSONWithComments(t *testing.T) {
	sites, err := Load(writeFile(t, "sites.json", sitesJSON))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	r := New(sites)

	site, err := r.Lookup("testimonials.example.com")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if site.FeedURL() != "https://script.example.com/exec?id=1" {
		t.Errorf("FeedURL: got %q", site.FeedURL())
	}
	if site.PageTitle != "What members say" || site.SEO.Title != "Testimonials" {
		t.Errorf("display metadata: got %+v", site)
	}
	if got := r.Hosts(); len(got) != 2 || got[1] != "testimonials.example.com" {
		t.Errorf("Hosts: got %v", got)
	}
}

func TestLoad_YAML(t *testing.T) {
	p := writeFile(t, "sites.yaml", `
a.example.com:
  sheet:
    url: https://feed.example.com/a
  page_title: A
`)
	sites, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if sites["a.example.com"].FeedURL() != "https://feed.example.com/a" {
		t.Errorf("FeedURL: got %q", sites["a.example.com"].FeedURL())
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"bad json":       `{"a": `,
		"bad feed url":   `{"a.example.com": {"sheet": {"url": "not a url"}}}`,
		"bad return url": `{"a.example.com": {"sheet": {"url": "https://x.example.com"}, "return_url": "::"}}`,
		"empty host":     `{"": {"sheet": {"url": "https://x.example.com"}}}`,
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeFile(t, "sites.json", content)); err == nil {
				t.Error("Load: expected error")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("Load: expected error for missing file")
	}
}

func TestLookup_Errors(t *testing.T) {
	sites, err := Parse([]byte(sitesJSON), ".json")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	r := New(sites)

	if _, err := r.Lookup("unknown.example.com"); !errors.Is(err, ErrUnknownSite) {
		t.Errorf("unknown host: got %v, want ErrUnknownSite", err)
	}
	if _, err := r.Lookup("nofeed.example.com"); !errors.Is(err, ErrMissingFeedURL) {
		t.Errorf("no feed: got %v, want ErrMissingFeedURL", err)
	}
}

func TestReplace_ReportsAdded(t *testing.T) {
	r := New(map[string]Site{"a": {}, "b": {}})
	added := r.Replace(map[string]Site{"b": {}, "C": {}})
	if len(added) != 1 || added[0] != "c" {
		t.Errorf("added: got %v, want [c]", added)
	}
	if r.Len() != 2 {
		t.Errorf("Len: got %d, want 2", r.Len())
	}
	if _, err := r.Lookup("a"); !errors.Is(err, ErrUnknownSite) {
		t.Errorf("removed host still resolves: %v", err)
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	p := writeFile(t, "sites.json", `{"a.example.com": {"sheet": {"url": "https://feed.example.com/a"}}}`)
	sites, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	r := New(sites)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addedCh := make(chan []string, 1)
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	go func() {
		_ = Watch(ctx, p, r, func(h []string) { addedCh <- h }, logrus.NewEntry(logger))
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	next := `{"a.example.com": {"sheet": {"url": "https://feed.example.com/a"}},
	          "b.example.com": {"sheet": {"url": "https://feed.example.com/b"}}}`
	if err := os.WriteFile(p, []byte(next), 0o600); err != nil {
		t.Fatalf("rewrite registry: %v", err)
	}

	select {
	case added := <-addedCh:
		if len(added) != 1 || added[0] != "b.example.com" {
			t.Errorf("added: got %v, want [b.example.com]", added)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for registry reload")
	}
	if _, err := r.Lookup("b.example.com"); err != nil {
		t.Errorf("Lookup after reload: %v", err)
	}
}
