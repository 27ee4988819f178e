// Package registry maps tenant hostnames to their site configuration: the
// upstream feed URL and the display metadata used by the rendered page.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrUnknownSite is returned when a host has no registry entry.
var ErrUnknownSite = errors.New("site not found in registry")

// ErrMissingFeedURL is returned when a host is registered without a feed URL.
var ErrMissingFeedURL = errors.New("missing feed URL")

// Site is one tenant's registry entry.
type Site struct {
	Sheet     Sheet  `json:"sheet"      yaml:"sheet"`
	PageTitle string `json:"page_title" yaml:"page_title"`
	ReturnURL string `json:"return_url" yaml:"return_url" validate:"omitempty,url"`
	SEO       SEO    `json:"seo"        yaml:"seo"`
}

// Sheet locates the spreadsheet-backed JSON feed for a site.
type Sheet struct {
	URL string `json:"url" yaml:"url" validate:"omitempty,http_url"`
}

// SEO holds page metadata.
type SEO struct {
	Title       string `json:"title"       yaml:"title"`
	Description string `json:"description" yaml:"description"`
}

// FeedURL returns the site's upstream feed URL.
func (s Site) FeedURL() string { return s.Sheet.URL }

// Lookup resolves a host to its site configuration.
type Lookup interface {
	Lookup(host string) (Site, error)
}

// Registry is a concurrency-safe, replaceable set of sites keyed by
// lower-cased hostname.
type Registry struct {
	mu    sync.RWMutex
	sites map[string]Site
}

// compile-time check
var _ Lookup = (*Registry)(nil)

// New returns a registry holding sites. Keys are lower-cased.
func New(sites map[string]Site) *Registry {
	r := &Registry{}
	r.Replace(sites)
	return r
}

// Lookup returns the site registered for host. It fails with ErrUnknownSite
// or ErrMissingFeedURL, both wrapped with the host name.
func (r *Registry) Lookup(host string) (Site, error) {
	host = strings.ToLower(host)

	r.mu.RLock()
	site, ok := r.sites[host]
	r.mu.RUnlock()

	if !ok {
		return Site{}, fmt.Errorf("%w for host: %s", ErrUnknownSite, host)
	}
	if site.FeedURL() == "" {
		return Site{}, fmt.Errorf("%w for host: %s", ErrMissingFeedURL, host)
	}
	return site, nil
}

// Hosts returns the registered hostnames in sorted order.
func (r *Registry) Hosts() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.sites))
	for h := range r.sites {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of registered sites.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sites)
}

// Replace swaps the registered sites and returns the hosts that were not
// present before.
func (r *Registry) Replace(sites map[string]Site) []string {
	next := make(map[string]Site, len(sites))
	for h, s := range sites {
		next[strings.ToLower(strings.TrimSpace(h))] = s
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var added []string
	for h := range next {
		if _, ok := r.sites[h]; !ok {
			added = append(added, h)
		}
	}
	sort.Strings(added)
	r.sites = next
	return added
}
