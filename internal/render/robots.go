package render

import "fmt"

// Robots returns the robots.txt body for host, allowing everything and
// pointing crawlers at the host's sitemap.
func Robots(host string) string {
	return fmt.Sprintf("User-agent: *\nAllow: /\n\nSitemap: https://%s/sitemap.xml\n", host)
}
