package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Load reads a registry file. Files ending in .yaml or .yml are parsed as
// YAML; anything else as JSON, where comments and trailing commas are allowed.
func Load(path string) (map[string]Site, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading registry file: %w", err)
	}
	return Parse(data, filepath.Ext(path))
}

// Parse decodes registry data in the format implied by ext and validates
// every entry.
func Parse(data []byte, ext string) (map[string]Site, error) {
	sites := make(map[string]Site)

	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &sites); err != nil {
			return nil, fmt.Errorf("parsing registry YAML: %w", err)
		}
	default:
		if err := json.Unmarshal(jsonc.ToJSON(data), &sites); err != nil {
			return nil, fmt.Errorf("parsing registry JSON: %w", err)
		}
	}

	if err := Validate(sites); err != nil {
		return nil, err
	}
	return sites, nil
}

// Validate checks each site's struct tags. A missing feed URL is not a load
// error; it is reported when the site is looked up.
func Validate(sites map[string]Site) error {
	v := validator.New()
	for host, site := range sites {
		if strings.TrimSpace(host) == "" {
			return fmt.Errorf("registry validation failed: empty host name")
		}
		if err := v.Struct(site); err != nil {
			return fmt.Errorf("registry validation failed for %s: %w", host, err)
		}
	}
	return nil
}
