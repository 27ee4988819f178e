package config

// ApplyDefaults sets sensible default values on the given Config.
// Values already set (non-zero) are not overwritten by YAML unmarshalling
// later, so these serve as the baseline configuration.
func ApplyDefaults(cfg *Config) {
	// --- Log ---
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"

	// --- Server ---
	cfg.Server.ListenAddress = ":8080"
	cfg.Server.ReadTimeoutSeconds = 10
	cfg.Server.WriteTimeoutSeconds = 90

	// --- Refresh ---
	cfg.Refresh.Header = "X-Refresh-Key"
	cfg.Refresh.TimeoutSeconds = 60
	cfg.Refresh.StaleAfterMinutes = 120

	// --- Store ---
	cfg.Store.Backend = BackendMemory
	cfg.Store.SQLite.Path = "testimonials.db"

	// --- Feed ---
	cfg.Feed.TimeoutSeconds = 30
	cfg.Feed.MaxRequestsPerSecond = 5
	cfg.Feed.BurstRequestsPerSecond = 10
	cfg.Feed.UserAgent = "testimonials-cache"
	cfg.Feed.MaxBodyBytes = 10 << 20

	// --- Registry ---
	cfg.Registry.Path = "sites.json"
	cfg.Registry.Watch = true
}
