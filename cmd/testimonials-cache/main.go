// Package main is the CLI entry point for testimonials-cache.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"

	"github.com/testimonials-cache/testimonials-cache/internal/app"
	"github.com/testimonials-cache/testimonials-cache/internal/config"
	"github.com/testimonials-cache/testimonials-cache/internal/registry"
)

// Build-time variables set via -ldflags.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	cmd := &cli.Command{
		Name:    "testimonials-cache",
		Usage:   "Multi-tenant cache and page server for spreadsheet-backed testimonials",
		Version: version,
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			runCommand(),
			refreshCommand(),
			sitesCommand(),
			versionCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to YAML configuration file",
			Sources: cli.EnvVars("TSC_CONFIG"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (trace, debug, info, warn, error, fatal, panic)",
			Sources: cli.EnvVars("TSC_LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "Log format (text, json)",
			Sources: cli.EnvVars("TSC_LOG_FORMAT"),
		},
		&cli.StringFlag{
			Name:    "listen-address",
			Usage:   "HTTP listen address (e.g. :8080)",
			Sources: cli.EnvVars("TSC_LISTEN_ADDRESS"),
		},
		&cli.StringFlag{
			Name:    "registry",
			Usage:   "Path to the tenant registry file",
			Sources: cli.EnvVars("TSC_REGISTRY_PATH"),
		},
		&cli.StringFlag{
			Name:    "store",
			Usage:   "Store backend (memory, redis, sqlite)",
			Sources: cli.EnvVars("TSC_STORE_BACKEND"),
		},
	}
}

// loadConfig reads the configuration file (or the environment alone when no
// file is given) and applies CLI overrides.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := cmd.String("config"); path != "" {
		cfg, err = config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("loading config from %s: %w", path, err)
		}
	} else {
		cfg, err = config.FromEnv()
		if err != nil {
			return nil, err
		}
	}

	// --- CLI overrides ---
	if v := cmd.String("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if v := cmd.String("log-format"); v != "" {
		cfg.Log.Format = v
	}
	if v := cmd.String("listen-address"); v != "" {
		cfg.Server.ListenAddress = v
	}
	if v := cmd.String("registry"); v != "" {
		cfg.Registry.Path = v
	}
	if v := cmd.String("store"); v != "" {
		cfg.Store.Backend = v
	}

	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the root logger from the log configuration.
func newLogger(cfg config.LogConfig) *logrus.Entry {
	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}
	return logger.WithField("app", "testimonials-cache")
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Start the HTTP server",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log := newLogger(cfg.Log)

			if cfg.Refresh.Key == "" {
				log.Warn("refresh.key is empty, POST /refresh will reject every request")
			}

			log.WithFields(logrus.Fields{
				"version": version,
				"commit":  commit,
			}).Info("starting testimonials-cache")
			if redacted, err := cfg.RedactedJSON(); err == nil {
				log.WithField("config", string(redacted)).Debug("effective configuration")
			}

			a, err := app.New(cfg, log)
			if err != nil {
				return fmt.Errorf("initializing app: %w", err)
			}

			// --- OS signal handling for graceful shutdown ---
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			return a.Run(ctx)
		},
	}
}

func refreshCommand() *cli.Command {
	return &cli.Command{
		Name:  "refresh",
		Usage: "Run one refresh cycle for a host and print the outcome",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "host",
				Usage:    "Tenant host to refresh",
				Required: true,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			a, err := app.New(cfg, newLogger(cfg.Log))
			if err != nil {
				return fmt.Errorf("initializing app: %w", err)
			}
			defer a.Close()

			out := a.Refresh(ctx, cmd.String("host"))

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			result := map[string]any{
				"host":        out.Host,
				"run_id":      out.RunID,
				"status":      out.Status,
				"stage":       out.Stage,
				"count":       out.Count,
				"etag":        out.ETag,
				"updated_at":  out.UpdatedAt,
				"duration_ms": out.Duration.Milliseconds(),
			}
			if out.Failed() {
				result["error"] = out.Message
			}
			if err := enc.Encode(result); err != nil {
				return err
			}
			if out.Failed() {
				return fmt.Errorf("refresh %s: %s", out.Status, out.Message)
			}
			return nil
		},
	}
}

func sitesCommand() *cli.Command {
	return &cli.Command{
		Name:  "sites",
		Usage: "Validate the tenant registry and list its hosts",
		Action: func(_ context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			sites, err := registry.Load(cfg.Registry.Path)
			if err != nil {
				return err
			}
			reg := registry.New(sites)
			for _, host := range reg.Hosts() {
				site, _ := reg.Lookup(host)
				feedURL := site.FeedURL()
				if feedURL == "" {
					feedURL = "(missing feed URL)"
				}
				fmt.Printf("%s\t%s\n", host, feedURL)
			}
			return nil
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print version information",
		Action: func(_ context.Context, _ *cli.Command) error {
			fmt.Printf("testimonials-cache %s (commit: %s)\n", version, commit)
			return nil
		},
	}
}
