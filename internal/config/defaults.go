package config

import (
	"time"

	"github.com/maltedev/material-scraper/internal/fetch"
	"github.com/maltedev/material-scraper/internal/supplier"
)

// DefaultPath is where binaries look for the YAML file.
const DefaultPath = "config/scraper_config.yaml"

// Default returns a configuration that scrapes both built-in suppliers.
func Default() *Config {
	return &Config{
		Scraping: ScrapingConfig{
			MaxProductsPerCategory: 50,
			MaxPages:               1,
			DelayBetweenRequests:   Duration(2 * time.Second),
			Jitter:                 Duration(time.Second),
			Timeout:                Duration(30 * time.Second),
			MaxRetries:             3,
			Concurrency:            4,
			BackoffBase:            Duration(time.Second),
			BackoffMax:             Duration(30 * time.Second),
			UserAgents:             fetch.DefaultUserAgents(),
		},
		Suppliers: Suppliers{
			{
				ID:        supplier.LeroyMerlinID,
				Name:      "Leroy Merlin",
				BaseURL:   "https://www.leroymerlin.fr",
				Currency:  "EUR",
				PageParam: "p",
				Categories: map[string]CategoryConfig{
					"tiles":    {URLPath: "/carrelage-faience-mosaique", Label: "Carrelage"},
					"sinks":    {URLPath: "/lavabo-vasque", Label: "Lavabo et vasque"},
					"toilets":  {URLPath: "/wc-toilettes", Label: "WC et toilettes"},
					"paint":    {URLPath: "/peinture", Label: "Peinture"},
					"vanities": {URLPath: "/meuble-salle-de-bains", Label: "Meuble de salle de bains"},
					"showers":  {URLPath: "/douche", Label: "Douche"},
				},
			},
			{
				ID:        supplier.CastoramaID,
				Name:      "Castorama",
				BaseURL:   "https://www.castorama.fr",
				Currency:  "EUR",
				PageParam: "page",
				Categories: map[string]CategoryConfig{
					"tiles":    {URLPath: "/carrelage-faience", Label: "Carrelage"},
					"sinks":    {URLPath: "/lavabo-vasque", Label: "Lavabo et vasque"},
					"toilets":  {URLPath: "/wc", Label: "WC et toilettes"},
					"paint":    {URLPath: "/peinture", Label: "Peinture"},
					"vanities": {URLPath: "/meuble-de-salle-de-bains", Label: "Meuble de salle de bains"},
					"showers":  {URLPath: "/douche", Label: "Douche"},
				},
			},
		},
		Output: OutputConfig{
			Path: "data/materials.json",
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(5 * time.Minute),
			ShutdownTimeout: Duration(10 * time.Second),
			AllowedOrigins:  []string{"*"},
		},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			User:    "postgres",
			DBName:  "material_scraper",
			SSLMode: "disable",
		},
		Redis: RedisConfig{
			Addr:   "localhost:6379",
			Stream: "stream:material_events",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
