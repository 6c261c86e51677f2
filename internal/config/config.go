package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/maltedev/material-scraper/internal/fetch"
	"github.com/maltedev/material-scraper/internal/models"
	"github.com/maltedev/material-scraper/internal/pipeline"
	"github.com/maltedev/material-scraper/internal/supplier"
)

var (
	ErrNoSuppliers       = errors.New("at least one supplier is required")
	ErrMissingBaseURL    = errors.New("supplier base_url is required")
	ErrInvalidCategory   = errors.New("category key must be one of: tiles, sinks, toilets, paint, vanities, showers")
	ErrMissingURLPath    = errors.New("category url_path is required")
	ErrInvalidMaxRetries = errors.New("scraping.max_retries must be at least 1")
	ErrInvalidLogLevel   = errors.New("logging.level must be one of: debug, info, warn, error")
	ErrInvalidLogFormat  = errors.New("logging.format must be 'json' or 'text'")
)

type Config struct {
	Scraping  ScrapingConfig `yaml:"scraping"`
	Suppliers Suppliers      `yaml:"suppliers"`
	Output    OutputConfig   `yaml:"output"`
	Server    ServerConfig   `yaml:"server"`
	Database  DatabaseConfig `yaml:"database"`
	Redis     RedisConfig    `yaml:"redis"`
	Metrics   MetricsConfig  `yaml:"metrics"`
	Logging   LoggingConfig  `yaml:"logging"`
}

type ScrapingConfig struct {
	MaxProductsPerCategory int      `yaml:"max_products_per_category"`
	MaxPages               int      `yaml:"max_pages"`
	DelayBetweenRequests   Duration `yaml:"delay_between_requests"`
	Jitter                 Duration `yaml:"jitter"`
	Adaptive               bool     `yaml:"adaptive"`
	Timeout                Duration `yaml:"timeout"`
	MaxRetries             int      `yaml:"max_retries"`
	Concurrency            int      `yaml:"concurrency"`
	BackoffBase            Duration `yaml:"backoff_base"`
	BackoffMax             Duration `yaml:"backoff_max"`
	UserAgents             []string `yaml:"user_agents"`
}

type SupplierConfig struct {
	ID         string                    `yaml:"-"`
	Name       string                    `yaml:"name"`
	BaseURL    string                    `yaml:"base_url"`
	Currency   string                    `yaml:"currency"`
	PageParam  string                    `yaml:"page_param"`
	Categories map[string]CategoryConfig `yaml:"categories"`
	Selectors  SelectorConfig            `yaml:"selectors"`
}

type CategoryConfig struct {
	URLPath            string   `yaml:"url_path"`
	Label              string   `yaml:"label"`
	ContainerSelectors []string `yaml:"container_selectors"`
}

type SelectorConfig struct {
	Container     []string `yaml:"container"`
	Name          []string `yaml:"name"`
	Link          []string `yaml:"link"`
	Price         []string `yaml:"price"`
	Brand         []string `yaml:"brand"`
	Image         []string `yaml:"image"`
	Unit          []string `yaml:"unit"`
	SKU           []string `yaml:"sku"`
	Availability  []string `yaml:"availability"`
	Description   []string `yaml:"description"`
	CategoryLabel []string `yaml:"category_label"`
}

type OutputConfig struct {
	Path string `yaml:"path"`
}

type ServerConfig struct {
	Host            string   `yaml:"host"`
	Port            string   `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
}

type DatabaseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode)
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Stream   string `yaml:"stream"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads an optional .env file, the YAML file at path (skipped when path
// is empty) on top of Default, then environment overrides.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyEnv() {
	s := &c.Scraping
	s.MaxProductsPerCategory = getIntOrDefault("SCRAPER_MAX_PRODUCTS_PER_CATEGORY", s.MaxProductsPerCategory)
	s.MaxPages = getIntOrDefault("SCRAPER_MAX_PAGES", s.MaxPages)
	s.DelayBetweenRequests = Duration(getDurationOrDefault("SCRAPER_DELAY", s.DelayBetweenRequests.Std()))
	s.Timeout = Duration(getDurationOrDefault("SCRAPER_TIMEOUT", s.Timeout.Std()))
	s.MaxRetries = getIntOrDefault("SCRAPER_MAX_RETRIES", s.MaxRetries)
	s.Concurrency = getIntOrDefault("SCRAPER_CONCURRENCY", s.Concurrency)
	s.Adaptive = getBoolOrDefault("SCRAPER_ADAPTIVE", s.Adaptive)
	s.UserAgents = getStringSliceOrDefault("SCRAPER_USER_AGENTS", s.UserAgents)

	c.Output.Path = getEnvOrDefault("OUTPUT_PATH", c.Output.Path)

	c.Server.Host = getEnvOrDefault("SERVER_HOST", c.Server.Host)
	c.Server.Port = getEnvOrDefault("SERVER_PORT", c.Server.Port)
	c.Server.AllowedOrigins = getStringSliceOrDefault("SERVER_ALLOWED_ORIGINS", c.Server.AllowedOrigins)

	d := &c.Database
	d.Enabled = getBoolOrDefault("DB_ENABLED", d.Enabled)
	d.Host = getEnvOrDefault("DB_HOST", d.Host)
	d.Port = getIntOrDefault("DB_PORT", d.Port)
	d.User = getEnvOrDefault("DB_USER", d.User)
	d.Password = getEnvOrDefault("DB_PASSWORD", d.Password)
	d.DBName = getEnvOrDefault("DB_NAME", d.DBName)
	d.SSLMode = getEnvOrDefault("DB_SSL_MODE", d.SSLMode)

	c.Redis.Enabled = getBoolOrDefault("REDIS_ENABLED", c.Redis.Enabled)
	c.Redis.Addr = getEnvOrDefault("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnvOrDefault("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getIntOrDefault("REDIS_DB", c.Redis.DB)
	c.Redis.Stream = getEnvOrDefault("REDIS_STREAM", c.Redis.Stream)

	c.Metrics.Enabled = getBoolOrDefault("METRICS_ENABLED", c.Metrics.Enabled)

	c.Logging.Level = getEnvOrDefault("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnvOrDefault("LOG_FORMAT", c.Logging.Format)
}

func (c *Config) Validate() error {
	if len(c.Suppliers) == 0 {
		return ErrNoSuppliers
	}

	for _, s := range c.Suppliers {
		if strings.TrimSpace(s.BaseURL) == "" {
			return fmt.Errorf("%w: %s", ErrMissingBaseURL, s.ID)
		}
		for key, cat := range s.Categories {
			if _, err := models.ParseCategory(key); err != nil {
				return fmt.Errorf("supplier %s: %w: got %q", s.ID, ErrInvalidCategory, key)
			}
			if strings.TrimSpace(cat.URLPath) == "" {
				return fmt.Errorf("supplier %s, category %s: %w", s.ID, key, ErrMissingURLPath)
			}
		}
	}

	if c.Scraping.MaxRetries < 1 {
		return ErrInvalidMaxRetries
	}
	if c.Scraping.Concurrency < 1 {
		return fmt.Errorf("scraping.concurrency must be at least 1")
	}
	if c.Scraping.MaxProductsPerCategory < 0 {
		return fmt.Errorf("scraping.max_products_per_category cannot be negative")
	}
	if c.Scraping.DelayBetweenRequests < 0 || c.Scraping.Jitter < 0 {
		return fmt.Errorf("scraping delays cannot be negative")
	}
	if c.Scraping.Timeout <= 0 {
		return fmt.Errorf("scraping.timeout must be positive")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return ErrInvalidLogLevel
	}

	switch c.Logging.Format {
	case "json", "text":
	default:
		return ErrInvalidLogFormat
	}

	return nil
}

// PipelineOptions returns the scraping behaviour for one run.
func (c *Config) PipelineOptions() pipeline.Options {
	s := c.Scraping
	return pipeline.Options{
		MaxProductsPerCategory: s.MaxProductsPerCategory,
		MaxPages:               s.MaxPages,
		Delay:                  s.DelayBetweenRequests.Std(),
		Jitter:                 s.Jitter.Std(),
		Adaptive:               s.Adaptive,
		Timeout:                s.Timeout.Std(),
		MaxRetries:             s.MaxRetries,
		Concurrency:            s.Concurrency,
	}
}

func (c *Config) FetchOptions() fetch.Options {
	return fetch.Options{
		BaseDelay:  c.Scraping.BackoffBase.Std(),
		MaxDelay:   c.Scraping.BackoffMax.Std(),
		UserAgents: c.Scraping.UserAgents,
	}
}

// SupplierDefinitions converts the supplier section, keeping file order.
func (c *Config) SupplierDefinitions() ([]supplier.Definition, error) {
	defs := make([]supplier.Definition, 0, len(c.Suppliers))

	for _, s := range c.Suppliers {
		def := supplier.Definition{
			ID:         s.ID,
			Name:       s.Name,
			BaseURL:    s.BaseURL,
			Currency:   s.Currency,
			PageParam:  s.PageParam,
			Categories: make(map[models.Category]supplier.CategorySource, len(s.Categories)),
			Selectors: supplier.Selectors{
				Container:     s.Selectors.Container,
				Name:          s.Selectors.Name,
				Link:          s.Selectors.Link,
				Price:         s.Selectors.Price,
				Brand:         s.Selectors.Brand,
				Image:         s.Selectors.Image,
				Unit:          s.Selectors.Unit,
				SKU:           s.Selectors.SKU,
				Availability:  s.Selectors.Availability,
				Description:   s.Selectors.Description,
				CategoryLabel: s.Selectors.CategoryLabel,
			},
		}

		for key, cat := range s.Categories {
			category, err := models.ParseCategory(key)
			if err != nil {
				return nil, fmt.Errorf("supplier %s: %w", s.ID, err)
			}
			def.Categories[category] = supplier.CategorySource{
				Path:      cat.URLPath,
				Label:     cat.Label,
				Container: cat.ContainerSelectors,
			}
		}

		defs = append(defs, def)
	}

	return defs, nil
}

// Duration accepts either a number of seconds or a Go duration string.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", node.Line)
	}

	v, err := parseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}

	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}

// Suppliers keeps the order suppliers appear in the file.
type Suppliers []SupplierConfig

func (s *Suppliers) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: suppliers must be a mapping of id to supplier", node.Line)
	}

	out := make(Suppliers, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		id := node.Content[i].Value

		var sc SupplierConfig
		if err := node.Content[i+1].Decode(&sc); err != nil {
			return fmt.Errorf("supplier %s: %w", id, err)
		}
		sc.ID = id
		out = append(out, sc)
	}

	*s = out
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := parseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}
