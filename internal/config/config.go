package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from a YAML string like "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q: %w", value.Line, s, err)
	}
	d.Duration = dur
	return nil
}

// APIConfig describes the news API the widgets read from.
type APIConfig struct {
	BaseURL string            `yaml:"base_url"`
	Timeout Duration          `yaml:"timeout"`
	HTTP2   bool              `yaml:"http2"`
	Headers map[string]string `yaml:"headers"`
}

// ProbeConfig holds database health probe settings.
type ProbeConfig struct {
	Path     string   `yaml:"path"`
	Interval Duration `yaml:"interval"`
	Timeout  Duration `yaml:"timeout"`
}

// Widget describes a single data-bound widget.
type Widget struct {
	Name         string            `yaml:"name"`
	Kind         string            `yaml:"kind"`
	Params       map[string]string `yaml:"params"`
	FeedURL      string            `yaml:"feed_url"`
	EmptyMessage string            `yaml:"empty_message"`
	ErrorMessage string            `yaml:"error_message"`
	Manual       bool              `yaml:"manual"`
	Refresh      Duration          `yaml:"refresh"`
}

// WebhookConfig holds alert webhook settings.
type WebhookConfig struct {
	URL      string   `yaml:"url"`
	Cooldown Duration `yaml:"cooldown"`
}

// AlertsConfig holds all alert configuration.
type AlertsConfig struct {
	Webhook WebhookConfig `yaml:"webhook"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Address string `yaml:"address"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// Config is the root application configuration.
type Config struct {
	API     APIConfig     `yaml:"api"`
	Probe   ProbeConfig   `yaml:"probe"`
	Widgets []Widget      `yaml:"widgets"`
	Alerts  AlertsConfig  `yaml:"alerts"`
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
}

// Widget kinds understood by the news API client.
const (
	KindArticles   = "articles"
	KindArticle    = "article"
	KindRelated    = "related"
	KindCategories = "categories"
	KindBreaking   = "breaking"
	KindFeed       = "feed"
)

var validKinds = map[string]bool{
	KindArticles:   true,
	KindArticle:    true,
	KindRelated:    true,
	KindCategories: true,
	KindBreaking:   true,
	KindFeed:       true,
}

// Load reads, parses, and validates the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() error {
	if c.API.Timeout.Duration == 0 {
		c.API.Timeout = Duration{10 * time.Second}
	}
	if c.Probe.Path == "" {
		c.Probe.Path = "/api/health/db"
	}
	if c.Probe.Interval.Duration == 0 {
		c.Probe.Interval = Duration{60 * time.Second}
	}
	if c.Probe.Timeout.Duration == 0 {
		c.Probe.Timeout = Duration{5 * time.Second}
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Storage.Path == "" {
		p, err := xdg.DataFile("newsdesk/newsdesk.db")
		if err != nil {
			return fmt.Errorf("resolving default storage path: %w", err)
		}
		c.Storage.Path = p
	}
	if c.Alerts.Webhook.Cooldown.Duration == 0 {
		c.Alerts.Webhook.Cooldown = Duration{5 * time.Minute}
	}
	return nil
}

func (c *Config) validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("api.base_url %q must be an absolute URL", c.API.BaseURL)
	}
	if c.Probe.Interval.Duration < time.Second {
		return fmt.Errorf("probe.interval must be at least 1s, got %s", c.Probe.Interval.Duration)
	}

	names := make(map[string]bool, len(c.Widgets))
	for i, w := range c.Widgets {
		if w.Name == "" {
			return fmt.Errorf("widget[%d]: name is required", i)
		}
		if names[w.Name] {
			return fmt.Errorf("duplicate widget name %q", w.Name)
		}
		names[w.Name] = true

		if !validKinds[w.Kind] {
			return fmt.Errorf("widget %q: invalid kind %q", w.Name, w.Kind)
		}
		if w.Kind == KindFeed && w.FeedURL == "" {
			return fmt.Errorf("widget %q: feed_url is required for feed widgets", w.Name)
		}
		if w.Refresh.Duration < 0 {
			return fmt.Errorf("widget %q: refresh must not be negative", w.Name)
		}
	}
	return nil
}

// ProbeURL returns the absolute health endpoint URL.
func (c *Config) ProbeURL() string {
	base, err := url.Parse(c.API.BaseURL)
	if err != nil {
		return c.Probe.Path
	}
	return base.JoinPath(c.Probe.Path).String()
}
