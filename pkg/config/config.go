// Package config loads the agendad daemon configuration. The engine
// itself reads no configuration and no environment variables; everything
// here is injected into it by the daemon.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration.
type Config struct {
	CalendarDir string          `yaml:"calendar_dir"`
	ContactsDir string          `yaml:"contacts_dir"`
	Analytics   AnalyticsConfig `yaml:"analytics"`
	Feeds       []FeedConfig    `yaml:"feeds"`
	// FeedRefresh is a cron spec (standard five fields) for re-reading
	// the ICS feeds.
	FeedRefresh string        `yaml:"feed_refresh"`
	Brief       BriefConfig   `yaml:"brief"`
	Logging     LoggingConfig `yaml:"logging"`
}

// AnalyticsConfig configures the optional write-through sink.
type AnalyticsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
	QueueSize     int    `yaml:"queue_size"`
}

// FeedConfig names one already-synced ICS file to merge into queries.
type FeedConfig struct {
	Name     string `yaml:"name"`
	Path     string `yaml:"path"`
	Calendar string `yaml:"calendar"`
}

// BriefConfig configures where brief payloads are published.
type BriefConfig struct {
	Subject string `yaml:"subject"`
	// RetryOnError retries failed synthesis on the next tick instead of
	// marking the day delivered.
	RetryOnError bool `yaml:"retry_on_error"`
}

// LoggingConfig configures the daemon logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and validates a configuration file.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &config, nil
}

func (c *Config) validate() error {
	if c.CalendarDir == "" {
		return fmt.Errorf("calendar_dir is required")
	}
	if c.ContactsDir == "" {
		c.ContactsDir = c.CalendarDir
	}
	if c.Analytics.Enabled && c.Analytics.URL == "" {
		return fmt.Errorf("analytics.url is required when analytics is enabled")
	}
	for i, feed := range c.Feeds {
		if feed.Path == "" {
			return fmt.Errorf("feeds[%d]: path is required", i)
		}
		if feed.Name == "" {
			c.Feeds[i].Name = feed.Path
		}
	}
	if c.FeedRefresh == "" {
		c.FeedRefresh = "*/15 * * * *"
	}
	if c.Brief.Subject == "" {
		c.Brief.Subject = "agenda.briefs"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	return nil
}
