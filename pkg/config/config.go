// Package config loads engine configuration from an optional YAML file and
// TINYOPDS_-prefixed environment variables, env taking precedence.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
)

// SortOrder selects the collation used by list caches.
type SortOrder int

const (
	SortOrderLatinFirst    SortOrder = 0
	SortOrderCyrillicFirst SortOrder = 1
)

// NewBooksPeriods is the fixed table of selectable "new books" windows, in
// days. Config carries an index into it.
var NewBooksPeriods = []int{7, 14, 21, 30, 44, 60, 90}

type Config struct {
	LibraryPath      string `koanf:"library_path"`
	DatabaseFilePath string `koanf:"database_file_path"`

	SortOrder          SortOrder `koanf:"sort_order"`
	NewBooksPeriod     int       `koanf:"new_books_period"` // index into NewBooksPeriods
	UseAuthorsAliases  bool      `koanf:"use_authors_aliases"`
	AuthorsAliasesPath string    `koanf:"authors_aliases_path"`

	// Consumed by the cover cache collaborator; carried here because the
	// library facade advertises them.
	CacheImagesInMemory    bool `koanf:"cache_images_in_memory"`
	MaxRAMImageCacheSizeMB int  `koanf:"max_ram_image_cache_size_mb"`

	DatabaseDebug             bool          `koanf:"database_debug"`
	DatabaseMaxRetries        int           `koanf:"database_max_retries"`
	DatabaseConnectRetryCount int           `koanf:"database_connect_retry_count"`
	DatabaseConnectRetryDelay time.Duration `koanf:"database_connect_retry_delay"`
	DatabaseBusyTimeout       time.Duration `koanf:"database_busy_timeout"`
}

const (
	configPathENV = "TINYOPDS_CONFIG"
	envPrefix     = "TINYOPDS_"
)

// New loads configuration with built-in defaults, then the YAML file named
// by TINYOPDS_CONFIG (or ./tinyopds.yml when present), then the environment.
func New() (*Config, error) {
	cfg := &Config{
		LibraryPath:               ".",
		DatabaseFilePath:          "tinyopds.db",
		NewBooksPeriod:            3, // 30 days
		AuthorsAliasesPath:        "a_aliases.txt",
		DatabaseMaxRetries:        5,
		DatabaseConnectRetryCount: 5,
		DatabaseConnectRetryDelay: 2 * time.Second,
		DatabaseBusyTimeout:       10 * time.Second,
	}

	k := koanf.New(".")

	path := os.Getenv(configPathENV)
	if path == "" {
		if _, err := os.Stat("tinyopds.yml"); err == nil {
			path = "tinyopds.yml"
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, errors.Wrapf(err, "failed to load config file %s", path)
		}
	}

	err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	}), nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, errors.WithStack(err)
	}

	if cfg.NewBooksPeriod < 0 || cfg.NewBooksPeriod >= len(NewBooksPeriods) {
		return nil, errors.Errorf("new_books_period index out of range: %d", cfg.NewBooksPeriod)
	}

	return cfg, nil
}

// NewBooksPeriodDays resolves the configured period index to days.
func (c *Config) NewBooksPeriodDays() int {
	return NewBooksPeriods[c.NewBooksPeriod]
}
