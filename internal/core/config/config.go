// Package config reads tileproxy settings from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Addr       string `env:"ADDR" envDefault:":8090"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`
	LogConsole bool   `env:"LOG_CONSOLE" envDefault:"false"`
	LogSampleN int    `env:"LOG_SAMPLE_N" envDefault:"0"`

	MetricsEnabled bool `env:"METRICS_ENABLED" envDefault:"true"`

	Cache Cache
	Fetch Fetch
	Redis Redis `envPrefix:"REDIS_"`
	Layer Layer `envPrefix:"LAYER_"`
}

type Cache struct {
	Root           string `env:"CACHE_ROOT" envDefault:"./tilecache"`
	PersistentType string `env:"PERMA_CACHE_TYPE" envDefault:"file"`
	MemoryMin      int    `env:"MEMORY_CACHE_MIN" envDefault:"100"`
	MemoryMax      int    `env:"MEMORY_CACHE_MAX" envDefault:"200"`
}

type Fetch struct {
	MaxInFlight int           `env:"FETCH_MAX_INFLIGHT" envDefault:"8"`
	Timeout     time.Duration `env:"FETCH_TIMEOUT" envDefault:"30s"`
}

type Redis struct {
	Addr string        `env:"ADDR" envDefault:"localhost:6379"`
	TTL  time.Duration `env:"TTL" envDefault:"0s"`
}

// Layer selects the served tile server: a catalogued Server, or a custom URL
// when URL is set.
type Layer struct {
	Server   string   `env:"SERVER" envDefault:"Mapnik"`
	APIKey   string   `env:"API_KEY"`
	Title    string   `env:"TITLE" envDefault:"Custom"`
	URL      string   `env:"URL"`
	Servers  []string `env:"SERVERS" envSeparator:","`
	MinLevel int      `env:"MIN_LEVEL" envDefault:"0"`
	MaxLevel int      `env:"MAX_LEVEL" envDefault:"18"`
}

// IsCustom reports whether a custom URL template was configured.
func (l Layer) IsCustom() bool { return strings.TrimSpace(l.URL) != "" }

// Load reads the given dotenv files (default ".env") into the process
// environment, then parses it. Missing files are ignored; existing
// variables win over file values.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config: load %s: %w", f, err)
		}
	}
	return FromEnv()
}

func FromEnv() (Config, error) {
	return parse(env.Options{Environment: environ()})
}

// FromMap parses settings from m instead of the process environment.
func FromMap(m map[string]string) (Config, error) {
	return parse(env.Options{Environment: m})
}

func parse(opts env.Options) (Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](opts)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Cache.MemoryMax <= 0 {
		errs = append(errs, fmt.Errorf("MEMORY_CACHE_MAX must be > 0 (got %d)", c.Cache.MemoryMax))
	}
	if c.Cache.MemoryMin < 0 || c.Cache.MemoryMin > c.Cache.MemoryMax {
		errs = append(errs, fmt.Errorf("MEMORY_CACHE_MIN must be in [0,%d] (got %d)", c.Cache.MemoryMax, c.Cache.MemoryMin))
	}
	if c.Fetch.MaxInFlight <= 0 {
		errs = append(errs, fmt.Errorf("FETCH_MAX_INFLIGHT must be > 0 (got %d)", c.Fetch.MaxInFlight))
	}
	if c.Fetch.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("FETCH_TIMEOUT must be > 0 (got %s)", c.Fetch.Timeout))
	}
	if c.Layer.IsCustom() && c.Layer.MinLevel > c.Layer.MaxLevel {
		errs = append(errs, fmt.Errorf("LAYER_MIN_LEVEL %d exceeds LAYER_MAX_LEVEL %d", c.Layer.MinLevel, c.Layer.MaxLevel))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func environ() map[string]string {
	m := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			m[k] = v
		}
	}
	return m
}
