// Package osm describes remote slippy-map tile services and turns a tile index
// into a concrete request against one of them.
package osm

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/stenvall/tilecache/internal/tile"
)

// ServerConfig is an immutable description of a tile service. Use NewServerConfig
// to construct one; the zero value is not valid.
type ServerConfig struct {
	urlFormat   string
	serverNames []string
	minLevel    int
	maxLevel    int
	apiKey      string
}

// NewServerConfig validates and freezes a server description. serverNames may be
// empty, in which case the template must not contain {s}.
func NewServerConfig(urlFormat string, serverNames []string, minLevel, maxLevel int, apiKey string) (ServerConfig, error) {
	urlFormat = strings.TrimSpace(urlFormat)
	if urlFormat == "" {
		return ServerConfig{}, errors.New("osm: url format is required")
	}
	if minLevel < 0 {
		return ServerConfig{}, fmt.Errorf("osm: min level %d must be >= 0", minLevel)
	}
	if minLevel > maxLevel {
		return ServerConfig{}, fmt.Errorf("osm: min level %d exceeds max level %d", minLevel, maxLevel)
	}

	names := make([]string, 0, len(serverNames))
	for _, s := range serverNames {
		if s = strings.TrimSpace(s); s != "" {
			names = append(names, s)
		}
	}
	hasPlaceholder := strings.Contains(urlFormat, "{s}")
	if hasPlaceholder && len(names) == 0 {
		return ServerConfig{}, fmt.Errorf("osm: url %q uses {s} but no server names were given", urlFormat)
	}
	if !hasPlaceholder && len(names) > 0 {
		return ServerConfig{}, fmt.Errorf("osm: %d server names given but url %q has no {s}", len(names), urlFormat)
	}

	return ServerConfig{
		urlFormat:   urlFormat,
		serverNames: names,
		minLevel:    minLevel,
		maxLevel:    maxLevel,
		apiKey:      strings.TrimSpace(apiKey),
	}, nil
}

func (c ServerConfig) URLFormat() string { return c.urlFormat }

// ServerNames returns a copy; the config itself never changes.
func (c ServerConfig) ServerNames() []string { return slices.Clone(c.serverNames) }

func (c ServerConfig) MinLevel() int  { return c.minLevel }
func (c ServerConfig) MaxLevel() int  { return c.maxLevel }
func (c ServerConfig) APIKey() string { return c.apiKey }

// CheckLevel fails with tile.ErrOutOfRange when level is outside the declared range.
func (c ServerConfig) CheckLevel(level int) error {
	if level < c.minLevel || level > c.maxLevel {
		return fmt.Errorf("%w: level %d not in [%d,%d]", tile.ErrOutOfRange, level, c.minLevel, c.maxLevel)
	}
	return nil
}
