package osm

import (
	"fmt"
	"strings"

	"github.com/stenvall/tilecache/internal/tile"
)

// KnownServer enumerates the tile services a host can pick by name.
type KnownServer int

const (
	Mapnik KnownServer = iota
	CycleMap
	CycleMapTransport
	CycleMapLandscape
	// Custom marks a user-supplied server; it has no catalog entry.
	Custom
)

var knownNames = map[KnownServer]string{
	Mapnik:            "Mapnik",
	CycleMap:          "CycleMap",
	CycleMapTransport: "CycleMapTransport",
	CycleMapLandscape: "CycleMapLandscape",
	Custom:            "Custom",
}

func (k KnownServer) String() string {
	if s, ok := knownNames[k]; ok {
		return s
	}
	return fmt.Sprintf("KnownServer(%d)", int(k))
}

// ParseKnownServer is case-insensitive.
func ParseKnownServer(s string) (KnownServer, error) {
	s = strings.TrimSpace(s)
	for k, name := range knownNames {
		if strings.EqualFold(name, s) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("osm: unknown tile server %q", s)
}

// Catalog maps a named server to its configuration. Hosts may supply their own.
type Catalog func(server KnownServer, apiKey string) (ServerConfig, error)

var abc = []string{"a", "b", "c"}

// Lookup is the built-in catalog.
func Lookup(server KnownServer, apiKey string) (ServerConfig, error) {
	switch server {
	case Mapnik:
		// openstreetmap.org takes no key; never forward one
		return NewServerConfig("https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png", abc, 0, 18, "")
	case CycleMap:
		return NewServerConfig("https://{s}.tile.thunderforest.com/cycle/{z}/{x}/{y}.png?apikey={k}", abc, 0, 18, apiKey)
	case CycleMapTransport:
		return NewServerConfig("https://{s}.tile.thunderforest.com/transport/{z}/{x}/{y}.png?apikey={k}", abc, 0, 18, apiKey)
	case CycleMapLandscape:
		return NewServerConfig("https://{s}.tile.thunderforest.com/landscape/{z}/{x}/{y}.png?apikey={k}", abc, 0, 18, apiKey)
	case Custom:
		return ServerConfig{}, fmt.Errorf("%w: %s has no catalog entry", tile.ErrUnsupportedConfiguration, server)
	default:
		return ServerConfig{}, fmt.Errorf("%w: %s", tile.ErrUnsupportedConfiguration, server)
	}
}
