package layer

import (
	"fmt"

	"github.com/stenvall/tilecache/internal/osm"
	"github.com/stenvall/tilecache/internal/tile"
)

// Known is a layer over a catalogued server. Its fetcher runs in sync mode.
type Known struct {
	*runtime
	root     string
	server   osm.KnownServer
	apiKey   string
	settings Settings
}

// NewKnown fails with tile.ErrUnsupportedConfiguration for osm.Custom; use
// NewCustom for user-supplied servers.
func NewKnown(root string, server osm.KnownServer, apiKey string, s Settings, opts ...Option) (*Known, error) {
	if server == osm.Custom {
		return nil, fmt.Errorf("%w: known-server layer cannot use %s", tile.ErrUnsupportedConfiguration, server)
	}
	cfg, err := buildOptions(opts).catalog(server, apiKey)
	if err != nil {
		return nil, fmt.Errorf("layer %s: %w", server, err)
	}
	rt, err := newRuntime(server.String(), root, cfg, false, s, opts)
	if err != nil {
		return nil, err
	}
	return &Known{runtime: rt, root: root, server: server, apiKey: apiKey, settings: s}, nil
}

func (k *Known) Server() osm.KnownServer { return k.server }

func (k *Known) Clone() (Configuration, error) {
	c, err := NewKnown(k.root, k.server, k.apiKey, k.settings, k.opts...)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (k *Known) Initialize() error { return k.initialize(k) }

func (k *Known) Record() Record {
	return Record{
		Version:   recordVersion,
		Kind:      KindKnown,
		CacheRoot: k.root,
		Server:    k.server.String(),
		APIKey:    k.apiKey,
	}
}
