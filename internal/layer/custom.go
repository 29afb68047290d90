package layer

import (
	"fmt"
	"slices"

	"github.com/stenvall/tilecache/internal/osm"
)

// Custom is a layer over a user-supplied URL template. Its fetcher runs in
// async mode.
type Custom struct {
	*runtime
	root     string
	title    string
	url      string
	servers  []string
	minLevel int
	maxLevel int
	settings Settings
}

func NewCustom(root, title, url string, servers []string, minLevel, maxLevel int, s Settings, opts ...Option) (*Custom, error) {
	servers = slices.Clone(servers)
	if servers == nil {
		servers = []string{}
	}
	cfg, err := osm.NewServerConfig(url, servers, minLevel, maxLevel, "")
	if err != nil {
		return nil, fmt.Errorf("layer %q: %w", title, err)
	}
	rt, err := newRuntime(title, root, cfg, true, s, opts)
	if err != nil {
		return nil, err
	}
	return &Custom{
		runtime:  rt,
		root:     root,
		title:    title,
		url:      url,
		servers:  servers,
		minLevel: minLevel,
		maxLevel: maxLevel,
		settings: s,
	}, nil
}

func (c *Custom) Clone() (Configuration, error) {
	n, err := NewCustom(c.root, c.title, c.url, c.servers, c.minLevel, c.maxLevel, c.settings, c.opts...)
	if err != nil {
		return nil, err
	}
	return n, nil
}

func (c *Custom) Initialize() error { return c.initialize(c) }

func (c *Custom) Record() Record {
	return Record{
		Version:   recordVersion,
		Kind:      KindCustom,
		CacheRoot: c.root,
		Title:     c.title,
		URL:       c.url,
		Servers:   slices.Clone(c.servers),
		MinLevel:  c.minLevel,
		MaxLevel:  c.maxLevel,
	}
}
