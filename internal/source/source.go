// Package source describes where a layer's tiles come from: the tile schema
// and a provider that can fetch the bytes of one tile.
package source

import (
	"context"
	"net/url"
	"path"
	"strings"

	"github.com/stenvall/tilecache/internal/osm"
	"github.com/stenvall/tilecache/internal/tile"
)

// Provider fetches the encoded bytes of a single tile.
type Provider interface {
	Fetch(ctx context.Context, idx tile.Index) ([]byte, error)
}

// Validator is implemented by providers that can reject an index without I/O.
type Validator interface {
	Validate(idx tile.Index) error
}

type Schema struct {
	Name       string
	Format     string
	TileSize   int
	MinLevel   int
	MaxLevel   int
	Scheme     string
	Projection string
}

type TileSource struct {
	Schema   Schema
	Provider Provider
}

// New builds the source for an OSM-style server reachable through b.
func New(name string, b *osm.Builder, opts ...Option) *TileSource {
	cfg := b.Config()
	return &TileSource{
		Schema: Schema{
			Name:       name,
			Format:     FormatOf(cfg.URLFormat()),
			TileSize:   256,
			MinLevel:   cfg.MinLevel(),
			MaxLevel:   cfg.MaxLevel(),
			Scheme:     "xyz",
			Projection: "EPSG:3857",
		},
		Provider: NewHTTPProvider(b, opts...),
	}
}

// FormatOf guesses the image format from the template's file extension.
func FormatOf(urlFormat string) string {
	p := urlFormat
	if u, err := url.Parse(strings.NewReplacer("{", "", "}", "").Replace(urlFormat)); err == nil {
		p = u.Path
	} else if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	switch ext := strings.ToLower(strings.TrimPrefix(path.Ext(p), ".")); ext {
	case "png", "jpg", "jpeg", "webp", "gif", "pbf", "mvt":
		if ext == "jpeg" {
			return "jpg"
		}
		return ext
	default:
		return "png"
	}
}
