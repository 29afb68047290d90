package layer

import (
	"encoding/json"
	"fmt"

	"github.com/stenvall/tilecache/internal/osm"
)

const recordVersion = 1

type Kind string

const (
	KindKnown  Kind = "known"
	KindCustom Kind = "custom"
)

// Record holds the value fields a layer is rebuilt from. Runtime state such
// as cached tiles is never part of it.
type Record struct {
	Version   int      `json:"version"`
	Kind      Kind     `json:"kind"`
	CacheRoot string   `json:"cache_root"`
	Server    string   `json:"server,omitempty"`
	APIKey    string   `json:"api_key,omitempty"`
	Title     string   `json:"title,omitempty"`
	URL       string   `json:"url,omitempty"`
	Servers   []string `json:"servers,omitempty"`
	MinLevel  int      `json:"min_level,omitempty"`
	MaxLevel  int      `json:"max_level,omitempty"`
}

func Marshal(r Record) ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("layer record: %w", err)
	}
	return b, nil
}

func Unmarshal(b []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(b, &r); err != nil {
		return Record{}, fmt.Errorf("layer record: %w", err)
	}
	if r.Version > recordVersion {
		return Record{}, fmt.Errorf("layer record: version %d is newer than %d", r.Version, recordVersion)
	}
	switch r.Kind {
	case KindKnown, KindCustom:
	default:
		return Record{}, fmt.Errorf("layer record: unknown kind %q", r.Kind)
	}
	return r, nil
}

// FromRecord rebuilds the layer r was taken from.
func FromRecord(r Record, s Settings, opts ...Option) (Configuration, error) {
	switch r.Kind {
	case KindKnown:
		server, err := osm.ParseKnownServer(r.Server)
		if err != nil {
			return nil, fmt.Errorf("layer record: %w", err)
		}
		k, err := NewKnown(r.CacheRoot, server, r.APIKey, s, opts...)
		if err != nil {
			return nil, err
		}
		return k, nil
	case KindCustom:
		c, err := NewCustom(r.CacheRoot, r.Title, r.URL, r.Servers, r.MinLevel, r.MaxLevel, s, opts...)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("layer record: unknown kind %q", r.Kind)
	}
}

var (
	_ Configuration = (*Known)(nil)
	_ Configuration = (*Custom)(nil)
)
