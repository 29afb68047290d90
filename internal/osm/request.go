package osm

import (
	"encoding/binary"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/stenvall/tilecache/internal/tile"
)

// Request is a resolved, fetchable tile request.
type Request struct {
	URL    string
	Server string
}

// Builder resolves tile indices against one ServerConfig. It is safe for
// concurrent use.
type Builder struct {
	cfg ServerConfig
}

func NewBuilder(cfg ServerConfig) *Builder {
	return &Builder{cfg: cfg}
}

func (b *Builder) Config() ServerConfig { return b.cfg }

// Build is deterministic: the same index always yields the same URL and server.
func (b *Builder) Build(idx tile.Index) (Request, error) {
	if err := b.cfg.CheckLevel(idx.Level); err != nil {
		return Request{}, err
	}
	if !idx.InGrid() {
		return Request{}, fmt.Errorf("%w: %s outside the level grid", tile.ErrOutOfRange, idx)
	}

	server := b.selectServer(idx)
	r := strings.NewReplacer(
		"{s}", server,
		"{z}", strconv.Itoa(idx.Level),
		"{x}", strconv.Itoa(idx.Col),
		"{y}", strconv.Itoa(idx.Row),
		"{k}", url.QueryEscape(b.cfg.apiKey),
	)
	u := r.Replace(b.cfg.urlFormat)

	if b.cfg.apiKey != "" && !strings.Contains(b.cfg.urlFormat, "{k}") {
		sep := "?"
		if strings.Contains(u, "?") {
			sep = "&"
		}
		u += sep + "apikey=" + url.QueryEscape(b.cfg.apiKey)
	}
	return Request{URL: u, Server: server}, nil
}

// picks serverNames[hash(index) % n] so retries target the same host
func (b *Builder) selectServer(idx tile.Index) string {
	n := len(b.cfg.serverNames)
	if n == 0 {
		return ""
	}
	var buf [24]byte
	binary.LittleEndian.PutUint64(buf[0:], uint64(idx.Level))
	binary.LittleEndian.PutUint64(buf[8:], uint64(idx.Col))
	binary.LittleEndian.PutUint64(buf[16:], uint64(idx.Row))
	return b.cfg.serverNames[xxhash.Sum64(buf[:])%uint64(n)]
}
