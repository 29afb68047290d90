// Package layer composes a tile server, its caches and a fetcher into one
// named, cloneable unit handed to the map host.
package layer

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/stenvall/tilecache/internal/cache/keys"
	"github.com/stenvall/tilecache/internal/cache/persistent"
	"github.com/stenvall/tilecache/internal/fetcher"
	"github.com/stenvall/tilecache/internal/osm"
	"github.com/stenvall/tilecache/internal/source"
)

const openTimeout = 10 * time.Second

// Configuration is what the host holds per map layer.
type Configuration interface {
	LegendText() string
	TileSource() *source.TileSource
	TileCache() persistent.Cache
	TileFetcher() *fetcher.Fetcher
	// Clone builds an independent layer from the same value fields. The
	// clone shares no memory tier or in-flight state with the original.
	Clone() (Configuration, error)
	// Initialize is called by the host before the first tile access.
	Initialize() error
	Record() Record
	Close() error
}

// Settings are the host-wide knobs shared by every layer.
type Settings struct {
	MemoryCacheMin int
	MemoryCacheMax int
	PersistentType persistent.Type
	MaxInFlight    int
	FetchTimeout   time.Duration
	RedisAddr      string
	RedisTTL       time.Duration
}

type options struct {
	catalog    osm.Catalog
	log        *slog.Logger
	client     *http.Client
	userAgent  string
	dispatcher fetcher.Dispatcher
	onInit     func(Configuration) error
}

type Option func(*options)

// WithCatalog replaces osm.Lookup as the known-server catalog.
func WithCatalog(c osm.Catalog) Option {
	return func(o *options) { o.catalog = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.client = c }
}

func WithUserAgent(ua string) Option {
	return func(o *options) { o.userAgent = ua }
}

// WithDispatcher routes async completions through d.
func WithDispatcher(d fetcher.Dispatcher) Option {
	return func(o *options) { o.dispatcher = d }
}

// WithInitHook runs fn from Initialize.
func WithInitHook(fn func(Configuration) error) Option {
	return func(o *options) { o.onInit = fn }
}

func buildOptions(opts []Option) options {
	o := options{catalog: osm.Lookup}
	for _, f := range opts {
		f(&o)
	}
	if o.catalog == nil {
		o.catalog = osm.Lookup
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	return o
}

// runtime is the part of a layer rebuilt from scratch on every construction.
type runtime struct {
	legend  string
	src     *source.TileSource
	store   persistent.Cache
	fetcher *fetcher.Fetcher
	opts    []Option
	o       options

	closeOnce sync.Once
	closeErr  error
}

func newRuntime(legend, root string, cfg osm.ServerConfig, async bool, s Settings, opts []Option) (*runtime, error) {
	o := buildOptions(opts)
	log := o.log.With("layer", legend)

	var srcOpts []source.Option
	srcOpts = append(srcOpts, source.WithLogger(log))
	if o.client != nil {
		srcOpts = append(srcOpts, source.WithClient(o.client))
	}
	if o.userAgent != "" {
		srcOpts = append(srcOpts, source.WithUserAgent(o.userAgent))
	}
	src := source.New(legend, osm.NewBuilder(cfg), srcOpts...)

	ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
	defer cancel()
	store, err := persistent.New(ctx, persistent.Options{
		Type:      s.PersistentType,
		Root:      root,
		Namespace: keys.Namespace(legend, cfg.URLFormat()),
		Format:    src.Schema.Format,
		RedisAddr: s.RedisAddr,
		RedisTTL:  s.RedisTTL,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("layer %q: %w", legend, err)
	}

	f, err := fetcher.New(src.Provider, store, fetcher.Config{
		MemoryMin:    s.MemoryCacheMin,
		MemoryMax:    s.MemoryCacheMax,
		MaxInFlight:  s.MaxInFlight,
		FetchTimeout: s.FetchTimeout,
		Async:        async,
		Dispatcher:   o.dispatcher,
	}, log)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("layer %q: %w", legend, err)
	}

	return &runtime{
		legend:  legend,
		src:     src,
		store:   store,
		fetcher: f,
		opts:    opts,
		o:       o,
	}, nil
}

func (r *runtime) LegendText() string             { return r.legend }
func (r *runtime) TileSource() *source.TileSource { return r.src }
func (r *runtime) TileCache() persistent.Cache    { return r.store }
func (r *runtime) TileFetcher() *fetcher.Fetcher  { return r.fetcher }

// Close releases the persistent tier. It is safe to call more than once.
func (r *runtime) Close() error {
	r.closeOnce.Do(func() {
		r.fetcher.Purge()
		r.closeErr = r.store.Close()
	})
	return r.closeErr
}

func (r *runtime) initialize(c Configuration) error {
	if r.o.onInit == nil {
		return nil
	}
	if err := r.o.onInit(c); err != nil {
		return fmt.Errorf("layer %q: initialize: %w", r.legend, err)
	}
	return nil
}
