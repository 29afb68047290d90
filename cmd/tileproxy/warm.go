package main

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stenvall/tilecache/internal/cache/persistent"
	"github.com/stenvall/tilecache/internal/fetcher"
	"github.com/stenvall/tilecache/internal/layer"
	"github.com/stenvall/tilecache/internal/tile"
)

const maxWarmLevels = 5

// prefetch pulls every tile of levels 0..n-1 that the layer serves into the
// caches. Levels are absolute, so a layer starting at level 14 warms nothing.
// Tiles a batch-capable persistent tier already holds are skipped; the rest
// go through GetTileAsync so none of them blocks the loop.
func prefetch(ctx context.Context, lyr layer.Configuration, n int, log *slog.Logger) {
	schema := lyr.TileSource().Schema
	f := lyr.TileFetcher()
	batch, _ := lyr.TileCache().(persistent.BatchGetter)
	n = min(n, maxWarmLevels)
	start := time.Now()

	var (
		wg      sync.WaitGroup
		ok      atomic.Int64
		failed  atomic.Int64
		present int
	)
	for level := max(0, schema.MinLevel); level < n && level <= schema.MaxLevel; level++ {
		if ctx.Err() != nil {
			break
		}
		idxs := levelTiles(level)
		if batch != nil {
			found, err := batch.GetMany(ctx, idxs)
			if err != nil {
				log.Warn("prefetch batch lookup", "level", level, "err", err)
			} else {
				present += len(found)
				idxs = missing(idxs, found)
			}
		}
		for _, idx := range idxs {
			wg.Add(1)
			f.GetTileAsync(ctx, idx, func(r fetcher.Result) {
				defer wg.Done()
				if r.Err != nil {
					failed.Add(1)
					return
				}
				ok.Add(1)
			})
		}
	}
	wg.Wait()
	log.Info("prefetch done",
		"levels", n,
		"ok", ok.Load(),
		"failed", failed.Load(),
		"already_cached", present,
		"took", time.Since(start).String())
}

func levelTiles(level int) []tile.Index {
	side := 1 << level
	out := make([]tile.Index, 0, side*side)
	for col := range side {
		for row := range side {
			out = append(out, tile.Index{Col: col, Row: row, Level: level})
		}
	}
	return out
}

func missing(idxs []tile.Index, found map[tile.Index][]byte) []tile.Index {
	out := idxs[:0]
	for _, idx := range idxs {
		if _, ok := found[idx]; !ok {
			out = append(out, idx)
		}
	}
	return out
}
