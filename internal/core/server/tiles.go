package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/stenvall/tilecache/internal/layer"
	mylog "github.com/stenvall/tilecache/internal/logger"
	"github.com/stenvall/tilecache/internal/tile"
)

// HandleTile serves GET /tiles/{z}/{x}/{y}; y may carry a file extension.
func HandleTile(logger *slog.Logger, lyr layer.Configuration) http.HandlerFunc {
	contentType := contentTypeFor(lyr.TileSource().Schema.Format)
	return func(w http.ResponseWriter, r *http.Request) {
		idx, err := parseIndex(chi.URLParam(r, "z"), chi.URLParam(r, "x"), chi.URLParam(r, "y"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		ctx := mylog.WithLayer(r.Context(), lyr.LegendText())
		ctx = mylog.WithTile(ctx, idx.String())

		b, err := lyr.TileFetcher().GetTile(ctx, idx)
		if err != nil {
			status := statusFor(err)
			if status >= http.StatusInternalServerError {
				logger.WarnContext(ctx, "tile request failed", "status", status, "err", err)
			}
			http.Error(w, http.StatusText(status), status)
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(b)))
		w.Header().Set("Cache-Control", "public, max-age=86400")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(b)
	}
}

func HandleStats(lyr layer.Configuration) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(struct {
			Layer string `json:"layer"`
			Stats any    `json:"stats"`
		}{lyr.LegendText(), lyr.TileFetcher().Stats()})
	}
}

func parseIndex(zs, xs, ys string) (tile.Index, error) {
	if i := strings.IndexByte(ys, '.'); i >= 0 {
		ys = ys[:i]
	}
	z, err := strconv.Atoi(zs)
	if err != nil {
		return tile.Index{}, fmt.Errorf("bad level %q", zs)
	}
	x, err := strconv.Atoi(xs)
	if err != nil {
		return tile.Index{}, fmt.Errorf("bad column %q", xs)
	}
	y, err := strconv.Atoi(ys)
	if err != nil {
		return tile.Index{}, fmt.Errorf("bad row %q", ys)
	}
	return tile.Index{Col: x, Row: y, Level: z}, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, tile.ErrOutOfRange):
		return http.StatusBadRequest
	case errors.Is(err, tile.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, tile.ErrNetwork):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func contentTypeFor(format string) string {
	switch format {
	case "png":
		return "image/png"
	case "jpg":
		return "image/jpeg"
	case "webp":
		return "image/webp"
	case "gif":
		return "image/gif"
	case "pbf", "mvt":
		return "application/vnd.mapbox-vector-tile"
	default:
		return "application/octet-stream"
	}
}
