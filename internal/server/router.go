package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mapfold/tileserv/internal/config"
	"github.com/mapfold/tileserv/internal/observability"
	"github.com/mapfold/tileserv/internal/service"
)

type Options struct {
	Logger             *slog.Logger
	Viewer             bool
	CacheControlMaxAge int
	Static             []config.Static
	Readiness          ReadinessReporter
}

func NewRouter(svc *service.Service, opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(Recover())
	r.Use(Logging(opts.Logger))
	r.Use(CORS())

	r.Get("/healthz", Liveness())
	r.Get("/readyz", Readiness(opts.Readiness))
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Get("/index.json", handleIndex(svc))
	r.Get("/{tileset}.json", handleTileJSON(svc))
	r.Get("/{tileset}/{z:[0-9]+}/{x:[0-9]+}/{y:[0-9]+}.pbf", handleTile(svc, opts))

	for _, st := range opts.Static {
		prefix := st.Path
		r.Mount(prefix, http.StripPrefix(prefix, http.FileServer(http.Dir(st.Dir))))
	}

	if opts.Viewer {
		r.Get("/", handleViewer(svc))
	}
	return r
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func handleTile(svc *service.Service, opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		name := chi.URLParam(r, "tileset")

		zoom, err1 := strconv.Atoi(chi.URLParam(r, "z"))
		x, err2 := strconv.ParseUint(chi.URLParam(r, "x"), 10, 32)
		y, err3 := strconv.ParseUint(chi.URLParam(r, "y"), 10, 32)
		if err1 != nil || err2 != nil || err3 != nil {
			http.Error(sw, "invalid tile address", http.StatusBadRequest)
			observability.ObserveTile(name, sw.code, time.Since(start).Seconds())
			return
		}

		data, err := svc.Tile(r.Context(), name, zoom, uint32(x), uint32(y))
		switch {
		case errors.Is(err, service.ErrTilesetNotFound):
			http.Error(sw, "tileset not found", http.StatusNotFound)
		case errors.Is(err, service.ErrTileOutOfRange):
			http.Error(sw, "tile out of range", http.StatusBadRequest)
		case err != nil:
			opts.Logger.Error("tile request failed",
				"tileset", name, "z", zoom, "x", x, "y", y, "err", err)
			http.Error(sw, "internal server error", http.StatusInternalServerError)
		case data == nil:
			setCacheControl(sw, opts.CacheControlMaxAge)
			sw.WriteHeader(http.StatusNoContent)
		default:
			sw.Header().Set("Content-Type", "application/x-protobuf")
			sw.Header().Set("Content-Encoding", "gzip")
			setCacheControl(sw, opts.CacheControlMaxAge)
			_, _ = sw.Write(data)
		}
		observability.ObserveTile(name, sw.code, time.Since(start).Seconds())
	}
}

func setCacheControl(w http.ResponseWriter, maxAge int) {
	if maxAge > 0 {
		w.Header().Set("Cache-Control", fmt.Sprintf("max-age=%d", maxAge))
	}
}

type tilesetSummary struct {
	Name     string `json:"name"`
	TileJSON string `json:"tilejson"`
	Tiles    string `json:"tiles"`
}

func handleIndex(svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		base := baseURL(r)
		out := struct {
			Tilesets []tilesetSummary `json:"tilesets"`
		}{Tilesets: []tilesetSummary{}}
		for _, ts := range svc.Tilesets() {
			out.Tilesets = append(out.Tilesets, tilesetSummary{
				Name:     ts.Name,
				TileJSON: fmt.Sprintf("%s/%s.json", base, ts.Name),
				Tiles:    fmt.Sprintf("%s/%s/{z}/{x}/{y}.pbf", base, ts.Name),
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleTileJSON(svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "tileset")
		ts, ok := svc.Tileset(name)
		if !ok {
			http.Error(w, "tileset not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, tileJSON(ts, baseURL(r)))
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// baseURL reconstructs the externally visible origin, honoring the
// forwarded proto set by TLS-terminating proxies.
func baseURL(r *http.Request) string {
	scheme := "http"
	if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
		scheme = p
	} else if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}
