package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/mapfold/tileserv/internal/logger"
)

func TestLogging_RecordsTileAddressAndStatus(t *testing.T) {
	var buf bytes.Buffer
	zl := logger.Build(logger.Config{Level: "debug"}, &buf)
	l := logger.NewSlog(&zl)

	r := chi.NewRouter()
	r.Use(Logging(l))
	r.Get("/{tileset}/{z}/{x}/{y}.pbf", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("tile"))
	})

	req := httptest.NewRequest(http.MethodGet, "/osm/3/4/5.pbf", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("request id header not set")
	}

	var line struct {
		Msg     string `json:"msg"`
		Tileset string `json:"tileset"`
		Z       string `json:"z"`
		X       string `json:"x"`
		Y       string `json:"y"`
		Status  int    `json:"status"`
		Bytes   int    `json:"bytes"`
	}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line is not JSON: %v (%s)", err, buf.String())
	}
	if line.Msg != "request served" {
		t.Fatalf("msg = %q", line.Msg)
	}
	if line.Tileset != "osm" || line.Z != "3" || line.X != "4" || line.Y != "5" {
		t.Fatalf("tile address = %s/%s/%s/%s", line.Tileset, line.Z, line.X, line.Y)
	}
	if line.Status != http.StatusOK || line.Bytes != 4 {
		t.Fatalf("status=%d bytes=%d", line.Status, line.Bytes)
	}
}

func TestLogging_KeepsCallerRequestID(t *testing.T) {
	var buf bytes.Buffer
	zl := logger.Build(logger.Config{Level: "debug"}, &buf)
	l := logger.NewSlog(&zl)

	r := chi.NewRouter()
	r.Use(Logging(l))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "deadbeef01234567")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "deadbeef01234567" {
		t.Fatalf("request id = %q", got)
	}
}

func TestRecover_Turns500(t *testing.T) {
	h := Recover()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/osm/0/0/0.pbf", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestCORS_ReadOnlySurface(t *testing.T) {
	h := CORS()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/osm/0/0/0.pbf", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); got != "GET, HEAD, OPTIONS" {
		t.Fatalf("allow-methods = %q", got)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/osm.json", nil))
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("allow-origin = %q", got)
	}
	if got := rec.Header().Get("Access-Control-Expose-Headers"); got != "X-Request-ID" {
		t.Fatalf("expose-headers = %q", got)
	}
}
