package invalidation

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mapfold/tileserv/internal/config"
	"github.com/mapfold/tileserv/internal/grid"
	"github.com/mapfold/tileserv/internal/tileset"
)

type fakeCache struct {
	mu  sync.Mutex
	del []string
	err error
}

func (f *fakeCache) Get(context.Context, string) ([]byte, error)              { return nil, nil }
func (f *fakeCache) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (f *fakeCache) Close() error                                             { return nil }

func (f *fakeCache) Del(_ context.Context, keys ...string) error {
	f.mu.Lock()
	f.del = append(f.del, keys...)
	f.mu.Unlock()
	return f.err
}

func (f *fakeCache) deleted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.del...)
}

type mockResetter struct {
	mu    sync.Mutex
	calls []string
}

func (m *mockResetter) Reset(keys ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, keys...)
}

func (m *mockResetter) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func testTilesets(t *testing.T) []*tileset.Tileset {
	t.Helper()
	return []*tileset.Tileset{
		{
			Name:    "osm",
			Grid:    grid.WebMercator(),
			MinZoom: 0,
			MaxZoom: 22,
			Layers:  []tileset.Layer{{Name: "roads"}, {Name: "buildings"}},
		},
		{
			Name:    "ne",
			Grid:    grid.WebMercator(),
			MinZoom: 0,
			MaxZoom: 22,
			Layers:  []tileset.Layer{{Name: "countries"}},
		},
	}
}

func testRunner(t *testing.T, fc *fakeCache, hot HotnessResetter) *Runner {
	t.Helper()
	cfg := config.Invalidation{
		Enabled: true,
		Driver:  "kafka",
		MinZoom: 0,
		MaxZoom: 3,
	}
	return New(cfg, fc, testTilesets(t), Options{
		Register: prometheus.NewRegistry(),
		Hotness:  hot,
	})
}

func mustMsg(t *testing.T, ev Event) *sarama.ConsumerMessage {
	t.Helper()
	b, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	return &sarama.ConsumerMessage{
		Topic: "t", Partition: 0, Offset: 1,
		Timestamp: time.Now().UTC(), Value: b,
	}
}

func TestHandleMessage_WholeLayer(t *testing.T) {
	fc := &fakeCache{}
	r := testRunner(t, fc, nil)

	ev := Event{
		Version: 1,
		Op:      "update",
		Layer:   "roads",
		TS:      time.Now().UTC(),
	}
	if err := r.handleMessage(context.Background(), mustMsg(t, ev)); err != nil {
		t.Fatalf("handleMessage: %v", err)
	}

	// zooms 0..3 of the whole web-mercator extent: 1+4+16+64 tiles,
	// only for the tileset containing the layer
	want := 1 + 4 + 16 + 64
	got := fc.deleted()
	if len(got) != want {
		t.Fatalf("deleted %d keys, want %d", len(got), want)
	}
	for _, k := range got {
		if !strings.HasPrefix(k, "osm:") {
			t.Fatalf("key for wrong tileset: %s", k)
		}
	}
}

func TestHandleMessage_BBoxRestrictsRange(t *testing.T) {
	fc := &fakeCache{}
	r := testRunner(t, fc, nil)

	// NE quadrant only
	ev := Event{
		Version: 1,
		Op:      "update",
		Layer:   "countries",
		TS:      time.Now().UTC(),
		BBox:    &BBox{MinX: 1, MinY: 1, MaxX: 20000000, MaxY: 20000000},
	}
	if err := r.handleMessage(context.Background(), mustMsg(t, ev)); err != nil {
		t.Fatal(err)
	}

	for _, k := range fc.deleted() {
		if strings.HasPrefix(k, "ne:1:0:1:") || strings.HasPrefix(k, "ne:1:1:1:") {
			t.Fatalf("southern tile invalidated for northern bbox: %s", k)
		}
	}
	if len(fc.deleted()) == 0 {
		t.Fatal("expected deletions")
	}
}

func TestHandleMessage_VersionDedupe(t *testing.T) {
	fc := &fakeCache{}
	mr := &mockResetter{}
	r := testRunner(t, fc, mr)

	ev := Event{
		Version: 3,
		Op:      "update",
		Layer:   "roads",
		TS:      time.Now().UTC(),
		MaxZoom: intptr(0),
	}
	msg := mustMsg(t, ev)
	if err := r.handleMessage(context.Background(), msg); err != nil {
		t.Fatal(err)
	}
	first := len(fc.deleted())
	if first == 0 {
		t.Fatal("expected deletions on first delivery")
	}
	if mr.Count() != first {
		t.Fatalf("hotness resets = %d, want %d", mr.Count(), first)
	}

	// replay with the same version is a no-op
	if err := r.handleMessage(context.Background(), msg); err != nil {
		t.Fatal(err)
	}
	if len(fc.deleted()) != first {
		t.Fatalf("replay deleted more keys: %d -> %d", first, len(fc.deleted()))
	}

	// a newer version applies again
	ev.Version = 4
	if err := r.handleMessage(context.Background(), mustMsg(t, ev)); err != nil {
		t.Fatal(err)
	}
	if len(fc.deleted()) != 2*first {
		t.Fatalf("newer version did not apply: %d", len(fc.deleted()))
	}
}

func TestHandleMessage_TilesetScoped(t *testing.T) {
	fc := &fakeCache{}
	r := testRunner(t, fc, nil)

	ev := Event{
		Version: 1,
		Op:      "delete",
		Tileset: "ne",
		TS:      time.Now().UTC(),
		MaxZoom: intptr(1),
	}
	if err := r.handleMessage(context.Background(), mustMsg(t, ev)); err != nil {
		t.Fatal(err)
	}
	for _, k := range fc.deleted() {
		if !strings.HasPrefix(k, "ne:") {
			t.Fatalf("key outside scoped tileset: %s", k)
		}
	}
	if len(fc.deleted()) != 5 {
		t.Fatalf("deleted %d keys, want 5 (z0 + z1)", len(fc.deleted()))
	}
}

func TestHandleMessage_RejectsInvalid(t *testing.T) {
	r := testRunner(t, &fakeCache{}, nil)

	ev := Event{Version: 1, Op: "upsert", Layer: "roads", TS: time.Now().UTC()}
	if err := r.handleMessage(context.Background(), mustMsg(t, ev)); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestKeysForEvent_FanoutGuard(t *testing.T) {
	fc := &fakeCache{}
	cfg := config.Invalidation{Enabled: true, Driver: "kafka", MinZoom: 0, MaxZoom: 12}
	r := New(cfg, fc, testTilesets(t), Options{Register: prometheus.NewRegistry()})

	ev := Event{Version: 1, Op: "update", Layer: "roads", TS: time.Now().UTC()}
	ks := r.keysForEvent(ev)

	// whole-extent events stop expanding once a zoom exceeds the fanout
	// cap: zooms 0..8 fully enumerate, 9..12 are skipped
	want := 0
	for z := 0; z <= 8; z++ {
		want += (1 << z) * (1 << z)
	}
	if len(ks) != want {
		t.Fatalf("keys = %d, want %d", len(ks), want)
	}
}

func TestReadiness_FollowsAssignment(t *testing.T) {
	r := testRunner(t, &fakeCache{}, nil)

	if ready, _ := r.Readiness(); ready {
		t.Fatal("runner must not be ready before assignment")
	}

	r.assignMu.Lock()
	r.assigned.Store(true)
	r.assign = map[int32]struct{}{0: {}, 2: {}}
	r.assignMu.Unlock()

	ready, parts := r.Readiness()
	if !ready || len(parts) != 2 {
		t.Fatalf("ready=%v parts=%v", ready, parts)
	}
}

func intptr(v int) *int { return &v }
