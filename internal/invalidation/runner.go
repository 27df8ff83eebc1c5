package invalidation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mapfold/tileserv/internal/cache"
	"github.com/mapfold/tileserv/internal/cache/keys"
	"github.com/mapfold/tileserv/internal/config"
	"github.com/mapfold/tileserv/internal/observability"
	"github.com/mapfold/tileserv/internal/tileset"
)

// maxTilesPerZoom bounds the per-zoom eviction fanout. Zoom levels whose
// affected tile range exceeds it are skipped; their tiles age out via TTL.
const maxTilesPerZoom = 1 << 16

type HotnessResetter interface {
	Reset(keys ...string)
}

type Runner struct {
	log      *slog.Logger
	cfg      config.Invalidation
	cache    cache.Interface
	tilesets []*tileset.Tileset
	ms       *metricSet
	ver      *appliedVersions
	assigned atomic.Bool
	assignMu sync.RWMutex
	assign   map[int32]struct{}
	wg       sync.WaitGroup
	cancel   context.CancelFunc
	hot      HotnessResetter
}

type Options struct {
	Logger   *slog.Logger
	Register prometheus.Registerer
	Hotness  HotnessResetter
}

func New(cfg config.Invalidation, c cache.Interface, tilesets []*tileset.Tileset, opts Options) *Runner {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Runner{
		log:      opts.Logger,
		cfg:      cfg,
		cache:    c,
		tilesets: tilesets,
		ms:       newMetricSet(opts.Register),
		ver:      newAppliedVersions(1024),
		assign:   map[int32]struct{}{},
		hot:      opts.Hotness,
	}
}

func (r *Runner) Start(ctx context.Context) error {
	if r.cfg.Driver != "kafka" || !r.cfg.Enabled {
		r.log.Info("invalidation runner disabled", "driver", r.cfg.Driver, "enabled", r.cfg.Enabled)
		return nil
	}
	if r.cache == nil {
		return errors.New("invalidation runner: cache dependency is required")
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Consumer.Group.Session.Timeout = 30 * time.Second
	cfg.Consumer.Group.Heartbeat.Interval = 3 * time.Second
	cfg.Consumer.Group.Rebalance.Timeout = 30 * time.Second
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(r.cfg.Brokers, r.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("consumer group: %w", err)
	}

	h := &groupHandler{
		setup: func(sess sarama.ConsumerGroupSession) {
			claims := sess.Claims()
			r.assignMu.Lock()
			r.assigned.Store(true)
			r.assign = map[int32]struct{}{}
			for _, parts := range claims {
				for _, p := range parts {
					r.assign[p] = struct{}{}
				}
			}
			r.assignMu.Unlock()
		},
		cleanup: func(sarama.ConsumerGroupSession) {
			r.assignMu.Lock()
			r.assigned.Store(false)
			r.assign = map[int32]struct{}{}
			r.assignMu.Unlock()
		},
		process: r.handleMessage,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if err := group.Close(); err != nil {
				r.log.Error("kafka consumer group close", "err", err)
			}
		}()

		for {
			if err := group.Consume(ctx, []string{r.cfg.Topic}, h); err != nil {
				r.log.Error("kafka consume error", "err", err)
				select {
				case <-time.After(2 * time.Second):
				case <-ctx.Done():
					return
				}
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for err := range group.Errors() {
			r.log.Error("kafka group error", "err", err)
		}
	}()

	r.log.Info("kafka invalidation runner started",
		"topic", r.cfg.Topic, "group", r.cfg.GroupID, "brokers", r.cfg.Brokers)
	return nil
}

func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.log.Info("kafka invalidation runner stopped")
}

func (r *Runner) Readiness() (ready bool, partitions []int32) {
	if !r.assigned.Load() {
		return false, nil
	}
	r.assignMu.RLock()
	defer r.assignMu.RUnlock()
	for p := range r.assign {
		partitions = append(partitions, p)
	}
	return true, partitions
}

func (r *Runner) handleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	start := time.Now()

	if !msg.Timestamp.IsZero() {
		lag := time.Since(msg.Timestamp).Seconds()
		r.ms.lagGauge.Set(lag)
		observability.SetInvalidationLagSeconds(lag)
	}

	var ev Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		r.ms.msgs.WithLabelValues("error").Inc()
		return fmt.Errorf("decode: %w", err)
	}
	if err := ev.Validate(); err != nil {
		r.ms.msgs.WithLabelValues("error").Inc()
		return fmt.Errorf("validate: %w", err)
	}

	err := r.apply(ctx, ev)
	r.observe(ev.Op, err, time.Since(start))
	return err
}

func (r *Runner) observe(op string, err error, dur time.Duration) {
	if op == "" {
		op = "unknown"
	}
	if err != nil {
		r.ms.msgs.WithLabelValues("error").Inc()
	} else {
		r.ms.msgs.WithLabelValues("ok").Inc()
	}
	r.ms.proc.WithLabelValues(op).Observe(dur.Seconds())
}

func (r *Runner) apply(ctx context.Context, ev Event) error {
	if !r.ver.record(ev) {
		r.ms.apply.WithLabelValues("skip_version").Inc()
		r.log.Debug("stale invalidation version skipped",
			"tileset", ev.Tileset, "layer", ev.Layer, "version", ev.Version)
		return nil
	}

	delKeys := r.keysForEvent(ev)
	if len(delKeys) == 0 {
		r.log.Debug("no tiles to invalidate", "layer", ev.Layer, "op", ev.Op)
		return nil
	}

	if err := r.cache.Del(ctx, delKeys...); err != nil {
		return fmt.Errorf("cache del (%d keys): %w", len(delKeys), err)
	}
	r.ms.apply.WithLabelValues("delete").Add(float64(len(delKeys)))
	observability.AddInvalidatedTiles(len(delKeys))

	if r.hot != nil {
		r.hot.Reset(delKeys...)
	}

	r.log.Debug("invalidated tiles",
		"layer", ev.Layer, "op", ev.Op, "keys", len(delKeys))
	return nil
}

// keysForEvent enumerates the cache keys of every tile the event touches
// across the configured zoom range of each affected tileset.
func (r *Runner) keysForEvent(ev Event) []string {
	var out []string
	for _, ts := range r.tilesets {
		if !r.affects(ev, ts) {
			continue
		}
		fp := ts.Fingerprint()

		lo := max(ts.MinZoom, r.cfg.MinZoom)
		hi := min(ts.MaxZoom, r.cfg.MaxZoom)
		if ev.MinZoom != nil && *ev.MinZoom > lo {
			lo = *ev.MinZoom
		}
		if ev.MaxZoom != nil && *ev.MaxZoom < hi {
			hi = *ev.MaxZoom
		}

		ext := ts.Grid.Extent
		if ev.BBox != nil {
			ext.MinX, ext.MinY = ev.BBox.MinX, ev.BBox.MinY
			ext.MaxX, ext.MaxY = ev.BBox.MaxX, ev.BBox.MaxY
		}

		for z := lo; z <= hi; z++ {
			minX, minY, maxX, maxY, ok := ts.Grid.TileRange(z, ext)
			if !ok {
				continue
			}
			count := uint64(maxX-minX+1) * uint64(maxY-minY+1)
			if count > maxTilesPerZoom {
				r.ms.apply.WithLabelValues("skip_fanout").Inc()
				r.log.Warn("invalidation fanout too large, leaving zoom to TTL expiry",
					"tileset", ts.Name, "zoom", z, "tiles", count)
				continue
			}
			for x := minX; x <= maxX; x++ {
				for y := minY; y <= maxY; y++ {
					out = append(out, keys.Tile(ts.Name, z, x, y, fp))
				}
			}
		}
	}
	return out
}

func (r *Runner) affects(ev Event, ts *tileset.Tileset) bool {
	if ev.Tileset != "" {
		return ev.Tileset == ts.Name
	}
	for i := range ts.Layers {
		if ts.Layers[i].Name == ev.Layer {
			return true
		}
	}
	return false
}

type groupHandler struct {
	setup   func(sarama.ConsumerGroupSession)
	cleanup func(sarama.ConsumerGroupSession)
	process func(context.Context, *sarama.ConsumerMessage) error
}

func (h *groupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	if h.setup != nil {
		h.setup(sess)
	}
	return nil
}

func (h *groupHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	if h.cleanup != nil {
		h.cleanup(sess)
	}
	return nil
}

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	for msg := range claim.Messages() {
		if err := h.process(ctx, msg); err != nil {
			return err
		}
		sess.MarkMessage(msg, "")
	}
	return nil
}
