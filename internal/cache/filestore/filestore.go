// Package filestore implements a filesystem tile cache backend. Keys map
// to paths under the base directory; expiry is enforced from file mtime.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mapfold/tileserv/internal/cache"
	"github.com/mapfold/tileserv/internal/config"
	"github.com/mapfold/tileserv/internal/observability"
)

type Store struct {
	base string
	log  *slog.Logger
	now  func() time.Time // for tests
}

func New(base string, logger *slog.Logger) (*Store, error) {
	if base == "" {
		return nil, errors.New("file cache base directory is required")
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("create cache base: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{base: base, log: logger, now: time.Now}, nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.base, filepath.FromSlash(strings.ReplaceAll(key, ":", "/"))+".pbf")
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	start := s.now()
	p := s.path(key)

	fi, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		observability.ObserveCacheOp("get", nil, time.Since(start).Seconds())
		return nil, cache.ErrMiss
	}
	if err != nil {
		observability.ObserveCacheOp("get", err, time.Since(start).Seconds())
		return nil, fmt.Errorf("file cache stat %q: %w", key, err)
	}

	if ttl := s.ttlOf(p); ttl > 0 && s.now().Sub(fi.ModTime()) > ttl {
		_ = os.Remove(p)
		_ = os.Remove(p + ".ttl")
		observability.ObserveCacheOp("get", nil, time.Since(start).Seconds())
		return nil, cache.ErrMiss
	}

	b, err := os.ReadFile(p)
	observability.ObserveCacheOp("get", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("file cache read %q: %w", key, err)
	}
	return b, nil
}

func (s *Store) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	start := s.now()
	p := s.path(key)

	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		observability.ObserveCacheOp("set", err, time.Since(start).Seconds())
		return fmt.Errorf("file cache mkdir %q: %w", key, err)
	}

	// write-then-rename keeps concurrent readers off partial tiles
	tmp, err := os.CreateTemp(filepath.Dir(p), ".tile-*")
	if err != nil {
		observability.ObserveCacheOp("set", err, time.Since(start).Seconds())
		return fmt.Errorf("file cache temp %q: %w", key, err)
	}
	if _, err := tmp.Write(val); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		observability.ObserveCacheOp("set", err, time.Since(start).Seconds())
		return fmt.Errorf("file cache write %q: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		observability.ObserveCacheOp("set", err, time.Since(start).Seconds())
		return fmt.Errorf("file cache close %q: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		_ = os.Remove(tmp.Name())
		observability.ObserveCacheOp("set", err, time.Since(start).Seconds())
		return fmt.Errorf("file cache rename %q: %w", key, err)
	}

	if ttl > 0 {
		if err := os.WriteFile(p+".ttl", []byte(ttl.String()), 0o644); err != nil {
			s.log.Warn("file cache ttl marker write failed", "key", key, "err", err)
		}
	} else {
		_ = os.Remove(p + ".ttl")
	}
	observability.ObserveCacheOp("set", nil, time.Since(start).Seconds())
	return nil
}

func (s *Store) Del(_ context.Context, keys ...string) error {
	start := s.now()
	var firstErr error
	for _, k := range keys {
		p := s.path(k)
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) && firstErr == nil {
			firstErr = fmt.Errorf("file cache remove %q: %w", k, err)
		}
		_ = os.Remove(p + ".ttl")
	}
	observability.ObserveCacheOp("del", firstErr, time.Since(start).Seconds())
	return firstErr
}

func (s *Store) Close() error { return nil }

func (s *Store) ttlOf(p string) time.Duration {
	b, err := os.ReadFile(p + ".ttl")
	if err != nil {
		return 0
	}
	d, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return 0
	}
	return d
}

func init() {
	cache.Register("file", func(cfg config.Cache, logger *slog.Logger) (cache.Interface, error) {
		return New(cfg.File.Base, logger)
	})
}
