// Package cache defines the tile cache interface and the backend driver
// registry.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mapfold/tileserv/internal/config"
)

// ErrMiss is returned by Get when the key is not cached.
var ErrMiss = errors.New("cache: miss")

type Interface interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Close() error
}

type Factory func(cfg config.Cache, logger *slog.Logger) (Interface, error)

var reg = map[string]Factory{}

func Register(name string, f Factory) {
	reg[name] = f
}

// New constructs the backend selected by cfg.Driver().
func New(cfg config.Cache, logger *slog.Logger) (Interface, error) {
	name := cfg.Driver()
	f, ok := reg[name]
	if !ok {
		return nil, fmt.Errorf("no cache driver registered for %q", name)
	}
	c, err := f(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("cache driver %q: %w", name, err)
	}
	return c, nil
}

type nopCache struct{}

func (nopCache) Get(context.Context, string) ([]byte, error)              { return nil, ErrMiss }
func (nopCache) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (nopCache) Del(context.Context, ...string) error                     { return nil }
func (nopCache) Close() error                                             { return nil }

func init() {
	Register("none", func(config.Cache, *slog.Logger) (Interface, error) {
		return nopCache{}, nil
	})
}
