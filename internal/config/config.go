// Package config loads and validates the TOML configuration document.
// The configuration is read once at startup and treated as immutable.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Duration accepts "90s", "10m" style values in TOML.
type Duration time.Duration

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", string(b), err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	Service      Service         `toml:"service"`
	Datasources  []Datasource    `toml:"datasource" validate:"min=1,dive"`
	Grids        map[string]Grid `toml:"grid" validate:"dive"`
	Tilesets     []Tileset       `toml:"tileset" validate:"min=1,dive"`
	Webserver    Webserver       `toml:"webserver"`
	Cache        Cache           `toml:"cache"`
	Invalidation Invalidation    `toml:"invalidation"`
	Log          Log             `toml:"log"`
}

type Service struct {
	MVT MVTService `toml:"mvt"`
}

type MVTService struct {
	Viewer bool `toml:"viewer"`
}

type Datasource struct {
	Name         string `toml:"name"`
	DBConn       string `toml:"dbconn" validate:"required"`
	PoolMaxConns int    `toml:"pool_max_conns" validate:"gte=0"`
}

type Extent struct {
	MinX float64 `toml:"minx"`
	MinY float64 `toml:"miny"`
	MaxX float64 `toml:"maxx"`
	MaxY float64 `toml:"maxy"`
}

type Grid struct {
	Width       uint32    `toml:"width" validate:"required"`
	Height      uint32    `toml:"height" validate:"required"`
	Extent      Extent    `toml:"extent"`
	SRID        int       `toml:"srid" validate:"required"`
	Units       string    `toml:"units" validate:"omitempty,oneof=m dd ft"`
	Resolutions []float64 `toml:"resolutions" validate:"min=1"`
	Origin      string    `toml:"origin" validate:"omitempty,oneof=TopLeft BottomLeft"`
}

type Tileset struct {
	Name        string  `toml:"name" validate:"required"`
	Grid        string  `toml:"grid"`
	Extent      *Extent `toml:"extent"`
	Attribution string  `toml:"attribution"`
	MinZoom     *int    `toml:"minzoom" validate:"omitempty,gte=0"`
	MaxZoom     *int    `toml:"maxzoom" validate:"omitempty,gte=0"`
	Layers      []Layer `toml:"layer" validate:"min=1,dive"`
}

type Layer struct {
	Name          string  `toml:"name" validate:"required"`
	Datasource    string  `toml:"datasource"`
	TableName     string  `toml:"table_name"`
	GeometryField string  `toml:"geometry_field"`
	GeometryType  string  `toml:"geometry_type" validate:"omitempty,oneof=POINT MULTIPOINT LINESTRING MULTILINESTRING POLYGON MULTIPOLYGON"`
	FidField      string  `toml:"fid_field"`
	SRID          int     `toml:"srid"`
	BufferSize    int     `toml:"buffer_size" validate:"gte=0"`
	Simplify      bool    `toml:"simplify"`
	TileSize      uint32  `toml:"tile_size"`
	Queries       []Query `toml:"query" validate:"dive"`
}

type Query struct {
	MinZoom int    `toml:"minzoom" validate:"gte=0"`
	MaxZoom int    `toml:"maxzoom" validate:"gte=0"`
	SQL     string `toml:"sql"`
}

type Webserver struct {
	Bind               string   `toml:"bind"`
	Port               int      `toml:"port" validate:"gte=0,lte=65535"`
	CacheControlMaxAge int      `toml:"cache_control_max_age" validate:"gte=0"`
	Static             []Static `toml:"static" validate:"dive"`
}

func (w Webserver) Addr() string {
	return fmt.Sprintf("%s:%d", w.Bind, w.Port)
}

type Static struct {
	Path string `toml:"path" validate:"required,startswith=/"`
	Dir  string `toml:"dir" validate:"required"`
}

type Cache struct {
	// MemoryEntries sizes the in-process LRU tier; 0 disables it.
	MemoryEntries int        `toml:"memory_entries" validate:"gte=0"`
	TTLDefault    Duration   `toml:"ttl"`
	TTLHot        Duration   `toml:"ttl_hot"`
	TTLCold       Duration   `toml:"ttl_cold"`
	HotScore      float64    `toml:"hot_score" validate:"gte=0"`
	HotHalfLife   Duration   `toml:"hot_half_life"`
	File          FileCache  `toml:"file"`
	Redis         RedisCache `toml:"redis"`
}

// Driver resolves which backend the cache registry should construct.
func (c Cache) Driver() string {
	switch {
	case c.Redis.Addr != "":
		return "redis"
	case c.File.Base != "":
		return "file"
	default:
		return "none"
	}
}

type FileCache struct {
	Base string `toml:"base"`
}

type RedisCache struct {
	Addr      string   `toml:"addr"`
	OpTimeout Duration `toml:"op_timeout"`
}

type Invalidation struct {
	Enabled bool     `toml:"enabled"`
	Driver  string   `toml:"driver" validate:"omitempty,oneof=none kafka"`
	Brokers []string `toml:"brokers"`
	Topic   string   `toml:"topic"`
	GroupID string   `toml:"group_id"`
	MinZoom int      `toml:"minzoom" validate:"gte=0"`
	MaxZoom int      `toml:"maxzoom" validate:"gte=0"`
}

type Log struct {
	Level   string `toml:"level" validate:"omitempty,oneof=debug info warn error"`
	Console bool   `toml:"console"`
}

// Load reads, decodes, defaults and validates a configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

func Parse(b []byte) (*Config, error) {
	var cfg Config
	if err := toml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Webserver.Bind == "" {
		c.Webserver.Bind = "127.0.0.1"
	}
	if c.Webserver.Port == 0 {
		c.Webserver.Port = 6767
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Cache.TTLDefault == 0 {
		c.Cache.TTLDefault = Duration(time.Hour)
	}
	if c.Cache.TTLHot == 0 {
		c.Cache.TTLHot = 2 * c.Cache.TTLDefault
	}
	if c.Cache.TTLCold == 0 {
		c.Cache.TTLCold = c.Cache.TTLDefault / 2
	}
	if c.Cache.HotScore == 0 {
		c.Cache.HotScore = 10
	}
	if c.Cache.HotHalfLife == 0 {
		c.Cache.HotHalfLife = Duration(time.Minute)
	}
	if c.Cache.Redis.Addr != "" && c.Cache.Redis.OpTimeout == 0 {
		c.Cache.Redis.OpTimeout = Duration(250 * time.Millisecond)
	}
	if c.Invalidation.Driver == "" {
		c.Invalidation.Driver = "none"
	}
	if c.Invalidation.Topic == "" {
		c.Invalidation.Topic = "tile-invalidation"
	}
	if c.Invalidation.GroupID == "" {
		c.Invalidation.GroupID = "tileserv"
	}
	if c.Invalidation.MaxZoom == 0 {
		c.Invalidation.MaxZoom = 22
	}

	for i := range c.Datasources {
		if c.Datasources[i].Name == "" {
			c.Datasources[i].Name = fmt.Sprintf("datasource%d", i)
		}
	}

	defaultDS := ""
	if len(c.Datasources) > 0 {
		defaultDS = c.Datasources[0].Name
	}
	for ti := range c.Tilesets {
		ts := &c.Tilesets[ti]
		if ts.Grid == "" {
			ts.Grid = "web_mercator"
		}
		for li := range ts.Layers {
			l := &ts.Layers[li]
			if l.Datasource == "" {
				l.Datasource = defaultDS
			}
			if l.GeometryField == "" {
				l.GeometryField = "geometry"
			}
			if l.TileSize == 0 {
				l.TileSize = 4096
			}
			for qi := range l.Queries {
				if l.Queries[qi].MaxZoom == 0 {
					l.Queries[qi].MaxZoom = 22
				}
			}
		}
	}
}

// applyEnv overrides operational knobs from the environment.
func (c *Config) applyEnv() {
	if v := getenv("TILESERV_BIND", ""); v != "" {
		c.Webserver.Bind = v
	}
	if n := getint("TILESERV_PORT", 0); n != 0 {
		c.Webserver.Port = n
	}
	if v := getenv("LOG_LEVEL", ""); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v := getenv("REDIS_ADDR", ""); v != "" {
		c.Cache.Redis.Addr = v
		if c.Cache.Redis.OpTimeout == 0 {
			c.Cache.Redis.OpTimeout = Duration(250 * time.Millisecond)
		}
	}
	if v := getenv("KAFKA_BROKERS", ""); v != "" {
		c.Invalidation.Brokers = splitList(v)
	}
	if v := getenv("DBCONN", ""); v != "" && len(c.Datasources) > 0 {
		c.Datasources[0].DBConn = v
	}
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	dsNames := map[string]struct{}{}
	for _, ds := range c.Datasources {
		if _, dup := dsNames[ds.Name]; dup {
			return fmt.Errorf("duplicate datasource name %q", ds.Name)
		}
		dsNames[ds.Name] = struct{}{}
	}

	for name, g := range c.Grids {
		ext := g.Extent
		if ext.MaxX <= ext.MinX || ext.MaxY <= ext.MinY {
			return fmt.Errorf("grid %q: degenerate extent", name)
		}
		for i, r := range g.Resolutions {
			if r <= 0 {
				return fmt.Errorf("grid %q: resolution %d is not positive", name, i)
			}
			if i > 0 && r >= g.Resolutions[i-1] {
				return fmt.Errorf("grid %q: resolutions must strictly decrease", name)
			}
		}
	}

	tsNames := map[string]struct{}{}
	for _, ts := range c.Tilesets {
		if _, dup := tsNames[ts.Name]; dup {
			return fmt.Errorf("duplicate tileset name %q", ts.Name)
		}
		tsNames[ts.Name] = struct{}{}

		if !builtinGrid(ts.Grid) {
			if _, ok := c.Grids[ts.Grid]; !ok {
				return fmt.Errorf("tileset %q: unknown grid %q", ts.Name, ts.Grid)
			}
		}
		if ts.Extent != nil && (ts.Extent.MaxX <= ts.Extent.MinX || ts.Extent.MaxY <= ts.Extent.MinY) {
			return fmt.Errorf("tileset %q: degenerate extent", ts.Name)
		}
		for _, l := range ts.Layers {
			if _, ok := dsNames[l.Datasource]; !ok {
				return fmt.Errorf("tileset %q layer %q: unknown datasource %q", ts.Name, l.Name, l.Datasource)
			}
			for _, q := range l.Queries {
				if q.MaxZoom < q.MinZoom {
					return fmt.Errorf("tileset %q layer %q: maxzoom below minzoom", ts.Name, l.Name)
				}
				if q.SQL == "" && l.TableName == "" {
					return fmt.Errorf("tileset %q layer %q: query without sql needs table_name", ts.Name, l.Name)
				}
			}
			if len(l.Queries) == 0 && l.TableName == "" {
				return fmt.Errorf("tileset %q layer %q: needs table_name or at least one query", ts.Name, l.Name)
			}
		}
	}

	if c.Invalidation.Enabled && c.Invalidation.Driver == "kafka" && len(c.Invalidation.Brokers) == 0 {
		return fmt.Errorf("invalidation: kafka driver needs brokers")
	}
	return nil
}

func builtinGrid(name string) bool {
	return name == "web_mercator" || name == "wgs84"
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
