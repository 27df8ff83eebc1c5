package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTOML = `
[service.mvt]
viewer = true

[[datasource]]
dbconn = "postgresql://pi@localhost/natural_earth_vectors"

[grid.user]
width = 256
height = 256
extent = { minx = 2420000.0, miny = 1030000.0, maxx = 2900000.0, maxy = 1350000.0 }
srid = 2056
units = "m"
resolutions = [4000.0, 2000.0, 1000.0, 500.0, 250.0, 100.0]
origin = "TopLeft"

[[tileset]]
name = "osm"
extent = { minx = -180.0, miny = -90.0, maxx = 180.0, maxy = 90.0 }

[[tileset.layer]]
name = "points"
table_name = "ne_10m_populated_places"
geometry_field = "wkb_geometry"
geometry_type = "POINT"
fid_field = "id"
srid = 3857
buffer_size = 10
simplify = true

[[tileset.layer.query]]
minzoom = 10
sql = "SELECT name, wkb_geometry FROM ne_10m_populated_places WHERE wkb_geometry && !bbox!"

[webserver]
bind = "0.0.0.0"
port = 6767
cache_control_max_age = 43200

[[webserver.static]]
path = "/static"
dir = "./public"

[cache.redis]
addr = "localhost:6379"

[invalidation]
enabled = true
driver = "kafka"
brokers = ["localhost:9092"]
`

func TestParse_SampleConfig(t *testing.T) {
	cfg, err := Parse([]byte(sampleTOML))
	require.NoError(t, err)

	assert.True(t, cfg.Service.MVT.Viewer)

	require.Len(t, cfg.Datasources, 1)
	assert.Equal(t, "datasource0", cfg.Datasources[0].Name)

	g, ok := cfg.Grids["user"]
	require.True(t, ok)
	assert.Equal(t, 2056, g.SRID)
	assert.Equal(t, "TopLeft", g.Origin)
	assert.Len(t, g.Resolutions, 6)

	require.Len(t, cfg.Tilesets, 1)
	ts := cfg.Tilesets[0]
	assert.Equal(t, "osm", ts.Name)
	assert.Equal(t, "web_mercator", ts.Grid)

	require.Len(t, ts.Layers, 1)
	l := ts.Layers[0]
	assert.Equal(t, "datasource0", l.Datasource)
	assert.Equal(t, "wkb_geometry", l.GeometryField)
	assert.Equal(t, uint32(4096), l.TileSize)
	require.Len(t, l.Queries, 1)
	assert.Equal(t, 10, l.Queries[0].MinZoom)
	assert.Equal(t, 22, l.Queries[0].MaxZoom, "maxzoom defaults to 22")

	assert.Equal(t, "0.0.0.0:6767", cfg.Webserver.Addr())
	assert.Equal(t, 43200, cfg.Webserver.CacheControlMaxAge)

	assert.Equal(t, "redis", cfg.Cache.Driver())
	assert.Equal(t, time.Hour, cfg.Cache.TTLDefault.Std())
	assert.Equal(t, 250*time.Millisecond, cfg.Cache.Redis.OpTimeout.Std())

	assert.Equal(t, 22, cfg.Invalidation.MaxZoom)
	assert.Equal(t, "tile-invalidation", cfg.Invalidation.Topic)
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(`
[[datasource]]
dbconn = "postgresql://localhost/db"

[[tileset]]
name = "t"
[[tileset.layer]]
name = "l"
table_name = "tbl"
`))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:6767", cfg.Webserver.Addr())
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "none", cfg.Cache.Driver())
	assert.Equal(t, 2*time.Hour, cfg.Cache.TTLHot.Std())
	assert.Equal(t, 30*time.Minute, cfg.Cache.TTLCold.Std())
}

func TestParse_Failures(t *testing.T) {
	cases := map[string]string{
		"no datasource": `
[[tileset]]
name = "t"
[[tileset.layer]]
name = "l"
table_name = "tbl"
`,
		"unknown grid": `
[[datasource]]
dbconn = "x"
[[tileset]]
name = "t"
grid = "missing"
[[tileset.layer]]
name = "l"
table_name = "tbl"
`,
		"non-decreasing resolutions": `
[[datasource]]
dbconn = "x"
[grid.g]
width = 256
height = 256
extent = { minx = 0.0, miny = 0.0, maxx = 10.0, maxy = 10.0 }
srid = 2056
resolutions = [10.0, 10.0]
[[tileset]]
name = "t"
grid = "g"
[[tileset.layer]]
name = "l"
table_name = "tbl"
`,
		"query without sql or table": `
[[datasource]]
dbconn = "x"
[[tileset]]
name = "t"
[[tileset.layer]]
name = "l"
[[tileset.layer.query]]
minzoom = 3
`,
		"unknown layer datasource": `
[[datasource]]
name = "a"
dbconn = "x"
[[tileset]]
name = "t"
[[tileset.layer]]
name = "l"
datasource = "b"
table_name = "tbl"
`,
		"maxzoom below minzoom": `
[[datasource]]
dbconn = "x"
[[tileset]]
name = "t"
[[tileset.layer]]
name = "l"
table_name = "tbl"
[[tileset.layer.query]]
minzoom = 10
maxzoom = 4
`,
		"kafka without brokers": `
[[datasource]]
dbconn = "x"
[[tileset]]
name = "t"
[[tileset.layer]]
name = "l"
table_name = "tbl"
[invalidation]
enabled = true
driver = "kafka"
`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}
