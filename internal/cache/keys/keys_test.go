package keys

import (
	"regexp"
	"testing"
	"unicode"
)

func TestTile_Deterministic(t *testing.T) {
	k1 := Tile("osm", 12, 2136, 1432, 0xdeadbeef)
	k2 := Tile("osm", 12, 2136, 1432, 0xdeadbeef)
	if k1 != k2 {
		t.Fatalf("determinism failed:\n k1=%s\n k2=%s", k1, k2)
	}
}

func TestTile_FingerprintSeparatesConfigs(t *testing.T) {
	k1 := Tile("osm", 12, 2136, 1432, 1)
	k2 := Tile("osm", 12, 2136, 1432, 2)
	if k1 == k2 {
		t.Fatal("different fingerprints must produce different keys")
	}
}

func TestTile_Shape(t *testing.T) {
	k := Tile("osm", 3, 4, 5, 0xab)
	if !regexp.MustCompile(`^osm:3:4:5:f=[0-9a-f]{16}$`).MatchString(k) {
		t.Fatalf("unexpected key shape: %s", k)
	}
}

func TestSanitize_NonASCIIAndWhitespace(t *testing.T) {
	k := Tile("natural earth / Göteborg", 0, 0, 0, 1)
	for _, r := range k {
		if r > unicode.MaxASCII {
			t.Fatalf("non-ASCII rune leaked into key: %q in %s", r, k)
		}
	}
	if regexp.MustCompile(`[ /]`).MatchString(k) {
		t.Fatalf("separator characters leaked into key: %s", k)
	}
}

func TestSanitize_CollapsesRuns(t *testing.T) {
	if got := Sanitize("a   b///c"); got != "a_b-c" {
		t.Fatalf("got %q", got)
	}
}
