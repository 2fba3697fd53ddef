package keys

import (
	"regexp"
	"strings"
	"testing"
	"unicode"
)

var keyAlphabet = regexp.MustCompile(`^[A-Za-z0-9:_=.\-]+$`)

func TestDeterminism_SameInputsSameKey(t *testing.T) {
	k1 := Overlay("valencia", "https://data.example/prueba6.tif", "crs=EPSG:3857 dx=0 dy=0 opacity=0.5")
	k2 := Overlay("valencia", "https://data.example/prueba6.tif", "crs=EPSG:3857 dx=0 dy=0 opacity=0.5")
	if k1 != k2 {
		t.Fatalf("determinism failed:\n k1=%s\n k2=%s", k1, k2)
	}
}

func TestNormalization_SpacingVariantsProduceSameKey(t *testing.T) {
	k1 := Overlay(" valencia ", " a.tif ", "  crs=EPSG:3857   dx=0\tdy=0 ")
	k2 := Overlay("valencia", "a.tif", "crs=EPSG:3857 dx=0 dy=0")
	if k1 != k2 {
		t.Fatalf("normalized keys differ:\n k1=%s\n k2=%s", k1, k2)
	}
	if !keyAlphabet.MatchString(k1) {
		t.Fatalf("key contains disallowed characters: %s", k1)
	}
}

func TestDifference_ParamsAndSourcesSeparateKeys(t *testing.T) {
	base := Overlay("l", "a.tif", "dx=0 dy=0")
	if base == Overlay("l", "a.tif", "dx=0 dy=-4400") {
		t.Fatalf("different params must produce different keys")
	}
	if base == Overlay("l", "b.tif", "dx=0 dy=0") {
		t.Fatalf("different sources must produce different keys")
	}
	if base == Overlay("m", "a.tif", "dx=0 dy=0") {
		t.Fatalf("different layers must produce different keys")
	}
}

func TestAdHocLayer_WhenLayerEmpty(t *testing.T) {
	k := Overlay("", "a.tif", "")
	if !strings.HasPrefix(k, "overlay:"+AdHocLayer+":") {
		t.Fatalf("expected ad-hoc prefix, got %s", k)
	}
	if LayerSet("") != "overlayset:layer:"+AdHocLayer {
		t.Fatalf("unexpected ad-hoc layer set %s", LayerSet(""))
	}
}

func TestUnicodeSafety_NoPanicAndASCIIOnly(t *testing.T) {
	for _, k := range []string{
		Overlay("capa ñandú", "файл.tif", "crs=+proj=cea +lat_ts=38.8 note=雪"),
		LayerSet("Göteborg"),
		CoverageLayer("väg"),
	} {
		for _, r := range k {
			if r > unicode.MaxASCII {
				t.Fatalf("non-ASCII rune leaked into key: %q in %s", r, k)
			}
		}
		if !keyAlphabet.MatchString(k) {
			t.Fatalf("key contains disallowed characters: %s", k)
		}
	}
}

func TestLongParamsTruncatedButHashed(t *testing.T) {
	long1 := strings.Repeat("x", 400) + "1"
	long2 := strings.Repeat("x", 400) + "2"
	k1, k2 := Overlay("l", "a", long1), Overlay("l", "a", long2)
	if k1 == k2 {
		t.Fatalf("hash suffix must separate long params")
	}
	if len(k1) > 220 {
		t.Fatalf("key too long: %d", len(k1))
	}
}

func TestSetKeysStable(t *testing.T) {
	if SourceSet("a.tif") != SourceSet(" a.tif ") {
		t.Fatalf("source set must ignore surrounding whitespace")
	}
	if CoverageCell("872a1072bffffff") != "coverage:cell:872a1072bffffff" {
		t.Fatalf("unexpected coverage cell key %s", CoverageCell("872a1072bffffff"))
	}
}

func TestMatchers_LayerAndSource(t *testing.T) {
	k := Overlay("valencia", "a.tif", "dx=0 src=ffff")
	if !InLayer(k, " valencia ") || InLayer(k, "valen") {
		t.Fatalf("InLayer mismatch for %s", k)
	}
	if !FromSource(k, "a.tif") || FromSource(k, "b.tif") {
		t.Fatalf("FromSource mismatch for %s", k)
	}
	adhoc := Overlay("", "a.tif", "")
	if !InLayer(adhoc, "") || !InLayer(adhoc, AdHocLayer) {
		t.Fatalf("ad-hoc key not matched: %s", adhoc)
	}
	if InLayer("coverage:cell:abc", "abc") || FromSource("overlay:x", "a.tif") {
		t.Fatalf("non-overlay keys must not match")
	}
}
