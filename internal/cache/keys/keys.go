// Package keys builds the Redis and in-process keys used by the overlay cache
// and the coverage index.
package keys

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// AdHocLayer names overlays requested by source rather than catalog layer.
const AdHocLayer = "_adhoc"

// Overlay keys a rendered overlay by layer, source and the render params
// (crs, offset, opacity...). params is free text; only its normalized form
// and hash reach the key.
func Overlay(layer, source, params string) string {
	layerNorm := sanitize(strings.TrimSpace(layer), false)
	if layerNorm == "" {
		layerNorm = AdHocLayer
	}
	paramText := collapseASCIIWhitespace(params)
	paramSafe := sanitize(paramText, true)

	const maxParamTextLen = 120
	if len(paramSafe) > maxParamTextLen {
		paramSafe = paramSafe[:maxParamTextLen]
	}

	return fmt.Sprintf("overlay:%s:src=%016x:p=%s:f=%016x",
		layerNorm, xxhash.Sum64String(strings.TrimSpace(source)), paramSafe, xxhash.Sum64String(paramText))
}

// InLayer reports whether an Overlay key was built for layer.
func InLayer(key, layer string) bool {
	l, _, ok := splitOverlay(key)
	if !ok {
		return false
	}
	want := sanitize(strings.TrimSpace(layer), false)
	if want == "" {
		want = AdHocLayer
	}
	return l == want
}

// FromSource reports whether an Overlay key was built from source.
func FromSource(key, source string) bool {
	_, h, ok := splitOverlay(key)
	return ok && h == fmt.Sprintf("%016x", xxhash.Sum64String(strings.TrimSpace(source)))
}

// splitOverlay returns the layer and source hash of an Overlay key. Layers
// never contain '=', so the first ":src=" is the separator.
func splitOverlay(key string) (layer, srcHash string, ok bool) {
	rest, found := strings.CutPrefix(key, "overlay:")
	if !found {
		return "", "", false
	}
	i := strings.Index(rest, ":src=")
	if i < 0 || len(rest) < i+5+16 {
		return "", "", false
	}
	return rest[:i], rest[i+5 : i+5+16], true
}

// SourceSet holds every overlay key rendered from source.
func SourceSet(source string) string {
	return fmt.Sprintf("overlayset:src:%016x", xxhash.Sum64String(strings.TrimSpace(source)))
}

// LayerSet holds every overlay key rendered for layer.
func LayerSet(layer string) string {
	l := sanitize(strings.TrimSpace(layer), false)
	if l == "" {
		l = AdHocLayer
	}
	return "overlayset:layer:" + l
}

// CoverageCell holds the layers whose extent touches cell.
func CoverageCell(cell string) string {
	return "coverage:cell:" + sanitize(cell, false)
}

// CoverageLayer holds the cells a layer is indexed under.
func CoverageLayer(layer string) string {
	return "coverage:layer:" + sanitize(strings.TrimSpace(layer), false)
}

// sanitize maps whitespace to '_' and anything outside [A-Za-z0-9:_-] (and
// '=' and '.' when allowEq) to '-', collapsing repeats.
func sanitize(s string, allowEq bool) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))

	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == ':' || r == '_' || r == '-':
			out = r
		case allowEq && (r == '=' || r == '.'):
			out = r
		default:
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

// converts any run of ASCII whitespace to a single space.
func collapseASCIIWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	wasWS := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f' {
			if !wasWS {
				b.WriteByte(' ')
				wasWS = true
			}
			continue
		}
		b.WriteRune(r)
		wasWS = false
	}
	return strings.TrimSpace(b.String())
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r < unicode.MaxASCII && unicode.IsDigit(r))
}
