package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("bad json line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestFromContext_AttachesDomainFields(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "info", Service: "overlayd"}, &buf)

	ctx := WithRequestID(context.Background(), "rid-1")
	ctx = WithComponent(ctx, "engine")
	ctx = WithLayer(ctx, "valencia")
	ctx = WithSource(ctx, "prueba6.tif")
	ctx = WithLayer(ctx, "") // empty values are ignored

	FromContext(ctx, &zl).Info().Msg("rendered")

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("lines=%d want 1", len(lines))
	}
	want := map[string]string{
		"request_id": "rid-1",
		"component":  "engine",
		"layer":      "valencia",
		"source":     "prueba6.tif",
		"service":    "overlayd",
		"msg":        "rendered",
	}
	for k, v := range want {
		if lines[0][k] != v {
			t.Fatalf("%s=%v want %q", k, lines[0][k], v)
		}
	}
}

func TestWithRequestID_GeneratesWhenEmpty(t *testing.T) {
	ctx := WithRequestID(context.Background(), "")
	if id := RequestID(ctx); len(id) != 16 {
		t.Fatalf("generated id=%q", id)
	}
}

func TestSlogBridge_LevelsAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "warn"}, &buf)
	sl := NewSlog(&zl).With("width", 2)

	ctx := WithLayer(context.Background(), "l1")
	sl.InfoContext(ctx, "dropped")
	sl.WarnContext(ctx, "kept", "err", errors.New("boom"), "ok", true)

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("lines=%d want 1: %s", len(lines), buf.String())
	}
	l := lines[0]
	if l["level"] != "warn" || l["msg"] != "kept" || l["layer"] != "l1" {
		t.Fatalf("unexpected line %v", l)
	}
	if l["err"] != "boom" || l["ok"] != true || l["width"] != float64(2) {
		t.Fatalf("attrs not carried: %v", l)
	}
}
