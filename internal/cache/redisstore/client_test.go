package redisstore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sort"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/mohammed-shakir/geotiff-overlay/internal/metrics"
)

// creates new client connected to miniredis for testing
func newMini(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	rc, err := New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	return rc, mr
}

func TestSetGetMGetDel_HappyPath(t *testing.T) {
	rc, _ := newMini(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := rc.Set(ctx, "k1", []byte("v1"), 5*time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := rc.Set(ctx, "k2", []byte("v2"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}

	v, ok, err := rc.Get(ctx, "k1")
	if err != nil || !ok || string(v) != "v1" {
		t.Fatalf("Get k1 = %q,%v,%v", v, ok, err)
	}
	if _, ok, err := rc.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("Get missing ok=%v err=%v", ok, err)
	}

	got, err := rc.MGet(ctx, []string{"k1", "k2", "missing"})
	if err != nil {
		t.Fatalf("MGet: %v", err)
	}
	if len(got) != 2 || string(got["k1"]) != "v1" || string(got["k2"]) != "v2" {
		t.Fatalf("unexpected values: %+v", got)
	}

	if err := rc.Del(ctx, "k1", "k2"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if err := rc.Del(ctx); err != nil {
		t.Fatalf("Del with no keys: %v", err)
	}
}

func TestSetIndexed_AddsToSets(t *testing.T) {
	rc, mr := newMini(t)
	ctx := context.Background()

	if err := rc.SetIndexed(ctx, "overlay:a", []byte("x"), time.Minute, "set:src", "set:layer"); err != nil {
		t.Fatalf("SetIndexed: %v", err)
	}
	if err := rc.SetIndexed(ctx, "overlay:b", []byte("y"), time.Minute, "set:src"); err != nil {
		t.Fatalf("SetIndexed: %v", err)
	}

	members, err := rc.SMembers(ctx, "set:src")
	if err != nil {
		t.Fatalf("SMembers: %v", err)
	}
	sort.Strings(members)
	if !reflect.DeepEqual(members, []string{"overlay:a", "overlay:b"}) {
		t.Fatalf("members=%v", members)
	}
	if ttl := mr.TTL("set:layer"); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("set ttl=%v", ttl)
	}
}

func TestSetOps_UnionAndRemove(t *testing.T) {
	rc, _ := newMini(t)
	ctx := context.Background()

	if err := rc.SAdd(ctx, "s1", 0, "a", "b"); err != nil {
		t.Fatalf("SAdd: %v", err)
	}
	if err := rc.SAdd(ctx, "s2", time.Hour, "b", "c"); err != nil {
		t.Fatalf("SAdd: %v", err)
	}
	u, err := rc.SUnion(ctx, "s1", "s2", "nope")
	if err != nil {
		t.Fatalf("SUnion: %v", err)
	}
	sort.Strings(u)
	if !reflect.DeepEqual(u, []string{"a", "b", "c"}) {
		t.Fatalf("union=%v", u)
	}

	if err := rc.SRemBatch(ctx, map[string][]string{"s1": {"a"}, "nope": {"x"}}); err != nil {
		t.Fatalf("SRemBatch: %v", err)
	}
	m, _ := rc.SMembers(ctx, "s1")
	if !reflect.DeepEqual(m, []string{"b"}) {
		t.Fatalf("after SRemBatch got %v", m)
	}
	if u, err := rc.SUnion(ctx); err != nil || u != nil {
		t.Fatalf("empty union = %v, %v", u, err)
	}
}

type roundTrips struct{ n int }

func (r *roundTrips) DialHook(next redis.DialHook) redis.DialHook { return next }

func (r *roundTrips) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		r.n++
		return next(ctx, cmd)
	}
}

func (r *roundTrips) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		r.n++
		return next(ctx, cmds)
	}
}

func TestSAddBatch_OneRoundTrip(t *testing.T) {
	rc, mr := newMini(t)
	ctx := context.Background()
	rt := &roundTrips{}
	rc.rdb.AddHook(rt)

	adds := map[string][]string{"cov:layer:x": {"c1", "c2", "c3"}}
	for _, c := range []string{"c1", "c2", "c3"} {
		adds["cov:cell:"+c] = []string{"x"}
	}
	adds["cov:cell:empty"] = nil
	if err := rc.SAddBatch(ctx, adds); err != nil {
		t.Fatalf("SAddBatch: %v", err)
	}
	if rt.n != 1 {
		t.Fatalf("round trips=%d want 1", rt.n)
	}
	for _, c := range []string{"c1", "c2", "c3"} {
		if ok, _ := mr.SIsMember("cov:cell:"+c, "x"); !ok {
			t.Fatalf("cell %s missing layer", c)
		}
	}
	if mr.Exists("cov:cell:empty") {
		t.Fatalf("empty member list created a set")
	}
	m, _ := mr.Members("cov:layer:x")
	if !reflect.DeepEqual(m, []string{"c1", "c2", "c3"}) {
		t.Fatalf("layer members=%v", m)
	}
	if err := rc.SAddBatch(ctx, nil); err != nil || rt.n != 1 {
		t.Fatalf("empty batch err=%v round trips=%d", err, rt.n)
	}
}

func TestContextDeadline_IsRespected(t *testing.T) {
	rc, _ := newMini(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := rc.Set(ctx, "k", []byte("v"), time.Second); err == nil {
		t.Fatalf("expected error on Set with canceled context")
	}
	if _, err := rc.MGet(ctx, []string{"k"}); err == nil {
		t.Fatalf("expected error on MGet with canceled context")
	}
	if err := rc.Del(ctx, "k"); err == nil {
		t.Fatalf("expected error on Del with canceled context")
	}
	if err := rc.Ping(ctx); err == nil {
		t.Fatalf("expected error on Ping with canceled context")
	}
}

func TestNew_RequiresAddrAndReachableServer(t *testing.T) {
	if _, err := New(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty address")
	}
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	addr := mr.Addr()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := New(ctx, addr, WithDialTimeout(100*time.Millisecond)); err == nil {
		t.Fatalf("expected ping error for closed server")
	}
}

func TestMetrics_Incremented(t *testing.T) {
	p := metrics.Init(metrics.Config{Enabled: true})

	rc, _ := newMini(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_ = rc.Set(ctx, "m1", []byte("x"), time.Minute)
	_, _ = rc.MGet(ctx, []string{"m1"})
	_ = rc.Del(ctx, "m1")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics status=%d", rr.Code)
	}
	body := rr.Body.String()
	for _, op := range []string{"set", "mget", "del"} {
		if !strings.Contains(body, `cache_op_duration_seconds_count{op="`+op+`",result="ok"}`) {
			t.Fatalf("missing cache_op_duration_seconds for %s; got:\n%s", op, body)
		}
	}
}
