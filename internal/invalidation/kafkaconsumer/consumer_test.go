package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/geotiff-overlay/internal/engine"
	"github.com/mohammed-shakir/geotiff-overlay/internal/invalidation"
)

type fakeEvictor struct {
	failFirst atomic.Bool
	mu        sync.Mutex
	sources   []string
	layers    []string
	areas     []engine.Area
}

func (f *fakeEvictor) fail() error {
	if f.failFirst.Load() {
		f.failFirst.Store(false)
		return errors.New("boom")
	}
	return nil
}

func (f *fakeEvictor) EvictSource(_ context.Context, s string) (int, error) {
	f.mu.Lock()
	f.sources = append(f.sources, s)
	f.mu.Unlock()
	return 2, f.fail()
}

func (f *fakeEvictor) EvictLayer(_ context.Context, l string) (int, error) {
	f.mu.Lock()
	f.layers = append(f.layers, l)
	f.mu.Unlock()
	return 1, f.fail()
}

func (f *fakeEvictor) EvictArea(_ context.Context, a engine.Area) (int, error) {
	f.mu.Lock()
	f.areas = append(f.areas, a)
	f.mu.Unlock()
	return 1, f.fail()
}

type sess struct {
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *sess) Claims() map[string][]int32 { return nil }
func (s *sess) MemberID() string           { return "" }
func (s *sess) GenerationID() int32        { return 0 }
func (s *sess) MarkMessage(m *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	s.marked = append(s.marked, m.Offset)
	s.mu.Unlock()
}
func (s *sess) ResetOffset(_ string, _ int32, _ int64, _ string) {}
func (s *sess) MarkOffset(_ string, _ int32, _ int64, _ string)  {}
func (s *sess) Context() context.Context                         { return s.ctx }
func (s *sess) Errors() <-chan error                             { return nil }
func (s *sess) Commit()                                          {}

type claim struct {
	part int32
	msgs chan *sarama.ConsumerMessage
}

func (c *claim) Topic() string                            { return "overlay-invalidation" }
func (c *claim) Partition() int32                         { return c.part }
func (c *claim) InitialOffset() int64                     { return 0 }
func (c *claim) HighWaterMarkOffset() int64               { return 0 }
func (c *claim) Messages() <-chan *sarama.ConsumerMessage { return c.msgs }

func eventBytes(ev invalidation.Event) []byte {
	if ev.Version == 0 {
		ev.Version = 1
	}
	if ev.Op == "" {
		ev.Op = invalidation.OpUpdate
	}
	if ev.TS.IsZero() {
		ev.TS = time.Now().UTC()
	}
	b, _ := json.Marshal(ev)
	return b
}

func sourceEvent() []byte { return eventBytes(invalidation.Event{Source: "prueba6.tif"}) }

func newConsumerForTest(f *fakeEvictor) *Consumer {
	cfg := Config{Brokers: []string{"x"}, Topic: "overlay-invalidation", GroupID: "g"}
	return New(cfg, nil, f)
}

func TestSinglePartition_OrderAndCommitAfterWork(t *testing.T) {
	f := &fakeEvictor{}
	c := newConsumerForTest(f)

	g := &groupHandler{process: c.ProcessOne}
	ctx := t.Context()
	s := &sess{ctx: ctx}
	ch := make(chan *sarama.ConsumerMessage, 2)
	cl := &claim{part: 0, msgs: ch}

	ch <- &sarama.ConsumerMessage{Topic: "overlay-invalidation", Partition: 0, Offset: 10, Value: sourceEvent()}
	ch <- &sarama.ConsumerMessage{Topic: "overlay-invalidation", Partition: 0, Offset: 11, Value: sourceEvent()}
	close(ch)

	if err := g.ConsumeClaim(s, cl); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}
	if len(s.marked) != 2 || s.marked[0] != 10 || s.marked[1] != 11 {
		t.Fatalf("marked offsets=%v want [10 11]", s.marked)
	}
	if len(f.sources) != 2 {
		t.Fatalf("expected two source evictions, got %v", f.sources)
	}
}

func TestRetry_CommitOnceAfterSuccess(t *testing.T) {
	f := &fakeEvictor{}
	f.failFirst.Store(true)
	c := newConsumerForTest(f)
	ctx := context.Background()

	msg := &sarama.ConsumerMessage{Topic: "overlay-invalidation", Partition: 0, Offset: 5, Value: sourceEvent()}
	if err := c.ProcessOne(ctx, msg); err == nil {
		t.Fatalf("expected error on first attempt")
	}

	s := &sess{ctx: ctx}
	g := &groupHandler{process: c.ProcessOne}
	ch := make(chan *sarama.ConsumerMessage, 1)
	ch <- msg
	close(ch)
	if err := g.ConsumeClaim(s, &claim{part: 0, msgs: ch}); err != nil {
		t.Fatalf("ConsumeClaim second attempt: %v", err)
	}
	if len(s.marked) != 1 || s.marked[0] != 5 {
		t.Fatalf("offset was not marked after success; marked=%v", s.marked)
	}
}

func TestFailedEviction_StopsClaimWithoutMarking(t *testing.T) {
	f := &fakeEvictor{}
	f.failFirst.Store(true)
	c := newConsumerForTest(f)
	s := &sess{ctx: context.Background()}
	ch := make(chan *sarama.ConsumerMessage, 2)
	ch <- &sarama.ConsumerMessage{Offset: 1, Value: sourceEvent()}
	ch <- &sarama.ConsumerMessage{Offset: 2, Value: sourceEvent()}
	close(ch)

	g := &groupHandler{process: c.ProcessOne}
	if err := g.ConsumeClaim(s, &claim{msgs: ch}); err == nil {
		t.Fatalf("expected ConsumeClaim to surface the eviction error")
	}
	if len(s.marked) != 0 {
		t.Fatalf("nothing should be marked, got %v", s.marked)
	}
}

func TestMalformedEvents_AreSkipped(t *testing.T) {
	f := &fakeEvictor{}
	c := newConsumerForTest(f)
	s := &sess{ctx: context.Background()}
	ch := make(chan *sarama.ConsumerMessage, 3)
	ch <- &sarama.ConsumerMessage{Offset: 1, Value: []byte("{not json")}
	ch <- &sarama.ConsumerMessage{Offset: 2, Value: eventBytes(invalidation.Event{Op: "truncate", Source: "a.tif"})}
	ch <- &sarama.ConsumerMessage{Offset: 3, Value: sourceEvent()}
	close(ch)

	g := &groupHandler{process: c.ProcessOne}
	if err := g.ConsumeClaim(s, &claim{msgs: ch}); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}
	if len(s.marked) != 3 {
		t.Fatalf("poison messages must be marked, got %v", s.marked)
	}
	if len(f.sources) != 1 {
		t.Fatalf("only the valid event should evict, got %v", f.sources)
	}
}

func TestDispatch_AllTargets(t *testing.T) {
	f := &fakeEvictor{}
	c := newConsumerForTest(f)
	body := eventBytes(invalidation.Event{
		Source: "prueba6.tif", Layer: "prueba6",
		BBox: &invalidation.BBox{X1: -0.6, Y1: 38.7, X2: -0.5, Y2: 38.9},
	})
	if err := c.ProcessOne(context.Background(), &sarama.ConsumerMessage{Value: body}); err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}
	if len(f.sources) != 1 || len(f.layers) != 1 || len(f.areas) != 1 {
		t.Fatalf("dispatch sources=%v layers=%v areas=%d", f.sources, f.layers, len(f.areas))
	}
	if bb := f.areas[0].BBox; bb == nil || bb.SRID != "EPSG:4326" || bb.X1 != -0.6 {
		t.Fatalf("area bbox = %+v", bb)
	}
}

func TestDuplicateID_AppliedOnce(t *testing.T) {
	f := &fakeEvictor{}
	c := newConsumerForTest(f)
	body := eventBytes(invalidation.Event{ID: "evt-1", Layer: "prueba6"})
	for i := 0; i < 3; i++ {
		if err := c.ProcessOne(context.Background(), &sarama.ConsumerMessage{Offset: int64(i), Value: body}); err != nil {
			t.Fatalf("ProcessOne: %v", err)
		}
	}
	if len(f.layers) != 1 {
		t.Fatalf("duplicate IDs must be applied once, got %v", f.layers)
	}
}

func TestMultiPartition_Parallel_NoCrossOrdering(t *testing.T) {
	f := &fakeEvictor{}
	c := newConsumerForTest(f)
	g := &groupHandler{process: c.ProcessOne}

	ctx := t.Context()
	s := &sess{ctx: ctx}

	p0 := make(chan *sarama.ConsumerMessage, 2)
	p1 := make(chan *sarama.ConsumerMessage, 2)
	p0 <- &sarama.ConsumerMessage{Topic: "t", Partition: 0, Offset: 1, Value: sourceEvent()}
	p0 <- &sarama.ConsumerMessage{Topic: "t", Partition: 0, Offset: 2, Value: sourceEvent()}
	p1 <- &sarama.ConsumerMessage{Topic: "t", Partition: 1, Offset: 1, Value: sourceEvent()}
	p1 <- &sarama.ConsumerMessage{Topic: "t", Partition: 1, Offset: 2, Value: sourceEvent()}
	close(p0)
	close(p1)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = g.ConsumeClaim(s, &claim{part: 0, msgs: p0}) }()
	go func() { defer wg.Done(); _ = g.ConsumeClaim(s, &claim{part: 1, msgs: p1}) }()
	wg.Wait()

	if len(s.marked) != 4 {
		t.Fatalf("expected 4 marks total; got %v", s.marked)
	}
}

func TestSplitCSV(t *testing.T) {
	cfg := splitCSV(" a:9092, ,b:9092 ")
	if len(cfg) != 2 || cfg[0] != "a:9092" || cfg[1] != "b:9092" {
		t.Fatalf("splitCSV = %v", cfg)
	}
}
