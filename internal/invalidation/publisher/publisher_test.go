package publisher

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"

	"github.com/mohammed-shakir/geotiff-overlay/internal/invalidation"
)

func event(source string) invalidation.Event {
	return invalidation.Event{Version: 1, Op: invalidation.OpUpdate, TS: time.Now().UTC(), Source: source}
}

func TestPublish_SendsKeyedJSON(t *testing.T) {
	prod := mocks.NewAsyncProducer(t, NewProducerConfig())
	prod.ExpectInputWithMessageCheckerFunctionAndSucceed(func(m *sarama.ProducerMessage) error {
		if m.Topic != "overlay-invalidation" {
			return errors.New("wrong topic " + m.Topic)
		}
		k, _ := m.Key.Encode()
		if string(k) != "source:prueba6.tif" {
			return errors.New("wrong key " + string(k))
		}
		v, _ := m.Value.Encode()
		var ev invalidation.Event
		if err := json.Unmarshal(v, &ev); err != nil {
			return err
		}
		if ev.Source != "prueba6.tif" || ev.Op != invalidation.OpUpdate {
			return errors.New("wrong payload " + string(v))
		}
		return nil
	})

	p := NewWithProducer(prod, "overlay-invalidation", 4, nil)
	if err := p.Publish(event("prueba6.tif")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestPublish_RejectsInvalid(t *testing.T) {
	prod := mocks.NewAsyncProducer(t, NewProducerConfig())
	p := NewWithProducer(prod, "t", 4, nil)
	if err := p.Publish(invalidation.Event{Version: 1, Op: invalidation.OpUpdate, TS: time.Now()}); err == nil {
		t.Fatalf("expected validation error")
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestClose_ReportsDeliveryFailure(t *testing.T) {
	prod := mocks.NewAsyncProducer(t, NewProducerConfig())
	prod.ExpectInputAndFail(sarama.ErrOutOfBrokers)

	p := NewWithProducer(prod, "t", 4, nil)
	if err := p.Publish(event("a.tif")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := p.Close(); err == nil {
		t.Fatalf("Close should report the failed delivery")
	}
}

func TestPartitionKey(t *testing.T) {
	cases := map[string]invalidation.Event{
		"source:a.tif":  {Source: "a.tif", Layer: "l"},
		"layer:prueba6": {Layer: "prueba6"},
		"area":          {BBox: &invalidation.BBox{X1: 0, Y1: 0, X2: 1, Y2: 1}},
	}
	for want, ev := range cases {
		if got := partitionKey(ev); got != want {
			t.Errorf("partitionKey(%+v)=%q want %q", ev, got, want)
		}
	}
}
