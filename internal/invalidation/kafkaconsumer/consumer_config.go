package kafkaconsumer

import (
	"strings"
	"time"

	"github.com/mohammed-shakir/geotiff-overlay/internal/core/config"
)

type Config struct {
	Brokers             []string
	Topic               string
	GroupID             string
	SessionTimeout      time.Duration
	Heartbeat           time.Duration
	RebalanceTimeout    time.Duration
	InitialOffsetOldest bool
	// DedupeSize bounds the event IDs remembered for dropping redeliveries.
	DedupeSize int
	LogLevel   string
}

// FromSettings derives the consumer config from the service config. Every
// instance needs its own group so each one sees every event.
func FromSettings(ic config.InvalidationCfg, logLevel string) Config {
	topic := ic.Topic
	if topic == "" {
		topic = "overlay-invalidation"
	}
	return Config{
		Brokers:          splitCSV(ic.Brokers),
		Topic:            topic,
		GroupID:          ic.GroupID,
		SessionTimeout:   30 * time.Second,
		Heartbeat:        3 * time.Second,
		RebalanceTimeout: 30 * time.Second,
		DedupeSize:       4096,
		LogLevel:         logLevel,
	}
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
