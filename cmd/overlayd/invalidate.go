package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mohammed-shakir/geotiff-overlay/internal/core/model"
	"github.com/mohammed-shakir/geotiff-overlay/internal/invalidation"
	"github.com/mohammed-shakir/geotiff-overlay/internal/invalidation/publisher"
	"github.com/mohammed-shakir/geotiff-overlay/internal/logger"
)

type eventPublisher interface {
	Publish(ev invalidation.Event) error
	Close() error
}

// newPublisher is swapped in tests.
var newPublisher = func(brokers []string, topic string) (eventPublisher, error) {
	return publisher.New(brokers, topic, 1, nil)
}

type invalidateFlags struct {
	source, layer, bbox string
	op, id              string
}

func newInvalidateCmd(v *viper.Viper) *cobra.Command {
	var fl invalidateFlags
	cmd := &cobra.Command{
		Use:   "invalidate",
		Short: "Publish an invalidation event for a source, a layer or an area",
		Example: `  overlayd invalidate --source prueba6.tif
  overlayd invalidate --bbox -0.6,38.85,-0.5,38.95 --op delete`,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return bindFlags(v, cmd.Flags(), map[string]string{
				"brokers": "kafka_brokers",
				"topic":   "kafka_topic",
			})
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			ev, err := buildEvent(fl, time.Now().UTC())
			if err != nil {
				return err
			}
			cfg := settings(v)
			brokers := splitBrokers(cfg.Invalidation.Brokers)
			if len(brokers) == 0 {
				return errNoBrokers
			}
			pub, err := newPublisher(brokers, cfg.Invalidation.Topic)
			if err != nil {
				return err
			}
			if err := pub.Publish(ev); err != nil {
				_ = pub.Close()
				return err
			}
			if err := pub.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published %s event %s to %s\n", ev.Op, ev.ID, cfg.Invalidation.Topic)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&fl.source, "source", "", "raster locator to evict")
	f.StringVar(&fl.layer, "layer", "", "catalog layer to evict")
	f.StringVar(&fl.bbox, "bbox", "", "area to evict: x1,y1,x2,y2[,srid]")
	f.StringVar(&fl.op, "op", invalidation.OpUpdate, "update or delete")
	f.StringVar(&fl.id, "id", "", "event id for deduplication; generated when empty")
	f.String("brokers", "", "comma separated kafka brokers")
	f.String("topic", "", "invalidation topic")
	return cmd
}

func buildEvent(fl invalidateFlags, now time.Time) (invalidation.Event, error) {
	ev := invalidation.Event{
		Version: 1,
		ID:      fl.id,
		Op:      fl.op,
		TS:      now,
		Source:  fl.source,
		Layer:   fl.layer,
	}
	if ev.ID == "" {
		ev.ID = logger.NewID()
	}
	if fl.bbox != "" {
		bb, err := model.ParseBBox(fl.bbox)
		if err != nil {
			return invalidation.Event{}, fmt.Errorf("--bbox: %w", err)
		}
		ev.BBox = &invalidation.BBox{X1: bb.X1, Y1: bb.Y1, X2: bb.X2, Y2: bb.Y2, SRID: bb.SRID}
	}
	if err := ev.Validate(); err != nil {
		return invalidation.Event{}, err
	}
	return ev, nil
}

func splitBrokers(s string) []string {
	var out []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

var errNoBrokers = errors.New("no kafka brokers configured")
