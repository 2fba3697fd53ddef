package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mohammed-shakir/geotiff-overlay/internal/cache/redisstore"
	"github.com/mohammed-shakir/geotiff-overlay/internal/core/health"
	"github.com/mohammed-shakir/geotiff-overlay/internal/core/router"
	"github.com/mohammed-shakir/geotiff-overlay/internal/core/server"
	"github.com/mohammed-shakir/geotiff-overlay/internal/invalidation/kafkaconsumer"
	"github.com/mohammed-shakir/geotiff-overlay/internal/mapview"
	"github.com/mohammed-shakir/geotiff-overlay/internal/metrics"
)

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve overlays, the layer catalog and the map page over HTTP",
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return bindFlags(v, cmd.Flags(), map[string]string{
				"addr":          "addr",
				"redis":         "redis",
				"h3-res":        "h3_res",
				"warm":          "warm",
				"invalidation":  "invalidation",
				"kafka-brokers": "kafka_brokers",
				"kafka-topic":   "kafka_topic",
				"kafka-group":   "kafka_group",
			})
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), v)
		},
	}
	f := cmd.Flags()
	f.String("addr", "", "listen address (default :8090)")
	f.String("redis", "", "redis address for the shared cache tier")
	f.Int("h3-res", 7, "H3 resolution of the coverage index")
	f.Bool("warm", false, "render every catalog layer at startup")
	f.Bool("invalidation", false, "consume invalidation events from kafka")
	f.String("kafka-brokers", "", "comma separated kafka brokers")
	f.String("kafka-topic", "", "invalidation topic")
	f.String("kafka-group", "", "consumer group; defaults to one per host")
	return cmd
}

func runServe(ctx context.Context, v *viper.Viper) error {
	cfg := settings(v)
	log := newLogger(cfg, "serve", os.Stdout)

	cat, err := loadCatalog(cfg.CatalogPath)
	if err != nil {
		return err
	}

	prov := metrics.Init(metrics.Config{
		Enabled: cfg.MetricsEnabled,
		Build: metrics.BuildInfo{
			Version:   Version,
			Revision:  os.Getenv("BUILD_REVISION"),
			BuildDate: os.Getenv("BUILD_DATE"),
		},
	})

	var rc *redisstore.Client
	ready := map[string]health.Pinger{}
	if cfg.RedisAddr != "" {
		rc, err = redisstore.New(ctx, cfg.RedisAddr,
			redisstore.WithDB(cfg.Redis.DB),
			redisstore.WithPoolSize(cfg.Redis.PoolSize),
			redisstore.WithDialTimeout(2*cfg.Redis.Timeout),
			redisstore.WithReadTimeout(cfg.Redis.Timeout),
			redisstore.WithWriteTimeout(cfg.Redis.Timeout),
		)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer func() { _ = rc.Close() }()
		ready["redis"] = rc
	}

	eng, err := newEngine(cfg, cat, rc, log)
	if err != nil {
		return err
	}

	mv, err := mapview.New(cat, cfg.FitDelay, log)
	if err != nil {
		return fmt.Errorf("map page: %w", err)
	}

	var metricsHandler http.Handler
	if prov.Enabled() {
		metricsHandler = prov.Handler()
	}
	h := router.New(router.Deps{
		Engine:  eng,
		Map:     mv,
		Ready:   health.Readiness(ready, 2*time.Second),
		Metrics: metricsHandler,
		Logger:  log,
	})

	switch {
	case !cfg.Invalidation.Enabled:
		if rc != nil {
			log.Warn("shared redis tier without invalidation: other instances keep stale L1 entries until ttl")
		}
	case cfg.Invalidation.Driver == "kafka":
		cons := kafkaconsumer.New(kafkaconsumer.FromSettings(cfg.Invalidation, cfg.LogLevel),
			log.With("component", "kafka_consumer"), eng)
		go func() {
			if err := cons.Start(ctx); err != nil {
				log.Error("invalidation consumer stopped", "err", err)
			}
		}()
	default:
		return fmt.Errorf("unsupported invalidation driver %q", cfg.Invalidation.Driver)
	}

	if v.GetBool("warm") {
		go func() {
			ok, failed := eng.Warm(ctx)
			log.Info("catalog warmed", "ok", ok, "failed", failed)
		}()
	}

	log.Info("starting overlayd",
		"addr", cfg.Addr,
		"version", Version,
		"layers", len(cat.Layers),
		"redis", cfg.RedisAddr != "",
		"invalidation", cfg.Invalidation.Enabled)

	if err := server.Run(ctx, server.Config{Addr: cfg.Addr}, log, h); err != nil {
		return err
	}
	log.Info("server stopped")
	return nil
}
