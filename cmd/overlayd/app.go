package main

import (
	"io"
	"log/slog"

	"github.com/mohammed-shakir/geotiff-overlay/internal/cache/cellindex"
	"github.com/mohammed-shakir/geotiff-overlay/internal/cache/overlaystore"
	"github.com/mohammed-shakir/geotiff-overlay/internal/cache/redisstore"
	"github.com/mohammed-shakir/geotiff-overlay/internal/core/config"
	"github.com/mohammed-shakir/geotiff-overlay/internal/core/httpclient"
	"github.com/mohammed-shakir/geotiff-overlay/internal/engine"
	"github.com/mohammed-shakir/geotiff-overlay/internal/layers"
	"github.com/mohammed-shakir/geotiff-overlay/internal/logger"
	h3mapper "github.com/mohammed-shakir/geotiff-overlay/internal/mapper/h3"
	"github.com/mohammed-shakir/geotiff-overlay/internal/overlay"
	"github.com/mohammed-shakir/geotiff-overlay/internal/raster"
)

func newLogger(cfg config.Config, component string, out io.Writer) *slog.Logger {
	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		Service:   service,
		Component: component,
	}, out)
	return logger.NewSlog(&zl)
}

func loadCatalog(path string) (*layers.Catalog, error) {
	if path == "" {
		return layers.Default(), nil
	}
	return layers.Load(path)
}

// newEngine wires the render pipeline. rc may be nil, which keeps both the
// overlay cache and the coverage index in memory.
func newEngine(cfg config.Config, cat *layers.Catalog, rc *redisstore.Client, log *slog.Logger) (*engine.Engine, error) {
	store := overlaystore.New(overlaystore.Config{
		L1Size:       cfg.Cache.L1Size,
		TTL:          cfg.Cache.TTL,
		TTLOverrides: cfg.Cache.TTLOverrides,
		OpTimeout:    cfg.Cache.OpTimeout,
	}, rc, log)

	idx := cellindex.NewMemoryIndex()
	if rc != nil {
		idx = cellindex.NewRedisIndex(rc)
	}

	fetcher := raster.NewFetcher(
		httpclient.NewOutbound(cfg.Fetch.Timeout, service+"/"+Version),
		raster.FetchConfig{MaxBytes: cfg.Fetch.MaxBytes, Timeout: cfg.Fetch.Timeout, BaseDir: cfg.Fetch.BaseDir},
	)

	return engine.New(engine.Config{
		H3Res:    cfg.H3Res,
		H3ResMin: cfg.H3ResMin,
		AdHoc:    engine.SourcePolicy{Enabled: cfg.AdHoc.Enabled, Allow: cfg.AdHoc.Allow},
	}, engine.Deps{
		Catalog: cat,
		Decoder: raster.NewDecoder(fetcher, log),
		Encoder: overlay.PNGEncoder{},
		Store:   store,
		Index:   idx,
		Mapper:  h3mapper.New(),
		Logger:  log,
	})
}
