// Command anomaly computes seasonal precipitation anomaly statistics for every
// configured basin and forecast year. Configuration is read from the
// environment; see internal/config.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/basin-anomaly/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/basin-anomaly/internal/adapter/kafka"
	"github.com/couchcryptid/basin-anomaly/internal/basin"
	"github.com/couchcryptid/basin-anomaly/internal/config"
	"github.com/couchcryptid/basin-anomaly/internal/grid"
	"github.com/couchcryptid/basin-anomaly/internal/observability"
	"github.com/couchcryptid/basin-anomaly/internal/pipeline"
	"github.com/couchcryptid/basin-anomaly/internal/render"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 2
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	fields := grid.NewCachedLoader(grid.NetCDFLoader{}, cfg.FieldCacheSize)
	fields.Observe(func(hit bool) {
		result := "miss"
		if hit {
			result = "hit"
		}
		metrics.FieldCache.WithLabelValues(result).Inc()
	})

	stages := pipeline.Stages{
		Fields: fields,
		Basins: basin.Dir(cfg.BasinDir),
		Stats:  render.CSVWriter{Dir: cfg.OutputDir},
	}
	if cfg.RenderEnabled {
		stages.Renderer = render.NewPlotRenderer(cfg.OutputDir)
	} else {
		logger.Info("boxplot rendering disabled")
	}

	var writer *kafkaadapter.Writer
	if cfg.KafkaEnabled {
		writer = kafkaadapter.NewWriter(cfg, logger)
		stages.Loader = writer
		logger.Info("summary publication enabled", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers)
	}

	p := pipeline.New(cfg, stages, logger, metrics)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var srv *httpadapter.Server
	if cfg.HTTPAddr != "" {
		srv = httpadapter.NewServer(cfg.HTTPAddr, p, logger)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "error", err)
			}
		}()
	}

	sum, runErr := p.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "error", err)
		}
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	switch {
	case runErr != nil:
		logger.Warn("run interrupted", "error", runErr)
		return 130
	case !sum.OK():
		logger.Error("run completed with failures",
			"failed", sum.Failed, "years_failed", sum.YearsFailed, "publish_failures", sum.PublishFailures)
		return 1
	}
	logger.Info("run complete", "outputs", len(sum.Outputs))
	return 0
}
