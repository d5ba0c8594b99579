package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/geeknik/rtl-sdr-analyzer/internal/detection"
	"github.com/geeknik/rtl-sdr-analyzer/internal/dsp"
	"github.com/geeknik/rtl-sdr-analyzer/internal/publish"
	"github.com/geeknik/rtl-sdr-analyzer/internal/sdr/rtltcp"
	"github.com/geeknik/rtl-sdr-analyzer/internal/storage"
	"github.com/geeknik/rtl-sdr-analyzer/internal/telemetry"
	"github.com/geeknik/rtl-sdr-analyzer/internal/waterfall"
)

const (
	databaseFile    = "analyzer.sqlite"
	shutdownTimeout = 5 * time.Second
)

// Run wires the receiver, the processing pipeline and the configured sinks
// and blocks until ctx is done or the session fails.
func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	client, err := rtltcp.New(config.ClientConfig(), rtltcp.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("creating rtl_tcp client: %w", err)
	}

	processor, err := dsp.NewProcessor(config.Receiver.FFTSize, config.Receiver.SampleRate, dsp.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("creating spectral processor: %w", err)
	}

	detector, err := detection.New(config.DetectionConfig(), detection.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("creating detector: %w", err)
	}

	theme, _ := waterfall.ParseTheme(config.Display.Theme)
	wf, err := waterfall.New(client.FrequencyAxis(), config.Display.WaterfallLength, waterfall.WithTheme(theme))
	if err != nil {
		return fmt.Errorf("creating waterfall: %w", err)
	}

	options := []func(*Analyzer){
		WithLogger(logger),
		WithWaterfall(wf, config.Display.SnapshotPath, time.Duration(config.Display.SnapshotInterval)),
	}

	var store storage.Store
	var sessionID int64
	if config.Storage.Enabled {
		if store, err = createStorage(&config.Storage); err != nil {
			return fmt.Errorf("failed to create storage: %w", err)
		}
		defer store.Close()

		if sessionID, err = store.CreateSession(ctx, config.ClientConfig().Addr(), config.Params(), config.Redacted()); err != nil {
			return fmt.Errorf("creating session: %w", err)
		}
		logger.Info("Session started", slog.Int64("session", sessionID))

		options = append(options, WithStore(store, sessionID))
	}

	if config.Metrics.Listen != "" {
		collector, stop, err := startMetrics(config.Metrics.Listen, logger)
		if err != nil {
			return fmt.Errorf("starting metrics exporter: %w", err)
		}
		defer stop()

		options = append(options, WithCollector(collector))
	}

	if config.MQTT.Enabled {
		publisher, err := publish.NewMQTTPublisher(config.PublishConfig(), publish.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("creating MQTT publisher: %w", err)
		}
		defer publisher.Close()

		options = append(options, WithPublisher(publisher))
	}

	analyzer := NewAnalyzer(client, processor, detector, time.Duration(config.Display.UpdateInterval), options...)
	runErr := analyzer.Run(ctx)

	if store != nil {
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		if err = store.UpdateSessionStats(saveCtx, sessionID, analyzer.Stats(), time.Now()); err != nil {
			runErr = errors.Join(runErr, fmt.Errorf("saving session statistics: %w", err))
		}
	}

	return runErr
}

func createStorage(config *StorageConfig) (storage.Store, error) {
	dir, err := filepath.Abs(config.DataDirectory)
	if err != nil {
		return nil, fmt.Errorf("resolving storage directory: %w", err)
	}

	if err = os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage directory '%s': %w", dir, err)
	}

	return storage.NewSqliteStore(filepath.Join(dir, databaseFile)), nil
}

// startMetrics serves /metrics on addr. The returned function shuts the
// server down.
func startMetrics(addr string, logger *slog.Logger) (*telemetry.Collector, func(), error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	collector, err := telemetry.NewCollector(reg)
	if err != nil {
		return nil, nil, err
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", slog.Any("error", err))
		}
	}()

	logger.Info("Serving metrics", slog.String("addr", ln.Addr().String()))

	stop := func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(ctx)
	}
	return collector, stop, nil
}
