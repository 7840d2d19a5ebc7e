package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"nir-backend/internal/api"
	"nir-backend/internal/artifacts"
	"nir-backend/internal/database"
	"nir-backend/internal/logging"
	"nir-backend/internal/metrics"
	"nir-backend/internal/ml"
	"nir-backend/internal/models"
	"nir-backend/internal/mqtt"
	"nir-backend/internal/services"
	"nir-backend/internal/session"
	"nir-backend/pkg/config"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatalw("NIR Backend: exiting", "error", err)
	}
}

func run(cfg *config.Config, logger *zap.SugaredLogger) error {
	logger.Info("Starting NIR quality monitor backend...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Artifacts are mandatory; a broken bundle aborts startup
	bundle, err := artifacts.Load(cfg.ArtifactDir, logger)
	if err != nil {
		return err
	}

	engine, err := services.NewInferenceService(bundle, services.InferenceServiceConfig{
		Anomaly: ml.IsolationForestConfig{
			Trees:         cfg.AnomalyTrees,
			MaxSamples:    ml.DefaultIsolationForestConfig().MaxSamples,
			Contamination: cfg.AnomalyContamination,
			Seed:          cfg.AnomalySeed,
		},
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize inference service: %w", err)
	}

	m := metrics.New()
	registry := session.NewRegistry(m)
	dispatcher := services.NewDispatcher(services.DispatcherConfig{
		ChannelSize:     cfg.EventChannelSize,
		RecorderEnabled: cfg.PersistenceEnabled(),
		AlertsEnabled:   cfg.AlertsEnabled(),
	}, m, logger)

	// The recorder outlives the sessions so their closing summaries are saved
	recorderCtx, stopRecorder := context.WithCancel(context.Background())
	defer stopRecorder()

	g, gctx := errgroup.WithContext(ctx)

	// Optional ClickHouse persistence
	var history api.HistoryStore
	if cfg.PersistenceEnabled() {
		db, err := database.NewClickHouseDB(ctx, database.Options{
			Addr:     cfg.ClickHouseAddr,
			Database: cfg.ClickHouseDB,
			Username: cfg.ClickHouseUser,
			Password: cfg.ClickHousePass,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize ClickHouse: %w", err)
		}
		defer db.Close()
		history = db

		recorder := services.NewRecorderService(db, dispatcher, services.DefaultRecorderServiceConfig(), logger)
		g.Go(func() error {
			recorder.Start(recorderCtx)
			return nil
		})
	} else {
		logger.Info("Persistence disabled, CLICKHOUSE_ADDR is not set")
	}

	// Optional MQTT alert publishing
	if cfg.AlertsEnabled() {
		client, err := mqtt.NewClient(mqtt.ClientConfig{
			Broker:   cfg.MQTTBroker,
			ClientID: cfg.MQTTClientID,
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,

			ConnectTimeout: time.Duration(cfg.MQTTConnectTimeoutSec) * time.Second,
			KeepAlive:      time.Duration(cfg.MQTTKeepAliveSec) * time.Second,
			AutoReconnect:  cfg.MQTTAutoReconnect,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize MQTT client: %w", err)
		}
		defer client.Close()

		publisher := mqtt.NewPublisher(client.GetNativeClient(), mqtt.PublisherConfig{
			AlertTopic: cfg.MQTTTopicAlert,
			QoS:        1,
		}, dispatcher.AlertChan, logger)
		g.Go(func() error {
			publisher.Start(gctx)
			return nil
		})
	} else {
		logger.Info("Alert publishing disabled, MQTT_BROKER is not set")
	}

	server := api.NewServer(gctx, api.Config{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Defaults: models.SimulationConfig{
			NoiseLevel: cfg.DefaultNoiseLevel,
			Threshold:  cfg.DefaultAlertThreshold,
		},
	}, engine, registry, dispatcher, history, m, logger)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		logger.Infow("HTTP: Listening", "addr", cfg.HTTPAddr, "wavelengths", len(bundle.Wavelengths), "pool", bundle.Pool.Len())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down gracefully...")
		defer stopRecorder()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)

		// open sessions end with gctx and still emit their summaries
		if werr := registry.Wait(shutdownCtx); werr != nil {
			logger.Warnw("Shutdown: sessions still open", "count", registry.Len(), "error", werr)
		}
		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Infow("NIR Backend: stopped", "open_sessions", registry.Len())
	return nil
}
