package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	apihttp "filedrop/internal/api/http"
	"filedrop/internal/app"
	"filedrop/internal/domain/ports"
	"filedrop/internal/identity"
	"filedrop/internal/metrics"
	mongorepo "filedrop/internal/repository/mongo"
	"filedrop/internal/services/negotiation"
	"filedrop/internal/services/status"
	"filedrop/internal/services/transfer/coordinator"
	"filedrop/internal/services/transfer/engine/anacrolix"
	"filedrop/internal/telemetry"
	"filedrop/internal/usecase"

	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
)

func main() {
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "filedrop",
		Endpoint:    cfg.OTLPEndpoint,
		SampleRate:  cfg.TraceSampleRate,
	})
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", "filedrop"),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.String("dataDir", cfg.TransferDataDir),
		slog.String("downloadDir", cfg.DownloadDir),
		slog.Int("listenPort", cfg.ListenPort),
		slog.Bool("redisSnapshots", cfg.RedisAddr != ""),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(rootCtx, 10*time.Second)
	defer cancel()

	mongoClient, err := mongorepo.Connect(ctx, cfg.MongoURI, options.Client().SetMonitor(otelmongo.NewMonitor()))
	if err != nil {
		logger.Error("mongo connect failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := mongoClient.Ping(ctx, readpref.Primary()); err != nil {
		logger.Error("mongo ping failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	store := mongorepo.NewDropRequestStore(mongoClient, cfg.MongoDatabase, cfg.MongoCollection, logger)
	if err := store.EnsureIndexes(ctx); err != nil {
		logger.Warn("mongo ensure indexes failed", slog.String("error", err.Error()))
	}

	publisher := status.NewPublisher(logger)

	var redisClient *redis.Client
	snapshotBackend := status.SnapshotBackend(status.NewMemorySnapshotBackend())
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		redisBackend := status.NewRedisSnapshotBackend(redisClient)
		if err := redisBackend.Ping(ctx); err != nil {
			logger.Warn("redis unavailable, keeping snapshots in memory", slog.String("error", err.Error()))
		} else {
			snapshotBackend = redisBackend
		}
	}
	snapshots := status.NewSnapshotRecorder(snapshotBackend, cfg.SnapshotTTL, logger)
	detachSnapshots := publisher.Attach(status.SnapshotScreen, snapshots)
	defer detachSnapshots()

	transfers := coordinator.New(coordinator.Config{
		Factory: func() (ports.TransferEngine, error) {
			eng, err := anacrolix.New(anacrolix.Config{
				DataDir:         cfg.TransferDataDir,
				ListenPort:      cfg.ListenPort,
				PollInterval:    cfg.PollInterval,
				MetadataTimeout: cfg.MetadataTimeout,
				Logger:          logger,
			})
			if err != nil {
				return nil, err
			}
			return eng, nil
		},
		Sink:   publisher,
		Logger: logger,
	})
	if err := transfers.Open(); err != nil {
		logger.Error("transfer engine init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	negotiator := negotiation.New(negotiation.Config{
		Store:  store,
		Namer:  identity.Namer{},
		Errors: publisher,
		Logger: logger,
	})

	sendUC := usecase.SendFile{Negotiation: negotiator, Transfers: transfers}
	acceptUC := usecase.AcceptRequest{Negotiation: negotiator, Transfers: transfers, DownloadDir: cfg.DownloadDir}
	declineUC := usecase.DeclineRequest{Negotiation: negotiator}
	stopUC := usecase.StopTransfer{Transfers: transfers}

	handler := apihttp.NewServer(sendUC,
		apihttp.WithLogger(logger),
		apihttp.WithAcceptRequest(acceptUC),
		apihttp.WithDeclineRequest(declineUC),
		apihttp.WithStopTransfer(stopUC),
		apihttp.WithRequests(negotiator),
		apihttp.WithTransfers(transfers),
		apihttp.WithSnapshots(snapshots),
		apihttp.WithObservers(publisher),
		apihttp.WithNamer(identity.Namer{}),
		apihttp.WithAllowedOrigins(cfg.CORSAllowedOrigins),
	)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("server started", slog.String("addr", cfg.HTTPAddr))

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	handler.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", slog.String("error", err.Error()))
	}
	if err := transfers.StopAll(); err != nil {
		logger.Warn("transfer engine close error", slog.String("error", err.Error()))
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close error", slog.String("error", err.Error()))
		}
	}
	if err := mongoClient.Disconnect(context.Background()); err != nil {
		logger.Warn("mongo disconnect error", slog.String("error", err.Error()))
	}

	logger.Info("server stopped")
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
