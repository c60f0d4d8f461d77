// Command vocero runs the real-time call translation backend: the websocket
// gateway, the call lifecycle API, and the stream-consuming translation
// workers, all in one process.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/vocero-ai/vocero/internal/callstate"
	"github.com/vocero-ai/vocero/internal/config"
	"github.com/vocero-ai/vocero/internal/deliver"
	"github.com/vocero-ai/vocero/internal/gateway"
	"github.com/vocero-ai/vocero/internal/health"
	"github.com/vocero-ai/vocero/internal/ingest"
	"github.com/vocero-ai/vocero/internal/observe"
	"github.com/vocero-ai/vocero/internal/pipeline"
	"github.com/vocero-ai/vocero/internal/segment"
	"github.com/vocero-ai/vocero/internal/speech"
	"github.com/vocero-ai/vocero/internal/transcripts"
	"github.com/vocero-ai/vocero/internal/ttscache"
	"github.com/vocero-ai/vocero/internal/worker"
	"github.com/vocero-ai/vocero/pkg/provider/mt"
	mtmock "github.com/vocero-ai/vocero/pkg/provider/mt/mock"
	mtopenai "github.com/vocero-ai/vocero/pkg/provider/mt/openai"
	"github.com/vocero-ai/vocero/pkg/provider/stt"
	sttmock "github.com/vocero-ai/vocero/pkg/provider/stt/mock"
	sttopenai "github.com/vocero-ai/vocero/pkg/provider/stt/openai"
	"github.com/vocero-ai/vocero/pkg/provider/tts"
	ttsmock "github.com/vocero-ai/vocero/pkg/provider/tts/mock"
	ttsopenai "github.com/vocero-ai/vocero/pkg/provider/tts/openai"
)

// shutdownTimeout bounds the graceful drain of in-flight sessions and
// utterances once a termination signal arrives.
const shutdownTimeout = 15 * time.Second

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// A .env file is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "config file %s not found; create one or pass -config\n", *configPath)
		return 1
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── telemetry ──────────────────────────────────────────────────────────

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "vocero",
		ServiceVersion: version,
	})
	if err != nil {
		logger.Error("telemetry init failed", "error", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown failed", "error", err)
		}
	}()
	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		logger.Error("metrics init failed", "error", err)
		return 1
	}

	// ── backing stores ─────────────────────────────────────────────────────

	pool, err := pgxpool.New(ctx, cfg.Postgres.DSN)
	if err != nil {
		logger.Error("postgres pool creation failed", "error", err)
		return 1
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Error("postgres unreachable", "error", err)
		return 1
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Error("redis unreachable", "addr", cfg.Redis.Addr, "error", err)
		return 1
	}

	store, err := callstate.NewPGStore(ctx, pool)
	if err != nil {
		logger.Error("call store init failed", "error", err)
		return 1
	}
	history, err := transcripts.NewStore(ctx, pool)
	if err != nil {
		logger.Error("transcript store init failed", "error", err)
		return 1
	}

	// ── speech providers ───────────────────────────────────────────────────

	sttProvider, err := buildSTT(cfg.Providers.STT)
	if err != nil {
		logger.Error("stt provider init failed", "provider", cfg.Providers.STT.Name, "error", err)
		return 1
	}
	mtProvider, err := buildMT(cfg.Providers.MT)
	if err != nil {
		logger.Error("mt provider init failed", "provider", cfg.Providers.MT.Name, "error", err)
		return 1
	}
	ttsProvider, err := buildTTS(cfg.Providers.TTS)
	if err != nil {
		logger.Error("tts provider init failed", "provider", cfg.Providers.TTS.Name, "error", err)
		return 1
	}

	speechClient := speech.NewClient(sttProvider, mtProvider, ttsProvider, speech.Config{
		Workers: cfg.Pipeline.APIWorkerPool,
	})

	// ── translation pipeline ───────────────────────────────────────────────

	bus := deliver.NewBus(rdb, logger)
	cache := ttscache.New(ttscache.Config{
		MaxEntries: cfg.Pipeline.TTSCacheEntries,
		MaxBytes:   cfg.Pipeline.TTSCacheBytes,
	})
	pipelineCfg := pipeline.Config{
		Speech:         speechClient,
		Store:          store,
		Publisher:      bus,
		Transcripts:    history,
		Cache:          cache,
		IncludeSpeaker: cfg.Session.IncludeSpeaker,
		MinConfidence:  cfg.Pipeline.MinConfidence,
		ContextChars:   cfg.Pipeline.ContextChars,
		Metrics:        metrics,
		Logger:         logger,
	}
	if cfg.Pipeline.InterimTranscripts {
		pipelineCfg.Interims = bus
	}
	processor := pipeline.NewProcessor(pipelineCfg)
	wrk := worker.New(worker.Config{
		Processor: processor,
		Segmentation: segment.Config{
			Pause:        cfg.Pipeline.Pause(),
			MaxUtterance: cfg.Pipeline.MaxUtterance(),
			MinUtterance: cfg.Pipeline.MinUtterance(),
			Detector:     segment.NewDetector(cfg.Pipeline.RMSSilenceThreshold),
		},
		Metrics: metrics,
		Logger:  logger,
	})

	producer := ingest.NewProducer(rdb, ingest.ProducerConfig{
		BackpressureMax: cfg.Ingest.BackpressureMax,
		Metrics:         metrics,
		Logger:          logger,
	})

	workers := cfg.Ingest.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "vocero"
	}

	consumers, consumerCtx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		consumer := ingest.NewConsumer(rdb, wrk, ingest.ConsumerConfig{
			Name:              fmt.Sprintf("%s-%d", hostname, i),
			BatchSize:         cfg.Ingest.BatchSize,
			VisibilityTimeout: cfg.Ingest.VisibilityTimeout(),
			Logger:            logger,
		})
		consumers.Go(func() error {
			return consumer.Run(consumerCtx)
		})
	}

	// ── gateway ────────────────────────────────────────────────────────────

	auth, err := buildAuthenticator()
	if err != nil {
		logger.Error("authenticator init failed", "error", err)
		return 1
	}

	ws := gateway.NewServer(gateway.ServerConfig{
		Auth:                auth,
		Producer:            producer,
		Store:               store,
		Bus:                 bus,
		Targets:             processor.Resolver(),
		HeartbeatIntervalMS: cfg.Session.HeartbeatIntervalMS,
		HeartbeatTimeout:    cfg.Session.HeartbeatTimeout(),
		ReconnectGrace:      cfg.Session.ReconnectGrace(),
		MinFrameBytes:       cfg.Session.MinFrameBytes,
		Metrics:             metrics,
		Logger:              logger,
	})
	callAPI := gateway.NewCallAPI(store, bus, history, logger)
	callAPI.OnEnded = processor.EndCall

	apiMux := http.NewServeMux()
	apiMux.Handle("/stream/", ws.Handler())
	callAPI.Register(apiMux)

	apiServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           apiMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var metricsServer *http.Server
	if cfg.Server.MetricsAddr != "" {
		telemetryMux := http.NewServeMux()
		telemetryMux.Handle("GET /metrics", promhttp.Handler())
		health.New(health.RedisChecker(rdb), health.PostgresChecker(pool)).Register(telemetryMux)
		metricsServer = &http.Server{
			Addr:              cfg.Server.MetricsAddr,
			Handler:           telemetryMux,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	// ── serve ──────────────────────────────────────────────────────────────

	logger.Info("vocero starting",
		"version", version,
		"listen_addr", cfg.Server.ListenAddr,
		"metrics_addr", cfg.Server.MetricsAddr,
		"stt", cfg.Providers.STT.Name,
		"mt", cfg.Providers.MT.Name,
		"tts", cfg.Providers.TTS.Name,
		"stream_workers", workers)

	serveErr := make(chan error, 2)
	go func() {
		if err := apiServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("api server: %w", err)
		}
	}()
	if metricsServer != nil {
		go func() {
			if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				serveErr <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	exit := 0
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		logger.Error("server failed", "error", err)
		exit = 1
	case <-consumerCtx.Done():
		if err := consumers.Wait(); err != nil {
			logger.Error("stream consumer failed", "error", err)
			exit = 1
		}
	}
	stop()

	// ── graceful shutdown ──────────────────────────────────────────────────

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api server shutdown incomplete", "error", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown incomplete", "error", err)
		}
	}
	if err := consumers.Wait(); err != nil {
		logger.Warn("stream consumers exited with error", "error", err)
	}
	// Flush whatever the per-session workers have buffered.
	wrk.Close()

	logger.Info("vocero stopped")
	return exit
}

// ── construction helpers ─────────────────────────────────────────────────

func buildSTT(entry config.ProviderEntry) (stt.Provider, error) {
	switch entry.Name {
	case "openai":
		var opts []sttopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, sttopenai.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, sttopenai.WithModel(entry.Model))
		}
		return sttopenai.New(apiKey(entry), opts...)
	case "mock":
		return &sttmock.Provider{Result: stt.Result{Text: "mock transcription", Confidence: 1}}, nil
	default:
		return nil, fmt.Errorf("unknown stt provider %q", entry.Name)
	}
}

func buildMT(entry config.ProviderEntry) (mt.Provider, error) {
	switch entry.Name {
	case "openai":
		var opts []mtopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, mtopenai.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, mtopenai.WithModel(entry.Model))
		}
		return mtopenai.New(apiKey(entry), opts...)
	case "mock":
		return &mtmock.Provider{Result: "mock translation"}, nil
	default:
		return nil, fmt.Errorf("unknown mt provider %q", entry.Name)
	}
}

func buildTTS(entry config.ProviderEntry) (tts.Provider, error) {
	switch entry.Name {
	case "openai":
		var opts []ttsopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, ttsopenai.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, ttsopenai.WithModel(entry.Model))
		}
		return ttsopenai.New(apiKey(entry), opts...)
	case "mock":
		return &ttsmock.Provider{Audio: []byte{0, 0, 0, 0}}, nil
	default:
		return nil, fmt.Errorf("unknown tts provider %q", entry.Name)
	}
}

// apiKey prefers the per-provider config key and falls back to the
// conventional environment variable.
func apiKey(entry config.ProviderEntry) string {
	if entry.APIKey != "" {
		return entry.APIKey
	}
	return os.Getenv("OPENAI_API_KEY")
}

// buildAuthenticator reads the token secret shared with the signaling
// service from the environment.
func buildAuthenticator() (gateway.Authenticator, error) {
	secret := os.Getenv("VOCERO_TOKEN_SECRET")
	if secret == "" {
		return nil, errors.New("VOCERO_TOKEN_SECRET is not set")
	}
	return gateway.NewHMACAuthenticator([]byte(secret))
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
