// Command transcribe-worker runs a transcription worker node: it consumes
// the shared queue, exposes the WebSocket notification hub, and
// participates in cron leader election.
//
// Configuration comes from the environment (a .env file is loaded when
// present):
//
//	DATABASE_URL     Postgres DSN; empty selects the in-memory store
//	REDIS_ADDR       Redis address; empty selects the in-memory queue
//	ARTIFACT_DIR     directory for transcript artifacts (default ./artifacts)
//	REMOTE_URL       transcription service base URL
//	REMOTE_API_KEY   transcription service API key
//	WHISPER_URL      Whisper-compatible endpoint for failover
//	WHISPER_API_KEY  Whisper API key
//	WHISPER_MODEL    Whisper model name (default whisper-1)
//	LISTEN_ADDR      HTTP listen address for the hub (default :8090)
//	CONCURRENCY      tasks processed in parallel (default 4)
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"

	transcribe "github.com/robertor4/transcribe-sub002"
	"github.com/robertor4/transcribe-sub002/api"
	"github.com/robertor4/transcribe-sub002/engine"
	"github.com/robertor4/transcribe-sub002/notify"
	"github.com/robertor4/transcribe-sub002/provider"
	"github.com/robertor4/transcribe-sub002/queue"
	queueredis "github.com/robertor4/transcribe-sub002/queue/redis"
	bunstore "github.com/robertor4/transcribe-sub002/store/bun"
	"github.com/robertor4/transcribe-sub002/store/memory"
	"github.com/robertor4/transcribe-sub002/uploader"
)

func main() {
	if err := run(); err != nil {
		slog.Error("worker exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load() //nolint:errcheck // .env is optional

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := buildStore(logger)
	if err != nil {
		return err
	}
	defer store.Close() //nolint:errcheck // process exit
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	objects, err := uploader.NewFS(envOr("ARTIFACT_DIR", "artifacts"))
	if err != nil {
		return fmt.Errorf("artifact store: %w", err)
	}

	providers, err := buildProviders(logger, objects)
	if err != nil {
		return err
	}

	cfg := transcribe.DefaultConfig()
	if n, convErr := strconv.Atoi(envOr("CONCURRENCY", "4")); convErr == nil && n > 0 {
		cfg.Concurrency = n
	}

	t, err := transcribe.New(
		transcribe.WithStore(store),
		transcribe.WithConfig(cfg),
		transcribe.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	engOpts := []engine.Option{
		engine.WithProvider(providers),
		engine.WithObjectStore(objects),
		engine.WithUserDefaults(queue.UserConfig{MaxConcurrency: 2, RateLimit: 0.5, RateBurst: 2}),
	}
	if q := buildQueue(logger); q != nil {
		engOpts = append(engOpts, engine.WithQueue(q))
	}

	eng, err := engine.Build(t, engOpts...)
	if err != nil {
		return err
	}
	if err := eng.Start(ctx); err != nil {
		return err
	}

	srv := hubServer(eng, logger)
	go func() {
		if serveErr := srv.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logger.Error("hub server", slog.Any("error", serveErr))
		}
	}()
	logger.Info("worker running", slog.String("addr", srv.Addr))

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("hub shutdown", slog.Any("error", err))
	}
	return eng.Stop(shutdownCtx)
}

func buildStore(logger *slog.Logger) (transcribe.Storer, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		logger.Warn("DATABASE_URL not set, using in-memory store")
		return memory.New(), nil
	}
	return bunstore.Open(dsn, bunstore.WithLogger(logger))
}

func buildQueue(logger *slog.Logger) queue.Queue {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		logger.Warn("REDIS_ADDR not set, using in-memory queue")
		return nil
	}
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	return queueredis.New(client, queueredis.WithLogger(logger))
}

func buildProviders(logger *slog.Logger, objects uploader.ObjectStore) (provider.Provider, error) {
	var providers []provider.Provider
	if url := os.Getenv("REMOTE_URL"); url != "" {
		providers = append(providers,
			provider.NewRemote(url, os.Getenv("REMOTE_API_KEY"), provider.WithRemoteLogger(logger)))
	}
	if url := os.Getenv("WHISPER_URL"); url != "" {
		providers = append(providers, provider.NewWhisper(
			url,
			os.Getenv("WHISPER_API_KEY"),
			envOr("WHISPER_MODEL", "whisper-1"),
			provider.WithWhisperLogger(logger),
			provider.WithObjectStore(objects),
		))
	}
	if len(providers) == 0 {
		return nil, errors.New("no provider configured: set REMOTE_URL or WHISPER_URL")
	}
	return provider.NewChain(providers...)
}

func hubServer(eng *engine.Engine, logger *slog.Logger) *http.Server {
	hub := notify.NewHub(eng.Broker(), notify.WithHubLogger(logger))

	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	api.New(eng, api.WithLogger(logger)).Register(mux)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "ok") //nolint:errcheck // health check
	})

	return &http.Server{
		Addr:              envOr("LISTEN_ADDR", ":8090"),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
