package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/hyunwoolee/gemini-relay/internal/config"
	"github.com/hyunwoolee/gemini-relay/internal/handler"
	"github.com/hyunwoolee/gemini-relay/internal/handler/api"
	"github.com/hyunwoolee/gemini-relay/internal/service/keypool"
	"github.com/hyunwoolee/gemini-relay/internal/service/session"
	"github.com/hyunwoolee/gemini-relay/internal/service/upstream"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	pool, err := keypool.New(cfg.Upstream.APIKeys)
	if err != nil {
		log.Fatalf("failed to build key pool: %v", err)
	}
	log.Printf("key pool loaded with %d keys, strategy=%s", pool.Size(), cfg.Upstream.KeyStrategy)

	var counter *keypool.Counter
	if cfg.Upstream.KeyStrategy == config.StrategySequential {
		if err := os.MkdirAll(cfg.Session.Dir, 0o755); err != nil {
			log.Fatalf("failed to create session dir: %v", err)
		}
		counter = keypool.NewCounter(pool, cfg.Session.Dir)
	}

	sessions, closeStore, err := newSessionStore(cfg.Session)
	if err != nil {
		log.Fatalf("failed to initialize session store: %v", err)
	}
	defer closeStore()
	log.Printf("session store ready, backend=%s dir=%s", cfg.Session.Backend, cfg.Session.Dir)

	dispatcher := upstream.NewClient(cfg.Upstream)
	generator := upstream.NewService(dispatcher, pool, counter, cfg.Upstream)

	apiHandler := api.New(generator, sessions, pool, cfg)
	router := handler.NewRouter(apiHandler, cfg.Server.AllowedOrigin)

	startServer(ctx, cfg.Server, router)
}

func newSessionStore(cfg config.SessionConfig) (session.Store, func(), error) {
	if cfg.Backend == config.BackendSQLite {
		store, err := session.OpenSQLite(cfg.Dir, cfg.TTL)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	}

	store, err := session.NewFileStore(cfg.Dir, cfg.TTL)
	if err != nil {
		return nil, nil, err
	}
	return store, func() {}, nil
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Gemini relay listening on %s", serverCfg.Addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
