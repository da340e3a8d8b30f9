// Command server runs the gateway's HTTP surface: the OpenAI- and
// Anthropic-compatible chat endpoints plus the admin API (spec.md §6).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vendorgate/gateway/internal/config"
	"github.com/vendorgate/gateway/internal/gateway"
	"github.com/vendorgate/gateway/internal/store"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	s, err := openStore()
	if err != nil {
		log.Error().Err(err).Msg("failed to open persistence store")
		os.Exit(1)
	}
	defer s.Close()

	gw, err := gateway.New(cfg, s)
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize gateway")
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      gw.Router(),
		WriteTimeout: config.DefaultServerWriteTimeout,
	}

	ctx, cancel := context.WithCancel(context.Background())
	snapDone := make(chan struct{})
	go func() {
		gw.SnapshotLoop(ctx)
		close(snapDone)
	}()

	srvErrCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Port).Msg("gateway listening")
		srvErrCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-srvErrCh:
		if err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("gateway server failed")
			cancel()
			os.Exit(1)
		}
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("graceful HTTP shutdown did not complete cleanly")
	}

	cancel() // triggers gw.SnapshotLoop's final snapshot
	<-snapDone
	os.Exit(0)
}

func setupLogging(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
}

func openStore() (store.Store, error) {
	if path := os.Getenv("GATEWAY_DB_PATH"); path != "" {
		return store.Open(path)
	}
	return store.NewMemoryStore(), nil
}
