package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"tradexec/internal/config"
	"tradexec/internal/engine"
	"tradexec/internal/httpapi"
	"tradexec/internal/store"
	"tradexec/internal/util"
	"tradexec/internal/venue"
)

func main() {
	cfgPath := "config/tradexec.yaml"
	if p := os.Getenv("TRADEXEC_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		log.Fatalf("creating data dir: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLitePath), 0o755); err != nil {
		log.Fatalf("creating sqlite dir: %v", err)
	}

	audit, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening sqlite store: %v", err)
	}
	defer audit.Close()
	pstore := store.NewParquetStore(cfg.Storage.DataDir)

	var v venue.Venue
	if cfg.Venue.PaperMode {
		v = venue.NewPaperVenue(venue.PaperConfig{
			FillDelay: time.Duration(cfg.Venue.FillDelayMS) * time.Millisecond,
			FillParts: cfg.Venue.FillParts,
		}, logger)
	} else {
		v = venue.NewAlpacaVenue(cfg.Venue.APIKey, cfg.Venue.APISecret, cfg.Venue.BaseURL, logger)
	}
	defer v.Close()

	eng := engine.New(cfg.EngineConfig(), v, audit, pstore, cfg.RiskManager(), logger)
	eng.Start()
	defer eng.Close()

	api := httpapi.NewServer(eng, pstore, logger)
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: api.Handler(),
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		logger.Info("tradexec-server listening",
			"addr", srv.Addr, "venue", v.Name(), "paperMode", cfg.Venue.PaperMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
}
