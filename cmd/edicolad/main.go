package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os/signal"
	"syscall"

	"edicola/internal/api"
	"edicola/internal/config"
	"edicola/internal/daemon"
	"edicola/internal/logging"
	"edicola/internal/login"
	"edicola/internal/ocr"
	"edicola/internal/pressreader"
	"edicola/internal/store"
	"edicola/internal/telegram"
	"edicola/internal/token"
	"edicola/internal/workers"
)

func main() {
	configPath := flag.String("config", "", "configuration file path")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("prepare directories: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg.Logging.Level, cfg.Logging.Format, cfg.Paths.LogDir)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	st, err := store.Open(cfg)
	if err != nil {
		logger.Error("open store", logging.Error(err))
		return
	}
	defer st.Close()

	if cfg.Workflow.PublicationsFile != "" {
		if err := st.SeedPublications(ctx, cfg.Workflow.PublicationsFile, logger); err != nil {
			logger.Error("seed publications", logging.Error(err))
			return
		}
	}

	tokens := token.NewManager(newTokenSource(cfg, logger), cfg.Paths.TokenFile, logger)
	client := pressreader.NewClient(cfg, tokens, logger)
	fetcher := pressreader.NewFetcher(cfg, logger)

	scheduler := workers.NewScheduler(cfg, st, client, logger)
	pipeline := []workers.Worker{
		scheduler,
		workers.NewDownloader(cfg, st, client, fetcher, logger),
		workers.NewFinisher(cfg, st, ocr.NewService(cfg), logger),
	}

	var documentFetcher api.DocumentFetcher
	channel, err := telegram.NewClient(cfg, logger)
	switch {
	case errors.Is(err, telegram.ErrNotConfigured):
		logger.Warn("delivery channel not configured, issues will stop after OCR")
	case err != nil:
		logger.Error("init delivery channel", logging.Error(err))
		return
	default:
		pipeline = append(pipeline, workers.NewUploader(cfg, st, channel, logger))
		documentFetcher = channel
	}

	manager := workers.NewManager(logger, pipeline...)
	d, err := daemon.New(cfg, st, manager, scheduler, documentFetcher, logger)
	if err != nil {
		logger.Error("create daemon", logging.Error(err))
		return
	}

	if err := d.Start(ctx); err != nil {
		logger.Error("daemon start", logging.Error(err))
		return
	}

	<-ctx.Done()
	logger.Info("edicolad shutting down")
	d.Stop()
}

// newTokenSource picks the browser login when portal credentials are present
// and falls back to the anonymous session endpoint otherwise.
func newTokenSource(cfg *config.Config, logger *slog.Logger) token.Source {
	if cfg.Login.Username != "" && cfg.Login.Password != "" {
		return login.NewBrowserSource(cfg, logger)
	}
	logger.Warn("no portal credentials configured, using anonymous session tokens")
	return login.NewLiteSource()
}
