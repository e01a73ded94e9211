package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voice_scribe_bot/internal/ai"
	"voice_scribe_bot/internal/config"
	"voice_scribe_bot/internal/feature/billing"
	"voice_scribe_bot/internal/feature/voice"
	"voice_scribe_bot/internal/health"
	"voice_scribe_bot/internal/logging"
	"voice_scribe_bot/internal/metrics"
	"voice_scribe_bot/internal/store"
	"voice_scribe_bot/internal/telegram"
)

const (
	ledgerOpenTimeout       = 10 * time.Second
	ledgerCloseTimeout      = 5 * time.Second
	healthShutdownTimeout   = 5 * time.Second
	telegramShutdownTimeout = 10 * time.Second
)

func main() {
	configOnly := flag.Bool("config-only", false, "load and print configuration then exit")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage of %s:\n", os.Args[0])
		flag.PrintDefaults()
		fmt.Fprint(flag.CommandLine.Output(), config.Usage())
	}
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.Error("configuration error", logging.Fields{"error": err})
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.Setup(cfg)
	if err != nil {
		logging.Error("logger setup error", logging.Fields{"error": err})
		fmt.Fprintf(os.Stderr, "logger setup error: %v\n", err)
		os.Exit(1)
	}

	if *configOnly {
		logging.Info("configuration check", logging.Fields{"event": "config_only"})
		fmt.Println("configuration check: ok")
		fmt.Println(config.FormatRedacted(cfg))
		return
	}

	logger.WithFields(logging.Fields{
		"event":         "startup",
		"ledger_driver": cfg.LedgerDriver,
		"test_mode":     cfg.TestMode,
	}).Info("configuration loaded")

	metrics.Register()

	openCtx, cancelOpen := context.WithTimeout(context.Background(), ledgerOpenTimeout)
	ledger, err := store.Open(openCtx, cfg)
	cancelOpen()
	if err != nil {
		logger.WithError(err).Error("ledger open error")
		fmt.Fprintf(os.Stderr, "ledger open error: %v\n", err)
		os.Exit(1)
	}

	logger.WithField("event", "ledger_ready").Info("payment ledger opened")

	tgClient, err := telegram.NewClient(cfg, logger)
	if err != nil {
		logger.WithError(err).Error("telegram client setup error")
		fmt.Fprintf(os.Stderr, "telegram client setup error: %v\n", err)
		os.Exit(1)
	}

	logger.WithField("event", "telegram_ready").Info("telegram client initialized")

	aiClient := ai.NewClient(cfg.OpenAIKey, cfg.OpenAIBaseURL, nil)
	transcriber := ai.NewTranscriber(aiClient, cfg.WhisperModel)
	cleaner := ai.NewCleaner(aiClient, cfg.GPTModel)

	controller := billing.NewController(ledger, tgClient, int64(cfg.InvoicePrice), logger)
	pipeline := voice.NewPipeline(tgClient, transcriber, cleaner, voice.Settings{
		AllowedBusinessConnections: cfg.AllowedBusinessConnections,
		Credit:                     cfg.BotCredit,
		RemoteTimeout:              cfg.RemoteTimeout,
	}, logger)

	dispatcher := telegram.NewDispatcher(controller, pipeline, tgClient, cfg.DispatchWorkers, cfg.UpdateTimeout, logger)
	poller := telegram.NewPoller(tgClient, dispatcher, cfg.PollTimeout, logger)

	healthServer := health.NewServer(cfg.HTTPPort, ledger, nil, logger)
	go func() {
		if err := healthServer.ListenAndServe(); err != nil {
			logger.WithError(err).Error("health server error")
		}
	}()

	signalCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	telegramCtx, cancelTelegram := context.WithCancel(context.Background())
	tgDone := make(chan struct{})

	go func() {
		poller.Run(telegramCtx)
		dispatcher.Wait()
		close(tgDone)
	}()

	select {
	case <-signalCtx.Done():
		logger.WithField("event", "shutdown_signal").Info("received termination signal, stopping telegram polling")
	case <-tgDone:
		logger.WithField("event", "telegram_stopped_early").Warn("telegram polling stopped before shutdown signal")
	}

	cancelTelegram()

	waitCtx, cancelWait := context.WithTimeout(context.Background(), telegramShutdownTimeout)
	select {
	case <-tgDone:
	case <-waitCtx.Done():
		logger.WithField("event", "telegram_shutdown_timeout").Warn("timed out waiting for telegram polling and handlers to stop")
	}
	cancelWait()

	healthCtx, cancelHealth := context.WithTimeout(context.Background(), healthShutdownTimeout)
	if err := healthServer.Shutdown(healthCtx); err != nil {
		logger.WithError(err).Error("health server shutdown error")
	}
	cancelHealth()

	closeCtx, cancelClose := context.WithTimeout(context.Background(), ledgerCloseTimeout)
	if err := ledger.Close(closeCtx); err != nil {
		logger.WithError(err).Error("ledger close error")
	} else {
		logger.WithField("event", "ledger_closed").Info("payment ledger closed")
	}
	cancelClose()

	logger.WithField("event", "shutdown_complete").Info("shutdown complete")
}
