package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"mdcapture/config"
	"mdcapture/internal/channel"
	"mdcapture/logger"
	"mdcapture/processor"
	"mdcapture/reader/binance"
	"mdcapture/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "mdc.yaml", "Path to configuration file")
	logLevel := flag.String("log-level", "", "Log level (trace|debug|info|warn|error); overrides logging.level")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	level := cfg.Logging.Level
	if *logLevel != "" {
		level = *logLevel
	}
	if err := log.Configure(level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"instrument":  cfg.Instrument,
		"connections": cfg.Connections,
		"max_depth":   cfg.MaxDepth,
	}).Info("starting market depth capture")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.CloudWatch.Enabled {
		logger.InitCloudWatch(cfg.Metrics.CloudWatch.Region, cfg.Metrics.CloudWatch.Namespace)
	}

	if strings.ToLower(level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	channels := channel.NewChannels(
		cfg.Channels.DepthBuffer,
		cfg.Channels.SnapshotBuffer,
		cfg.Channels.BookBuffer,
		cfg.Channels.StateBuffer,
		cfg.Channels.MarketBuffer,
	)
	defer channels.Close()

	go channels.StartMetricsReporting(ctx)

	fatal := make(chan error, 1)

	depthReader := binance.NewDepthReader(cfg, channels)
	marketReader := binance.NewMarketReader(cfg, channels)
	snapshotReader := binance.NewSnapshotReader(cfg, channels, fatal)
	dispatcher := processor.NewDispatcher(cfg, channels)
	bookProcessor := processor.NewBookProcessor(cfg, channels)
	eventLogger := writer.NewEventLogger(cfg, channels)

	if err := eventLogger.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start event logger")
		os.Exit(1)
	}
	if err := bookProcessor.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start book processor")
		os.Exit(1)
	}
	if err := dispatcher.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start dispatcher")
		os.Exit(1)
	}
	if err := depthReader.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start depth reader")
		os.Exit(1)
	}
	if err := marketReader.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start market reader")
		os.Exit(1)
	}
	if err := snapshotReader.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start snapshot reader")
		os.Exit(1)
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-sigChan:
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
	case err := <-fatal:
		log.WithError(err).Error("fatal error, shutting down")
		exitCode = 1
	}

	log.Info("starting graceful shutdown")
	cancel()

	snapshotReader.Stop()
	marketReader.Stop()
	depthReader.Stop()
	dispatcher.Stop()
	bookProcessor.Stop()
	eventLogger.Stop()

	log.Info("shutdown complete")
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}
