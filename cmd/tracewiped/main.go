package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"tracewipe/internal/buffer"
	"tracewipe/internal/cleaner"
	"tracewipe/internal/config"
	"tracewipe/internal/host"
	"tracewipe/internal/metrics"
	"tracewipe/internal/pipeline"
	"tracewipe/internal/policy"
	"tracewipe/internal/scheduler"
	"tracewipe/internal/store"
	"tracewipe/internal/web"
)

const version = "1.0.0"

func main() {
	configFile := flag.String("config", "config.yaml", "Configuration file path")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("tracewipe v%s\n", version)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	// Setup logging
	setupLogging(cfg.Logging)

	logrus.WithFields(logrus.Fields{
		"config_file": *configFile,
		"port":        cfg.Server.Port,
		"bridge":      cfg.HostBridge.URL,
	}).Info("Starting tracewipe retention engine")

	// Durable store for rules, retry buffer and action log
	durable, err := store.NewBoltStore(cfg.Database.Path)
	if err != nil {
		logrus.Fatalf("Failed to initialize database: %v", err)
	}
	defer durable.Close()

	// Volatile session store for the tab map and pause flag
	volatile := store.NewMemStore()

	// Host capabilities
	bridge := host.NewBridgeClient(cfg.HostBridge.URL, cfg.HostBridge.Timeout)
	alarms := host.NewCronAlarms()

	metricsCollector := metrics.NewCollector()

	rules := policy.NewStore(durable)
	ruleset := policy.NewRuleSet()
	cl := cleaner.New(bridge, bridge, cfg.Engine.HistorySearchMax, cfg.Engine.CacheClearInterval)
	buf := buffer.New(durable, cfg.Engine.BufferCapacity, cfg.Engine.BufferMaxAttempts,
		cfg.Engine.BufferRetrySpacing, cfg.Engine.BufferMaxAge)
	actionLog := pipeline.NewActionLog(durable, cfg.Engine.ActionLogCapacity)

	engine := pipeline.NewEngine(cfg.Engine, rules, ruleset, cl, buf, actionLog, volatile, metricsCollector)
	sched := scheduler.New(alarms, rules, ruleset, cl, buf, bridge, metricsCollector,
		cfg.Engine.AlarmFloor, cfg.Engine.FlushInterval, cfg.Engine.HistorySearchMax)
	engine.SyncAlarms = sched.SyncAlarms

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Compile persisted rules and reconcile alarms before serving events
	if err := engine.ReloadRules(); err != nil {
		logrus.Fatalf("Failed to load rules: %v", err)
	}
	if err := sched.Start(ctx); err != nil {
		logrus.Fatalf("Failed to start scheduler: %v", err)
	}
	alarms.Start()
	defer alarms.Stop()

	// Web server
	webServer := web.NewServer(cfg, engine, rules, metricsCollector)
	go webServer.Start(ctx)

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logrus.WithField("signal", sig).Info("Received shutdown signal")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := webServer.Stop(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("Web server shutdown failed")
	}
	logrus.Info("Shutdown complete")
}

func setupLogging(cfg config.LoggingConfig) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if cfg.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}
}
