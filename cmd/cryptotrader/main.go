package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"cryptotrader/internal/app"
	"cryptotrader/internal/config"
	"cryptotrader/internal/logger"

	"github.com/joho/godotenv"
)

func main() {
	// Credentials usually live in .env next to the binary; a missing file is fine.
	_ = godotenv.Load()

	defaultPath := os.Getenv("CRYPTOTRADER_CONFIG")
	if defaultPath == "" {
		defaultPath = "configs/config.yaml"
	}
	cfgPath := flag.String("config", defaultPath, "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logFile, err := logger.SetFileOutput(logger.FileConfig{
		Path:       cfg.App.LogPath,
		MaxSizeMB:  cfg.App.LogMaxSizeMB,
		MaxBackups: cfg.App.LogMaxBackups,
		MaxAgeDays: cfg.App.LogMaxAgeDays,
	})
	if err != nil {
		log.Fatalf("init log file: %v", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.Infof("✓ config loaded (env=%s, venue=%s, paper=%v)", cfg.App.Env, cfg.Exchange.VenueName(), cfg.Exchange.PaperTrading)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.NewApp(ctx, cfg, config.FlagsFromEnv())
	if err != nil {
		log.Fatalf("init app: %v", err)
	}
	defer a.Close()

	report := a.Diagnostics().Collect(ctx)
	logger.Infof("✓ %s on %s/%s host=%s pid=%d mode=%s",
		report.Runtime.Version, report.Platform.OS, report.Platform.Machine,
		report.Platform.Hostname, report.Runtime.PID, report.Mode)

	watcher, err := config.Watch(*cfgPath, cfg)
	if err != nil {
		logger.Warnf("config watch disabled: %v", err)
	} else {
		watcher.Subscribe(a.ApplyRuntime)
		defer watcher.Stop()
	}

	if err := a.Run(ctx); err != nil {
		logger.Errorf("run failed: %v", err)
		_ = a.Close()
		os.Exit(1)
	}
	logger.Infof("shutdown complete")
}
