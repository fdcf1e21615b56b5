package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"grid_hedge_bot/config"
	"grid_hedge_bot/logs"

	"github.com/joho/godotenv"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config/config.yaml", "Path to the config.yaml file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		fmt.Println("Note: .env file not found, will continue using system environment variables.")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Fatal error: Unable to load config file '%s': %v\n", *configPath, err)
		return 1
	}
	envCfg := config.LoadEnvConfig()

	logFilename := filepath.Join(cfg.Normal.LogDirectory, fmt.Sprintf("%s_bot.log", cfg.Symbol))
	if err := logs.Init(cfg.Logs, logFilename); err != nil {
		fmt.Printf("Fatal error: Failed to initialize logging system: %v\n", err)
		return 1
	}
	defer logs.Close()
	logs.Infof("Configuration loaded successfully, logs will be written to: %s", logFilename)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orchestrator, err := NewOrchestrator(ctx, cfg, envCfg)
	if err != nil {
		logs.Errorf("Failed to initialize Orchestrator: %v", err)
		return 1
	}
	if err := orchestrator.Run(ctx); err != nil {
		logs.Errorf("Engine stopped with error: %v", err)
		return 1
	}
	logs.Info("All services stopped successfully.")
	return 0
}
