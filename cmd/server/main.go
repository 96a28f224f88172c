package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	flag "github.com/spf13/pflag"

	"github.com/omochice/pairchat/internal/config"
	"github.com/omochice/pairchat/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "Path to config file (default $XDG_CONFIG_HOME/pairchat/config.toml)")
	addr := flag.String("addr", "", "Address to listen on (e.g., :12345)")
	level := flag.String("log-level", "", "Log level: DEBUG, INFO, WARN or ERROR")
	flag.Parse()

	// .env is optional.
	_ = godotenv.Load()

	path := *configPath
	if path == "" {
		path = config.Path()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Server.Listen = *addr
	}
	if *level != "" {
		cfg.Logging.Level = *level
	}

	log := logs.GetLoggerFromString(cfg.Logging.Level)
	srv := server.New(cfg.Server.Listen, log)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		log.Info("Starting server", "addr", cfg.Server.Listen)
		errChan <- srv.Start()
	}()

	// Wait for either error or shutdown signal
	select {
	case err := <-errChan:
		if err != nil {
			return err
		}
	case sig := <-sigChan:
		log.Info("Received signal, shutting down", "signal", sig.String())
		srv.Stop()
	}

	log.Info("Server stopped")
	return nil
}
