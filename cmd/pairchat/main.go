package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/omochice/pairchat/internal/api"
	"github.com/omochice/pairchat/internal/chat"
	"github.com/omochice/pairchat/internal/config"
	"github.com/omochice/pairchat/internal/live"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "Path to config file (default $XDG_CONFIG_HOME/pairchat/config.toml)")
	username := flag.StringP("username", "u", "", "Username for chat")
	serverURL := flag.String("server", "", "Server base URL (e.g., http://localhost:12345)")
	liveURL := flag.String("live", "", "Live channel URL (e.g., ws://localhost:12345/ws)")
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
	if *serverURL != "" {
		cfg.Server.URL = *serverURL
	}
	if *liveURL != "" {
		cfg.Live.URL = *liveURL
	}
	if *level != "" {
		cfg.Logging.Level = *level
	}
	if *username != "" {
		cfg.Username = *username
	}

	log := logs.GetLoggerFromString(cfg.Logging.Level)

	fetcher := api.New(cfg.Server.URL, log,
		api.WithMethod(cfg.Server.Method),
		api.WithTimeout(cfg.Server.Timeout),
	)
	channel := live.New(live.Config{
		URL:           cfg.Live.URL,
		RetryInterval: cfg.Live.RetryInterval,
		DialTimeout:   cfg.Live.DialTimeout,
		Buffer:        cfg.Live.Buffer,
	}, log)
	client := chat.New(fetcher, channel, log)
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	r := newREPL(client, os.Stdout)
	if err := r.login(ctx, cfg.Username, lines); err != nil {
		if errors.Is(err, errQuit) || errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.render(gctx, client.Subscribe(gctx))
	})
	g.Go(func() error {
		return r.readLoop(gctx, lines)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errQuit) && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
