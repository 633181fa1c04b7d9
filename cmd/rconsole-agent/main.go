package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/rconsole/internal/agent"
	"github.com/danmuck/rconsole/internal/config"
	"github.com/danmuck/rconsole/internal/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	path := flag.String("config", "cmd/rconsole-agent/config.toml", "path to agent config.toml")
	flag.Parse()

	logging.ConfigureRuntime()
	if err := run(*path); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "rconsole-agent: %v\n", err)
		os.Exit(1)
	}
}

func run(path string) error {
	cfg, err := config.LoadAgentConfig(path)
	if err != nil {
		return err
	}
	if lvl, ok := logging.ParseLevel(cfg.LogLevel); ok {
		zerolog.SetGlobalLevel(lvl)
	}

	client, err := agent.NewClient(cfg.ClientConfig(),
		agent.WithIdentity(agent.NewHostIdentity(cfg.AppName, cfg.AppVersion)),
		agent.WithModules(cfg.FileModule(), agent.NewHierarchyModule(agent.RuntimeHierarchy{})),
	)
	if err != nil {
		return err
	}
	if cfg.ForwardLogs {
		forward := agent.NewLogWriter(client, "rconsole-agent")
		console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		log.Logger = log.Output(zerolog.MultiLevelWriter(console, forward))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() { _ = client.Run(ctx) }()
	log.Info().Str("server", cfg.ServerAddr).Str("file_root", cfg.FileRoot).Msg("rconsole-agent starting")
	return client.Maintain(ctx)
}
