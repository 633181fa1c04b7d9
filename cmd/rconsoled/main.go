package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/danmuck/rconsole/internal/console"
	"github.com/danmuck/rconsole/internal/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	path := flag.String("config", "", "path to rconsoled config.toml (defaults when empty)")
	flag.Parse()

	logging.ConfigureRuntime()
	cfg := console.DefaultServiceConfig()
	if *path != "" {
		loaded, level, err := loadServiceConfig(*path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "rconsoled: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
		if level != zerolog.NoLevel {
			zerolog.SetGlobalLevel(level)
		}
	}

	svc := console.NewServiceWithConfig(cfg)
	log.Info().Str("name", cfg.Name).Str("listen", cfg.ListenAddr).Msg("rconsoled starting")
	if err := svc.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "rconsoled: %v\n", err)
		os.Exit(1)
	}
}
