package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/danmuck/rconsole/internal/config"
	"github.com/danmuck/rconsole/internal/logging"
	"github.com/rs/zerolog/log"
)

func defaultPath(kind string) (string, error) {
	switch kind {
	case config.KindServer:
		return "cmd/rconsoled/config.toml", nil
	case config.KindAgent:
		return "cmd/rconsole-agent/config.toml", nil
	default:
		return "", fmt.Errorf("unknown kind: %s", kind)
	}
}

func main() {
	kind := flag.String("kind", config.KindServer, "config kind: server|agent")
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "", "config path for validation (defaults to per-kind cmd path)")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	logging.ConfigureRuntime()
	if err := run(*kind, *output, *input, *validate, *force); err != nil {
		log.Error().Err(err).Str("kind", *kind).Msg("configgen failed")
		os.Exit(1)
	}
}

func run(kind, output, input string, validate, force bool) error {
	if validate {
		path := input
		if path == "" {
			p, err := defaultPath(kind)
			if err != nil {
				return err
			}
			path = p
		}
		if err := config.Validate(path, kind); err != nil {
			return err
		}
		log.Info().Str("kind", kind).Str("path", path).Msg("validated config")
		return nil
	}

	target := output
	if target == "" {
		p, err := defaultPath(kind)
		if err != nil {
			return err
		}
		target = p
	}
	if err := config.WriteTemplate(target, kind, force); err != nil {
		return err
	}
	log.Info().Str("kind", kind).Str("path", target).Msg("wrote config template")
	return nil
}
