package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/rconsole/internal/console"
	"github.com/danmuck/rconsole/internal/logging"
	"github.com/rs/zerolog"
)

// rconsoled config.toml keys.
type fileConfig struct {
	Name           string   `toml:"name"`
	ListenAddr     string   `toml:"listen_addr"`
	SocketPath     string   `toml:"socket_path"`
	TCPListenAddr  string   `toml:"tcp_listen_addr"`
	CorsOrigins    []string `toml:"cors_origins"`
	AdminToken     string   `toml:"admin_token"`
	LogCapacity    int      `toml:"log_capacity"`
	LogLevel       string   `toml:"log_level"`
	PumpInterval   string   `toml:"pump_interval"`
	RequestTimeout string   `toml:"request_timeout"`
	WriteTimeout   string   `toml:"write_timeout"`
	SweepInterval  string   `toml:"sweep_interval"`
}

// loadServiceConfig overlays the keys present in path onto the console
// defaults. The returned level is NoLevel when log_level is absent.
func loadServiceConfig(path string) (console.ServiceConfig, zerolog.Level, error) {
	cfg := console.DefaultServiceConfig()
	level := zerolog.NoLevel

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return console.ServiceConfig{}, level, fmt.Errorf("load rconsoled config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return console.ServiceConfig{}, level, fmt.Errorf("unknown config key %q", undecoded[0].String())
	}

	if meta.IsDefined("name") {
		cfg.Name = strings.TrimSpace(raw.Name)
	}
	if meta.IsDefined("listen_addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}
	if meta.IsDefined("socket_path") {
		cfg.SocketPath = strings.TrimSpace(raw.SocketPath)
	}
	if meta.IsDefined("tcp_listen_addr") {
		cfg.TCPListenAddr = strings.TrimSpace(raw.TCPListenAddr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = normalizeOrigins(raw.CorsOrigins)
	}
	if meta.IsDefined("admin_token") {
		cfg.AdminToken = strings.TrimSpace(raw.AdminToken)
	}
	if meta.IsDefined("log_capacity") {
		cfg.LogCapacity = raw.LogCapacity
	}
	if meta.IsDefined("log_level") {
		lvl, ok := logging.ParseLevel(raw.LogLevel)
		if !ok {
			return console.ServiceConfig{}, level, fmt.Errorf("parse log_level: unknown level %q", raw.LogLevel)
		}
		level = lvl
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"pump_interval", raw.PumpInterval, &cfg.PumpInterval},
		{"request_timeout", raw.RequestTimeout, &cfg.Session.RequestTimeout},
		{"write_timeout", raw.WriteTimeout, &cfg.Session.WriteTimeout},
		{"sweep_interval", raw.SweepInterval, &cfg.Session.SweepInterval},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return console.ServiceConfig{}, level, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}

	if err := cfg.Validate(); err != nil {
		return console.ServiceConfig{}, level, err
	}
	return cfg, level, nil
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		v := strings.TrimRight(strings.TrimSpace(origin), "/")
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
