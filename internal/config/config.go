package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danmuck/rconsole/internal/logging"
	"github.com/danmuck/rconsole/internal/transport"
	"github.com/pelletier/go-toml/v2"
)

// ServerConfig is the on-disk form of the console daemon settings.
type ServerConfig struct {
	Name           string   `toml:"name"`
	ListenAddr     string   `toml:"listen_addr"`
	SocketPath     string   `toml:"socket_path"`
	TCPListenAddr  string   `toml:"tcp_listen_addr"`
	CorsOrigins    []string `toml:"cors_origins"`
	AdminToken     string   `toml:"admin_token"`
	LogCapacity    int      `toml:"log_capacity"`
	LogLevel       string   `toml:"log_level"`
	RequestTimeout string   `toml:"request_timeout"`
	WriteTimeout   string   `toml:"write_timeout"`
}

// AgentConfig is the on-disk form of the agent settings.
type AgentConfig struct {
	ServerAddr         string `toml:"server_addr"`
	Transport          string `toml:"transport"`
	AppName            string `toml:"app_name"`
	AppVersion         string `toml:"app_version"`
	FileRoot           string `toml:"file_root"`
	MaxDownloadBytes   int64  `toml:"max_download_bytes"`
	MaxConnectAttempts int    `toml:"max_connect_attempts"`
	ForwardLogs        bool   `toml:"forward_logs"`
	LogLevel           string `toml:"log_level"`
	RequestTimeout     string `toml:"request_timeout"`
	ConnectTimeout     string `toml:"connect_timeout"`
}

func LoadServerConfig(path string) (ServerConfig, error) {
	var cfg ServerConfig
	if err := loadToml(path, &cfg); err != nil {
		return ServerConfig{}, err
	}
	if cfg.Name == "" {
		cfg.Name = "rconsole"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":13337"
	}
	if cfg.SocketPath == "" {
		cfg.SocketPath = "/remote-console"
	}
	if err := ValidateServerConfig(cfg); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

func LoadAgentConfig(path string) (AgentConfig, error) {
	cfg := AgentConfig{ForwardLogs: true}
	if err := loadToml(path, &cfg); err != nil {
		return AgentConfig{}, err
	}
	if cfg.Transport == "" {
		cfg.Transport = transport.KindWebSocket
	}
	if cfg.FileRoot == "" {
		cfg.FileRoot = "."
	}
	if err := ValidateAgentConfig(cfg); err != nil {
		return AgentConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateServerConfig(cfg ServerConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("server config missing name")
	}
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		return fmt.Errorf("server config missing listen_addr")
	}
	if !strings.HasPrefix(cfg.SocketPath, "/") {
		return fmt.Errorf("server config socket_path must start with '/': %q", cfg.SocketPath)
	}
	if cfg.LogCapacity < 0 {
		return fmt.Errorf("server config log_capacity must not be negative")
	}
	if err := validateLevel(cfg.LogLevel); err != nil {
		return err
	}
	if _, err := ParseDuration("request_timeout", cfg.RequestTimeout); err != nil {
		return err
	}
	if _, err := ParseDuration("write_timeout", cfg.WriteTimeout); err != nil {
		return err
	}
	return nil
}

func ValidateAgentConfig(cfg AgentConfig) error {
	addr := strings.TrimSpace(cfg.ServerAddr)
	if addr == "" {
		return fmt.Errorf("agent config missing server_addr")
	}
	switch cfg.Transport {
	case transport.KindWebSocket:
		if !strings.HasPrefix(addr, "ws://") && !strings.HasPrefix(addr, "wss://") {
			return fmt.Errorf("agent config server_addr must be a ws:// or wss:// url for websocket transport: %q", addr)
		}
	case transport.KindTCP:
		if strings.Contains(addr, "://") {
			return fmt.Errorf("agent config server_addr must be host:port for tcp transport: %q", addr)
		}
	default:
		return fmt.Errorf("agent config unknown transport: %q", cfg.Transport)
	}
	if cfg.MaxConnectAttempts < 0 {
		return fmt.Errorf("agent config max_connect_attempts must not be negative")
	}
	if cfg.MaxDownloadBytes < 0 {
		return fmt.Errorf("agent config max_download_bytes must not be negative")
	}
	if err := validateLevel(cfg.LogLevel); err != nil {
		return err
	}
	if _, err := ParseDuration("request_timeout", cfg.RequestTimeout); err != nil {
		return err
	}
	if _, err := ParseDuration("connect_timeout", cfg.ConnectTimeout); err != nil {
		return err
	}
	return nil
}

// ParseDuration parses an optional duration field; empty yields zero.
func ParseDuration(field, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", field, err)
	}
	return d, nil
}

func validateLevel(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	if _, ok := logging.ParseLevel(raw); !ok {
		return fmt.Errorf("unknown log_level: %q", raw)
	}
	return nil
}
