package config

import (
	"fmt"
	"os"
	"strings"
)

const (
	KindServer = "server"
	KindAgent  = "agent"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindServer:
		return serverTemplate, nil
	case KindAgent:
		return agentTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

// Validate loads the file at path as kind.
func Validate(path, kind string) error {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindServer:
		_, err := LoadServerConfig(path)
		return err
	case KindAgent:
		_, err := LoadAgentConfig(path)
		return err
	default:
		return fmt.Errorf("unknown config kind: %s", kind)
	}
}

const serverTemplate = `name = "rconsole"
listen_addr = ":13337"
socket_path = "/remote-console"
# tcp_listen_addr = ":13338"
cors_origins = ["http://localhost:3000"]
# admin_token = "change-me"
log_capacity = 5000
log_level = "info"
request_timeout = "30s"
write_timeout = "10s"
`

const agentTemplate = `server_addr = "ws://127.0.0.1:13337/remote-console"
transport = "websocket"
app_name = "rconsole-agent"
file_root = "."
max_download_bytes = 6291456
max_connect_attempts = 0
forward_logs = true
log_level = "info"
request_timeout = "30s"
connect_timeout = "5s"
`
