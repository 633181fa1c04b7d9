package config

import (
	"github.com/danmuck/rconsole/internal/agent"
	"github.com/danmuck/rconsole/internal/console"
)

// ServiceConfig maps a validated file config onto the console defaults.
func (c ServerConfig) ServiceConfig() console.ServiceConfig {
	out := console.DefaultServiceConfig()
	out.Name = c.Name
	out.ListenAddr = c.ListenAddr
	out.SocketPath = c.SocketPath
	out.TCPListenAddr = c.TCPListenAddr
	out.CorsOrigins = append([]string(nil), c.CorsOrigins...)
	out.AdminToken = c.AdminToken
	if c.LogCapacity > 0 {
		out.LogCapacity = c.LogCapacity
	}
	if d, _ := ParseDuration("request_timeout", c.RequestTimeout); d != 0 {
		out.Session.RequestTimeout = d
	}
	if d, _ := ParseDuration("write_timeout", c.WriteTimeout); d > 0 {
		out.Session.WriteTimeout = d
	}
	return out
}

// ClientConfig maps a validated file config onto the agent defaults.
func (c AgentConfig) ClientConfig() agent.ClientConfig {
	out := agent.DefaultClientConfig()
	out.ServerAddr = c.ServerAddr
	out.Transport = c.Transport
	out.MaxConnectAttempts = c.MaxConnectAttempts
	if d, _ := ParseDuration("request_timeout", c.RequestTimeout); d != 0 {
		out.Session.RequestTimeout = d
	}
	if d, _ := ParseDuration("connect_timeout", c.ConnectTimeout); d > 0 {
		out.Session.ConnectTimeout = d
	}
	return out
}

// FileModule builds the agent file module rooted at file_root.
func (c AgentConfig) FileModule() *agent.FileModule {
	m := agent.NewFileModule(c.FileRoot)
	if c.MaxDownloadBytes > 0 {
		m.MaxDownloadBytes = c.MaxDownloadBytes
	}
	return m
}
