package agent

import (
	"crypto/sha1"
	"encoding/hex"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/danmuck/rconsole/internal/protocol"
	"github.com/danmuck/rconsole/internal/protocol/wire"
	"github.com/google/uuid"
)

// IdentitySource supplies the handshake sent on every connect.
type IdentitySource interface {
	Identify() protocol.ClientInfo
}

type IdentityFunc func() protocol.ClientInfo

func (f IdentityFunc) Identify() protocol.ClientInfo { return f() }

// HostIdentity describes the local host and process. The session id is fixed
// for the lifetime of the value.
type HostIdentity struct {
	AppName    string
	AppVersion string

	once      sync.Once
	sessionID string
}

func NewHostIdentity(appName, appVersion string) *HostIdentity {
	return &HostIdentity{AppName: appName, AppVersion: appVersion}
}

func (h *HostIdentity) Identify() protocol.ClientInfo {
	h.once.Do(func() { h.sessionID = uuid.NewString() })

	host, _ := os.Hostname()
	app := h.AppName
	if app == "" {
		app = filepath.Base(os.Args[0])
	}
	version := h.AppVersion
	if version == "" {
		version = buildVersion()
	}
	return protocol.ClientInfo{
		DeviceName:  wire.Str(host),
		DeviceModel: wire.Str(runtime.GOOS + "/" + runtime.GOARCH),
		DeviceID:    wire.Str(deviceID(host)),
		Platform:    wire.Str(runtime.GOOS),
		AppName:     wire.Str(app),
		AppVersion:  wire.Str(version),
		SessionID:   wire.Str(h.sessionID),
	}
}

func buildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "" {
		return "devel"
	}
	return info.Main.Version
}

// deviceID prefers the systemd machine id and falls back to a digest of the
// hostname.
func deviceID(host string) string {
	if raw, err := os.ReadFile("/etc/machine-id"); err == nil {
		if id := strings.TrimSpace(string(raw)); id != "" {
			return id
		}
	}
	sum := sha1.Sum([]byte(host))
	return hex.EncodeToString(sum[:])
}
