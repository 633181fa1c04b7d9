package session

import (
	"time"

	"github.com/danmuck/rconsole/internal/protocol"
)

// Identity is the descriptive snapshot of the peer behind a connection. Info
// is replaced only by an inbound handshake.
type Identity struct {
	ConnID      string
	Address     string
	ConnectedAt time.Time
	Info        protocol.ClientInfo
	Handshaken  bool
}

// DisplayName returns the best human label for the peer.
func (id Identity) DisplayName() string {
	switch {
	case id.Info.DeviceName.Value != "":
		return id.Info.DeviceName.Value
	case id.Info.AppName.Value != "":
		return id.Info.AppName.Value
	default:
		return id.Address
	}
}
