package console

import (
	"github.com/danmuck/rconsole/internal/protocol"
	"github.com/danmuck/rconsole/internal/protocol/session"
)

// Sink observes connection lifecycle and log traffic. Methods run on the
// server's dispatch queue.
type Sink interface {
	ClientConnected(id session.Identity)
	ClientUpdated(id session.Identity)
	ClientDisconnected(id session.Identity)
	LogReceived(id session.Identity, rec protocol.LogRecord)
}
