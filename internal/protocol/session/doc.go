// Package session owns the per-connection envelope engine.
//
// Ownership boundary:
// - connection actor (read loop, write loop, pending sweep)
// - request/response correlation
// - broadcast handler registry
// - serialized dispatch queue
// - reconnect backoff
//
// Threading: socket I/O runs on per-connection goroutines; routing, handler
// invocation and completions run on whichever goroutine pumps the Queue.
package session
