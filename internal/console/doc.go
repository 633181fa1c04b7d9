// Package console is the development-host side of the remote console: it
// accepts agent connections, keeps the roster of connected clients and their
// logs, issues hierarchy and file requests, and exposes all of it over HTTP.
package console
