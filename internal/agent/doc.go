// Package agent is the application side of the remote console. A Client
// dials the console, announces its identity, forwards logs and answers
// hierarchy and file requests through pluggable modules.
package agent
