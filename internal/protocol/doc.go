// Package protocol owns the envelope wire contract.
//
// Ownership boundary:
// - envelope header encode/decode
// - payload models and their field order
// - payload registry keyed by (kind, sub-kind, direction)
package protocol
