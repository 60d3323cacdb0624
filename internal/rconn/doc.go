// Package rconn holds the kernel's per-endpoint connection records.
//
// Records live in an arena addressed by [Handle]
// and are indexed by transport endpoint,
// so there is never more than one live record per endpoint.
// Nothing in this package is safe for concurrent use;
// the kernel goroutine is the only owner.
package rconn
