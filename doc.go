// Package radar finds nearby devices over a short-range radio link,
// swaps ranging tokens with them,
// and keeps a live table of each peer's distance and direction.
//
// A [Node] drives an [rlink.Link] and an [rranging.Engine].
// The link discovers endpoints advertising the radar service
// and carries token payloads;
// the engine turns a received token into a stream of measurements.
// Everything the Node learns is applied by a single internal goroutine,
// so callers never block on the radio
// and the peer table is never observed in a partially updated state.
//
// Applications read the table with [*Node.Peers]
// or follow it with [*Node.Subscribe].
package radar
