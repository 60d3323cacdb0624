// Package rquic is a mesh-session [rlink.Link] over QUIC.
//
// Each participant multicasts a small announcement on the local network
// naming its service type, a random instance ID and its QUIC port.
// Peers that hear a matching announcement report it as discovered.
// For every pair, the participant with the lower instance ID dials;
// the other side accepts the invitation and waits for it.
// Once a session exists, token payloads travel as length-prefixed frames
// on a single bidirectional stream.
package rquic
