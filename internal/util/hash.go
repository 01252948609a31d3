// Package util provides shared utility functions.
package util

import (
	"hash/fnv"
	"net"
)

// ConnID computes a 4-byte hash from a connection's remote address. It is
// used solely as a compact tag to correlate log lines belonging to a single
// signaling connection and does not need to be reversible.
func ConnID(remote net.Addr) uint32 {
	h := fnv.New32a()
	h.Write([]byte(remote.Network()))
	h.Write([]byte(remote.String()))
	return h.Sum32()
}
