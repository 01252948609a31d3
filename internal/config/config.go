// Package config holds the daemon configuration types.
package config

import "time"

// Defaults for the relay's ICE layer. The Google STUN servers mirror the
// zero-infrastructure setup the rest of the app uses; a deployment behind
// a known public IP can drop them entirely.
const (
	DefaultAddr       = ":8799"
	DefaultUDPPortMin = 50000
	DefaultUDPPortMax = 50199
)

// Config stores all parameters gathered from CLI flags.
type Config struct {
	Addr          string        // HTTP listen address (signaling + status + metrics)
	UDPPortMin    uint16        // lower bound of the relay's ephemeral UDP port range
	UDPPortMax    uint16        // upper bound of the relay's ephemeral UDP port range
	STUNServers   []string      // STUN URLs for ICE candidate gathering
	GatherTimeout time.Duration // max wait for local ICE candidate gathering per transport
	Debug         bool          // enable debug logging
}

// Default returns a Config populated with the defaults used when a flag is
// not provided.
func Default() Config {
	return Config{
		Addr:       DefaultAddr,
		UDPPortMin: DefaultUDPPortMin,
		UDPPortMax: DefaultUDPPortMax,
		STUNServers: []string{
			"stun:stun.l.google.com:19302",
			"stun:stun1.l.google.com:19302",
		},
		GatherTimeout: 5 * time.Second,
	}
}
