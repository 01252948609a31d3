package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide party/relay counter.
var Stats = &stats{}

type stats struct {
	ListenersJoined atomic.Int64 // cumulative count of listeners that joined since process start
	ListenersLeft   atomic.Int64 // cumulative count of listeners that left since process start
	MessagesSent    atomic.Int64 // cumulative count of signaling messages written to peers
	PacketsRelayed  atomic.Int64 // cumulative RTP packets forwarded host → listeners
	BytesRelayed    atomic.Int64 // cumulative RTP payload bytes forwarded
}

func (s *stats) AddListener()    { s.ListenersJoined.Add(1) }
func (s *stats) RemoveListener() { s.ListenersLeft.Add(1) }
func (s *stats) AddMessage()     { s.MessagesSent.Add(1) }

func (s *stats) AddRelayed(n int) {
	s.PacketsRelayed.Add(1)
	s.BytesRelayed.Add(int64(n))
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs party statistics
// every 10 seconds. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		var prevBytes, prevMsgs, prevJoined, prevLeft int64
		for {
			select {
			case <-ticker.C:
				joined := Stats.ListenersJoined.Load()
				left := Stats.ListenersLeft.Load()
				msgs := Stats.MessagesSent.Load()
				bytes := Stats.BytesRelayed.Load()

				rate := float64(bytes-prevBytes) / 10.0
				sent := msgs - prevMsgs
				in := joined - prevJoined
				out := left - prevLeft

				if in > 0 || out > 0 || sent > 0 || rate > 10 {
					pterm.DefaultLogger.Info(formatStats(rate, sent, in, out, joined-left))
				}

				prevBytes = bytes
				prevMsgs = msgs
				prevJoined = joined
				prevLeft = left

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats returns a formatted string of the current stats for display in the logger.
func formatStats(rate float64, sent, in, out, active int64) string {
	return fmt.Sprintf("Relay: %s/s | Msgs: %3d | Listeners: %2d↑ %2d↓ (%d active)",
		formatBytes(rate),
		sent,
		in,
		out,
		active,
	)
}
