package signaling

import (
	"github.com/dmp-music/party/internal/metrics"
	"github.com/dmp-music/party/internal/party"
	"github.com/dmp-music/party/internal/protocol"
	"github.com/dmp-music/party/internal/util"
)

// Broadcaster fans an event out to a session's peers. Delivery is best
// effort: a dead socket is skipped and never stops the loop. There is no
// replay — a listener that misses an event picks up current state from
// the snapshot in its next joined reply.
type Broadcaster struct{}

// ToListeners delivers the payload to every currently joined listener.
func (b *Broadcaster) ToListeners(s *party.Session, event protocol.MessageType, payload any) {
	for _, l := range s.Listeners() {
		if err := l.Peer.Send(payload); err != nil {
			util.LogDebug("signaling: %s to listener %s dropped: %v", event, l.ID, err)
		}
	}
	metrics.BroadcastEvents.WithLabelValues(string(event)).Inc()
}

// ToHost delivers the payload to the session's host, if it still answers.
func (b *Broadcaster) ToHost(s *party.Session, event protocol.MessageType, payload any) {
	if err := s.Host().Send(payload); err != nil {
		util.LogDebug("signaling: %s to host dropped: %v", event, err)
	}
	metrics.BroadcastEvents.WithLabelValues(string(event)).Inc()
}
