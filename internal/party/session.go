package party

import (
	"sync"
	"time"

	"github.com/dmp-music/party/internal/relay"
)

// Peer is the signaling side of a connected client. The session layer only
// ever sends; reading stays with the connection's own loop.
type Peer interface {
	Send(v any) error
}

// Listener is one joined listener together with its relay handles. ID and
// Peer are immutable; Transport and Consumer stay nil until the listener
// negotiates them and are only touched through the Session accessors.
type Listener struct {
	ID        string
	Peer      Peer
	Transport relay.Transport
	Consumer  relay.Consumer
}

// Session is the state of one listening party: the host connection, its
// relay handles, the shared playback snapshot and the joined listeners.
//
// Methods only mutate in-memory state and never wait on the relay, so they
// are cheap to call from any signaling tick. Relay negotiation happens in
// the handler between Session calls; a handler that waited must re-check
// the store before committing the result here.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu            sync.Mutex
	host          Peer
	router        relay.Router
	hostTransport relay.Transport
	producer      relay.Producer
	playback      PlaybackState
	listeners     map[string]*Listener
	ended         bool
}

// NewSession creates a live session owned by the given host connection.
func NewSession(id string, host Peer, router relay.Router) *Session {
	return &Session{
		ID:        id,
		CreatedAt: time.Now(),
		host:      host,
		router:    router,
		listeners: make(map[string]*Listener),
	}
}

// Host and Router are set at creation and never change.

func (s *Session) Host() Peer { return s.host }

func (s *Session) Router() relay.Router { return s.router }

func (s *Session) SetHostTransport(t relay.Transport) {
	s.mu.Lock()
	s.hostTransport = t
	s.mu.Unlock()
}

func (s *Session) HostTransport() relay.Transport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hostTransport
}

func (s *Session) SetProducer(p relay.Producer) {
	s.mu.Lock()
	s.producer = p
	s.mu.Unlock()
}

func (s *Session) Producer() relay.Producer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.producer
}

// ─────────────────────────────────────────────
// Playback snapshot
// ─────────────────────────────────────────────

// Playback returns a copy of the current snapshot. Callers must not mutate
// the CurrentTrack it points at.
func (s *Session) Playback() PlaybackState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playback
}

// SetNowPlaying installs the track the host switched to: playback restarts
// from zero and is marked as playing.
func (s *Session) SetNowPlaying(t *Track) {
	s.mu.Lock()
	s.playback.CurrentTrack = t
	s.playback.IsPlaying = true
	s.playback.CurrentTime = 0
	if t != nil {
		s.playback.Duration = t.Duration
	}
	s.mu.Unlock()
}

func (s *Session) SetPlaying(playing bool) {
	s.mu.Lock()
	s.playback.IsPlaying = playing
	s.mu.Unlock()
}

// SetPosition records the host-reported position. A zero duration keeps
// the previous one (hosts may omit it on plain seeks).
func (s *Session) SetPosition(currentTime, duration float64) {
	s.mu.Lock()
	s.playback.CurrentTime = currentTime
	if duration > 0 {
		s.playback.Duration = duration
	}
	s.mu.Unlock()
}

// ─────────────────────────────────────────────
// Listeners
// ─────────────────────────────────────────────

// AddListener registers a joined listener and returns the new count.
func (s *Session) AddListener(l *Listener) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners[l.ID] = l
	return len(s.listeners)
}

// RemoveListener drops the listener and returns its entry (so the caller
// can close its relay handles) plus the remaining count.
func (s *Session) RemoveListener(id string) (*Listener, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listeners[id]
	if ok {
		delete(s.listeners, id)
	}
	return l, len(s.listeners), ok
}

// Listeners returns a snapshot of the current entries. The map keeps
// changing; the snapshot does not.
func (s *Session) Listeners() []*Listener {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		out = append(out, l)
	}
	return out
}

func (s *Session) ListenerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

func (s *Session) SetListenerTransport(id string, t relay.Transport) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listeners[id]
	if !ok {
		return false
	}
	l.Transport = t
	return true
}

func (s *Session) ListenerTransport(id string) relay.Transport {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.listeners[id]; ok {
		return l.Transport
	}
	return nil
}

func (s *Session) SetListenerConsumer(id string, c relay.Consumer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listeners[id]
	if !ok {
		return false
	}
	l.Consumer = c
	return true
}

func (s *Session) ListenerConsumer(id string) relay.Consumer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.listeners[id]; ok {
		return l.Consumer
	}
	return nil
}

// ClearConsumers detaches every listener's consumer handle and returns the
// handles so the caller can close them. Listener entries stay: when the
// host produces again they can consume anew.
func (s *Session) ClearConsumers() []relay.Consumer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []relay.Consumer
	for _, l := range s.listeners {
		if l.Consumer != nil {
			out = append(out, l.Consumer)
			l.Consumer = nil
		}
	}
	return out
}

// ─────────────────────────────────────────────
// Lifecycle
// ─────────────────────────────────────────────

// Ended reports whether the session has been torn down or displaced.
// Handlers re-validate with this after waiting on the relay.
func (s *Session) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// Status is the observer snapshot for the HTTP status endpoint.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Active:        true,
		SessionID:     s.ID,
		PlaybackState: s.playback,
		ListenerCount: len(s.listeners),
	}
}

// Release marks the session ended and closes every relay handle it holds:
// consumers and transports first, then the producer, then the router.
// Relay closes are idempotent, so releasing twice is harmless.
func (s *Session) Release() {
	s.mu.Lock()
	s.ended = true
	producer := s.producer
	hostTransport := s.hostTransport
	listeners := make([]*Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.producer = nil
	s.hostTransport = nil
	s.listeners = make(map[string]*Listener)
	s.mu.Unlock()

	for _, l := range listeners {
		if l.Consumer != nil {
			_ = l.Consumer.Close()
		}
		if l.Transport != nil {
			_ = l.Transport.Close()
		}
	}
	if producer != nil {
		_ = producer.Close()
	}
	if hostTransport != nil {
		_ = hostTransport.Close()
	}
	_ = s.router.Close()
}
