package party

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/dmp-music/party/internal/relay"
)

// Compile-time interface checks.
var (
	_ relay.Router    = (*stubRouter)(nil)
	_ relay.Transport = (*stubTransport)(nil)
	_ relay.Producer  = (*stubProducer)(nil)
	_ relay.Consumer  = (*stubConsumer)(nil)
	_ Peer            = (*stubPeer)(nil)
)

// stubPeer records sent payloads.
type stubPeer struct {
	mu   sync.Mutex
	sent []any
}

func (p *stubPeer) Send(v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, v)
	return nil
}

// closeCounter counts Close calls; embedded by the relay stubs.
type closeCounter struct {
	mu     sync.Mutex
	closes int
}

func (c *closeCounter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

func (c *closeCounter) closed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

type stubRouter struct{ closeCounter }

func (r *stubRouter) ID() string                       { return "router-1" }
func (r *stubRouter) RTPCapabilities() json.RawMessage { return json.RawMessage(`{}`) }
func (r *stubRouter) CreateTransport(context.Context) (relay.Transport, error) {
	return &stubTransport{}, nil
}
func (r *stubRouter) CanConsume(string, json.RawMessage) bool { return true }

type stubTransport struct{ closeCounter }

func (t *stubTransport) ID() string { return "transport-1" }
func (t *stubTransport) Parameters() relay.TransportParameters {
	return relay.TransportParameters{ID: t.ID()}
}
func (t *stubTransport) Connect(context.Context, relay.ConnectRequest) error { return nil }
func (t *stubTransport) Produce(context.Context, string, json.RawMessage) (relay.Producer, error) {
	return &stubProducer{}, nil
}
func (t *stubTransport) Consume(context.Context, string, json.RawMessage) (relay.Consumer, error) {
	return &stubConsumer{}, nil
}

type stubProducer struct{ closeCounter }

func (p *stubProducer) ID() string   { return "producer-1" }
func (p *stubProducer) Kind() string { return "audio" }

type stubConsumer struct{ closeCounter }

func (c *stubConsumer) ID() string                     { return "consumer-1" }
func (c *stubConsumer) ProducerID() string             { return "producer-1" }
func (c *stubConsumer) Kind() string                   { return "audio" }
func (c *stubConsumer) RTPParameters() json.RawMessage { return json.RawMessage(`{}`) }
func (c *stubConsumer) Resume() error                  { return nil }

func newTestSession() (*Session, *stubRouter) {
	r := &stubRouter{}
	return NewSession("session-1", &stubPeer{}, r), r
}

// TestListenerLifecycle verifies that adding and removing listeners keeps
// the count equal to joins minus leaves and that removal returns the entry
// exactly once.
func TestListenerLifecycle(t *testing.T) {
	s, _ := newTestSession()

	if n := s.AddListener(&Listener{ID: "a", Peer: &stubPeer{}}); n != 1 {
		t.Fatalf("count after first join = %d, want 1", n)
	}
	if n := s.AddListener(&Listener{ID: "b", Peer: &stubPeer{}}); n != 2 {
		t.Fatalf("count after second join = %d, want 2", n)
	}

	l, remaining, ok := s.RemoveListener("a")
	if !ok || l == nil || l.ID != "a" {
		t.Fatalf("RemoveListener(a) = %v, %v, %v; want entry a", l, remaining, ok)
	}
	if remaining != 1 {
		t.Errorf("remaining after remove = %d, want 1", remaining)
	}

	// Second removal of the same id is a miss, not a fault.
	if _, _, ok := s.RemoveListener("a"); ok {
		t.Error("second RemoveListener(a) reported ok, want miss")
	}
	if n := s.ListenerCount(); n != 1 {
		t.Errorf("ListenerCount = %d, want 1", n)
	}
}

// TestListenerHandleAccessors verifies that transport and consumer handles
// attach only to present entries.
func TestListenerHandleAccessors(t *testing.T) {
	s, _ := newTestSession()
	s.AddListener(&Listener{ID: "a", Peer: &stubPeer{}})

	tr := &stubTransport{}
	if !s.SetListenerTransport("a", tr) {
		t.Fatal("SetListenerTransport(a) = false, want true")
	}
	if got := s.ListenerTransport("a"); got != relay.Transport(tr) {
		t.Errorf("ListenerTransport(a) = %v, want the stub", got)
	}

	if s.SetListenerTransport("ghost", &stubTransport{}) {
		t.Error("SetListenerTransport on unknown id succeeded, want false")
	}
	if got := s.ListenerTransport("ghost"); got != nil {
		t.Errorf("ListenerTransport(ghost) = %v, want nil", got)
	}

	c := &stubConsumer{}
	if !s.SetListenerConsumer("a", c) {
		t.Fatal("SetListenerConsumer(a) = false, want true")
	}
	if got := s.ListenerConsumer("a"); got != relay.Consumer(c) {
		t.Errorf("ListenerConsumer(a) = %v, want the stub", got)
	}
}

// TestClearConsumers verifies that clearing detaches every consumer handle
// but keeps the listener entries for a later re-consume.
func TestClearConsumers(t *testing.T) {
	s, _ := newTestSession()
	s.AddListener(&Listener{ID: "a", Peer: &stubPeer{}})
	s.AddListener(&Listener{ID: "b", Peer: &stubPeer{}})
	s.SetListenerConsumer("a", &stubConsumer{})

	cleared := s.ClearConsumers()
	if len(cleared) != 1 {
		t.Fatalf("ClearConsumers returned %d handles, want 1", len(cleared))
	}
	if s.ListenerConsumer("a") != nil {
		t.Error("listener a still has a consumer after clear")
	}
	if n := s.ListenerCount(); n != 2 {
		t.Errorf("ListenerCount after clear = %d, want 2 (entries must survive)", n)
	}

	// Nothing left to clear.
	if again := s.ClearConsumers(); len(again) != 0 {
		t.Errorf("second ClearConsumers returned %d handles, want 0", len(again))
	}
}

// TestPlaybackSnapshot verifies the nowPlaying/pause/position mutations a
// late joiner's snapshot is built from.
func TestPlaybackSnapshot(t *testing.T) {
	s, _ := newTestSession()

	if pb := s.Playback(); pb.CurrentTrack != nil || pb.IsPlaying {
		t.Fatalf("fresh session playback = %+v, want empty and not playing", pb)
	}

	track := &Track{ID: "t1", Title: "X", Artist: "Y", Duration: 200}
	s.SetPosition(90, 180) // stale position from a previous track
	s.SetNowPlaying(track)

	pb := s.Playback()
	if pb.CurrentTrack == nil || pb.CurrentTrack.ID != "t1" {
		t.Fatalf("CurrentTrack = %+v, want t1", pb.CurrentTrack)
	}
	if !pb.IsPlaying {
		t.Error("IsPlaying = false after SetNowPlaying, want true")
	}
	if pb.CurrentTime != 0 {
		t.Errorf("CurrentTime = %v after track switch, want 0", pb.CurrentTime)
	}
	if pb.Duration != 200 {
		t.Errorf("Duration = %v, want the track's 200", pb.Duration)
	}

	s.SetPlaying(false)
	s.SetPosition(42.5, 0) // zero duration keeps the previous one
	pb = s.Playback()
	if pb.IsPlaying {
		t.Error("IsPlaying = true after SetPlaying(false)")
	}
	if pb.CurrentTime != 42.5 || pb.Duration != 200 {
		t.Errorf("position = (%v, %v), want (42.5, 200)", pb.CurrentTime, pb.Duration)
	}
}

// TestReleaseClosesAllHandles verifies that Release closes consumers,
// transports, the producer and the router, and that releasing twice does
// not close per-peer handles twice.
func TestReleaseClosesAllHandles(t *testing.T) {
	s, router := newTestSession()

	hostTransport := &stubTransport{}
	producer := &stubProducer{}
	s.SetHostTransport(hostTransport)
	s.SetProducer(producer)

	listenerTransport := &stubTransport{}
	consumer := &stubConsumer{}
	s.AddListener(&Listener{ID: "a", Peer: &stubPeer{}})
	s.SetListenerTransport("a", listenerTransport)
	s.SetListenerConsumer("a", consumer)

	s.Release()
	s.Release() // idempotent

	for name, n := range map[string]int{
		"host transport":     hostTransport.closed(),
		"producer":           producer.closed(),
		"listener transport": listenerTransport.closed(),
		"consumer":           consumer.closed(),
	} {
		if n != 1 {
			t.Errorf("%s closed %d times, want exactly 1", name, n)
		}
	}
	if router.closed() == 0 {
		t.Error("router never closed")
	}
	if !s.Ended() {
		t.Error("Ended = false after Release")
	}
	if n := s.ListenerCount(); n != 0 {
		t.Errorf("ListenerCount after Release = %d, want 0", n)
	}
}

// TestStatusSnapshot verifies the observer view of a live session.
func TestStatusSnapshot(t *testing.T) {
	s, _ := newTestSession()
	s.AddListener(&Listener{ID: "a", Peer: &stubPeer{}})
	s.SetNowPlaying(&Track{ID: "t1", Title: "X", Artist: "Y", Duration: 200})

	st := s.Status()
	if !st.Active {
		t.Error("Active = false for live session")
	}
	if st.SessionID != "session-1" {
		t.Errorf("SessionID = %q, want session-1", st.SessionID)
	}
	if st.ListenerCount != 1 {
		t.Errorf("ListenerCount = %d, want 1", st.ListenerCount)
	}
	if st.CurrentTrack == nil || st.CurrentTrack.ID != "t1" {
		t.Errorf("CurrentTrack = %+v, want t1", st.CurrentTrack)
	}
}
