package signaling

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/dmp-music/party/internal/metrics"
	"github.com/dmp-music/party/internal/party"
	"github.com/dmp-music/party/internal/protocol"
	"github.com/dmp-music/party/internal/relay"
	"github.com/dmp-music/party/internal/util"
)

// Handler drives the party state machine. Messages from one connection
// arrive strictly in order; messages from different connections run
// concurrently, which is why every operation that waited on the relay
// re-checks the store before committing its result — the session it
// started with may have been displaced or torn down in the meantime.
type Handler struct {
	engine relay.Engine
	store  *party.Store
	bcast  *Broadcaster
}

func NewHandler(engine relay.Engine, store *party.Store) *Handler {
	return &Handler{
		engine: engine,
		store:  store,
		bcast:  &Broadcaster{},
	}
}

// Handle runs one signaling message to completion. Failures become an
// error reply to the sending connection; the connection always stays open.
func (h *Handler) Handle(ctx context.Context, conn *Conn, msg protocol.ClientMessage) {
	var err error

	switch msg.Type {
	case protocol.MsgTypeCreateSession:
		err = h.createSession(ctx, conn)
	case protocol.MsgTypeCreateProducerTransport:
		err = h.createProducerTransport(ctx, conn)
	case protocol.MsgTypeConnectTransport:
		err = h.connectTransport(ctx, conn, msg)
	case protocol.MsgTypeProduce:
		err = h.produce(ctx, conn, msg)
	case protocol.MsgTypeNowPlaying:
		err = h.nowPlaying(conn, msg)
	case protocol.MsgTypePause:
		err = h.pause(conn)
	case protocol.MsgTypeResume:
		err = h.resume(conn)
	case protocol.MsgTypePosition:
		err = h.position(conn, msg)
	case protocol.MsgTypeEndSession:
		err = h.endSession(conn)
	case protocol.MsgTypeJoin:
		err = h.join(conn)
	case protocol.MsgTypeCreateConsumerTransport:
		err = h.createConsumerTransport(ctx, conn)
	case protocol.MsgTypeConsume:
		err = h.consume(ctx, conn, msg)
	case protocol.MsgTypeResumeConsumer:
		err = h.resumeConsumer(conn, msg)
	default:
		err = fmt.Errorf("unknown message type %q", msg.Type)
	}

	if err != nil {
		metrics.SignalingErrors.WithLabelValues(errorLabel(msg.Type)).Inc()
		util.LogWarning("signaling: connection %08x %s: %v", conn.id, msg.Type, err)
		if sendErr := conn.Send(protocol.Errorf("%v", err)); sendErr != nil {
			util.LogDebug("signaling: connection %08x error reply failed: %v", conn.id, sendErr)
		}
	}
}

// errorLabel keeps the metrics label space bounded to known types.
func errorLabel(t protocol.MessageType) string {
	switch t {
	case protocol.MsgTypeCreateSession, protocol.MsgTypeCreateProducerTransport,
		protocol.MsgTypeConnectTransport, protocol.MsgTypeProduce,
		protocol.MsgTypeNowPlaying, protocol.MsgTypePause, protocol.MsgTypeResume,
		protocol.MsgTypePosition, protocol.MsgTypeEndSession, protocol.MsgTypeJoin,
		protocol.MsgTypeCreateConsumerTransport, protocol.MsgTypeConsume,
		protocol.MsgTypeResumeConsumer:
		return string(t)
	default:
		return "unknown"
	}
}

// ─────────────────────────────────────────────
// Host flow
// ─────────────────────────────────────────────

// createSession starts a new party on this connection, displacing any
// running one. The displaced party's resources are fully released before
// the new router is created.
func (h *Handler) createSession(ctx context.Context, conn *Conn) error {
	if conn.role == RoleListener {
		return fmt.Errorf("listener connections cannot create a session")
	}

	if old := h.store.Current(); old != nil && h.store.Take(old) {
		h.endAndRelease(old, "displaced")
	}

	router, err := h.engine.CreateRouter(ctx)
	if err != nil {
		return fmt.Errorf("relay rejected router creation: %w", err)
	}

	s := party.NewSession(uuid.NewString(), conn, router)
	if displaced := h.store.Replace(s); displaced != nil {
		// Another createSession won the slot while our router was being
		// made; ours is current now, theirs gets torn down.
		h.endAndRelease(displaced, "displaced")
	}

	conn.role = RoleHost
	conn.session = s

	metrics.SessionsCreated.Inc()
	util.LogSuccess("signaling: session %s created by connection %08x", s.ID, conn.id)
	return conn.Send(protocol.NewSessionCreated(s.ID, router.RTPCapabilities()))
}

func (h *Handler) createProducerTransport(ctx context.Context, conn *Conn) error {
	s, err := h.hostSession(conn)
	if err != nil {
		return err
	}
	if s.HostTransport() != nil {
		return fmt.Errorf("producer transport already exists")
	}

	// Waits for ICE gathering; the party may change underneath us.
	transport, err := s.Router().CreateTransport(ctx)
	if err != nil {
		return fmt.Errorf("relay rejected transport creation: %w", err)
	}
	if s.Ended() || !h.store.CurrentIs(s) {
		_ = transport.Close()
		return fmt.Errorf("session ended during transport creation")
	}
	s.SetHostTransport(transport)

	metrics.TransportsCreated.WithLabelValues("host").Inc()
	util.LogInfo("signaling: producer transport %s for session %s", transport.ID(), s.ID)
	return conn.Send(protocol.NewProducerTransportCreated(transport.Parameters()))
}

func (h *Handler) produce(ctx context.Context, conn *Conn, msg protocol.ClientMessage) error {
	s, err := h.hostSession(conn)
	if err != nil {
		return err
	}
	transport := s.HostTransport()
	if transport == nil {
		return fmt.Errorf("no transport: send createProducerTransport first")
	}

	kind := msg.Kind
	if kind == "" {
		kind = "audio"
	}

	// A second produce replaces the stream: the old producer goes away and
	// every listener's consumer with it. Listener entries stay and may
	// consume the new producer.
	if old := s.Producer(); old != nil {
		s.SetProducer(nil)
		_ = old.Close()
		for _, c := range s.ClearConsumers() {
			_ = c.Close()
		}
		h.bcast.ToListeners(s, protocol.MsgTypeProducerClosed, protocol.NewProducerClosed())
	}

	producer, err := transport.Produce(ctx, kind, msg.RTPParameters)
	if err != nil {
		return fmt.Errorf("relay rejected producer: %w", err)
	}
	if s.Ended() || !h.store.CurrentIs(s) {
		_ = producer.Close()
		return fmt.Errorf("session ended during produce")
	}
	s.SetProducer(producer)

	util.LogSuccess("signaling: producer %s live for session %s", producer.ID(), s.ID)
	if err := conn.Send(protocol.NewProduced(producer.ID())); err != nil {
		return err
	}
	h.bcast.ToListeners(s, protocol.MsgTypeProducerAvailable, protocol.NewProducerAvailable(producer.ID()))
	return nil
}

func (h *Handler) nowPlaying(conn *Conn, msg protocol.ClientMessage) error {
	s, err := h.hostSession(conn)
	if err != nil {
		return err
	}
	if msg.Track == nil {
		return fmt.Errorf("nowPlaying requires a track")
	}

	s.SetNowPlaying(msg.Track)
	h.bcast.ToListeners(s, protocol.MsgTypeNowPlaying, protocol.NewNowPlaying(msg.Track))
	return nil
}

func (h *Handler) pause(conn *Conn) error {
	s, err := h.hostSession(conn)
	if err != nil {
		return err
	}
	s.SetPlaying(false)
	h.bcast.ToListeners(s, protocol.MsgTypePause, protocol.NewPause())
	return nil
}

func (h *Handler) resume(conn *Conn) error {
	s, err := h.hostSession(conn)
	if err != nil {
		return err
	}
	s.SetPlaying(true)
	h.bcast.ToListeners(s, protocol.MsgTypeResume, protocol.NewResume())
	return nil
}

func (h *Handler) position(conn *Conn, msg protocol.ClientMessage) error {
	s, err := h.hostSession(conn)
	if err != nil {
		return err
	}
	s.SetPosition(msg.CurrentTime, msg.Duration)
	h.bcast.ToListeners(s, protocol.MsgTypePosition, protocol.NewPosition(msg.CurrentTime, msg.Duration))
	return nil
}

func (h *Handler) endSession(conn *Conn) error {
	s, err := h.hostSession(conn)
	if err != nil {
		return err
	}
	if !h.store.Take(s) {
		return fmt.Errorf("session no longer active")
	}
	h.endAndRelease(s, "host")
	return nil
}

// ─────────────────────────────────────────────
// Listener flow
// ─────────────────────────────────────────────

func (h *Handler) join(conn *Conn) error {
	if conn.role == RoleHost {
		return fmt.Errorf("host connections cannot join as listeners")
	}

	s := h.store.Current()
	if s == nil {
		return fmt.Errorf("no active session")
	}
	if conn.role == RoleListener && conn.session == s && !s.Ended() {
		return fmt.Errorf("already joined")
	}

	l := &party.Listener{ID: uuid.NewString(), Peer: conn}
	count := s.AddListener(l)
	if s.Ended() || !h.store.CurrentIs(s) {
		s.RemoveListener(l.ID)
		return fmt.Errorf("no active session")
	}

	conn.role = RoleListener
	conn.session = s
	conn.listenerID = l.ID

	metrics.ListenersJoined.Inc()
	metrics.ActiveListeners.Set(float64(count))
	util.Stats.AddListener()
	util.LogInfo("signaling: listener %s joined session %s (%d total)", l.ID, s.ID, count)

	if err := conn.Send(protocol.NewJoined(s.ID, l.ID, s.Router().RTPCapabilities(), s.Playback())); err != nil {
		return err
	}
	h.bcast.ToHost(s, protocol.MsgTypeListenerCount, protocol.NewListenerCount(count))
	return nil
}

func (h *Handler) createConsumerTransport(ctx context.Context, conn *Conn) error {
	s, err := h.listenerSession(conn)
	if err != nil {
		return err
	}
	if s.ListenerTransport(conn.listenerID) != nil {
		return fmt.Errorf("consumer transport already exists")
	}

	transport, err := s.Router().CreateTransport(ctx)
	if err != nil {
		return fmt.Errorf("relay rejected transport creation: %w", err)
	}
	if s.Ended() || !h.store.CurrentIs(s) || !s.SetListenerTransport(conn.listenerID, transport) {
		_ = transport.Close()
		return fmt.Errorf("session ended during transport creation")
	}

	metrics.TransportsCreated.WithLabelValues("listener").Inc()
	util.LogInfo("signaling: consumer transport %s for listener %s", transport.ID(), conn.listenerID)
	return conn.Send(protocol.NewConsumerTransportCreated(transport.Parameters()))
}

func (h *Handler) consume(ctx context.Context, conn *Conn, msg protocol.ClientMessage) error {
	s, err := h.listenerSession(conn)
	if err != nil {
		return err
	}
	transport := s.ListenerTransport(conn.listenerID)
	if transport == nil {
		return fmt.Errorf("no transport: send createConsumerTransport first")
	}
	producer := s.Producer()
	if producer == nil {
		return fmt.Errorf("no producer available")
	}
	if s.ListenerConsumer(conn.listenerID) != nil {
		return fmt.Errorf("already consuming")
	}
	if !s.Router().CanConsume(producer.ID(), msg.RTPCapabilities) {
		return fmt.Errorf("cannot consume producer %s: incompatible capabilities", producer.ID())
	}

	consumer, err := transport.Consume(ctx, producer.ID(), msg.RTPCapabilities)
	if err != nil {
		return fmt.Errorf("relay rejected consumer: %w", err)
	}
	if s.Ended() || !h.store.CurrentIs(s) || !s.SetListenerConsumer(conn.listenerID, consumer) {
		_ = consumer.Close()
		return fmt.Errorf("session ended during consume")
	}

	util.LogInfo("signaling: consumer %s for listener %s (paused)", consumer.ID(), conn.listenerID)
	return conn.Send(protocol.NewConsumed(consumer))
}

func (h *Handler) resumeConsumer(conn *Conn, msg protocol.ClientMessage) error {
	s, err := h.listenerSession(conn)
	if err != nil {
		return err
	}
	consumer := s.ListenerConsumer(conn.listenerID)
	if consumer == nil {
		return fmt.Errorf("no consumer: send consume first")
	}
	if msg.ConsumerID != "" && msg.ConsumerID != consumer.ID() {
		return fmt.Errorf("unknown consumer %q", msg.ConsumerID)
	}

	if err := consumer.Resume(); err != nil {
		return fmt.Errorf("failed to resume consumer: %w", err)
	}
	return conn.Send(protocol.NewConsumerResumed(consumer.ID()))
}

func (h *Handler) connectTransport(ctx context.Context, conn *Conn, msg protocol.ClientMessage) error {
	s, transport, err := h.ownTransport(conn)
	if err != nil {
		return err
	}
	if msg.TransportID != "" && msg.TransportID != transport.ID() {
		return fmt.Errorf("unknown transport %q", msg.TransportID)
	}

	// ICE and the DTLS handshake block until connected or failed.
	if err := transport.Connect(ctx, relay.ConnectRequest{
		ICEParameters:  msg.ICEParameters,
		ICECandidates:  msg.ICECandidates,
		DTLSParameters: msg.DTLSParameters,
	}); err != nil {
		return fmt.Errorf("transport connect failed: %w", err)
	}
	if s.Ended() || !h.store.CurrentIs(s) {
		return fmt.Errorf("session ended during transport connect")
	}

	return conn.Send(protocol.NewTransportConnected(transport.ID()))
}

// ─────────────────────────────────────────────
// Lifecycle
// ─────────────────────────────────────────────

// Disconnected runs after a connection's read loop exits. A host close
// tears the whole party down; a listener close removes only that
// listener and never touches the session's existence.
func (h *Handler) Disconnected(conn *Conn) {
	s := conn.session
	if s == nil {
		return
	}

	switch conn.role {
	case RoleHost:
		if h.store.Take(s) {
			h.endAndRelease(s, "host_disconnect")
		}

	case RoleListener:
		l, remaining, ok := s.RemoveListener(conn.listenerID)
		if !ok {
			return
		}
		if l.Consumer != nil {
			_ = l.Consumer.Close()
		}
		if l.Transport != nil {
			_ = l.Transport.Close()
		}
		util.Stats.RemoveListener()
		if !s.Ended() && h.store.CurrentIs(s) {
			metrics.ActiveListeners.Set(float64(remaining))
			h.bcast.ToHost(s, protocol.MsgTypeListenerCount, protocol.NewListenerCount(remaining))
		}
		util.LogInfo("signaling: listener %s left session %s (%d remain)", conn.listenerID, s.ID, remaining)
	}
}

// Shutdown ends the active session, if any, notifying every peer. Used on
// process shutdown.
func (h *Handler) Shutdown() {
	if s := h.store.Current(); s != nil && h.store.Take(s) {
		h.endAndRelease(s, "shutdown")
	}
}

// endAndRelease broadcasts sessionEnded to every peer of s and releases
// its relay resources. The caller must have taken s out of the store.
func (h *Handler) endAndRelease(s *party.Session, reason string) {
	h.bcast.ToListeners(s, protocol.MsgTypeSessionEnded, protocol.NewSessionEnded())
	h.bcast.ToHost(s, protocol.MsgTypeSessionEnded, protocol.NewSessionEnded())
	s.Release()

	metrics.SessionsEnded.WithLabelValues(reason).Inc()
	metrics.ActiveListeners.Set(0)
	util.LogInfo("signaling: session %s ended (%s)", s.ID, reason)
}

// ─────────────────────────────────────────────
// Session lookups
// ─────────────────────────────────────────────

// hostSession returns the live session this connection hosts.
func (h *Handler) hostSession(conn *Conn) (*party.Session, error) {
	if conn.role != RoleHost || conn.session == nil {
		return nil, fmt.Errorf("no session: send createSession first")
	}
	s := conn.session
	if s.Ended() || !h.store.CurrentIs(s) {
		return nil, fmt.Errorf("session no longer active")
	}
	return s, nil
}

// listenerSession returns the live session this connection joined.
func (h *Handler) listenerSession(conn *Conn) (*party.Session, error) {
	if conn.role != RoleListener || conn.session == nil {
		return nil, fmt.Errorf("not joined: send join first")
	}
	s := conn.session
	if s.Ended() || !h.store.CurrentIs(s) {
		return nil, fmt.Errorf("session no longer active")
	}
	return s, nil
}

// ownTransport returns the transport this connection negotiated, whichever
// role it has.
func (h *Handler) ownTransport(conn *Conn) (*party.Session, relay.Transport, error) {
	switch conn.role {
	case RoleHost:
		s, err := h.hostSession(conn)
		if err != nil {
			return nil, nil, err
		}
		t := s.HostTransport()
		if t == nil {
			return nil, nil, fmt.Errorf("no transport: send createProducerTransport first")
		}
		return s, t, nil

	case RoleListener:
		s, err := h.listenerSession(conn)
		if err != nil {
			return nil, nil, err
		}
		t := s.ListenerTransport(conn.listenerID)
		if t == nil {
			return nil, nil, fmt.Errorf("no transport: send createConsumerTransport first")
		}
		return s, t, nil

	default:
		return nil, nil, fmt.Errorf("no session: send createSession or join first")
	}
}
