package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/dmp-music/party/internal/party"
	"github.com/dmp-music/party/internal/relay"
)

// SessionCreated acknowledges createSession with the new session's id and
// the relay router's receive capabilities.
type SessionCreated struct {
	Type            MessageType     `json:"type"`
	SessionID       string          `json:"sessionId"`
	RTPCapabilities json.RawMessage `json:"rtpCapabilities"`
}

func NewSessionCreated(sessionID string, caps json.RawMessage) SessionCreated {
	return SessionCreated{Type: MsgTypeSessionCreated, SessionID: sessionID, RTPCapabilities: caps}
}

// TransportCreated answers createProducerTransport and
// createConsumerTransport with the parameters the client connects against.
type TransportCreated struct {
	Type           MessageType     `json:"type"`
	TransportID    string          `json:"id"`
	ICEParameters  json.RawMessage `json:"iceParameters"`
	ICECandidates  json.RawMessage `json:"iceCandidates"`
	DTLSParameters json.RawMessage `json:"dtlsParameters"`
}

func newTransportCreated(t MessageType, p relay.TransportParameters) TransportCreated {
	return TransportCreated{
		Type:           t,
		TransportID:    p.ID,
		ICEParameters:  p.ICEParameters,
		ICECandidates:  p.ICECandidates,
		DTLSParameters: p.DTLSParameters,
	}
}

func NewProducerTransportCreated(p relay.TransportParameters) TransportCreated {
	return newTransportCreated(MsgTypeProducerTransportCreated, p)
}

func NewConsumerTransportCreated(p relay.TransportParameters) TransportCreated {
	return newTransportCreated(MsgTypeConsumerTransportCreated, p)
}

// TransportConnected acknowledges connectTransport.
type TransportConnected struct {
	Type        MessageType `json:"type"`
	TransportID string      `json:"transportId"`
}

func NewTransportConnected(transportID string) TransportConnected {
	return TransportConnected{Type: MsgTypeTransportConnected, TransportID: transportID}
}

// Produced acknowledges produce.
type Produced struct {
	Type       MessageType `json:"type"`
	ProducerID string      `json:"producerId"`
}

func NewProduced(producerID string) Produced {
	return Produced{Type: MsgTypeProduced, ProducerID: producerID}
}

// ProducerAvailable tells listeners the host's stream can now be consumed.
type ProducerAvailable struct {
	Type       MessageType `json:"type"`
	ProducerID string      `json:"producerId"`
}

func NewProducerAvailable(producerID string) ProducerAvailable {
	return ProducerAvailable{Type: MsgTypeProducerAvailable, ProducerID: producerID}
}

// ProducerClosed tells listeners their consumer's source went away. Their
// entries survive; a fresh consume is expected if production restarts.
type ProducerClosed struct {
	Type MessageType `json:"type"`
}

func NewProducerClosed() ProducerClosed {
	return ProducerClosed{Type: MsgTypeProducerClosed}
}

// Joined answers join with the session id, the router capabilities and the
// playback snapshot, so a late joiner starts from current state.
type Joined struct {
	Type            MessageType     `json:"type"`
	SessionID       string          `json:"sessionId"`
	ListenerID      string          `json:"listenerId"`
	RTPCapabilities json.RawMessage `json:"rtpCapabilities"`
	party.PlaybackState
}

func NewJoined(sessionID, listenerID string, caps json.RawMessage, playback party.PlaybackState) Joined {
	return Joined{
		Type:            MsgTypeJoined,
		SessionID:       sessionID,
		ListenerID:      listenerID,
		RTPCapabilities: caps,
		PlaybackState:   playback,
	}
}

// Consumed answers consume with everything needed to receive the stream.
// The consumer starts paused; the client acknowledges readiness with
// resumeConsumer.
type Consumed struct {
	Type          MessageType     `json:"type"`
	ConsumerID    string          `json:"consumerId"`
	ProducerID    string          `json:"producerId"`
	Kind          string          `json:"kind"`
	RTPParameters json.RawMessage `json:"rtpParameters"`
}

func NewConsumed(c relay.Consumer) Consumed {
	return Consumed{
		Type:          MsgTypeConsumed,
		ConsumerID:    c.ID(),
		ProducerID:    c.ProducerID(),
		Kind:          c.Kind(),
		RTPParameters: c.RTPParameters(),
	}
}

// ConsumerResumed acknowledges resumeConsumer.
type ConsumerResumed struct {
	Type       MessageType `json:"type"`
	ConsumerID string      `json:"consumerId"`
}

func NewConsumerResumed(consumerID string) ConsumerResumed {
	return ConsumerResumed{Type: MsgTypeConsumerResumed, ConsumerID: consumerID}
}

// NowPlaying carries the track the host switched to.
type NowPlaying struct {
	Type  MessageType  `json:"type"`
	Track *party.Track `json:"track"`
}

func NewNowPlaying(t *party.Track) NowPlaying {
	return NowPlaying{Type: MsgTypeNowPlaying, Track: t}
}

// PlaybackSignal is the payload-free pause/resume broadcast.
type PlaybackSignal struct {
	Type MessageType `json:"type"`
}

func NewPause() PlaybackSignal {
	return PlaybackSignal{Type: MsgTypePause}
}

func NewResume() PlaybackSignal {
	return PlaybackSignal{Type: MsgTypeResume}
}

// Position carries the host-reported playback position.
type Position struct {
	Type        MessageType `json:"type"`
	CurrentTime float64     `json:"currentTime"`
	Duration    float64     `json:"duration"`
}

func NewPosition(currentTime, duration float64) Position {
	return Position{Type: MsgTypePosition, CurrentTime: currentTime, Duration: duration}
}

// ListenerCount tells the host how many listeners are joined.
type ListenerCount struct {
	Type  MessageType `json:"type"`
	Count int         `json:"count"`
}

func NewListenerCount(n int) ListenerCount {
	return ListenerCount{Type: MsgTypeListenerCount, Count: n}
}

// SessionEnded tells peers the party is over.
type SessionEnded struct {
	Type MessageType `json:"type"`
}

func NewSessionEnded() SessionEnded {
	return SessionEnded{Type: MsgTypeSessionEnded}
}

// Error is the uniform failure reply. Message is human-readable and the
// connection always stays open.
type Error struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

func Errorf(format string, args ...any) Error {
	return Error{Type: MsgTypeError, Message: fmt.Sprintf(format, args...)}
}
