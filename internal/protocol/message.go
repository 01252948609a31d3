// Package protocol defines the JSON message vocabulary of the party
// signaling channel.
//
// Clients send a flat ClientMessage carrying a type discriminator; the
// server replies with the typed events in events.go. ICE, DTLS and RTP
// parameter fields are opaque blobs owned by the relay — the protocol
// layer passes them through without interpreting their structure.
package protocol

import (
	"encoding/json"

	"github.com/dmp-music/party/internal/party"
)

// MessageType identifies the kind of signaling message.
type MessageType string

// Host-originated messages. The playback reports (nowPlaying, pause,
// resume, position) are re-broadcast to listeners under the same names.
const (
	MsgTypeCreateSession           MessageType = "createSession"
	MsgTypeCreateProducerTransport MessageType = "createProducerTransport"
	MsgTypeProduce                 MessageType = "produce"
	MsgTypeNowPlaying              MessageType = "nowPlaying"
	MsgTypePause                   MessageType = "pause"
	MsgTypeResume                  MessageType = "resume"
	MsgTypePosition                MessageType = "position"
	MsgTypeEndSession              MessageType = "endSession"
)

// Listener-originated messages.
const (
	MsgTypeJoin                    MessageType = "join"
	MsgTypeCreateConsumerTransport MessageType = "createConsumerTransport"
	MsgTypeConsume                 MessageType = "consume"
	MsgTypeResumeConsumer          MessageType = "resumeConsumer"
)

// MsgTypeConnectTransport is sent by both roles, each against its own
// transport.
const MsgTypeConnectTransport MessageType = "connectTransport"

// Server-originated messages.
const (
	MsgTypeSessionCreated           MessageType = "sessionCreated"
	MsgTypeProducerTransportCreated MessageType = "producerTransportCreated"
	MsgTypeConsumerTransportCreated MessageType = "consumerTransportCreated"
	MsgTypeTransportConnected       MessageType = "transportConnected"
	MsgTypeProduced                 MessageType = "produced"
	MsgTypeProducerAvailable        MessageType = "producerAvailable"
	MsgTypeProducerClosed           MessageType = "producerClosed"
	MsgTypeJoined                   MessageType = "joined"
	MsgTypeConsumed                 MessageType = "consumed"
	MsgTypeConsumerResumed          MessageType = "consumerResumed"
	MsgTypeListenerCount            MessageType = "listenerCount"
	MsgTypeSessionEnded             MessageType = "sessionEnded"
	MsgTypeError                    MessageType = "error"
)

// ClientMessage is the uniform decode target for everything a client
// sends. Type tells which of the optional fields are meaningful; the rest
// stay zero.
type ClientMessage struct {
	Type MessageType `json:"type"`

	// Transport negotiation.
	TransportID     string          `json:"transportId,omitempty"`
	ICEParameters   json.RawMessage `json:"iceParameters,omitempty"`
	ICECandidates   json.RawMessage `json:"iceCandidates,omitempty"`
	DTLSParameters  json.RawMessage `json:"dtlsParameters,omitempty"`
	Kind            string          `json:"kind,omitempty"`
	RTPParameters   json.RawMessage `json:"rtpParameters,omitempty"`
	RTPCapabilities json.RawMessage `json:"rtpCapabilities,omitempty"`
	ConsumerID      string          `json:"consumerId,omitempty"`

	// Playback reporting.
	Track       *party.Track `json:"track,omitempty"`
	CurrentTime float64      `json:"currentTime,omitempty"`
	Duration    float64      `json:"duration,omitempty"`
}
