// Package relay wraps the WebRTC media engine behind a small SFU-shaped
// surface: one Router per party, one Transport per peer, a single audio
// Producer on the host's transport and one Consumer per listener.
//
// All ICE/DTLS/RTP parameter payloads cross this boundary as opaque JSON
// blobs; the signaling core passes them through without interpreting their
// structure. Schema validation happens here, when a blob is decoded.
package relay

import (
	"context"
	"encoding/json"
	"errors"
)

// Errors reported to signaling when a negotiation step is attempted out of
// order or against a released handle. They surface as error messages on the
// offending connection; they never terminate it.
var (
	ErrClosed       = errors.New("relay: handle closed")
	ErrNotConnected = errors.New("relay: transport not connected")
	ErrNoProducer   = errors.New("relay: unknown producer")
	ErrIncompatible = errors.New("relay: incompatible rtp capabilities")
)

// TransportParameters is everything a peer needs to connect to a transport:
// the server-side ICE credentials, the gathered candidates and the DTLS
// fingerprints. The blobs are handed to the client verbatim.
type TransportParameters struct {
	ID             string          `json:"id"`
	ICEParameters  json.RawMessage `json:"iceParameters"`
	ICECandidates  json.RawMessage `json:"iceCandidates"`
	DTLSParameters json.RawMessage `json:"dtlsParameters"`
}

// ConnectRequest carries the remote side of the negotiation. The engine runs
// full ICE (not ICE-lite), so the peer's ICE credentials and candidates must
// arrive through signaling alongside its DTLS parameters.
type ConnectRequest struct {
	ICEParameters  json.RawMessage `json:"iceParameters"`
	ICECandidates  json.RawMessage `json:"iceCandidates"`
	DTLSParameters json.RawMessage `json:"dtlsParameters"`
}

// Engine creates routers. One engine serves the whole process; routers come
// and go with party sessions.
type Engine interface {
	CreateRouter(ctx context.Context) (Router, error)
}

// Router scopes one party's media plane: transports hang off it, and its
// capability descriptor tells peers what the relay can carry.
type Router interface {
	// ID returns the router's opaque identifier.
	ID() string

	// RTPCapabilities returns the router's capability descriptor, sent to
	// peers inside sessionCreated/joined so they can shape their offers.
	RTPCapabilities() json.RawMessage

	// CreateTransport allocates a server-side transport and gathers its ICE
	// candidates. It blocks until gathering completes or ctx expires.
	CreateTransport(ctx context.Context) (Transport, error)

	// CanConsume reports whether a consumer with the given receive
	// capabilities could attach to the given producer.
	CanConsume(producerID string, rtpCapabilities json.RawMessage) bool

	// Close releases the router and every transport, producer and consumer
	// created under it. Closing twice is a no-op.
	Close() error
}

// Transport is one peer's media leg. Produce is only meaningful on the
// host's transport, Consume on a listener's; the relay itself does not care
// which is which.
type Transport interface {
	ID() string
	Parameters() TransportParameters

	// Connect completes ICE and DTLS negotiation using the remote side's
	// parameters. Must be called before Produce or Consume.
	Connect(ctx context.Context, req ConnectRequest) error

	// Produce starts receiving the peer's audio and makes it available to
	// consumers on other transports.
	Produce(ctx context.Context, kind string, rtpParameters json.RawMessage) (Producer, error)

	// Consume attaches a paused consumer to an existing producer. The caller
	// resumes it once the client side is wired up.
	Consume(ctx context.Context, producerID string, rtpCapabilities json.RawMessage) (Consumer, error)

	// Close tears the transport down along with anything produced or
	// consumed over it. Closing twice is a no-op.
	Close() error
}

// Producer is the host's inbound audio stream.
type Producer interface {
	ID() string
	Kind() string
	Close() error
}

// Consumer is one listener's outbound copy of the producer's audio. It is
// created paused: no packets flow until Resume.
type Consumer interface {
	ID() string
	ProducerID() string
	Kind() string

	// RTPParameters returns the send parameters (SSRC, payload type, codec)
	// the client needs to receive this consumer's stream.
	RTPParameters() json.RawMessage

	Resume() error
	Close() error
}
