package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/dmp-music/party/internal/util"
)

// transport is one peer's media leg, assembled from the ORTC primitives:
// ICE gatherer → ICE transport → DTLS transport. Producers and consumers
// ride on the DTLS transport.
type transport struct {
	id       string
	r        *router
	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport
	params   TransportParameters

	mu        sync.Mutex
	connected bool
	closed    bool
	producer  *producer
	consumers map[string]*consumer
}

var _ Transport = (*transport)(nil)

// newTransport builds the ORTC stack for one peer and blocks until local
// ICE candidate gathering completes, so the returned parameters carry the
// full candidate list (no trickle).
func (e *engine) newTransport(ctx context.Context, r *router) (*transport, error) {
	gatherer, err := e.api.NewICEGatherer(webrtc.ICEGatherOptions{ICEServers: e.iceServers})
	if err != nil {
		return nil, fmt.Errorf("failed to create ICE gatherer: %w", err)
	}

	ice := e.api.NewICETransport(gatherer)

	dtls, err := e.api.NewDTLSTransport(ice, nil)
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("failed to create DTLS transport: %w", err)
	}

	// ── 1. Gather local candidates ──
	gatherDone := make(chan struct{})
	gatherer.OnLocalCandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			close(gatherDone)
		}
	})

	if err := gatherer.Gather(); err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("failed to gather ICE candidates: %w", err)
	}

	gatherCtx, cancel := context.WithTimeout(ctx, e.gatherTimeout)
	defer cancel()

	select {
	case <-gatherDone:
	case <-gatherCtx.Done():
		_ = gatherer.Close()
		return nil, fmt.Errorf("ICE gathering did not finish: %w", gatherCtx.Err())
	}

	// ── 2. Assemble the parameters handed to the peer ──
	iceParams, err := gatherer.GetLocalParameters()
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("failed to read local ICE parameters: %w", err)
	}

	candidates, err := gatherer.GetLocalCandidates()
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("failed to read local ICE candidates: %w", err)
	}

	dtlsParams, err := dtls.GetLocalParameters()
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("failed to read local DTLS parameters: %w", err)
	}

	iceBlob, err := encodeICEParameters(iceParams)
	if err != nil {
		_ = gatherer.Close()
		return nil, err
	}
	candidateBlob, err := encodeICECandidates(candidates)
	if err != nil {
		_ = gatherer.Close()
		return nil, err
	}
	dtlsBlob, err := encodeDTLSParameters(dtlsParams)
	if err != nil {
		_ = gatherer.Close()
		return nil, err
	}

	t := &transport{
		id:        uuid.NewString(),
		r:         r,
		gatherer:  gatherer,
		ice:       ice,
		dtls:      dtls,
		consumers: make(map[string]*consumer),
	}
	t.params = TransportParameters{
		ID:             t.id,
		ICEParameters:  iceBlob,
		ICECandidates:  candidateBlob,
		DTLSParameters: dtlsBlob,
	}

	// State changes are informational; lifecycle is driven by signaling.
	ice.OnConnectionStateChange(func(state webrtc.ICETransportState) {
		util.LogDebug("relay: transport %s ICE state: %s", t.id, state.String())
	})
	dtls.OnStateChange(func(state webrtc.DTLSTransportState) {
		util.LogDebug("relay: transport %s DTLS state: %s", t.id, state.String())
	})

	util.LogDebug("relay: transport %s created (%d candidates)", t.id, len(candidates))
	return t, nil
}

func (t *transport) ID() string { return t.id }

func (t *transport) Parameters() TransportParameters { return t.params }

// Connect runs ICE and the DTLS handshake against the remote side's
// parameters. It blocks until both complete or the ICE agent gives up.
func (t *transport) Connect(_ context.Context, req ConnectRequest) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if t.connected {
		t.mu.Unlock()
		return fmt.Errorf("relay: transport %s already connected", t.id)
	}
	t.mu.Unlock()

	remoteICE, err := decodeICEParameters(req.ICEParameters)
	if err != nil {
		return err
	}
	remoteCandidates, err := decodeICECandidates(req.ICECandidates)
	if err != nil {
		return err
	}
	remoteDTLS, err := decodeDTLSParameters(req.DTLSParameters)
	if err != nil {
		return err
	}

	if err := t.ice.SetRemoteCandidates(remoteCandidates); err != nil {
		return fmt.Errorf("failed to set remote candidates: %w", err)
	}

	role := webrtc.ICERoleControlling
	if err := t.ice.Start(nil, remoteICE, &role); err != nil {
		return fmt.Errorf("ICE negotiation failed: %w", err)
	}

	if err := t.dtls.Start(remoteDTLS); err != nil {
		return fmt.Errorf("DTLS handshake failed: %w", err)
	}

	t.mu.Lock()
	t.connected = true
	t.mu.Unlock()

	util.LogDebug("relay: transport %s connected", t.id)
	return nil
}

// Produce starts receiving the peer's audio stream. One producer per
// transport; the session layer closes the old one before replacing it.
func (t *transport) Produce(_ context.Context, kind string, raw json.RawMessage) (Producer, error) {
	if kind != "audio" {
		return nil, fmt.Errorf("relay: unsupported media kind %q", kind)
	}

	t.mu.Lock()
	switch {
	case t.closed:
		t.mu.Unlock()
		return nil, ErrClosed
	case !t.connected:
		t.mu.Unlock()
		return nil, ErrNotConnected
	case t.producer != nil:
		t.mu.Unlock()
		return nil, fmt.Errorf("relay: transport %s already has a producer", t.id)
	}
	t.mu.Unlock()

	params, err := decodeRTPParameters(raw)
	if err != nil {
		return nil, err
	}

	receiver, err := t.r.eng.api.NewRTPReceiver(webrtc.RTPCodecTypeAudio, t.dtls)
	if err != nil {
		return nil, fmt.Errorf("failed to create RTP receiver: %w", err)
	}

	payloadType := params.Codecs[0].PayloadType
	if payloadType == 0 {
		payloadType = opusPayloadType
	}

	if err := receiver.Receive(webrtc.RTPReceiveParameters{
		Encodings: []webrtc.RTPDecodingParameters{{
			RTPCodingParameters: webrtc.RTPCodingParameters{
				SSRC:        webrtc.SSRC(params.Encodings[0].SSRC),
				PayloadType: webrtc.PayloadType(payloadType),
			},
		}},
	}); err != nil {
		_ = receiver.Stop()
		return nil, fmt.Errorf("failed to start RTP receiver: %w", err)
	}

	p := &producer{
		id:        uuid.NewString(),
		kind:      kind,
		tr:        t,
		receiver:  receiver,
		consumers: make(map[string]*consumer),
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = receiver.Stop()
		return nil, ErrClosed
	}
	t.producer = p
	t.mu.Unlock()

	t.r.registerProducer(p)
	go p.run()

	util.LogInfo("relay: producer %s live on transport %s (ssrc %d)", p.id, t.id, params.Encodings[0].SSRC)
	return p, nil
}

// Consume attaches a paused consumer for the given producer to this
// transport.
func (t *transport) Consume(_ context.Context, producerID string, rtpCapabilities json.RawMessage) (Consumer, error) {
	t.mu.Lock()
	switch {
	case t.closed:
		t.mu.Unlock()
		return nil, ErrClosed
	case !t.connected:
		t.mu.Unlock()
		return nil, ErrNotConnected
	}
	t.mu.Unlock()

	p := t.r.producerByID(producerID)
	if p == nil {
		return nil, ErrNoProducer
	}
	if err := capsCompatible(rtpCapabilities); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	local, err := webrtc.NewTrackLocalStaticRTP(opusCapability, id, "party")
	if err != nil {
		return nil, fmt.Errorf("failed to create local track: %w", err)
	}

	sender, err := t.r.eng.api.NewRTPSender(local, t.dtls)
	if err != nil {
		return nil, fmt.Errorf("failed to create RTP sender: %w", err)
	}

	c := &consumer{
		id:         id,
		producerID: producerID,
		kind:       p.kind,
		tr:         t,
		prod:       p,
		sender:     sender,
		local:      local,
	}

	c.params, err = c.encodeSendParameters()
	if err != nil {
		_ = sender.Stop()
		return nil, err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = sender.Stop()
		return nil, ErrClosed
	}
	t.consumers[id] = c
	t.mu.Unlock()

	p.attach(c)

	util.LogInfo("relay: consumer %s attached to producer %s (paused)", id, producerID)
	return c, nil
}

// Close tears down the transport together with its producer and consumers.
// Teardown errors are logged, never propagated.
func (t *transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	prod := t.producer
	t.producer = nil
	consumers := make([]*consumer, 0, len(t.consumers))
	for _, c := range t.consumers {
		consumers = append(consumers, c)
	}
	t.mu.Unlock()

	if prod != nil {
		_ = prod.Close()
	}
	for _, c := range consumers {
		_ = c.Close()
	}

	if err := errors.Join(t.dtls.Stop(), t.ice.Stop(), t.gatherer.Close()); err != nil {
		util.LogDebug("relay: transport %s teardown: %v", t.id, err)
	}
	t.r.removeTransport(t.id)

	util.LogDebug("relay: transport %s closed", t.id)
	return nil
}

func (t *transport) removeConsumer(id string) {
	t.mu.Lock()
	delete(t.consumers, id)
	t.mu.Unlock()
}

func (t *transport) clearProducer(p *producer) {
	t.mu.Lock()
	if t.producer == p {
		t.producer = nil
	}
	t.mu.Unlock()
}
