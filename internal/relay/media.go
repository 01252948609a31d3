package relay

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/dmp-music/party/internal/metrics"
	"github.com/dmp-music/party/internal/util"
)

// producer reads the host's RTP stream off its transport and fans each
// packet out to the attached consumers.
type producer struct {
	id       string
	kind     string
	tr       *transport
	receiver *webrtc.RTPReceiver

	mu        sync.RWMutex
	consumers map[string]*consumer
	closed    bool
	closeOnce sync.Once
}

var _ Producer = (*producer)(nil)

func (p *producer) ID() string   { return p.id }
func (p *producer) Kind() string { return p.kind }

// run is the forward loop: one reader goroutine per producer, fanning out
// to whatever consumers are attached at that moment. WriteRTP copies the
// packet, so a single read buffer is safe to share across consumers.
func (p *producer) run() {
	track := p.receiver.Track()
	if track == nil {
		return
	}

	var targets []*consumer
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			util.LogDebug("relay: producer %s forward loop ended: %v", p.id, err)
			return
		}

		p.mu.RLock()
		targets = targets[:0]
		for _, c := range p.consumers {
			targets = append(targets, c)
		}
		p.mu.RUnlock()

		for _, c := range targets {
			c.write(pkt)
		}

		util.Stats.AddRelayed(len(pkt.Payload))
		metrics.RelayPackets.Inc()
	}
}

func (p *producer) attach(c *consumer) {
	p.mu.Lock()
	if !p.closed {
		p.consumers[c.id] = c
	}
	p.mu.Unlock()
}

func (p *producer) detach(id string) {
	p.mu.Lock()
	delete(p.consumers, id)
	p.mu.Unlock()
}

// Close stops the receiver, which unblocks the forward loop, and detaches
// every consumer. The consumers themselves stay alive; tearing them down
// or re-pointing them at a new producer is the session layer's call.
func (p *producer) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.consumers = make(map[string]*consumer)
		p.mu.Unlock()

		p.tr.r.unregisterProducer(p.id)
		p.tr.clearProducer(p)
		_ = p.receiver.Stop()

		util.LogDebug("relay: producer %s closed", p.id)
	})
	return nil
}

// consumer is one listener's copy of the producer stream: a local track fed
// by the forward loop, and an RTP sender that ships it over the listener's
// transport. Consumers start paused; Resume starts the sender.
type consumer struct {
	id         string
	producerID string
	kind       string
	tr         *transport
	prod       *producer
	sender     *webrtc.RTPSender
	local      *webrtc.TrackLocalStaticRTP
	params     json.RawMessage

	mu      sync.Mutex
	started bool
	closed  bool
}

var _ Consumer = (*consumer)(nil)

func (c *consumer) ID() string                     { return c.id }
func (c *consumer) ProducerID() string             { return c.producerID }
func (c *consumer) Kind() string                   { return c.kind }
func (c *consumer) RTPParameters() json.RawMessage { return c.params }

// write forwards one packet. Paused and closed consumers drop it; a send
// hiccup on one listener must never stall the loop.
func (c *consumer) write(pkt *rtp.Packet) {
	c.mu.Lock()
	ok := c.started && !c.closed
	c.mu.Unlock()
	if !ok {
		return
	}
	_ = c.local.WriteRTP(pkt)
}

// Resume starts the RTP sender. Resuming an already-running consumer is a
// no-op.
func (c *consumer) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.started {
		return nil
	}

	if err := c.sender.Send(c.sender.GetParameters()); err != nil {
		return fmt.Errorf("failed to start RTP sender: %w", err)
	}
	c.started = true

	go c.drainRTCP()

	util.LogDebug("relay: consumer %s resumed", c.id)
	return nil
}

// drainRTCP keeps the sender's report stream flowing and surfaces the
// listener-reported loss fraction.
func (c *consumer) drainRTCP() {
	buf := make([]byte, 1500)
	for {
		n, _, err := c.sender.Read(buf)
		if err != nil {
			return
		}

		pkts, err := rtcp.Unmarshal(buf[:n])
		if err != nil {
			continue
		}
		for _, pkt := range pkts {
			rr, ok := pkt.(*rtcp.ReceiverReport)
			if !ok {
				continue
			}
			for _, report := range rr.Reports {
				metrics.RelayFractionLost.Set(float64(report.FractionLost) / 256.0)
			}
		}
	}
}

// Close detaches the consumer from its producer and stops the sender.
func (c *consumer) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.prod.detach(c.id)
	c.tr.removeConsumer(c.id)
	_ = c.sender.Stop()

	util.LogDebug("relay: consumer %s closed", c.id)
	return nil
}

// encodeSendParameters serializes what the client needs to receive this
// consumer: the relay's codec and the sender's SSRC.
func (c *consumer) encodeSendParameters() (json.RawMessage, error) {
	sent := c.sender.GetParameters()

	params := rtpParameters{
		Codecs: []rtpCodec{{
			MimeType:    opusCapability.MimeType,
			PayloadType: opusPayloadType,
			ClockRate:   opusCapability.ClockRate,
			Channels:    opusCapability.Channels,
		}},
	}
	if len(sent.Codecs) > 0 {
		params.Codecs[0].PayloadType = uint8(sent.Codecs[0].PayloadType)
	}
	for _, enc := range sent.Encodings {
		params.Encodings = append(params.Encodings, rtpEncoding{SSRC: uint32(enc.SSRC)})
	}
	if len(params.Encodings) == 0 {
		return nil, fmt.Errorf("RTP sender reported no encodings")
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to encode consumer parameters: %w", err)
	}
	return raw, nil
}
