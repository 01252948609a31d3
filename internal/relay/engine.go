package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"

	"github.com/dmp-music/party/internal/util"
)

// The relay carries exactly one codec: the catalogue's streaming pipeline
// produces 48 kHz stereo Opus, so transport negotiation never has to rank
// alternatives.
var opusCapability = webrtc.RTPCodecCapability{
	MimeType:    webrtc.MimeTypeOpus,
	ClockRate:   48000,
	Channels:    2,
	SDPFmtpLine: "minptime=10;useinbandfec=1",
}

const opusPayloadType = 111 // payload type announced in router capabilities

// EngineConfig carries the relay-level knobs taken from the daemon config.
type EngineConfig struct {
	STUNServers   []string      // STUN URLs for candidate gathering; empty is valid on a public host
	UDPPortMin    uint16        // 0 disables the port range restriction
	UDPPortMax    uint16        //
	GatherTimeout time.Duration // max wait for local ICE candidate gathering
}

// engine is the pion-backed Engine. One instance serves the process; it owns
// the webrtc.API (media engine, interceptors, setting engine) shared by all
// routers.
type engine struct {
	api           *webrtc.API
	iceServers    []webrtc.ICEServer
	gatherTimeout time.Duration
	capabilities  json.RawMessage
}

var _ Engine = (*engine)(nil)

// NewEngine builds the process-wide relay engine: an Opus-only media engine,
// standard RTCP report interceptors, and an optional ephemeral UDP port
// range for deployments that firewall the relay.
func NewEngine(cfg EngineConfig) (Engine, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: opusCapability,
		PayloadType:        opusPayloadType,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("failed to register opus codec: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.ConfigureRTCPReports(registry); err != nil {
		return nil, fmt.Errorf("failed to configure rtcp reports: %w", err)
	}

	se := webrtc.SettingEngine{}
	if cfg.UDPPortMin > 0 && cfg.UDPPortMax > 0 {
		if err := se.SetEphemeralUDPPortRange(cfg.UDPPortMin, cfg.UDPPortMax); err != nil {
			return nil, fmt.Errorf("failed to set UDP port range: %w", err)
		}
	}

	caps, err := json.Marshal(routerCapabilities{
		Codecs: []capabilityCodec{{
			MimeType:             opusCapability.MimeType,
			Kind:                 "audio",
			ClockRate:            opusCapability.ClockRate,
			Channels:             opusCapability.Channels,
			PreferredPayloadType: opusPayloadType,
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode router capabilities: %w", err)
	}

	var iceServers []webrtc.ICEServer
	if len(cfg.STUNServers) > 0 {
		iceServers = []webrtc.ICEServer{{URLs: cfg.STUNServers}}
	}

	gatherTimeout := cfg.GatherTimeout
	if gatherTimeout <= 0 {
		gatherTimeout = 5 * time.Second
	}

	return &engine{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(m),
			webrtc.WithInterceptorRegistry(registry),
			webrtc.WithSettingEngine(se),
		),
		iceServers:    iceServers,
		gatherTimeout: gatherTimeout,
		capabilities:  caps,
	}, nil
}

// CreateRouter allocates the media plane for a new party.
func (e *engine) CreateRouter(_ context.Context) (Router, error) {
	r := &router{
		id:         uuid.NewString(),
		eng:        e,
		transports: make(map[string]*transport),
		producers:  make(map[string]*producer),
	}
	util.LogDebug("relay: router %s created", r.id)
	return r, nil
}

// ---------------------------------------------------------------------------
// Router
// ---------------------------------------------------------------------------

// router groups one party's transports and producers. Consumers are reached
// through their producer; the router only brokers the lookup.
type router struct {
	id  string
	eng *engine

	mu         sync.Mutex
	transports map[string]*transport
	producers  map[string]*producer
	closed     bool
}

var _ Router = (*router)(nil)

func (r *router) ID() string { return r.id }

func (r *router) RTPCapabilities() json.RawMessage { return r.eng.capabilities }

func (r *router) CreateTransport(ctx context.Context) (Transport, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	r.mu.Unlock()

	t, err := r.eng.newTransport(ctx, r)
	if err != nil {
		return nil, err
	}

	// Gathering suspended us; the router may have been closed meanwhile.
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = t.Close()
		return nil, ErrClosed
	}
	r.transports[t.id] = t
	r.mu.Unlock()

	return t, nil
}

func (r *router) CanConsume(producerID string, rtpCapabilities json.RawMessage) bool {
	if r.producerByID(producerID) == nil {
		return false
	}
	return capsCompatible(rtpCapabilities) == nil
}

func (r *router) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	transports := make([]*transport, 0, len(r.transports))
	for _, t := range r.transports {
		transports = append(transports, t)
	}
	r.mu.Unlock()

	for _, t := range transports {
		_ = t.Close()
	}
	util.LogDebug("relay: router %s closed", r.id)
	return nil
}

func (r *router) producerByID(id string) *producer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.producers[id]
}

func (r *router) registerProducer(p *producer) {
	r.mu.Lock()
	r.producers[p.id] = p
	r.mu.Unlock()
}

func (r *router) unregisterProducer(id string) {
	r.mu.Lock()
	delete(r.producers, id)
	r.mu.Unlock()
}

func (r *router) removeTransport(id string) {
	r.mu.Lock()
	delete(r.transports, id)
	r.mu.Unlock()
}
