package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dmp-music/party/internal/relay"
)

// Compile-time interface checks.
var (
	_ relay.Engine    = (*fakeEngine)(nil)
	_ relay.Router    = (*fakeRouter)(nil)
	_ relay.Transport = (*fakeTransport)(nil)
	_ relay.Producer  = (*fakeProducer)(nil)
	_ relay.Consumer  = (*fakeConsumer)(nil)
)

// fakeEngine is an in-memory relay for handler tests: no sockets, no media,
// but the same handle lifecycle and errors as the real engine. A shared tick
// counter orders create and close events across routers, so tests can assert
// that one party's resources were released before the next one's existed.
type fakeEngine struct {
	mu      sync.Mutex
	tick    int64
	routers []*fakeRouter
}

func newFakeEngine() *fakeEngine { return &fakeEngine{} }

func (e *fakeEngine) next() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tick++
	return e.tick
}

func (e *fakeEngine) CreateRouter(context.Context) (relay.Router, error) {
	r := &fakeRouter{
		eng:        e,
		createdAt:  e.next(),
		transports: make(map[string]*fakeTransport),
		producers:  make(map[string]*fakeProducer),
	}
	r.id = fmt.Sprintf("fake-router-%d", r.createdAt)

	e.mu.Lock()
	e.routers = append(e.routers, r)
	e.mu.Unlock()
	return r, nil
}

func (e *fakeEngine) router(i int) *fakeRouter {
	e.mu.Lock()
	defer e.mu.Unlock()
	if i >= len(e.routers) {
		return nil
	}
	return e.routers[i]
}

func (e *fakeEngine) routerCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.routers)
}

// ─────────────────────────────────────────────
// Router
// ─────────────────────────────────────────────

type fakeRouter struct {
	eng       *fakeEngine
	id        string
	createdAt int64

	mu         sync.Mutex
	transports map[string]*fakeTransport
	producers  map[string]*fakeProducer
	closed     bool
	closedAt   int64
}

func (r *fakeRouter) ID() string { return r.id }

func (r *fakeRouter) RTPCapabilities() json.RawMessage {
	return json.RawMessage(`{"codecs":[{"mimeType":"audio/opus","clockRate":48000,"channels":2}]}`)
}

func (r *fakeRouter) CreateTransport(context.Context) (relay.Transport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, relay.ErrClosed
	}
	t := &fakeTransport{
		r:         r,
		id:        fmt.Sprintf("fake-transport-%d", r.eng.next()),
		consumers: make(map[string]*fakeConsumer),
	}
	r.transports[t.id] = t
	return t, nil
}

func (r *fakeRouter) CanConsume(producerID string, rtpCapabilities json.RawMessage) bool {
	var caps struct {
		Codecs []json.RawMessage `json:"codecs"`
	}
	if err := json.Unmarshal(rtpCapabilities, &caps); err != nil || len(caps.Codecs) == 0 {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.producers[producerID] != nil
}

func (r *fakeRouter) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.closedAt = r.eng.next()
	transports := make([]*fakeTransport, 0, len(r.transports))
	for _, t := range r.transports {
		transports = append(transports, t)
	}
	r.mu.Unlock()

	for _, t := range transports {
		_ = t.Close()
	}
	return nil
}

func (r *fakeRouter) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *fakeRouter) closeStamp() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closedAt
}

func (r *fakeRouter) snapshotTransports() []*fakeTransport {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*fakeTransport, 0, len(r.transports))
	for _, t := range r.transports {
		out = append(out, t)
	}
	return out
}

func (r *fakeRouter) findConsumer(id string) *fakeConsumer {
	for _, t := range r.snapshotTransports() {
		if c := t.consumerByID(id); c != nil {
			return c
		}
	}
	return nil
}

func (r *fakeRouter) consumerTotal() int {
	n := 0
	for _, t := range r.snapshotTransports() {
		t.mu.Lock()
		n += len(t.consumers)
		t.mu.Unlock()
	}
	return n
}

// ─────────────────────────────────────────────
// Transport
// ─────────────────────────────────────────────

type fakeTransport struct {
	r  *fakeRouter
	id string

	mu        sync.Mutex
	connected bool
	closed    bool
	producer  *fakeProducer
	consumers map[string]*fakeConsumer
}

func (t *fakeTransport) ID() string { return t.id }

func (t *fakeTransport) Parameters() relay.TransportParameters {
	return relay.TransportParameters{
		ID:             t.id,
		ICEParameters:  json.RawMessage(`{"usernameFragment":"fake","password":"fakepass"}`),
		ICECandidates:  json.RawMessage(`[{"address":"127.0.0.1","protocol":"udp","port":50000,"type":"host"}]`),
		DTLSParameters: json.RawMessage(`{"role":"auto","fingerprints":[{"algorithm":"sha-256","value":"00:11"}]}`),
	}
}

func (t *fakeTransport) Connect(_ context.Context, req relay.ConnectRequest) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return relay.ErrClosed
	}
	if t.connected {
		return fmt.Errorf("transport already connected")
	}
	if len(req.DTLSParameters) == 0 {
		return fmt.Errorf("missing dtlsParameters")
	}
	t.connected = true
	return nil
}

func (t *fakeTransport) Produce(_ context.Context, kind string, _ json.RawMessage) (relay.Producer, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, relay.ErrClosed
	}
	if !t.connected {
		t.mu.Unlock()
		return nil, relay.ErrNotConnected
	}
	if t.producer != nil {
		t.mu.Unlock()
		return nil, fmt.Errorf("transport already has a producer")
	}
	p := &fakeProducer{
		tr:   t,
		id:   fmt.Sprintf("fake-producer-%d", t.r.eng.next()),
		kind: kind,
	}
	t.producer = p
	t.mu.Unlock()

	t.r.mu.Lock()
	t.r.producers[p.id] = p
	t.r.mu.Unlock()
	return p, nil
}

func (t *fakeTransport) Consume(_ context.Context, producerID string, _ json.RawMessage) (relay.Consumer, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, relay.ErrClosed
	}
	if !t.connected {
		t.mu.Unlock()
		return nil, relay.ErrNotConnected
	}
	t.mu.Unlock()

	t.r.mu.Lock()
	p := t.r.producers[producerID]
	t.r.mu.Unlock()
	if p == nil {
		return nil, relay.ErrNoProducer
	}

	c := &fakeConsumer{
		tr:         t,
		id:         fmt.Sprintf("fake-consumer-%d", t.r.eng.next()),
		producerID: producerID,
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, relay.ErrClosed
	}
	t.consumers[c.id] = c
	t.mu.Unlock()
	return c, nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	p := t.producer
	t.producer = nil
	consumers := make([]*fakeConsumer, 0, len(t.consumers))
	for _, c := range t.consumers {
		consumers = append(consumers, c)
	}
	t.consumers = make(map[string]*fakeConsumer)
	t.mu.Unlock()

	if p != nil {
		_ = p.Close()
	}
	for _, c := range consumers {
		_ = c.Close()
	}
	t.r.mu.Lock()
	delete(t.r.transports, t.id)
	t.r.mu.Unlock()
	return nil
}

func (t *fakeTransport) consumerByID(id string) *fakeConsumer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.consumers[id]
}

// ─────────────────────────────────────────────
// Producer / Consumer
// ─────────────────────────────────────────────

type fakeProducer struct {
	tr   *fakeTransport
	id   string
	kind string

	mu     sync.Mutex
	closed bool
}

func (p *fakeProducer) ID() string   { return p.id }
func (p *fakeProducer) Kind() string { return p.kind }

func (p *fakeProducer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.tr.r.mu.Lock()
	delete(p.tr.r.producers, p.id)
	p.tr.r.mu.Unlock()

	p.tr.mu.Lock()
	if p.tr.producer == p {
		p.tr.producer = nil
	}
	p.tr.mu.Unlock()
	return nil
}

func (p *fakeProducer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type fakeConsumer struct {
	tr         *fakeTransport
	id         string
	producerID string

	mu      sync.Mutex
	resumed bool
	closed  bool
}

func (c *fakeConsumer) ID() string         { return c.id }
func (c *fakeConsumer) ProducerID() string { return c.producerID }
func (c *fakeConsumer) Kind() string       { return "audio" }

func (c *fakeConsumer) RTPParameters() json.RawMessage {
	return json.RawMessage(`{"codecs":[{"mimeType":"audio/opus","payloadType":111,"clockRate":48000,"channels":2}],"encodings":[{"ssrc":4242}]}`)
}

func (c *fakeConsumer) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return relay.ErrClosed
	}
	c.resumed = true
	return nil
}

func (c *fakeConsumer) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.tr.mu.Lock()
	delete(c.tr.consumers, c.id)
	c.tr.mu.Unlock()
	return nil
}

func (c *fakeConsumer) isResumed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resumed
}

func (c *fakeConsumer) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
