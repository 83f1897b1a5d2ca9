package pbft

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/permamesh/permamesh-go/internal/core/domain"
)

// Transport moves consensus messages between nodes. Implementations
// deliver best-effort: the protocol tolerates dropped messages, so a
// failed send to one peer must not abort the broadcast to the rest.
type Transport interface {
	// Broadcast sends the message to every peer except this node.
	Broadcast(ctx context.Context, msg *domain.ConsensusMessage) error

	// Send delivers the message to one peer.
	Send(ctx context.Context, nodeID string, msg *domain.ConsensusMessage) error

	// SetHandler registers the inbound message callback. Must be called
	// before any message can arrive.
	SetHandler(h func(*domain.ConsensusMessage))

	// Close releases transport resources.
	Close() error
}

// inboxSize bounds per-node queued inbound messages.
const inboxSize = 1024

// Hub is an in-process transport fabric connecting ChannelTransports.
// Used by local clusters and protocol tests.
type Hub struct {
	mu    sync.RWMutex
	nodes map[string]*ChannelTransport
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{nodes: make(map[string]*ChannelTransport)}
}

// Join creates a transport for a node and attaches it to the hub.
func (h *Hub) Join(nodeID string) *ChannelTransport {
	t := &ChannelTransport{
		hub:    h,
		nodeID: nodeID,
		inbox:  make(chan *domain.ConsensusMessage, inboxSize),
		stopCh: make(chan struct{}),
	}

	h.mu.Lock()
	h.nodes[nodeID] = t
	h.mu.Unlock()

	return t
}

// Disconnect detaches a node from the hub; messages to it are dropped.
// Used by tests simulating unreachable nodes.
func (h *Hub) Disconnect(nodeID string) {
	h.mu.Lock()
	delete(h.nodes, nodeID)
	h.mu.Unlock()
}

func (h *Hub) deliver(to string, msg *domain.ConsensusMessage) {
	h.mu.RLock()
	t, ok := h.nodes[to]
	h.mu.RUnlock()
	if !ok {
		return // unreachable peer, message dropped
	}
	select {
	case t.inbox <- msg:
	default:
		// Inbox full; drop rather than block the sender.
	}
}

func (h *Hub) peerIDs(except string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.nodes))
	for id := range h.nodes {
		if id != except {
			out = append(out, id)
		}
	}
	return out
}

// ChannelTransport is the hub-backed in-process transport for one node.
type ChannelTransport struct {
	hub    *Hub
	nodeID string

	inbox  chan *domain.ConsensusMessage
	stopCh chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
	handler   func(*domain.ConsensusMessage)
}

// SetHandler registers the callback and starts inbox consumption.
func (t *ChannelTransport) SetHandler(h func(*domain.ConsensusMessage)) {
	t.handler = h
	t.startOnce.Do(func() {
		go t.consume()
	})
}

func (t *ChannelTransport) consume() {
	for {
		select {
		case msg := <-t.inbox:
			t.handler(msg)
		case <-t.stopCh:
			return
		}
	}
}

// Broadcast delivers to every hub member except this node.
func (t *ChannelTransport) Broadcast(ctx context.Context, msg *domain.ConsensusMessage) error {
	for _, id := range t.hub.peerIDs(t.nodeID) {
		t.hub.deliver(id, msg)
	}
	return nil
}

// Send delivers to one hub member.
func (t *ChannelTransport) Send(ctx context.Context, nodeID string, msg *domain.ConsensusMessage) error {
	t.hub.deliver(nodeID, msg)
	return nil
}

// Close stops inbox consumption.
func (t *ChannelTransport) Close() error {
	t.stopOnce.Do(func() { close(t.stopCh) })
	return nil
}

// ConsensusPath is the HTTP path consensus messages are posted to.
const ConsensusPath = "/v1/consensus/message"

// HTTPTransport sends consensus messages as JSON over point-to-point
// HTTP POSTs. The receiving side mounts ServeHTTP on ConsensusPath.
type HTTPTransport struct {
	nodeID    string
	endpoints map[string]string // node id -> base URL
	client    *http.Client

	handler func(*domain.ConsensusMessage)
}

// NewHTTPTransport creates an HTTP transport. endpoints maps every peer
// id to its base URL (e.g. "http://10.0.0.2:7480").
func NewHTTPTransport(nodeID string, endpoints map[string]string, timeout time.Duration) *HTTPTransport {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	cp := make(map[string]string, len(endpoints))
	for id, ep := range endpoints {
		cp[id] = ep
	}
	return &HTTPTransport{
		nodeID:    nodeID,
		endpoints: cp,
		client:    &http.Client{Timeout: timeout},
	}
}

// SetHandler registers the inbound message callback.
func (t *HTTPTransport) SetHandler(h func(*domain.ConsensusMessage)) {
	t.handler = h
}

// SetTLSClientConfig installs the TLS configuration used for outbound
// posts to peers with https endpoints. Must be called before the engine
// starts sending.
func (t *HTTPTransport) SetTLSClientConfig(cfg *tls.Config) {
	t.client.Transport = &http.Transport{TLSClientConfig: cfg}
}

// Broadcast posts to every peer. Per-peer failures are collected, not
// fatal: the quorum logic tolerates missing deliveries.
func (t *HTTPTransport) Broadcast(ctx context.Context, msg *domain.ConsensusMessage) error {
	var errs []error
	for id := range t.endpoints {
		if id == t.nodeID {
			continue
		}
		if err := t.Send(ctx, id, msg); err != nil {
			errs = append(errs, fmt.Errorf("send to %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// Send posts the message to one peer.
func (t *HTTPTransport) Send(ctx context.Context, nodeID string, msg *domain.ConsensusMessage) error {
	endpoint, ok := t.endpoints[nodeID]
	if !ok {
		return fmt.Errorf("pbft: unknown peer %q", nodeID)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("pbft: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+ConsensusPath, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pbft: peer %s returned %d", nodeID, resp.StatusCode)
	}
	return nil
}

// ServeHTTP receives a posted consensus message and hands it to the
// engine. Always responds 202: acceptance is not a protocol vote.
func (t *HTTPTransport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var msg domain.ConsensusMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if t.handler != nil {
		go t.handler(&msg)
	}
	w.WriteHeader(http.StatusAccepted)
}

// Close releases idle connections.
func (t *HTTPTransport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}
