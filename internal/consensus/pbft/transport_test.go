package pbft

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/permamesh/permamesh-go/internal/core/domain"
)

func TestHubDeliversToPeersOnly(t *testing.T) {
	hub := NewHub()
	a := hub.Join("a")
	b := hub.Join("b")
	c := hub.Join("c")

	var mu sync.Mutex
	got := make(map[string][]domain.MessageType)
	handler := func(id string) func(*domain.ConsensusMessage) {
		return func(msg *domain.ConsensusMessage) {
			mu.Lock()
			got[id] = append(got[id], msg.Type)
			mu.Unlock()
		}
	}
	a.SetHandler(handler("a"))
	b.SetHandler(handler("b"))
	c.SetHandler(handler("c"))

	msg := &domain.ConsensusMessage{Type: domain.MsgPrepare, NodeID: "a"}
	if err := a.Broadcast(context.Background(), msg); err != nil {
		t.Fatal(err)
	}

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got["b"]) == 1 && len(got["c"]) == 1
	}, "peers receive the broadcast")

	mu.Lock()
	defer mu.Unlock()
	if len(got["a"]) != 0 {
		t.Error("broadcast delivered to the sender")
	}
}

func TestHubDisconnectDropsSilently(t *testing.T) {
	hub := NewHub()
	a := hub.Join("a")
	b := hub.Join("b")

	var mu sync.Mutex
	received := 0
	b.SetHandler(func(*domain.ConsensusMessage) {
		mu.Lock()
		received++
		mu.Unlock()
	})

	hub.Disconnect("b")

	msg := &domain.ConsensusMessage{Type: domain.MsgCommit, NodeID: "a"}
	if err := a.Send(context.Background(), "b", msg); err != nil {
		t.Fatalf("Send to disconnected peer: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if received != 0 {
		t.Errorf("disconnected peer received %d messages", received)
	}
}

func TestHTTPTransportRoundtrip(t *testing.T) {
	received := make(chan *domain.ConsensusMessage, 4)

	peer := NewHTTPTransport("b", nil, 0)
	peer.SetHandler(func(msg *domain.ConsensusMessage) {
		received <- msg
	})

	mux := http.NewServeMux()
	mux.Handle(ConsensusPath, peer)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	sender := NewHTTPTransport("a", map[string]string{
		"a": "http://unused",
		"b": srv.URL,
	}, 2*time.Second)
	defer sender.Close()

	msg := &domain.ConsensusMessage{
		Type:      domain.MsgPrePrepare,
		View:      1,
		Sequence:  9,
		Digest:    []byte("digest"),
		NodeID:    "a",
		Signature: []byte("sig"),
	}
	if err := sender.Send(context.Background(), "b", msg); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case got := <-received:
		if got.Type != msg.Type || got.View != msg.View || got.Sequence != msg.Sequence {
			t.Errorf("received %+v, want header of %+v", got, msg)
		}
		if !bytes.Equal(got.Digest, msg.Digest) {
			t.Error("digest did not survive the wire")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message never arrived")
	}
}

func TestHTTPTransportSendErrors(t *testing.T) {
	sender := NewHTTPTransport("a", map[string]string{"a": "http://unused"}, time.Second)
	defer sender.Close()

	err := sender.Send(context.Background(), "ghost", &domain.ConsensusMessage{})
	if err == nil || !strings.Contains(err.Error(), "unknown peer") {
		t.Errorf("error = %v, want unknown peer", err)
	}
}

func TestHTTPTransportRejectsNonPost(t *testing.T) {
	tr := NewHTTPTransport("b", nil, 0)
	rec := httptest.NewRecorder()
	tr.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, ConsensusPath, nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestHTTPTransportRejectsBadBody(t *testing.T) {
	tr := NewHTTPTransport("b", nil, 0)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, ConsensusPath, strings.NewReader("{not json"))
	tr.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
