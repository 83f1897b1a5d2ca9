package gossip

import (
	"encoding/json"
	"log/slog"
	"os"
	"testing"

	"github.com/hashicorp/memberlist"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestNewDiscovery(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		d, err := NewDiscovery(Config{
			NodeID:        "test-node",
			BindAddr:      "127.0.0.1",
			BindPort:      0,
			ConsensusAddr: "http://127.0.0.1:7480",
			ClusterID:     "test-cluster",
			Logger:        testLogger(),
		})
		if err != nil {
			t.Fatalf("NewDiscovery failed: %v", err)
		}
		defer d.Shutdown()

		local := d.LocalNode()
		if local == nil {
			t.Fatal("expected non-nil local node")
		}
		if local.Name != "test-node" {
			t.Errorf("node name = %s, want test-node", local.Name)
		}

		var meta nodeMetadata
		if err := json.Unmarshal(local.Meta, &meta); err != nil {
			t.Fatalf("unmarshal metadata: %v", err)
		}
		if meta.ConsensusAddr != "http://127.0.0.1:7480" {
			t.Errorf("metadata ConsensusAddr = %s", meta.ConsensusAddr)
		}
		if meta.ClusterID != "test-cluster" {
			t.Errorf("metadata ClusterID = %s", meta.ClusterID)
		}
	})

	t.Run("WithoutLogger", func(t *testing.T) {
		d, err := NewDiscovery(Config{
			NodeID:        "test-node-2",
			BindAddr:      "127.0.0.1",
			BindPort:      0,
			ConsensusAddr: "http://127.0.0.1:7481",
		})
		if err != nil {
			t.Fatalf("NewDiscovery failed: %v", err)
		}
		defer d.Shutdown()
	})
}

func TestDiscoveryMembers(t *testing.T) {
	d, err := NewDiscovery(Config{
		NodeID:        "test-members",
		BindAddr:      "127.0.0.1",
		BindPort:      0,
		ConsensusAddr: "http://127.0.0.1:7482",
		Logger:        testLogger(),
	})
	if err != nil {
		t.Fatalf("NewDiscovery failed: %v", err)
	}
	defer d.Shutdown()

	members := d.Members()
	if len(members) < 1 {
		t.Fatalf("expected at least 1 member, got %d", len(members))
	}

	found := false
	for _, m := range members {
		if m.Name == "test-members" {
			found = true
		}
	}
	if !found {
		t.Error("local node not in members list")
	}
}

func TestDiscoveryCallbacks(t *testing.T) {
	d, err := NewDiscovery(Config{
		NodeID:        "test-callbacks",
		BindAddr:      "127.0.0.1",
		BindPort:      0,
		ConsensusAddr: "http://127.0.0.1:7483",
		Logger:        testLogger(),
	})
	if err != nil {
		t.Fatalf("NewDiscovery failed: %v", err)
	}
	defer d.Shutdown()

	var joinedID, joinedAddr, leftID, updatedID string
	d.OnJoin(func(nodeID, addr string) {
		joinedID, joinedAddr = nodeID, addr
	})
	d.OnLeave(func(nodeID string) { leftID = nodeID })
	d.OnUpdate(func(nodeID string) { updatedID = nodeID })

	delegate, ok := d.config.Events.(*eventDelegate)
	if !ok {
		t.Fatal("expected eventDelegate")
	}

	meta, err := json.Marshal(nodeMetadata{ConsensusAddr: "http://127.0.0.1:9000"})
	if err != nil {
		t.Fatal(err)
	}
	mock := &memberlist.Node{
		Name: "mock-node",
		Addr: []byte{127, 0, 0, 1},
		Port: 8000,
		Meta: meta,
	}

	delegate.NotifyJoin(mock)
	if joinedID != "mock-node" {
		t.Errorf("joined node id = %s", joinedID)
	}
	if joinedAddr != "http://127.0.0.1:9000" {
		t.Errorf("joined consensus addr = %s, want the metadata address", joinedAddr)
	}

	delegate.NotifyUpdate(mock)
	if updatedID != "mock-node" {
		t.Errorf("updated node id = %s", updatedID)
	}

	delegate.NotifyLeave(mock)
	if leftID != "mock-node" {
		t.Errorf("left node id = %s", leftID)
	}
}

func TestDiscoveryJoinFallsBackToGossipAddr(t *testing.T) {
	d, err := NewDiscovery(Config{
		NodeID:        "test-fallback",
		BindAddr:      "127.0.0.1",
		BindPort:      0,
		ConsensusAddr: "http://127.0.0.1:7484",
		Logger:        testLogger(),
	})
	if err != nil {
		t.Fatalf("NewDiscovery failed: %v", err)
	}
	defer d.Shutdown()

	var joinedAddr string
	d.OnJoin(func(_, addr string) { joinedAddr = addr })

	delegate := d.config.Events.(*eventDelegate)
	delegate.NotifyJoin(&memberlist.Node{
		Name: "bare-node",
		Addr: []byte{127, 0, 0, 1},
		Port: 8001,
	})

	if joinedAddr != "127.0.0.1:8001" {
		t.Errorf("fallback addr = %s, want gossip address", joinedAddr)
	}
}

func TestDiscoveryShutdownIdempotent(t *testing.T) {
	d, err := NewDiscovery(Config{
		NodeID:        "test-shutdown",
		BindAddr:      "127.0.0.1",
		BindPort:      0,
		ConsensusAddr: "http://127.0.0.1:7485",
		Logger:        testLogger(),
	})
	if err != nil {
		t.Fatalf("NewDiscovery failed: %v", err)
	}

	if err := d.Leave(); err != nil {
		t.Errorf("Leave failed: %v", err)
	}
	if err := d.Shutdown(); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
	if err := d.Shutdown(); err != nil {
		t.Errorf("second Shutdown failed: %v", err)
	}
}

func TestMetadataDelegate(t *testing.T) {
	meta, err := json.Marshal(nodeMetadata{
		ConsensusAddr: "http://127.0.0.1:7000",
		ClusterID:     "cluster-123",
	})
	if err != nil {
		t.Fatal(err)
	}
	delegate := &metadataDelegate{meta: meta}

	got := delegate.NodeMeta(512)
	if len(got) == 0 {
		t.Fatal("expected non-empty metadata")
	}

	truncated := delegate.NodeMeta(4)
	if len(truncated) != 4 {
		t.Errorf("truncated metadata length = %d, want 4", len(truncated))
	}

	// Remaining delegate hooks are intentionally inert.
	delegate.NotifyMsg(nil)
	delegate.GetBroadcasts(0, 0)
	delegate.LocalState(false)
	delegate.MergeRemoteState(nil, false)
}
