package storage

import (
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"testing"
	"time"
)

func newTestEngine(t *testing.T) *BadgerEngine {
	t.Helper()
	cfg := DefaultKVConfig(t.TempDir())
	cfg.Badger.GCInterval = "1h" // keep auto GC out of tests

	engine, err := NewBadgerEngine(cfg, slog.Default())
	if err != nil {
		t.Fatalf("NewBadgerEngine: %v", err)
	}
	t.Cleanup(func() { engine.Close() })
	return engine
}

func TestBadgerEngineBasicOperations(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	t.Run("set and get", func(t *testing.T) {
		key := []byte("record:01HX5K")
		value := []byte(`{"id":"01HX5K"}`)

		if err := engine.Set(ctx, key, value); err != nil {
			t.Fatal(err)
		}
		got, err := engine.Get(ctx, key)
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != string(value) {
			t.Errorf("Get = %q, want %q", got, value)
		}
	})

	t.Run("missing key", func(t *testing.T) {
		if _, err := engine.Get(ctx, []byte("record:absent")); err != ErrKeyNotFound {
			t.Errorf("err = %v, want ErrKeyNotFound", err)
		}
	})

	t.Run("delete", func(t *testing.T) {
		key := []byte("record:gone")
		if err := engine.Set(ctx, key, []byte("x")); err != nil {
			t.Fatal(err)
		}
		if err := engine.Delete(ctx, key); err != nil {
			t.Fatal(err)
		}
		if _, err := engine.Get(ctx, key); err != ErrKeyNotFound {
			t.Errorf("err after delete = %v, want ErrKeyNotFound", err)
		}
	})

	t.Run("append entry reports its index", func(t *testing.T) {
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, 12345)

		offset, err := engine.AppendEntry(ctx, key, []byte("entry"))
		if err != nil {
			t.Fatal(err)
		}
		if offset != 12345 {
			t.Errorf("offset = %d, want 12345", offset)
		}
	})
}

func TestBadgerEngineScan(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	seed := map[string]string{
		"record:a": "first",
		"record:b": "second",
		"record:c": "third",
		"meta:x":   "other keyspace",
	}
	for k, v := range seed {
		if err := engine.Set(ctx, []byte(k), []byte(v)); err != nil {
			t.Fatal(err)
		}
	}

	t.Run("prefix bounds the scan", func(t *testing.T) {
		var got []string
		err := engine.Scan(ctx, []byte("record:"), func(_, value []byte) bool {
			got = append(got, string(value))
			return true
		})
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 3 {
			t.Errorf("scanned %d values, want 3", len(got))
		}
	})

	t.Run("callback can stop early", func(t *testing.T) {
		count := 0
		err := engine.Scan(ctx, []byte("record:"), func(_, _ []byte) bool {
			count++
			return count < 2
		})
		if err != nil {
			t.Fatal(err)
		}
		if count != 2 {
			t.Errorf("iterations = %d, want 2", count)
		}
	})
}

func TestBadgerEnginePrune(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	for i := uint64(1); i <= 10; i++ {
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, i)
		if _, err := engine.AppendEntry(ctx, key, []byte("entry")); err != nil {
			t.Fatal(err)
		}
	}

	if err := engine.Prune(ctx, 6); err != nil {
		t.Fatal(err)
	}

	for i := uint64(1); i <= 10; i++ {
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, i)
		_, err := engine.Get(ctx, key)
		if i < 6 && err != ErrKeyNotFound {
			t.Errorf("entry %d survived pruning: %v", i, err)
		}
		if i >= 6 && err != nil {
			t.Errorf("entry %d lost by pruning: %v", i, err)
		}
	}
}

func TestBadgerEngineSnapshot(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	for _, k := range []string{"record:1", "record:2", "record:3"} {
		if err := engine.Set(ctx, []byte(k), []byte("payload")); err != nil {
			t.Fatal(err)
		}
	}

	snap, err := engine.SaveSnapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	data, err := io.ReadAll(snap)
	snap.Close()
	if err != nil {
		t.Fatal(err)
	}
	if len(data) == 0 {
		t.Error("snapshot stream is empty")
	}
}

func TestBadgerEngineGCAndStats(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	// Churn data to give the value log something to reclaim.
	for i := 0; i < 100; i++ {
		if err := engine.Set(ctx, []byte{byte(i)}, make([]byte, 1000)); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 50; i++ {
		if err := engine.Delete(ctx, []byte{byte(i)}); err != nil {
			t.Fatal(err)
		}
	}

	// Reclaim amount depends on badger internals; only the call path
	// is asserted.
	if _, err := engine.GC(ctx); err != nil {
		t.Fatalf("GC: %v", err)
	}

	stats, err := engine.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats == nil {
		t.Fatal("nil stats")
	}
}

func TestBadgerEngineAutoGC(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping auto-GC test in short mode")
	}

	cfg := DefaultKVConfig(t.TempDir())
	cfg.Badger.GCInterval = "2s"

	engine, err := NewBadgerEngine(cfg, slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	defer engine.Close()

	// One GC cycle must pass without disturbing the engine.
	time.Sleep(3 * time.Second)

	if _, err := engine.Stats(context.Background()); err != nil {
		t.Fatal(err)
	}
}
