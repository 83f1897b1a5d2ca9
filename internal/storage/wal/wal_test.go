package wal

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/permamesh/permamesh-go/internal/core/domain"
	"github.com/permamesh/permamesh-go/pkg/crypto/adaptive"
)

func testRecord(i int) *domain.PermanentRecord {
	data := []byte(fmt.Sprintf("payload-%04d", i))
	id := fmt.Sprintf("rec-%04d", i)
	tokenID := fmt.Sprintf("jti-%04d", i)
	ts := time.Now().UnixMilli()
	return &domain.PermanentRecord{
		ID:          id,
		Timestamp:   ts,
		TokenID:     tokenID,
		Data:        data,
		Score:       0.9,
		Department:  "records",
		Permissions: domain.PermStore,
		Hash:        domain.ComputeRecordHash(id, ts, tokenID, data),
		ShardID:     uint32(i % 4),
	}
}

func newTestWriter(t *testing.T, dir string, opts ...func(*Config)) *Writer {
	t.Helper()
	cfg := DefaultConfig(dir)
	cfg.SyncMode = SyncModeSync
	for _, opt := range opts {
		opt(&cfg)
	}
	w, err := NewWriter(cfg)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	return w
}

func TestWriteReadRoundtrip(t *testing.T) {
	dir := t.TempDir()
	w := newTestWriter(t, dir)

	const n = 25
	for i := 0; i < n; i++ {
		if err := w.Append(NewAppendEntry(testRecord(i))); err != nil {
			t.Fatalf("Append #%d: %v", i, err)
		}
	}
	root := sha256.Sum256([]byte("block-root"))
	if err := w.Append(NewSealEntry(2, 1, root[:])); err != nil {
		t.Fatalf("Append seal: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := NewReader(dir, nil)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	entries, err := r.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(entries) != n+1 {
		t.Fatalf("len(entries) = %d, want %d", len(entries), n+1)
	}

	for i := 0; i < n; i++ {
		e := entries[i]
		if e.OpType != OpTypeAppend {
			t.Fatalf("entries[%d].OpType = %d, want APPEND", i, e.OpType)
		}
		wantID := fmt.Sprintf("rec-%04d", i)
		if e.RecordID != wantID {
			t.Errorf("entries[%d].RecordID = %q, want %q", i, e.RecordID, wantID)
		}
		wantData := []byte(fmt.Sprintf("payload-%04d", i))
		if e.Record == nil || !bytes.Equal(e.Record.Data, wantData) {
			t.Errorf("entries[%d] record data mismatch", i)
		}
		if e.ShardID != uint32(i%4) {
			t.Errorf("entries[%d].ShardID = %d, want %d", i, e.ShardID, i%4)
		}
	}

	seal := entries[n]
	if seal.OpType != OpTypeSeal {
		t.Fatalf("last entry OpType = %d, want SEAL", seal.OpType)
	}
	if seal.ShardID != 2 || seal.BlockHeight != 1 {
		t.Errorf("seal shard/height = %d/%d, want 2/1", seal.ShardID, seal.BlockHeight)
	}
	if !bytes.Equal(seal.BlockRoot, root[:]) {
		t.Error("seal block root mismatch")
	}
}

func TestEncryptedEntries(t *testing.T) {
	dir := t.TempDir()

	key := bytes.Repeat([]byte{0x42}, 32)
	cipher, err := adaptive.New(key)
	if err != nil {
		t.Fatalf("adaptive.New: %v", err)
	}

	w := newTestWriter(t, dir, func(c *Config) { c.Cipher = cipher })
	rec := testRecord(7)
	if err := w.Append(NewAppendEntry(rec)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	t.Run("readable with the same cipher", func(t *testing.T) {
		r, err := NewReader(dir, cipher)
		if err != nil {
			t.Fatalf("NewReader: %v", err)
		}
		defer r.Close()

		entries, err := r.ReadAll()
		if err != nil {
			t.Fatalf("ReadAll: %v", err)
		}
		if len(entries) != 1 || entries[0].Record == nil {
			t.Fatal("encrypted entry did not round-trip")
		}
		if !bytes.Equal(entries[0].Record.Data, rec.Data) {
			t.Error("decrypted record data mismatch")
		}
	})

	t.Run("record plaintext absent from segment file", func(t *testing.T) {
		files, err := filepath.Glob(filepath.Join(dir, FilePrefix+"*"+FileExtension))
		if err != nil || len(files) == 0 {
			t.Fatalf("glob: %v (files=%d)", err, len(files))
		}
		raw, err := os.ReadFile(files[0])
		if err != nil {
			t.Fatalf("read segment: %v", err)
		}
		if bytes.Contains(raw, rec.Data) {
			t.Error("plaintext record data found in encrypted WAL segment")
		}
	})

	t.Run("unreadable without cipher", func(t *testing.T) {
		r, err := NewReader(dir, nil)
		if err != nil {
			t.Fatalf("NewReader: %v", err)
		}
		defer r.Close()

		if _, err := r.ReadAll(); err == nil {
			t.Error("reading encrypted WAL without cipher should fail")
		}
	})
}

func TestSegmentRotation(t *testing.T) {
	dir := t.TempDir()
	w := newTestWriter(t, dir, func(c *Config) {
		c.MaxEntryCount = 10
		c.BatchCount = 1
	})

	const n = 35
	for i := 0; i < n; i++ {
		if err := w.Append(NewAppendEntry(testRecord(i))); err != nil {
			t.Fatalf("Append #%d: %v", i, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	files, err := filepath.Glob(filepath.Join(dir, FilePrefix+"*"+FileExtension))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(files) < 3 {
		t.Errorf("expected rotation to produce multiple segments, got %d", len(files))
	}

	r, err := NewReader(dir, nil)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	entries, err := r.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(entries) != n {
		t.Errorf("len(entries) = %d, want %d across segments", len(entries), n)
	}
}

func TestSeekFromOffset(t *testing.T) {
	dir := t.TempDir()
	w := newTestWriter(t, dir)

	for i := 0; i < 5; i++ {
		if err := w.Append(NewAppendEntry(testRecord(i))); err != nil {
			t.Fatalf("Append #%d: %v", i, err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	mark := w.CurrentOffset()

	for i := 5; i < 9; i++ {
		if err := w.Append(NewAppendEntry(testRecord(i))); err != nil {
			t.Fatalf("Append #%d: %v", i, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := NewReader(dir, nil)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	if err := r.Seek(mark); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	entries, err := r.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("len(entries) after seek = %d, want 4", len(entries))
	}
	if entries[0].RecordID != "rec-0005" {
		t.Errorf("first entry after seek = %q, want rec-0005", entries[0].RecordID)
	}
}

func TestReaderSkipsCorruptedTail(t *testing.T) {
	dir := t.TempDir()
	w := newTestWriter(t, dir)

	for i := 0; i < 3; i++ {
		if err := w.Append(NewAppendEntry(testRecord(i))); err != nil {
			t.Fatalf("Append #%d: %v", i, err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	// Simulate a torn write: append a frame with a bogus CRC to the open
	// segment, then abandon the writer without finalizing.
	files, err := filepath.Glob(filepath.Join(dir, FilePrefix+"*"+FileExtension))
	if err != nil || len(files) != 1 {
		t.Fatalf("glob: %v (files=%d)", err, len(files))
	}
	f, err := os.OpenFile(files[0], os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		t.Fatalf("open segment: %v", err)
	}
	if _, err := f.Write([]byte{0x00, 0x00, 0x00, 0x09, 0xde, 0xad, 0xbe, 0xef, 0x01, 0x7b, 0x7d, 0x00, 0x00}); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	f.Close()

	r, err := NewReader(dir, nil)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	var got int
	for {
		_, err := r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			t.Fatalf("Read: %v", err)
		}
		got++
	}
	if got != 3 {
		t.Errorf("read %d entries, want 3 valid entries before the torn tail", got)
	}
}

func TestCompactor(t *testing.T) {
	dir := t.TempDir()
	w := newTestWriter(t, dir, func(c *Config) {
		c.MaxEntryCount = 5
		c.BatchCount = 1
	})

	for i := 0; i < 30; i++ {
		if err := w.Append(NewAppendEntry(testRecord(i))); err != nil {
			t.Fatalf("Append #%d: %v", i, err)
		}
	}
	offset := w.CurrentOffset()
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	c := NewCompactor(dir, WithRetainCount(2))
	before, err := c.FileCount()
	if err != nil {
		t.Fatalf("FileCount: %v", err)
	}
	if before < 4 {
		t.Fatalf("expected several segments before compaction, got %d", before)
	}

	if err := c.Compact(offset); err != nil {
		t.Fatalf("Compact: %v", err)
	}

	after, err := c.FileCount()
	if err != nil {
		t.Fatalf("FileCount: %v", err)
	}
	if after >= before {
		t.Errorf("compaction removed nothing: before=%d after=%d", before, after)
	}
	if after < 2 {
		t.Errorf("compaction violated retain count: %d files left", after)
	}
}

func TestInvalidEntryRejected(t *testing.T) {
	dir := t.TempDir()
	w := newTestWriter(t, dir)
	defer w.Close()

	if err := w.Append(&Entry{OpType: OpTypeAppend}); err == nil {
		t.Error("APPEND without record should fail")
	}
	if err := w.Append(&Entry{OpType: OpTypeSeal}); err == nil {
		t.Error("SEAL without block root should fail")
	}
	if err := w.Append(&Entry{OpType: OpTypeUnspecified}); !errors.Is(err, ErrInvalidEntryType) {
		t.Errorf("unspecified op = %v, want ErrInvalidEntryType", err)
	}
}
