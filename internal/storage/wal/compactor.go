package wal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// DefaultRetainCount is the minimum number of segments Compact leaves
// behind regardless of the checkpoint offset.
const DefaultRetainCount = 3

// Compactor deletes journal segments made redundant by a ledger
// checkpoint. Recovery restores the checkpoint and replays only the
// tail past its offset, so segments wholly below that offset carry no
// information.
type Compactor struct {
	walDir      string
	retainCount int
}

// CompactorOption configures the Compactor.
type CompactorOption func(*Compactor)

// WithRetainCount sets the minimum number of segments to keep.
func WithRetainCount(count int) CompactorOption {
	return func(c *Compactor) {
		if count > 0 {
			c.retainCount = count
		}
	}
}

// NewCompactor creates a compactor over a journal directory.
func NewCompactor(walDir string, opts ...CompactorOption) *Compactor {
	c := &Compactor{walDir: walDir, retainCount: DefaultRetainCount}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compact removes segments fully covered by checkpointOffset, which
// uses the composite form (segmentID<<32 | offsetWithinSegment). Only
// segments with an ID strictly below the checkpoint's segment are
// candidates; the retain floor always wins over the offset.
func (c *Compactor) Compact(checkpointOffset uint64) error {
	files, err := c.listSegments()
	if err != nil || len(files) == 0 {
		return err
	}

	checkpointSegment := checkpointOffset >> 32

	var candidates []string
	for _, file := range files {
		id, ok := parseSegmentFilename(filepath.Base(file))
		if ok && id < checkpointSegment {
			candidates = append(candidates, file)
		}
	}

	if keep := c.retainCount - (len(files) - len(candidates)); keep > 0 {
		if keep > len(candidates) {
			keep = len(candidates)
		}
		candidates = candidates[:len(candidates)-keep]
	}

	var errs []error
	for _, file := range candidates {
		if err := os.Remove(file); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", file, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("wal: compaction left %d segments behind: %w",
			len(errs), errors.Join(errs...))
	}
	return nil
}

// FileCount returns the number of journal segments on disk.
func (c *Compactor) FileCount() (int, error) {
	files, err := c.listSegments()
	return len(files), err
}

// listSegments returns segment paths sorted oldest first. The segment
// ID is zero-padded in the filename, so lexical order is journal order.
func (c *Compactor) listSegments() ([]string, error) {
	entries, err := os.ReadDir(c.walDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, ok := parseSegmentFilename(entry.Name()); ok {
			files = append(files, filepath.Join(c.walDir, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}
