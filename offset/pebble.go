package offset

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/rs/zerolog/log"
)

// Key prefix for Pebble storage
const prefixOffset = "/offset/" // /offset/{path} -> uint64 LE

// Pebble configuration constants
const (
	memTableSize                = 4 << 20 // 4MB, offsets are tiny
	memTableStopWritesThreshold = 4
	l0CompactionThreshold       = 2
	l0StopWritesThreshold       = 12
)

// PebbleStore keeps all offsets in one Pebble database. It is shared by every
// tailer; keys are disjoint per file.
type PebbleStore struct {
	db   *pebble.DB
	path string

	// In-memory offset map for fast lookups
	offsets   map[string]int64
	offsetsMu sync.RWMutex

	closed atomic.Bool
}

// NewPebbleStore creates or opens a Pebble-backed offset store at dir
func NewPebbleStore(dir string) (*PebbleStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("offsets directory is required")
	}

	opts := &pebble.Options{
		MemTableSize:                memTableSize,
		MemTableStopWritesThreshold: memTableStopWritesThreshold,
		L0CompactionThreshold:       l0CompactionThreshold,
		L0StopWritesThreshold:       l0StopWritesThreshold,
		DisableWAL:                  false,
	}

	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open offset store at %s: %w", dir, err)
	}

	ps := &PebbleStore{
		db:      db,
		path:    dir,
		offsets: make(map[string]int64),
	}

	if err := ps.loadOffsets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load offsets: %w", err)
	}

	return ps, nil
}

// loadOffsets loads all offsets from Pebble into the in-memory map. Corrupt
// values are skipped and read as 0.
func (ps *PebbleStore) loadOffsets() error {
	prefix := []byte(prefixOffset)
	iter, err := ps.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	count := 0
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		path := string(iter.Key()[len(prefixOffset):])
		val, err := iter.ValueAndErr()
		if err != nil {
			return err
		}

		offset, ok := decodeOffset(val)
		if !ok {
			log.Warn().Str("file", path).Int("length", len(val)).Msg("Corrupt offset, starting from 0")
			continue
		}

		ps.offsets[path] = offset
		count++
	}

	if err := iter.Error(); err != nil {
		return err
	}

	if count > 0 {
		log.Info().Int("offsets", count).Str("path", ps.path).Msg("Loaded committed offsets")
	}

	return nil
}

// Load returns the committed offset for path, or 0
func (ps *PebbleStore) Load(path string) int64 {
	if ps.closed.Load() {
		return 0
	}

	ps.offsetsMu.RLock()
	defer ps.offsetsMu.RUnlock()
	return ps.offsets[path]
}

// Commit persists the offset with a synced write
func (ps *PebbleStore) Commit(path string, offset int64) error {
	if offset < 0 {
		return fmt.Errorf("commit %s at %d: %w", path, offset, ErrNegativeOffset)
	}
	if ps.closed.Load() {
		return fmt.Errorf("offset store is closed")
	}

	val := make([]byte, 8)
	binary.LittleEndian.PutUint64(val, uint64(offset))

	if err := ps.db.Set([]byte(prefixOffset+path), val, pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit offset for %s: %w", path, err)
	}

	ps.offsetsMu.Lock()
	ps.offsets[path] = offset
	ps.offsetsMu.Unlock()

	return nil
}

// Close closes the Pebble database
func (ps *PebbleStore) Close() error {
	if !ps.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("offset store already closed")
	}
	return ps.db.Close()
}

func decodeOffset(val []byte) (int64, bool) {
	if len(val) != 8 {
		return 0, false
	}
	offset := int64(binary.LittleEndian.Uint64(val))
	if offset < 0 {
		return 0, false
	}
	return offset, true
}

// prefixUpperBound returns the upper bound for a prefix scan
func prefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end
		}
	}
	return nil // Prefix is all 0xff
}
