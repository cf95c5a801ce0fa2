package lsm

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/dd0wney/cluso-kv/pkg/cache"
	"github.com/dd0wney/cluso-kv/pkg/logging"
	"github.com/dd0wney/cluso-kv/pkg/metrics"
	"github.com/dd0wney/cluso-kv/pkg/workers"
)

var (
	// ErrEmptyValue is returned by Put for empty values. An empty lookup
	// result means "absent", so empty values cannot be stored.
	ErrEmptyValue = errors.New("empty value")

	// ErrClosed is returned for operations issued after Close.
	ErrClosed = errors.New("store is closed")
)

// storeMode is the engine state machine: normal -> compact (background
// flush/compaction running) -> normal, and normal -> exits on shutdown.
type storeMode int

const (
	modeNormal storeMode = iota
	modeCompact
	modeExits
)

// tableLevel is the per-level state: descriptors sorted ascending by
// (timestamp, minKey), and the counter naming the next table file.
type tableLevel struct {
	tables  []*sstable
	counter int
}

// Store is a persistent ordered key-value store backed by an in-memory
// skip-list write buffer and leveled immutable on-disk tables, with
// background minor and major compaction.
type Store struct {
	// rw serializes writers against readers: Put/Del exclusive, Get shared.
	rw sync.RWMutex

	// mu + cond form the monitor guarding mode and the immutable memtable
	// lifetime. All mode transitions and imm loads/stores happen under mu.
	mu   sync.Mutex
	cond *sync.Cond
	mode storeMode

	mem *memtable
	imm *memtable

	dir           string
	memtableBytes int

	// stamp is the table timestamp counter, strictly monotonic for the
	// process lifetime. Mutated under mu, except by loadLevels before the
	// store is returned to its user.
	stamp uint64

	// levelsMu guards the levels slice and each level's tables slice.
	// Readers snapshot a level's slice and then scan table files without
	// the lock, so reads proceed concurrently with compaction.
	levelsMu sync.RWMutex
	levels   []*tableLevel

	cache   *cache.Cache[int64, string]
	pool    *workers.Pool
	logger  logging.Logger
	metrics *metrics.Registry

	stats Stats
}

// Stats tracks engine counters with lock-free atomics.
type Stats struct {
	Puts         atomic.Int64
	Gets         atomic.Int64
	Dels         atomic.Int64
	Flushes      atomic.Int64
	Compactions  atomic.Int64
	BytesWritten atomic.Int64
}

// StatsSnapshot is a point-in-time copy of the engine counters.
type StatsSnapshot struct {
	Puts          int64 `json:"puts"`
	Gets          int64 `json:"gets"`
	Dels          int64 `json:"dels"`
	Flushes       int64 `json:"flushes"`
	Compactions   int64 `json:"compactions"`
	BytesWritten  int64 `json:"bytes_written"`
	MemtableBytes int   `json:"memtable_bytes"`
	TablesByLevel []int `json:"tables_by_level"`
}

// Stats returns a snapshot of the engine counters and level shape.
func (s *Store) Stats() StatsSnapshot {
	snap := StatsSnapshot{
		Puts:         s.stats.Puts.Load(),
		Gets:         s.stats.Gets.Load(),
		Dels:         s.stats.Dels.Load(),
		Flushes:      s.stats.Flushes.Load(),
		Compactions:  s.stats.Compactions.Load(),
		BytesWritten: s.stats.BytesWritten.Load(),
	}
	s.rw.RLock()
	snap.MemtableBytes = s.mem.bytes
	s.rw.RUnlock()
	s.levelsMu.RLock()
	for _, lvl := range s.levels {
		snap.TablesByLevel = append(snap.TablesByLevel, len(lvl.tables))
	}
	s.levelsMu.RUnlock()
	return snap
}

// levelCount returns the number of tables currently in a level.
func (s *Store) levelCount(level int) int {
	s.levelsMu.RLock()
	defer s.levelsMu.RUnlock()
	if level >= len(s.levels) {
		return 0
	}
	return len(s.levels[level].tables)
}

// levelSnapshot copies a level's descriptor slice in ascending
// (timestamp, minKey) order.
func (s *Store) levelSnapshot(level int) []*sstable {
	s.levelsMu.RLock()
	defer s.levelsMu.RUnlock()
	if level >= len(s.levels) {
		return nil
	}
	return append([]*sstable(nil), s.levels[level].tables...)
}

// snapshotLevels copies every level's descriptor slice.
func (s *Store) snapshotLevels() [][]*sstable {
	s.levelsMu.RLock()
	defer s.levelsMu.RUnlock()
	out := make([][]*sstable, len(s.levels))
	for i, lvl := range s.levels {
		out[i] = append([]*sstable(nil), lvl.tables...)
	}
	return out
}

// addTable inserts a descriptor into a level, keeping the slice sorted.
func (s *Store) addTable(level int, t *sstable) {
	s.levelsMu.Lock()
	defer s.levelsMu.Unlock()
	lvl := s.levels[level]
	i := sort.Search(len(lvl.tables), func(i int) bool { return !lvl.tables[i].less(t) })
	lvl.tables = append(lvl.tables, nil)
	copy(lvl.tables[i+1:], lvl.tables[i:])
	lvl.tables[i] = t
	s.observeLevelSizes()
}

// removeTables drops the given descriptors from a level.
func (s *Store) removeTables(level int, drop []*sstable) {
	if len(drop) == 0 {
		return
	}
	dropSet := make(map[*sstable]struct{}, len(drop))
	for _, t := range drop {
		dropSet[t] = struct{}{}
	}
	s.levelsMu.Lock()
	defer s.levelsMu.Unlock()
	lvl := s.levels[level]
	kept := lvl.tables[:0:0]
	for _, t := range lvl.tables {
		if _, ok := dropSet[t]; !ok {
			kept = append(kept, t)
		}
	}
	lvl.tables = kept
	s.observeLevelSizes()
}

// ensureLevel extends the levels slice so index level exists.
// Callers are compaction, holding the monitor, and loadLevels, before the
// store is returned to its user.
func (s *Store) ensureLevel(level int) {
	s.levelsMu.Lock()
	defer s.levelsMu.Unlock()
	for len(s.levels) <= level {
		s.levels = append(s.levels, &tableLevel{})
	}
}

// observeLevelSizes exports per-level table counts. Caller holds levelsMu.
func (s *Store) observeLevelSizes() {
	if s.metrics == nil {
		return
	}
	for i, lvl := range s.levels {
		s.metrics.TablesPerLevel.WithLabelValues(levelLabel(i)).Set(float64(len(lvl.tables)))
	}
}
