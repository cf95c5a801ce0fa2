package lsm

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/dd0wney/cluso-kv/pkg/cache"
	"github.com/dd0wney/cluso-kv/pkg/logging"
	"github.com/dd0wney/cluso-kv/pkg/workers"
)

// New creates a Store over an empty on-disk state: any existing level
// directories under opts.Dir are wiped first. Use Open to load an existing
// store.
func New(opts Options) (*Store, error) {
	s, err := newStore(opts)
	if err != nil {
		return nil, err
	}
	if err := s.Reset(); err != nil {
		return nil, fmt.Errorf("wipe store: %w", err)
	}
	return s, nil
}

// Open creates a Store and loads the level directories already present
// under opts.Dir: table descriptors, per-level file counters, and the
// timestamp counter are restored from disk.
func Open(opts Options) (*Store, error) {
	s, err := newStore(opts)
	if err != nil {
		return nil, err
	}
	if err := s.loadLevels(); err != nil {
		return nil, err
	}
	return s, nil
}

func newStore(opts Options) (*Store, error) {
	opts = opts.withDefaults()
	if opts.Dir == "" {
		return nil, fmt.Errorf("store directory is required")
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	s := &Store{
		mem:           newMemtable(),
		dir:           opts.Dir,
		memtableBytes: opts.MemtableBytes,
		levels:        []*tableLevel{{}},
		pool:          workers.NewPool(opts.Workers),
		logger:        opts.Logger,
		metrics:       opts.Metrics,
	}
	s.cond = sync.NewCond(&s.mu)

	if opts.CachePolicy != "none" {
		policy, err := cachePolicy(opts.CachePolicy)
		if err != nil {
			return nil, err
		}
		c, err := cache.New[int64, string](opts.CacheCapacity, policy)
		if err != nil {
			return nil, err
		}
		s.cache = c
	}

	return s, nil
}

func cachePolicy(name string) (cache.Policy[int64], error) {
	switch name {
	case "lru":
		return cache.NewLRU[int64](), nil
	case "lfu":
		return cache.NewLFU[int64](), nil
	case "fifo":
		return cache.NewFIFO[int64](), nil
	case "nop":
		return cache.NewNop[int64](), nil
	default:
		return nil, fmt.Errorf("unknown cache policy %q", name)
	}
}

// loadLevels rebuilds the in-memory level state from the level directories
// on disk.
func (s *Store) loadLevels() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("scan store directory: %w", err)
	}

	maxLevel := -1
	for _, ent := range entries {
		if lvl, ok := parseLevelDir(ent); ok && lvl > maxLevel {
			maxLevel = lvl
		}
	}

	for level := 0; level <= maxLevel; level++ {
		s.ensureLevel(level)
		files, err := os.ReadDir(levelDir(s.dir, level))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("scan level %d: %w", level, err)
		}
		for _, f := range files {
			counter, ok := parseTableName(f.Name())
			if !ok {
				continue
			}
			t, err := openTable(filepath.Join(levelDir(s.dir, level), f.Name()))
			if err != nil {
				return err
			}
			s.addTable(level, t)
			if counter > s.levels[level].counter {
				s.levels[level].counter = counter
			}
			if t.timestamp > s.stamp {
				s.stamp = t.timestamp
			}
		}
	}
	return nil
}

func parseLevelDir(ent os.DirEntry) (int, bool) {
	if !ent.IsDir() || !strings.HasPrefix(ent.Name(), "level") {
		return 0, false
	}
	lvl, err := strconv.Atoi(strings.TrimPrefix(ent.Name(), "level"))
	if err != nil || lvl < 0 {
		return 0, false
	}
	return lvl, true
}

func parseTableName(name string) (int, bool) {
	if !strings.HasPrefix(name, "SSTable") || !strings.HasSuffix(name, ".sst") {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "SSTable"), ".sst"))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// Put stores value under key. Empty values are rejected: an empty lookup
// result is reserved for "absent". When toCache is set the value is also
// installed in the value cache.
func (s *Store) Put(key int64, value []byte, toCache bool) error {
	if len(value) == 0 {
		return ErrEmptyValue
	}
	if err := s.put(key, string(value), toCache); err != nil {
		return err
	}
	s.stats.Puts.Add(1)
	s.stats.BytesWritten.Add(int64(len(value)))
	if s.metrics != nil {
		s.metrics.EngineOpsTotal.WithLabelValues("put").Inc()
	}
	return nil
}

func (s *Store) put(key int64, val string, toCache bool) error {
	s.rw.Lock()
	defer s.rw.Unlock()

	s.mu.Lock()
	if s.mode == modeExits {
		s.mu.Unlock()
		return ErrClosed
	}
	s.mu.Unlock()

	// Adjust the projected serialized size before inserting: an overwrite
	// changes only the value bytes, a new key also costs its terminator and
	// index entry.
	if cur := s.mem.get(key); cur != "" {
		s.mem.bytes += len(val) - len(cur)
	} else {
		s.mem.bytes += len(val) + 1 + indexEntrySize
	}

	if s.mem.bytes > s.memtableBytes {
		s.mu.Lock()
		// A prior immutable memtable must finish flushing before the next
		// rotation.
		for s.imm != nil {
			s.cond.Wait()
		}
		s.imm = s.mem
		s.mem = newMemtable()
		// Pre-charge the fresh memtable for the pending insertion.
		s.mem.bytes += len(val) + 1 + indexEntrySize
		s.mu.Unlock()
		go s.minorCompaction()
	}

	s.mem.put(key, val)

	if toCache && s.cache != nil && val != Tombstone {
		s.cache.Put(key, val)
	}

	if s.metrics != nil {
		s.metrics.MemtableBytes.Set(float64(s.mem.bytes))
	}
	return nil
}

// Get returns the value stored under key. The second result is false when
// the key was never stored or its latest version is a tombstone.
//
// Lookup order: value cache, memtable, immutable memtable, then each
// level's tables scanned newest first. The first hit wins; a tombstone hit
// is surfaced as absence.
func (s *Store) Get(key int64) ([]byte, bool) {
	s.rw.RLock()
	defer s.rw.RUnlock()

	s.stats.Gets.Add(1)
	if s.metrics != nil {
		s.metrics.EngineOpsTotal.WithLabelValues("get").Inc()
	}

	if s.cache != nil {
		if val, err := s.cache.Get(key); err == nil {
			if s.metrics != nil {
				s.metrics.CacheHitsTotal.Inc()
			}
			return []byte(val), true
		}
		if s.metrics != nil {
			s.metrics.CacheMissesTotal.Inc()
		}
	}

	if val := s.mem.get(key); val != "" {
		return liveValue(val)
	}

	s.mu.Lock()
	imm := s.imm
	s.mu.Unlock()
	if imm != nil {
		if val := imm.get(key); val != "" {
			return liveValue(val)
		}
		// The key may be mid-flight to level 0; wait for the running
		// compaction before trusting the on-disk scan.
		s.mu.Lock()
		for s.mode == modeCompact {
			s.cond.Wait()
		}
		s.mu.Unlock()
	}

	for _, tables := range s.snapshotLevels() {
		// Newest table wins inside a level.
		for i := len(tables) - 1; i >= 0; i-- {
			val, err := tables[i].getValue(key)
			if err != nil {
				// The table may have been removed by a racing compaction;
				// its replacement is already installed.
				s.logger.Warn("table read failed",
					logging.String("path", tables[i].path),
					logging.Error(err))
				continue
			}
			if val != "" {
				return liveValue(val)
			}
		}
	}

	return nil, false
}

// liveValue maps a raw stored value to the public lookup result, folding
// tombstones into absence.
func liveValue(val string) ([]byte, bool) {
	if val == Tombstone {
		return nil, false
	}
	return []byte(val), true
}

// Del installs a tombstone under key. When toCache is set the key is also
// dropped from the value cache.
func (s *Store) Del(key int64, toCache bool) error {
	if err := s.put(key, Tombstone, false); err != nil {
		return err
	}
	if toCache && s.cache != nil {
		s.cache.Remove(key)
	}
	s.stats.Dels.Add(1)
	if s.metrics != nil {
		s.metrics.EngineOpsTotal.WithLabelValues("del").Inc()
	}
	return nil
}

// Reset deletes every level directory under the store root: all non-dot
// files inside each levelN/ directory, then the directory itself.
// In-memory state is untouched.
func (s *Store) Reset() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("scan store directory: %w", err)
	}
	for _, ent := range entries {
		if _, ok := parseLevelDir(ent); !ok {
			continue
		}
		dir := filepath.Join(s.dir, ent.Name())
		files, err := os.ReadDir(dir)
		if err != nil {
			return fmt.Errorf("scan %s: %w", dir, err)
		}
		for _, f := range files {
			if strings.HasPrefix(f.Name(), ".") {
				continue
			}
			if err := os.Remove(filepath.Join(dir, f.Name())); err != nil {
				return fmt.Errorf("remove %s: %w", f.Name(), err)
			}
		}
		if err := os.Remove(dir); err != nil {
			return fmt.Errorf("remove %s: %w", dir, err)
		}
	}
	return nil
}

// Close drains the task pool, waits for any running compaction, flushes the
// memtable to level 0, and runs major compaction if level 0 ended over cap.
// Afterwards Put and Del return ErrClosed and the task wrappers return
// workers.ErrPoolClosed; Get keeps serving from memory and the tables on disk.
func (s *Store) Close() error {
	s.pool.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode == modeExits {
		return nil
	}
	// A pending flush may not have flipped the mode yet; waiting on the
	// immutable slot as well covers the hand-off window.
	for s.mode == modeCompact || s.imm != nil {
		s.cond.Wait()
	}
	s.mode = modeExits

	if s.mem.count > 0 {
		if err := os.MkdirAll(levelDir(s.dir, 0), 0o755); err != nil {
			return fmt.Errorf("close: %w", err)
		}
		s.levels[0].counter++
		path := tablePath(s.dir, 0, s.levels[0].counter)
		s.stamp++
		if err := s.mem.store(path, s.stamp); err != nil {
			return fmt.Errorf("close: flush memtable: %w", err)
		}
		t, err := openTable(path)
		if err != nil {
			return fmt.Errorf("close: %w", err)
		}
		s.addTable(0, t)
		s.stats.Flushes.Add(1)
		if s.metrics != nil {
			s.metrics.FlushesTotal.Inc()
		}
	}

	if s.levelCount(0) > maxTablesForLevel(0) {
		if err := s.majorCompaction(1); err != nil {
			return fmt.Errorf("close: %w", err)
		}
	}
	return nil
}

// sortTables orders a slice ascending by (timestamp, minKey).
func sortTables(tables []*sstable) {
	sort.Slice(tables, func(i, j int) bool { return tables[i].less(tables[j]) })
}

func levelLabel(level int) string {
	return strconv.Itoa(level)
}
