package lsm

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/dd0wney/cluso-kv/pkg/logging"
)

// minorCompaction flushes the immutable memtable to a new level-0 table and
// then lets major compaction restore the level caps. Runs on its own
// goroutine; the monitor serializes it against rotation, shutdown, and
// readers waiting on the on-disk scan.
func (s *Store) minorCompaction() {
	s.mu.Lock()
	s.mode = modeCompact
	defer func() {
		s.imm = nil
		s.mode = modeNormal
		s.mu.Unlock()
		s.cond.Broadcast()
	}()

	start := time.Now()

	if err := os.MkdirAll(levelDir(s.dir, 0), 0o755); err != nil {
		s.logger.Error("minor compaction failed", logging.Error(err))
		return
	}

	s.levels[0].counter++
	path := tablePath(s.dir, 0, s.levels[0].counter)
	s.stamp++
	if err := s.imm.store(path, s.stamp); err != nil {
		s.logger.Error("minor compaction failed", logging.Error(err))
		return
	}

	t, err := openTable(path)
	if err != nil {
		s.logger.Error("minor compaction failed", logging.Error(err))
		return
	}
	s.addTable(0, t)

	s.stats.Flushes.Add(1)
	if s.metrics != nil {
		s.metrics.FlushesTotal.Inc()
	}
	s.logger.Debug("memtable flushed",
		logging.String("path", path),
		logging.Uint64("pairs", t.pairCount),
		logging.Duration("took", time.Since(start)))

	if err := s.majorCompaction(1); err != nil {
		s.logger.Error("major compaction failed", logging.Error(err))
	}
}

// majorCompaction merges level-1 content downward while level (level-1)
// holds more tables than its cap, recursing until every level is within
// bounds. Caller holds the monitor.
//
// Selection: level 0 is emptied entirely; deeper levels shed only the
// overflow, taking tables in ascending (timestamp, minKey) order. Tables in
// the target level whose key ranges overlap the selection are merged too.
// The merged output carries the largest timestamp among the selected
// source-level inputs and is cut into tables at the store's configured
// MemtableBytes cap (MaxTableBytes by default).
func (s *Store) majorCompaction(level int) error {
	prev := s.levelSnapshot(level - 1)
	if len(prev) <= maxTablesForLevel(level-1) {
		return nil
	}

	start := time.Now()

	s.ensureLevel(level)
	if err := os.MkdirAll(levelDir(s.dir, level), 0o755); err != nil {
		return fmt.Errorf("compact level %d: %w", level, err)
	}

	// Tombstones are dropped only when writing into the deepest level that
	// exists at this point: nothing below could still hold older versions.
	s.levelsMu.RLock()
	lastLevel := level == len(s.levels)-1
	s.levelsMu.RUnlock()

	compactCount := len(prev)
	if level-1 != 0 {
		compactCount = len(prev) - maxTablesForLevel(level-1)
	}
	selected := prev[:compactCount]

	tempMin := int64(math.MaxInt64)
	tempMax := int64(math.MinInt64)
	var maxStamp uint64
	for _, t := range selected {
		if t.minKey < tempMin {
			tempMin = t.minKey
		}
		if t.maxKey > tempMax {
			tempMax = t.maxKey
		}
		if t.timestamp > maxStamp {
			maxStamp = t.timestamp
		}
	}

	var overlapping []*sstable
	for _, t := range s.levelSnapshot(level) {
		if t.overlaps(tempMin, tempMax) {
			overlapping = append(overlapping, t)
		}
	}

	inputs := make([]*sstable, 0, len(selected)+len(overlapping))
	inputs = append(inputs, selected...)
	inputs = append(inputs, overlapping...)
	sortTables(inputs)

	// Load every input fully; sources index order is ascending timestamp,
	// so a higher index is newer.
	sources := make([][]tableEntry, len(inputs))
	for i, t := range inputs {
		entries, err := t.traverse()
		if err != nil {
			return fmt.Errorf("compact level %d: %w", level, err)
		}
		sources[i] = entries
	}

	if err := s.mergeSources(level, lastLevel, maxStamp, sources); err != nil {
		return err
	}

	// New descriptors are installed before the merged inputs disappear, so
	// concurrent readers never lose a key.
	s.removeTables(level-1, selected)
	s.removeTables(level, overlapping)
	for _, t := range inputs {
		if err := os.Remove(t.path); err != nil {
			s.logger.Warn("failed to remove merged table",
				logging.String("path", t.path), logging.Error(err))
		}
	}

	s.stats.Compactions.Add(1)
	if s.metrics != nil {
		s.metrics.CompactionsTotal.Inc()
		s.metrics.CompactionDuration.Observe(time.Since(start).Seconds())
	}
	s.logger.Debug("level compacted",
		logging.Int("level", level),
		logging.Int("inputs", len(inputs)),
		logging.Duration("took", time.Since(start)))

	return s.majorCompaction(level + 1)
}

// mergeSources streams the k-way merge of sources into new tables at level.
//
// frontier maps each source's least unconsumed key to the source index, at
// most one key per source. On equal keys across sources, the higher index
// (newer table) wins: advancing a source onto a key claimed by a lower
// index displaces that claim, and the displaced source is re-advanced the
// same way.
func (s *Store) mergeSources(level int, lastLevel bool, stamp uint64, sources [][]tableEntry) error {
	pos := make([]int, len(sources))
	frontier := make(map[int64]int, len(sources))

	var advance func(i int)
	advance = func(i int) {
		for pos[i] < len(sources[i]) {
			key := sources[i][pos[i]].key
			claimed, ok := frontier[key]
			if !ok {
				frontier[key] = i
				return
			}
			if i > claimed {
				frontier[key] = i
				advance(claimed)
				return
			}
			pos[i]++
		}
	}

	// Seed newest-first so initial collisions already favor newer sources.
	for i := len(sources) - 1; i >= 0; i-- {
		advance(i)
	}

	var out []tableEntry
	size := tablePrefixSize

	flush := func() error {
		s.levels[level].counter++
		path := tablePath(s.dir, level, s.levels[level].counter)
		if err := writeTable(path, stamp, out); err != nil {
			return fmt.Errorf("compact level %d: %w", level, err)
		}
		t, err := openTable(path)
		if err != nil {
			return fmt.Errorf("compact level %d: %w", level, err)
		}
		s.addTable(level, t)
		return nil
	}

	for len(frontier) > 0 {
		key := int64(math.MaxInt64)
		index := -1
		for k, i := range frontier {
			if index == -1 || k < key {
				key, index = k, i
			}
		}

		val := sources[index][pos[index]].val
		if !lastLevel || val != Tombstone {
			size += len(val) + 1 + indexEntrySize
			if size > s.memtableBytes && len(out) > 0 {
				if err := flush(); err != nil {
					return err
				}
				out = nil
				size = tablePrefixSize + len(val) + 1 + indexEntrySize
			}
			out = append(out, tableEntry{key: key, val: val})
		}

		delete(frontier, key)
		pos[index]++
		advance(index)
	}

	if len(out) > 0 {
		return flush()
	}
	return nil
}
