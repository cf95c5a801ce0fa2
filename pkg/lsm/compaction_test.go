package lsm

import (
	"fmt"
	"os"
	"strings"
	"testing"
)

// listTableFiles returns the set of "levelN/SSTableM.sst" names on disk.
func listTableFiles(t *testing.T, dir string) map[string]struct{} {
	t.Helper()
	files := make(map[string]struct{})
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir failed: %v", err)
	}
	for _, ent := range entries {
		if !ent.IsDir() || !strings.HasPrefix(ent.Name(), "level") {
			continue
		}
		inner, err := os.ReadDir(dir + "/" + ent.Name())
		if err != nil {
			t.Fatalf("readdir failed: %v", err)
		}
		for _, f := range inner {
			files[ent.Name()+"/"+f.Name()] = struct{}{}
		}
	}
	return files
}

// Ingest enough keys to force several flushes and at least two rounds of
// major compaction, then verify the newest write wins everywhere, the
// level caps hold, and no table file name is ever reused.
func TestCompactionAcrossLevels(t *testing.T) {
	dir := t.TempDir()
	s := newSmallStore(t, dir)
	defer s.Close()

	model := make(map[int64]string)
	seen := make(map[string]struct{})
	vanished := make(map[string]struct{})

	observeFiles := func() {
		now := listTableFiles(t, dir)
		for name := range seen {
			if _, ok := now[name]; !ok {
				vanished[name] = struct{}{}
			}
		}
		for name := range now {
			if _, gone := vanished[name]; gone {
				t.Fatalf("table file name %s was reused after deletion", name)
			}
			seen[name] = struct{}{}
		}
	}

	const n = 2000
	for i := 0; i < n; i++ {
		key := int64(i % 600) // plenty of overwrites across flush boundaries
		val := fmt.Sprintf("value-%d-round-%d", key, i/600)
		if err := s.Put(key, []byte(val), true); err != nil {
			t.Fatalf("Put(%d) failed: %v", key, err)
		}
		model[key] = val
		if i%50 == 0 {
			s.waitIdle()
			observeFiles()
		}
	}
	for i := int64(0); i < 600; i += 3 {
		if err := s.Del(i, true); err != nil {
			t.Fatalf("Del(%d) failed: %v", i, err)
		}
		delete(model, i)
	}
	s.waitIdle()
	observeFiles()

	if s.stats.Compactions.Load() < 2 {
		t.Fatalf("only %d major compactions ran, want at least 2", s.stats.Compactions.Load())
	}

	// Level caps hold once compaction has settled.
	for level, count := range s.Stats().TablesByLevel {
		if count > maxTablesForLevel(level) {
			t.Errorf("level %d holds %d tables, cap is %d", level, count, maxTablesForLevel(level))
		}
	}

	// Sample the whole key space: last write (or delete) wins.
	for i := int64(0); i < 600; i += 9 {
		got, ok := s.Get(i)
		want, exists := model[i]
		if exists != ok {
			t.Fatalf("Get(%d) present=%v, want %v", i, ok, exists)
		}
		if exists && string(got) != want {
			t.Fatalf("Get(%d) = %q, want %q", i, got, want)
		}
	}
}

// Deleting every key and compacting into the deepest level must strip the
// tombstones from disk entirely.
func TestCompactionStripsTombstonesAtDeepestLevel(t *testing.T) {
	dir := t.TempDir()
	s := newSmallStore(t, dir)
	defer s.Close()

	const n = 300
	for i := 0; i < n; i++ {
		s.Put(int64(i), []byte(fmt.Sprintf("doomed-%d", i)), true)
	}
	for i := 0; i < n; i++ {
		s.Del(int64(i), true)
	}
	// Push the tombstones through to the deepest level.
	for i := 0; i < n; i++ {
		s.Put(int64(i+10_000), []byte("filler-to-force-more-flushes"), true)
	}
	s.waitIdle()

	for i := 0; i < n; i++ {
		if _, ok := s.Get(int64(i)); ok {
			t.Fatalf("deleted key %d still visible", i)
		}
	}

	levels := s.snapshotLevels()
	if len(levels) < 2 {
		t.Skip("ingest did not reach a second level")
	}
	for _, tbl := range levels[len(levels)-1] {
		entries, err := tbl.traverse()
		if err != nil {
			t.Fatalf("traverse failed: %v", err)
		}
		for _, e := range entries {
			if e.val == Tombstone {
				t.Fatalf("tombstone for key %d survived in deepest level table %s", e.key, tbl.path)
			}
		}
	}
}

// The merge must prefer the newer source on key collisions, including
// collisions between the selected tables and overlapping target-level
// tables.
func TestMergeSourcesNewestWins(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	// Three sources, ascending timestamp order: index 2 is newest.
	sources := [][]tableEntry{
		{{1, "old-1"}, {2, "old-2"}, {5, "old-5"}},
		{{2, "mid-2"}, {3, "mid-3"}},
		{{1, "new-1"}, {3, "new-3"}, {9, "new-9"}},
	}

	s.mu.Lock()
	s.ensureLevel(1)
	if err := os.MkdirAll(levelDir(s.dir, 1), 0o755); err != nil {
		t.Fatal(err)
	}
	err := s.mergeSources(1, false, 42, sources)
	s.mu.Unlock()
	if err != nil {
		t.Fatalf("mergeSources failed: %v", err)
	}

	tables := s.levelSnapshot(1)
	if len(tables) != 1 {
		t.Fatalf("merge produced %d tables, want 1", len(tables))
	}
	entries, err := tables[0].traverse()
	if err != nil {
		t.Fatalf("traverse failed: %v", err)
	}

	want := []tableEntry{
		{1, "new-1"}, {2, "mid-2"}, {3, "new-3"}, {5, "old-5"}, {9, "new-9"},
	}
	if len(entries) != len(want) {
		t.Fatalf("merge produced %d entries, want %d: %+v", len(entries), len(want), entries)
	}
	for i, e := range entries {
		if e != want[i] {
			t.Errorf("entry %d = %+v, want %+v", i, e, want[i])
		}
	}
	if tables[0].timestamp != 42 {
		t.Errorf("output timestamp = %d, want 42", tables[0].timestamp)
	}
}

// A merge flagged as writing the deepest level drops tombstones; one that
// is not keeps them for deeper levels to resolve.
func TestMergeSourcesTombstoneHandling(t *testing.T) {
	for _, lastLevel := range []bool{true, false} {
		s := newTestStore(t)

		sources := [][]tableEntry{
			{{1, "kept"}, {2, Tombstone}},
		}
		s.mu.Lock()
		s.ensureLevel(1)
		if err := os.MkdirAll(levelDir(s.dir, 1), 0o755); err != nil {
			t.Fatal(err)
		}
		err := s.mergeSources(1, lastLevel, 1, sources)
		s.mu.Unlock()
		if err != nil {
			t.Fatalf("mergeSources failed: %v", err)
		}

		entries, err := s.levelSnapshot(1)[0].traverse()
		if err != nil {
			t.Fatalf("traverse failed: %v", err)
		}
		wantLen := 2
		if lastLevel {
			wantLen = 1
		}
		if len(entries) != wantLen {
			t.Errorf("lastLevel=%v: %d entries, want %d", lastLevel, len(entries), wantLen)
		}
		s.Close()
	}
}

// Output tables are cut at the size cap, and the entry that overflowed a
// table opens the next one.
func TestMergeSourcesSplitsOutput(t *testing.T) {
	opts := DefaultOptions(t.TempDir())
	opts.MemtableBytes = tablePrefixSize + 100
	s, err := New(opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer s.Close()

	var source []tableEntry
	for i := int64(0); i < 20; i++ {
		source = append(source, tableEntry{key: i, val: strings.Repeat("x", 20)})
	}

	s.mu.Lock()
	s.ensureLevel(1)
	if err := os.MkdirAll(levelDir(s.dir, 1), 0o755); err != nil {
		t.Fatal(err)
	}
	err = s.mergeSources(1, false, 1, [][]tableEntry{source})
	s.mu.Unlock()
	if err != nil {
		t.Fatalf("mergeSources failed: %v", err)
	}

	tables := s.levelSnapshot(1)
	if len(tables) < 2 {
		t.Fatalf("merge produced %d tables, want a split", len(tables))
	}

	var total int
	for _, tbl := range tables {
		entries, err := tbl.traverse()
		if err != nil {
			t.Fatalf("traverse failed: %v", err)
		}
		total += len(entries)
	}
	if total != len(source) {
		t.Errorf("split tables hold %d entries, want %d", total, len(source))
	}
}
