package lsm

import (
	"math"
	"path/filepath"
	"testing"
)

func TestMemtablePutGet(t *testing.T) {
	m := newMemtable()

	m.put(1, "one")
	m.put(2, "two")
	m.put(-5, "minus")

	if got := m.get(1); got != "one" {
		t.Errorf("get(1) = %q, want %q", got, "one")
	}
	if got := m.get(-5); got != "minus" {
		t.Errorf("get(-5) = %q, want %q", got, "minus")
	}
	if got := m.get(99); got != "" {
		t.Errorf("get(99) = %q, want empty", got)
	}
	if m.count != 3 {
		t.Errorf("count = %d, want 3", m.count)
	}
}

func TestMemtableOverwrite(t *testing.T) {
	m := newMemtable()

	m.put(7, "a")
	m.put(7, "bbbb")

	if got := m.get(7); got != "bbbb" {
		t.Errorf("get(7) = %q, want %q", got, "bbbb")
	}
	if m.count != 1 {
		t.Errorf("count = %d after overwrite, want 1", m.count)
	}
}

func TestMemtableMinMax(t *testing.T) {
	m := newMemtable()
	if m.minKey != math.MaxInt64 || m.maxKey != math.MinInt64 {
		t.Fatal("fresh memtable min/max not at sentinels")
	}

	m.put(10, "x")
	m.put(-3, "y")
	m.put(4, "z")

	if m.minKey != -3 {
		t.Errorf("minKey = %d, want -3", m.minKey)
	}
	if m.maxKey != 10 {
		t.Errorf("maxKey = %d, want 10", m.maxKey)
	}
}

func TestMemtableWalkOrdered(t *testing.T) {
	m := newMemtable()
	keys := []int64{42, -7, 0, 13, 999, -1000, 5}
	for _, k := range keys {
		m.put(k, "v")
	}

	var walked []int64
	m.walk(func(key int64, val string) {
		walked = append(walked, key)
	})

	if len(walked) != len(keys) {
		t.Fatalf("walk visited %d keys, want %d", len(walked), len(keys))
	}
	for i := 1; i < len(walked); i++ {
		if walked[i-1] >= walked[i] {
			t.Fatalf("walk out of order: %d before %d", walked[i-1], walked[i])
		}
	}
}

func TestMemtableManyKeys(t *testing.T) {
	m := newMemtable()
	for i := int64(0); i < 5000; i++ {
		m.put(i*31%4999, "v")
	}
	for i := int64(0); i < 4999; i++ {
		if m.get(i) == "" {
			t.Fatalf("key %d missing", i)
		}
	}
}

// Storing a memtable and opening the result must round-trip exactly.
func TestMemtableStoreRoundTrip(t *testing.T) {
	m := newMemtable()
	m.put(3, "ccc")
	m.put(1, "a")
	m.put(2, "bb")
	m.put(-9, "negative")

	path := filepath.Join(t.TempDir(), "SSTable1.sst")
	if err := m.store(path, 7); err != nil {
		t.Fatalf("store failed: %v", err)
	}

	tbl, err := openTable(path)
	if err != nil {
		t.Fatalf("openTable failed: %v", err)
	}

	if tbl.timestamp != 7 {
		t.Errorf("timestamp = %d, want 7", tbl.timestamp)
	}
	if tbl.pairCount != 4 {
		t.Errorf("pairCount = %d, want 4", tbl.pairCount)
	}
	if tbl.minKey != -9 || tbl.maxKey != 3 {
		t.Errorf("key bounds = [%d, %d], want [-9, 3]", tbl.minKey, tbl.maxKey)
	}

	entries, err := tbl.traverse()
	if err != nil {
		t.Fatalf("traverse failed: %v", err)
	}
	want := []tableEntry{{-9, "negative"}, {1, "a"}, {2, "bb"}, {3, "ccc"}}
	if len(entries) != len(want) {
		t.Fatalf("traverse returned %d entries, want %d", len(entries), len(want))
	}
	for i, e := range entries {
		if e != want[i] {
			t.Errorf("entry %d = %+v, want %+v", i, e, want[i])
		}
	}
}
