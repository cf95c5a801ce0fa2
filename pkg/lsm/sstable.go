package lsm

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"
)

// sstable is the in-memory descriptor of one immutable on-disk table. The
// header, Bloom filter and full key index are held in memory; values stay on
// disk and are read per lookup. Descriptors order by (timestamp, minKey)
// ascending.
type sstable struct {
	path      string
	timestamp uint64
	pairCount uint64
	minKey    int64
	maxKey    int64
	filter    bloomFilter
	keys      []int64
	offsets   []uint32
	fileSize  int64
}

// openTable reads a table file's metadata and index into a descriptor.
func openTable(path string) (*sstable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open table %s: %w", path, err)
	}
	defer f.Close()

	t := &sstable{path: path}
	r := bufio.NewReader(f)

	for _, field := range []any{&t.timestamp, &t.pairCount, &t.minKey, &t.maxKey} {
		if err := binary.Read(r, binary.LittleEndian, field); err != nil {
			return nil, fmt.Errorf("open table %s: header: %w", path, err)
		}
	}
	if _, err := io.ReadFull(r, t.filter.bits[:]); err != nil {
		return nil, fmt.Errorf("open table %s: filter: %w", path, err)
	}

	t.keys = make([]int64, t.pairCount)
	t.offsets = make([]uint32, t.pairCount)
	for i := uint64(0); i < t.pairCount; i++ {
		if err := binary.Read(r, binary.LittleEndian, &t.keys[i]); err != nil {
			return nil, fmt.Errorf("open table %s: index: %w", path, err)
		}
		if err := binary.Read(r, binary.LittleEndian, &t.offsets[i]); err != nil {
			return nil, fmt.Errorf("open table %s: index: %w", path, err)
		}
	}

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("open table %s: stat: %w", path, err)
	}
	t.fileSize = info.Size()

	return t, nil
}

// less orders descriptors by timestamp, breaking ties by minKey.
func (t *sstable) less(o *sstable) bool {
	if t.timestamp != o.timestamp {
		return t.timestamp < o.timestamp
	}
	return t.minKey < o.minKey
}

// overlaps reports whether the table's key range intersects [min, max].
func (t *sstable) overlaps(min, max int64) bool {
	return t.minKey <= max && t.maxKey >= min
}

// getValue returns the value stored under key, or "" if the table does not
// contain it. The key-range check and Bloom filter short-circuit most
// misses without touching the file.
func (t *sstable) getValue(key int64) (string, error) {
	if key < t.minKey || key > t.maxKey {
		return "", nil
	}
	if !t.filter.mayContain(key) {
		return "", nil
	}

	i := sort.Search(len(t.keys), func(i int) bool { return t.keys[i] >= key })
	if i == len(t.keys) || t.keys[i] != key {
		return "", nil
	}

	start := int64(t.offsets[i])
	end := t.fileSize
	if i+1 < len(t.offsets) {
		end = int64(t.offsets[i+1])
	}

	f, err := os.Open(t.path)
	if err != nil {
		return "", fmt.Errorf("read table %s: %w", t.path, err)
	}
	defer f.Close()

	buf := make([]byte, end-start)
	if _, err := f.ReadAt(buf, start); err != nil {
		return "", fmt.Errorf("read table %s: value at %d: %w", t.path, start, err)
	}
	// Drop the NUL terminator.
	return string(buf[:len(buf)-1]), nil
}

// traverse reads the whole table into memory in ascending key order.
func (t *sstable) traverse() ([]tableEntry, error) {
	if t.pairCount == 0 {
		return nil, nil
	}

	f, err := os.Open(t.path)
	if err != nil {
		return nil, fmt.Errorf("traverse table %s: %w", t.path, err)
	}
	defer f.Close()

	dataStart := int64(t.offsets[0])
	buf := make([]byte, t.fileSize-dataStart)
	if _, err := f.ReadAt(buf, dataStart); err != nil {
		return nil, fmt.Errorf("traverse table %s: data area: %w", t.path, err)
	}

	entries := make([]tableEntry, 0, t.pairCount)
	for i := range t.keys {
		start := int64(t.offsets[i]) - dataStart
		end := int64(len(buf))
		if i+1 < len(t.offsets) {
			end = int64(t.offsets[i+1]) - dataStart
		}
		entries = append(entries, tableEntry{
			key: t.keys[i],
			val: string(buf[start : end-1]),
		})
	}
	return entries, nil
}
