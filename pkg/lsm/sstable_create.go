package lsm

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
)

// tableEntry is one key-value pair bound for (or read from) a table file.
type tableEntry struct {
	key int64
	val string
}

// levelDir returns the directory holding a level's table files.
func levelDir(root string, level int) string {
	return filepath.Join(root, fmt.Sprintf("level%d", level))
}

// tablePath returns the file path for a table named by its per-level counter.
func tablePath(root string, level, counter int) string {
	return filepath.Join(levelDir(root, level), fmt.Sprintf("SSTable%d.sst", counter))
}

// writeTable writes one table file:
//
//	time_stamp u64 | pair_count u64 | min_key i64 | max_key i64 |
//	bloom filter (10240 bytes) |
//	index: pair_count x {key i64, offset u32}, ascending by key |
//	data: pair_count values in the same order, each NUL-terminated
//
// entries must be non-empty and sorted ascending by key. A value's offset is
// absolute within the file; the value's length is recovered on read from the
// distance to the next offset (or to end of file for the last value).
func writeTable(path string, timestamp uint64, entries []tableEntry) (err error) {
	if len(entries) == 0 {
		return fmt.Errorf("write table %s: no entries", path)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create table %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close table %s: %w", path, cerr)
		}
	}()

	w := bufio.NewWriter(f)

	header := []any{
		timestamp,
		uint64(len(entries)),
		entries[0].key,
		entries[len(entries)-1].key,
	}
	for _, field := range header {
		if err := binary.Write(w, binary.LittleEndian, field); err != nil {
			return fmt.Errorf("write table %s: header: %w", path, err)
		}
	}

	var filter bloomFilter
	for _, e := range entries {
		filter.add(e.key)
	}
	if _, err := w.Write(filter.bits[:]); err != nil {
		return fmt.Errorf("write table %s: filter: %w", path, err)
	}

	offset := uint32(tablePrefixSize + len(entries)*indexEntrySize)
	for _, e := range entries {
		if err := binary.Write(w, binary.LittleEndian, e.key); err != nil {
			return fmt.Errorf("write table %s: index: %w", path, err)
		}
		if err := binary.Write(w, binary.LittleEndian, offset); err != nil {
			return fmt.Errorf("write table %s: index: %w", path, err)
		}
		offset += uint32(len(e.val)) + 1
	}

	for _, e := range entries {
		if _, err := w.WriteString(e.val); err != nil {
			return fmt.Errorf("write table %s: data: %w", path, err)
		}
		if err := w.WriteByte(0); err != nil {
			return fmt.Errorf("write table %s: data: %w", path, err)
		}
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("write table %s: flush: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("write table %s: sync: %w", path, err)
	}
	return nil
}
