package lsm

import (
	"github.com/dd0wney/cluso-kv/pkg/logging"
	"github.com/dd0wney/cluso-kv/pkg/metrics"
)

// Tombstone is the sentinel value that marks a deleted key. It is written
// through the normal Put path and filtered back to "absent" on every lookup;
// it never reaches callers.
const Tombstone = "~DELETED~"

const (
	// MaxTableBytes is the serialized-size cap for the memtable and for each
	// table emitted by compaction (2 MiB).
	MaxTableBytes = 1 << 21

	// tableHeaderSize covers time_stamp, pair_count, min_key, max_key.
	tableHeaderSize = 8 + 8 + 8 + 8

	// bloomFilterBits is the fixed filter width; bloomFilterBytes is its
	// on-disk footprint.
	bloomFilterBits  = 81920
	bloomFilterBytes = bloomFilterBits / 8

	// tablePrefixSize is the fixed cost of everything before the index area:
	// header plus Bloom filter (10272 bytes). A fresh memtable's projected
	// size starts here.
	tablePrefixSize = tableHeaderSize + bloomFilterBytes

	// indexEntrySize is one {key: i64, offset: u32} index entry.
	indexEntrySize = 8 + 4

	// DefaultCacheCapacity is the value cache capacity in entries.
	DefaultCacheCapacity = 100

	// DefaultWorkers is the task pool size backing PutTask/GetTask/DelTask.
	DefaultWorkers = 4
)

// maxTablesForLevel returns the table-count cap for a level: 2^(level+1).
func maxTablesForLevel(level int) int {
	return 1 << (level + 1)
}

// Options configures a Store.
type Options struct {
	// Dir is the root directory holding level0/, level1/, ...
	Dir string

	// MemtableBytes overrides the serialized-size cap for the memtable and
	// for each table emitted by compaction. Defaults to MaxTableBytes.
	MemtableBytes int

	// CachePolicy selects the value-cache eviction policy: "lru", "lfu",
	// "fifo" or "none". Defaults to "lru".
	CachePolicy string

	// CacheCapacity is the value cache capacity in entries.
	// Defaults to DefaultCacheCapacity.
	CacheCapacity int

	// Workers is the async task pool size. Defaults to DefaultWorkers.
	Workers int

	// Logger receives engine events. Defaults to a no-op logger.
	Logger logging.Logger

	// Metrics, when non-nil, receives engine instrumentation.
	Metrics *metrics.Registry
}

// DefaultOptions returns the standard engine configuration for dir.
func DefaultOptions(dir string) Options {
	return Options{
		Dir:           dir,
		MemtableBytes: MaxTableBytes,
		CachePolicy:   "lru",
		CacheCapacity: DefaultCacheCapacity,
		Workers:       DefaultWorkers,
	}
}

func (o *Options) withDefaults() Options {
	opts := *o
	if opts.MemtableBytes <= 0 {
		opts.MemtableBytes = MaxTableBytes
	}
	if opts.CachePolicy == "" {
		opts.CachePolicy = "lru"
	}
	if opts.CacheCapacity <= 0 {
		opts.CacheCapacity = DefaultCacheCapacity
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return opts
}
