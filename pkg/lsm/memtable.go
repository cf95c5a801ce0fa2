package lsm

import (
	"math"
	"math/rand/v2"
)

// node is one skip-list cell. Each key occupies a tower of nodes linked
// right (same level) and down (next level); the leftmost column is a chain
// of sentinel heads.
type node struct {
	key   int64
	val   string
	right *node
	down  *node
	head  bool
}

// memtable is the in-memory write buffer: a skip list ordered by key, plus
// the bookkeeping needed to serialize it as a level-0 table. bytes is the
// projected on-disk size of the table this memtable would produce; it starts
// at the fixed header-plus-filter cost and is maintained by the engine's
// write path.
type memtable struct {
	head   *node
	count  uint64
	bytes  int
	minKey int64
	maxKey int64
}

func newMemtable() *memtable {
	return &memtable{
		head:   &node{head: true},
		bytes:  tablePrefixSize,
		minKey: math.MaxInt64,
		maxKey: math.MinInt64,
	}
}

// get returns the value stored under key, or "" if the key is absent.
func (m *memtable) get(key int64) string {
	for p := m.head; p != nil; p = p.down {
		for p.right != nil && p.right.key < key {
			p = p.right
		}
		if p.right != nil && p.right.key == key {
			return p.right.val
		}
	}
	return ""
}

// put inserts or overwrites key. An existing key is overwritten at every
// level of its tower; a new key is inserted at the base level and promoted
// upward with probability 1/2 per level, growing a new top level when a
// promotion outruns the current height.
func (m *memtable) put(key int64, val string) {
	if key < m.minKey {
		m.minKey = key
	}
	if key > m.maxKey {
		m.maxKey = key
	}

	// Record the rightmost node <= key on each level, top to bottom.
	preds := make([]*node, 0, 8)
	for p := m.head; p != nil; p = p.down {
		for p.right != nil && p.right.key <= key {
			p = p.right
		}
		preds = append(preds, p)
	}

	// Existing key: the base-level predecessor is the key's own node.
	if base := preds[len(preds)-1]; !base.head && base.key == key {
		for i := len(preds) - 1; i >= 0; i-- {
			if p := preds[i]; !p.head && p.key == key {
				p.val = val
			} else {
				break
			}
		}
		return
	}

	m.count++
	var down *node
	promote := true
	for i := len(preds) - 1; promote && i >= 0; i-- {
		pred := preds[i]
		pred.right = &node{key: key, val: val, right: pred.right, down: down}
		down = pred.right
		promote = rand.Uint64()&1 == 1
	}
	if promote {
		m.head = &node{
			head:  true,
			right: &node{key: key, val: val, down: down},
			down:  m.head,
		}
	}
}

// walk visits every pair in ascending key order.
func (m *memtable) walk(fn func(key int64, val string)) {
	base := m.head
	for base.down != nil {
		base = base.down
	}
	for n := base.right; n != nil; n = n.right {
		fn(n.key, n.val)
	}
}

// store serializes the memtable to path in the table file layout. The
// timestamp is assigned by the engine at flush time.
func (m *memtable) store(path string, timestamp uint64) error {
	entries := make([]tableEntry, 0, m.count)
	m.walk(func(key int64, val string) {
		entries = append(entries, tableEntry{key: key, val: val})
	})
	return writeTable(path, timestamp, entries)
}
