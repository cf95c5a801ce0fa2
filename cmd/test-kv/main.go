// test-kv is a manual smoke driver for the storage engine: write, read,
// delete, force a flush, close, reopen, and read back.
package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/dd0wney/cluso-kv/pkg/lsm"
)

func main() {
	dir := "./data/test-kv"
	os.RemoveAll(dir)

	fmt.Println("Creating store...")
	opts := lsm.DefaultOptions(dir)
	opts.MemtableBytes = 16 * 1024 // Small cap so a flush happens quickly

	store, err := lsm.New(opts)
	if err != nil {
		log.Fatalf("Failed to create store: %v", err)
	}

	fmt.Println("Writing data...")
	for i := int64(0); i < 200; i++ {
		value := []byte(strings.Repeat("v", int(i%50)+1) + fmt.Sprintf("-%d", i))
		if err := store.Put(i, value, true); err != nil {
			log.Fatalf("Put %d failed: %v", i, err)
		}
	}

	fmt.Println("Reading back...")
	missing := 0
	for i := int64(0); i < 200; i++ {
		if _, ok := store.Get(i); !ok {
			missing++
		}
	}
	fmt.Printf("  %d missing of 200\n", missing)

	fmt.Println("Deleting even keys...")
	for i := int64(0); i < 200; i += 2 {
		if err := store.Del(i, true); err != nil {
			log.Fatalf("Del %d failed: %v", i, err)
		}
	}
	if _, ok := store.Get(0); ok {
		fmt.Println("  key 0 still visible after delete ✗")
	} else {
		fmt.Println("  key 0 gone ✓")
	}

	stats := store.Stats()
	fmt.Printf("Stats: puts=%d gets=%d flushes=%d compactions=%d levels=%v\n",
		stats.Puts, stats.Gets, stats.Flushes, stats.Compactions, stats.TablesByLevel)

	fmt.Println("Closing...")
	if err := store.Close(); err != nil {
		log.Fatalf("Close failed: %v", err)
	}

	fmt.Println("Reopening...")
	store2, err := lsm.Open(opts)
	if err != nil {
		log.Fatalf("Open failed: %v", err)
	}
	defer store2.Close()

	if v, ok := store2.Get(1); ok {
		fmt.Printf("  key 1 after reopen: %q ✓\n", v)
	} else {
		fmt.Println("  key 1 missing after reopen ✗")
	}
	if _, ok := store2.Get(0); ok {
		fmt.Println("  deleted key 0 resurfaced after reopen ✗")
	} else {
		fmt.Println("  deleted key 0 still gone ✓")
	}
}
