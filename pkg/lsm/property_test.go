package lsm

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestStoreInvariants replays random operation sequences against a plain
// map model. These properties must hold for every valid sequence:
// a put is visible until overwritten or deleted, a delete hides the key
// until the next put, and a never-written key reads as absent.
func TestStoreInvariants(t *testing.T) {
	if testing.Short() {
		t.Skip("property test runs many flush cycles")
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20

	properties := gopter.NewProperties(parameters)

	properties.Property("random op sequences match a map model", prop.ForAll(
		func(seed int64, opCount int) bool {
			rng := rand.New(rand.NewSource(seed))

			opts := DefaultOptions(t.TempDir())
			opts.MemtableBytes = tablePrefixSize + 400 // force flushes mid-sequence
			s, err := New(opts)
			if err != nil {
				t.Logf("New failed: %v", err)
				return false
			}
			defer s.Close()

			const keySpace = 48
			model := make(map[int64]string)

			for i := 0; i < opCount; i++ {
				key := rng.Int63n(keySpace)
				switch rng.Intn(3) {
				case 0, 1:
					val := fmt.Sprintf("v-%d-%d", key, i)
					if err := s.Put(key, []byte(val), true); err != nil {
						t.Logf("Put failed: %v", err)
						return false
					}
					model[key] = val
				case 2:
					if err := s.Del(key, true); err != nil {
						t.Logf("Del failed: %v", err)
						return false
					}
					delete(model, key)
				}
			}

			for key := int64(0); key < keySpace; key++ {
				got, ok := s.Get(key)
				want, exists := model[key]
				if ok != exists {
					t.Logf("key %d: present=%v, model says %v", key, ok, exists)
					return false
				}
				if exists && string(got) != want {
					t.Logf("key %d: got %q, want %q", key, got, want)
					return false
				}
			}
			return true
		},
		gen.Int64(),
		gen.IntRange(50, 400),
	))

	properties.TestingRun(t)
}
