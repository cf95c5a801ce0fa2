package lsm

import "testing"

func TestBloomNoFalseNegatives(t *testing.T) {
	var f bloomFilter
	for i := int64(0); i < 1000; i++ {
		f.add(i * 7919)
	}
	for i := int64(0); i < 1000; i++ {
		if !f.mayContain(i * 7919) {
			t.Fatalf("false negative for key %d", i*7919)
		}
	}
}

func TestBloomAbsentKeysMostlyRejected(t *testing.T) {
	var f bloomFilter
	for i := int64(0); i < 1000; i++ {
		f.add(i)
	}

	// ~4000 bits set out of 81920: the false-positive rate is tiny.
	falsePositives := 0
	for i := int64(1_000_000); i < 1_001_000; i++ {
		if f.mayContain(i) {
			falsePositives++
		}
	}
	if falsePositives > 50 {
		t.Errorf("%d/1000 false positives, expected far fewer", falsePositives)
	}
}

func TestBloomEmptyFilterRejectsEverything(t *testing.T) {
	var f bloomFilter
	for i := int64(-10); i < 10; i++ {
		if f.mayContain(i) {
			t.Errorf("empty filter claimed to contain %d", i)
		}
	}
}

func TestBloomPositions(t *testing.T) {
	a := bloomPositions(12345)
	b := bloomPositions(12345)
	if a != b {
		t.Fatal("positions not deterministic")
	}
	for _, pos := range a {
		if pos >= bloomFilterBits {
			t.Fatalf("position %d out of range", pos)
		}
	}
	if a == bloomPositions(12346) {
		t.Error("adjacent keys produced identical positions")
	}
}
