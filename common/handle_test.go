package common

import "testing"

func TestHandleTableAllocateGet(t *testing.T) {
	tbl := NewHandleTable[string](4)
	a := tbl.Allocate("a")
	b := tbl.Allocate("b")
	if a == b {
		t.Fatalf("Allocate returned the same handle twice: %v", a)
	}
	if v := tbl.Get(a); v == nil || *v != "a" {
		t.Fatalf("Get(a)\nhave %v\nwant a", v)
	}
	if v := tbl.Get(b); v == nil || *v != "b" {
		t.Fatalf("Get(b)\nhave %v\nwant b", v)
	}
	if n := tbl.Len(); n != 2 {
		t.Fatalf("Len\nhave %d\nwant 2", n)
	}
}

func TestHandleTableStaleHandle(t *testing.T) {
	tbl := NewHandleTable[int](0)
	old := tbl.Allocate(1)
	if !tbl.Release(old) {
		t.Fatal("Release of a live handle returned false")
	}
	if tbl.Release(old) {
		t.Fatal("second Release of the same handle returned true")
	}

	reused := tbl.Allocate(2)
	if reused.Index != old.Index {
		t.Fatalf("free slot not reused\nhave index %d\nwant %d", reused.Index, old.Index)
	}
	if reused.Generation == old.Generation {
		t.Fatalf("generation not bumped on release: %d", reused.Generation)
	}
	if v := tbl.Get(old); v != nil {
		t.Fatalf("stale handle resolved to %v", *v)
	}
	if v := tbl.Get(reused); v == nil || *v != 2 {
		t.Fatalf("Get(reused)\nhave %v\nwant 2", v)
	}
}

func TestHandleTableZeroHandle(t *testing.T) {
	tbl := NewHandleTable[int](0)
	tbl.Allocate(7)
	var zero Handle
	if !zero.IsZero() {
		t.Fatal("zero handle does not report IsZero")
	}
	if tbl.Get(zero) != nil {
		t.Fatal("zero handle resolved")
	}
	if tbl.Get(Handle{Index: 99, Generation: 1}) != nil {
		t.Fatal("out of range handle resolved")
	}
}

func TestHandleTableForEach(t *testing.T) {
	tbl := NewHandleTable[int](0)
	hs := make([]Handle, 5)
	for i := range hs {
		hs[i] = tbl.Allocate(i)
	}
	tbl.Release(hs[2])

	var seen []int
	tbl.ForEach(func(h Handle, v *int) bool {
		seen = append(seen, *v)
		return true
	})
	want := []int{0, 1, 3, 4}
	if len(seen) != len(want) {
		t.Fatalf("ForEach\nhave %v\nwant %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("ForEach\nhave %v\nwant %v", seen, want)
		}
	}

	n := 0
	tbl.ForEach(func(Handle, *int) bool {
		n++
		return n < 2
	})
	if n != 2 {
		t.Fatalf("ForEach did not stop early\nhave %d visits\nwant 2", n)
	}
}
