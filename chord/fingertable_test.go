package chord

import (
	"fmt"
	"testing"
)

func peer(id ID) Contact { return Contact{ID: id, Addr: fmt.Sprintf("n%d", id)} }

// sampleTable is node 100 on a 10-bit ring whose other members are 110, 150, 300 and 700.
// Finger starts: 101 102 104 108 116 132 164 228 356 612.
func sampleTable(t *testing.T) *FingerTable {
	t.Helper()
	ft := NewFingerTable(peer(100), 10)
	owners := []ID{110, 110, 110, 110, 150, 150, 300, 300, 700, 700}
	for i, id := range owners {
		if !ft.Update(i+1, peer(id)) {
			t.Fatalf("Update(%d) refused", i+1)
		}
	}
	return ft
}

func TestNewFingerTablePointsAtSelf(t *testing.T) {
	self := peer(42)
	ft := NewFingerTable(self, 8)
	if ft.Len() != 8 {
		t.Fatalf("Len() = %d, want 8", ft.Len())
	}
	for i, e := range ft.Entries() {
		if e != self {
			t.Fatalf("entry %d = %s, want self", i+1, e)
		}
	}
	ft.Fill(peer(7))
	for i, e := range ft.Entries() {
		if e != peer(7) {
			t.Fatalf("after Fill entry %d = %s", i+1, e)
		}
	}
}

func TestUpdateRejectsOutOfRange(t *testing.T) {
	ft := NewFingerTable(peer(1), 10)
	for _, idx := range []int{-1, 0, 11} {
		if ft.Update(idx, peer(9)) {
			t.Fatalf("Update(%d) accepted", idx)
		}
		if _, ok := ft.Entry(idx); ok {
			t.Fatalf("Entry(%d) reported ok", idx)
		}
	}
	if !ft.Update(10, peer(9)) {
		t.Fatal("Update(10) refused")
	}
	if e, _ := ft.Entry(10); e != peer(9) {
		t.Fatalf("Entry(10) = %s", e)
	}
}

func TestFindClosestPreceding(t *testing.T) {
	ft := sampleTable(t)
	cases := []struct {
		target ID
		want   string
	}{
		{105, "n110"}, // first entry owns it
		{110, "n110"},
		{200, "n150"},
		{500, "n300"},
		{700, "n300"},
		{800, "n700"}, // past every entry
		{50, "n700"},
	}
	for _, tc := range cases {
		if got := ft.Find(tc.target); got != tc.want {
			t.Errorf("Find(%d) = %s, want %s", tc.target, got, tc.want)
		}
	}
}

func TestIndexForID(t *testing.T) {
	ft := sampleTable(t)
	cases := []struct {
		id    ID
		index int
		ok    bool
	}{
		{101, 1, true},
		{102, 2, true},
		{103, 3, true},
		{104, 3, true},
		{105, 4, true},
		{300, 9, true},
		{357, 10, true},
		{612, 10, true},
		{613, 0, false}, // second half of the ring, no start covers it
		{100, 0, false}, // self
		{5000, 0, false},
	}
	for _, tc := range cases {
		index, ok := ft.IndexForID(tc.id)
		if index != tc.index || ok != tc.ok {
			t.Errorf("IndexForID(%d) = (%d, %v), want (%d, %v)", tc.id, index, ok, tc.index, tc.ok)
		}
	}
}

func TestRefreshTargets(t *testing.T) {
	ft := sampleTable(t)
	targets := ft.RefreshTargets()
	if len(targets) != 10 {
		t.Fatalf("got %d targets, want 10", len(targets))
	}
	wantStarts := []ID{101, 102, 104, 108, 116, 132, 164, 228, 356, 612}
	for i, tg := range targets {
		if tg.Index != i+1 || tg.Start != wantStarts[i] {
			t.Fatalf("target %d = %+v, want index %d start %d", i, tg, i+1, wantStarts[i])
		}
		e, _ := ft.Entry(i + 1)
		if tg.Addr != e.Addr {
			t.Fatalf("target %d addr %s, want %s", i, tg.Addr, e.Addr)
		}
		// a lookup answer for this start maps back to this slot
		if idx, ok := ft.IndexForID(tg.Start); !ok || idx != tg.Index {
			t.Fatalf("IndexForID(%d) = (%d, %v), want %d", tg.Start, idx, ok, tg.Index)
		}
	}
}
