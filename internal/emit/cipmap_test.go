package emit

import "testing"

func TestCipMapBuilderEnforcesMonotonicity(t *testing.T) {
	b := &CipMapBuilder{}
	if err := b.Record(4, 0); err != nil {
		t.Fatal(err)
	}
	if err := b.Record(8, 1); err != nil {
		t.Fatal(err)
	}
	if err := b.Record(8, 2); err == nil {
		t.Fatal("expected an error recording a non-increasing native pc")
	}
	if err := b.Record(3, 2); err == nil {
		t.Fatal("expected an error recording a backward native pc")
	}
}

func TestCipMapBuilderEntriesReturnsACopy(t *testing.T) {
	b := &CipMapBuilder{}
	_ = b.Record(1, 0)
	entries := b.Entries()
	entries[0].Cip = 99
	if b.Entries()[0].Cip == 99 {
		t.Error("mutating the returned slice affected the builder's internal state")
	}
}

func TestLookupFindsNearestAtOrBefore(t *testing.T) {
	entries := []CipMapEntry{
		{NativePC: 10, Cip: 1},
		{NativePC: 20, Cip: 2},
		{NativePC: 30, Cip: 3},
	}
	cases := []struct {
		pc      int
		wantCip int
		wantOK  bool
	}{
		{5, 0, false},
		{10, 1, true},
		{15, 1, true},
		{29, 2, true},
		{30, 3, true},
		{100, 3, true},
	}
	for _, c := range cases {
		cip, ok := Lookup(entries, c.pc)
		if ok != c.wantOK || (ok && cip != c.wantCip) {
			t.Errorf("Lookup(%d) = (%d, %v), want (%d, %v)", c.pc, cip, ok, c.wantCip, c.wantOK)
		}
	}
}
