package walpointer

import "testing"

func TestNextIsTerminalAndAdvancesOffset(t *testing.T) {
	p := Pointer{FileIndex: 3, FileOffset: 100, Length: 40}
	next := p.Next()

	if !next.IsTerminal() {
		t.Fatalf("Next() should be terminal, got %+v", next)
	}
	if next.FileIndex != 3 || next.FileOffset != 140 {
		t.Fatalf("Next() = %+v, want idx=3 off=140", next)
	}
}

func TestEqualityIgnoresLength(t *testing.T) {
	a := Pointer{FileIndex: 1, FileOffset: 10, Length: 5}
	b := Pointer{FileIndex: 1, FileOffset: 10, Length: 999}

	if !a.Equal(b) {
		t.Fatalf("pointers differing only in Length should be equal")
	}
	if a.Compare(b) != 0 {
		t.Fatalf("Compare should ignore Length")
	}
}

func TestCompareOrdersByIndexThenOffset(t *testing.T) {
	a := Pointer{FileIndex: 1, FileOffset: 50}
	b := Pointer{FileIndex: 2, FileOffset: 0}
	c := Pointer{FileIndex: 1, FileOffset: 10}

	if a.Compare(b) >= 0 {
		t.Fatalf("expected a < b")
	}
	if a.Compare(c) <= 0 {
		t.Fatalf("expected a > c")
	}
}
