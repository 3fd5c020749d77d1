package version

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	v := Version{TopologyVersion: 7, NodeOrderAndDrId: 2, Order: 12345}
	buf := Encode(v)
	if len(buf) != 1+EncodedLen {
		t.Fatalf("Encode length = %d, want %d", len(buf), 1+EncodedLen)
	}

	got, isNull, n, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if isNull {
		t.Fatalf("expected non-null decode")
	}
	if n != len(buf) {
		t.Fatalf("consumed = %d, want %d", n, len(buf))
	}
	if got != v {
		t.Fatalf("round-trip mismatch: got %+v want %+v", got, v)
	}
}

func TestEncodeNullableZero(t *testing.T) {
	buf := EncodeNullable(Zero, true)
	if len(buf) != 1 {
		t.Fatalf("null encoding should be 1 byte, got %d", len(buf))
	}
	_, isNull, n, err := Decode(buf)
	if err != nil || !isNull || n != 1 {
		t.Fatalf("Decode null: isNull=%v n=%d err=%v", isNull, n, err)
	}
}

func TestDecodeRejectsUnknownTag(t *testing.T) {
	if _, _, _, err := Decode([]byte{42}); err == nil {
		t.Fatalf("expected error for unknown tag")
	}
}

func TestNewerVersionOrdering(t *testing.T) {
	older := Version{TopologyVersion: 1, Order: 100}
	newer := Version{TopologyVersion: 1, Order: 101}
	if !older.Less(newer) {
		t.Fatalf("expected older < newer by order")
	}
	if older.Compare(newer) != -1 {
		t.Fatalf("Compare should report -1")
	}

	newerTop := Version{TopologyVersion: 2, Order: 0}
	if !older.Less(newerTop) {
		t.Fatalf("expected lexicographic topVer dominance")
	}
}
