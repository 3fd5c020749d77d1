// Package walpointer implements the 96-bit WAL pointer value type:
// (fileIndex, fileOffset, recordLength). Kept separate from pkg/wal since
// B, C and D all need to pass pointers around without importing the WAL
// manager itself.
package walpointer

import "fmt"

// Pointer is a position in the write-ahead log. Equality, ordering, and
// hashing all ignore Length per §3/§4.A -- only (FileIndex, FileOffset)
// identify a position; Length is metadata about the record that starts
// there.
type Pointer struct {
	FileIndex  int32
	FileOffset int32
	Length     int32
}

// Zero is the pointer used before any record has been logged.
var Zero = Pointer{}

// Next returns the pointer immediately following p, i.e. where the next
// record will be appended if logged into the same segment. Its Length is
// always zero, marking it terminal until a record is actually logged
// there.
func (p Pointer) Next() Pointer {
	return Pointer{FileIndex: p.FileIndex, FileOffset: p.FileOffset + p.Length}
}

// IsTerminal reports whether p has no record following it yet.
func (p Pointer) IsTerminal() bool {
	return p.Length == 0
}

// Equal compares (FileIndex, FileOffset) only, per §3.
func (p Pointer) Equal(other Pointer) bool {
	return p.FileIndex == other.FileIndex && p.FileOffset == other.FileOffset
}

// Compare orders pointers lexicographically by (FileIndex, FileOffset),
// ignoring Length.
func (p Pointer) Compare(other Pointer) int {
	if p.FileIndex != other.FileIndex {
		if p.FileIndex < other.FileIndex {
			return -1
		}
		return 1
	}
	switch {
	case p.FileOffset < other.FileOffset:
		return -1
	case p.FileOffset > other.FileOffset:
		return 1
	default:
		return 0
	}
}

// NextSegment returns the pointer that starts a new segment after this
// one rolls over: (idx+1, 0, 0).
func (p Pointer) NextSegment() Pointer {
	return Pointer{FileIndex: p.FileIndex + 1}
}

func (p Pointer) String() string {
	return fmt.Sprintf("WALPointer{idx=%d,off=%d,len=%d}", p.FileIndex, p.FileOffset, p.Length)
}
