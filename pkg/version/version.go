// Package version implements GridCacheVersion: the (topologyVersion,
// nodeOrderAndDrId, order) triple attached to every row write, used by
// MVCC comparisons, transaction write-versions, and WAL delta records.
package version

import (
	"encoding/binary"
	"fmt"
)

// tag values for the §6 serialization format.
const (
	tagNull byte = 0
	tagFull byte = 1

	// EncodedLen is the fixed size of a non-null encoded version,
	// not counting the leading tag byte.
	EncodedLen = 25
)

// Version is a GridCacheVersion: (topologyVersion, nodeOrderAndDrId, order).
type Version struct {
	TopologyVersion  int32
	NodeOrderAndDrId int32
	Order            int64
}

// Zero is the smallest possible version; never equal to any applied
// write version in practice, used as a sentinel "no version seen" value.
var Zero = Version{}

// Less reports whether v is strictly older than other: newer versions
// have a strictly greater (TopologyVersion, Order) lexicographically.
func (v Version) Less(other Version) bool {
	if v.TopologyVersion != other.TopologyVersion {
		return v.TopologyVersion < other.TopologyVersion
	}
	return v.Order < other.Order
}

// Compare returns -1, 0, or 1 as v is less than, equal to, or greater
// than other, ordering by (TopologyVersion, Order) only -- NodeOrderAndDrId
// breaks no ties per §3.
func (v Version) Compare(other Version) int {
	switch {
	case v.TopologyVersion != other.TopologyVersion:
		if v.TopologyVersion < other.TopologyVersion {
			return -1
		}
		return 1
	case v.Order != other.Order:
		if v.Order < other.Order {
			return -1
		}
		return 1
	default:
		return 0
	}
}

// Encode writes v's 1-byte full tag plus its 25-byte body, even for the
// zero value; EncodeNullable produces the 1-byte null form.
func Encode(v Version) []byte {
	buf := make([]byte, 1+EncodedLen)
	buf[0] = tagFull
	binary.BigEndian.PutUint32(buf[1:5], uint32(v.TopologyVersion))
	binary.BigEndian.PutUint32(buf[5:9], uint32(v.NodeOrderAndDrId))
	binary.BigEndian.PutUint64(buf[9:17], uint64(v.Order))
	// remaining 8 bytes reserved, zero-filled
	return buf
}

// EncodeNullable writes the 1-byte null tag when v is the zero Version
// and allowNull is set; otherwise behaves like Encode.
func EncodeNullable(v Version, allowNull bool) []byte {
	if allowNull && v == Zero {
		return []byte{tagNull}
	}
	return Encode(v)
}

// Decode reads a tagged version from buf, returning the version, whether
// it was null, the number of bytes consumed, and an error for any
// unrecognized tag.
func Decode(buf []byte) (v Version, isNull bool, consumed int, err error) {
	if len(buf) < 1 {
		return Version{}, false, 0, fmt.Errorf("version: empty buffer")
	}
	switch buf[0] {
	case tagNull:
		return Version{}, true, 1, nil
	case tagFull:
		if len(buf) < 1+EncodedLen {
			return Version{}, false, 0, fmt.Errorf("version: truncated body, need %d bytes got %d", EncodedLen, len(buf)-1)
		}
		v.TopologyVersion = int32(binary.BigEndian.Uint32(buf[1:5]))
		v.NodeOrderAndDrId = int32(binary.BigEndian.Uint32(buf[5:9]))
		v.Order = int64(binary.BigEndian.Uint64(buf[9:17]))
		return v, false, 1 + EncodedLen, nil
	default:
		return Version{}, false, 0, fmt.Errorf("version: unknown protocol tag %d", buf[0])
	}
}

func (v Version) String() string {
	return fmt.Sprintf("Version{top=%d,node=%d,order=%d}", v.TopologyVersion, v.NodeOrderAndDrId, v.Order)
}
