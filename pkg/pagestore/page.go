package pagestore

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/cuemby/gridcore/pkg/pageid"
)

// HeaderSize is the fixed size, in bytes, of the page header described in
// §6: type:i16 | version:i16 | pageId:i64 | crc:u32 | reserved.
const HeaderSize = 32

const (
	offType    = 0
	offVersion = 2
	offPageId  = 4
	offCRC     = 12
	// bytes [16,32) are reserved, zero-filled.
)

// PageType identifies the structural meaning of a page's body.
type PageType int16

const (
	PageTypeData PageType = 1
	PageTypeBTreeMeta PageType = 2
	PageTypeBTreeInner PageType = 3
	PageTypeBTreeLeaf PageType = 4
	PageTypeFreeList PageType = 5
)

// WriteHeader stamps a page header into the first HeaderSize bytes of
// buf. The CRC covers the whole page (header, with the CRC field itself
// zeroed, plus body) and is written last.
func WriteHeader(buf []byte, pageType PageType, version int16, id pageid.PageId) {
	binary.BigEndian.PutUint16(buf[offType:], uint16(pageType))
	binary.BigEndian.PutUint16(buf[offVersion:], uint16(version))
	binary.BigEndian.PutUint64(buf[offPageId:], uint64(id))
	binary.BigEndian.PutUint32(buf[offCRC:], 0)
	crc := computeCRC(buf)
	binary.BigEndian.PutUint32(buf[offCRC:], crc)
}

// ReadHeader decodes the header fields of buf without verifying CRC.
func ReadHeader(buf []byte) (pageType PageType, version int16, id pageid.PageId) {
	pageType = PageType(binary.BigEndian.Uint16(buf[offType:]))
	version = int16(binary.BigEndian.Uint16(buf[offVersion:]))
	id = pageid.PageId(binary.BigEndian.Uint64(buf[offPageId:]))
	return
}

// VerifyCRC reports whether buf's stored CRC matches its contents.
func VerifyCRC(buf []byte) bool {
	stored := binary.BigEndian.Uint32(buf[offCRC:])
	tmp := make([]byte, len(buf))
	copy(tmp, buf)
	binary.BigEndian.PutUint32(tmp[offCRC:], 0)
	return computeCRC(tmp) == stored
}

func computeCRC(buf []byte) uint32 {
	return crc32.ChecksumIEEE(buf)
}
