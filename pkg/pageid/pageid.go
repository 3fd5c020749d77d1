// Package pageid implements the fixed 64-bit PageId layout and the small
// set of pure arithmetic helpers every storage component (pagestore,
// pagemem, btree, rowstore) builds on: flags:8 | partitionId:16 |
// pageIndex:40.
package pageid

const (
	flagBits      = 8
	partitionBits = 16
	indexBits     = 40

	indexMask     = uint64(1)<<indexBits - 1
	partitionMask = uint64(1)<<partitionBits - 1
	flagMask      = uint64(1)<<flagBits - 1

	partitionShift = indexBits
	flagShift      = indexBits + partitionBits
)

// IndexPartition is the reserved partition value denoting the index
// partition (as opposed to a data partition).
const IndexPartition = uint16(0xFFFF)

// MaxPartitionID is the highest legal data partition id.
const MaxPartitionID = uint16(0xFFFE)

// Flag distinguishes what a page is used for; it determines which page
// store an allocation is routed to.
type Flag uint8

const (
	FlagData  Flag = 1
	FlagIndex Flag = 2
)

// PageId is the 64-bit logical address of a page.
type PageId uint64

// New packs flag, partition id, and page index into a PageId.
func New(flag Flag, partition uint16, index uint64) PageId {
	return PageId(uint64(flag)&flagMask)<<flagShift |
		PageId(uint64(partition)&partitionMask)<<partitionShift |
		PageId(index&indexMask)
}

// PartId returns the partition id encoded in id.
func (id PageId) PartId() uint16 {
	return uint16(uint64(id) >> partitionShift & partitionMask)
}

// Flag returns the flag byte encoded in id.
func (id PageId) Flag() Flag {
	return Flag(uint64(id) >> flagShift & flagMask)
}

// Index returns the page index encoded in id.
func (id PageId) Index() uint64 {
	return uint64(id) & indexMask
}

// IsIndexPage reports whether id belongs to the reserved index partition.
func (id PageId) IsIndexPage() bool {
	return id.PartId() == IndexPartition
}

// WithPartition returns a copy of id with its partition id replaced,
// leaving flag and index unchanged.
func WithPartition(id PageId, partition uint16) PageId {
	return New(id.Flag(), partition, id.Index())
}

// ToDataPageId rewrites id to carry the FlagData flag, keeping its
// partition and index. Used when a page originally allocated for one
// purpose is repurposed as a plain data page (e.g. after a B+Tree page
// is freed back to the data free-list).
func ToDataPageId(id PageId) PageId {
	return New(FlagData, id.PartId(), id.Index())
}

// RotatePageId produces a fresh PageId for the same partition/flag at a
// new index, used when a page is evicted and its slot is recycled for a
// different logical page during partition re-creation.
func RotatePageId(id PageId, newIndex uint64) PageId {
	return New(id.Flag(), id.PartId(), newIndex)
}
