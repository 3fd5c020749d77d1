package gridcore

import (
	"context"
	"sync"

	"github.com/cuemby/gridcore/pkg/pageid"
	"github.com/cuemby/gridcore/pkg/partition"
	"github.com/cuemby/gridcore/pkg/vacuum"
)

// rowVersion is one committed (or pending) version of a key, enough for
// vacuum.VersionedRow to be built without rowstore itself carrying MVCC
// metadata on-page: the Engine keeps versioning in an in-memory index
// alongside the physical row.
type rowVersion struct {
	link           pageid.Link
	version        int64
	newerCommitted int64
	aborted        bool
}

// versionIndex tracks, per partition and key, the chain of versions the
// Engine has written. It is the thing vacuum.Source's Cursor scans.
type versionIndex struct {
	mu   sync.Mutex
	rows map[uint32]map[string][]*rowVersion
}

func newVersionIndex() *versionIndex {
	return &versionIndex{rows: make(map[uint32]map[string][]*rowVersion)}
}

func (v *versionIndex) partition(partID uint32) map[string][]*rowVersion {
	p, ok := v.rows[partID]
	if !ok {
		p = make(map[string][]*rowVersion)
		v.rows[partID] = p
	}
	return p
}

// recordWrite appends a new version for key, marking the previous latest
// version (if any) superseded as of version.
func (v *versionIndex) recordWrite(partID uint32, key string, link pageid.Link, version int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	chain := v.partition(partID)[key]
	if len(chain) > 0 {
		chain[len(chain)-1].newerCommitted = version
	}
	v.partition(partID)[key] = append(chain, &rowVersion{link: link, version: version})
}

// recordAbort marks the most recent version of key as created by an
// aborted transaction, making it immediately obsolete.
func (v *versionIndex) recordAbort(partID uint32, key string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	chain := v.partition(partID)[key]
	if len(chain) == 0 {
		return
	}
	chain[len(chain)-1].aborted = true
}

// latest returns the current (non-aborted) version's link for key.
func (v *versionIndex) latest(partID uint32, key string) (pageid.Link, int64, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	chain := v.partition(partID)[key]
	for i := len(chain) - 1; i >= 0; i-- {
		if !chain[i].aborted {
			return chain[i].link, chain[i].version, true
		}
	}
	return 0, 0, false
}

// snapshot copies every version currently tracked for partID, in key
// order, as vacuum.VersionedRow values.
func (v *versionIndex) snapshot(partID uint32) []vacuum.VersionedRow {
	v.mu.Lock()
	defer v.mu.Unlock()
	chain := v.partition(partID)
	out := make([]vacuum.VersionedRow, 0, len(chain))
	for key, versions := range chain {
		for _, rv := range versions {
			out = append(out, vacuum.VersionedRow{
				Key:            []byte(key),
				Link:           rv.link,
				RowVersion:     rv.version,
				NewerCommitted: rv.newerCommitted,
				CreatorAborted: rv.aborted,
			})
		}
	}
	return out
}

// removeLinks drops the tracked versions whose Link matches one of links,
// called after vacuum has physically deleted them.
func (v *versionIndex) removeLinks(partID uint32, links []pageid.Link) {
	v.mu.Lock()
	defer v.mu.Unlock()
	drop := make(map[pageid.Link]bool, len(links))
	for _, l := range links {
		drop[l] = true
	}
	for key, chain := range v.partition(partID) {
		kept := chain[:0]
		for _, rv := range chain {
			if !drop[rv.link] {
				kept = append(kept, rv)
			}
		}
		if len(kept) == 0 {
			delete(v.partition(partID), key)
		} else {
			v.partition(partID)[key] = kept
		}
	}
}

// sliceCursor adapts an already-built slice of rows to vacuum.Cursor.
type sliceCursor struct {
	rows []vacuum.VersionedRow
	idx  int
}

func (c *sliceCursor) Next() (vacuum.VersionedRow, bool, error) {
	if c.idx >= len(c.rows) {
		return vacuum.VersionedRow{}, false, nil
	}
	row := c.rows[c.idx]
	c.idx++
	return row, true, nil
}

// vacuumSource adapts Engine to vacuum.Source.
type vacuumSource struct {
	e *Engine
}

func (s *vacuumSource) Reserve(partID uint32) (func(), bool) {
	guard, err := s.e.partitions.Reserve(partID)
	if err != nil {
		return nil, false
	}
	return guard.Release, true
}

func (s *vacuumSource) PartitionOwned(partID uint32) bool {
	p, ok := s.e.partitions.Get(partID)
	if !ok {
		return false
	}
	return p.State() == partition.StateOwning
}

func (s *vacuumSource) Cursor(_ context.Context, partID uint32) (vacuum.Cursor, error) {
	return &sliceCursor{rows: s.e.versions.snapshot(partID)}, nil
}

func (s *vacuumSource) DeleteBatch(_ context.Context, partID uint32, links []pageid.Link) error {
	rs := s.e.rowStoreFor(partID)
	if rs == nil {
		return nil
	}
	for _, link := range links {
		if err := rs.Remove(link); err != nil {
			return err
		}
	}
	s.e.versions.removeLinks(partID, links)
	return nil
}
