package rpc

// LockRequest asks a primary to acquire a pessimistic lock for Xid on
// Key, verifying DhtVersion against the primary's own view (§4.H
// pessimistic prepare).
type LockRequest struct {
	Xid        string `json:"xid"`
	Key        string `json:"key"`
	DhtVersion int64  `json:"dht_version"`
}

// LockReply is shared by Lock and CheckConflict: the primary's
// locally-observed versions plus, for the optimistic path, a retry
// hint telling the originator to re-map and re-prepare.
type LockReply struct {
	Primary      string `json:"primary"`
	DhtVersion   int64  `json:"dht_version"`
	EntryVersion int64  `json:"entry_version"`
	RetryHint    bool   `json:"retry_hint"`
}

// CheckConflictRequest is the optimistic-prepare conflict check: no
// pre-lock phase, just a comparison of the originator's DhtVersion
// snapshot against the primary's current entry version.
type CheckConflictRequest struct {
	Xid        string `json:"xid"`
	Key        string `json:"key"`
	DhtVersion int64  `json:"dht_version"`
}

// ApplyRequest is COMMIT(writeVersion): the primary applies the
// transaction's writes through its WAL-logged apply path and
// replicates to its backups.
type ApplyRequest struct {
	Xid          string `json:"xid"`
	WriteVersion int64  `json:"write_version"`
}

// ApplyReply acknowledges a completed apply.
type ApplyReply struct{}

// UnlockRequest releases any lock Xid holds on Key, used on rollback or
// after a successful pessimistic commit.
type UnlockRequest struct {
	Xid string `json:"xid"`
	Key string `json:"key"`
}

// UnlockReply acknowledges a released lock.
type UnlockReply struct{}
