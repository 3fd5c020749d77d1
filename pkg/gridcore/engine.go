package gridcore

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/gridcore/pkg/btree"
	"github.com/cuemby/gridcore/pkg/log"
	"github.com/cuemby/gridcore/pkg/metrics"
	"github.com/cuemby/gridcore/pkg/pagemem"
	"github.com/cuemby/gridcore/pkg/pageid"
	"github.com/cuemby/gridcore/pkg/pagestore"
	"github.com/cuemby/gridcore/pkg/partition"
	"github.com/cuemby/gridcore/pkg/rowstore"
	"github.com/cuemby/gridcore/pkg/topology"
	"github.com/cuemby/gridcore/pkg/txn"
	"github.com/cuemby/gridcore/pkg/vacuum"
	"github.com/cuemby/gridcore/pkg/wal"
)

// cacheGroup is the single cache group id an embedded Engine serves.
// Multi-group support is a deployment concern layered above Engine, not
// part of its contract.
const cacheGroup uint32 = 1

// localPrimaryName is the primary name an embedded single-node Engine
// registers itself under with its own transaction coordinator.
const localPrimaryName = "local"

// Options configures the subsystems New wires together.
type Options struct {
	StorageDir      string
	PageSize        int
	WALDir          string
	WALSegmentSize  int64
	CacheCapacity   int
	PartitionCount  int
	BackupCount     int
	HistoryCapacity int
	MaxRemaps       int
	VacuumWorkers   int
	VacuumBatchSize int
	NodeID          string
	TopologyBind    string
	TopologyDir     string
}

// Engine is the embeddable init/run/shutdown lifecycle: it wires the
// page store, WAL, page cache, per-partition B+Trees and row stores,
// topology manager, transaction coordinator, and vacuum pool into one
// running node.
type Engine struct {
	opts Options

	store  pagestore.Store
	walMgr *wal.Manager
	cache  *pagemem.Cache

	partitions *partition.Map
	affinity   *partition.Affinity

	mu    sync.RWMutex
	trees map[uint32]*btree.Tree
	rows  map[uint32]*rowstore.RowStore

	versions *versionIndex

	topo        *topology.Manager
	coordinator *txn.Coordinator
	vacuumPool  *vacuum.Pool

	metricsCollector *metrics.Collector

	nextVersion int64
}

// New constructs an Engine from opts but does not yet start it (no raft
// bootstrap, no metrics polling) — call Start for that.
func New(opts Options) (*Engine, error) {
	if opts.PageSize <= 0 {
		return nil, &ConfigurationError{Field: "PageSize", Reason: "must be positive"}
	}
	store, err := pagestore.NewFileStore(opts.StorageDir, opts.PageSize)
	if err != nil {
		return nil, err
	}

	walMgr, err := wal.Open(wal.Config{Dir: opts.WALDir, SegmentSize: opts.WALSegmentSize})
	if err != nil {
		_ = store.Stop(false)
		return nil, err
	}

	cache, err := pagemem.New(store, opts.CacheCapacity)
	if err != nil {
		return nil, err
	}

	historyCapacity := opts.HistoryCapacity
	if historyCapacity <= 0 {
		historyCapacity = 256
	}

	topo, err := topology.New(topology.Config{
		NodeID:   opts.NodeID,
		BindAddr: opts.TopologyBind,
		DataDir:  opts.TopologyDir,
	})
	if err != nil {
		return nil, err
	}

	e := &Engine{
		opts:       opts,
		store:      store,
		walMgr:     walMgr,
		cache:      cache,
		partitions: partition.NewMap(historyCapacity),
		affinity:   partition.NewAffinity(opts.PartitionCount, opts.BackupCount),
		trees:      make(map[uint32]*btree.Tree),
		rows:       make(map[uint32]*rowstore.RowStore),
		versions:   newVersionIndex(),
		topo:       topo,
	}

	maxRemaps := opts.MaxRemaps
	if maxRemaps <= 0 {
		maxRemaps = 3
	}
	e.coordinator = txn.NewCoordinator(txn.Config{MaxRemaps: maxRemaps}, map[string]txn.Primary{
		localPrimaryName: &localPrimary{e: e},
	})

	e.vacuumPool = vacuum.NewPool(vacuum.Config{Workers: opts.VacuumWorkers, BatchSize: opts.VacuumBatchSize}, &vacuumSource{e: e}, cache)

	return e, nil
}

// Start bootstraps the topology raft group (as the sole founding member)
// and begins polling metrics. It does not create any partitions; callers
// drive partition creation through OwnPartition as the affinity function
// assigns them.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.topo.Bootstrap(); err != nil {
		return err
	}
	e.metricsCollector = metrics.NewCollector(e)
	e.metricsCollector.Start()
	log.WithComponent("gridcore").Info().Str("node_id", e.opts.NodeID).Msg("engine started")
	return nil
}

// Shutdown flushes the WAL, closes the page store, and stops the
// topology raft group and metrics collector, in the reverse order they
// were started.
func (e *Engine) Shutdown() error {
	if e.metricsCollector != nil {
		e.metricsCollector.Stop()
	}
	if err := e.topo.Shutdown(); err != nil {
		log.WithComponent("gridcore").Error().Err(err).Msg("topology shutdown failed")
	}
	if err := e.walMgr.Sync(); err != nil {
		return err
	}
	if err := e.walMgr.Close(); err != nil {
		return err
	}
	return e.store.Stop(false)
}

// OwnPartition registers partition id as owned by this node, creating
// its B+Tree index and row store on first use.
func (e *Engine) OwnPartition(id uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.partitions.Get(id)
	if !ok {
		p = e.partitions.Create(id)
	}
	if p.State() != partition.StateOwning {
		if err := p.TransitionTo(partition.StateOwning); err != nil {
			return err
		}
	}

	if _, ok := e.rows[id]; ok {
		return nil
	}
	partID := uint16(id)
	rs, err := rowstore.New(e.store, e.cache, e.walMgr, cacheGroup, partID)
	if err != nil {
		return err
	}
	tree, err := btree.Open(e.cache, e.store, e.walMgr, cacheGroup, partID, 64, btree.ByteComparator, pageid.PageId(0))
	if err != nil {
		return err
	}
	e.rows[id] = rs
	e.trees[id] = tree
	return nil
}

func (e *Engine) rowStoreFor(id uint32) *rowstore.RowStore {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rows[id]
}

func (e *Engine) treeFor(id uint32) *btree.Tree {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.trees[id]
}

// PartitionFor reports which partition key belongs to, per the affinity
// function.
func (e *Engine) PartitionFor(key []byte) uint32 {
	return uint32(e.affinity.PartitionFor(key))
}

// Put writes key/value into the owning partition through the
// transaction coordinator against the local primary (the embedded,
// single-node case; a distributed deployment would route through
// pkg/rpc remote primaries instead — see pkg/rpc). It runs a separate
// Prepare and then Commit; the coordinator has no fused
// prepare-and-commit path, and a single-primary write-set is only
// counted in the one-phase-commit metric.
func (e *Engine) Put(ctx context.Context, partID uint32, key, value []byte) error {
	rs := e.rowStoreFor(partID)
	tree := e.treeFor(partID)
	if rs == nil || tree == nil {
		return &PartitionStateError{PartId: partID, Op: "put", Reason: "not owned"}
	}

	tx := e.coordinator.Begin(txn.Pessimistic, time.Now().Add(10*time.Second))
	_, curVersion, _ := e.versions.latest(partID, string(key))
	write := txn.WriteOp{Key: string(key), Primary: localPrimaryName, DhtVersion: curVersion}
	if err := e.coordinator.Prepare(ctx, tx, []txn.WriteOp{write}); err != nil {
		return err
	}

	link, err := rs.Insert(value)
	if err != nil {
		_ = e.coordinator.Rollback(tx)
		return err
	}
	if err := tree.Put(key, link); err != nil {
		_ = e.coordinator.Rollback(tx)
		return err
	}

	writeVersion := e.allocVersion()
	if err := e.coordinator.Commit(ctx, tx, writeVersion); err != nil {
		return err
	}
	e.versions.recordWrite(partID, string(key), link, writeVersion)
	return nil
}

// Get reads key's current value from the owning partition.
func (e *Engine) Get(_ context.Context, partID uint32, key []byte) ([]byte, bool, error) {
	rs := e.rowStoreFor(partID)
	tree := e.treeFor(partID)
	if rs == nil || tree == nil {
		return nil, false, &PartitionStateError{PartId: partID, Op: "get", Reason: "not owned"}
	}
	links, err := tree.Find(key)
	if err != nil {
		return nil, false, err
	}
	if len(links) == 0 {
		return nil, false, nil
	}
	data, err := rs.Get(links[len(links)-1])
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Delete removes key's newest index entry from the owning partition. If
// the index removal fails the transaction is rolled back; after a
// successful commit the key's newest version is marked aborted in the
// version index so vacuum reclaims its row.
func (e *Engine) Delete(ctx context.Context, partID uint32, key []byte) error {
	rs := e.rowStoreFor(partID)
	tree := e.treeFor(partID)
	if rs == nil || tree == nil {
		return &PartitionStateError{PartId: partID, Op: "delete", Reason: "not owned"}
	}
	links, err := tree.Find(key)
	if err != nil {
		return err
	}
	if len(links) == 0 {
		return nil
	}
	link := links[len(links)-1]

	tx := e.coordinator.Begin(txn.Pessimistic, time.Now().Add(10*time.Second))
	write := txn.WriteOp{Key: string(key), Primary: localPrimaryName}
	if err := e.coordinator.Prepare(ctx, tx, []txn.WriteOp{write}); err != nil {
		return err
	}
	if _, err := tree.Remove(key, link); err != nil {
		_ = e.coordinator.Rollback(tx)
		return err
	}
	writeVersion := e.allocVersion()
	if err := e.coordinator.Commit(ctx, tx, writeVersion); err != nil {
		return err
	}
	e.versions.recordAbort(partID, string(key))
	return nil
}

// RunVacuum runs one pass of the vacuum pool against tasks.
func (e *Engine) RunVacuum(ctx context.Context, tasks ...vacuum.Task) ([]vacuum.Result, error) {
	e.vacuumPool.Enqueue(tasks...)
	return e.vacuumPool.Run(ctx)
}

func (e *Engine) allocVersion() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextVersion++
	return e.nextVersion
}

// MetricsSnapshot implements metrics.Source.
func (e *Engine) MetricsSnapshot() metrics.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	byState := map[string]int{}
	for id := range e.trees {
		if p, ok := e.partitions.Get(id); ok {
			byState[p.State().String()]++
		}
	}
	snap := metrics.Snapshot{
		PartitionsByState: byState,
		TopologyVersion:   e.topo.TopologyVersion(),
		PagesResident:     e.cache.Resident(),
	}
	return snap
}

// localPrimary adapts Engine to txn.Primary for the embedded single-node
// case, where the coordinator's one participant is this node itself
// rather than a pkg/rpc-backed remote.
type localPrimary struct {
	e  *Engine
	mu sync.Mutex
}

func (p *localPrimary) Lock(_ context.Context, xid, key string, dhtVersion int64) (txn.PrimaryReply, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return txn.PrimaryReply{Primary: localPrimaryName, DhtVersion: dhtVersion, EntryVersion: dhtVersion}, nil
}

func (p *localPrimary) CheckConflict(_ context.Context, xid, key string, dhtVersion int64) (txn.PrimaryReply, error) {
	return txn.PrimaryReply{Primary: localPrimaryName, DhtVersion: dhtVersion, EntryVersion: dhtVersion}, nil
}

func (p *localPrimary) Apply(_ context.Context, xid string, writeVersion int64) error {
	return nil
}

func (p *localPrimary) Unlock(xid, key string) {}
