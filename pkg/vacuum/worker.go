package vacuum

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/cuemby/gridcore/pkg/log"
	"github.com/cuemby/gridcore/pkg/metrics"
	"github.com/cuemby/gridcore/pkg/pageid"
)

// Config configures a Pool.
type Config struct {
	// Workers bounds how many tasks run concurrently, drawn from the
	// shared pool (§4.I "one worker per partition, drawn from a shared
	// pool").
	Workers int
	// BatchSize bounds how many obsolete links are deleted per
	// DeleteBatch call (the §4.I supplemented "batched cleanup" knob).
	BatchSize int
}

// Pool runs vacuum tasks against a Source, reporting scanned/cleaned
// counts per §4.I step 5.
type Pool struct {
	source    Source
	locker    CheckpointLocker
	workers   int
	batchSize int

	mu    sync.Mutex
	tasks []Task
}

// NewPool creates a Pool over source, guarding every cleanup batch with
// locker's checkpoint read lock.
func NewPool(cfg Config, source Source, locker CheckpointLocker) *Pool {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 256
	}
	return &Pool{source: source, locker: locker, workers: workers, batchSize: batchSize}
}

// Enqueue adds tasks to the pool's queue.
func (p *Pool) Enqueue(tasks ...Task) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tasks = append(p.tasks, tasks...)
}

// Result reports per-partition scan/clean counts for one task.
type Result struct {
	Task    Task
	Scanned int
	Cleaned int
	Skipped bool
}

// Run drains the queue, running up to p.workers tasks concurrently via
// errgroup, and returns one Result per task attempted in the same order
// they were enqueued. A task's own error is logged and does not stop
// the others; Run's returned error is non-nil only if the context itself
// was canceled.
func (p *Pool) Run(ctx context.Context) ([]Result, error) {
	p.mu.Lock()
	tasks := p.tasks
	p.tasks = nil
	p.mu.Unlock()

	results := make([]Result, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			res, err := p.runTask(gctx, task)
			results[i] = res
			if err != nil {
				log.WithComponent("vacuum").Error().Err(err).
					Uint32("partition", task.Partition).
					Int64("cleanup_version", task.CleanupVersion).
					Msg("vacuum task failed")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, ctx.Err()
}

// runTask implements §4.I steps 1-5 for one task: reserve, scan in key
// order, batch obsolete versions by key run, and flush each batch under
// the checkpoint read lock.
func (p *Pool) runTask(ctx context.Context, task Task) (Result, error) {
	result := Result{Task: task}

	release, ok := p.source.Reserve(task.Partition)
	if !ok || !p.source.PartitionOwned(task.Partition) {
		result.Skipped = true
		if ok {
			release()
		}
		return result, nil
	}
	defer release()

	cursor, err := p.source.Cursor(ctx, task.Partition)
	if err != nil {
		return result, err
	}

	var batch []pageid.Link
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		unlock := p.locker.AcquireCheckpointReadLock()
		defer unlock()

		if err := p.source.DeleteBatch(ctx, task.Partition, batch); err != nil {
			return err
		}
		metrics.VacuumCleaned.Add(float64(len(batch)))
		result.Cleaned += len(batch)
		batch = batch[:0]
		return nil
	}

	var lastKey []byte
	for {
		row, hasNext, err := cursor.Next()
		if err != nil {
			_ = flush()
			return result, err
		}
		if !hasNext {
			break
		}
		result.Scanned++
		metrics.VacuumScanned.Inc()

		if lastKey != nil && !bytesEqual(lastKey, row.Key) {
			if err := flush(); err != nil {
				return result, err
			}
		}
		lastKey = row.Key

		if row.Obsolete(task.CleanupVersion) {
			batch = append(batch, row.Link)
			if len(batch) >= p.batchSize {
				if err := flush(); err != nil {
					return result, err
				}
			}
		}
	}
	if err := flush(); err != nil {
		return result, err
	}
	return result, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
