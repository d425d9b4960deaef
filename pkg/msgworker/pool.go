// Package msgworker provides the sharded worker pool that gives the router
// its per-conversation ordering guarantee: work for the same
// (workspace, contact) always hashes to the same shard, so turns of one
// conversation run FIFO without any per-conversation lock.
package msgworker

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Job is one unit of conversation work. WorkspaceID and ConversationKey
// together form the sharding key; the router passes the contact as
// ConversationKey for inbound turns.
type Job struct {
	WorkspaceID     string
	ConversationKey string
	Handler         func(ctx context.Context) error
}

// Stats is a point-in-time snapshot of pool throughput.
type Stats struct {
	NumWorkers      int   `json:"num_workers"`
	QueueSize       int   `json:"queue_size"`
	TotalDispatched int64 `json:"total_dispatched"`
	TotalProcessed  int64 `json:"total_processed"`
	TotalDropped    int64 `json:"total_dropped"`
	TotalErrors     int64 `json:"total_errors"`
}

// Pool fans conversation jobs across a fixed set of workers, one queue per
// worker so a slow conversation only ever delays its own shard.
type Pool struct {
	numWorkers int
	queueSize  int
	workers    []*worker
	wg         sync.WaitGroup
	stopOnce   sync.Once
	stopped    atomic.Bool

	totalDispatched atomic.Int64
	totalProcessed  atomic.Int64
	totalDropped    atomic.Int64
	totalErrors     atomic.Int64
}

type worker struct {
	id     int
	jobs   chan Job
	cancel context.CancelFunc
	pool   *Pool
}

func NewPool(numWorkers, queueSize int) *Pool {
	if numWorkers <= 0 {
		numWorkers = 10
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	return &Pool{
		numWorkers: numWorkers,
		queueSize:  queueSize,
		workers:    make([]*worker, numWorkers),
	}
}

func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.numWorkers; i++ {
		workerCtx, cancel := context.WithCancel(ctx)
		w := &worker{
			id:     i,
			jobs:   make(chan Job, p.queueSize),
			cancel: cancel,
			pool:   p,
		}
		p.workers[i] = w
		p.wg.Add(1)
		go w.run(workerCtx, &p.wg)
	}
	logrus.Infof("[ROUTER_POOL] Started %d workers, queue size %d", p.numWorkers, p.queueSize)
}

// TryDispatch routes job to its conversation's shard without blocking and
// reports whether it was admitted, so the webhook handler can apply
// backpressure instead of queueing unboundedly.
func (p *Pool) TryDispatch(job Job) bool {
	if p.stopped.Load() {
		p.totalDropped.Add(1)
		return false
	}
	shard := p.shardFor(job.WorkspaceID, job.ConversationKey)
	p.totalDispatched.Add(1)

	select {
	case p.workers[shard].jobs <- job:
		return true
	default:
		p.totalDropped.Add(1)
		logrus.Warnf("[ROUTER_POOL] Worker %d queue full, dropping job for %s", shard, job.ConversationKey)
		return false
	}
}

// Stop drains and joins every worker; safe to call more than once.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.stopped.Store(true)
		for _, w := range p.workers {
			close(w.jobs)
		}
		p.wg.Wait()
		logrus.Info("[ROUTER_POOL] All workers stopped")
	})
}

func (p *Pool) shardFor(workspaceID, conversationKey string) int {
	h := fnv.New32a()
	h.Write([]byte(workspaceID + "|" + conversationKey))
	return int(h.Sum32() % uint32(p.numWorkers))
}

func (p *Pool) GetStats() Stats {
	return Stats{
		NumWorkers:      p.numWorkers,
		QueueSize:       p.queueSize,
		TotalDispatched: p.totalDispatched.Load(),
		TotalProcessed:  p.totalProcessed.Load(),
		TotalDropped:    p.totalDropped.Load(),
		TotalErrors:     p.totalErrors.Load(),
	}
}

func (w *worker) run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	for job := range w.jobs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					w.pool.totalErrors.Add(1)
					logrus.Errorf("[ROUTER_POOL] Worker %d panic for %s: %v", w.id, job.ConversationKey, r)
				}
				w.pool.totalProcessed.Add(1)
			}()
			if err := job.Handler(ctx); err != nil {
				w.pool.totalErrors.Add(1)
				logrus.WithError(err).Errorf("[ROUTER_POOL] Worker %d job failed for %s", w.id, job.ConversationKey)
			}
		}()
	}
	w.cancel()
}
