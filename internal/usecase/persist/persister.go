// Package persist buffers composed catalog entities and writes them to the
// keyed store as bounded, deduplicated upsert batches.
package persist

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/catalogsync/internal/domain"
	"github.com/kailas-cloud/catalogsync/internal/metrics"
)

// Defaults.
const (
	DefaultBatchSize = 100
	DefaultWorkers   = 4
	DefaultQueueSize = 256
)

// ErrClosed is returned by Enqueue and Flush after Close.
var ErrClosed = errors.New("persister closed")

// Options configures a Persister.
type Options struct {
	Tenant    string
	BatchSize int
	Workers   int
	QueueSize int // per-worker channel capacity
	Summary   *domain.Summary
	Logger    *zap.Logger
}

type shardMsg struct {
	ctx    context.Context
	entity domain.Entity
	flush  chan error
}

// Persister shards entities by composite key over a fixed set of writers.
// A key always lands on the same writer and writers consume their queue in
// order, so two writes of one key are never in flight at the same time and
// the last enqueued version wins. BatchSize bounds the distinct keys
// buffered across all shards; reaching it flushes every shard.
type Persister struct {
	w      Writer
	opts   Options
	shards []*shard
	wg     sync.WaitGroup

	mu      sync.Mutex
	err     error
	closed  bool
	pending map[domain.Key]struct{}
}

type shard struct {
	id    int
	in    chan shardMsg
	batch []domain.Entity
	index map[domain.Key]int
}

// New starts the writer goroutines. Call Close to stop them.
func New(w Writer, opts Options) *Persister {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Summary == nil {
		opts.Summary = domain.NewSummary(0)
	}

	p := &Persister{
		w:       w,
		opts:    opts,
		shards:  make([]*shard, opts.Workers),
		pending: make(map[domain.Key]struct{}, opts.BatchSize),
	}
	for i := range p.shards {
		s := &shard{
			id:    i,
			in:    make(chan shardMsg, opts.QueueSize),
			batch: make([]domain.Entity, 0, opts.BatchSize),
			index: make(map[domain.Key]int, opts.BatchSize),
		}
		p.shards[i] = s
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.run(s)
		}()
	}
	return p
}

// Enqueue hands e to its shard. When the buffered distinct keys reach
// BatchSize it flushes and waits for the writes. It fails fast once a batch
// has failed.
func (p *Persister) Enqueue(ctx context.Context, e domain.Entity) error {
	if err := p.state(); err != nil {
		return err
	}
	k := e.Key(p.opts.Tenant)
	s := p.shardFor(k)
	select {
	case s.in <- shardMsg{ctx: ctx, entity: e}:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.mu.Lock()
	p.pending[k] = struct{}{}
	full := len(p.pending) >= p.opts.BatchSize
	p.mu.Unlock()
	if full {
		return p.Flush(ctx)
	}
	return nil
}

// Flush writes every buffered entity and waits for the writes to finish.
func (p *Persister) Flush(ctx context.Context) error {
	if err := p.state(); err != nil {
		return err
	}

	p.mu.Lock()
	clear(p.pending)
	p.mu.Unlock()

	replies := make([]chan error, len(p.shards))
	for i, s := range p.shards {
		replies[i] = make(chan error, 1)
		select {
		case s.in <- shardMsg{ctx: ctx, flush: replies[i]}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	var errs []error
	for _, ch := range replies {
		select {
		case err := <-ch:
			if err != nil {
				errs = append(errs, err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return errors.Join(errs...)
}

// Close flushes and stops the writers. It is safe to call more than once,
// but not concurrently with Enqueue.
func (p *Persister) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return p.err
	}
	p.mu.Unlock()

	flushErr := p.Flush(ctx)

	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	for _, s := range p.shards {
		close(s.in)
	}
	p.wg.Wait()

	if flushErr != nil {
		return flushErr
	}
	return p.Err()
}

// Err returns the first fatal write error.
func (p *Persister) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *Persister) state() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	if p.closed {
		return ErrClosed
	}
	return nil
}

func (p *Persister) fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err == nil {
		p.err = err
	}
}

func (p *Persister) shardFor(k domain.Key) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(k.PK))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(k.SK))
	return p.shards[h.Sum32()%uint32(len(p.shards))]
}

func (p *Persister) run(s *shard) {
	for msg := range s.in {
		if msg.flush != nil {
			msg.flush <- p.flushShard(msg.ctx, s)
			continue
		}
		if p.Err() != nil {
			continue
		}
		s.add(msg.entity, p.opts.Tenant)
	}
}

func (s *shard) add(e domain.Entity, tenant string) {
	k := e.Key(tenant)
	if i, ok := s.index[k]; ok {
		s.batch[i] = e
		return
	}
	s.index[k] = len(s.batch)
	s.batch = append(s.batch, e)
}

func (s *shard) reset() {
	s.batch = s.batch[:0]
	clear(s.index)
}

func (p *Persister) flushShard(ctx context.Context, s *shard) error {
	if err := p.Err(); err != nil {
		s.reset()
		return err
	}
	if len(s.batch) == 0 {
		return nil
	}

	batch := make([]domain.Entity, len(s.batch))
	copy(batch, s.batch)
	s.reset()

	start := time.Now()
	err := p.w.WriteBatch(ctx, p.opts.Tenant, batch)
	metrics.BatchDuration.WithLabelValues(metrics.StagePersist).Observe(time.Since(start).Seconds())

	if err != nil {
		p.opts.Logger.Error("Batch write failed", zap.Int("shard", s.id), zap.Error(err))
		metrics.BatchesTotal.WithLabelValues(metrics.StagePersist, metrics.StatusFailed).Inc()
		p.opts.Summary.BatchesFailed.Add(1)
		err = fmt.Errorf("persist batch of %d (first %s): %w", len(batch), batch[0].Key(p.opts.Tenant), err)
		p.fail(err)
		return err
	}

	metrics.BatchesTotal.WithLabelValues(metrics.StagePersist, metrics.StatusOK).Inc()
	p.opts.Summary.BatchesWritten.Add(1)
	p.opts.Summary.EntitiesPersisted.Add(int64(len(batch)))
	p.opts.Logger.Debug("Batch written",
		zap.Int("shard", s.id),
		zap.Int("size", len(batch)),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}
