// Package ingestion runs the measurement pipeline.
//
// A producer hands one measurement per second to Ingest. The service
// appends it to the ring log, which keeps the JSON snapshots current, and
// queues the stored samples for the sample store. Pending samples are
// written in store-sized batches on every flush interval, or earlier under
// backpressure. After each flush the store's integrity can be verified;
// a failed check halts store writes while the ring log keeps running.
package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	defaults "github.com/xtxerr/qoslog/config"
	"github.com/xtxerr/qoslog/internal/errors"
	"github.com/xtxerr/qoslog/internal/logging"
	"github.com/xtxerr/qoslog/internal/storage/aggregate"
	"github.com/xtxerr/qoslog/internal/storage/backpressure"
	"github.com/xtxerr/qoslog/internal/storage/buffer"
	"github.com/xtxerr/qoslog/internal/storage/config"
	"github.com/xtxerr/qoslog/internal/storage/types"
)

// Store is the durable side of the pipeline.
type Store interface {
	AddBatched(ctx context.Context, startTime int64, samples []types.Measurement) error
	VerifyIntegrity(ctx context.Context) error
}

// Log is the in-memory side of the pipeline.
type Log interface {
	Append(m types.Measurement) int
	StartTime() int64
	Len() int
}

// Options configures a Service.
type Options struct {
	FlushInterval    time.Duration
	QueueSize        int
	PendingCapacity  int
	BatchSize        int
	VerifyAfterFlush bool
	Backpressure     config.BackpressureConfig
}

// OptionsFromConfig derives Options from the daemon configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		FlushInterval:    cfg.Ingestion.FlushInterval,
		QueueSize:        cfg.Ingestion.QueueSize,
		PendingCapacity:  cfg.Ingestion.PendingCapacity,
		BatchSize:        cfg.Store.BatchSize,
		VerifyAfterFlush: cfg.Ingestion.VerifyAfterFlush,
		Backpressure:     cfg.Backpressure,
	}
}

// Service orchestrates the measurement pipeline.
// It manages the flow: Producer → Ring Log → Pending → Sample Store
type Service struct {
	opts   Options
	store  Store
	log    Log
	agg    *aggregate.Manager
	logger *slog.Logger

	// Pending samples, owned by the run goroutine
	pending      *buffer.RingBuffer[types.Measurement]
	pendingStart int64
	bp           *backpressure.Controller

	// State
	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	in      chan types.Measurement
	flushCh chan struct{}

	stats Stats
}

// Stats holds ingestion statistics.
type Stats struct {
	Received          atomic.Int64
	Appended          atomic.Int64
	Duplicates        atomic.Int64
	QueueDrops        atomic.Int64
	PendingDrops      atomic.Int64
	Discontinuities   atomic.Int64
	Flushes           atomic.Int64
	SamplesFlushed    atomic.Int64
	FlushErrors       atomic.Int64
	IntegrityFailures atomic.Int64
}

// New creates a new ingestion service. agg is optional.
func New(store Store, log Log, agg *aggregate.Manager, opts Options) *Service {
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = defaults.DefaultFlushInterval
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaults.DefaultIngestQueueSize
	}
	if opts.PendingCapacity <= 0 {
		opts.PendingCapacity = defaults.DefaultPendingCapacity
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaults.DefaultBatchSize
	}

	pending := buffer.New[types.Measurement](opts.PendingCapacity)
	s := &Service{
		opts:    opts,
		store:   store,
		log:     log,
		agg:     agg,
		logger:  logging.Component("ingestion"),
		pending: pending,
		bp:      backpressure.New(opts.Backpressure, pending, nil),
		in:      make(chan types.Measurement, opts.QueueSize),
		flushCh: make(chan struct{}, 1),
	}
	s.bp.SetOnLevelChange(func(old, new backpressure.Level) {
		s.logger.Warn("backpressure level changed", "from", old, "to", new,
			"pending", s.pending.Len())
	})
	return s
}

// Start starts the pipeline goroutine.
func (s *Service) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("service already running")
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run(ctx)

	s.logger.Info("ingestion started", "flush_interval", s.opts.FlushInterval,
		"batch_size", s.opts.BatchSize)
	return nil
}

// Stop stops the pipeline. Queued measurements are processed and pending
// samples are flushed before Stop returns.
func (s *Service) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	s.cancel()
	s.wg.Wait()

	s.logger.Info("ingestion stopped", "pending", s.pending.Len())
	return nil
}

// Ingest queues one measurement. It does not block: when the queue is
// full the measurement is dropped and ErrQueueFull returned.
func (s *Service) Ingest(m types.Measurement) error {
	if !s.running.Load() {
		return errors.ErrNotRunning
	}
	s.stats.Received.Add(1)

	select {
	case s.in <- m:
		return nil
	default:
		s.stats.QueueDrops.Add(1)
		return errors.ErrQueueFull
	}
}

// ForceFlush triggers an immediate flush.
func (s *Service) ForceFlush() {
	select {
	case s.flushCh <- struct{}{}:
	default:
		// Flush already pending
	}
}

func (s *Service) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.drain()
			s.flush(context.WithoutCancel(ctx))
			return
		case m := <-s.in:
			s.process(ctx, m)
		case <-ticker.C:
			s.flush(ctx)
		case <-s.flushCh:
			s.flush(ctx)
		}
	}
}

// drain processes everything still queued.
func (s *Service) drain() {
	for {
		select {
		case m := <-s.in:
			s.process(context.Background(), m)
		default:
			return
		}
	}
}

// process appends m to the ring log and queues the stored samples.
func (s *Service) process(ctx context.Context, m types.Measurement) {
	added := s.log.Append(m)
	if added == 0 {
		s.stats.Duplicates.Add(1)
		return
	}
	s.stats.Appended.Add(int64(added))

	// time of the first sample just stored
	ts := s.log.StartTime() + int64(s.log.Len()-added)

	if s.pending.Len() > 0 && ts != s.pendingStart+int64(s.pending.Len()) {
		// the ring log was cleared or refilled; the store needs contiguous runs
		s.stats.Discontinuities.Add(1)
		s.logger.Warn("sample time discontinuity", "expected", s.pendingStart+int64(s.pending.Len()), "got", ts)
		if err := s.flush(ctx); err != nil {
			s.discardPending()
		}
	}
	if s.pending.Len() == 0 {
		s.pendingStart = ts
	}

	for i := range added {
		if s.pending.PushOverwrite(m) {
			s.pendingStart++
			s.stats.PendingDrops.Add(1)
			s.bp.RecordDrop()
		}
		if s.agg != nil {
			s.agg.Process(ts+int64(i), &m)
		}
	}

	s.bp.Check()
	if s.bp.ShouldFlushNow() {
		s.flush(ctx)
	}
}

func (s *Service) discardPending() {
	n := s.pending.Len()
	s.pending.Clear()
	s.stats.PendingDrops.Add(int64(n))
	s.logger.Warn("pending samples discarded", "samples", n)
}

// flush writes pending samples to the store one batch per call to
// AddBatched, so a failure keeps exactly the unwritten samples pending.
func (s *Service) flush(ctx context.Context) error {
	if s.pending.Len() == 0 {
		return nil
	}

	written := 0
	var err error
	for s.pending.Len() > 0 {
		batch := s.pending.Range(0, s.opts.BatchSize)
		if err = s.store.AddBatched(ctx, s.pendingStart, batch); err != nil {
			break
		}
		s.pending.PopN(len(batch))
		s.pendingStart += int64(len(batch))
		written += len(batch)
	}

	if written > 0 {
		s.stats.Flushes.Add(1)
		s.stats.SamplesFlushed.Add(int64(written))
		s.logger.Debug("flushed", "samples", written, "next", s.pendingStart)
	}

	if err != nil {
		s.stats.FlushErrors.Add(1)
		if errors.Is(err, errors.ErrWritesHalted) {
			s.logger.Warn("store writes halted, keeping samples pending", "pending", s.pending.Len())
		} else {
			s.logger.Error("flush failed", "error", err, "pending", s.pending.Len())
		}
		return err
	}

	if s.opts.VerifyAfterFlush {
		if err := s.store.VerifyIntegrity(ctx); err != nil {
			s.stats.IntegrityFailures.Add(1)
			s.logger.Error("integrity check failed after flush", "error", err)
			return err
		}
	}
	return nil
}

// Stats returns current statistics.
func (s *Service) Stats() ServiceStats {
	bpStats := s.bp.Stats()

	return ServiceStats{
		Running:           s.running.Load(),
		Received:          s.stats.Received.Load(),
		Appended:          s.stats.Appended.Load(),
		Duplicates:        s.stats.Duplicates.Load(),
		QueueDrops:        s.stats.QueueDrops.Load(),
		PendingDrops:      s.stats.PendingDrops.Load(),
		Discontinuities:   s.stats.Discontinuities.Load(),
		Flushes:           s.stats.Flushes.Load(),
		SamplesFlushed:    s.stats.SamplesFlushed.Load(),
		FlushErrors:       s.stats.FlushErrors.Load(),
		IntegrityFailures: s.stats.IntegrityFailures.Load(),
		Pending:           s.pending.Len(),
		PendingUsage:      bpStats.BufferUsage,
		Backpressure:      bpStats.CurrentLevel,
		Shedding:          s.bp.IsShedding(),
	}
}

// ServiceStats holds combined service statistics.
type ServiceStats struct {
	Running           bool
	Received          int64
	Appended          int64
	Duplicates        int64
	QueueDrops        int64
	PendingDrops      int64
	Discontinuities   int64
	Flushes           int64
	SamplesFlushed    int64
	FlushErrors       int64
	IntegrityFailures int64
	Pending           int
	PendingUsage      float64
	Backpressure      backpressure.Level
	Shedding          bool
}
