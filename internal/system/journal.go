package system

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/l1jgo/scriptrt/internal/core/ecs"
	"github.com/l1jgo/scriptrt/internal/core/fault"
	coresys "github.com/l1jgo/scriptrt/internal/core/system"
	"github.com/l1jgo/scriptrt/internal/metrics"
	"github.com/l1jgo/scriptrt/internal/persist"
	"go.uber.org/zap"
)

// FaultStore persists fault batches. persist.FaultRepo implements it.
type FaultStore interface {
	InsertFaults(ctx context.Context, records []persist.FaultRecord) error
}

type JournalOptions struct {
	// MaxPending caps records buffered between flushes; extra records are dropped.
	MaxPending int
	// QueueDepth is the number of batches the writer may lag behind.
	QueueDepth int
	// WriteTimeout bounds one batch insert.
	WriteTimeout time.Duration
}

func DefaultJournalOptions() JournalOptions {
	return JournalOptions{MaxPending: 256, QueueDepth: 8, WriteTimeout: 5 * time.Second}
}

// FaultJournal collects callback failures on the frame goroutine and writes
// them in batches from its own goroutine. The frame never waits on the
// database: a full queue drops the batch. Phase 4 (Persist).
type FaultJournal struct {
	store   FaultStore
	metrics *metrics.Metrics
	log     *zap.Logger
	opts    JournalOptions

	// Names resolves the behavior attached to an entity, if any.
	Names func(ecs.EntityID) string

	pending []persist.FaultRecord
	frame   uint64

	batches  chan []persist.FaultRecord
	wg       sync.WaitGroup
	running  atomic.Bool
	stopOnce sync.Once

	written atomic.Uint64
	dropped atomic.Uint64
}

func NewFaultJournal(store FaultStore, m *metrics.Metrics, opts JournalOptions, log *zap.Logger) *FaultJournal {
	if log == nil {
		log = zap.NewNop()
	}
	def := DefaultJournalOptions()
	if opts.MaxPending <= 0 {
		opts.MaxPending = def.MaxPending
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = def.QueueDepth
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = def.WriteTimeout
	}
	return &FaultJournal{
		store:   store,
		metrics: m,
		log:     log,
		opts:    opts,
		batches: make(chan []persist.FaultRecord, opts.QueueDepth),
	}
}

func (j *FaultJournal) Phase() coresys.Phase { return coresys.PhasePersist }

// Start launches the writer goroutine.
func (j *FaultJournal) Start() {
	if j.running.Swap(true) {
		return
	}
	j.wg.Add(1)
	go j.writerLoop()
}

// Stop hands over anything still pending, then waits for the writer to drain.
func (j *FaultJournal) Stop() {
	j.stopOnce.Do(func() {
		if !j.running.Load() {
			return
		}
		j.flush()
		j.running.Store(false)
		close(j.batches)
		j.wg.Wait()
	})
}

// Report is a fault.Reporter. It must be called on the frame goroutine.
func (j *FaultJournal) Report(cerr *fault.CallbackError) {
	if len(j.pending) >= j.opts.MaxPending {
		j.drop(1)
		return
	}
	rec := persist.FaultRecord{
		EntityID:   uint64(cerr.Entity),
		Callback:   string(cerr.Kind),
		Detail:     cerr.Detail,
		Frame:      j.frame,
		OccurredAt: time.Now(),
	}
	if cerr.Err != nil {
		rec.Message = cerr.Err.Error()
	}
	if j.Names != nil {
		rec.Behavior = j.Names(cerr.Entity)
	}
	j.pending = append(j.pending, rec)
}

func (j *FaultJournal) Update(_ time.Duration) {
	j.frame++
	j.flush()
}

// Pending returns the records buffered since the last flush.
func (j *FaultJournal) Pending() int { return len(j.pending) }

func (j *FaultJournal) Written() uint64 { return j.written.Load() }

func (j *FaultJournal) Dropped() uint64 { return j.dropped.Load() }

func (j *FaultJournal) flush() {
	if len(j.pending) == 0 || !j.running.Load() {
		return
	}
	batch := j.pending
	j.pending = make([]persist.FaultRecord, 0, len(batch))
	select {
	case j.batches <- batch:
	default:
		j.drop(len(batch))
		j.log.Warn("fault journal behind, batch dropped", zap.Int("records", len(batch)))
	}
}

func (j *FaultJournal) drop(n int) {
	j.dropped.Add(uint64(n))
	if j.metrics != nil {
		j.metrics.RecordJournalDrop(n)
	}
}

func (j *FaultJournal) writerLoop() {
	defer j.wg.Done()
	for batch := range j.batches {
		ctx, cancel := context.WithTimeout(context.Background(), j.opts.WriteTimeout)
		err := j.store.InsertFaults(ctx, batch)
		cancel()
		if err != nil {
			level := zap.ErrorLevel
			if errors.Is(err, context.DeadlineExceeded) {
				level = zap.WarnLevel
			}
			j.log.Log(level, "fault journal write failed", zap.Int("records", len(batch)), zap.Error(err))
			j.drop(len(batch))
			continue
		}
		j.written.Add(uint64(len(batch)))
	}
}
