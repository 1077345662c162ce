package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/terabox-downloader/internal/domain"
	"github.com/vertextoedge/terabox-downloader/internal/domain/event"
	"github.com/vertextoedge/terabox-downloader/internal/service/retry"
	"github.com/vertextoedge/terabox-downloader/internal/service/transfer"
)

// Runner executes one attempt of a session
type Runner interface {
	Run(ctx context.Context, s *domain.TransferSession, backend domain.BackendKind, obs transfer.Observer) error
}

// Selector picks the backend of a session
type Selector interface {
	Select(ctx context.Context, desc domain.FileDescriptor) domain.BackendKind
	Invalidate()
}

// Config contains orchestrator configuration
type Config struct {
	Workers int
}

// DefaultConfig returns default orchestrator configuration
func DefaultConfig() *Config {
	return &Config{Workers: 3}
}

// Orchestrator runs the sessions of a batch on a bounded worker pool
type Orchestrator struct {
	config     *Config
	selector   Selector
	runner     Runner
	controller *retry.Controller
	dispatcher event.EventDispatcher
	logger     *zap.Logger
}

// New creates a new Orchestrator
func New(
	cfg *Config,
	selector Selector,
	runner Runner,
	controller *retry.Controller,
	dispatcher event.EventDispatcher,
	logger *zap.Logger,
) *Orchestrator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 3
	}
	if dispatcher == nil {
		dispatcher = event.NewNullDispatcher()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		config:     cfg,
		selector:   selector,
		runner:     runner,
		controller: controller,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Run drives every session of the batch to a terminal state and returns
// the summary. Cancelling ctx aborts in-progress sessions and cancels the
// ones still waiting; Run returns once all of them are terminal.
func (o *Orchestrator) Run(ctx context.Context, batch *domain.DownloadBatch) domain.BatchSummary {
	o.dispatcher.Dispatch(event.NewBatchStarted(batch))

	workCtx, cancelWork := context.WithCancel(ctx)
	defer cancelWork()

	q := newQueue(len(batch.Sessions))
	var remaining atomic.Int64
	allDone := make(chan struct{})
	for _, s := range batch.Sessions {
		if s.Status.IsTerminal() {
			o.logger.Warn("file skipped",
				zap.String("path", s.Descriptor.Path()),
				zap.String("error", s.LastErrorMessage),
			)
			o.dispatcher.Dispatch(event.NewSessionStatusChanged(s, domain.SessionStatusPending))
			continue
		}
		remaining.Add(1)
		q.push(s)
	}
	finish := func() {
		if remaining.Add(-1) == 0 {
			close(allDone)
		}
	}
	if remaining.Load() == 0 {
		close(allDone)
	}

	workers := o.config.Workers
	if n := int(remaining.Load()); n < workers {
		workers = n
	}
	o.logger.Info("batch started",
		zap.String("batch_id", batch.ID),
		zap.Int("files", len(batch.Sessions)),
		zap.Int("workers", workers),
	)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go o.worker(workCtx, &wg, q, finish)
	}

	select {
	case <-allDone:
	case <-ctx.Done():
		o.logger.Info("batch cancelled, stopping workers", zap.String("batch_id", batch.ID))
	}

	q.stop()
	cancelWork()
	wg.Wait()

	for _, s := range batch.Sessions {
		o.controller.Cancel(s)
	}

	summary := batch.Summarize(time.Now())
	o.dispatcher.Dispatch(event.NewBatchCompleted(summary))
	return summary
}

// worker takes sessions off the queue until the batch is finished or cancelled
func (o *Orchestrator) worker(ctx context.Context, wg *sync.WaitGroup, q *queue, finish func()) {
	defer wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case s := <-q.ch:
			if ctx.Err() != nil {
				return
			}
			dec := o.process(ctx, s)
			if dec.Retry {
				q.schedule(s, dec.Delay)
				continue
			}
			finish()
		}
	}
}

// process runs one attempt of a session and applies its outcome
func (o *Orchestrator) process(ctx context.Context, s *domain.TransferSession) retry.Decision {
	backend := o.selector.Select(ctx, s.Descriptor)
	if err := o.controller.Begin(s, backend); err != nil {
		o.logger.Error("failed to start session",
			zap.String("session_id", s.ID),
			zap.String("path", s.Descriptor.Path()),
			zap.Error(err))
		return retry.Decision{}
	}

	err := o.runner.Run(ctx, s, backend, &sessionObserver{controller: o.controller, session: s, logger: o.logger})
	if err != nil && backend == domain.BackendExternal && domain.KindOf(err) == domain.ErrorKindTransient {
		// the manager may have gone away; probe again before the next pick
		o.selector.Invalidate()
	}
	return o.controller.Finish(ctx, s, err)
}

// sessionObserver forwards runner milestones to the controller
type sessionObserver struct {
	controller *retry.Controller
	session    *domain.TransferSession
	logger     *zap.Logger
}

func (o *sessionObserver) Started(offset int64) {
	o.controller.Restart(o.session, offset)
}

func (o *sessionObserver) Progress(bytesDone int64) {
	o.controller.Progress(o.session, bytesDone)
}

func (o *sessionObserver) Verifying() {
	if err := o.controller.Verify(o.session); err != nil {
		o.logger.Warn("unexpected verify transition", zap.String("session_id", o.session.ID), zap.Error(err))
	}
}

// queue holds runnable sessions and the timers of scheduled retries.
// The channel is sized to the batch so a push never blocks.
type queue struct {
	ch chan *domain.TransferSession

	mu      sync.Mutex
	stopped bool
	timers  map[string]*time.Timer
}

func newQueue(size int) *queue {
	return &queue{
		ch:     make(chan *domain.TransferSession, size),
		timers: make(map[string]*time.Timer),
	}
}

func (q *queue) push(s *domain.TransferSession) {
	q.ch <- s
}

// schedule re-enqueues s after delay without holding a worker
func (q *queue) schedule(s *domain.TransferSession, delay time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return
	}
	q.timers[s.ID] = time.AfterFunc(delay, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		if q.stopped {
			return
		}
		delete(q.timers, s.ID)
		q.ch <- s
	})
}

// stop cancels pending retries; sessions they held stay pending
func (q *queue) stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stopped = true
	for id, t := range q.timers {
		t.Stop()
		delete(q.timers, id)
	}
}
