package retry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/terabox-downloader/internal/domain"
	"github.com/vertextoedge/terabox-downloader/internal/domain/event"
	"github.com/vertextoedge/terabox-downloader/internal/util/ratelimiter"
)

// Decision is the controller's verdict on a finished attempt
type Decision struct {
	Retry bool
	Delay time.Duration
}

// Controller drives the session state machine
//
//	Pending -> InProgress -> Verifying -> Completed
//	                      -> Pending (recoverable, after Delay, while attempts remain)
//	                      -> Failed  (fatal, exhausted or cancelled)
//
// and dispatches an event for every transition. Each session must be driven
// by one goroutine at a time; the controller itself is safe for concurrent use.
type Controller struct {
	policy     Policy
	dispatcher event.EventDispatcher
	throttle   *ratelimiter.Throttle
	logger     *zap.Logger
	now        func() time.Time

	mu      sync.Mutex
	samples map[string]sample
}

type sample struct {
	bytes int64
	at    time.Time
}

// NewController creates a controller. Progress events are emitted at most
// once per progressInterval per session.
func NewController(policy Policy, dispatcher event.EventDispatcher, progressInterval time.Duration, logger *zap.Logger) *Controller {
	if dispatcher == nil {
		dispatcher = event.NewNullDispatcher()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		policy:     policy.normalize(),
		dispatcher: dispatcher,
		throttle:   ratelimiter.New(progressInterval),
		logger:     logger,
		now:        time.Now,
		samples:    make(map[string]sample),
	}
}

// Policy returns the effective retry policy
func (c *Controller) Policy() Policy {
	return c.policy
}

// Begin starts a new attempt of a pending session on the given backend
func (c *Controller) Begin(s *domain.TransferSession, backend domain.BackendKind) error {
	from := s.Status
	if err := s.Start(backend, c.now()); err != nil {
		return err
	}
	c.throttle.Forget(s.ID)
	c.dispatcher.Dispatch(event.NewSessionStatusChanged(s, from))
	return nil
}

// Restart sets the starting offset of the current attempt
func (c *Controller) Restart(s *domain.TransferSession, offset int64) {
	s.Restart(offset)
	c.mu.Lock()
	c.samples[s.ID] = sample{bytes: s.BytesTransferred, at: c.now()}
	c.mu.Unlock()
	c.dispatcher.Dispatch(event.NewSessionProgressed(s, 0))
}

// Progress records transferred bytes and emits a throttled progress event
func (c *Controller) Progress(s *domain.TransferSession, bytesDone int64) {
	if !s.RecordProgress(bytesDone) {
		return
	}
	if ok, _ := c.throttle.Allow(s.ID); !ok {
		return
	}
	c.dispatcher.Dispatch(event.NewSessionProgressed(s, c.rate(s)))
}

// rate returns bytes per second since the previous emitted sample
func (c *Controller) rate(s *domain.TransferSession) float64 {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	prev, ok := c.samples[s.ID]
	c.samples[s.ID] = sample{bytes: s.BytesTransferred, at: now}
	if !ok {
		return 0
	}
	elapsed := now.Sub(prev.at).Seconds()
	if elapsed <= 0 || s.BytesTransferred < prev.bytes {
		return 0
	}
	return float64(s.BytesTransferred-prev.bytes) / elapsed
}

// Verify moves the session into verification
func (c *Controller) Verify(s *domain.TransferSession) error {
	from := s.Status
	if err := s.BeginVerify(); err != nil {
		return err
	}
	c.dispatcher.Dispatch(event.NewSessionStatusChanged(s, from))
	return nil
}

// Finish applies the outcome of an attempt. A nil error completes the
// session; a cancelled context or ErrCancelled cancels it; a recoverable
// error reschedules it while attempts remain; anything else fails it.
func (c *Controller) Finish(ctx context.Context, s *domain.TransferSession, runErr error) Decision {
	from := s.Status
	now := c.now()
	defer c.forget(s.ID)

	if runErr == nil {
		if s.Status == domain.SessionStatusInProgress {
			s.BeginVerify()
		}
		if err := s.Complete(now); err != nil {
			c.logger.Error("invalid completion", zap.String("session_id", s.ID), zap.Error(err))
			s.Fail(domain.ErrorKindTransient, err.Error(), now)
		}
		c.dispatcher.Dispatch(event.NewSessionStatusChanged(s, from))
		return Decision{}
	}

	if ctx.Err() != nil || domain.IsCancelled(runErr) {
		s.Cancel(now)
		c.dispatcher.Dispatch(event.NewSessionStatusChanged(s, from))
		return Decision{}
	}

	kind := domain.KindOf(runErr)
	if domain.IsRecoverable(runErr) && s.CanRetry(c.policy.MaxAttempts) {
		delay := c.policy.Delay(s.AttemptCount)
		if err := s.ScheduleRetry(kind, runErr.Error(), now.Add(delay)); err == nil {
			c.dispatcher.Dispatch(event.NewSessionStatusChanged(s, from))
			return Decision{Retry: true, Delay: delay}
		}
	}

	if domain.IsFatal(runErr) {
		c.logger.Debug("not retrying fatal error",
			zap.String("session_id", s.ID),
			zap.String("kind", kind.String()),
		)
	} else {
		c.logger.Debug("retries exhausted",
			zap.String("session_id", s.ID),
			zap.Int("attempts", s.AttemptCount),
		)
	}
	s.Fail(kind, runErr.Error(), now)
	c.dispatcher.Dispatch(event.NewSessionStatusChanged(s, from))
	return Decision{}
}

// Cancel ends a non-terminal session as cancelled. Sessions that never
// started keep zero attempts.
func (c *Controller) Cancel(s *domain.TransferSession) {
	if s.Status.IsTerminal() {
		return
	}
	from := s.Status
	s.Cancel(c.now())
	c.forget(s.ID)
	c.dispatcher.Dispatch(event.NewSessionStatusChanged(s, from))
}

func (c *Controller) forget(id string) {
	c.throttle.Forget(id)
	c.mu.Lock()
	delete(c.samples, id)
	c.mu.Unlock()
}
