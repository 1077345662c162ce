package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vertextoedge/terabox-downloader/internal/domain"
	"github.com/vertextoedge/terabox-downloader/internal/domain/event"
	"github.com/vertextoedge/terabox-downloader/internal/service/progress"
	"github.com/vertextoedge/terabox-downloader/internal/service/retry"
	"github.com/vertextoedge/terabox-downloader/internal/service/transfer"
)

type fixedSelector struct {
	backend     domain.BackendKind
	invalidated atomic.Int32
}

func (s *fixedSelector) Select(ctx context.Context, desc domain.FileDescriptor) domain.BackendKind {
	return s.backend
}

func (s *fixedSelector) Invalidate() { s.invalidated.Add(1) }

// fakeRunner delegates each attempt to fn and tracks concurrency
type fakeRunner struct {
	fn func(ctx context.Context, s *domain.TransferSession, obs transfer.Observer) error

	mu       sync.Mutex
	calls    map[string]int
	active   int
	maxSeen  int
	attempts int
}

func newFakeRunner(fn func(ctx context.Context, s *domain.TransferSession, obs transfer.Observer) error) *fakeRunner {
	return &fakeRunner{fn: fn, calls: make(map[string]int)}
}

func (r *fakeRunner) Run(ctx context.Context, s *domain.TransferSession, backend domain.BackendKind, obs transfer.Observer) error {
	r.mu.Lock()
	r.calls[s.ID]++
	r.attempts++
	r.active++
	if r.active > r.maxSeen {
		r.maxSeen = r.active
	}
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.active--
		r.mu.Unlock()
	}()
	return r.fn(ctx, s, obs)
}

func (r *fakeRunner) callsFor(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[id]
}

func succeed(ctx context.Context, s *domain.TransferSession, obs transfer.Observer) error {
	obs.Started(0)
	half := s.Descriptor.Size / 2
	obs.Progress(half)
	obs.Progress(s.Descriptor.Size)
	obs.Verifying()
	return nil
}

func newBatch(t *testing.T, n int) *domain.DownloadBatch {
	t.Helper()
	files := make([]domain.FileDescriptor, n)
	for i := range files {
		name := fmt.Sprintf("f%d.bin", i)
		files[i] = domain.FileDescriptor{
			Name:         name,
			Size:         int64(100 * (i + 1)),
			DownloadURL:  "http://h/" + name,
			RelativePath: []string{"dir", name},
		}
	}
	batch, err := domain.NewBatch("https://terabox.com/s/1test", files)
	require.NoError(t, err)
	return batch
}

type harness struct {
	orch       *Orchestrator
	runner     *fakeRunner
	selector   *fixedSelector
	aggregator *progress.Aggregator
}

func newHarness(workers int, policy retry.Policy, fn func(ctx context.Context, s *domain.TransferSession, obs transfer.Observer) error) *harness {
	logger := zap.NewNop()
	dispatcher := event.NewInMemoryDispatcher(logger)
	agg := progress.NewAggregator(time.Second)
	dispatcher.Subscribe(agg)

	controller := retry.NewController(policy, dispatcher, 0, logger)
	runner := newFakeRunner(fn)
	selector := &fixedSelector{backend: domain.BackendDirect}

	return &harness{
		orch:       New(&Config{Workers: workers}, selector, runner, controller, dispatcher, logger),
		runner:     runner,
		selector:   selector,
		aggregator: agg,
	}
}

func fastPolicy(maxAttempts int) retry.Policy {
	return retry.Policy{MaxAttempts: maxAttempts, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestOrchestrator_AllSuccess(t *testing.T) {
	h := newHarness(3, fastPolicy(3), succeed)
	batch := newBatch(t, 8)

	summary := h.orch.Run(context.Background(), batch)

	assert.True(t, summary.OK())
	assert.Equal(t, 8, summary.Completed)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 0, summary.Cancelled)
	assert.Equal(t, batch.TotalBytes(), summary.BytesDone)
	assert.True(t, batch.Done())
	assert.LessOrEqual(t, h.runner.maxSeen, 3)

	snap := h.aggregator.Snapshot()
	assert.Equal(t, 8, snap.TotalFiles)
	assert.Equal(t, 8, snap.Completed)
	assert.Equal(t, batch.TotalBytes(), snap.BytesDone)
	assert.True(t, snap.Done())
}

func TestOrchestrator_ExactlyMaxAttempts(t *testing.T) {
	h := newHarness(2, fastPolicy(4), func(ctx context.Context, s *domain.TransferSession, obs transfer.Observer) error {
		obs.Started(0)
		obs.Progress(10)
		return domain.NewTransferError(domain.ErrorKindConnectionReset, errors.New("reset by peer"))
	})
	batch := newBatch(t, 1)

	summary := h.orch.Run(context.Background(), batch)

	s := batch.Sessions[0]
	assert.Equal(t, 4, h.runner.callsFor(s.ID))
	assert.Equal(t, 4, s.AttemptCount)
	assert.Equal(t, domain.SessionStatusFailed, s.Status)
	assert.Equal(t, domain.ErrorKindConnectionReset, s.LastError)

	require.Len(t, summary.Failures, 1)
	assert.Equal(t, 4, summary.Failures[0].Attempts)
	assert.Equal(t, domain.ErrorKindConnectionReset, summary.Failures[0].Kind)
}

func TestOrchestrator_RecoversAfterTransientFailure(t *testing.T) {
	var mu sync.Mutex
	failed := make(map[string]bool)
	h := newHarness(2, fastPolicy(3), func(ctx context.Context, s *domain.TransferSession, obs transfer.Observer) error {
		mu.Lock()
		first := !failed[s.ID]
		failed[s.ID] = true
		mu.Unlock()
		if first {
			obs.Started(0)
			return domain.NewTransferError(domain.ErrorKindTimeout, errors.New("stalled"))
		}
		return succeed(ctx, s, obs)
	})
	batch := newBatch(t, 3)

	summary := h.orch.Run(context.Background(), batch)

	assert.Equal(t, 3, summary.Completed)
	for _, s := range batch.Sessions {
		assert.Equal(t, 2, s.AttemptCount)
	}
}

func TestOrchestrator_FatalFailureDoesNotAbortBatch(t *testing.T) {
	batch := newBatch(t, 4)
	bad := batch.Sessions[1].ID
	h := newHarness(2, fastPolicy(3), func(ctx context.Context, s *domain.TransferSession, obs transfer.Observer) error {
		if s.ID == bad {
			return domain.NewResolutionError(domain.ErrorKindExpired, s.Descriptor.DownloadURL, errors.New("link expired"))
		}
		return succeed(ctx, s, obs)
	})

	summary := h.orch.Run(context.Background(), batch)

	assert.Equal(t, 3, summary.Completed)
	assert.Equal(t, 1, summary.Failed)
	assert.False(t, summary.OK())
	assert.Equal(t, 1, h.runner.callsFor(bad))
	assert.Equal(t, domain.ErrorKindExpired, summary.Failures[0].Kind)
}

func TestOrchestrator_FileWithoutLinkFailsAlone(t *testing.T) {
	h := newHarness(2, fastPolicy(3), succeed)
	batch, err := domain.NewBatch("https://terabox.com/s/1test", []domain.FileDescriptor{
		{Name: "a.bin", Size: 10, DownloadURL: "http://h/a.bin", RelativePath: []string{"a.bin"}},
		{Name: "gone.bin", Size: 20, RelativePath: []string{"gone.bin"}},
		{Name: "b.bin", Size: 30, DownloadURL: "http://h/b.bin", RelativePath: []string{"b.bin"}},
	})
	require.NoError(t, err)

	summary := h.orch.Run(context.Background(), batch)

	assert.Equal(t, 2, summary.Completed)
	assert.Equal(t, 1, summary.Failed)
	gone := batch.Sessions[1]
	assert.Equal(t, 0, h.runner.callsFor(gone.ID))
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, domain.ErrorKindNotFound, summary.Failures[0].Kind)
	assert.Equal(t, 0, summary.Failures[0].Attempts)

	snap := h.aggregator.Snapshot()
	assert.Equal(t, 1, snap.Failed)
	assert.True(t, snap.Done())
}

func TestOrchestrator_ExternalTransientInvalidatesProbe(t *testing.T) {
	h := newHarness(1, fastPolicy(2), func(ctx context.Context, s *domain.TransferSession, obs transfer.Observer) error {
		return domain.NewTransferError(domain.ErrorKindTransient, errors.New("rpc unavailable"))
	})
	h.selector.backend = domain.BackendExternal

	h.orch.Run(context.Background(), newBatch(t, 1))

	assert.Equal(t, int32(2), h.selector.invalidated.Load())
}

func TestOrchestrator_CancelInProgressAndPending(t *testing.T) {
	started := make(chan string, 5)
	h := newHarness(3, fastPolicy(3), func(ctx context.Context, s *domain.TransferSession, obs transfer.Observer) error {
		obs.Started(0)
		obs.Progress(1)
		started <- s.ID
		<-ctx.Done()
		return domain.ErrCancelled
	})
	batch := newBatch(t, 5)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for i := 0; i < 3; i++ {
			<-started
		}
		cancel()
	}()

	done := make(chan domain.BatchSummary, 1)
	go func() { done <- h.orch.Run(ctx, batch) }()

	var summary domain.BatchSummary
	select {
	case summary = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancellation")
	}

	assert.True(t, batch.Done())
	assert.Equal(t, 5, summary.Cancelled)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 0, summary.Completed)

	var inProgress, neverStarted int
	for _, s := range batch.Sessions {
		assert.True(t, s.IsCancelled(), "session %s status %s", s.Descriptor.Path(), s.Status)
		switch s.AttemptCount {
		case 0:
			neverStarted++
		case 1:
			inProgress++
		}
	}
	assert.Equal(t, 3, inProgress)
	assert.Equal(t, 2, neverStarted)

	snap := h.aggregator.Snapshot()
	assert.Equal(t, 5, snap.Cancelled)
	assert.True(t, snap.Done())
}

func TestOrchestrator_CancelDuringBackoff(t *testing.T) {
	h := newHarness(1, retry.Policy{MaxAttempts: 3, BaseDelay: time.Hour, MaxDelay: time.Hour},
		func(ctx context.Context, s *domain.TransferSession, obs transfer.Observer) error {
			return domain.NewTransferError(domain.ErrorKindTimeout, errors.New("stalled"))
		})
	batch := newBatch(t, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	summary := h.orch.Run(ctx, batch)

	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 1, summary.Cancelled)
	assert.Equal(t, 1, batch.Sessions[0].AttemptCount)
}

func TestOrchestrator_WorkersBounded(t *testing.T) {
	h := newHarness(2, fastPolicy(1), func(ctx context.Context, s *domain.TransferSession, obs transfer.Observer) error {
		time.Sleep(5 * time.Millisecond)
		return succeed(ctx, s, obs)
	})

	summary := h.orch.Run(context.Background(), newBatch(t, 10))

	assert.Equal(t, 10, summary.Completed)
	assert.LessOrEqual(t, h.runner.maxSeen, 2)
	assert.Equal(t, 10, h.runner.attempts)
}
