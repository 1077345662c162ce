package maintenance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

// mockCleaner implements Cleaner for testing
type mockCleaner struct {
	mu            sync.Mutex
	tempCount     int
	tempErr       error
	dirsErr       error
	tempCalled    int
	dirsCalled    int
	lastOlderThan time.Duration
}

func (m *mockCleaner) CleanOldTempFiles(olderThan time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tempCalled++
	m.lastOlderThan = olderThan
	return m.tempCount, m.tempErr
}

func (m *mockCleaner) CleanEmptyDirs() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirsCalled++
	return m.dirsErr
}

// mockPruner implements HistoryPruner for testing
type mockPruner struct {
	count  int
	err    error
	called int
	before time.Time
}

func (m *mockPruner) PruneBatches(ctx context.Context, before time.Time) (int, error) {
	m.called++
	m.before = before
	return m.count, m.err
}

func TestService_New(t *testing.T) {
	s := New(nil, &mockCleaner{}, nil, zap.NewNop())
	if s == nil {
		t.Fatal("New() returned nil")
	}
	if s.config.TempFileMaxAge != 24*time.Hour {
		t.Errorf("TempFileMaxAge = %v, want %v", s.config.TempFileMaxAge, 24*time.Hour)
	}
	if !s.config.RemoveEmptyDirs {
		t.Error("RemoveEmptyDirs = false, want true")
	}

	s = New(&Config{TempFileMaxAge: -time.Hour}, &mockCleaner{}, nil, nil)
	if s.config.TempFileMaxAge != 0 {
		t.Errorf("TempFileMaxAge = %v, want 0", s.config.TempFileMaxAge)
	}
}

func TestService_Run(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	fs := &mockCleaner{tempCount: 2}
	history := &mockPruner{count: 3}

	s := New(&Config{TempFileMaxAge: 6 * time.Hour, RemoveEmptyDirs: true, HistoryMaxAge: 48 * time.Hour}, fs, history, zap.NewNop())
	s.now = func() time.Time { return now }

	report, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.TempFiles != 2 || report.PrunedBatches != 3 {
		t.Errorf("Run() report = %+v, want 2 temp files and 3 batches", report)
	}
	if fs.lastOlderThan != 6*time.Hour {
		t.Errorf("CleanOldTempFiles(%v), want %v", fs.lastOlderThan, 6*time.Hour)
	}
	if fs.dirsCalled != 1 {
		t.Errorf("CleanEmptyDirs called %d times, want 1", fs.dirsCalled)
	}
	if want := now.Add(-48 * time.Hour); !history.before.Equal(want) {
		t.Errorf("PruneBatches(before = %v), want %v", history.before, want)
	}
}

func TestService_RunSkipsOptionalSteps(t *testing.T) {
	fs := &mockCleaner{}
	history := &mockPruner{}

	s := New(&Config{TempFileMaxAge: time.Hour}, fs, history, zap.NewNop())
	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if fs.dirsCalled != 0 {
		t.Errorf("CleanEmptyDirs called %d times, want 0", fs.dirsCalled)
	}
	if history.called != 0 {
		t.Errorf("PruneBatches called %d times, want 0 without HistoryMaxAge", history.called)
	}

	// nil history is allowed
	s = New(&Config{HistoryMaxAge: time.Hour}, fs, nil, zap.NewNop())
	if _, err := s.Run(context.Background()); err != nil {
		t.Errorf("Run() without history error = %v", err)
	}
}

func TestService_RunErrors(t *testing.T) {
	tempErr := errors.New("walk failed")
	s := New(nil, &mockCleaner{tempErr: tempErr}, &mockPruner{}, zap.NewNop())
	if _, err := s.Run(context.Background()); !errors.Is(err, tempErr) {
		t.Errorf("Run() error = %v, want %v", err, tempErr)
	}

	dirsErr := errors.New("permission denied")
	s = New(nil, &mockCleaner{tempCount: 1, dirsErr: dirsErr}, nil, zap.NewNop())
	report, err := s.Run(context.Background())
	if err != nil {
		t.Errorf("Run() error = %v, want empty dir failures to be reported only", err)
	}
	if !errors.Is(report.EmptyDirsError, dirsErr) || report.TempFiles != 1 {
		t.Errorf("Run() report = %+v", report)
	}

	pruneErr := errors.New("database is locked")
	s = New(&Config{HistoryMaxAge: time.Hour}, &mockCleaner{}, &mockPruner{err: pruneErr}, zap.NewNop())
	if _, err := s.Run(context.Background()); !errors.Is(err, pruneErr) {
		t.Errorf("Run() error = %v, want %v", err, pruneErr)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.TempFileMaxAge != 24*time.Hour {
		t.Errorf("TempFileMaxAge = %v, want %v", cfg.TempFileMaxAge, 24*time.Hour)
	}
	if cfg.HistoryMaxAge != 0 {
		t.Errorf("HistoryMaxAge = %v, want 0", cfg.HistoryMaxAge)
	}
}
