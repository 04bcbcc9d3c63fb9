// Package workers contains the four independent loops that advance issues
// through the pipeline: discovery, download, OCR, and delivery. The loops
// never call each other; all coordination happens through the store.
package workers

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"edicola/internal/logging"
)

// Worker is one independent pipeline loop. Run blocks until the context is
// cancelled.
type Worker interface {
	Name() string
	Run(ctx context.Context)
}

// Manager owns the worker goroutines and their shared lifecycle.
type Manager struct {
	logger  *slog.Logger
	workers []Worker

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager constructs a manager over the given workers.
func NewManager(logger *slog.Logger, workers ...Worker) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{logger: logger, workers: workers}
}

// Start launches one goroutine per worker.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("workers already running")
	}
	if len(m.workers) == 0 {
		return errors.New("no workers configured")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true

	m.wg.Add(len(m.workers))
	for _, worker := range m.workers {
		go func(w Worker) {
			defer m.wg.Done()
			m.logger.Info("worker started", logging.String(logging.FieldComponent, w.Name()))
			w.Run(runCtx)
			m.logger.Info("worker stopped", logging.String(logging.FieldComponent, w.Name()))
		}(worker)
	}
	return nil
}

// Stop cancels all workers and waits for them to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

// pollLoop runs scan on a fixed interval until the context is cancelled. A
// panic or error inside one scan is contained to that scan; the loop always
// reaches its next cycle.
func pollLoop(ctx context.Context, interval time.Duration, logger *slog.Logger, scan func(ctx context.Context) error) {
	for {
		runScan(ctx, logger, scan)
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

func runScan(ctx context.Context, logger *slog.Logger, scan func(ctx context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("scan panicked",
				logging.Any("panic", r),
				logging.String("stack", string(debug.Stack())))
		}
	}()
	if err := scan(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("scan failed", logging.Error(err))
	}
}
