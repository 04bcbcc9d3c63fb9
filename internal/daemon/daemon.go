// Package daemon ties the pipeline together: single-instance locking, the
// worker manager, and the administrative HTTP surface.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/gofrs/flock"

	"edicola/internal/api"
	"edicola/internal/config"
	"edicola/internal/logging"
	"edicola/internal/store"
	"edicola/internal/workers"
)

// Daemon coordinates the background workers and enforces single-instance
// execution.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *store.Store
	workers *workers.Manager
	service *api.Service

	lockPath string
	lock     *flock.Flock

	apiSrv *apiServer

	running atomic.Bool
	cancel  context.CancelFunc
}

// New constructs a daemon with initialized dependencies. scanner and fetcher
// feed the administrative service and may be nil when unconfigured.
func New(cfg *config.Config, st *store.Store, manager *workers.Manager, scanner api.Scanner, fetcher api.DocumentFetcher, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || st == nil || manager == nil {
		return nil, errors.New("daemon requires config, store, and worker manager")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	lockPath := filepath.Join(cfg.Paths.DataDir, "edicolad.lock")
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.WithComponent(logger, "daemon"),
		store:    st,
		workers:  manager,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.service = api.NewService(st, scanner, fetcher, d.running.Load)

	srv, err := newAPIServer(cfg, d.service, d.logger)
	if err != nil {
		return nil, err
	}
	d.apiSrv = srv
	return d, nil
}

// Service exposes the administrative operations (used directly in tests).
func (d *Daemon) Service() *api.Service {
	return d.service
}

// APIAddr returns the bound address of the admin API, or empty when the
// server is not running.
func (d *Daemon) APIAddr() string {
	if d.apiSrv == nil {
		return ""
	}
	return d.apiSrv.addr()
}

// Start acquires the instance lock and launches workers and the admin API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another edicola daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.workers.Start(runCtx); err != nil {
		cancel()
		d.cancel = nil
		_ = d.lock.Unlock()
		return fmt.Errorf("start workers: %w", err)
	}
	if d.apiSrv != nil {
		if err := d.apiSrv.start(runCtx); err != nil {
			d.workers.Stop()
			cancel()
			d.cancel = nil
			_ = d.lock.Unlock()
			return err
		}
	}

	d.running.Store(true)
	d.logger.Info("daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop shuts down workers and the admin API and releases the instance lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.workers.Stop()
	if d.apiSrv != nil {
		d.apiSrv.stop()
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("release instance lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("daemon stopped")
}

// Close stops the daemon and closes the store.
func (d *Daemon) Close() error {
	d.Stop()
	return d.store.Close()
}
