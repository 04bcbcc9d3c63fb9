// Package token caches the upstream bearer token in memory and on disk and
// refreshes it through a pluggable source when the upstream rejects it.
package token

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"edicola/internal/logging"
)

// Source produces a fresh bearer token. Implementations log in against the
// portal (browser flow) or request an anonymous session.
type Source interface {
	Fetch(ctx context.Context) (string, error)
}

// RequestBuilder constructs an HTTP request carrying the given bearer token.
// It is invoked again with a fresh token when the first attempt is rejected.
type RequestBuilder func(ctx context.Context, token string) (*http.Request, error)

// Manager serializes token acquisition so that concurrent callers share a
// single login, and persists the token so restarts reuse it.
type Manager struct {
	source Source
	path   string
	logger *slog.Logger

	mu    sync.Mutex
	token string
}

// NewManager creates a manager persisting tokens at path.
func NewManager(source Source, path string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		source: source,
		path:   path,
		logger: logging.WithComponent(logger, "token"),
	}
}

// Get returns the current token, reading the persisted copy or performing a
// fresh login when no token is cached. Concurrent callers block on the same
// login rather than starting their own.
func (m *Manager) Get(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token != "" {
		return m.token, nil
	}
	if stored, err := m.readFile(); err != nil {
		return "", err
	} else if stored != "" {
		m.token = stored
		return stored, nil
	}
	return m.refreshLocked(ctx)
}

// Invalidate discards a rejected token and fetches a replacement. The stale
// argument is the token the caller was using: when another caller has already
// refreshed, the current token is returned without a second login.
func (m *Manager) Invalidate(ctx context.Context, stale string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token != "" && m.token != stale {
		return m.token, nil
	}
	m.token = ""
	m.logger.Info("bearer token rejected, refreshing")
	return m.refreshLocked(ctx)
}

// AuthorizedDo sends the built request with the current token and retries
// exactly once with a refreshed token when the upstream answers 401. The
// caller owns the returned response body.
func (m *Manager) AuthorizedDo(ctx context.Context, client *http.Client, build RequestBuilder) (*http.Response, error) {
	if client == nil {
		client = http.DefaultClient
	}

	current, err := m.Get(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := m.doOnce(ctx, client, build, current)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	drain(resp)

	refreshed, err := m.Invalidate(ctx, current)
	if err != nil {
		return nil, err
	}
	return m.doOnce(ctx, client, build, refreshed)
}

func (m *Manager) doOnce(ctx context.Context, client *http.Client, build RequestBuilder, tok string) (*http.Response, error) {
	req, err := build(ctx, tok)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	return resp, nil
}

func (m *Manager) refreshLocked(ctx context.Context) (string, error) {
	if m.source == nil {
		return "", errors.New("no token source configured")
	}
	fresh, err := m.source.Fetch(ctx)
	if err != nil {
		return "", fmt.Errorf("fetch token: %w", err)
	}
	fresh = strings.TrimSpace(fresh)
	if fresh == "" {
		return "", errors.New("token source returned an empty token")
	}
	if err := m.writeFile(fresh); err != nil {
		return "", err
	}
	m.token = fresh
	m.logger.Info("bearer token refreshed")
	return fresh, nil
}

func (m *Manager) readFile() (string, error) {
	if m.path == "" {
		return "", nil
	}
	data, err := os.ReadFile(m.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("read token file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (m *Manager) writeFile(tok string) error {
	if m.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("create token directory: %w", err)
	}
	if err := os.WriteFile(m.path, []byte(tok+"\n"), 0o600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	return nil
}

func drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}
