package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bmatcuk/doublestar/v4"

	"github.com/BotCoder254/remocloud-sub000/transfer/network"
)

// ManagerParams configure a Manager.
type ManagerParams struct {
	API *network.APIClient
	// Backend performs the direct PUTs. Nil means the HTTP signed-URL backend.
	Backend network.TransferBackend
	Logger  log.Logger
	// EnvRepo enables usage analytics when set.
	EnvRepo env.Repository
}

// Manager owns the set of in-flight upload sessions. Sessions live only in
// memory: the map is the single source of truth and snapshots fan out to
// subscribers instead of being polled.
type Manager struct {
	api     *network.APIClient
	backend network.TransferBackend
	logger  log.Logger
	tracker *transferTracker

	mu          sync.Mutex
	sessions    map[string]*managedSession
	subscribers map[int]func(Snapshot)
	nextSubID   int
}

type managedSession struct {
	orch   *Orchestrator
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// NewManager ...
func NewManager(params ManagerParams) *Manager {
	backend := params.Backend
	if backend == nil {
		backend = network.NewHTTPBackend(params.Logger)
	}

	var tracker *transferTracker
	if params.EnvRepo != nil {
		tracker = newTransferTracker(params.EnvRepo, params.Logger)
	}

	return &Manager{
		api:         params.API,
		backend:     backend,
		logger:      params.Logger,
		tracker:     tracker,
		sessions:    map[string]*managedSession{},
		subscribers: map[int]func(Snapshot){},
	}
}

// Subscribe registers a snapshot listener for every session the manager
// runs. The returned function unsubscribes.
func (m *Manager) Subscribe(fn func(Snapshot)) func() {
	m.mu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.subscribers[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subscribers, id)
		m.mu.Unlock()
	}
}

// StartUpload launches an upload in the background and returns its session
// id immediately.
func (m *Manager) StartUpload(ctx context.Context, bucketID string, file FileRef, opts UploadOptions) string {
	callerStateChange := opts.OnStateChange
	opts.OnStateChange = func(snapshot Snapshot) {
		if callerStateChange != nil {
			callerStateChange(snapshot)
		}
		m.notify(snapshot)
	}

	orch := NewOrchestrator(m.api, m.backend, m.logger, bucketID, file, opts)
	orch.tracker = m.tracker

	runCtx, cancel := context.WithCancel(ctx)
	ms := &managedSession{
		orch:   orch,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	m.mu.Lock()
	m.sessions[orch.SessionID()] = ms
	m.mu.Unlock()

	go func() {
		defer close(ms.done)
		defer cancel()
		_, err := orch.Run(runCtx)
		if errors.Is(err, context.Canceled) {
			err = ErrCancelled
		}
		ms.err = err
	}()

	return orch.SessionID()
}

// Wait blocks until the session reaches a terminal state.
func (m *Manager) Wait(id string) (Snapshot, error) {
	m.mu.Lock()
	ms, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return Snapshot{}, fmt.Errorf("unknown session: %s", id)
	}

	<-ms.done
	return ms.orch.Snapshot(), ms.err
}

// Upload runs one upload synchronously.
func (m *Manager) Upload(ctx context.Context, bucketID string, file FileRef, opts UploadOptions) (*network.FileRecord, error) {
	id := m.StartUpload(ctx, bucketID, file, opts)
	snapshot, err := m.Wait(id)
	if err != nil {
		return nil, err
	}
	return snapshot.Result, nil
}

// Session returns the snapshot of one session.
func (m *Manager) Session(id string) (Snapshot, bool) {
	m.mu.Lock()
	ms, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}
	return ms.orch.Snapshot(), true
}

// Sessions returns snapshots of every known session.
func (m *Manager) Sessions() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshots := make([]Snapshot, 0, len(m.sessions))
	for _, ms := range m.sessions {
		snapshots = append(snapshots, ms.orch.Snapshot())
	}
	return snapshots
}

// Cancel aborts an in-flight session. The in-flight network call is
// interrupted promptly and the orchestrator releases the server-side session
// before landing in its terminal state.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	ms, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown session: %s", id)
	}

	ms.cancel()
	return nil
}

// Remove drops a terminal session from the map. Live sessions cannot be
// removed; cancel them first.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ms, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("unknown session: %s", id)
	}
	if !ms.orch.Snapshot().Status.Terminal() {
		return fmt.Errorf("session %s is still running", id)
	}
	delete(m.sessions, id)
	return nil
}

// UploadGlob expands the patterns (doublestar globs such as `media/**/*.png`
// are supported) relative to the working directory and uploads every matched
// file concurrently. Records are returned for the uploads that succeeded.
func (m *Manager) UploadGlob(ctx context.Context, bucketID string, patterns []string, opts UploadOptions) ([]network.FileRecord, error) {
	workingDir, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	paths := m.expandPatterns(workingDir, patterns)
	if len(paths) == 0 {
		m.logger.Warnf("No files matched the provided patterns")
		return nil, nil
	}

	semaphore := make(chan struct{}, uploadConcurrency())
	var wg sync.WaitGroup
	var mu sync.Mutex
	var records []network.FileRecord
	var errs []error

	for _, path := range paths {
		wg.Add(1)
		go func(path string) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			file, err := FileFromPath(path)
			if err == nil {
				var record *network.FileRecord
				record, err = m.Upload(ctx, bucketID, file, opts)
				if err == nil && record != nil {
					mu.Lock()
					records = append(records, *record)
					mu.Unlock()
					return
				}
			}
			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", path, err))
				mu.Unlock()
			}
		}(path)
	}
	wg.Wait()

	return records, errors.Join(errs...)
}

// Close flushes pending analytics events.
func (m *Manager) Close() {
	m.tracker.wait()
}

func (m *Manager) notify(snapshot Snapshot) {
	m.mu.Lock()
	listeners := make([]func(Snapshot), 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		listeners = append(listeners, fn)
	}
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(snapshot)
	}
}

func (m *Manager) expandPatterns(workingDir string, patterns []string) []string {
	var paths []string
	for _, pattern := range patterns {
		if strings.Contains(pattern, "*") {
			matches, err := doublestar.Glob(os.DirFS(workingDir), pattern)
			if err != nil {
				m.logger.Warnf("Error in pattern '%s': %s", pattern, err)
				continue
			}
			if matches == nil {
				m.logger.Warnf("No match for pattern: %s", pattern)
				continue
			}
			paths = append(paths, matches...)
		} else {
			paths = append(paths, pattern)
		}
	}

	var files []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		files = append(files, path)
	}
	return files
}

func uploadConcurrency() int {
	c := runtime.NumCPU()
	if c > 8 {
		c = 8
	}
	if c < 2 {
		c = 2
	}
	return c
}
