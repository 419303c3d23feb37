package transfer

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BotCoder254/remocloud-sub000/transfer/network"
)

func newTestManager(service *fakeService, backend network.TransferBackend) *Manager {
	return NewManager(ManagerParams{
		API:     service.apiClient(),
		Backend: backend,
		Logger:  log.NewLogger(),
	})
}

func TestManagerUpload(t *testing.T) {
	service := newFakeService(t)
	manager := newTestManager(service, nil)

	record, err := manager.Upload(context.Background(), "b1", FileFromBytes("notes.txt", "text/plain", []byte("hello world")), fastOptions())
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "f-new", record.ID)
}

func TestManagerSubscribe(t *testing.T) {
	service := newFakeService(t)
	manager := newTestManager(service, nil)

	var mu sync.Mutex
	var seen []Snapshot
	unsubscribe := manager.Subscribe(func(snapshot Snapshot) {
		mu.Lock()
		seen = append(seen, snapshot)
		mu.Unlock()
	})

	id := manager.StartUpload(context.Background(), "b1", FileFromBytes("notes.txt", "text/plain", []byte("hello world")), fastOptions())
	_, err := manager.Wait(id)
	require.NoError(t, err)

	mu.Lock()
	require.NotEmpty(t, seen)
	last := seen[len(seen)-1]
	countBefore := len(seen)
	mu.Unlock()

	assert.Equal(t, id, last.ID)
	assert.Equal(t, StatusCompleted, last.Status)

	unsubscribe()

	id2 := manager.StartUpload(context.Background(), "b1", FileFromBytes("more.txt", "text/plain", []byte("hello again")), fastOptions())
	_, err = manager.Wait(id2)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, countBefore, len(seen), "no events after unsubscribing")
}

func TestManagerCancelMidUpload(t *testing.T) {
	service := newFakeService(t)
	backend := &blockingBackend{started: make(chan struct{})}
	manager := newTestManager(service, backend)

	id := manager.StartUpload(context.Background(), "b1", FileFromBytes("notes.txt", "text/plain", []byte("hello world")), fastOptions())

	select {
	case <-backend.started:
	case <-time.After(5 * time.Second):
		t.Fatal("upload never reached the transfer phase")
	}

	require.NoError(t, manager.Cancel(id))

	snapshot, err := manager.Wait(id)
	require.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, StatusError, snapshot.Status)

	_, _, _, _, cancels := service.counts()
	assert.Equal(t, 1, cancels, "the server-side session is released")
}

func TestManagerCancelUnknownSession(t *testing.T) {
	service := newFakeService(t)
	manager := newTestManager(service, nil)
	assert.Error(t, manager.Cancel("nope"))
}

func TestManagerRemove(t *testing.T) {
	service := newFakeService(t)
	backend := &blockingBackend{started: make(chan struct{})}
	manager := newTestManager(service, backend)

	id := manager.StartUpload(context.Background(), "b1", FileFromBytes("notes.txt", "text/plain", []byte("hello world")), fastOptions())
	<-backend.started

	assert.Error(t, manager.Remove(id), "live sessions cannot be removed")

	require.NoError(t, manager.Cancel(id))
	_, _ = manager.Wait(id)

	require.NoError(t, manager.Remove(id))
	_, ok := manager.Session(id)
	assert.False(t, ok)
	assert.Error(t, manager.Remove(id))
}

func TestManagerSessions(t *testing.T) {
	service := newFakeService(t)
	manager := newTestManager(service, nil)

	id1 := manager.StartUpload(context.Background(), "b1", FileFromBytes("a.txt", "text/plain", []byte("aaa")), fastOptions())
	id2 := manager.StartUpload(context.Background(), "b1", FileFromBytes("b.txt", "text/plain", []byte("bbb")), fastOptions())
	_, err := manager.Wait(id1)
	require.NoError(t, err)
	_, err = manager.Wait(id2)
	require.NoError(t, err)

	snapshots := manager.Sessions()
	assert.Len(t, snapshots, 2)
	for _, snapshot := range snapshots {
		assert.Equal(t, StatusCompleted, snapshot.Status)
	}
}

func TestManagerUploadGlob(t *testing.T) {
	service := newFakeService(t)
	manager := newTestManager(service, nil)

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("aaa"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b.txt"), []byte("bbb"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.log"), []byte("ccc"), 0644))

	restore := chdir(t, dir)
	defer restore()

	records, err := manager.UploadGlob(context.Background(), "b1", []string{"**/*.txt"}, fastOptions())
	require.NoError(t, err)
	assert.Len(t, records, 2)

	_, puts, completes, _, _ := service.counts()
	assert.Equal(t, 2, puts)
	assert.Equal(t, 2, completes)
}

func TestManagerUploadGlobNoMatch(t *testing.T) {
	service := newFakeService(t)
	manager := newTestManager(service, nil)

	restore := chdir(t, t.TempDir())
	defer restore()

	records, err := manager.UploadGlob(context.Background(), "b1", []string{"**/*.txt"}, fastOptions())
	require.NoError(t, err)
	assert.Empty(t, records)

	initiates, _, _, _, _ := service.counts()
	assert.Equal(t, 0, initiates)
}

func chdir(t *testing.T, dir string) func() {
	t.Helper()
	previous, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	return func() {
		_ = os.Chdir(previous)
	}
}
