package transfer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"

	"github.com/BotCoder254/remocloud-sub000/backoff"
	"github.com/BotCoder254/remocloud-sub000/errdefs"
	"github.com/BotCoder254/remocloud-sub000/transfer/network"
)

// fakeService is an httptest-backed storage backend covering the upload API
// and the signed-URL storage PUT endpoint. Response status codes can be
// scripted per call; zero/200 means success.
type fakeService struct {
	t *testing.T

	mu        sync.Mutex
	initiates int
	puts      int
	completes int
	dupChecks int
	cancels   int

	duplicate      bool
	existing       []network.FileSummary
	initiateStatus []int
	putStatus      []int
	completeStatus []int
	dupCheckStatus []int
	lastClientHash string

	server *httptest.Server
}

func newFakeService(t *testing.T) *fakeService {
	s := &fakeService{t: t}
	s.server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.server.Close)
	return s
}

func (s *fakeService) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/buckets/") && strings.HasSuffix(r.URL.Path, "/uploads"):
		s.initiates++
		var req network.InitiateUploadRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		s.lastClientHash = req.ClientHash
		if status := pop(&s.initiateStatus); status != 0 {
			writeAPIError(w, status)
			return
		}
		_ = json.NewEncoder(w).Encode(network.UploadTicket{
			UploadID:         fmt.Sprintf("u-%d", s.initiates),
			SignedURL:        s.server.URL + "/storage/obj",
			HeadersToInclude: map[string]string{"x-upload-token": "tok"},
			ExpiresAt:        time.Now().Add(15 * time.Minute),
		})

	case r.Method == http.MethodPut && r.URL.Path == "/storage/obj":
		s.puts++
		if status := pop(&s.putStatus); status != 0 {
			w.WriteHeader(status)
			return
		}
		_, _ = io.Copy(io.Discard, r.Body)
		w.Header().Set("ETag", `"etag-fake"`)

	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/complete"):
		s.completes++
		if status := pop(&s.completeStatus); status != 0 {
			writeAPIError(w, status)
			return
		}
		_ = json.NewEncoder(w).Encode(network.FileRecord{
			ID:        "f-new",
			BucketID:  "b1",
			Name:      "uploaded",
			CreatedAt: time.Now(),
		})

	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/check-duplicate"):
		s.dupChecks++
		if status := pop(&s.dupCheckStatus); status != 0 {
			writeAPIError(w, status)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"isDuplicate":   s.duplicate,
			"existingFiles": s.existing,
			"message":       "",
		})

	case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/uploads/"):
		s.cancels++
		w.WriteHeader(http.StatusNoContent)

	default:
		s.t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		w.WriteHeader(http.StatusTeapot)
	}
}

func pop(statuses *[]int) int {
	if len(*statuses) == 0 {
		return 0
	}
	head := (*statuses)[0]
	*statuses = (*statuses)[1:]
	if head == http.StatusOK {
		return 0
	}
	return head
}

func writeAPIError(w http.ResponseWriter, status int) {
	code := "STORAGE_ERROR"
	switch status {
	case http.StatusGone:
		code = "SIGNED_URL_EXPIRED"
	case http.StatusTooManyRequests:
		code = "RATE_LIMITED"
	case http.StatusUnauthorized:
		code = "UNAUTHORIZED"
	case http.StatusInsufficientStorage:
		code = "QUOTA_EXCEEDED"
	}
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":{"code":%q,"message":"scripted failure"}}`, code)
}

func (s *fakeService) counts() (initiates, puts, completes, dupChecks, cancels int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initiates, s.puts, s.completes, s.dupChecks, s.cancels
}

func (s *fakeService) clientHash() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastClientHash
}

func (s *fakeService) apiClient() *network.APIClient {
	return network.NewAPIClient(nil, s.server.URL, "test-token", log.NewLogger())
}

// fastPolicy is a default-shaped policy with millisecond delays so retry
// paths run quickly in tests.
func fastPolicy(maxRetries int) backoff.Policy {
	return backoff.Policy{
		MaxRetries: maxRetries,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
		Factor:     2,
		RetryableKinds: map[errdefs.Kind]bool{
			errdefs.KindNetwork:     true,
			errdefs.KindTimeout:     true,
			errdefs.KindService:     true,
			errdefs.KindRateLimited: true,
		},
	}
}

func fastOptions() UploadOptions {
	api := fastPolicy(3)
	direct := fastPolicy(3)
	return UploadOptions{APIPolicy: &api, TransferPolicy: &direct}
}

// scriptedBackend is an in-memory TransferBackend with per-call scripted
// errors.
type scriptedBackend struct {
	mu    sync.Mutex
	calls int
	errs  []error
}

func (b *scriptedBackend) Put(ctx context.Context, url string, src network.Source, headers map[string]string, onProgress network.ProgressFunc) (network.TransferResult, error) {
	b.mu.Lock()
	b.calls++
	var err error
	if len(b.errs) > 0 {
		err = b.errs[0]
		b.errs = b.errs[1:]
	}
	b.mu.Unlock()

	if err != nil {
		return network.TransferResult{}, err
	}
	if onProgress != nil {
		onProgress(100, src.Size, src.Size)
	}
	return network.TransferResult{OK: true, Status: 200, ETag: "etag-scripted"}, nil
}

// blockingBackend parks in Put until the context is cancelled.
type blockingBackend struct {
	started chan struct{}
}

func (b *blockingBackend) Put(ctx context.Context, url string, src network.Source, headers map[string]string, onProgress network.ProgressFunc) (network.TransferResult, error) {
	close(b.started)
	<-ctx.Done()
	return network.TransferResult{}, ctx.Err()
}

// stateRecorder collects the status transitions of a session.
type stateRecorder struct {
	mu     sync.Mutex
	states []Status
}

func (r *stateRecorder) record(snapshot Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.states) == 0 || r.states[len(r.states)-1] != snapshot.Status {
		r.states = append(r.states, snapshot.Status)
	}
}

func (r *stateRecorder) recorded() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Status{}, r.states...)
}
