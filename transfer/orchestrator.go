package transfer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	"github.com/google/uuid"

	"github.com/BotCoder254/remocloud-sub000/backoff"
	"github.com/BotCoder254/remocloud-sub000/checksum"
	"github.com/BotCoder254/remocloud-sub000/errdefs"
	"github.com/BotCoder254/remocloud-sub000/transfer/network"
)

// transferProgressShare is the slice of the session's percent range occupied
// by the direct transfer; the tail is reserved for server-side finalization.
const transferProgressShare = 0.9

// maxExpiredURLRestarts bounds how many times an upload restarts from the
// initiating phase after the signed URL expired under it.
const maxExpiredURLRestarts = 2

// ErrCancelled is the terminal error of a cancelled upload.
var ErrCancelled = errors.New("upload cancelled")

// DuplicateChoice is the caller's decision for a duplicate hit.
type DuplicateChoice int

const (
	// DuplicateUseExisting reuses the already-stored file.
	DuplicateUseExisting DuplicateChoice = iota
	// DuplicateContinueUpload uploads anyway.
	DuplicateContinueUpload
	// DuplicateCancel abandons the upload.
	DuplicateCancel
)

// UploadOptions tune one upload.
type UploadOptions struct {
	// SkipDuplicateCheck goes straight to initiating, skipping hashing and
	// the duplicate probe.
	SkipDuplicateCheck bool
	// EnableVersioning is forwarded to the finalize call.
	EnableVersioning bool
	// OnProgress receives the session-scaled progress stream.
	OnProgress network.ProgressFunc
	// OnStateChange receives a snapshot after every transition.
	OnStateChange func(Snapshot)
	// OnError is invoked exactly once when the session reaches its error state.
	OnError func(error)
	// DecideDuplicate is consulted on a duplicate hit. Nil means
	// DuplicateUseExisting.
	DecideDuplicate func(network.DuplicateInfo) DuplicateChoice
	// APIPolicy and TransferPolicy override the default retry policies.
	APIPolicy      *backoff.Policy
	TransferPolicy *backoff.Policy
}

// Orchestrator drives the upload state machine of exactly one file. Multiple
// files upload through independent Orchestrator instances; the only shared
// collaborators are the API client and the duplicate checker, both read-only.
type Orchestrator struct {
	api        *network.APIClient
	duplicates *network.DuplicateChecker
	backend    network.TransferBackend
	logger     log.Logger
	tracker    *transferTracker
	opts       UploadOptions

	apiPolicy      backoff.Policy
	transferPolicy backoff.Policy

	mu             sync.Mutex
	sess           *session
	errorSignalled bool
}

// NewOrchestrator creates the orchestrator for one file destined for one
// bucket. The session id is generated here and is unique for the process
// lifetime.
func NewOrchestrator(api *network.APIClient, backend network.TransferBackend, logger log.Logger, bucketID string, file FileRef, opts UploadOptions) *Orchestrator {
	apiPolicy := backoff.UploadAPIPolicy()
	if opts.APIPolicy != nil {
		apiPolicy = *opts.APIPolicy
	}
	transferPolicy := backoff.DirectTransferPolicy()
	if opts.TransferPolicy != nil {
		transferPolicy = *opts.TransferPolicy
	}

	return &Orchestrator{
		api:            api,
		duplicates:     network.NewDuplicateChecker(api),
		backend:        backend,
		logger:         logger,
		opts:           opts,
		apiPolicy:      apiPolicy,
		transferPolicy: transferPolicy,
		sess: &session{
			id:       uuid.NewString(),
			file:     file,
			bucketID: bucketID,
			status:   StatusPending,
		},
	}
}

// SessionID returns the client-generated session id.
func (o *Orchestrator) SessionID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sess.id
}

// Snapshot returns the current view of the session.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sess.snapshot()
}

// Run executes the upload end to end and blocks until a terminal state. On
// failure the session lands in its error state and the error callback fires
// exactly once.
func (o *Orchestrator) Run(ctx context.Context) (*network.FileRecord, error) {
	o.update(func(s *session) { s.startedAt = time.Now() })
	o.setStatus(StatusPending)
	o.logger.Infof("Uploading %s (%s) to bucket %s",
		o.sess.file.Name, units.HumanSizeWithPrecision(float64(o.sess.file.Size), 3), o.sess.bucketID)

	record, err := o.run(ctx)
	if err != nil {
		o.fail(err)
		return nil, err
	}
	return record, nil
}

func (o *Orchestrator) run(ctx context.Context) (*network.FileRecord, error) {
	file := o.sess.file

	if !o.opts.SkipDuplicateCheck && file.Size <= checksum.PreUploadHashLimit {
		digest, err := o.hash(ctx)
		if err != nil {
			return nil, err
		}
		if digest != "" {
			proceed, record, err := o.checkDuplicate(ctx, digest)
			if err != nil {
				return nil, err
			}
			if record != nil {
				return record, nil
			}
			if !proceed {
				return nil, ErrCancelled
			}
		}
	}

	var ticket network.UploadTicket
	var result network.TransferResult
	var record *network.FileRecord
	var err error

	for restart := 0; ; restart++ {
		ticket, err = o.initiate(ctx)
		if err != nil {
			return nil, err
		}

		result, err = o.putObject(ctx, ticket)
		if err != nil {
			if o.shouldRestartExpired(err, restart) {
				continue
			}
			return nil, err
		}

		record, err = o.finalize(ctx, ticket, result)
		if err != nil {
			if o.shouldRestartExpired(err, restart) {
				continue
			}
			return nil, err
		}
		break
	}

	o.complete(record)
	return record, nil
}

// hash computes the pre-upload digest. Hash failures other than cancellation
// degrade to an upload without dedup instead of killing the transfer.
func (o *Orchestrator) hash(ctx context.Context) (string, error) {
	o.setStatus(StatusHashing)

	digest, err := checksum.ForUpload(ctx, o.sess.file.Size, o.sess.file.Open)
	if errors.Is(err, checksum.ErrTooLarge) {
		o.logger.Debugf("File above hashing limit, skipping duplicate check")
		return "", nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		o.logger.Warnf("Hashing failed, continuing without duplicate check: %s", err)
		return "", nil
	}

	o.update(func(s *session) { s.clientDigest = digest })
	return digest, nil
}

// checkDuplicate probes the backend for the digest and lets the caller decide
// on a hit. It returns proceed=false when the caller cancelled, a record when
// an existing file is reused, or proceed=true to go on uploading.
func (o *Orchestrator) checkDuplicate(ctx context.Context, digest string) (proceed bool, record *network.FileRecord, err error) {
	var info network.DuplicateInfo
	stepErr := o.step(ctx, StatusCheckingDuplicate, o.apiPolicy, func() error {
		var err error
		info, err = o.duplicates.CheckDuplicate(ctx, o.sess.bucketID, digest)
		return err
	})
	if stepErr != nil {
		if ctx.Err() != nil {
			return false, nil, ctx.Err()
		}
		// dedup is opportunistic; a failed probe never blocks the upload
		o.logger.Warnf("Duplicate check failed, uploading anyway: %s", stepErr)
		return true, nil, nil
	}

	if !info.IsDuplicate {
		return true, nil, nil
	}

	o.update(func(s *session) { s.duplicate = &info })
	o.setStatus(StatusDuplicateFound)
	o.tracker.logDuplicateFound(o.sess.bucketID, o.sess.file.Size)

	choice := DuplicateUseExisting
	if o.opts.DecideDuplicate != nil {
		choice = o.opts.DecideDuplicate(info)
	}

	switch choice {
	case DuplicateCancel:
		return false, nil, nil
	case DuplicateContinueUpload:
		o.logger.Debugf("Duplicate found, caller chose to upload anyway")
		return true, nil, nil
	default:
		if len(info.ExistingFiles) == 0 {
			return true, nil, nil
		}
		existing := info.ExistingFiles[0]
		reused := &network.FileRecord{
			ID:        existing.ID,
			BucketID:  o.sess.bucketID,
			Name:      existing.Name,
			Size:      existing.Size,
			Hash:      digest,
			CreatedAt: existing.CreatedAt,
		}
		o.logger.Donef("Duplicate found, reusing existing file %s", existing.ID)
		o.complete(reused)
		return false, reused, nil
	}
}

func (o *Orchestrator) initiate(ctx context.Context) (network.UploadTicket, error) {
	file := o.sess.file

	var ticket network.UploadTicket
	err := o.step(ctx, StatusInitiating, o.apiPolicy, func() error {
		t, err := o.api.InitiateUpload(ctx, o.sess.bucketID, network.InitiateUploadRequest{
			Filename:    file.Name,
			Size:        file.Size,
			ContentType: file.ContentType,
			ClientHash:  o.sess.clientDigest,
		})
		if err != nil {
			return err
		}
		ticket = t
		return nil
	})
	if err != nil {
		return network.UploadTicket{}, err
	}

	o.update(func(s *session) {
		s.serverUploadID = ticket.UploadID
		s.signedURL = ticket.SignedURL
		s.requiredHeaders = ticket.HeadersToInclude
		s.urlExpiresAt = ticket.ExpiresAt
	})
	return ticket, nil
}

func (o *Orchestrator) putObject(ctx context.Context, ticket network.UploadTicket) (network.TransferResult, error) {
	var result network.TransferResult
	err := o.step(ctx, StatusUploading, o.transferPolicy, func() error {
		src, cleanup, err := o.source()
		if err != nil {
			return err
		}
		defer cleanup()

		res, err := o.backend.Put(ctx, ticket.SignedURL, src, ticket.HeadersToInclude, o.scaledProgress)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	return result, err
}

func (o *Orchestrator) finalize(ctx context.Context, ticket network.UploadTicket, result network.TransferResult) (*network.FileRecord, error) {
	var record network.FileRecord
	err := o.step(ctx, StatusFinalizing, o.apiPolicy, func() error {
		r, err := o.api.CompleteUpload(ctx, ticket.UploadID, network.CompleteUploadRequest{
			ETag:             result.ETag,
			ActualSize:       o.sess.file.Size,
			ClientHash:       o.sess.clientDigest,
			EnableVersioning: o.opts.EnableVersioning,
		})
		if err != nil {
			return err
		}
		record = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// shouldRestartExpired handles the one specially treated failure: a signed
// URL that expired mid-flight. The session restarts from initiating with a
// fresh URL instead of blindly re-trying the dead one.
func (o *Orchestrator) shouldRestartExpired(err error, restart int) bool {
	if errdefs.KindOf(err) != errdefs.KindSignedURLExpired {
		return false
	}
	if restart >= maxExpiredURLRestarts {
		o.logger.Warnf("Signed URL expired again after %d restarts, giving up", restart)
		return false
	}
	o.logger.Warnf("Signed URL expired, requesting a fresh one")
	return true
}

// step runs one network phase under its retry policy, tracking the per-step
// retry count on the session.
func (o *Orchestrator) step(ctx context.Context, status Status, policy backoff.Policy, op func() error) error {
	o.setStatus(status)

	attempts := 0
	return backoff.Retry(ctx, o.logger, policy, func() error {
		attempts++
		o.update(func(s *session) { s.retryCount = attempts - 1 })
		return op()
	})
}

func (o *Orchestrator) source() (network.Source, func(), error) {
	file := o.sess.file
	if file.inMemory() {
		return network.SourceFromBytes(file.Name, file.ContentType, file.data), func() {}, nil
	}

	reader, err := file.Open()
	if err != nil {
		return network.Source{}, nil, errdefs.Newf(errdefs.KindValidation, "open %s: %s", file.Name, err)
	}
	return network.SourceFromReader(file.Name, file.ContentType, file.Size, reader), func() {
		if err := reader.Close(); err != nil {
			o.logger.Printf(err.Error())
		}
	}, nil
}

// scaledProgress maps direct-transfer progress onto the session's percent
// range, keeping it monotonic across transfer retries.
func (o *Orchestrator) scaledProgress(percent float64, loaded int64, total int64) {
	o.mu.Lock()
	overall := percent * transferProgressShare
	if overall > o.sess.progressPercent {
		o.sess.progressPercent = overall
	}
	current := o.sess.progressPercent
	o.mu.Unlock()

	if o.opts.OnProgress != nil {
		o.opts.OnProgress(current, loaded, total)
	}
}

func (o *Orchestrator) complete(record *network.FileRecord) {
	o.update(func(s *session) {
		s.progressPercent = 100
		s.result = record
	})
	o.setStatus(StatusCompleted)

	elapsed := time.Since(o.sess.startedAt).Round(time.Millisecond)
	o.logger.Donef("Uploaded %s in %s", o.sess.file.Name, elapsed)
	o.tracker.logUploadCompleted(elapsed, o.sess.file.Size, o.sess.retryCount)
}

// fail transitions to the terminal error state, releases the server-side
// session if one was created, and signals the error callback exactly once.
// lastError and the error status land in one critical section, so no snapshot
// ever shows the error without the terminal status.
func (o *Orchestrator) fail(err error) {
	o.mu.Lock()
	if o.sess.status.Terminal() {
		o.mu.Unlock()
		return
	}
	o.sess.lastError = err
	o.sess.status = StatusError
	snapshot := o.sess.snapshot()
	uploadID := o.sess.serverUploadID
	alreadySignalled := o.errorSignalled
	o.errorSignalled = true
	o.mu.Unlock()

	if uploadID != "" {
		// the run context may already be cancelled; release with a fresh one
		releaseCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if cancelErr := o.api.CancelUpload(releaseCtx, uploadID); cancelErr != nil {
			o.logger.Warnf("Failed to release upload session %s: %s", uploadID, cancelErr)
		}
	}

	o.logger.Debugf("Session %s: %s", snapshot.ID, snapshot.Status)
	if o.opts.OnStateChange != nil {
		o.opts.OnStateChange(snapshot)
	}
	o.tracker.logUploadFailed(errdefs.KindOf(err).String(), o.sess.file.Size)

	if !alreadySignalled && o.opts.OnError != nil {
		o.opts.OnError(err)
	}
}

func (o *Orchestrator) setStatus(status Status) {
	o.mu.Lock()
	o.sess.status = status
	snapshot := o.sess.snapshot()
	o.mu.Unlock()

	o.logger.Debugf("Session %s: %s", snapshot.ID, status)
	if o.opts.OnStateChange != nil {
		o.opts.OnStateChange(snapshot)
	}
}

func (o *Orchestrator) update(mutate func(s *session)) {
	o.mu.Lock()
	mutate(o.sess)
	o.mu.Unlock()
}
