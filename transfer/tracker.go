package transfer

import (
	"time"

	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
)

// transferTracker enqueues usage analytics for the upload path. A nil tracker
// is valid and drops everything.
type transferTracker struct {
	tracker analytics.Tracker
	logger  log.Logger
}

func newTransferTracker(envRepo env.Repository, logger log.Logger) *transferTracker {
	p := analytics.Properties{
		"client":  "go-sdk",
		"app_id":  envRepo.Get("REMOCLOUD_APP_ID"),
		"project": envRepo.Get("REMOCLOUD_PROJECT"),
	}
	return &transferTracker{
		tracker: analytics.NewDefaultTracker(logger, p),
		logger:  logger,
	}
}

func (t *transferTracker) logUploadCompleted(uploadTime time.Duration, sizeBytes int64, retries int) {
	if t == nil {
		return
	}
	t.tracker.Enqueue("transfer_upload_completed", analytics.Properties{
		"upload_time_s":     uploadTime.Truncate(time.Second).Seconds(),
		"upload_size_bytes": sizeBytes,
		"retry_count":       retries,
	})
}

func (t *transferTracker) logDuplicateFound(bucketID string, sizeBytes int64) {
	if t == nil {
		return
	}
	t.tracker.Enqueue("transfer_duplicate_found", analytics.Properties{
		"bucket_id":        bucketID,
		"saved_size_bytes": sizeBytes,
	})
}

func (t *transferTracker) logUploadFailed(errorKind string, sizeBytes int64) {
	if t == nil {
		return
	}
	t.tracker.Enqueue("transfer_upload_failed", analytics.Properties{
		"error_kind":        errorKind,
		"upload_size_bytes": sizeBytes,
	})
}

func (t *transferTracker) wait() {
	if t == nil {
		return
	}
	t.tracker.Wait()
}
