package transfer

import (
	"time"

	"github.com/BotCoder254/remocloud-sub000/transfer/network"
)

// Status is the phase of an upload session's state machine.
type Status string

const (
	StatusPending           Status = "pending"
	StatusHashing           Status = "hashing"
	StatusCheckingDuplicate Status = "checking-duplicates"
	StatusDuplicateFound    Status = "duplicate-found"
	StatusInitiating        Status = "initiating"
	StatusUploading         Status = "uploading"
	StatusFinalizing        Status = "finalizing"
	StatusCompleted         Status = "completed"
	StatusError             Status = "error"
)

// Terminal reports whether the session will never change state again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// session is the mutable per-upload record. It is owned and mutated only by
// its orchestrator; everybody else sees value-copied Snapshots.
type session struct {
	id              string
	file            FileRef
	bucketID        string
	status          Status
	progressPercent float64
	retryCount      int
	clientDigest    string
	serverUploadID  string
	signedURL       string
	requiredHeaders map[string]string
	urlExpiresAt    time.Time
	lastError       error
	duplicate       *network.DuplicateInfo
	result          *network.FileRecord
	startedAt       time.Time
}

// Snapshot is an immutable view of a session, safe to hand to callbacks and
// other goroutines.
type Snapshot struct {
	ID              string
	FileName        string
	FileSize        int64
	BucketID        string
	Status          Status
	ProgressPercent float64
	RetryCount      int
	ClientDigest    string
	ServerUploadID  string
	LastError       error
	Duplicate       *network.DuplicateInfo
	Result          *network.FileRecord
}

func (s *session) snapshot() Snapshot {
	return Snapshot{
		ID:              s.id,
		FileName:        s.file.Name,
		FileSize:        s.file.Size,
		BucketID:        s.bucketID,
		Status:          s.status,
		ProgressPercent: s.progressPercent,
		RetryCount:      s.retryCount,
		ClientDigest:    s.clientDigest,
		ServerUploadID:  s.serverUploadID,
		LastError:       s.lastError,
		Duplicate:       s.duplicate,
		Result:          s.result,
	}
}
