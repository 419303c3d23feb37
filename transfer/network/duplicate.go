package network

import (
	"context"
)

// Recommendation is the backend's suggestion for a duplicate hit.
type Recommendation string

const (
	// RecommendUseExisting suggests reusing an already-stored file.
	RecommendUseExisting Recommendation = "use-existing"
	// RecommendUpload suggests proceeding with the upload.
	RecommendUpload Recommendation = "upload"
)

// DuplicateInfo is the read-only result of a duplicate check.
type DuplicateInfo struct {
	Digest         string
	IsDuplicate    bool
	ExistingFiles  []FileSummary
	Recommendation Recommendation
	Message        string
}

// DuplicateChecker asks the backend whether a digest already exists in a
// bucket before upload bandwidth is spent. It holds no local state and is
// safe for concurrent use.
type DuplicateChecker struct {
	api *APIClient
}

// NewDuplicateChecker ...
func NewDuplicateChecker(api *APIClient) *DuplicateChecker {
	return &DuplicateChecker{api: api}
}

// CheckDuplicate is a pure read against the backend. A duplicate hit is not
// an error.
func (d *DuplicateChecker) CheckDuplicate(ctx context.Context, bucketID string, digest string) (DuplicateInfo, error) {
	response, err := d.api.checkDuplicate(ctx, bucketID, digest)
	if err != nil {
		return DuplicateInfo{}, err
	}

	recommendation := RecommendUpload
	if response.IsDuplicate {
		recommendation = RecommendUseExisting
	}

	return DuplicateInfo{
		Digest:         digest,
		IsDuplicate:    response.IsDuplicate,
		ExistingFiles:  response.ExistingFiles,
		Recommendation: recommendation,
		Message:        response.Message,
	}, nil
}
