package network

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/BotCoder254/remocloud-sub000/errdefs"
)

// InitiateUploadRequest is the body of POST /buckets/{bucketId}/uploads.
type InitiateUploadRequest struct {
	Filename    string `json:"filename"`
	Size        int64  `json:"size"`
	ContentType string `json:"contentType"`
	ClientHash  string `json:"clientHash,omitempty"`
}

// UploadTicket is the backend's answer to an initiate call: everything needed
// to PUT the raw bytes directly to storage.
type UploadTicket struct {
	UploadID         string            `json:"uploadId"`
	SignedURL        string            `json:"signedUrl"`
	HeadersToInclude map[string]string `json:"headersToInclude"`
	ExpiresAt        time.Time         `json:"expiresAt"`
}

// CompleteUploadRequest is the body of POST /uploads/{uploadId}/complete.
type CompleteUploadRequest struct {
	ETag             string `json:"etag"`
	ActualSize       int64  `json:"actualSize"`
	ClientHash       string `json:"clientHash,omitempty"`
	EnableVersioning bool   `json:"enableVersioning,omitempty"`
}

// FileRecord is the finalized file metadata returned by the backend.
type FileRecord struct {
	ID          string    `json:"id"`
	BucketID    string    `json:"bucketId"`
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	ContentType string    `json:"contentType"`
	Hash        string    `json:"hash,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// FileSummary describes an existing file sharing a digest.
type FileSummary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
}

type checkDuplicateRequest struct {
	Hash string `json:"hash"`
}

type checkDuplicateResponse struct {
	IsDuplicate   bool          `json:"isDuplicate"`
	ExistingFiles []FileSummary `json:"existingFiles"`
	Message       string        `json:"message"`
}

type signedURLRequest struct {
	Expiry  int    `json:"expiry"`
	Purpose string `json:"purpose"`
}

// SignedURLInfo is a time-limited download URL issued by the backend.
type SignedURLInfo struct {
	URL          string            `json:"url"`
	ExpiresAt    time.Time         `json:"expiresAt"`
	IsPublic     bool              `json:"isPublic"`
	CacheHeaders map[string]string `json:"cacheHeaders"`
}

// PublicURLInfo is a permanent URL for a public file.
type PublicURLInfo struct {
	URL      string `json:"url"`
	IsPublic bool   `json:"isPublic"`
}

// TransformRequest describes an on-the-fly image transform.
type TransformRequest struct {
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
	Format  string `json:"format,omitempty"`
	Quality int    `json:"quality,omitempty"`
}

// TransformInfo is the URL serving the transformed variant.
type TransformInfo struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// APIClient talks to the storage backend's REST API. It is safe for
// concurrent use; all mutating state lives server-side.
type APIClient struct {
	httpClient  *retryablehttp.Client
	baseURL     string
	accessToken string
	logger      log.Logger
}

// NewAPIClient creates an API client. `client` can be nil, in which case a
// default client is created. Transport-level retries are disabled either way:
// retry decisions belong to the per-call-site backoff policies.
func NewAPIClient(client *retryablehttp.Client, baseURL string, accessToken string, logger log.Logger) *APIClient {
	if client == nil {
		client = retryhttp.NewClient(logger)
	}
	client.RetryMax = 0
	return &APIClient{
		httpClient:  client,
		baseURL:     baseURL,
		accessToken: accessToken,
		logger:      logger,
	}
}

// InitiateUpload requests an upload session for a bucket.
func (c *APIClient) InitiateUpload(ctx context.Context, bucketID string, request InitiateUploadRequest) (UploadTicket, error) {
	url := fmt.Sprintf("%s/buckets/%s/uploads", c.baseURL, bucketID)

	var ticket UploadTicket
	if err := c.doJSON(ctx, http.MethodPost, url, request, &ticket); err != nil {
		return UploadTicket{}, err
	}
	return ticket, nil
}

// CompleteUpload finalizes a fully written object.
func (c *APIClient) CompleteUpload(ctx context.Context, uploadID string, request CompleteUploadRequest) (FileRecord, error) {
	url := fmt.Sprintf("%s/uploads/%s/complete", c.baseURL, uploadID)

	var record FileRecord
	if err := c.doJSON(ctx, http.MethodPost, url, request, &record); err != nil {
		return FileRecord{}, err
	}
	return record, nil
}

// CancelUpload releases a server-side upload session. Used when an upload is
// cancelled mid-flight.
func (c *APIClient) CancelUpload(ctx context.Context, uploadID string) error {
	url := fmt.Sprintf("%s/uploads/%s", c.baseURL, uploadID)
	return c.doJSON(ctx, http.MethodDelete, url, nil, nil)
}

func (c *APIClient) checkDuplicate(ctx context.Context, bucketID string, digest string) (checkDuplicateResponse, error) {
	url := fmt.Sprintf("%s/buckets/%s/check-duplicate", c.baseURL, bucketID)

	var response checkDuplicateResponse
	if err := c.doJSON(ctx, http.MethodPost, url, checkDuplicateRequest{Hash: digest}, &response); err != nil {
		return checkDuplicateResponse{}, err
	}
	return response, nil
}

// SignedURL requests a time-limited download URL for a file. expiry is the
// requested validity window.
func (c *APIClient) SignedURL(ctx context.Context, fileID string, purpose string, expiry time.Duration) (SignedURLInfo, error) {
	url := fmt.Sprintf("%s/files/%s/signed-url", c.baseURL, fileID)

	var info SignedURLInfo
	request := signedURLRequest{Expiry: int(expiry.Seconds()), Purpose: purpose}
	if err := c.doJSON(ctx, http.MethodPost, url, request, &info); err != nil {
		return SignedURLInfo{}, err
	}
	return info, nil
}

// PublicURL fetches the permanent URL of a public file.
func (c *APIClient) PublicURL(ctx context.Context, fileID string) (PublicURLInfo, error) {
	url := fmt.Sprintf("%s/files/%s/public-url", c.baseURL, fileID)

	var info PublicURLInfo
	if err := c.doJSON(ctx, http.MethodGet, url, nil, &info); err != nil {
		return PublicURLInfo{}, err
	}
	return info, nil
}

// TransformURL requests a URL serving a transformed image variant.
func (c *APIClient) TransformURL(ctx context.Context, fileID string, request TransformRequest) (TransformInfo, error) {
	url := fmt.Sprintf("%s/files/%s/transform", c.baseURL, fileID)

	var info TransformInfo
	if err := c.doJSON(ctx, http.MethodPost, url, request, &info); err != nil {
		return TransformInfo{}, err
	}
	return info, nil
}

func (c *APIClient) doJSON(ctx context.Context, method string, url string, requestBody interface{}, responseBody interface{}) error {
	var rawBody []byte
	if requestBody != nil {
		var err error
		rawBody, err = json.Marshal(requestBody)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, url, rawBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.accessToken))
	if rawBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransportError(ctx, err)
	}
	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			c.logger.Printf(err.Error())
		}
	}(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return unwrapError(resp)
	}

	if responseBody == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(responseBody); err != nil {
		return errdefs.Newf(errdefs.KindService, "decode response from %s: %s", url, err)
	}
	return nil
}

// unwrapError turns an error response into a structured error. The backend's
// `error.code` field is the dispatch key; the HTTP status is the fallback for
// responses with no parseable body (storage PUTs, proxies).
func unwrapError(resp *http.Response) *errdefs.Error {
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if readErr != nil {
		return errdefs.Newf(errdefs.FromStatus(resp.StatusCode), "HTTP %d", resp.StatusCode)
	}

	var envelope errorEnvelope
	kind := errdefs.KindUnknown
	message := ""
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Code != "" {
		kind = errdefs.FromCode(envelope.Error.Code)
		message = envelope.Error.Message
	}
	if kind == errdefs.KindUnknown {
		kind = errdefs.FromStatus(resp.StatusCode)
	}
	if message == "" {
		message = fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	structured := errdefs.New(kind, message)
	if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" && kind == errdefs.KindRateLimited {
		structured.WithDetail(errdefs.RetryAfterDetail, retryAfter)
	}
	return structured
}

func classifyTransportError(ctx context.Context, err error) error {
	switch ctx.Err() {
	case context.DeadlineExceeded:
		return errdefs.Newf(errdefs.KindTimeout, "request deadline exceeded: %s", err)
	case context.Canceled:
		// caller-initiated, not a backend failure
		return ctx.Err()
	}
	return errdefs.Newf(errdefs.KindNetwork, "request failed: %s", err)
}
