package network

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"

	"github.com/BotCoder254/remocloud-sub000/errdefs"
)

// DefaultPutTimeout is the ceiling for one direct PUT, after which the
// operation fails with a timeout error rather than a network error.
const DefaultPutTimeout = 5 * time.Minute

// HTTPBackend PUTs raw bytes to a signed URL over plain HTTP. This is the
// default TransferBackend.
type HTTPBackend struct {
	httpClient *http.Client
	timeout    time.Duration
	logger     log.Logger
}

// NewHTTPBackend creates an HTTP transfer backend with a transport tuned for
// large uploads and the default PUT timeout.
func NewHTTPBackend(logger log.Logger) *HTTPBackend {
	return &HTTPBackend{
		httpClient: defaultPutClient(),
		timeout:    DefaultPutTimeout,
		logger:     logger,
	}
}

// NewHTTPBackendWithClient creates an HTTP transfer backend using the given
// client and timeout. A zero timeout means DefaultPutTimeout.
func NewHTTPBackendWithClient(client *http.Client, timeout time.Duration, logger log.Logger) *HTTPBackend {
	if timeout == 0 {
		timeout = DefaultPutTimeout
	}
	return &HTTPBackend{
		httpClient: client,
		timeout:    timeout,
		logger:     logger,
	}
}

func defaultPutClient() *http.Client {
	return &http.Client{
		// No client timeout; the per-PUT ceiling is enforced via context.
		Timeout: 0,
		Transport: &http.Transport{
			MaxIdleConns:        50,
			MaxConnsPerHost:     20,
			IdleConnTimeout:     10 * time.Second,
			TLSHandshakeTimeout: 5 * time.Second,
			Proxy:               http.ProxyFromEnvironment,
		},
	}
}

// Put streams the source to the signed URL, reporting progress as bytes move
// through the request body.
func (b *HTTPBackend) Put(ctx context.Context, url string, src Source, headers map[string]string, onProgress ProgressFunc) (TransferResult, error) {
	body, size, err := materialize(src)
	if err != nil {
		return TransferResult{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	counting := &countingReader{reader: body, total: size, onProgress: onProgress}
	counting.report(0)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, counting)
	if err != nil {
		return TransferResult{}, fmt.Errorf("create request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if src.ContentType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", src.ContentType)
	}
	req.ContentLength = size

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return TransferResult{}, classifyTransportError(ctx, err)
	}
	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			b.logger.Printf(err.Error())
		}
	}(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return TransferResult{Status: resp.StatusCode}, unwrapError(resp)
	}

	etag := strings.Trim(resp.Header.Get("ETag"), `"`)
	if etag == "" {
		b.logger.Warnf("No ETag in storage response for %s", src.Name)
	}
	counting.finish()

	return TransferResult{OK: true, Status: resp.StatusCode, ETag: etag}, nil
}

// materialize resolves a Source into a reader with a known length. Streams
// with unknown length are buffered: signed storage PUTs require
// Content-Length up front.
func materialize(src Source) (io.Reader, int64, error) {
	switch {
	case src.Data != nil:
		return bytes.NewReader(src.Data), int64(len(src.Data)), nil
	case src.Reader != nil && src.Size >= 0:
		return src.Reader, src.Size, nil
	case src.Reader != nil:
		data, err := io.ReadAll(src.Reader)
		if err != nil {
			return nil, 0, errdefs.Newf(errdefs.KindNetwork, "buffer stream of unknown length: %s", err)
		}
		return bytes.NewReader(data), int64(len(data)), nil
	}
	return nil, 0, errdefs.New(errdefs.KindValidation, "source has no content")
}

// countingReader reports progress as the transport drains the request body.
// Reads only ever advance, so percent is monotonic by construction.
type countingReader struct {
	reader     io.Reader
	total      int64
	loaded     int64
	mu         sync.Mutex
	onProgress ProgressFunc
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.reader.Read(p)
	if n > 0 {
		c.mu.Lock()
		c.loaded += int64(n)
		loaded := c.loaded
		c.mu.Unlock()
		c.report(loaded)
	}
	return n, err
}

func (c *countingReader) report(loaded int64) {
	if c.onProgress == nil {
		return
	}
	percent := 100.0
	if c.total > 0 {
		percent = float64(loaded) / float64(c.total) * 100
	}
	c.onProgress(percent, loaded, c.total)
}

// reset zeroes the byte count before a transport-level retry re-reads the
// source from the start.
func (c *countingReader) reset() {
	c.mu.Lock()
	c.loaded = 0
	c.mu.Unlock()
}

// finish emits the terminal 100% event for empty bodies, which never get a
// Read callback.
func (c *countingReader) finish() {
	c.mu.Lock()
	loaded := c.loaded
	c.mu.Unlock()
	if loaded == 0 {
		c.report(0)
	}
}
