package network

import (
	"context"
	"io"
)

// ProgressFunc receives transfer progress. percent is monotonically
// non-decreasing for the lifetime of one PUT.
type ProgressFunc func(percent float64, bytesLoaded int64, bytesTotal int64)

// Source is the raw bytes of one upload. Exactly one of Data and Reader is
// set. Size is the byte count when known up front, -1 otherwise.
type Source struct {
	Name        string
	Size        int64
	ContentType string
	Data        []byte
	Reader      io.Reader
}

// SourceFromBytes wraps an in-memory buffer.
func SourceFromBytes(name string, contentType string, data []byte) Source {
	return Source{
		Name:        name,
		Size:        int64(len(data)),
		ContentType: contentType,
		Data:        data,
	}
}

// SourceFromReader wraps a byte stream. size is -1 when unknown; backends
// that need a Content-Length up front buffer such streams into memory.
func SourceFromReader(name string, contentType string, size int64, r io.Reader) Source {
	return Source{
		Name:        name,
		Size:        size,
		ContentType: contentType,
		Reader:      r,
	}
}

// TransferResult is the outcome of a direct PUT.
type TransferResult struct {
	OK     bool
	Status int
	ETag   string
}

// TransferBackend performs the direct PUT of raw bytes to storage. It is the
// only layer touching the transport; everything above is transport-agnostic.
// Implementations are selected at construction time.
type TransferBackend interface {
	Put(ctx context.Context, url string, src Source, headers map[string]string, onProgress ProgressFunc) (TransferResult, error)
}
