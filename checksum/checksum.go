// Package checksum computes content digests for duplicate detection and
// integrity checks. Digests are hex-encoded lowercase SHA-256 and are stable
// regardless of which path (buffered or streaming) produced them.
package checksum

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"

	"github.com/BotCoder254/remocloud-sub000/errdefs"
)

const (
	// QuickHashLimit is the size up to which content is hashed in one
	// buffered read.
	QuickHashLimit = 1 * 1024 * 1024
	// PreUploadHashLimit is the ceiling for opportunistic pre-upload hashing.
	// Larger files skip client-side dedup and go straight to upload, trading
	// a rare duplicate for bounded client CPU and memory.
	PreUploadHashLimit = 10 * 1024 * 1024

	// chunkSize bounds memory use on the streaming path.
	chunkSize = 256 * 1024
)

// ErrTooLarge signals that the content exceeds PreUploadHashLimit and hashing
// was skipped. It is a skip signal, not a failure.
var ErrTooLarge = errors.New("content exceeds the pre-upload hashing limit")

// OfBytes returns the digest of in-memory content.
func OfBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// OfReader streams r through the digest in fixed-size chunks, so memory use
// is bounded by the chunk size rather than the content size. The context is
// checked between chunks so a cancelled upload stops hashing promptly.
func OfReader(ctx context.Context, r io.Reader) (string, error) {
	hash := sha256.New()
	buf := make([]byte, chunkSize)

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		n, err := r.Read(buf)
		if n > 0 {
			hash.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", errdefs.Newf(errdefs.KindNetwork, "read content while hashing: %s", err)
		}
	}

	return hex.EncodeToString(hash.Sum(nil)), nil
}

// ForUpload computes the pre-upload digest of content with a known size,
// applying the size thresholds: small content is buffered whole, mid-size
// content is streamed chunk by chunk, and anything above PreUploadHashLimit
// returns ErrTooLarge without opening the content at all.
func ForUpload(ctx context.Context, size int64, open func() (io.ReadCloser, error)) (string, error) {
	if size > PreUploadHashLimit {
		return "", ErrTooLarge
	}

	reader, err := open()
	if err != nil {
		return "", errdefs.Newf(errdefs.KindValidation, "content unavailable for hashing: %s", err)
	}
	defer reader.Close() //nolint:errcheck

	if size <= QuickHashLimit {
		data, err := io.ReadAll(reader)
		if err != nil {
			return "", errdefs.Newf(errdefs.KindNetwork, "read content while hashing: %s", err)
		}
		return OfBytes(data), nil
	}

	return OfReader(ctx, reader)
}
