package checksum

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferedAndStreamedDigestsMatch(t *testing.T) {
	sizes := []int{0, 1, 1024, chunkSize, chunkSize + 1, 3*chunkSize + 17}
	for _, size := range sizes {
		data := make([]byte, size)
		_, err := rand.Read(data)
		require.NoError(t, err)

		streamed, err := OfReader(context.Background(), bytes.NewReader(data))
		require.NoError(t, err)

		assert.Equal(t, OfBytes(data), streamed, "size %d", size)
		assert.Len(t, streamed, 64)
	}
}

func TestDigestIndependentOfReadGranularity(t *testing.T) {
	data := bytes.Repeat([]byte("remocloud"), 100_000)

	whole, err := OfReader(context.Background(), bytes.NewReader(data))
	require.NoError(t, err)

	// iotest-style one-byte reader exercises partial chunk reads
	trickled, err := OfReader(context.Background(), oneByteReader{bytes.NewReader(data)})
	require.NoError(t, err)

	assert.Equal(t, whole, trickled)
}

func TestKnownDigest(t *testing.T) {
	// echo -n "hello world" | sha256sum
	assert.Equal(t,
		"b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9",
		OfBytes([]byte("hello world")))
}

func TestForUploadThresholds(t *testing.T) {
	t.Run("small content is buffered", func(t *testing.T) {
		data := []byte("tiny")
		opened := 0
		digest, err := ForUpload(context.Background(), int64(len(data)), func() (io.ReadCloser, error) {
			opened++
			return io.NopCloser(bytes.NewReader(data)), nil
		})
		require.NoError(t, err)
		assert.Equal(t, OfBytes(data), digest)
		assert.Equal(t, 1, opened)
	})

	t.Run("mid-size content is streamed", func(t *testing.T) {
		data := make([]byte, QuickHashLimit+1)
		digest, err := ForUpload(context.Background(), int64(len(data)), func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		})
		require.NoError(t, err)
		assert.Equal(t, OfBytes(data), digest)
	})

	t.Run("oversized content is skipped without opening", func(t *testing.T) {
		_, err := ForUpload(context.Background(), PreUploadHashLimit+1, func() (io.ReadCloser, error) {
			t.Fatal("open must not be called above the limit")
			return nil, nil
		})
		assert.ErrorIs(t, err, ErrTooLarge)
	})

	t.Run("open failure is a structured error", func(t *testing.T) {
		_, err := ForUpload(context.Background(), 10, func() (io.ReadCloser, error) {
			return nil, errors.New("gone")
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "content unavailable for hashing")
	})
}

func TestOfReaderStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := OfReader(ctx, neverEndingReader{})
	assert.ErrorIs(t, err, context.Canceled)
}

type oneByteReader struct {
	r io.Reader
}

func (o oneByteReader) Read(p []byte) (int, error) {
	if len(p) > 1 {
		p = p[:1]
	}
	return o.r.Read(p)
}

type neverEndingReader struct{}

func (neverEndingReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 'x'
	}
	return len(p), nil
}
