package transfer

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
)

// FileRef is an opaque handle to the bytes of one upload. Name, size and
// content type are known up front; the bytes themselves are produced on
// demand so retried transfers can re-read from the start.
type FileRef struct {
	Name        string
	Size        int64
	ContentType string

	data []byte
	open func() (io.ReadCloser, error)
}

// FileFromBytes wraps an in-memory buffer.
func FileFromBytes(name string, contentType string, data []byte) FileRef {
	if contentType == "" {
		contentType = mimetype.Detect(data).String()
	}
	return FileRef{
		Name:        name,
		Size:        int64(len(data)),
		ContentType: contentType,
		data:        data,
	}
}

// FileFromReader wraps a re-openable byte stream of known size. open is
// called once per transfer attempt.
func FileFromReader(name string, contentType string, size int64, open func() (io.ReadCloser, error)) FileRef {
	return FileRef{
		Name:        name,
		Size:        size,
		ContentType: contentType,
		open:        open,
	}
}

// FileFromPath stats the file and sniffs its content type from magic bytes,
// falling back to the extension.
func FileFromPath(path string) (FileRef, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileRef{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return FileRef{}, fmt.Errorf("%s is a directory", path)
	}

	contentType := "application/octet-stream"
	if detected, err := mimetype.DetectFile(path); err == nil {
		contentType = detected.String()
	}
	if contentType == "application/octet-stream" {
		if byExt := mime.TypeByExtension(filepath.Ext(path)); byExt != "" {
			contentType = byExt
		}
	}

	return FileRef{
		Name:        filepath.Base(path),
		Size:        info.Size(),
		ContentType: contentType,
		open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}, nil
}

// Open returns a fresh reader over the content.
func (f FileRef) Open() (io.ReadCloser, error) {
	if f.data != nil {
		return io.NopCloser(bytes.NewReader(f.data)), nil
	}
	if f.open != nil {
		return f.open()
	}
	return nil, fmt.Errorf("file %s has no content", f.Name)
}

// inMemory reports whether the content is already buffered.
func (f FileRef) inMemory() bool {
	return f.data != nil
}
