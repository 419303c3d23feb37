package network

import (
	"context"
	"fmt"
	"net/http"

	"github.com/melbahja/got"
)

// DownloadFile streams the content behind a signed URL to a local file.
// client can be nil for a default transport.
func DownloadFile(ctx context.Context, client *http.Client, url string, dest string) error {
	downloader := got.New()
	if client != nil {
		downloader.Client = client
	}

	if err := downloader.Do(got.NewDownload(ctx, url, dest)); err != nil {
		return fmt.Errorf("download %s: %w", dest, err)
	}
	return nil
}
