package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"
)

// Downloader streams export archives to disk. Archives can run to many
// gigabytes, so the client timeout is generous and the body is never
// buffered in memory.
type Downloader struct {
	client *http.Client
	logger *slog.Logger
}

func New(logger *slog.Logger) *Downloader {
	return &Downloader{
		client: &http.Client{Timeout: 30 * time.Minute},
		logger: logger,
	}
}

// Download streams the archive at url into destPath. On success the file
// is fully written and closed. On any failure, including a stream error
// after writing began, the partial file is removed so a truncated archive
// is never mistaken for a complete one.
func (d *Downloader) Download(ctx context.Context, url, destPath string) error {
	l := d.logger.With(slog.String("output_path", destPath))
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/zip,application/octet-stream,*/*")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("download archive: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download archive: unexpected status %s", resp.Status)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create archive file %s: %w", destPath, err)
	}
	written, copyErr := io.Copy(out, resp.Body)
	closeErr := out.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		os.Remove(destPath)
		return fmt.Errorf("write archive %s: %w", destPath, err)
	}

	l.Info("Archive downloaded.",
		slog.Int64("bytes", written),
		slog.Duration("duration", time.Since(start).Round(time.Millisecond)))
	return nil
}
