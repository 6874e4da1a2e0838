// Package watcher resolves a submitted export job to its archive download
// URL by polling the workspace's notification feed.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mpeck/notion-backup/internal/api"
)

// ErrWaitTimeout reports that the feed never produced a matching completion
// record within the configured deadline. Callers can distinguish a stuck
// export from a transport failure with errors.Is.
var ErrWaitTimeout = errors.New("timed out waiting for export to complete")

// ActivitySource supplies pages of recent feed activity. *api.Client
// implements it.
type ActivitySource interface {
	ExportActivity(ctx context.Context) (*api.ActivityPage, error)
}

// Watcher polls the notification feed at a fixed interval until a
// completion record newer than a watermark appears, or a deadline expires.
type Watcher struct {
	source   ActivitySource
	interval time.Duration
	maxWait  time.Duration
	logger   *slog.Logger
}

func New(source ActivitySource, interval, maxWait time.Duration, logger *slog.Logger) *Watcher {
	return &Watcher{
		source:   source,
		interval: interval,
		maxWait:  maxWait,
		logger:   logger,
	}
}

// WaitForCompletion blocks until a feed record with type export-completed
// and startTime at or after watermark appears, and returns that record's
// first download link. The feed is shared with unrelated events and
// carries no job identifier, so type plus watermark is the only available
// correlation; it is sound only because jobs are submitted strictly
// sequentially. Records of the right type but older than the watermark
// belong to earlier jobs and are never a match.
//
// A feed-query error aborts the wait immediately. If no match appears
// within maxWait, the returned error wraps ErrWaitTimeout.
func (w *Watcher) WaitForCompletion(ctx context.Context, watermark int64) (string, error) {
	deadline := time.Now().Add(w.maxWait)
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(w.interval):
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("%w: no completion after %s", ErrWaitTimeout, w.maxWait)
		}
		attempt++

		page, err := w.source.ExportActivity(ctx)
		if err != nil {
			return "", fmt.Errorf("query activity feed: %w", err)
		}
		for _, rec := range page.InOrder() {
			if rec.Type != api.TypeExportCompleted || rec.StartTime < watermark {
				continue
			}
			if len(rec.DownloadLinks) == 0 {
				return "", fmt.Errorf("completion record %s carries no download link", rec.ID)
			}
			w.logger.Info("Export completion found in feed.",
				slog.Int("attempt", attempt),
				slog.String("record_id", rec.ID),
				slog.Int64("record_start_time", rec.StartTime))
			return rec.DownloadLinks[0], nil
		}
		w.logger.Debug("No matching completion yet.",
			slog.Int("attempt", attempt),
			slog.Int("records", len(page.NotificationIDs)))
	}
}
