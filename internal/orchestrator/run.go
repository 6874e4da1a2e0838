// Package orchestrator sequences the per-format export pipeline: submit,
// wait, download, extract, publish. Formats run strictly one after another
// and a failed format never aborts the others.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/mpeck/notion-backup/internal/config"
	"github.com/mpeck/notion-backup/internal/db"
	"github.com/mpeck/notion-backup/internal/extract"
)

// Submitter enqueues a remote export job for one format.
type Submitter interface {
	SubmitExport(ctx context.Context, format config.Format) error
}

// CompletionWaiter blocks until the export submitted behind watermark
// completes, returning the archive download URL.
type CompletionWaiter interface {
	WaitForCompletion(ctx context.Context, watermark int64) (string, error)
}

// Downloader streams a remote archive into a local file.
type Downloader interface {
	Download(ctx context.Context, url, destPath string) error
}

// Runner drives one full backup run across all formats.
type Runner struct {
	cfg      config.Config
	submit   Submitter
	waiter   CompletionWaiter
	download Downloader
	events   *db.EventLog
	logger   *slog.Logger
}

func New(cfg config.Config, submit Submitter, waiter CompletionWaiter, download Downloader, events *db.EventLog, logger *slog.Logger) *Runner {
	return &Runner{
		cfg:      cfg,
		submit:   submit,
		waiter:   waiter,
		download: download,
		events:   events,
		logger:   logger,
	}
}

// Run executes the backup workflow for every format in order. Per-format
// failures are logged, recorded in the event log, and joined into the
// returned aggregate error; they never stop the remaining formats. Only a
// cancelled context aborts the run early.
func (r *Runner) Run(ctx context.Context) error {
	runID := uuid.New().String()
	logger := r.logger.With(slog.String("run_id", runID))
	logger.Info("Starting backup run.", slog.Int("formats", len(config.Formats)))

	if err := r.CleanStaging(); err != nil {
		return fmt.Errorf("pre-run staging cleanup: %w", err)
	}

	var finalErr error
	for _, format := range config.Formats {
		select {
		case <-ctx.Done():
			logger.Warn("Backup run cancelled.", "error", ctx.Err())
			return errors.Join(finalErr, ctx.Err())
		default:
		}

		l := logger.With(slog.String("format", string(format)))
		l.Info("Starting format pipeline.")
		if err := r.runFormat(ctx, runID, format, l); err != nil {
			l.Error("Format pipeline failed; previous backup for this format is kept.", "error", err)
			r.events.Record(ctx, runID, string(format), db.EventError, "", "", err.Error(), nil)
			finalErr = errors.Join(finalErr, fmt.Errorf("%s: %w", format, err))
			continue
		}
		l.Info("Format pipeline complete.", slog.String("output_dir", r.cfg.OutputDir(format)))
	}

	if finalErr != nil {
		logger.Warn("Backup run finished with errors.", "error", finalErr)
	} else {
		logger.Info("Backup run finished successfully.")
	}
	return finalErr
}

func (r *Runner) runFormat(ctx context.Context, runID string, format config.Format, l *slog.Logger) error {
	start := time.Now()

	// The watermark is taken immediately before the request goes out:
	// taken after submission it could miss a fast completion, and reused
	// from an earlier job it could match that job's stale completion.
	watermark := time.Now().UTC().UnixMilli()
	r.events.Record(ctx, runID, string(format), db.EventSubmitStart, "", "", "", nil)
	if err := r.submit.SubmitExport(ctx, format); err != nil {
		return fmt.Errorf("submit export: %w", err)
	}
	r.events.Record(ctx, runID, string(format), db.EventSubmitEnd, "", "", "", nil)
	l.Info("Export job submitted.", slog.Int64("watermark", watermark))

	url, err := r.waiter.WaitForCompletion(ctx, watermark)
	if err != nil {
		return fmt.Errorf("wait for completion: %w", err)
	}
	waitDuration := time.Since(start)
	r.events.Record(ctx, runID, string(format), db.EventPollMatch, url, "", "", &waitDuration)

	archivePath := r.cfg.ArchivePath(format)
	r.events.Record(ctx, runID, string(format), db.EventDownloadStart, url, archivePath, "", nil)
	downloadStart := time.Now()
	if err := r.download.Download(ctx, url, archivePath); err != nil {
		return fmt.Errorf("download archive: %w", err)
	}
	downloadDuration := time.Since(downloadStart)
	r.events.Record(ctx, runID, string(format), db.EventDownloadEnd, url, archivePath, "", &downloadDuration)

	staging := r.cfg.StagingDir(format)
	if err := os.RemoveAll(staging); err != nil {
		return fmt.Errorf("clear staging directory %s: %w", staging, err)
	}
	if err := extract.Unzip(archivePath, staging); err != nil {
		return fmt.Errorf("extract outer archive: %w", err)
	}
	parts, err := extract.ExtractParts(staging)
	if err != nil {
		return fmt.Errorf("extract inner parts: %w", err)
	}
	l.Info("Archive extracted.", slog.Int("inner_parts", parts))
	extractDuration := time.Since(start)
	r.events.Record(ctx, runID, string(format), db.EventExtractEnd, "", staging, fmt.Sprintf("inner parts: %d", parts), &extractDuration)

	// Publish. The previous backup directory is only removed once a fresh
	// export is fully extracted, so a failure anywhere above leaves the
	// old backup in place.
	output := r.cfg.OutputDir(format)
	if err := os.RemoveAll(output); err != nil {
		return fmt.Errorf("remove previous output %s: %w", output, err)
	}
	if err := os.Rename(staging, output); err != nil {
		return fmt.Errorf("publish output %s: %w", output, err)
	}
	totalDuration := time.Since(start)
	r.events.Record(ctx, runID, string(format), db.EventPublishEnd, "", output, "", &totalDuration)
	return nil
}

// CleanStaging removes leftover staging directories from interrupted runs.
// Removal is idempotent: an absent directory is not an error.
func (r *Runner) CleanStaging() error {
	var errs error
	for _, format := range config.Formats {
		staging := r.cfg.StagingDir(format)
		if err := os.RemoveAll(staging); err != nil {
			errs = errors.Join(errs, fmt.Errorf("clean staging %s: %w", staging, err))
		}
	}
	return errs
}
