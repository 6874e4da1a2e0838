package watcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpeck/notion-backup/internal/api"
)

// scriptedSource returns one prepared page per call, repeating the last
// page once the script runs out.
type scriptedSource struct {
	pages []*api.ActivityPage
	err   error
	calls int
}

func (s *scriptedSource) ExportActivity(ctx context.Context) (*api.ActivityPage, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	idx := s.calls - 1
	if idx >= len(s.pages) {
		idx = len(s.pages) - 1
	}
	return s.pages[idx], nil
}

func page(records ...api.ActivityRecord) *api.ActivityPage {
	p := &api.ActivityPage{}
	p.RecordMap.Notification = map[string]api.ActivityRecord{}
	for _, rec := range records {
		p.NotificationIDs = append(p.NotificationIDs, rec.ID)
		p.RecordMap.Notification[rec.ID] = rec
	}
	return p
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWaitForCompletionMatchOnThirdPoll(t *testing.T) {
	const watermark = int64(1000)
	empty := page(
		api.ActivityRecord{ID: "c1", Type: "comment-added", StartTime: 2000},
	)
	match := page(
		api.ActivityRecord{ID: "c1", Type: "comment-added", StartTime: 2000},
		api.ActivityRecord{ID: "e1", Type: api.TypeExportCompleted, StartTime: 1500,
			DownloadLinks: []string{"https://files.example.com/a.zip", "https://files.example.com/b.zip"}},
	)
	source := &scriptedSource{pages: []*api.ActivityPage{empty, empty, match}}

	w := New(source, time.Millisecond, time.Second, testLogger())
	url, err := w.WaitForCompletion(context.Background(), watermark)
	require.NoError(t, err)
	assert.Equal(t, "https://files.example.com/a.zip", url)
	assert.Equal(t, 3, source.calls)
}

func TestWaitForCompletionIgnoresRecordsBelowWatermark(t *testing.T) {
	// A completed export older than the watermark belongs to an earlier
	// job and must never match, even though the type is right.
	stale := page(
		api.ActivityRecord{ID: "old", Type: api.TypeExportCompleted, StartTime: 500,
			DownloadLinks: []string{"https://files.example.com/stale.zip"}},
	)
	source := &scriptedSource{pages: []*api.ActivityPage{stale}}

	w := New(source, time.Millisecond, 25*time.Millisecond, testLogger())
	_, err := w.WaitForCompletion(context.Background(), 1000)
	require.ErrorIs(t, err, ErrWaitTimeout)
	assert.Greater(t, source.calls, 1)
}

func TestWaitForCompletionPicksEarliestIndexedMatch(t *testing.T) {
	p := page(
		api.ActivityRecord{ID: "first", Type: api.TypeExportCompleted, StartTime: 1200,
			DownloadLinks: []string{"https://files.example.com/first.zip"}},
		api.ActivityRecord{ID: "second", Type: api.TypeExportCompleted, StartTime: 1300,
			DownloadLinks: []string{"https://files.example.com/second.zip"}},
	)
	source := &scriptedSource{pages: []*api.ActivityPage{p}}

	w := New(source, time.Millisecond, time.Second, testLogger())
	url, err := w.WaitForCompletion(context.Background(), 1000)
	require.NoError(t, err)
	assert.Equal(t, "https://files.example.com/first.zip", url)
}

func TestWaitForCompletionTimesOut(t *testing.T) {
	source := &scriptedSource{pages: []*api.ActivityPage{page()}}

	w := New(source, time.Millisecond, 20*time.Millisecond, testLogger())
	start := time.Now()
	_, err := w.WaitForCompletion(context.Background(), 1000)
	require.ErrorIs(t, err, ErrWaitTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestWaitForCompletionPropagatesFeedError(t *testing.T) {
	feedErr := errors.New("feed unavailable")
	source := &scriptedSource{err: feedErr}

	w := New(source, time.Millisecond, time.Second, testLogger())
	_, err := w.WaitForCompletion(context.Background(), 1000)
	require.ErrorIs(t, err, feedErr)
	assert.Equal(t, 1, source.calls)
}

func TestWaitForCompletionNoDownloadLinks(t *testing.T) {
	p := page(
		api.ActivityRecord{ID: "bare", Type: api.TypeExportCompleted, StartTime: 1500},
	)
	source := &scriptedSource{pages: []*api.ActivityPage{p}}

	w := New(source, time.Millisecond, time.Second, testLogger())
	_, err := w.WaitForCompletion(context.Background(), 1000)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no download link")
}

func TestWaitForCompletionHonorsContext(t *testing.T) {
	source := &scriptedSource{pages: []*api.ActivityPage{page()}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := New(source, time.Hour, time.Hour, testLogger())
	_, err := w.WaitForCompletion(ctx, 1000)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, source.calls)
}
