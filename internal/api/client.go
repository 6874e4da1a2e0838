package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mpeck/notion-backup/internal/config"
)

const (
	// feedPageSize is the fixed number of recent entries requested per
	// feed query. Completions land at the top of the feed, so one page is
	// enough as long as polling is reasonably frequent.
	feedPageSize = 20

	feedReadState = "unread_and_read"
	feedVariant   = "no_grouping"
)

// Client talks to the workspace's private v3 API: enqueueing export tasks
// and reading the notification feed they eventually complete into.
type Client struct {
	baseURL  string
	token    string
	spaceID  string
	userID   string
	timeZone string
	locale   string
	client   *http.Client
	logger   *slog.Logger
}

// New builds a Client from cfg. The HTTP timeout covers a full
// request/response cycle of the JSON endpoints, not archive downloads.
func New(cfg config.Config, logger *slog.Logger) *Client {
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		token:    cfg.Token,
		spaceID:  cfg.SpaceID,
		userID:   cfg.UserID,
		timeZone: cfg.TimeZone,
		locale:   cfg.Locale,
		client:   &http.Client{Timeout: 2 * time.Minute},
		logger:   logger,
	}
}

// SubmitExport enqueues an asynchronous export task for the given format.
// The service acknowledges the enqueue but returns no task identifier, so
// the caller correlates completion through the notification feed instead.
func (c *Client) SubmitExport(ctx context.Context, format config.Format) error {
	body := enqueueTaskRequest{
		Task: exportTask{
			EventName: "exportSpace",
			Request: exportRequest{
				SpaceID:              c.spaceID,
				ShouldExportComments: false,
				ExportOptions: exportOptions{
					ExportType: string(format),
					TimeZone:   c.timeZone,
					Locale:     c.locale,
				},
			},
		},
	}
	if err := c.post(ctx, "/enqueueTask", body, nil); err != nil {
		return fmt.Errorf("enqueue %s export: %w", format, err)
	}
	c.logger.Debug("Export task enqueued.", slog.String("format", string(format)))
	return nil
}

// ExportActivity fetches one page of recent notification feed entries,
// most recent first.
func (c *Client) ExportActivity(ctx context.Context) (*ActivityPage, error) {
	body := notificationLogRequest{
		SpaceID: c.spaceID,
		Size:    feedPageSize,
		Type:    feedReadState,
		Variant: feedVariant,
	}
	var page ActivityPage
	if err := c.post(ctx, "/getNotificationLog", body, &page); err != nil {
		return nil, fmt.Errorf("fetch notification log: %w", err)
	}
	return &page, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	buf, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cookie", "token_v2="+c.token)
	req.Header.Set("x-notion-active-user-header", c.userID)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("POST %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	if out == nil {
		_, err := io.Copy(io.Discard, resp.Body)
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
