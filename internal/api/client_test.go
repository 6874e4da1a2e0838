package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpeck/notion-backup/internal/config"
)

func testConfig(baseURL string) config.Config {
	cfg := config.Default()
	cfg.BaseURL = baseURL
	cfg.Token = "test-token"
	cfg.SpaceID = "space-1"
	cfg.UserID = "user-1"
	return cfg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSubmitExportRequest(t *testing.T) {
	var captured map[string]any
	var gotCookie, gotUser string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/enqueueTask", r.URL.Path)
		gotCookie = r.Header.Get("Cookie")
		gotUser = r.Header.Get("x-notion-active-user-header")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := New(testConfig(srv.URL), discardLogger())
	require.NoError(t, client.SubmitExport(context.Background(), config.FormatMarkdown))

	assert.Equal(t, "token_v2=test-token", gotCookie)
	assert.Equal(t, "user-1", gotUser)

	task := captured["task"].(map[string]any)
	assert.Equal(t, "exportSpace", task["eventName"])
	request := task["request"].(map[string]any)
	assert.Equal(t, "space-1", request["spaceId"])
	assert.Equal(t, false, request["shouldExportComments"])
	options := request["exportOptions"].(map[string]any)
	assert.Equal(t, "markdown", options["exportType"])
	assert.Equal(t, config.DefaultTimeZone, options["timeZone"])
	assert.Equal(t, config.DefaultLocale, options["locale"])
}

func TestSubmitExportServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := New(testConfig(srv.URL), discardLogger())
	err := client.SubmitExport(context.Background(), config.FormatHTML)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestExportActivityParsesPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/getNotificationLog", r.URL.Path)

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "space-1", req["spaceId"])
		assert.Equal(t, float64(20), req["size"])
		assert.Equal(t, "unread_and_read", req["type"])
		assert.Equal(t, "no_grouping", req["variant"])

		w.Write([]byte(`{
			"notificationIds": ["n2", "n1"],
			"recordMap": {
				"notification": {
					"n1": {"id": "n1", "type": "comment-added", "startTime": "1700000001000"},
					"n2": {"id": "n2", "type": "export-completed", "startTime": "1700000002000",
						"downloadLinks": ["https://files.example.com/export.zip"]}
				}
			}
		}`))
	}))
	defer srv.Close()

	client := New(testConfig(srv.URL), discardLogger())
	page, err := client.ExportActivity(context.Background())
	require.NoError(t, err)

	records := page.InOrder()
	require.Len(t, records, 2)
	assert.Equal(t, "n2", records[0].ID)
	assert.Equal(t, TypeExportCompleted, records[0].Type)
	assert.Equal(t, int64(1700000002000), records[0].StartTime)
	assert.Equal(t, []string{"https://files.example.com/export.zip"}, records[0].DownloadLinks)
	assert.Equal(t, "comment-added", records[1].Type)
}

func TestInOrderSkipsDanglingIDs(t *testing.T) {
	page := &ActivityPage{NotificationIDs: []string{"a", "missing", "b"}}
	page.RecordMap.Notification = map[string]ActivityRecord{
		"a": {ID: "a", Type: "export-completed"},
		"b": {ID: "b", Type: "other"},
	}
	records := page.InOrder()
	require.Len(t, records, 2)
	assert.Equal(t, "a", records[0].ID)
	assert.Equal(t, "b", records[1].ID)
}
