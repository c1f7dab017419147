package slack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slack-archiver/internal/domain"
	"slack-archiver/internal/usecase/history"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL, "xoxb-test", WithRetries(3, time.Millisecond, 5*time.Millisecond))
	require.NoError(t, err)
	return c
}

func TestFetchHistory(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/conversations.history", r.URL.Path)
		assert.Equal(t, "Bearer xoxb-test", r.Header.Get("Authorization"))
		assert.Equal(t, "C1", r.URL.Query().Get("channel"))
		assert.Equal(t, "1704153600.000100", r.URL.Query().Get("oldest"))
		assert.Equal(t, "1000", r.URL.Query().Get("limit"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"has_more":false,"messages":[
			{"type":"message","ts":"1704153700.000200","text":"b","files":[{"id":"F1","url_private_download":"https://files.slack.com/f"}]},
			{"type":"message","ts":"1704153650.000100","text":"a","blocks":[]}
		]}`))
	})

	page, err := c.FetchHistory(context.Background(), "C1", "1704153600.000100", 1000)
	require.NoError(t, err)
	require.False(t, page.HasMore)
	require.Len(t, page.Messages, 2)
	require.Equal(t, domain.Timestamp("1704153650.000100"), page.Messages[0].TS)
	require.Contains(t, page.Messages[0].Extra, "blocks")
	require.Equal(t, domain.Timestamp("1704153700.000200"), page.Messages[1].TS)
	require.Equal(t, "https://files.slack.com/f", page.Messages[1].Files[0].URLPrivateDownload)
}

func TestFetchHistoryEmptyCursor(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "0", r.URL.Query().Get("oldest"))
		_, _ = w.Write([]byte(`{"ok":true,"messages":[]}`))
	})

	page, err := c.FetchHistory(context.Background(), "C1", "", 10)
	require.NoError(t, err)
	require.False(t, page.HasMore)
	require.Empty(t, page.Messages)
}

func TestFetchHistoryAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":false,"error":"channel_not_found"}`))
	})

	_, err := c.FetchHistory(context.Background(), "C404", "", 10)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, "channel_not_found", apiErr.Code)
	require.ErrorIs(t, err, domain.ErrRemoteAPI)
}

func TestFetchHistoryRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true,"messages":[{"type":"message","ts":"1.0","text":"x"}]}`))
	})

	page, err := c.FetchHistory(context.Background(), "C1", "", 10)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	require.EqualValues(t, 2, calls.Load())
}

func TestFetchHistoryDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "nope", http.StatusForbidden)
	})

	_, err := c.FetchHistory(context.Background(), "C1", "", 10)
	require.ErrorIs(t, err, domain.ErrRemoteAPI)
	require.EqualValues(t, 1, calls.Load())
}

func TestFetchHistoryGivesUpOnServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.FetchHistory(context.Background(), "C1", "", 10)
	require.Error(t, err)
	require.EqualValues(t, 4, calls.Load())
}

func TestNewRequiresToken(t *testing.T) {
	_, err := New("", "")
	require.Error(t, err)
}

func TestRetryAfter(t *testing.T) {
	require.Equal(t, 3*time.Second, retryAfter("3"))
	require.Zero(t, retryAfter(""))
	require.Zero(t, retryAfter("Wed, 21 Oct 2015 07:28:00 GMT"))
}

func TestFetchHistoryFollowsCursorNewestFirst(t *testing.T) {
	// Slack отдаёт 5 сообщений страницами по 2, от новых к старым.
	pages := map[string]string{
		"":   `{"ok":true,"has_more":true,"messages":[{"ts":"1704153605.000000"},{"ts":"1704153604.000000"}],"response_metadata":{"next_cursor":"p2"}}`,
		"p2": `{"ok":true,"has_more":true,"messages":[{"ts":"1704153603.000000"},{"ts":"1704153602.000000"}],"response_metadata":{"next_cursor":"p3"}}`,
		"p3": `{"ok":true,"has_more":false,"messages":[{"ts":"1704153601.000000"}],"response_metadata":{"next_cursor":""}}`,
	}
	var (
		mu      sync.Mutex
		cursors []string
	)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, "1704153600.000000", q.Get("oldest"))
		assert.Equal(t, "2", q.Get("limit"))
		cursors = append(cursors, q.Get("cursor"))
		_, _ = w.Write([]byte(pages[q.Get("cursor")]))
	})

	page, err := c.FetchHistory(context.Background(), "C1", "1704153600.000000", 2)
	require.NoError(t, err)
	require.False(t, page.HasMore)
	mu.Lock()
	require.Equal(t, []string{"", "p2", "p3"}, cursors)
	mu.Unlock()
	require.Len(t, page.Messages, 5)
	for i, m := range page.Messages {
		require.Equal(t, domain.Timestamp(fmt.Sprintf("170415360%d.000000", i+1)), m.TS)
	}
}

func TestFetchHistoryRejectsMissingCursor(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true,"has_more":true,"messages":[{"ts":"2.0"}]}`))
	})

	_, err := c.FetchHistory(context.Background(), "C1", "1.0", 1)
	require.ErrorIs(t, err, domain.ErrRemoteAPI)
}

func TestFetchHistoryRejectsRepeatedCursor(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"ok":true,"has_more":true,"messages":[{"ts":"2.0"}],"response_metadata":{"next_cursor":"same"}}`))
	})

	_, err := c.FetchHistory(context.Background(), "C1", "1.0", 1)
	require.ErrorIs(t, err, domain.ErrRemoteAPI)
	require.EqualValues(t, 2, calls.Load())
}

type nopEnqueuer struct{}

func (nopEnqueuer) AddMessage(context.Context, domain.Message) error { return nil }

func TestSyncerArchivesEveryPagedMessage(t *testing.T) {
	pages := map[string]string{
		"":   `{"ok":true,"has_more":true,"messages":[{"type":"message","ts":"1704153605.000000"},{"type":"message","ts":"1704153604.000000"}],"response_metadata":{"next_cursor":"p2"}}`,
		"p2": `{"ok":true,"has_more":true,"messages":[{"type":"message","ts":"1704153603.000000"},{"type":"message","ts":"1704153602.000000"}],"response_metadata":{"next_cursor":"p3"}}`,
		"p3": `{"ok":true,"has_more":false,"messages":[{"type":"message","ts":"1704153601.000000"}]}`,
	}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(pages[r.URL.Query().Get("cursor")]))
	})

	fs := afero.NewMemMapFs()
	ch := domain.Channel{ID: "C1", Name: "general"}
	syncer := history.NewSyncer(fs, "/archive", c, nopEnqueuer{}, history.Options{PageSize: 2, Location: time.UTC, Logger: zerolog.Nop()})

	cursor, err := syncer.Refresh(context.Background(), ch)
	require.NoError(t, err)
	require.Equal(t, domain.Timestamp("1704153605.000000"), cursor)

	data, err := afero.ReadFile(fs, filepath.Join("/archive", ch.DirName(), "2024-01-02.json"))
	require.NoError(t, err)
	var archived []domain.Message
	require.NoError(t, json.Unmarshal(data, &archived))
	require.Len(t, archived, 5)
	for i, m := range archived {
		require.Equal(t, domain.Timestamp(fmt.Sprintf("170415360%d.000000", i+1)), m.TS)
	}
}
