package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lessondrip/coursebot/internal/domain/shared"
	"github.com/lessondrip/coursebot/pkg/logger"
)

type recordedCall struct {
	Path string
	Body map[string]interface{}
}

type callLog struct {
	mu    sync.Mutex
	calls []recordedCall
}

func (l *callLog) all() []recordedCall {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]recordedCall, len(l.calls))
	copy(out, l.calls)
	return out
}

// fakeBotAPI serves canned responses and records every call.
func fakeBotAPI(t *testing.T, respond func(method string) string) (*httptest.Server, *callLog) {
	t.Helper()
	log := &callLog{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]interface{}
		_ = json.Unmarshal(raw, &body)

		log.mu.Lock()
		log.calls = append(log.calls, recordedCall{Path: r.URL.Path, Body: body})
		log.mu.Unlock()

		method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, respond(method))
	}))
	t.Cleanup(srv.Close)
	return srv, log
}

func newTestClient(baseURL string) *Client {
	return NewClient(ClientConfig{
		Token:   "123:ABC",
		BaseURL: baseURL,
		Timeout: 2 * time.Second,
		Logger:  logger.Discard(),
	})
}

func TestClient_SendVideo(t *testing.T) {
	srv, log := fakeBotAPI(t, func(string) string {
		return `{"ok":true,"result":{"message_id":10,"chat":{"id":5,"type":"private"},"video":{"file_id":"vid-1"}}}`
	})
	c := newTestClient(srv.URL)

	msg, err := c.SendVideo(context.Background(), SendVideoParams{
		ChatID:    5,
		Video:     "vid-1",
		Caption:   "🎥 Урок 1",
		ParseMode: ParseModeHTML,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10), msg.MessageID)
	assert.Equal(t, "vid-1", msg.Video.FileID)

	require.Len(t, log.all(), 1)
	call := log.all()[0]
	assert.Equal(t, "/bot123:ABC/sendVideo", call.Path)
	assert.Equal(t, float64(5), call.Body["chat_id"])
	assert.Equal(t, "vid-1", call.Body["video"])
	assert.Equal(t, "🎥 Урок 1", call.Body["caption"])
	assert.Equal(t, "HTML", call.Body["parse_mode"])
	assert.NotContains(t, call.Body, "protect_content")
}

func TestClient_SendVideoOmitsEmptyCaption(t *testing.T) {
	srv, log := fakeBotAPI(t, func(string) string {
		return `{"ok":true,"result":{"message_id":1,"chat":{"id":5,"type":"private"}}}`
	})

	_, err := newTestClient(srv.URL).SendVideo(context.Background(), SendVideoParams{ChatID: 5, Video: "v"})
	require.NoError(t, err)
	assert.NotContains(t, log.all()[0].Body, "caption")
}

func TestClient_APIErrorIsSingleAttempt(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"ok":false,"error_code":429,"description":"Too Many Requests","parameters":{"retry_after":3}}`)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).SendHTML(context.Background(), 5, "hi")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 429, apiErr.Code)
	assert.Equal(t, 3, apiErr.RetryAfter)
	assert.True(t, IsRateLimited(err))
	assert.True(t, errors.Is(err, shared.ErrExternalService))
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "no retries")
}

func TestClient_ErrorDoesNotLeakToken(t *testing.T) {
	c := newTestClient("http://127.0.0.1:1")

	_, err := c.GetMe(context.Background())
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "123:ABC")
}

func TestClient_SetWebhook(t *testing.T) {
	srv, log := fakeBotAPI(t, func(string) string { return `{"ok":true,"result":true}` })

	err := newTestClient(srv.URL).SetWebhook(context.Background(), WebhookParams{
		URL:            "https://bot.example.com",
		SecretToken:    "s3cret",
		AllowedUpdates: []string{"message"},
	})
	require.NoError(t, err)

	body := log.all()[0].Body
	assert.Equal(t, "/bot123:ABC/setWebhook", log.all()[0].Path)
	assert.Equal(t, "https://bot.example.com", body["url"])
	assert.Equal(t, "s3cret", body["secret_token"])
	assert.Equal(t, []interface{}{"message"}, body["allowed_updates"])
}

func TestClient_GetMe(t *testing.T) {
	srv, _ := fakeBotAPI(t, func(string) string {
		return `{"ok":true,"result":{"id":99,"is_bot":true,"first_name":"Course","username":"CourseBot"}}`
	})

	me, err := newTestClient(srv.URL).GetMe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "CourseBot", me.Username)
}

func TestErrorClassifiers(t *testing.T) {
	blocked := &APIError{Code: 403, Description: "Forbidden: bot was blocked by the user"}
	notFound := &APIError{Code: 400, Description: "Bad Request: chat not found"}

	assert.True(t, IsUserBlocked(blocked))
	assert.False(t, IsUserBlocked(notFound))
	assert.True(t, IsChatNotFound(notFound))
	assert.False(t, IsChatNotFound(errors.New("chat not found")))
}

func TestClient_StartPolling(t *testing.T) {
	var polls int32
	srv, log := fakeBotAPI(t, func(method string) string {
		if atomic.AddInt32(&polls, 1) == 1 {
			return `{"ok":true,"result":[
				{"update_id":7,"message":{"message_id":1,"from":{"id":5},"chat":{"id":5,"type":"private"},"text":"/start"}},
				{"update_id":8,"message":{"message_id":2,"from":{"id":5},"chat":{"id":5,"type":"private"},"text":"hi"}}
			]}`
		}
		time.Sleep(20 * time.Millisecond)
		return `{"ok":true,"result":[]}`
	})
	c := newTestClient(srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	var seen []int64
	done := make(chan error, 1)
	go func() {
		done <- c.StartPolling(ctx, func(_ context.Context, u *Update) error {
			seen = append(seen, u.UpdateID)
			if u.UpdateID == 8 {
				cancel()
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		cancel()
		t.Fatal("polling did not stop")
	}

	assert.Equal(t, []int64{7, 8}, seen)
	assert.Equal(t, int64(9), c.updateOffset)
	assert.NotContains(t, log.all()[0].Body, "offset")
}

func TestGateway(t *testing.T) {
	srv, log := fakeBotAPI(t, func(string) string {
		return `{"ok":true,"result":{"message_id":1,"chat":{"id":5,"type":"private"}}}`
	})
	g := NewGateway(newTestClient(srv.URL), WithProtectedContent(true))

	require.NoError(t, g.SendVideo(context.Background(), 5, "vid", "cap"))
	require.NoError(t, g.SendText(context.Background(), 5, "<b>hi</b>"))

	require.Len(t, log.all(), 2)
	assert.Equal(t, true, log.all()[0].Body["protect_content"])
	assert.Equal(t, "HTML", log.all()[0].Body["parse_mode"])
	assert.Equal(t, "/bot123:ABC/sendMessage", log.all()[1].Path)
	assert.Equal(t, "HTML", log.all()[1].Body["parse_mode"])
}

func TestGateway_ClassifiesErrors(t *testing.T) {
	tests := []struct {
		name     string
		response string
		kind     error
	}{
		{"blocked", `{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`, shared.ErrForbidden},
		{"chat not found", `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`, shared.ErrForbidden},
		{"flood", `{"ok":false,"error_code":429,"description":"Too Many Requests","parameters":{"retry_after":3}}`, shared.ErrRateLimited},
		{"other", `{"ok":false,"error_code":400,"description":"Bad Request: wrong file identifier"}`, shared.ErrExternalService},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := fakeBotAPI(t, func(string) string { return tt.response })
			g := NewGateway(newTestClient(srv.URL))

			err := g.SendVideo(context.Background(), 5, "vid", "cap")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.kind)

			var apiErr *APIError
			assert.True(t, errors.As(err, &apiErr))
		})
	}
}
