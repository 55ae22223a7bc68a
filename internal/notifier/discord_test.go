package notifier_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/qayeq/transferd/internal/notifier"
	"github.com/qayeq/transferd/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscordNotifierPostsContent(t *testing.T) {
	var payload map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &payload))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := &notifier.DiscordNotifier{WebhookURL: srv.URL}
	require.NoError(t, n.Notify("hello"))

	assert.Equal(t, "hello", payload["content"])
}

func TestDiscordNotifierRejectsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	n := &notifier.DiscordNotifier{WebhookURL: srv.URL}
	assert.Error(t, n.Notify("hello"))
}

func TestDiscordNotifierRequiresWebhook(t *testing.T) {
	n := &notifier.DiscordNotifier{}
	assert.Error(t, n.Notify("hello"))
}

func TestMessages(t *testing.T) {
	done := registry.Transfer{Filename: "movie.mkv", ReceivedBytes: 5_000_000, TotalBytes: 5_000_000}
	assert.Contains(t, notifier.CompletedMessage(done), "movie.mkv")

	failed := registry.Transfer{Filename: "movie.mkv", Error: "connection reset"}
	msg := notifier.FailedMessage(failed)
	assert.Contains(t, msg, "movie.mkv")
	assert.Contains(t, msg, "connection reset")
}
