package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"drive-relay/internal/model"
)

func TestCompleteSendsMessagesRequest(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/messages", r.URL.Path)
		require.Equal(t, "key-1", r.Header.Get("x-api-key"))
		require.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Equal(t, "system text", payload["system"])
		require.EqualValues(t, 300, payload["max_tokens"])

		_, _ = w.Write([]byte(`{"content":[{"type":"tool_use"},{"type":"text","text":"• claude summary"}]}`))
	}))
	defer server.Close()

	client := New(Config{APIKey: "key-1", BaseURL: server.URL}, nil)
	text, err := client.Complete(context.Background(), "system text", "prompt")
	require.NoError(t, err)
	require.Equal(t, "• claude summary", text)
}

func TestCompleteWithoutKeyIsUnavailable(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil).Complete(context.Background(), "s", "p")
	require.True(t, errors.Is(err, model.ErrUnavailable))
}

func TestCompleteWithoutTextBlock(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"content":[]}`))
	}))
	defer server.Close()

	_, err := New(Config{APIKey: "k", BaseURL: server.URL}, nil).Complete(context.Background(), "s", "p")
	require.Error(t, err)
}
