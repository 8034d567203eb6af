package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGateway(t *testing.T, handler http.HandlerFunc) *Gateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New("test-key",
		WithBaseURL(srv.URL),
		WithRetry(2),
		WithRateLimit(6000, 10),
		WithTimeout(2*time.Second),
	)
}

func TestGateway_Chat_Success(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": "hello there"}},
			},
		})
	})

	text, err := g.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, Options{Tag: "test"})
	require.NoError(t, err)
	assert.Equal(t, "hello there", text)
}

func TestGateway_Chat_RetriesOn5xx(t *testing.T) {
	attempts := 0
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": "ok"}}},
		})
	})

	text, err := g.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, Options{Tag: "test"})
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, 2, attempts)
}

func TestGateway_Chat_NonRetryableOn4xx(t *testing.T) {
	attempts := 0
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"bad"}`))
	})

	_, err := g.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, Options{Tag: "test"})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestGateway_Chat_JSONResponseFormatRejectsNonJSON(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": "not json"}}},
		})
	})

	_, err := g.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, Options{Tag: "test", ResponseFormat: "json_object"})
	require.Error(t, err)
}

func TestGateway_Chat_ContextCancelledBeforeCall(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.Chat(ctx, []Message{{Role: "user", Content: "hi"}}, Options{Tag: "test"})
	require.Error(t, err)
}
