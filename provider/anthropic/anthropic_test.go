package anthropic_provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/LifeContext/lifecontext-sub000/provider/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompleteMovesSystemPromptOutOfMessages(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/messages", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude-test","content":[{"type":"text","text":"SUFFICIENT"}],"stop_reason":"end_turn","usage":{"input_tokens":3,"output_tokens":1}}`))
	}))
	defer srv.Close()

	c := NewClient("key", srv.URL, "claude-test", 0.2, 128, 5*time.Second)
	out, err := c.Complete(context.Background(), types.CompletionRequest{
		Messages: []types.Message{
			{Role: types.RoleSystem, Content: "answer with one word"},
			{Role: types.RoleUser, Content: "enough?"},
		},
		ZeroTemperature: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "SUFFICIENT", out)

	msgs := body["messages"].([]any)
	require.Len(t, msgs, 1)
	assert.Equal(t, "user", msgs[0].(map[string]any)["role"])
	system := body["system"].([]any)
	assert.Equal(t, "answer with one word", system[0].(map[string]any)["text"])
	assert.InDelta(t, 128, body["max_tokens"], 0.1)
	assert.InDelta(t, 0, body["temperature"], 0.0001)
}
