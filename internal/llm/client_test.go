package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOpenAI struct {
	chatCalls  atomic.Int32
	embedCalls atomic.Int32
	failFirst  int32
	lastChat   map[string]any
	batchSizes []int
}

func (f *fakeOpenAI) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/chat/completions":
			n := f.chatCalls.Add(1)
			if n <= f.failFirst {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
				return
			}
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			f.lastChat = body
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id":     "chatcmpl-test",
				"object": "chat.completion",
				"model":  body["model"],
				"choices": []map[string]any{{
					"index":         0,
					"message":       map[string]string{"role": "assistant", "content": "general_sales"},
					"finish_reason": "stop",
				}},
				"usage": map[string]int{"prompt_tokens": 12, "completion_tokens": 2, "total_tokens": 14},
			})
		case "/v1/embeddings":
			f.embedCalls.Add(1)
			var body struct {
				Input []string `json:"input"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			f.batchSizes = append(f.batchSizes, len(body.Input))
			data := make([]map[string]any, len(body.Input))
			for i, in := range body.Input {
				data[i] = map[string]any{
					"object":    "embedding",
					"index":     i,
					"embedding": []float32{float32(len(in)), 1, 0},
				}
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"object": "list",
				"data":   data,
				"model":  "text-embedding-3-small",
				"usage":  map[string]int{"prompt_tokens": len(body.Input), "total_tokens": len(body.Input)},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func newTestClient(t *testing.T, f *fakeOpenAI, batch int) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	return NewClient(Options{
		APIKey:         "test-key",
		BaseURL:        srv.URL + "/v1",
		Model:          "gpt-4o-mini",
		EmbeddingModel: "text-embedding-3-small",
		BatchSize:      batch,
		MaxRetries:     2,
	})
}

func TestComplete_SendsMessagesInOrder(t *testing.T) {
	f := &fakeOpenAI{}
	c := newTestClient(t, f, 100)

	out, err := c.Complete(context.Background(), []Message{
		{Role: RoleSystem, Content: "classify"},
		{Role: RoleUser, Content: "What plans do you offer?"},
	}, 0, 50)
	require.NoError(t, err)
	assert.Equal(t, "general_sales", out)

	msgs, ok := f.lastChat["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "What plans do you offer?", msgs[1].(map[string]any)["content"])
	assert.EqualValues(t, 50, f.lastChat["max_tokens"])

	temp, ok := f.lastChat["temperature"].(float64)
	require.True(t, ok, "zero temperature must still be sent")
	assert.Greater(t, temp, 0.0)
	assert.Less(t, temp, 1e-6)
}

func TestComplete_SendsTemperature(t *testing.T) {
	f := &fakeOpenAI{}
	c := newTestClient(t, f, 100)

	_, err := c.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, 0.3, 10)
	require.NoError(t, err)
	assert.InDelta(t, 0.3, f.lastChat["temperature"], 1e-6)
}

func TestComplete_RetriesServerErrors(t *testing.T) {
	f := &fakeOpenAI{failFirst: 1}
	c := newTestClient(t, f, 100)

	out, err := c.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, 0.7, 10)
	require.NoError(t, err)
	assert.Equal(t, "general_sales", out)
	assert.EqualValues(t, 2, f.chatCalls.Load())
}

func TestEmbedBatch_SplitsAtBatchSize(t *testing.T) {
	f := &fakeOpenAI{}
	c := newTestClient(t, f, 2)

	vectors, err := c.EmbedBatch(context.Background(), []string{"a", "bb", "ccc", "dddd", "eeeee"})
	require.NoError(t, err)
	require.Len(t, vectors, 5)
	assert.Equal(t, []int{2, 2, 1}, f.batchSizes)
	for i, v := range vectors {
		assert.Equal(t, float32(i+1), v[0], "vector %d out of order", i)
	}
}

func TestEmbed_Single(t *testing.T) {
	f := &fakeOpenAI{}
	c := newTestClient(t, f, 100)

	v, err := c.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{5, 1, 0}, v)
}

func TestEmbedBatch_Empty(t *testing.T) {
	f := &fakeOpenAI{}
	c := newTestClient(t, f, 100)

	vectors, err := c.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vectors)
	assert.Zero(t, f.embedCalls.Load())
}
