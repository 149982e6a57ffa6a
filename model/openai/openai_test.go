package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/codepipe/core"
	"github.com/hupe1980/codepipe/model"
)

const completionBody = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1700000000,
  "model": "gpt-4o-mini",
  "choices": [{
    "index": 0,
    "finish_reason": "tool_calls",
    "message": {
      "role": "assistant",
      "content": "checking",
      "tool_calls": [{
        "id": "call-1",
        "type": "function",
        "function": {"name": "get_protos", "arguments": "{}"}
      }]
    }
  }],
  "usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
}`

func newTestModel(t *testing.T, handler http.HandlerFunc) *Model {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewModel(func(o *Options) {
		o.APIKey = "test-key"
		o.BaseURL = srv.URL + "/"
	})
}

func TestGenerate_NonStreaming(t *testing.T) {
	var body map[string]any

	m := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		data, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.NoError(t, json.Unmarshal(data, &body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, completionBody)
	})

	req := model.Request{
		Instructions: "be brief",
		Contents:     []core.Content{core.NewTextContent("user", "hi")},
		Tools: []model.ToolDefinition{{
			Type: "function",
			Function: model.FunctionDefinition{
				Name:       "get_protos",
				Parameters: map[string]any{"type": "object", "properties": map[string]any{}},
			},
		}},
	}

	out, errCh := m.Generate(context.Background(), req)

	var responses []model.Response
	for r := range out {
		responses = append(responses, r)
	}
	require.NoError(t, <-errCh)
	require.Len(t, responses, 1)

	resp := responses[0]
	assert.Equal(t, "tool_calls", resp.FinishReason)
	assert.Equal(t, "checking", resp.Content.Text())
	require.Len(t, resp.Content.Parts, 2)
	assert.Equal(t, "get_protos", resp.Content.Parts[1].(core.FunctionCallPart).FunctionCall.Name)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 15, resp.Usage.TotalTokens)

	assert.Equal(t, "gpt-4o-mini", body["model"])
	assert.Len(t, body["messages"], 2)
	assert.Len(t, body["tools"], 1)
}

func TestGenerate_APIError(t *testing.T) {
	m := newTestModel(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"message":"bad request","type":"invalid_request_error"}}`)
	})

	_, err := model.GenerateText(context.Background(), m, model.Request{
		Contents: []core.Content{core.NewTextContent("user", "hi")},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "openai api error")
}

func TestBuildMessages_ToolResultsFollowCalls(t *testing.T) {
	req := model.Request{
		Instructions: "sys",
		Contents: []core.Content{
			core.NewTextContent("user", "q"),
			{Role: "assistant", Parts: []core.Part{
				core.FunctionCallPart{FunctionCall: core.FunctionCall{ID: "c1", Name: "get_protos", Arguments: "{}"}},
			}},
			{Role: "tool", Parts: []core.Part{
				core.FunctionResponsePart{FunctionResponse: core.FunctionResponse{ID: "c1", Name: "get_protos", Response: "proto"}},
			}},
			core.NewTextContent("assistant", "done"),
		},
	}

	msgs := buildMessages(req)
	require.Len(t, msgs, 5)
	assert.NotNil(t, msgs[0].OfSystem)
	assert.NotNil(t, msgs[1].OfUser)
	require.NotNil(t, msgs[2].OfAssistant)
	assert.Len(t, msgs[2].OfAssistant.ToolCalls, 1)
	require.NotNil(t, msgs[3].OfTool)
	assert.Equal(t, "c1", msgs[3].OfTool.ToolCallID)
	assert.NotNil(t, msgs[4].OfAssistant)
}

func TestFactoryAndInfo(t *testing.T) {
	m, err := Factory(func(o *Options) { o.APIKey = "k" })("gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, "openai:gpt-4o", m.Info().Ref())
	assert.True(t, m.Info().SupportsTools)
}
