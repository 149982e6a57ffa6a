package model

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/codepipe/core"
	"github.com/hupe1980/codepipe/tool"
)

// MockProvider is the provider name of the in-memory test models.
const MockProvider = "mock"

// MockModel is a lightweight in-memory Model useful for tests & demos.
// When the request offers tools it calls the first one (transfer excluded)
// with empty arguments, then answers once the tool result arrives. Answers
// are canned completions keyed by the last text, which is the tool result
// after a call.
type MockModel struct {
	info      Info
	mu        sync.RWMutex
	responses map[string]string
}

// NewMockModel constructs a MockModel.
func NewMockModel(name, provider string) *MockModel {
	return &MockModel{
		info: Info{
			Name:          name,
			Provider:      provider,
			SupportsTools: true,
		},
		responses: make(map[string]string),
	}
}

// AddResponse registers a deterministic canned completion for an input prompt.
func (m *MockModel) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = response
}

// Generate implements Model; emits optional streaming char chunks then the
// final response.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(respCh)
		defer close(errCh)

		if len(req.Contents) == 0 {
			errCh <- fmt.Errorf("no contents provided")
			return
		}

		last := req.Contents[len(req.Contents)-1]
		inputText := last.Text()

		if fr, ok := toolResult(req, last); ok {
			inputText = FunctionResponseText(fr)
		} else if name, ok := firstTool(req); ok {
			respCh <- Response{
				Content: core.Content{Role: "assistant", Parts: []core.Part{core.FunctionCallPart{
					FunctionCall: core.FunctionCall{ID: core.NewID(), Name: name, Arguments: "{}"},
				}}},
				FinishReason: "tool_calls",
			}
			return
		}

		m.mu.RLock()
		full := m.responses[inputText]
		m.mu.RUnlock()

		if full == "" {
			full = fmt.Sprintf("Mock response to: %s", inputText)
		}

		if req.Stream {
			for _, r := range full {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case respCh <- Response{Partial: true, Content: core.NewTextContent("assistant", string(r))}:
				}
			}
		}

		respCh <- Response{
			Content:      core.NewTextContent("assistant", full),
			FinishReason: "stop",
		}
	}()

	return respCh, errCh
}

// Info implements Model interface.
func (m *MockModel) Info() Info { return m.info }

// toolResult returns the response in last to a tool offered by req.
func toolResult(req Request, last core.Content) (core.FunctionResponse, bool) {
	for _, p := range last.Parts {
		fr, ok := p.(core.FunctionResponsePart)
		if !ok {
			continue
		}
		for _, td := range req.Tools {
			if td.Function.Name == fr.FunctionResponse.Name {
				return fr.FunctionResponse, true
			}
		}
	}
	return core.FunctionResponse{}, false
}

func firstTool(req Request) (string, bool) {
	for _, td := range req.Tools {
		if td.Function.Name != tool.TransferToolName {
			return td.Function.Name, true
		}
	}
	return "", false
}

// FuncModel adapts a function to Model. Each Generate call invokes fn once
// and emits its single response.
type FuncModel struct {
	info Info
	fn   func(ctx context.Context, req Request) (Response, error)
}

// NewFuncModel constructs a FuncModel reporting the given name under the
// mock provider.
func NewFuncModel(name string, fn func(ctx context.Context, req Request) (Response, error)) *FuncModel {
	return &FuncModel{
		info: Info{Name: name, Provider: MockProvider, SupportsTools: true},
		fn:   fn,
	}
}

// Generate implements Model.
func (m *FuncModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 1)
	errCh := make(chan error, 1)

	go func() {
		defer close(respCh)
		defer close(errCh)

		resp, err := m.fn(ctx, req)
		if err != nil {
			errCh <- err
			return
		}

		if resp.FinishReason == "" {
			resp.FinishReason = "stop"
		}

		respCh <- resp
	}()

	return respCh, errCh
}

// Info implements Model.
func (m *FuncModel) Info() Info { return m.info }
