package model

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/agentexchange/core"
)

// Request captures the normalized input for one team member turn.
type Request struct {
	Instructions string         `json:"instructions"`
	Messages     []core.Message `json:"messages"`
	Stream       bool           `json:"stream,omitempty"`
}

// LastUserText returns the content of the last user message in req.
func (r Request) LastUserText() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == core.RoleUser {
			return r.Messages[i].Content
		}
	}
	return ""
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a (partial or final) chunk emitted by a model.
type Response struct {
	ID           string      `json:"id"`
	Partial      bool        `json:"partial"`
	Text         string      `json:"text"`
	FinishReason string      `json:"finish_reason"`
	Usage        *TokenUsage `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"`
}

// Model is the minimal interface a team member needs to produce a reply.
// Generate streams partial chunks when req.Stream is set and always ends with
// one non-partial response, or an error.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)
	Info() Info
}

// Complete drains Generate and returns the final response. Partial chunks are
// concatenated when the final chunk carries no text of its own.
func Complete(ctx context.Context, m Model, req Request) (Response, error) {
	respCh, errCh := m.Generate(ctx, req)
	var (
		final   Response
		gotLast bool
		partial strings.Builder
	)
	for respCh != nil || errCh != nil {
		select {
		case r, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if r.Partial {
				partial.WriteString(r.Text)
				continue
			}
			final, gotLast = r, true
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return Response{}, err
			}
		}
	}
	if !gotLast {
		return Response{}, fmt.Errorf("model %s returned no final response", m.Info().Name)
	}
	if final.Text == "" {
		final.Text = partial.String()
	}
	return final, nil
}

// MockModel is a lightweight in-memory Model useful for tests and demos.
// It is safe for concurrent use.
type MockModel struct {
	info Info

	mu        sync.RWMutex
	responses map[string]string
	err       error
	calls     atomic.Int64
}

// NewMockModel constructs a MockModel.
func NewMockModel(name, provider string) *MockModel {
	return &MockModel{
		info:      Info{Name: name, Provider: provider},
		responses: make(map[string]string),
	}
}

// AddResponse registers a canned completion for a user prompt.
func (m *MockModel) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = response
}

// SetError makes every subsequent Generate fail with err (nil clears it).
func (m *MockModel) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns how many times Generate was invoked.
func (m *MockModel) Calls() int { return int(m.calls.Load()) }

// Generate implements Model; emits optional per-rune chunks then the final response.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	m.calls.Add(1)
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	m.mu.RLock()
	injected := m.err
	input := req.LastUserText()
	full := m.responses[input]
	m.mu.RUnlock()

	go func() {
		defer close(respCh)
		defer close(errCh)
		if injected != nil {
			errCh <- injected
			return
		}
		if len(req.Messages) == 0 {
			errCh <- fmt.Errorf("no messages provided")
			return
		}
		if full == "" {
			full = fmt.Sprintf("Mock response to: %s", input)
		}
		if req.Stream {
			for _, r := range full {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case respCh <- Response{Partial: true, Text: string(r)}:
				}
			}
		}
		select {
		case <-ctx.Done():
			errCh <- ctx.Err()
		case respCh <- Response{Text: full, FinishReason: "stop"}:
		}
	}()
	return respCh, errCh
}

// Info implements Model.
func (m *MockModel) Info() Info { return m.info }

// FuncModel adapts a function into a Model.
type FuncModel struct {
	info Info
	fn   func(ctx context.Context, req Request) (string, error)
}

// NewFuncModel returns a Model whose replies come from fn.
func NewFuncModel(name string, fn func(ctx context.Context, req Request) (string, error)) *FuncModel {
	return &FuncModel{info: Info{Name: name, Provider: "func"}, fn: fn}
}

// Generate implements Model.
func (f *FuncModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 1)
	errCh := make(chan error, 1)
	go func() {
		defer close(respCh)
		defer close(errCh)
		text, err := f.fn(ctx, req)
		if err != nil {
			errCh <- err
			return
		}
		respCh <- Response{Text: text, FinishReason: "stop"}
	}()
	return respCh, errCh
}

// Info implements Model.
func (f *FuncModel) Info() Info { return f.info }
