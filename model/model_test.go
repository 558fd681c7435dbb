package model

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/hupe1980/agentexchange/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func userReq(text string) Request {
	return Request{Messages: []core.Message{core.NewMessage(core.RoleUser, text)}}
}

func TestMockModel_CannedAndDefault(t *testing.T) {
	m := NewMockModel("mock", "test")
	m.AddResponse("ping", "pong")

	resp, err := Complete(context.Background(), m, userReq("ping"))
	require.NoError(t, err)
	assert.Equal(t, "pong", resp.Text)
	assert.Equal(t, "stop", resp.FinishReason)

	resp, err = Complete(context.Background(), m, userReq("other"))
	require.NoError(t, err)
	assert.Equal(t, "Mock response to: other", resp.Text)
	assert.Equal(t, 2, m.Calls())
}

func TestMockModel_Streaming(t *testing.T) {
	m := NewMockModel("mock", "test")
	m.AddResponse("hi", "abc")
	req := userReq("hi")
	req.Stream = true

	respCh, errCh := m.Generate(context.Background(), req)
	var partials []string
	var final Response
	for r := range respCh {
		if r.Partial {
			partials = append(partials, r.Text)
			continue
		}
		final = r
	}
	assert.NoError(t, <-errCh)
	assert.Equal(t, []string{"a", "b", "c"}, partials)
	assert.Equal(t, "abc", final.Text)
}

func TestMockModel_Error(t *testing.T) {
	m := NewMockModel("mock", "test")
	boom := errors.New("boom")
	m.SetError(boom)

	_, err := Complete(context.Background(), m, userReq("x"))
	assert.ErrorIs(t, err, boom)

	m.SetError(nil)
	_, err = Complete(context.Background(), m, Request{})
	assert.Error(t, err)
}

func TestMockModel_ConcurrentUse(t *testing.T) {
	m := NewMockModel("mock", "test")
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := Complete(context.Background(), m, userReq("x"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 16, m.Calls())
}

func TestFuncModel(t *testing.T) {
	var seen Request
	f := NewFuncModel("fn", func(_ context.Context, req Request) (string, error) {
		seen = req
		return "done", nil
	})
	req := userReq("task")
	req.Instructions = "be brief"

	resp, err := Complete(context.Background(), f, req)
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Text)
	assert.Equal(t, "be brief", seen.Instructions)
	assert.Equal(t, "fn", f.Info().Name)
}

func TestRequest_LastUserText(t *testing.T) {
	req := Request{Messages: []core.Message{
		core.NewMessage(core.RoleUser, "first"),
		core.NewMessage(core.RoleUser, "second"),
		core.NewAgentMessage("a", "reply"),
	}}
	assert.Equal(t, "second", req.LastUserText())
	assert.Equal(t, "", Request{}.LastUserText())
}
