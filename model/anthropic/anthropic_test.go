package anthropic

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hupe1980/agentexchange/core"
	"github.com/hupe1980/agentexchange/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ model.Model = (*Model)(nil)

func TestBuildMessages_MergesConsecutiveRoles(t *testing.T) {
	msgs := buildMessages([]core.Message{
		core.NewMessage(core.RoleUser, "task"),
		core.NewMessage(core.RoleTool, "tool output"),
		core.NewMessage(core.RoleSystem, "ignored here"),
		core.NewAgentMessage("a", "first"),
		core.NewAgentMessage("b", "second"),
		core.NewMessage(core.RoleUser, "follow up"),
	})
	require.Len(t, msgs, 3)
	assert.Equal(t, "user", string(msgs[0].Role))
	assert.Equal(t, "assistant", string(msgs[1].Role))
	assert.Equal(t, "user", string(msgs[2].Role))
}

func TestSystemBlocks(t *testing.T) {
	blocks := systemBlocks(model.Request{
		Instructions: "be terse",
		Messages:     []core.Message{core.NewMessage(core.RoleSystem, "extra")},
	})
	require.Len(t, blocks, 2)
	assert.Equal(t, "be terse", blocks[0].Text)
	assert.Equal(t, "extra", blocks[1].Text)
}

func TestModel_GenerateAgainstFakeServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/messages") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-3-5-sonnet-20241022",
			"content": [{"type": "text", "text": "Ship it"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 3, "output_tokens": 2}
		}`))
	}))
	defer srv.Close()

	m := NewModel(func(o *Options) {
		o.APIKey = "test"
		o.BaseURL = srv.URL
	})
	resp, err := model.Complete(context.Background(), m, model.Request{
		Messages: []core.Message{core.NewMessage(core.RoleUser, "ready?")},
	})
	require.NoError(t, err)
	assert.Equal(t, "Ship it", resp.Text)
	assert.Equal(t, "end_turn", resp.FinishReason)
	assert.Equal(t, 5, resp.Usage.TotalTokens)
}

func TestModel_NoMessages(t *testing.T) {
	m := NewModel(func(o *Options) {
		o.APIKey = "test"
		o.BaseURL = "http://127.0.0.1:1"
	})
	_, err := model.Complete(context.Background(), m, model.Request{})
	assert.Error(t, err)
}
