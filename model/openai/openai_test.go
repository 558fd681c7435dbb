package openai

import (
	"context"
	"encoding/json"
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

func TestBuildMessages(t *testing.T) {
	msgs := buildMessages(model.Request{
		Instructions: "you review code",
		Messages: []core.Message{
			core.NewMessage(core.RoleUser, "look at this"),
			core.NewAgentMessage("coder", "done"),
			core.NewMessage(core.RoleTool, "tool output"),
			core.NewMessage(core.RoleUser, ""),
		},
	})
	require.Len(t, msgs, 4)
	assert.NotNil(t, msgs[0].OfSystem)
	assert.NotNil(t, msgs[1].OfUser)
	assert.NotNil(t, msgs[2].OfAssistant)
	assert.NotNil(t, msgs[3].OfUser)
}

func TestModel_GenerateAgainstFakeServer(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "LGTM"}}],
			"usage": {"prompt_tokens": 5, "completion_tokens": 1, "total_tokens": 6}
		}`))
	}))
	defer srv.Close()

	m := NewModel(func(o *Options) {
		o.APIKey = "test"
		o.BaseURL = srv.URL + "/v1/"
	})
	resp, err := model.Complete(context.Background(), m, model.Request{
		Messages: []core.Message{core.NewMessage(core.RoleUser, "review")},
	})
	require.NoError(t, err)
	assert.Equal(t, "LGTM", resp.Text)
	assert.Equal(t, "chatcmpl-1", resp.ID)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 6, resp.Usage.TotalTokens)
	assert.Equal(t, "gpt-4o-mini", body["model"])
	assert.Equal(t, "openai", m.Info().Provider)
}
