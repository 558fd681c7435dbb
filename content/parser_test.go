package content

import (
	"strings"
	"testing"

	"github.com/hupe1980/agentexchange/core"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_ProseCodeProse(t *testing.T) {
	blocks := Parse("hello\n```js\nconsole.log(1)\n```\nbye")

	require.Len(t, blocks, 3)
	assert.Equal(t, core.ContentBlock{Type: core.BlockText, Content: "hello", Index: 0}, blocks[0])
	assert.Equal(t, core.ContentBlock{Type: core.BlockCode, Content: "console.log(1)", Language: "js", Index: 1}, blocks[1])
	assert.Equal(t, core.ContentBlock{Type: core.BlockText, Content: "bye", Index: 2}, blocks[2])
}

func TestParse_Cases(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []core.ContentBlock
	}{
		{
			name:  "empty input",
			input: "",
			want:  nil,
		},
		{
			name:  "prose only",
			input: "just words\nover lines",
			want:  []core.ContentBlock{{Type: core.BlockText, Content: "just words\nover lines"}},
		},
		{
			name:  "code only without language",
			input: "```\nplain\n```",
			want:  []core.ContentBlock{{Type: core.BlockCode, Content: "plain"}},
		},
		{
			name:  "unterminated fence keeps captured code",
			input: "intro\n```py\nprint(1)\nprint(2)",
			want: []core.ContentBlock{
				{Type: core.BlockText, Content: "intro"},
				{Type: core.BlockCode, Content: "print(1)\nprint(2)", Language: "py", Index: 1},
			},
		},
		{
			name:  "unterminated fence with no body",
			input: "intro\n```go",
			want: []core.ContentBlock{
				{Type: core.BlockText, Content: "intro"},
				{Type: core.BlockCode, Content: "", Language: "go", Index: 1},
			},
		},
		{
			name:  "adjacent code blocks emit no empty prose",
			input: "```a\nx\n```\n```b\ny\n```",
			want: []core.ContentBlock{
				{Type: core.BlockCode, Content: "x", Language: "a"},
				{Type: core.BlockCode, Content: "y", Language: "b", Index: 1},
			},
		},
		{
			name:  "crlf is normalized",
			input: "hi\r\n```sh\r\nls\r\n```",
			want: []core.ContentBlock{
				{Type: core.BlockText, Content: "hi"},
				{Type: core.BlockCode, Content: "ls", Language: "sh", Index: 1},
			},
		},
		{
			name:  "inline fenced span",
			input: "run ```make``` now",
			want: []core.ContentBlock{
				{Type: core.BlockText, Content: "run "},
				{Type: core.BlockCode, Content: "make", Index: 1},
				{Type: core.BlockText, Content: " now", Index: 2},
			},
		},
		{
			name:  "language line is trimmed",
			input: "```  rust  \nfn main() {}\n```",
			want:  []core.ContentBlock{{Type: core.BlockCode, Content: "fn main() {}", Language: "rust"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Parse(tt.input))
		})
	}
}

func TestParse_FirstClosingFenceWins(t *testing.T) {
	blocks := Parse("```md\nouter\n```js\ninner\n```\n```")

	require.NotEmpty(t, blocks)
	assert.Equal(t, core.BlockCode, blocks[0].Type)
	assert.Equal(t, "outer", blocks[0].Content)
	assert.Equal(t, "md", blocks[0].Language)
	require.GreaterOrEqual(t, len(blocks), 2)
	assert.Equal(t, core.BlockText, blocks[1].Type)
	assert.True(t, strings.HasPrefix(blocks[1].Content, "js"))
}

func TestParse_NeverEmitsEmptyText(t *testing.T) {
	inputs := []string{"\n```x\n```\n", "```\n```\n\n```\n```", "```a```\n```b```"}
	for _, in := range inputs {
		for _, b := range Parse(in) {
			if b.Type == core.BlockText {
				assert.NotEmpty(t, b.Content, "input %q", in)
			}
		}
	}
}

func TestRender_RoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("Render(Parse(s)) reproduces alternating prose/code input", prop.ForAll(
		func(proses []string, codes [][]string, langs []string, codeFirst bool) bool {
			input := buildAlternating(proses, codes, langs, codeFirst)
			return Render(Parse(input)) == input
		},
		gen.SliceOf(gen.Identifier()),
		gen.SliceOf(gen.SliceOf(gen.AlphaString())),
		gen.SliceOf(gen.AlphaString()),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func buildAlternating(proses []string, codes [][]string, langs []string, codeFirst bool) string {
	var segments []string
	code := func(i int) string {
		lang := ""
		if i < len(langs) {
			lang = langs[i]
		}
		body := strings.Join(codes[i], "\n")
		if body == "" {
			return Fence + lang + "\n" + Fence
		}
		return Fence + lang + "\n" + body + "\n" + Fence
	}
	n := len(proses)
	if len(codes) > n {
		n = len(codes)
	}
	for i := 0; i < n; i++ {
		if codeFirst && i < len(codes) {
			segments = append(segments, code(i))
		}
		if i < len(proses) {
			segments = append(segments, proses[i])
		}
		if !codeFirst && i < len(codes) {
			segments = append(segments, code(i))
		}
	}
	return strings.Join(segments, "\n")
}

func TestCodeBlocks(t *testing.T) {
	blocks := Parse("a\n```go\nx\n```\nb\n```sql\ny\n```")
	code := CodeBlocks(blocks)

	require.Len(t, code, 2)
	assert.Equal(t, "go", code[0].Language)
	assert.Equal(t, "sql", code[1].Language)
	assert.Equal(t, 3, code[1].Index)
}
