// Package content splits free-form message text into ordered prose and fenced
// code blocks.
package content

import (
	"strings"

	"github.com/hupe1980/agentexchange/core"
)

// Fence is the marker that opens and closes a code block.
const Fence = "```"

type parseState int

const (
	outsideBlock parseState = iota
	insideBlock
)

// Normalize converts CRLF and lone CR line endings to LF.
func Normalize(s string) string {
	if !strings.Contains(s, "\r") {
		return s
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

// Parse runs a single pass over text and returns its blocks in order.
//
// A fence seen outside a block flushes pending prose and starts a code block
// whose language is the rest of the fence line. The next fence closes it;
// nesting is not supported. Input ending inside a block still yields the
// captured code. The newline between prose and a fence belongs to the fence,
// and empty prose blocks are never emitted.
func Parse(text string) []core.ContentBlock {
	text = Normalize(text)

	var (
		blocks   []core.ContentBlock
		state    = outsideBlock
		language string
		pos      int
	)

	emit := func(t core.BlockType, body, lang string) {
		blocks = append(blocks, core.ContentBlock{Type: t, Content: body, Language: lang, Index: len(blocks)})
	}

	for pos <= len(text) {
		rest := text[pos:]
		next := strings.Index(rest, Fence)

		switch state {
		case outsideBlock:
			if next < 0 {
				if prose := trimLeadingNewline(rest, blocks); prose != "" {
					emit(core.BlockText, prose, "")
				}
				return blocks
			}
			prose := trimLeadingNewline(rest[:next], blocks)
			prose = strings.TrimSuffix(prose, "\n")
			if prose != "" {
				emit(core.BlockText, prose, "")
			}

			pos += next + len(Fence)
			line, consumed, inline := fenceLine(text[pos:])
			pos += consumed
			if inline {
				// "```x```" on one line: the span between the fences is code.
				emit(core.BlockCode, line, "")
				continue
			}
			language = strings.TrimSpace(line)
			state = insideBlock

		case insideBlock:
			if next < 0 {
				emit(core.BlockCode, strings.TrimSuffix(rest, "\n"), language)
				return blocks
			}
			emit(core.BlockCode, strings.TrimSuffix(rest[:next], "\n"), language)
			pos += next + len(Fence)
			language = ""
			state = outsideBlock
		}
	}

	return blocks
}

// fenceLine reads the remainder of an opening fence line. It returns the line
// text, how many bytes were consumed (including the newline) and whether a
// closing fence appeared on the same line, in which case the closing fence is
// consumed as well.
func fenceLine(s string) (string, int, bool) {
	nl := strings.IndexByte(s, '\n')
	closing := strings.Index(s, Fence)
	if closing >= 0 && (nl < 0 || closing < nl) {
		return s[:closing], closing + len(Fence), true
	}
	if nl < 0 {
		return s, len(s), false
	}
	return s[:nl], nl + 1, false
}

// trimLeadingNewline drops the newline that follows a closing fence. At the
// start of input there is no preceding fence, so nothing is trimmed.
func trimLeadingNewline(s string, blocks []core.ContentBlock) string {
	if len(blocks) == 0 || blocks[len(blocks)-1].Type != core.BlockCode {
		return s
	}
	return strings.TrimPrefix(s, "\n")
}

// Render reassembles blocks into text, re-inserting fences and language tags.
// For input made of alternating prose and fenced code, Render(Parse(s))
// reproduces Normalize(s).
func Render(blocks []core.ContentBlock) string {
	var b strings.Builder
	for i, blk := range blocks {
		if i > 0 {
			b.WriteByte('\n')
		}
		if blk.Type != core.BlockCode {
			b.WriteString(blk.Content)
			continue
		}
		b.WriteString(Fence)
		b.WriteString(blk.Language)
		b.WriteByte('\n')
		if blk.Content != "" {
			b.WriteString(blk.Content)
			b.WriteByte('\n')
		}
		b.WriteString(Fence)
	}
	return b.String()
}

// CodeBlocks returns only the code blocks of blocks, preserving order.
func CodeBlocks(blocks []core.ContentBlock) []core.ContentBlock {
	var out []core.ContentBlock
	for _, b := range blocks {
		if b.Type == core.BlockCode {
			out = append(out, b)
		}
	}
	return out
}
