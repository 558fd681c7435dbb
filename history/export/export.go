// Package export writes a stored session and its history to files in several
// formats: json, jsonl, yaml and markdown. A trailing ".zst" on the output
// path compresses the result with zstd.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hupe1980/agentexchange/core"
	"github.com/hupe1980/agentexchange/exchange"
	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"
)

// Document is what every exporter renders: one session and its ordered log.
type Document struct {
	Session  core.Session   `json:"session" yaml:"session"`
	Messages []core.Message `json:"messages" yaml:"messages"`
}

// Exporter renders a Document in one format.
type Exporter interface {
	Export(doc Document, w io.Writer) error
	Extension() string
}

// ExportError reports a failed export of one format to one path.
type ExportError struct {
	Format string
	Path   string
	Err    error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("export error [%s] %s: %v", e.Format, e.Path, e.Err)
}

func (e *ExportError) Unwrap() error { return e.Err }

// NewExporter returns the exporter for format.
func NewExporter(format string) (Exporter, error) {
	switch strings.ToLower(format) {
	case "json":
		return JSONExporter{}, nil
	case "jsonl":
		return JSONLExporter{}, nil
	case "yaml", "yml":
		return YAMLExporter{}, nil
	case "md", "markdown":
		return MarkdownExporter{}, nil
	default:
		return nil, core.Errorf(core.KindInvalidInput, "export", "unsupported format %q (supported: json, jsonl, yaml, md)", format)
	}
}

// FormatForPath derives the export format from path's extension, ignoring a
// trailing ".zst". compressed reports whether that suffix was present.
func FormatForPath(path string) (format string, compressed bool) {
	if strings.HasSuffix(path, ".zst") {
		compressed = true
		path = strings.TrimSuffix(path, ".zst")
	}
	return strings.TrimPrefix(filepath.Ext(path), "."), compressed
}

// Load reads a session and its history from store into a Document.
func Load(ctx context.Context, store core.HistoryStore, sessionID string) (Document, error) {
	sess, err := store.GetSession(ctx, sessionID)
	if err != nil {
		return Document{}, err
	}
	msgs, err := store.Load(ctx, sessionID)
	if err != nil {
		return Document{}, err
	}
	return Document{Session: sess, Messages: msgs}, nil
}

// Write renders doc in format to w, compressing with zstd when compress is set.
func Write(doc Document, format string, compress bool, w io.Writer) error {
	exp, err := NewExporter(format)
	if err != nil {
		return err
	}
	if !compress {
		return exp.Export(doc, w)
	}
	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	if err := exp.Export(doc, zw); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

// ToFile exports sessionID from store to path. The format follows the file
// extension (.json, .jsonl, .yaml/.yml, .md) with an optional .zst suffix.
// The file is written to a temporary sibling and renamed into place.
func ToFile(ctx context.Context, store core.HistoryStore, sessionID, path string) error {
	format, compressed := FormatForPath(path)
	if _, err := NewExporter(format); err != nil {
		return err
	}
	doc, err := Load(ctx, store, sessionID)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := Write(doc, format, compressed, &buf); err != nil {
		return &ExportError{Format: format, Path: path, Err: err}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return &ExportError{Format: format, Path: path, Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return &ExportError{Format: format, Path: path, Err: err}
	}
	return nil
}

// ReadCompressed returns the decompressed contents of a .zst export.
func ReadCompressed(r io.Reader) ([]byte, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

// JSONExporter writes the document as one indented JSON object.
type JSONExporter struct{}

func (JSONExporter) Export(doc Document, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	return nil
}

func (JSONExporter) Extension() string { return "json" }

// JSONLExporter writes one message per line.
type JSONLExporter struct{}

func (JSONLExporter) Export(doc Document, w io.Writer) error {
	enc := json.NewEncoder(w)
	for _, m := range doc.Messages {
		if err := enc.Encode(m); err != nil {
			return fmt.Errorf("failed to encode message: %w", err)
		}
	}
	return nil
}

func (JSONLExporter) Extension() string { return "jsonl" }

// YAMLExporter writes the document as YAML.
type YAMLExporter struct{}

func (YAMLExporter) Export(doc Document, w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	return enc.Close()
}

func (YAMLExporter) Extension() string { return "yaml" }

// MarkdownExporter writes a human readable transcript.
type MarkdownExporter struct{}

func (MarkdownExporter) Export(doc Document, w io.Writer) error {
	s := doc.Session
	_, _ = fmt.Fprintf(w, "# Session %s\n\n", s.ID)
	_, _ = fmt.Fprintf(w, "**Backend:** %s  \n", s.BackendType)
	_, _ = fmt.Fprintf(w, "**Target:** %s  \n", s.TargetID)
	_, _ = fmt.Fprintf(w, "**State:** %s  \n", s.State)
	_, _ = fmt.Fprintf(w, "**Messages:** %d\n\n", len(doc.Messages))
	_, _ = fmt.Fprintf(w, "---\n\n")

	for i, m := range doc.Messages {
		if _, err := fmt.Fprintf(w, "%s\n\n_%s_\n\n%s\n\n", exchange.RoleHeader(m), m.Timestamp.UTC().Format("2006-01-02 15:04:05"), m.Content); err != nil {
			return err
		}
		if i < len(doc.Messages)-1 {
			_, _ = fmt.Fprintf(w, "---\n\n")
		}
	}
	return nil
}

func (MarkdownExporter) Extension() string { return "md" }
