package pipeline

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aluiziolira/go-grab-ebooks/models"
)

// MetadataWriter appends claimed-book records to a log.
type MetadataWriter interface {
	Write(book models.ClaimedBook) error
	Close() error
	Validate() error
}

// NewMetadataWriter opens the writer for format: text, json or dual. For json
// the path is used as is; for dual the JSON-lines mirror sits next to the text
// log with a .jsonl extension.
func NewMetadataWriter(format, path string) (MetadataWriter, error) {
	switch format {
	case "text", "":
		return NewTextWriter(path)
	case "json":
		return NewJSONWriter(path)
	case "dual":
		return NewDualWriter(path, jsonlPath(path))
	default:
		return nil, fmt.Errorf("unsupported metadata format: %s", format)
	}
}

// jsonlPath never returns path itself, so both halves of a dual log get
// their own file.
func jsonlPath(path string) string {
	ext := filepath.Ext(path)
	if ext == ".jsonl" {
		return path + ".jsonl"
	}
	return path[:len(path)-len(ext)] + ".jsonl"
}

// TextWriter appends key/value records separated by a blank line.
type TextWriter struct {
	file   *os.File
	writer *bufio.Writer
	mu     sync.Mutex
}

// NewTextWriter opens filename for appending, creating it if needed.
func NewTextWriter(filename string) (*TextWriter, error) {
	f, err := openAppend(filename)
	if err != nil {
		return nil, fmt.Errorf("open metadata log: %w", err)
	}
	return &TextWriter{
		file:   f,
		writer: bufio.NewWriter(f),
	}, nil
}

// Write appends one record and flushes it.
func (tw *TextWriter) Write(book models.ClaimedBook) error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	fields := []struct{ key, value string }{
		{"title", book.Title},
		{"description", book.Description},
		{"author", book.Author},
		{"publishDate", book.PublishDate},
		{"bookUrl", book.BookURL},
		{"codeFilesUrl", book.CodeFilesURL},
		{"capturedAt", book.CapturedAt.Format(time.RFC3339)},
	}
	for _, f := range fields {
		if _, err := fmt.Fprintf(tw.writer, "%s: %s\n", f.key, f.value); err != nil {
			return fmt.Errorf("write metadata record: %w", err)
		}
	}
	if err := tw.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write metadata record: %w", err)
	}
	if err := tw.writer.Flush(); err != nil {
		return fmt.Errorf("flush metadata log: %w", err)
	}
	return nil
}

// Close flushes and closes the file handle.
func (tw *TextWriter) Close() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if err := tw.writer.Flush(); err != nil {
		return fmt.Errorf("flush metadata log: %w", err)
	}
	return tw.file.Close()
}

// Validate ensures the log has content.
func (tw *TextWriter) Validate() error {
	return nonEmpty(tw.file, "metadata log")
}

// JSONWriter appends newline-delimited JSON records.
type JSONWriter struct {
	file    *os.File
	writer  *bufio.Writer
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewJSONWriter opens filename for appending.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	f, err := openAppend(filename)
	if err != nil {
		return nil, fmt.Errorf("open json log: %w", err)
	}

	buffer := bufio.NewWriter(f)
	return &JSONWriter{
		file:    f,
		writer:  buffer,
		encoder: json.NewEncoder(buffer),
	}, nil
}

// Write appends book as one JSON line.
func (jw *JSONWriter) Write(book models.ClaimedBook) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.encoder.Encode(book); err != nil {
		return fmt.Errorf("encode json record: %w", err)
	}
	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return nil
}

// Close flushes buffers and closes the underlying file.
func (jw *JSONWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return jw.file.Close()
}

// Validate ensures the JSON file has data.
func (jw *JSONWriter) Validate() error {
	return nonEmpty(jw.file, "json log")
}

func openAppend(filename string) (*os.File, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}
	return os.OpenFile(filename, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}

func nonEmpty(f *os.File, what string) error {
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", what, err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("%s is empty", what)
	}
	return nil
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
