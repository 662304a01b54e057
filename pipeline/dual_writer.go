package pipeline

import (
	"errors"
	"fmt"
	"sync"

	"github.com/aluiziolira/go-grab-ebooks/models"
)

// DualWriter mirrors every record into the text log and a JSON-lines file.
type DualWriter struct {
	text *TextWriter
	json *JSONWriter
	mu   sync.Mutex
}

// NewDualWriter opens both logs.
func NewDualWriter(textFilename, jsonFilename string) (*DualWriter, error) {
	text, err := NewTextWriter(textFilename)
	if err != nil {
		return nil, err
	}
	jw, err := NewJSONWriter(jsonFilename)
	if err != nil {
		text.Close()
		return nil, err
	}
	return &DualWriter{text: text, json: jw}, nil
}

// Write appends book to both logs.
func (dw *DualWriter) Write(book models.ClaimedBook) error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	if err := dw.text.Write(book); err != nil {
		return fmt.Errorf("text write failed: %w", err)
	}
	if err := dw.json.Write(book); err != nil {
		return fmt.Errorf("json write failed: %w", err)
	}
	return nil
}

// Close closes both writers.
func (dw *DualWriter) Close() error {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	return errors.Join(dw.text.Close(), dw.json.Close())
}

// Validate checks both files.
func (dw *DualWriter) Validate() error {
	return errors.Join(dw.text.Validate(), dw.json.Validate())
}
