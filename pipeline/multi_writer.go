package pipeline

import (
	"errors"
	"fmt"
	"sync"

	"github.com/aluiziolira/go-books-spider/models"
)

// MultiWriter fans every batch out to several sinks in order.
type MultiWriter struct {
	mu      sync.Mutex
	writers []namedWriter
}

type namedWriter struct {
	name string
	OutputWriter
}

// NewMultiWriter combines writers; names label errors from each sink.
func NewMultiWriter(names []string, writers ...OutputWriter) (*MultiWriter, error) {
	if len(names) != len(writers) {
		return nil, fmt.Errorf("multi writer: %d names for %d writers", len(names), len(writers))
	}
	mw := &MultiWriter{}
	for i, w := range writers {
		mw.writers = append(mw.writers, namedWriter{name: names[i], OutputWriter: w})
	}
	return mw, nil
}

// NewDualWriter writes CSV and JSON lines side by side.
func NewDualWriter(csvFilename, jsonFilename string) (*MultiWriter, error) {
	csvWriter, err := NewCSVWriter(csvFilename)
	if err != nil {
		return nil, fmt.Errorf("create csv writer: %w", err)
	}

	jsonWriter, err := NewJSONWriter(jsonFilename)
	if err != nil {
		csvWriter.Close()
		return nil, fmt.Errorf("create json writer: %w", err)
	}

	return NewMultiWriter([]string{"csv", "json"}, csvWriter, jsonWriter)
}

// Write stops at the first sink that fails.
func (mw *MultiWriter) Write(entries []*models.CatalogEntry) error {
	mw.mu.Lock()
	defer mw.mu.Unlock()

	for _, w := range mw.writers {
		if err := w.Write(entries); err != nil {
			return fmt.Errorf("%s write: %w", w.name, err)
		}
	}
	return nil
}

// Close closes every sink and joins their errors.
func (mw *MultiWriter) Close() error {
	mw.mu.Lock()
	defer mw.mu.Unlock()

	var errs []error
	for _, w := range mw.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s close: %w", w.name, err))
		}
	}
	return errors.Join(errs...)
}

func (mw *MultiWriter) Validate() error {
	var errs []error
	for _, w := range mw.writers {
		if err := w.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s validate: %w", w.name, err))
		}
	}
	return errors.Join(errs...)
}
