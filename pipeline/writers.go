package pipeline

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/aluiziolira/go-books-spider/models"
)

var csvHeader = []string{"title", "price", "rating", "amount_in_stock", "category", "description", "upc", "url", "scraped_at"}

// fileSink owns an output file shared by the file-backed writers.
type fileSink struct {
	kind string
	file *os.File
	mu   sync.Mutex
}

func openFileSink(kind, filename string) (*fileSink, error) {
	if dir := filepath.Dir(filename); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create %s file: %w", kind, err)
	}
	return &fileSink{kind: kind, file: f}, nil
}

// Validate reports an empty output file as an error.
func (fs *fileSink) Validate() error {
	info, err := fs.file.Stat()
	if err != nil {
		return fmt.Errorf("stat %s file: %w", fs.kind, err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("%s file is empty", fs.kind)
	}
	return nil
}

// CSVWriter writes one row per entry under a fixed header.
type CSVWriter struct {
	*fileSink
	writer *csv.Writer
}

// NewCSVWriter creates filename and writes the header row.
func NewCSVWriter(filename string) (*CSVWriter, error) {
	sink, err := openFileSink("csv", filename)
	if err != nil {
		return nil, err
	}
	cw := &CSVWriter{fileSink: sink, writer: csv.NewWriter(sink.file)}
	if err := cw.writeRows([][]string{csvHeader}); err != nil {
		sink.file.Close()
		return nil, err
	}
	return cw, nil
}

// Write appends entries. A missing stock count is an empty cell.
func (cw *CSVWriter) Write(entries []*models.CatalogEntry) error {
	rows := make([][]string, 0, len(entries))
	for _, entry := range entries {
		rows = append(rows, csvRecord(entry))
	}
	return cw.writeRows(rows)
}

func (cw *CSVWriter) writeRows(rows [][]string) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	if err := cw.writer.WriteAll(rows); err != nil {
		return fmt.Errorf("write csv records: %w", err)
	}
	return nil
}

func csvRecord(entry *models.CatalogEntry) []string {
	stock := ""
	if entry.StockCount != nil {
		stock = strconv.Itoa(*entry.StockCount)
	}
	return []string{
		entry.Title,
		strconv.FormatFloat(entry.Price, 'f', 2, 64),
		strconv.Itoa(entry.Rating),
		stock,
		entry.Category,
		entry.Description,
		entry.UPC,
		entry.URL,
		entry.ScrapedAt.Format(time.RFC3339),
	}
}

func (cw *CSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		cw.file.Close()
		return fmt.Errorf("flush csv writer: %w", err)
	}
	return cw.file.Close()
}

// JSONWriter writes newline-delimited JSON, one object per entry.
type JSONWriter struct {
	*fileSink
}

func NewJSONWriter(filename string) (*JSONWriter, error) {
	sink, err := openFileSink("json", filename)
	if err != nil {
		return nil, err
	}
	return &JSONWriter{fileSink: sink}, nil
}

// Write encodes the batch in memory and appends it with a single write.
func (jw *JSONWriter) Write(entries []*models.CatalogEntry) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, entry := range entries {
		if err := enc.Encode(entry); err != nil {
			return fmt.Errorf("encode json record %s: %w", entry.UPC, err)
		}
	}

	jw.mu.Lock()
	defer jw.mu.Unlock()
	if _, err := jw.file.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write json records: %w", err)
	}
	return nil
}

func (jw *JSONWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()
	return jw.file.Close()
}
