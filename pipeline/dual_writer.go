package pipeline

import (
	"fmt"

	"github.com/aluiziolira/go-scrape-games/models"
)

// DualWriter checkpoints every page batch in both CSV and JSONL form.
type DualWriter struct {
	csvWriter   *CSVWriter
	jsonlWriter *JSONLWriter
}

// NewDualWriter builds both underlying writers over the same directory.
func NewDualWriter(dir string) (*DualWriter, error) {
	csvWriter, err := NewCSVWriter(dir)
	if err != nil {
		return nil, fmt.Errorf("create csv writer: %w", err)
	}
	jsonlWriter, err := NewJSONLWriter(dir)
	if err != nil {
		return nil, fmt.Errorf("create jsonl writer: %w", err)
	}
	return &DualWriter{csvWriter: csvWriter, jsonlWriter: jsonlWriter}, nil
}

// WritePage writes the batch in both formats.
func (dw *DualWriter) WritePage(batch *models.PageBatch) error {
	if err := dw.csvWriter.WritePage(batch); err != nil {
		return fmt.Errorf("csv checkpoint: %w", err)
	}
	if err := dw.jsonlWriter.WritePage(batch); err != nil {
		return fmt.Errorf("jsonl checkpoint: %w", err)
	}
	return nil
}

// Close closes both writers.
func (dw *DualWriter) Close() error {
	if err := dw.csvWriter.Close(); err != nil {
		return err
	}
	return dw.jsonlWriter.Close()
}

// Validate validates both outputs.
func (dw *DualWriter) Validate() error {
	if err := dw.csvWriter.Validate(); err != nil {
		return err
	}
	return dw.jsonlWriter.Validate()
}
