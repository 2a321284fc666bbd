// Package pipeline persists completed page batches. Each page index maps to
// exactly one output file, so re-running a page overwrites its checkpoint
// and never touches a sibling's.
package pipeline

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/aluiziolira/go-scrape-games/models"
)

// CheckpointWriter persists one page batch per call. Implementations must
// be idempotent: writing the same batch twice yields identical files.
type CheckpointWriter interface {
	WritePage(batch *models.PageBatch) error
	Close() error
	Validate() error
}

// Columns is the output schema consumed by the downstream dataset steps.
var Columns = []string{"name", "platform", "release_date", "metascore", "user_score", "developer", "publisher", "genre"}

// CSVWriter writes one page_NNNN.csv file per page batch.
type CSVWriter struct {
	dir string
	mu  sync.Mutex
}

// NewCSVWriter creates the output directory if needed.
func NewCSVWriter(dir string) (*CSVWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory %q: %w", dir, err)
	}
	return &CSVWriter{dir: dir}, nil
}

// WritePage persists batch to its page file. The file is written to a
// temporary name and renamed into place, so a partially written checkpoint
// is never visible and a rewrite of the same batch is byte-identical.
func (cw *CSVWriter) WritePage(batch *models.PageBatch) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	final := pageFileName(cw.dir, batch.Page, "csv")
	tmp := final + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create checkpoint file: %w", err)
	}

	writer := csv.NewWriter(f)
	if err := writer.Write(Columns); err != nil {
		f.Close()
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, rec := range batch.Records {
		row := []string{
			rec.Name,
			rec.Platform,
			rec.ReleaseDate,
			rec.Metascore,
			rec.UserScore,
			rec.Developer,
			marshalList(rec.Publisher),
			marshalList(rec.Genre),
		}
		if err := writer.Write(row); err != nil {
			f.Close()
			return fmt.Errorf("write csv record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		f.Close()
		return fmt.Errorf("flush csv records: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close checkpoint file: %w", err)
	}

	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("finalize checkpoint file: %w", err)
	}
	return nil
}

// Close is a no-op; page files are closed as they are written.
func (cw *CSVWriter) Close() error {
	return nil
}

// Validate ensures at least one checkpoint file exists.
func (cw *CSVWriter) Validate() error {
	return validateDir(cw.dir, "csv")
}

// JSONLWriter writes one page_NNNN.jsonl file per page batch.
type JSONLWriter struct {
	dir string
	mu  sync.Mutex
}

// NewJSONLWriter creates the output directory if needed.
func NewJSONLWriter(dir string) (*JSONLWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory %q: %w", dir, err)
	}
	return &JSONLWriter{dir: dir}, nil
}

// WritePage persists batch as newline-delimited JSON, atomically.
func (jw *JSONLWriter) WritePage(batch *models.PageBatch) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	final := pageFileName(jw.dir, batch.Page, "jsonl")
	tmp := final + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create checkpoint file: %w", err)
	}

	encoder := json.NewEncoder(f)
	for _, rec := range batch.Records {
		if err := encoder.Encode(rec); err != nil {
			f.Close()
			return fmt.Errorf("encode json record: %w", err)
		}
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("close checkpoint file: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("finalize checkpoint file: %w", err)
	}
	return nil
}

// Close is a no-op; page files are closed as they are written.
func (jw *JSONLWriter) Close() error {
	return nil
}

// Validate ensures at least one checkpoint file exists.
func (jw *JSONLWriter) Validate() error {
	return validateDir(jw.dir, "jsonl")
}

// CompletedPages reports which page indexes already have a checkpoint file
// of the given extension in dir. Used by resume mode.
func CompletedPages(dir, ext string) (map[int]bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[int]bool{}, nil
		}
		return nil, fmt.Errorf("read output directory: %w", err)
	}

	done := make(map[int]bool)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, "page_") || !strings.HasSuffix(name, "."+ext) {
			continue
		}
		digits := strings.TrimSuffix(strings.TrimPrefix(name, "page_"), "."+ext)
		page, err := strconv.Atoi(digits)
		if err != nil {
			continue
		}
		done[page] = true
	}
	return done, nil
}

func pageFileName(dir string, page int, ext string) string {
	return filepath.Join(dir, fmt.Sprintf("page_%04d.%s", page, ext))
}

// marshalList renders a list column as JSON array text, the list-like form
// the downstream concatenation step expects inside a CSV cell.
func marshalList(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	encoded, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(encoded)
}

func validateDir(dir, ext string) error {
	matches, err := filepath.Glob(filepath.Join(dir, "page_*."+ext))
	if err != nil {
		return fmt.Errorf("scan output directory: %w", err)
	}
	if len(matches) == 0 {
		return fmt.Errorf("no checkpoint files written to %s", dir)
	}
	return nil
}
