package core

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"sync"

	"github.com/jeanclaudio13/etl-transparencia-sergipe/internal/models"
	"github.com/jeanclaudio13/etl-transparencia-sergipe/internal/utils"
	"github.com/rs/zerolog"
)

const (
	csvDelimiter = ';'
	utf8BOM      = "\ufeff"
)

// UnitFileName deterministic unit file name of a task
func UnitFileName(t models.Task) string {
	suffix := t.Month
	if suffix == "" {
		suffix = "anual"
	}
	return fmt.Sprintf("%s_royalties_%s_%s.csv", t.City, t.Year, suffix)
}

// UnitPath location of a task's unit file under dataDir
func UnitPath(dataDir string, t models.Task) string {
	return filepath.Join(dataDir, t.City, UnitFileName(t))
}

// Aggregator buffers the classified records of one task
type Aggregator struct {
	task models.Task

	mu      sync.Mutex
	records []models.ClassifiedRecord
}

// NewAggregator creates an empty aggregator for t
func NewAggregator(t models.Task) *Aggregator {
	return &Aggregator{task: t}
}

// Add buffers one record; safe for concurrent use
func (a *Aggregator) Add(r models.ClassifiedRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, r)
}

// Len number of buffered records
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.records)
}

// Flush writes the unit file and returns its path. Without records nothing
// is written and the path is empty.
func (a *Aggregator) Flush(ctx context.Context, dataDir string) (string, int, error) {
	a.mu.Lock()
	records := append([]models.ClassifiedRecord(nil), a.records...)
	a.mu.Unlock()

	log := zerolog.Ctx(ctx)
	if len(records) == 0 {
		log.Info().Msg("no royalty records for this unit, nothing written")
		return "", 0, nil
	}

	header := unionColumns(records)
	path := UnitPath(dataDir, a.task)
	err := utils.WriteFileAtomic(path, func(w io.Writer) error {
		rows := make([][]string, 0, len(records))
		for _, r := range records {
			row := make([]string, len(header))
			for i, col := range header {
				row[i], _ = r.Get(col)
			}
			rows = append(rows, row)
		}
		return writeCSV(w, header, rows)
	})
	if err != nil {
		return "", 0, fmt.Errorf("write unit file %s: %w", path, err)
	}

	log.Info().Str("path", path).Int("records", len(records)).Msg("unit file saved")
	return path, len(records), nil
}

// unionColumns field names of all records in first-seen order
func unionColumns(records []models.ClassifiedRecord) []string {
	seen := make(map[string]bool)
	var cols []string
	for _, r := range records {
		for _, name := range r.Columns() {
			if !seen[name] {
				seen[name] = true
				cols = append(cols, name)
			}
		}
	}
	return cols
}

// writeCSV writes a BOM-prefixed, semicolon-delimited table
func writeCSV(w io.Writer, header []string, rows [][]string) error {
	if _, err := io.WriteString(w, utf8BOM); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	cw.Comma = csvDelimiter
	if err := cw.Write(header); err != nil {
		return err
	}
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	return cw.Error()
}
