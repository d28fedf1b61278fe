package core

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jeanclaudio13/etl-transparencia-sergipe/internal/models"
	"github.com/jeanclaudio13/etl-transparencia-sergipe/internal/utils"
	"github.com/rs/zerolog"
)

// ConsolidatedFileName name of a (city, year) consolidated file
func ConsolidatedFileName(city, year string) string {
	return fmt.Sprintf("%s_royalties_%s_consolidado.csv", city, year)
}

// Consolidator merges the unit files of one (city, year)
type Consolidator struct {
	dataDir string
}

// NewConsolidator creates a consolidator working under dataDir
func NewConsolidator(dataDir string) *Consolidator {
	return &Consolidator{dataDir: dataDir}
}

// unitTable one parsed unit file
type unitTable struct {
	header []string
	rows   [][]string
}

// Consolidate merges every unit file of (city, year) into the consolidated
// file. Unreadable files are logged and skipped. No unit files means no
// output and an empty result path.
func (c *Consolidator) Consolidate(ctx context.Context, city, year string) (models.ConsolidationResult, error) {
	log := zerolog.Ctx(ctx).With().Str("city", city).Str("year", year).Logger()
	result := models.ConsolidationResult{City: city, Year: year}

	dir := filepath.Join(c.dataDir, city)
	if _, err := os.Stat(dir); err != nil {
		log.Info().Str("dir", dir).Msg("no data folder, nothing to consolidate")
		return result, nil
	}

	files, err := c.unitFiles(dir, city, year)
	if err != nil {
		return result, fmt.Errorf("%w: list unit files: %v", models.ErrConsolidation, err)
	}
	if len(files) == 0 {
		log.Info().Str("dir", dir).Msg("no unit files, nothing to consolidate")
		return result, nil
	}

	var tables []unitTable
	for _, f := range files {
		t, err := readUnitFile(f)
		if err != nil {
			log.Error().Err(fmt.Errorf("%w: %v", models.ErrConsolidation, err)).Str("file", f).Msg("unit file skipped")
			result.Skipped = append(result.Skipped, f)
			continue
		}
		tables = append(tables, t)
	}
	result.Files = len(tables)
	if len(tables) == 0 {
		log.Warn().Int("skipped", len(result.Skipped)).Msg("no readable unit files, nothing written")
		return result, nil
	}

	header, rows := mergeTables(tables)
	out := filepath.Join(dir, ConsolidatedFileName(city, year))
	if err := utils.WriteFileAtomic(out, func(w io.Writer) error {
		return writeCSV(w, header, rows)
	}); err != nil {
		return result, fmt.Errorf("%w: write %s: %v", models.ErrConsolidation, out, err)
	}

	result.Path = out
	result.Records = len(rows)
	log.Info().Str("path", out).Int("files", result.Files).Int("records", result.Records).Msg("consolidated")
	return result, nil
}

// unitFiles sorted unit files of (city, year) found on disk, without the
// consolidated file. Files left by earlier runs are included.
func (c *Consolidator) unitFiles(dir, city, year string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, fmt.Sprintf("%s_royalties_%s_*.csv", city, year)))
	if err != nil {
		return nil, err
	}
	consolidated := ConsolidatedFileName(city, year)
	files := matches[:0]
	for _, m := range matches {
		if filepath.Base(m) != consolidated {
			files = append(files, m)
		}
	}
	sort.Strings(files)
	return files, nil
}

// readUnitFile reads a unit file written with either ';' or ','
func readUnitFile(path string) (unitTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return unitTable{}, err
	}
	data = bytes.TrimPrefix(data, []byte(utf8BOM))
	if len(bytes.TrimSpace(data)) == 0 {
		return unitTable{}, fmt.Errorf("%s is empty", filepath.Base(path))
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = detectDelimiter(data)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	records, err := r.ReadAll()
	if err != nil {
		return unitTable{}, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return unitTable{header: records[0], rows: records[1:]}, nil
}

// detectDelimiter picks ';' or ',' from the header line; ties go to ';'
func detectDelimiter(data []byte) rune {
	line := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		line = data[:i]
	}
	if strings.Count(string(line), ",") > strings.Count(string(line), ";") {
		return ','
	}
	return ';'
}

// mergeTables unions the headers in first-seen order and remaps every row
func mergeTables(tables []unitTable) ([]string, [][]string) {
	pos := make(map[string]int)
	var header []string
	for _, t := range tables {
		for _, col := range t.header {
			if _, ok := pos[col]; !ok {
				pos[col] = len(header)
				header = append(header, col)
			}
		}
	}

	var rows [][]string
	for _, t := range tables {
		for _, rec := range t.rows {
			row := make([]string, len(header))
			for i, v := range rec {
				if i < len(t.header) {
					row[pos[t.header[i]]] = v
				}
			}
			rows = append(rows, row)
		}
	}
	return header, rows
}
