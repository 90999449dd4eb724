// Package evaluation measures detector accuracy against labelled corners.
package evaluation

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/parquet-go/parquet-go"

	"github.com/lehigh-university-libraries/flattener/internal/geometry"
)

// Record is one labelled photo. Corners are on the detector's 0-1000 scale
// in top-left, top-right, bottom-right, bottom-left order.
type Record struct {
	ID        string `json:"id" parquet:"id"`
	ImagePath string `json:"image_path" parquet:"image_path"`

	TopLeftX     float64 `json:"tl_x" parquet:"tl_x"`
	TopLeftY     float64 `json:"tl_y" parquet:"tl_y"`
	TopRightX    float64 `json:"tr_x" parquet:"tr_x"`
	TopRightY    float64 `json:"tr_y" parquet:"tr_y"`
	BottomRightX float64 `json:"br_x" parquet:"br_x"`
	BottomRightY float64 `json:"br_y" parquet:"br_y"`
	BottomLeftX  float64 `json:"bl_x" parquet:"bl_x"`
	BottomLeftY  float64 `json:"bl_y" parquet:"bl_y"`
}

// Corners returns the ground-truth quadrilateral.
func (r *Record) Corners() geometry.Quad[geometry.Normalized] {
	return geometry.Quad[geometry.Normalized]{
		{X: r.TopLeftX, Y: r.TopLeftY},
		{X: r.TopRightX, Y: r.TopRightY},
		{X: r.BottomRightX, Y: r.BottomRightY},
		{X: r.BottomLeftX, Y: r.BottomLeftY},
	}
}

// Loader reads a labelled dataset from JSONL or Parquet.
type Loader struct {
	datasetPath string
}

// NewLoader creates a new dataset loader
func NewLoader(datasetPath string) *Loader {
	return &Loader{
		datasetPath: datasetPath,
	}
}

// Load reads every record. limit <= 0 means no limit.
func (l *Loader) Load(limit int) ([]Record, error) {
	ext := strings.ToLower(filepath.Ext(l.datasetPath))

	var (
		records []Record
		err     error
	)
	switch ext {
	case ".parquet":
		records, err = l.loadParquet(limit)
	case ".jsonl", ".json":
		records, err = l.loadJSONL(limit)
	default:
		return nil, fmt.Errorf("unsupported file format: %s (supported: .parquet, .jsonl)", ext)
	}
	if err != nil {
		return nil, err
	}

	for i := range records {
		records[i].ImagePath = l.resolve(records[i].ImagePath)
		if records[i].ID == "" {
			records[i].ID = strings.TrimSuffix(filepath.Base(records[i].ImagePath), filepath.Ext(records[i].ImagePath))
		}
	}
	return records, nil
}

// resolve makes relative image paths relative to the dataset file.
func (l *Loader) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(filepath.Dir(l.datasetPath), p)
}

func (l *Loader) loadJSONL(limit int) ([]Record, error) {
	slog.Debug("Opening JSONL file", "path", l.datasetPath)

	file, err := os.Open(l.datasetPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset file: %w", err)
	}
	defer file.Close()

	var records []Record
	scanner := bufio.NewScanner(file)

	lineNum := 0
	for scanner.Scan() {
		if limit > 0 && len(records) >= limit {
			break
		}
		lineNum++
		line := scanner.Bytes()

		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}

		var record Record
		if err := json.Unmarshal(line, &record); err != nil {
			return nil, fmt.Errorf("failed to parse JSON at line %d: %w", lineNum, err)
		}
		records = append(records, record)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading dataset: %w", err)
	}

	slog.Debug("Finished reading JSONL file", "total_records", len(records), "total_lines", lineNum)
	return records, nil
}

func (l *Loader) loadParquet(limit int) ([]Record, error) {
	slog.Debug("Opening Parquet file", "path", l.datasetPath)

	file, err := os.Open(l.datasetPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	pf, err := parquet.OpenFile(file, info.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet: %w", err)
	}

	slog.Debug("Parquet file opened successfully", "num_rows", pf.NumRows(), "num_row_groups", len(pf.RowGroups()))

	reader := parquet.NewGenericReader[Record](pf)
	defer reader.Close()

	var records []Record
	rows := make([]Record, 128)

	for limit <= 0 || len(records) < limit {
		n, err := reader.Read(rows)
		if n > 0 {
			if limit > 0 && n > limit-len(records) {
				n = limit - len(records)
			}
			records = append(records, rows[:n]...)
		}
		if err != nil {
			break
		}
	}

	slog.Debug("Finished reading Parquet file", "total_records", len(records))
	return records, nil
}
