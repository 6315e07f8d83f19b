package ingest

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/kbchat-ai/kbchat/engine/domain"
)

// Expected column headers in uploaded files.
const (
	colCategory = "category"
	colQuestion = "question"
	colAnswer   = "answer"
)

// ParseFile converts an uploaded tabular file into entries. The extension
// decides the parser; anything but CSV/XLSX/XLS is rejected up front, before
// any embedding work. Rows missing a column are normalized to empty strings
// rather than dropped, so submitted and reported counts always line up.
func ParseFile(filename string, data []byte) ([]domain.Entry, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return parseCSV(data)
	case ".xlsx", ".xls":
		return parseWorkbook(data)
	default:
		return nil, fmt.Errorf("ingest: %q: %w", filename, domain.ErrUnsupportedFileType)
	}
}

func parseCSV(data []byte) ([]domain.Entry, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1 // tolerate ragged rows

	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ingest: read csv header: %w", err)
	}
	idx := headerIndex(header)

	var entries []domain.Entry
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ingest: read csv row: %w", err)
		}
		entries = append(entries, entryFromRow(row, idx))
	}
	return entries, nil
}

func parseWorkbook(data []byte) ([]domain.Entry, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("ingest: open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("ingest: read sheet %s: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	idx := headerIndex(rows[0])
	entries := make([]domain.Entry, 0, len(rows)-1)
	for _, row := range rows[1:] {
		entries = append(entries, entryFromRow(row, idx))
	}
	return entries, nil
}

// headerIndex maps the three known columns to their positions, matching
// case-insensitively. Missing columns map to -1.
func headerIndex(header []string) map[string]int {
	idx := map[string]int{colCategory: -1, colQuestion: -1, colAnswer: -1}
	for i, h := range header {
		if _, known := idx[strings.ToLower(strings.TrimSpace(h))]; known {
			idx[strings.ToLower(strings.TrimSpace(h))] = i
		}
	}
	return idx
}

func entryFromRow(row []string, idx map[string]int) domain.Entry {
	cell := func(col string) string {
		i := idx[col]
		if i < 0 || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}
	return domain.Entry{
		Category: cell(colCategory),
		Question: cell(colQuestion),
		Answer:   cell(colAnswer),
	}
}
