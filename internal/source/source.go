// Package source loads error-code tables (CSV or XLSX) into source records.
package source

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hyperjump/mistri/internal/models"
)

// ErrMissingColumn is returned when the header row lacks a required column.
var ErrMissingColumn = errors.New("missing required column")

// ErrUnsupportedFormat is returned for file extensions with no loader.
var ErrUnsupportedFormat = errors.New("unsupported source format")

// Accepted header names per field, compared case-insensitively after trimming.
var (
	codeHeaders        = []string{"error_code", "code"}
	nameHeaders        = []string{"error_name", "name"}
	descriptionHeaders = []string{"description_cause", "description", "cause"}
)

// Loader reads source tables.
type Loader struct{}

// NewLoader returns a new Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load reads the file at path and returns its rows in file order.
func (l *Loader) Load(path string) ([]models.SourceRecord, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return l.LoadBytes(content, strings.ToLower(filepath.Ext(path)))
}

// LoadBytes parses content according to ext (with leading dot, e.g. ".csv").
func (l *Loader) LoadBytes(content []byte, ext string) ([]models.SourceRecord, error) {
	var rows [][]string
	var err error
	switch ext {
	case ".csv", "":
		rows, err = readCSV(content)
	case ".xlsx":
		rows, err = readXLSX(content)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, err
	}
	return recordsFromRows(rows)
}

func recordsFromRows(rows [][]string) ([]models.SourceRecord, error) {
	if len(rows) == 0 {
		return []models.SourceRecord{}, nil
	}
	header := rows[0]
	code, err := column(header, codeHeaders)
	if err != nil {
		return nil, err
	}
	name, err := column(header, nameHeaders)
	if err != nil {
		return nil, err
	}
	desc, err := column(header, descriptionHeaders)
	if err != nil {
		return nil, err
	}

	out := make([]models.SourceRecord, 0, len(rows)-1)
	for _, row := range rows[1:] {
		rec := models.SourceRecord{
			Code:        cell(row, code),
			Name:        cell(row, name),
			Description: cell(row, desc),
		}
		if rec.Code == "" && rec.Name == "" && rec.Description == "" {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func column(header []string, accepted []string) (int, error) {
	for _, want := range accepted {
		for i, h := range header {
			if strings.EqualFold(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")), want) {
				return i, nil
			}
		}
	}
	return 0, fmt.Errorf("%w: one of %v", ErrMissingColumn, accepted)
}

func cell(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
