// Package datafile reads the flat delimited files that describe shared test
// assets. Each row is a dataset: an identifying field name followed by one or
// more values, e.g. `mac,AA:BB:CC`. Files are re-read on every search; lock
// state can change between scans, so nothing is cached here.
package datafile

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Extensions lists the file suffixes recognised as candidate data files.
var Extensions = []string{".csv", ".txt"}

// Record is one immutable row of a data file.
type Record struct {
	// ID is the dataset identifier from column 0.
	ID string
	// Values holds the remaining columns in row order.
	Values []string
}

// Value returns column i of the record, or "" when the column is absent.
func (r Record) Value(i int) string {
	if i < 0 || i >= len(r.Values) {
		return ""
	}
	return r.Values[i]
}

// File is a parsed candidate data file.
type File struct {
	Path    string
	Records []Record
}

// Load parses a delimited data file. Rows have a variable number of columns;
// cells are whitespace-trimmed and blank rows are skipped.
func Load(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	df := &File{Path: path}
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		id := strings.TrimSpace(row[0])
		if id == "" {
			continue
		}
		values := make([]string, 0, len(row)-1)
		for _, cell := range row[1:] {
			values = append(values, strings.TrimSpace(cell))
		}
		df.Records = append(df.Records, Record{ID: id, Values: values})
	}
	return df, nil
}

// Lookup returns the record whose dataset identifier matches id
// (case-insensitive). The boolean is false when no such row exists.
func (f *File) Lookup(id string) (Record, bool) {
	if f == nil {
		return Record{}, false
	}
	for _, rec := range f.Records {
		if strings.EqualFold(rec.ID, id) {
			return rec, true
		}
	}
	return Record{}, false
}

// Value returns column 1 for the row identified by id. Absence of the row or
// the column is reported via the boolean, never as an error.
func (f *File) Value(id string) (string, bool) {
	rec, ok := f.Lookup(id)
	if !ok {
		return "", false
	}
	v := rec.Value(0)
	if v == "" {
		return "", false
	}
	return v, true
}

// IsDataFile reports whether name carries a recognised data file extension.
func IsDataFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// BaseName strips the directory and everything from the first dot of a data
// file path, so "store/deviceA.csv" becomes "deviceA".
func BaseName(path string) string {
	name := filepath.Base(path)
	if i := strings.IndexByte(name, '.'); i > 0 {
		return name[:i]
	}
	return name
}
