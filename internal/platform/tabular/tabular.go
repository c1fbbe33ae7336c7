// Package tabular reads and writes the flat, schema-stable tables exchanged
// with upstream extraction and downstream statistics: parquet for columnar
// storage and csv for interchange.
package tabular

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"
)

const (
	FormatCSV     = "csv"
	FormatParquet = "parquet"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported file format, only csv and parquet are supported")
	ErrMissingColumn     = errors.New("required column missing")
)

// Path joins a table name and format extension under dir.
func Path(dir, table, format string) string {
	return filepath.Join(dir, table+"."+format)
}

// Exists reports whether a regular file exists at path.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// ReadParquet loads every row of a parquet file into T using its parquet tags.
func ReadParquet[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, fmt.Errorf("read parquet %s: %w", path, err)
	}
	return rows, nil
}

// WriteParquet writes rows to path, creating parent directories.
func WriteParquet[T any](path string, rows []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := parquet.WriteFile(path, rows); err != nil {
		return fmt.Errorf("write parquet %s: %w", path, err)
	}
	return nil
}

// Record is a row type that knows its csv layout.
type Record interface {
	CSVHeader() []string
	CSVRow() []string
}

// WriteCSV writes rows with the header taken from the zero value of T.
func WriteCSV[T Record](path string, rows []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv %s: %w", path, err)
	}
	defer f.Close()
	if err := EncodeCSV(f, rows); err != nil {
		return fmt.Errorf("write csv %s: %w", path, err)
	}
	return f.Close()
}

// EncodeCSV streams rows as csv to w.
func EncodeCSV[T Record](w io.Writer, rows []T) error {
	var zero T
	cw := csv.NewWriter(w)
	if err := cw.Write(zero.CSVHeader()); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write(r.CSVRow()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Row is one csv record addressed by column name.
type Row struct {
	cols map[string]int
	rec  []string
	Line int
}

// Str returns the trimmed cell, or "" when the column is absent.
func (r Row) Str(col string) string {
	i, ok := r.cols[col]
	if !ok || i >= len(r.rec) {
		return ""
	}
	return strings.TrimSpace(r.rec[i])
}

func (r Row) has(col string) bool {
	_, ok := r.cols[col]
	return ok
}

func (r Row) Float(col string) (float64, error) {
	if !r.has(col) {
		return 0, fmt.Errorf("line %d: %w: %s", r.Line, ErrMissingColumn, col)
	}
	v, err := strconv.ParseFloat(r.Str(col), 64)
	if err != nil {
		return 0, fmt.Errorf("line %d: parse %s: %w", r.Line, col, err)
	}
	return v, nil
}

// OptFloat returns nil for empty or NA cells.
func (r Row) OptFloat(col string) (*float64, error) {
	s := r.Str(col)
	if isNull(s) {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("line %d: parse %s: %w", r.Line, col, err)
	}
	return &v, nil
}

func (r Row) OptBool(col string) (*bool, error) {
	s := strings.ToLower(r.Str(col))
	if isNull(s) {
		return nil, nil
	}
	var v bool
	switch s {
	case "1", "1.0", "true", "t", "yes", "y":
		v = true
	case "0", "0.0", "false", "f", "no", "n":
		v = false
	default:
		return nil, fmt.Errorf("line %d: parse %s: invalid boolean %q", r.Line, col, s)
	}
	return &v, nil
}

func (r Row) Time(col string) (time.Time, error) {
	if !r.has(col) {
		return time.Time{}, fmt.Errorf("line %d: %w: %s", r.Line, ErrMissingColumn, col)
	}
	t, err := ParseTime(r.Str(col))
	if err != nil {
		return time.Time{}, fmt.Errorf("line %d: parse %s: %w", r.Line, col, err)
	}
	return t, nil
}

func (r Row) OptTime(col string) (*time.Time, error) {
	s := r.Str(col)
	if isNull(s) {
		return nil, nil
	}
	t, err := ParseTime(s)
	if err != nil {
		return nil, fmt.Errorf("line %d: parse %s: %w", r.Line, col, err)
	}
	return &t, nil
}

func isNull(s string) bool {
	switch strings.ToLower(s) {
	case "", "na", "nan", "null", "none", "nat":
		return true
	}
	return false
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTime accepts the timestamp shapes produced by common extract tools.
// Values without an offset are read as wall-clock UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// ReadCSV decodes every record of a headered csv file with decode.
func ReadCSV[T any](path string, decode func(Row) (T, error)) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv %s: %w", path, err)
	}
	defer f.Close()
	return DecodeCSV(f, decode)
}

// DecodeCSV reads a headered csv stream.
func DecodeCSV[T any](rd io.Reader, decode func(Row) (T, error)) ([]T, error) {
	cr := csv.NewReader(rd)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	head, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	cols := make(map[string]int, len(head))
	for i, h := range head {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}

	var out []T
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}
		v, err := decode(Row{cols: cols, rec: rec, Line: line})
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// FormatFloat renders an optional float for csv output.
func FormatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// FormatTime renders an optional timestamp for csv output.
func FormatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02 15:04:05")
}

func FormatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
