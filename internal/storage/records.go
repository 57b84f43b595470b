// Package storage writes export chunks to object storage and assembles them
// into downloadable archives.
package storage

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Format is the serialization of a stored chunk.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// Ext returns the file extension for the format, without the dot.
func (f Format) Ext() string {
	return string(f)
}

// ContentType returns the MIME type stored alongside the object.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatJSON:
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

// Key returns the object key for a chunk written under keyWithoutExt.
func Key(keyWithoutExt string, f Format) string {
	return keyWithoutExt + "." + f.Ext()
}

// Records is a formatted chunk: an ordered column list and one map per row.
type Records struct {
	Columns []string
	Rows    []map[string]any
}

// Len returns the number of rows.
func (r Records) Len() int {
	return len(r.Rows)
}

// Encode serializes records. The output depends only on the records, so
// rewriting a chunk produces identical bytes.
func Encode(r Records, f Format) ([]byte, error) {
	switch f {
	case FormatCSV:
		return encodeCSV(r)
	case FormatJSON:
		return encodeJSON(r)
	default:
		return nil, fmt.Errorf("unsupported format %q", f)
	}
}

func encodeCSV(r Records) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(r.Columns); err != nil {
		return nil, err
	}
	row := make([]string, len(r.Columns))
	for _, rec := range r.Rows {
		for i, col := range r.Columns {
			row[i] = csvValue(rec[col])
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func csvValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		if x.IsZero() {
			return ""
		}
		return x.UTC().Format(time.RFC3339)
	case *time.Time:
		if x == nil {
			return ""
		}
		return csvValue(*x)
	case []string:
		return strings.Join(x, ",")
	default:
		return fmt.Sprint(x)
	}
}

func encodeJSON(r Records) ([]byte, error) {
	rows := make([]map[string]any, 0, len(r.Rows))
	for _, rec := range r.Rows {
		row := make(map[string]any, len(r.Columns))
		for _, col := range r.Columns {
			row[col] = rec[col]
		}
		rows = append(rows, row)
	}
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
