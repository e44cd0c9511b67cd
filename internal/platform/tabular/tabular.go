// Package tabular reads uploaded CSV and XLSX files into ingest.RawTables and
// writes normalized records back out in the template layout.
package tabular

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/amr/amr/internal/ingest"
)

// ErrUnsupportedFormat is returned for files that are neither CSV nor XLSX.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// Kind is a supported file type.
type Kind string

const (
	KindCSV  Kind = "csv"
	KindXLSX Kind = "xlsx"
)

// zipMagic starts every XLSX file.
var zipMagic = []byte("PK\x03\x04")

// KindOf picks the file type from the name's extension, falling back to the
// content when the extension says nothing.
func KindOf(name string, data []byte) (Kind, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".txt", ".tsv":
		return KindCSV, nil
	case ".xlsx", ".xlsm":
		return KindXLSX, nil
	case "":
		if bytes.HasPrefix(data, zipMagic) {
			return KindXLSX, nil
		}
		return KindCSV, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(name))
}

// Read parses data as the file type implied by name.
func Read(name string, data []byte) (ingest.RawTable, error) {
	kind, err := KindOf(name, data)
	if err != nil {
		return ingest.RawTable{}, err
	}
	var rows [][]string
	switch kind {
	case KindXLSX:
		rows, err = readXLSX(data)
	default:
		rows, err = readCSV(data)
	}
	if err != nil {
		return ingest.RawTable{}, fmt.Errorf("read %s: %w", name, err)
	}
	return toTable(rows), nil
}

// toTable splits the first row off as headers. Header text is NFKC-normalized
// so full-width and compatibility characters compare equal to plain ASCII.
func toTable(rows [][]string) ingest.RawTable {
	if len(rows) == 0 {
		return ingest.RawTable{}
	}
	headers := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		headers[i] = strings.TrimSpace(norm.NFKC.String(h))
	}
	return ingest.RawTable{Headers: headers, Rows: rows[1:]}
}

// Normalize reads data and runs it through n. A file that cannot be read
// yields no records and a single line 1 diagnostic instead of an error.
func Normalize(n *ingest.Normalizer, name string, data []byte) ingest.Result {
	t, err := Read(name, data)
	if err != nil {
		return ingest.Result{
			Format:   ingest.FormatNarrow,
			Accepted: []ingest.Record{},
			Rejected: []ingest.Diagnostic{{Line: 1, Reason: "no rows parsed: " + err.Error()}},
		}
	}
	return n.Normalize(t)
}
