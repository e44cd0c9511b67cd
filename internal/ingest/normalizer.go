// Package ingest normalizes uploaded AMR laboratory tables into canonical
// lab-result records.
//
// A file is either a narrow template (one antibiotic result per row) or a
// WHONET-style wide export (one isolate per row, one column per antibiotic).
// Normalize detects the shape, classifies every header once, expands each row
// into zero or more Records and collects per-line Diagnostics for rows that
// could not be used. The package does no I/O and never returns an error:
// malformed surveillance data is reported, not raised.
package ingest

import (
	"strings"
)

// Normalizer turns RawTables into Results. It is immutable after
// construction and safe for concurrent use.
type Normalizer struct {
	opts  Options
	names map[string]string // lower-case antibiotic display name -> name
}

// NewNormalizer builds a Normalizer from opts. Zero-valued options fall back
// to the defaults and a DefaultAge outside [0, MaxAge] becomes 0; the tables
// are copied so later changes by the caller have no effect.
func NewNormalizer(opts Options) *Normalizer {
	if opts.Tables.Metadata == nil {
		opts.Tables = DefaultTables()
	} else {
		opts.Tables = opts.Tables.Clone()
	}
	if opts.WideThreshold <= 0 {
		opts.WideThreshold = DefaultWideThreshold
	}
	if opts.AgePolicy == "" {
		opts.AgePolicy = AgeDefault
	}
	if opts.DefaultAge < 0 || opts.DefaultAge > MaxAge {
		opts.DefaultAge = 0
	}

	names := make(map[string]string, len(opts.Tables.Antibiotics))
	for _, name := range opts.Tables.Antibiotics {
		names[strings.ToLower(name)] = name
	}
	return &Normalizer{opts: opts, names: names}
}

// Options returns a copy of the normalizer's options.
func (n *Normalizer) Options() Options {
	o := n.opts
	o.Tables = o.Tables.Clone()
	return o
}

// Normalize runs the whole pipeline over one table. Records keep input row
// order and, within a row, header column order.
func (n *Normalizer) Normalize(t RawTable) Result {
	headers := make([]string, len(t.Headers))
	empty := true
	for i, h := range t.Headers {
		headers[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if headers[i] != "" {
			empty = false
		}
	}

	res := Result{
		Format:   n.Detect(headers),
		Accepted: []Record{},
		Rejected: []Diagnostic{},
	}
	if empty {
		res.Rejected = append(res.Rejected, Diagnostic{Line: 1, Reason: "no rows parsed: empty header row"})
		return res
	}

	l := n.newLayout(n.Classify(headers))
	rows := 0
	for i, row := range t.Rows {
		if blankRow(row) {
			continue
		}
		rows++
		line := i + 2

		var (
			recs   []Record
			reason string
		)
		if res.Format == FormatWide {
			recs, reason = n.expandWide(line, row, l)
		} else {
			var rec Record
			rec, reason = n.narrow(line, row, l)
			if reason == "" {
				recs = []Record{rec}
			}
		}
		if reason != "" {
			res.Rejected = append(res.Rejected, Diagnostic{Line: line, Reason: reason})
			continue
		}
		res.Accepted = append(res.Accepted, recs...)
	}

	if rows == 0 {
		res.Rejected = append(res.Rejected, Diagnostic{Line: 1, Reason: "no rows parsed"})
	}
	return res
}

func blankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
