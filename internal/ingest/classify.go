package ingest

import (
	"strings"
	"unicode"
)

// Detect decides whether headers describe a wide (WHONET) or narrow
// (template) file. A WHONET signal header makes the file wide; otherwise it
// is wide when at least WideThreshold headers are not known metadata.
func (n *Normalizer) Detect(headers []string) Format {
	if len(headers) == 0 {
		return FormatNarrow
	}
	for _, h := range headers {
		if n.opts.Tables.Signals[signalKey(h)] {
			return FormatWide
		}
	}
	if n.unknownHeaders(headers) >= n.opts.WideThreshold {
		return FormatWide
	}
	return FormatNarrow
}

func (n *Normalizer) unknownHeaders(headers []string) int {
	count := 0
	for _, h := range headers {
		key := normalizeHeader(h)
		if key == "" {
			continue
		}
		if _, ok := n.opts.Tables.Metadata[key]; ok {
			continue
		}
		if n.opts.Tables.Ignored[key] {
			continue
		}
		count++
	}
	return count
}

// Classify tags every header column. The result depends only on the header
// list, so it is computed once per file and reused for every row.
func (n *Normalizer) Classify(headers []string) []Classification {
	loose := n.unknownHeaders(headers) >= n.opts.WideThreshold
	out := make([]Classification, len(headers))
	for i, h := range headers {
		out[i] = n.classifyHeader(h, loose)
	}
	return out
}

func (n *Normalizer) classifyHeader(header string, loose bool) Classification {
	text := strings.TrimSpace(header)
	c := Classification{Header: header, Kind: KindIgnored}

	key := normalizeHeader(text)
	if key == "" {
		return c
	}
	if field, ok := n.opts.Tables.Metadata[key]; ok {
		c.Kind = KindMetadata
		c.Field = field
		return c
	}
	if n.opts.Tables.Ignored[key] {
		return c
	}
	if name, ok := n.antibioticName(text); ok {
		c.Kind = KindAntibiotic
		c.Antibiotic = name
		return c
	}
	if n.opts.StrictAntibiotics {
		return c
	}
	if codeShaped(text) || loose {
		c.Kind = KindAntibiotic
		c.Antibiotic = text
	}
	return c
}

// antibioticName resolves a header through the code table, the table's
// display names, or the code prefix of WHONET test columns such as
// "CIP_ND5" or "AMP NM".
func (n *Normalizer) antibioticName(text string) (string, bool) {
	if name, ok := n.opts.Tables.Antibiotics[strings.ToUpper(text)]; ok {
		return name, true
	}
	if name, ok := n.names[strings.ToLower(text)]; ok {
		return name, true
	}
	if i := strings.IndexAny(text, "_ "); i > 0 {
		if name, ok := n.opts.Tables.Antibiotics[strings.ToUpper(text[:i])]; ok {
			return name, true
		}
	}
	return "", false
}

// codeShaped reports whether s looks like an antibiotic abbreviation: 2 to 5
// letters and nothing else.
func codeShaped(s string) bool {
	if len(s) < 2 || len(s) > 5 {
		return false
	}
	for _, r := range s {
		if r > unicode.MaxASCII || !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}
