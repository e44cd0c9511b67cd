package ingest

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// isoDate is the layout of every canonical date.
const isoDate = "2006-01-02"

// dateLayouts are tried in order; the first successful parse wins. Day-first
// layouts precede the US month-first one.
var dateLayouts = []string{
	"2006-1-2",
	"2/1/2006",
	"2-1-2006",
	"2006/1/2",
	"1/2/2006",
}

// CanonicalResult reduces a susceptibility cell to S, I or R, or "" when the
// cell holds no usable result (blank, MIC values, "NT", ...).
func CanonicalResult(raw string) string {
	v := strings.ToUpper(strings.TrimSpace(raw))
	if v == "" {
		return ""
	}
	switch v[0] {
	case 'R':
		return "R"
	case 'S':
		return "S"
	case 'I':
		return "I"
	}
	return ""
}

func isResult(s string) bool {
	return s == "S" || s == "I" || s == "R"
}

// CanonicalDate rewrites a date into YYYY-MM-DD. Empty input gives empty
// output; text no layout accepts is returned unchanged so storage validation
// can reject it.
func CanonicalDate(raw string) string {
	v := strings.TrimSpace(raw)
	if v == "" {
		return ""
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.Format(isoDate)
		}
	}
	return raw
}

// CanonicalSex maps free-text sex to M, F or Unknown.
func CanonicalSex(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "m", "male":
		return SexMale
	case "f", "female":
		return SexFemale
	}
	return SexUnknown
}

// CanonicalHostType maps common host spellings to human, animal or
// environment. Anything else is returned trimmed.
func CanonicalHostType(raw string) string {
	v := strings.TrimSpace(raw)
	switch strings.ToLower(v) {
	case "human", "humans", "h", "patient", "clinical":
		return "human"
	case "animal", "animals", "a", "veterinary", "livestock":
		return "animal"
	case "environment", "environmental", "env", "e":
		return "environment"
	}
	return v
}

// parseAge accepts whole numbers, including spreadsheet renderings like
// "34.0", in the range [0, MaxAge].
func parseAge(raw string) (int, bool) {
	v := strings.TrimSpace(raw)
	if n, err := strconv.Atoi(v); err == nil {
		return n, n >= 0 && n <= MaxAge
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f != math.Trunc(f) {
		return 0, false
	}
	n := int(f)
	return n, n >= 0 && n <= MaxAge
}

// age applies the configured AgePolicy. ok is false only under AgeReject
// when a non-blank value is unusable.
func (n *Normalizer) age(raw string) (age *int, ok bool) {
	if strings.TrimSpace(raw) == "" {
		if n.opts.AgePolicy == AgeDefault {
			v := n.opts.DefaultAge
			return &v, true
		}
		return nil, true
	}
	if v, valid := parseAge(raw); valid {
		return &v, true
	}
	switch n.opts.AgePolicy {
	case AgeReject:
		return nil, false
	case AgeNull:
		return nil, true
	}
	v := n.opts.DefaultAge
	return &v, true
}
