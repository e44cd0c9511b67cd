package ingest

import (
	"fmt"
	"strconv"
	"strings"
)

// layout indexes a classification for row processing.
type layout struct {
	classes     []Classification
	fields      map[string][]int
	antibiotics []int
	identifiers []int
}

func (n *Normalizer) newLayout(classes []Classification) *layout {
	l := &layout{classes: classes, fields: make(map[string][]int)}
	for i, c := range classes {
		switch c.Kind {
		case KindMetadata:
			l.fields[c.Field] = append(l.fields[c.Field], i)
		case KindAntibiotic:
			l.antibiotics = append(l.antibiotics, i)
		}
	}
	for _, id := range n.opts.Tables.Identifiers {
		for i, c := range classes {
			if c.Kind == KindIgnored && normalizeHeader(c.Header) == id {
				l.identifiers = append(l.identifiers, i)
			}
		}
	}
	return l
}

// direct reports whether the file carries its own antibiotic and result
// columns.
func (l *layout) direct() bool {
	return len(l.fields[FieldAntibiotic]) > 0 && len(l.fields[FieldASTResult]) > 0
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// get returns the first non-empty value among the columns mapped to field.
func (l *layout) get(row []string, field string) string {
	for _, i := range l.fields[field] {
		if v := cell(row, i); v != "" {
			return v
		}
	}
	return ""
}

// base reads the per-isolate fields shared by every record of a row.
func (n *Normalizer) base(line int, row []string, l *layout) (Record, string) {
	rawAge := l.get(row, FieldAge)
	age, ok := n.age(rawAge)
	if !ok {
		return Record{}, fmt.Sprintf("invalid age %q", rawAge)
	}
	return Record{
		PatientID:       l.get(row, FieldPatientID),
		Sex:             CanonicalSex(l.get(row, FieldSex)),
		Age:             age,
		SpecimenType:    l.get(row, FieldSpecimenType),
		Organism:        l.get(row, FieldOrganism),
		TestDate:        CanonicalDate(l.get(row, FieldTestDate)),
		HostType:        CanonicalHostType(l.get(row, FieldHostType)),
		Facility:        l.get(row, FieldFacility),
		PatientType:     l.get(row, FieldPatientType),
		AnimalSpecies:   l.get(row, FieldAnimalSpecies),
		EnvironmentType: l.get(row, FieldEnvironmentType),
		Line:            line,
	}, ""
}

// syntheticPatientID names a row that has no patient id, preferring a lab or
// specimen number column when the file has one.
func syntheticPatientID(line int, row []string, l *layout) string {
	for _, i := range l.identifiers {
		if v := cell(row, i); v != "" {
			return strings.TrimSpace(l.classes[i].Header) + ":" + v
		}
	}
	return "row-" + strconv.Itoa(line)
}

// expandWide pivots one wide row into one record per antibiotic column that
// holds an S, I or R. Blank and undecodable cells are skipped. A row with no
// such cell falls back to its own antibiotic and ast_result columns when the
// file has them, and is then rejected the way a narrow row would be. A
// non-empty reason means the row produced nothing.
func (n *Normalizer) expandWide(line int, row []string, l *layout) ([]Record, string) {
	rec, reason := n.base(line, row, l)
	if reason != "" {
		return nil, reason
	}
	if rec.PatientID == "" {
		rec.PatientID = syntheticPatientID(line, row, l)
	}

	var out []Record
	for _, i := range l.antibiotics {
		result := CanonicalResult(cell(row, i))
		if result == "" {
			continue
		}
		out = append(out, rec.withResult(l.classes[i].Antibiotic, result))
	}

	if len(out) == 0 && l.direct() {
		r, reason := n.single(rec, row, l)
		if reason != "" {
			return nil, reason
		}
		out = append(out, r)
	}
	if len(out) == 0 {
		return nil, "row produced no antibiotic results"
	}
	if rec.Organism == "" {
		return nil, "missing required field(s): organism"
	}
	return out, ""
}

// narrow reads one template row as exactly one record.
func (n *Normalizer) narrow(line int, row []string, l *layout) (Record, string) {
	rec, reason := n.base(line, row, l)
	if reason != "" {
		return Record{}, reason
	}
	return n.single(rec, row, l)
}

// single completes base with the row's own antibiotic and result columns and
// validates the required fields.
func (n *Normalizer) single(base Record, row []string, l *layout) (Record, string) {
	rawResult := l.get(row, FieldASTResult)
	antibiotic := l.get(row, FieldAntibiotic)
	if name, ok := n.opts.Tables.Antibiotics[strings.ToUpper(antibiotic)]; ok {
		antibiotic = name
	}
	rec := base.withResult(antibiotic, CanonicalResult(rawResult))

	var missing []string
	if rec.Organism == "" {
		missing = append(missing, FieldOrganism)
	}
	if rec.Antibiotic == "" {
		missing = append(missing, FieldAntibiotic)
	}
	if rawResult == "" {
		missing = append(missing, FieldASTResult)
	}
	if len(missing) > 0 {
		return Record{}, "missing required field(s): " + strings.Join(missing, ", ")
	}
	if !isResult(rec.ASTResult) {
		return Record{}, fmt.Sprintf("invalid ast_result %q", rawResult)
	}
	return rec, ""
}
