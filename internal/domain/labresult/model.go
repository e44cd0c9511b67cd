package labresult

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/amr/amr/internal/ingest"
	"github.com/amr/amr/internal/platform/reporting"
)

// DefaultHostType is stored when a record names no host.
const DefaultHostType = "human"

const isoDate = "2006-01-02"

// LabResult is a stored, validated lab result.
type LabResult struct {
	ID              uuid.UUID `json:"id"`
	BatchID         uuid.UUID `json:"batch_id"`
	SourceLine      int       `json:"source_line,omitempty"`
	PatientID       string    `json:"patient_id"`
	Sex             string    `json:"sex"`
	Age             *int      `json:"age,omitempty"`
	SpecimenType    string    `json:"specimen_type"`
	Organism        string    `json:"organism"`
	Antibiotic      string    `json:"antibiotic"`
	ASTResult       string    `json:"ast_result"`
	TestDate        time.Time `json:"test_date"`
	HostType        string    `json:"host_type"`
	Facility        string    `json:"facility"`
	PatientType     string    `json:"patient_type"`
	AnimalSpecies   string    `json:"animal_species"`
	EnvironmentType string    `json:"environment_type"`
	CreatedAt       time.Time `json:"created_at"`
}

// Batch is one import of one source file.
type Batch struct {
	ID           uuid.UUID     `json:"id"`
	SourceName   string        `json:"source_name"`
	SourceSHA256 string        `json:"source_sha256,omitempty"`
	Format       ingest.Format `json:"format"`
	CommitPolicy CommitPolicy  `json:"commit_policy"`
	Accepted     int           `json:"accepted"`
	Rejected     int           `json:"rejected"`
	Stored       int           `json:"stored"`
	CreatedAt    time.Time     `json:"created_at"`
}

// fieldWidths mirrors the VARCHAR widths of the lab_result table.
var fieldWidths = []struct {
	field string
	max   int
}{
	{ingest.FieldPatientID, 128},
	{ingest.FieldSex, 8},
	{ingest.FieldSpecimenType, 100},
	{ingest.FieldOrganism, 200},
	{ingest.FieldAntibiotic, 200},
	{ingest.FieldHostType, 16},
	{ingest.FieldFacility, 200},
	{ingest.FieldPatientType, 50},
	{ingest.FieldAnimalSpecies, 100},
	{ingest.FieldEnvironmentType, 100},
}

var (
	errTestDateRequired = errors.New("test_date is required")
	errTestDateFuture   = errors.New("test_date cannot be in the future")
)

// FromRecord validates rec for storage. today bounds the test date; only its
// calendar date is used.
func FromRecord(rec ingest.Record, today time.Time) (*LabResult, error) {
	var missing []string
	for _, f := range []string{ingest.FieldOrganism, ingest.FieldAntibiotic, ingest.FieldASTResult} {
		if strings.TrimSpace(rec.Value(f)) == "" {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required field(s): %s", strings.Join(missing, ", "))
	}
	if !rec.Valid() {
		return nil, fmt.Errorf("invalid ast_result %q (want S, I or R)", rec.ASTResult)
	}
	for _, w := range fieldWidths {
		if utf8.RuneCountInString(rec.Value(w.field)) > w.max {
			return nil, fmt.Errorf("%s exceeds %d characters", w.field, w.max)
		}
	}

	raw := strings.TrimSpace(rec.TestDate)
	if raw == "" {
		return nil, errTestDateRequired
	}
	date, err := time.Parse(isoDate, raw)
	if err != nil {
		return nil, fmt.Errorf("invalid test_date %q (want YYYY-MM-DD)", raw)
	}
	y, m, d := today.Date()
	if date.After(time.Date(y, m, d, 0, 0, 0, 0, time.UTC)) {
		return nil, errTestDateFuture
	}
	if rec.Age != nil && *rec.Age < 0 {
		return nil, fmt.Errorf("invalid age %d", *rec.Age)
	}

	hostType := rec.HostType
	if hostType == "" {
		hostType = DefaultHostType
	}
	sex := rec.Sex
	if sex == "" {
		sex = ingest.SexUnknown
	}

	lr := &LabResult{
		SourceLine:      rec.Line,
		PatientID:       rec.PatientID,
		Sex:             sex,
		SpecimenType:    rec.SpecimenType,
		Organism:        rec.Organism,
		Antibiotic:      rec.Antibiotic,
		ASTResult:       rec.ASTResult,
		TestDate:        date,
		HostType:        hostType,
		Facility:        rec.Facility,
		PatientType:     rec.PatientType,
		AnimalSpecies:   rec.AnimalSpecies,
		EnvironmentType: rec.EnvironmentType,
	}
	if rec.Age != nil {
		age := *rec.Age
		lr.Age = &age
	}
	return lr, nil
}

// Record converts a stored result back to the canonical record shape.
func (l *LabResult) Record() ingest.Record {
	rec := ingest.Record{
		PatientID:       l.PatientID,
		Sex:             l.Sex,
		SpecimenType:    l.SpecimenType,
		Organism:        l.Organism,
		Antibiotic:      l.Antibiotic,
		ASTResult:       l.ASTResult,
		TestDate:        l.TestDate.Format(isoDate),
		HostType:        l.HostType,
		Facility:        l.Facility,
		PatientType:     l.PatientType,
		AnimalSpecies:   l.AnimalSpecies,
		EnvironmentType: l.EnvironmentType,
		Line:            l.SourceLine,
	}
	if l.Age != nil {
		age := *l.Age
		rec.Age = &age
	}
	return rec
}

// Filter selects stored results. Text filters match case-insensitively;
// zero values match everything.
type Filter struct {
	Organism     string
	Antibiotic   string
	SpecimenType string
	HostType     string
	Facility     string
	From         *time.Time
	To           *time.Time
	BatchID      *uuid.UUID
	Limit        int
}

func clean(v string) string {
	v = strings.TrimSpace(v)
	if reporting.SelectsAll(v) {
		return ""
	}
	return v
}

// Normalized returns f with whitespace trimmed and "all ..." placeholders
// cleared.
func (f Filter) Normalized() Filter {
	f.Organism = clean(f.Organism)
	f.Antibiotic = clean(f.Antibiotic)
	f.SpecimenType = clean(f.SpecimenType)
	f.HostType = clean(f.HostType)
	f.Facility = clean(f.Facility)
	return f
}

// Match reports whether l passes f. f should already be normalized.
func (f Filter) Match(l *LabResult) bool {
	eq := func(want, got string) bool { return want == "" || strings.EqualFold(want, got) }
	switch {
	case !eq(f.Organism, l.Organism),
		!eq(f.Antibiotic, l.Antibiotic),
		!eq(f.SpecimenType, l.SpecimenType),
		!eq(f.HostType, l.HostType),
		!eq(f.Facility, l.Facility):
		return false
	case f.From != nil && l.TestDate.Before(*f.From):
		return false
	case f.To != nil && l.TestDate.After(*f.To):
		return false
	case f.BatchID != nil && l.BatchID != *f.BatchID:
		return false
	}
	return true
}
