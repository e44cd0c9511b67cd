package ingest

import "strconv"

// Format is the detected shape of an uploaded table.
type Format string

const (
	// FormatNarrow is the one-result-per-row template layout.
	FormatNarrow Format = "narrow"
	// FormatWide is the WHONET-style one-isolate-per-row layout with one
	// column per antibiotic.
	FormatWide Format = "wide"
)

// Canonical field names, in template column order.
const (
	FieldPatientID       = "patient_id"
	FieldAge             = "age"
	FieldSex             = "sex"
	FieldSpecimenType    = "specimen_type"
	FieldOrganism        = "organism"
	FieldAntibiotic      = "antibiotic"
	FieldASTResult       = "ast_result"
	FieldTestDate        = "test_date"
	FieldHostType        = "host_type"
	FieldFacility        = "facility"
	FieldPatientType     = "patient_type"
	FieldAnimalSpecies   = "animal_species"
	FieldEnvironmentType = "environment_type"
)

// TemplateColumns is the column order of the narrow upload template.
var TemplateColumns = []string{
	FieldPatientID, FieldAge, FieldSex, FieldSpecimenType, FieldOrganism,
	FieldAntibiotic, FieldASTResult, FieldTestDate, FieldHostType,
	FieldFacility, FieldPatientType, FieldAnimalSpecies, FieldEnvironmentType,
}

// IsField reports whether name is one of the canonical field names.
func IsField(name string) bool {
	for _, f := range TemplateColumns {
		if f == name {
			return true
		}
	}
	return false
}

// Sex values produced by CanonicalSex.
const (
	SexMale    = "M"
	SexFemale  = "F"
	SexUnknown = "Unknown"
)

// Record is one normalized lab result: a single organism/antibiotic/result
// fact for one patient isolate.
type Record struct {
	PatientID       string `json:"patient_id"`
	Sex             string `json:"sex"`
	Age             *int   `json:"age"`
	SpecimenType    string `json:"specimen_type"`
	Organism        string `json:"organism"`
	Antibiotic      string `json:"antibiotic"`
	ASTResult       string `json:"ast_result"`
	TestDate        string `json:"test_date"`
	HostType        string `json:"host_type"`
	Facility        string `json:"facility"`
	PatientType     string `json:"patient_type"`
	AnimalSpecies   string `json:"animal_species"`
	EnvironmentType string `json:"environment_type"`

	// Line is the source line the record was read from (header is line 1).
	Line int `json:"-"`
}

// Valid reports whether the record carries the fields storage requires.
func (r Record) Valid() bool {
	return r.Organism != "" && r.Antibiotic != "" && isResult(r.ASTResult)
}

// Value returns the field named by one of the Field* constants as text.
// Unknown names return "".
func (r Record) Value(field string) string {
	switch field {
	case FieldPatientID:
		return r.PatientID
	case FieldAge:
		if r.Age == nil {
			return ""
		}
		return strconv.Itoa(*r.Age)
	case FieldSex:
		return r.Sex
	case FieldSpecimenType:
		return r.SpecimenType
	case FieldOrganism:
		return r.Organism
	case FieldAntibiotic:
		return r.Antibiotic
	case FieldASTResult:
		return r.ASTResult
	case FieldTestDate:
		return r.TestDate
	case FieldHostType:
		return r.HostType
	case FieldFacility:
		return r.Facility
	case FieldPatientType:
		return r.PatientType
	case FieldAnimalSpecies:
		return r.AnimalSpecies
	case FieldEnvironmentType:
		return r.EnvironmentType
	}
	return ""
}

// withResult returns a copy of r for one antibiotic result. The age pointer
// is not shared between copies.
func (r Record) withResult(antibiotic, result string) Record {
	out := r
	if r.Age != nil {
		age := *r.Age
		out.Age = &age
	}
	out.Antibiotic = antibiotic
	out.ASTResult = result
	return out
}

// RawTable is an uploaded table before any interpretation.
type RawTable struct {
	Headers []string
	Rows    [][]string
}

// ClassKind tags what a header column holds.
type ClassKind int

const (
	KindIgnored ClassKind = iota
	KindMetadata
	KindAntibiotic
)

func (k ClassKind) String() string {
	switch k {
	case KindMetadata:
		return "metadata"
	case KindAntibiotic:
		return "antibiotic"
	default:
		return "ignored"
	}
}

// Classification is the file-wide meaning of one header column.
type Classification struct {
	Header string
	Kind   ClassKind
	// Field is set for KindMetadata.
	Field string
	// Antibiotic is the display name for KindAntibiotic.
	Antibiotic string
}

// Diagnostic describes a row that failed parsing or validation.
type Diagnostic struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// Result is the outcome of normalizing one file. The caller decides whether
// Accepted is stored when Rejected is not empty.
type Result struct {
	Format   Format       `json:"format"`
	Accepted []Record     `json:"accepted"`
	Rejected []Diagnostic `json:"rejected"`
}
