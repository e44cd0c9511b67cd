package ingest

import (
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Tables holds the header and code vocabularies used to interpret a file.
// Keys of Metadata, Ignored and Identifiers are normalized headers (see
// normalizeHeader); Signals keys are lower-cased headers with the original
// separators kept; Antibiotics keys are upper-case codes.
type Tables struct {
	Metadata    map[string]string
	Ignored     map[string]bool
	Antibiotics map[string]string
	Signals     map[string]bool
	Identifiers []string
}

// DefaultTables returns the built-in vocabularies. Each call returns a fresh
// copy.
func DefaultTables() Tables {
	return Tables{
		Metadata: map[string]string{
			"patient id":        FieldPatientID,
			"patient":           FieldPatientID,
			"patient no":        FieldPatientID,
			"id":                FieldPatientID,
			"specimen date":     FieldTestDate,
			"date":              FieldTestDate,
			"test date":         FieldTestDate,
			"collection date":   FieldTestDate,
			"specimen":          FieldSpecimenType,
			"specimen type":     FieldSpecimenType,
			"sample":            FieldSpecimenType,
			"sample type":       FieldSpecimenType,
			"organism":          FieldOrganism,
			"isolate":           FieldOrganism,
			"organism isolated": FieldOrganism,
			"host":              FieldHostType,
			"host type":         FieldHostType,
			"lab":               FieldFacility,
			"laboratory":        FieldFacility,
			"facility":          FieldFacility,
			"sex":               FieldSex,
			"gender":            FieldSex,
			"age":               FieldAge,
			"animal species":    FieldAnimalSpecies,
			"species":           FieldAnimalSpecies,
			"environment type":  FieldEnvironmentType,
			"patient type":      FieldPatientType,
			"antibiotic":        FieldAntibiotic,
			"antibiotic tested": FieldAntibiotic,
			"ast result":        FieldASTResult,
			"result":            FieldASTResult,
			"susceptibility":    FieldASTResult,
		},
		Ignored: map[string]bool{
			"lab no":          true,
			"lab number":      true,
			"specimen number": true,
			"isolate number":  true,
			"notes":           true,
			"note":            true,
			"comment":         true,
			"comments":        true,
			"ward":            true,
			"department":      true,
			"method":          true,
			"country":         true,
			"region":          true,
		},
		Antibiotics: map[string]string{
			"AMC":  "Amoxicillin-clavulanic acid",
			"AMK":  "Amikacin",
			"AMOX": "Amoxicillin",
			"AMP":  "Ampicillin",
			"AMX":  "Amoxicillin",
			"AZM":  "Azithromycin",
			"CAZ":  "Ceftazidime",
			"CHL":  "Chloramphenicol",
			"CIP":  "Ciprofloxacin",
			"CLI":  "Clindamycin",
			"COL":  "Colistin",
			"CRO":  "Ceftriaxone",
			"CTX":  "Ceftriaxone",
			"CXM":  "Cefuroxime",
			"ERY":  "Erythromycin",
			"FEP":  "Cefepime",
			"FOX":  "Cefoxitin",
			"GEN":  "Gentamicin",
			"IPM":  "Imipenem",
			"LNZ":  "Linezolid",
			"LVX":  "Levofloxacin",
			"MEM":  "Meropenem",
			"NAL":  "Nalidixic acid",
			"NIT":  "Nitrofurantoin",
			"OXA":  "Oxacillin",
			"PEN":  "Penicillin G",
			"SXT":  "Trimethoprim-sulfamethoxazole",
			"TCY":  "Tetracycline",
			"TZP":  "Piperacillin-tazobactam",
			"VAN":  "Vancomycin",
		},
		Signals: map[string]bool{
			"lab no":          true,
			"patient id":      true,
			"isolate":         true,
			"specimen date":   true,
			"specimen number": true,
			"isolate number":  true,
		},
		Identifiers: []string{"lab no", "lab number", "specimen number", "isolate number"},
	}
}

// Clone returns a deep copy of t.
func (t Tables) Clone() Tables {
	out := Tables{
		Metadata:    make(map[string]string, len(t.Metadata)),
		Ignored:     make(map[string]bool, len(t.Ignored)),
		Antibiotics: make(map[string]string, len(t.Antibiotics)),
		Signals:     make(map[string]bool, len(t.Signals)),
		Identifiers: append([]string(nil), t.Identifiers...),
	}
	for k, v := range t.Metadata {
		out.Metadata[k] = v
	}
	for k, v := range t.Ignored {
		out.Ignored[k] = v
	}
	for k, v := range t.Antibiotics {
		out.Antibiotics[k] = v
	}
	for k, v := range t.Signals {
		out.Signals[k] = v
	}
	return out
}

// tablesFile is the YAML shape of an alias override file.
type tablesFile struct {
	Metadata    map[string]string `yaml:"metadata"`
	Ignored     []string          `yaml:"ignored"`
	Antibiotics map[string]string `yaml:"antibiotics"`
	Signals     []string          `yaml:"signals"`
	Identifiers []string          `yaml:"identifiers"`
}

// LoadTables reads a YAML override file and merges it over base. Entries in
// the file win over base entries with the same key. Metadata targets must be
// canonical field names.
//
//	metadata:
//	  "lab name": facility
//	antibiotics:
//	  CTX: Cefotaxime
//	ignored: [ward]
func LoadTables(r io.Reader, base Tables) (Tables, error) {
	var f tablesFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil && err != io.EOF {
		return Tables{}, fmt.Errorf("decode alias tables: %w", err)
	}

	out := base.Clone()
	for header, field := range f.Metadata {
		field = strings.TrimSpace(field)
		if !IsField(field) {
			return Tables{}, fmt.Errorf("alias %q: unknown field %q", header, field)
		}
		out.Metadata[normalizeHeader(header)] = field
	}
	for _, h := range f.Ignored {
		out.Ignored[normalizeHeader(h)] = true
	}
	for code, name := range f.Antibiotics {
		name = strings.TrimSpace(name)
		if name == "" {
			return Tables{}, fmt.Errorf("antibiotic code %q: empty name", code)
		}
		out.Antibiotics[strings.ToUpper(strings.TrimSpace(code))] = name
	}
	for _, s := range f.Signals {
		out.Signals[signalKey(s)] = true
	}
	for _, h := range f.Identifiers {
		out.Identifiers = append(out.Identifiers, normalizeHeader(h))
	}
	return out, nil
}

// normalizeHeader lower-cases h, turns separators into spaces and collapses
// runs of whitespace, so "Patient_ID", "patient-id" and " Patient  ID "
// compare equal.
func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.NewReplacer("_", " ", "-", " ", ".", " ").Replace(h)
	return strings.Join(strings.Fields(h), " ")
}

// signalKey keeps separators so the narrow template's "patient_id" does not
// read as the WHONET "Patient ID".
func signalKey(h string) string {
	return strings.Join(strings.Fields(strings.ToLower(h)), " ")
}
