package ingest

import "fmt"

// AgePolicy decides what happens to a blank or unusable age value.
type AgePolicy string

const (
	// AgeDefault substitutes Options.DefaultAge.
	AgeDefault AgePolicy = "default"
	// AgeNull leaves the age absent.
	AgeNull AgePolicy = "null"
	// AgeReject rejects rows whose age is present but unusable. Blank ages
	// stay absent.
	AgeReject AgePolicy = "reject"
)

// ParseAgePolicy maps a configuration string to an AgePolicy.
func ParseAgePolicy(s string) (AgePolicy, error) {
	switch p := AgePolicy(s); p {
	case AgeDefault, AgeNull, AgeReject:
		return p, nil
	case "":
		return AgeDefault, nil
	}
	return "", fmt.Errorf("unknown age policy %q (want default, null or reject)", s)
}

// DefaultWideThreshold is the number of unrecognised headers at which a file
// is read as wide even without a WHONET signal header.
const DefaultWideThreshold = 8

// MaxAge is the largest age accepted as valid.
const MaxAge = 150

// Options configures a Normalizer.
type Options struct {
	Tables        Tables
	WideThreshold int
	AgePolicy     AgePolicy
	DefaultAge    int
	// StrictAntibiotics limits antibiotic columns to known codes and names,
	// turning off the structural header heuristic.
	StrictAntibiotics bool
}

// DefaultOptions returns the built-in tables with the default age policy.
func DefaultOptions() Options {
	return Options{
		Tables:        DefaultTables(),
		WideThreshold: DefaultWideThreshold,
		AgePolicy:     AgeDefault,
	}
}
