package reporting

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildAntibiogram(t *testing.T) {
	a := BuildAntibiogram([]Observation{
		{Organism: "E. coli", Antibiotic: "Ciprofloxacin", Result: "R"},
		{Organism: "E. coli", Antibiotic: "Ciprofloxacin", Result: "S"},
		{Organism: "E. coli", Antibiotic: "Ciprofloxacin", Result: "s"},
		{Organism: "K. pneumoniae", Antibiotic: "Ceftriaxone", Result: "I"},
		{Organism: "E. coli", Antibiotic: "Ceftriaxone", Result: "R"},
	})

	assert.Equal(t, []string{"E. coli", "K. pneumoniae"}, a.Organisms)
	assert.Equal(t, []string{"Ciprofloxacin", "Ceftriaxone"}, a.Antibiotics)

	cip := a.Cell("E. coli", "Ciprofloxacin")
	assert.Equal(t, 2, cip.S)
	assert.Equal(t, 1, cip.R)
	assert.Equal(t, 3, cip.N)
	require.NotNil(t, cip.PctR)
	assert.Equal(t, 33.33, *cip.PctR)

	kp := a.Cell("K. pneumoniae", "Ceftriaxone")
	assert.Equal(t, 1, kp.I)
	require.NotNil(t, kp.PctR)
	assert.Equal(t, 0.0, *kp.PctR)

	missing := a.Cell("K. pneumoniae", "Ciprofloxacin")
	assert.Zero(t, missing.N)
	assert.Nil(t, missing.PctR)
}

func TestBuildAntibiogram_UnknownLabels(t *testing.T) {
	a := BuildAntibiogram([]Observation{
		{Organism: " ", Antibiotic: "", Result: "R"},
		{Organism: "S. aureus", Antibiotic: "Vancomycin", Result: "NT"},
	})
	assert.Equal(t, []string{"Unknown", "S. aureus"}, a.Organisms)
	assert.Equal(t, 1, a.Cell("Unknown", "Unknown").R)

	// N counts results that are not S, I or R.
	van := a.Cell("S. aureus", "Vancomycin")
	assert.Equal(t, 1, van.N)
	require.NotNil(t, van.PctR)
	assert.Equal(t, 0.0, *van.PctR)
}

func TestBuildAntibiogram_Empty(t *testing.T) {
	a := BuildAntibiogram(nil)
	b, err := json.Marshal(a)
	require.NoError(t, err)
	assert.JSONEq(t, `{"organisms":[],"antibiotics":[],"matrix":{}}`, string(b))
}

func TestCell_JSON(t *testing.T) {
	a := BuildAntibiogram([]Observation{{Organism: "E. coli", Antibiotic: "Gentamicin", Result: "R"}})
	b, err := json.Marshal(a.Cell("E. coli", "Gentamicin"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"S":0,"I":0,"R":1,"N":1,"pct_r":100}`, string(b))
}
