package reporting

import (
	"math"
	"strings"
)

// unknown labels a blank organism or antibiotic.
const unknown = "Unknown"

// Observation is one susceptibility result fed to BuildAntibiogram.
type Observation struct {
	Organism   string
	Antibiotic string
	Result     string
}

// Cell holds the counts for one organism and antibiotic. N counts every
// observation, including results that are not S, I or R.
type Cell struct {
	S    int      `json:"S"`
	I    int      `json:"I"`
	R    int      `json:"R"`
	N    int      `json:"N"`
	PctR *float64 `json:"pct_r"`
}

// Antibiogram is an organisms by antibiotics matrix. Both axes keep the order
// in which values were first seen.
type Antibiogram struct {
	Organisms   []string                   `json:"organisms"`
	Antibiotics []string                   `json:"antibiotics"`
	Matrix      map[string]map[string]Cell `json:"matrix"`
}

// Cell returns the counts for organism and antibiotic, zero when absent.
func (a *Antibiogram) Cell(organism, antibiotic string) Cell {
	return a.Matrix[organism][antibiotic]
}

// BuildAntibiogram counts obs into a matrix.
func BuildAntibiogram(obs []Observation) *Antibiogram {
	a := &Antibiogram{
		Organisms:   []string{},
		Antibiotics: []string{},
		Matrix:      map[string]map[string]Cell{},
	}
	seenAbx := map[string]bool{}

	for _, o := range obs {
		org := label(o.Organism)
		abx := label(o.Antibiotic)

		row, ok := a.Matrix[org]
		if !ok {
			row = map[string]Cell{}
			a.Matrix[org] = row
			a.Organisms = append(a.Organisms, org)
		}
		if !seenAbx[abx] {
			seenAbx[abx] = true
			a.Antibiotics = append(a.Antibiotics, abx)
		}

		c := row[abx]
		switch r := strings.ToUpper(strings.TrimSpace(o.Result)); {
		case strings.HasPrefix(r, "S"):
			c.S++
		case strings.HasPrefix(r, "I"):
			c.I++
		case strings.HasPrefix(r, "R"):
			c.R++
		}
		c.N++
		row[abx] = c
	}

	for _, row := range a.Matrix {
		for abx, c := range row {
			c.PctR = pctR(c.R, c.N)
			row[abx] = c
		}
	}
	return a
}

func label(v string) string {
	if v = strings.TrimSpace(v); v == "" {
		return unknown
	}
	return v
}

// pctR is the resistant share in percent rounded to two decimals, nil when
// nothing was tested.
func pctR(r, n int) *float64 {
	if n == 0 {
		return nil
	}
	v := math.Round(float64(r)*100/float64(n)*100) / 100
	return &v
}
