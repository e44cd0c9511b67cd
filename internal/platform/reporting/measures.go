// Package reporting aggregates stored lab results: the antibiogram matrix and
// a fixed set of SQL measures evaluated on Postgres.
package reporting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

var (
	// ErrMeasureNotFound is returned for an unknown measure id.
	ErrMeasureNotFound = errors.New("measure not found")
	// ErrInvalidParameter is returned when a measure parameter cannot be
	// parsed.
	ErrInvalidParameter = errors.New("invalid measure parameter")
)

// Measure parameters, bound in this order as $1..$4.
const (
	ParamDateFrom = "date_from"
	ParamDateTo   = "date_to"
	ParamFacility = "facility"
	ParamHostType = "host_type"
)

var filterParams = []string{ParamDateFrom, ParamDateTo, ParamFacility, ParamHostType}

// filtered restricts lab_result to the bound parameters. A NULL parameter
// matches everything.
const filtered = `WITH r AS (
	SELECT * FROM lab_result
	WHERE ($1::date IS NULL OR test_date >= $1::date)
	  AND ($2::date IS NULL OR test_date <= $2::date)
	  AND ($3::text IS NULL OR LOWER(facility) = LOWER($3::text))
	  AND ($4::text IS NULL OR LOWER(host_type) = LOWER($4::text))
)
`

// MeasureDefinition defines a reporting measure with its SQL query.
type MeasureDefinition struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	SQL         string   `json:"sql"`
	Parameters  []string `json:"parameters"`
}

// MeasureReport holds the results of evaluating a measure.
type MeasureReport struct {
	MeasureID   string            `json:"measure_id"`
	MeasureName string            `json:"measure_name"`
	GeneratedAt time.Time         `json:"generated_at"`
	Results     []map[string]any  `json:"results"`
	Parameters  map[string]string `json:"parameters,omitempty"`
}

// PredefinedMeasures is the list of available reporting measures.
var PredefinedMeasures = []MeasureDefinition{
	{
		ID:          "resistance-by-organism",
		Name:        "Resistance by Organism",
		Description: "S/I/R counts and percent resistant per organism and antibiotic",
		SQL: filtered + `SELECT organism, antibiotic,
	COUNT(*) FILTER (WHERE ast_result = 'S') AS s,
	COUNT(*) FILTER (WHERE ast_result = 'I') AS i,
	COUNT(*) FILTER (WHERE ast_result = 'R') AS r,
	COUNT(*) AS n,
	ROUND(100.0 * COUNT(*) FILTER (WHERE ast_result = 'R') / COUNT(*), 2)::float8 AS pct_r
FROM r GROUP BY organism, antibiotic ORDER BY organism, antibiotic`,
		Parameters: filterParams,
	},
	{
		ID:          "resistance-by-sex-age",
		Name:        "Resistance by Sex and Age Group",
		Description: "Resistant share per sex and ten-year age group, 80+ and Unknown",
		SQL: filtered + `, g AS (
	SELECT sex, ast_result,
		CASE
			WHEN age IS NULL THEN 'Unknown'
			WHEN age >= 80 THEN '80+'
			ELSE (age / 10 * 10)::text || '-' || (age / 10 * 10 + 9)::text
		END AS age_group,
		CASE WHEN age IS NULL THEN 1000 ELSE LEAST(age / 10, 8) END AS age_order
	FROM r
)
SELECT sex, age_group,
	COUNT(*) FILTER (WHERE ast_result = 'R') AS r,
	COUNT(*) AS n,
	ROUND(100.0 * COUNT(*) FILTER (WHERE ast_result = 'R') / COUNT(*), 2)::float8 AS pct_r
FROM g GROUP BY sex, age_group, age_order ORDER BY sex, age_order`,
		Parameters: filterParams,
	},
	{
		ID:          "monthly-trend",
		Name:        "Monthly Resistance Trend",
		Description: "Tested and resistant counts per month",
		SQL: filtered + `SELECT to_char(date_trunc('month', test_date), 'YYYY-MM') AS month,
	COUNT(*) AS n,
	COUNT(*) FILTER (WHERE ast_result = 'R') AS r,
	ROUND(100.0 * COUNT(*) FILTER (WHERE ast_result = 'R') / COUNT(*), 2)::float8 AS pct_r
FROM r GROUP BY 1 ORDER BY 1`,
		Parameters: filterParams,
	},
	{
		ID:          "facility-summary",
		Name:        "Facility Summary",
		Description: "Results, patients and organisms per facility",
		SQL: filtered + `SELECT COALESCE(NULLIF(facility, ''), 'Unknown') AS facility,
	COUNT(*) AS total,
	COUNT(DISTINCT patient_id) AS patients,
	COUNT(DISTINCT organism) AS organisms,
	COUNT(*) FILTER (WHERE ast_result = 'R') AS resistant
FROM r GROUP BY 1 ORDER BY total DESC, 1`,
		Parameters: filterParams,
	},
	{
		ID:          "data-quality",
		Name:        "Data Quality",
		Description: "Counts of missing and unknown values across stored results",
		SQL: filtered + `SELECT COUNT(*) AS total,
	COUNT(*) FILTER (WHERE patient_id = '') AS missing_patient_id,
	COUNT(*) FILTER (WHERE specimen_type = '') AS missing_specimen_type,
	COUNT(*) FILTER (WHERE facility = '') AS missing_facility,
	COUNT(*) FILTER (WHERE age IS NULL) AS missing_age,
	COUNT(*) FILTER (WHERE sex = 'Unknown') AS unknown_sex
FROM r`,
		Parameters: filterParams,
	},
}

// FindMeasure looks up a measure by ID.
func FindMeasure(id string) *MeasureDefinition {
	for i := range PredefinedMeasures {
		if PredefinedMeasures[i].ID == id {
			return &PredefinedMeasures[i]
		}
	}
	return nil
}

// Querier is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Runner evaluates measures.
type Runner struct {
	q   Querier
	now func() time.Time
}

// NewRunner creates a runner over q.
func NewRunner(q Querier) *Runner {
	return &Runner{q: q, now: time.Now}
}

// Evaluate executes the measure's SQL with params and returns the rows.
// Unknown parameter names are ignored; blank and "all" values are unbound.
func (r *Runner) Evaluate(ctx context.Context, id string, params map[string]string) (*MeasureReport, error) {
	measure := FindMeasure(id)
	if measure == nil {
		return nil, fmt.Errorf("%w: %s", ErrMeasureNotFound, id)
	}
	args, used, err := bindArgs(measure.Parameters, params)
	if err != nil {
		return nil, err
	}

	results, err := r.executeSQL(ctx, measure.SQL, args...)
	if err != nil {
		return nil, fmt.Errorf("evaluate measure %s: %w", id, err)
	}

	return &MeasureReport{
		MeasureID:   measure.ID,
		MeasureName: measure.Name,
		GeneratedAt: r.now().UTC(),
		Results:     results,
		Parameters:  used,
	}, nil
}

// SelectsAll reports whether a filter value is a "select everything"
// placeholder such as "all" or "All specimen types".
func SelectsAll(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "all" || strings.HasPrefix(v, "all ")
}

// bindArgs turns named parameters into positional arguments. Dates must be
// YYYY-MM-DD.
func bindArgs(names []string, params map[string]string) ([]any, map[string]string, error) {
	args := make([]any, len(names))
	used := map[string]string{}
	for i, name := range names {
		v := strings.TrimSpace(params[name])
		if v == "" || SelectsAll(v) {
			continue
		}
		switch name {
		case ParamDateFrom, ParamDateTo:
			t, err := time.Parse("2006-01-02", v)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: %s=%q", ErrInvalidParameter, name, v)
			}
			args[i] = t
		default:
			args[i] = v
		}
		used[name] = v
	}
	if len(used) == 0 {
		used = nil
	}
	return args, used, nil
}

// executeSQL runs a SQL query and returns results as a slice of maps.
func (r *Runner) executeSQL(ctx context.Context, sql string, args ...any) ([]map[string]any, error) {
	rows, err := r.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	results := []map[string]any{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]any, len(fieldDescs))
		for i, fd := range fieldDescs {
			row[fd.Name] = values[i]
		}
		results = append(results, row)
	}
	return results, rows.Err()
}
