//go:build integration

package integration

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/amr/amr/internal/domain/labresult"
	"github.com/amr/amr/internal/platform/reporting"
)

func TestMeasures(t *testing.T) {
	ctx := context.Background()
	pool, _ := migratedPool(t, ctx, "rep")
	svc := labresult.NewService(labresult.NewRepoPG(pool), zerolog.Nop())
	if _, err := svc.Import(ctx, labresult.ImportRequest{SourceName: "whonet.csv", Result: sampleResult()}); err != nil {
		t.Fatalf("Import: %v", err)
	}
	runner := reporting.NewRunner(pool)

	// Every predefined measure must at least execute.
	for _, m := range reporting.PredefinedMeasures {
		if _, err := runner.Evaluate(ctx, m.ID, nil); err != nil {
			t.Errorf("measure %s: %v", m.ID, err)
		}
	}

	t.Run("ResistanceByOrganism", func(t *testing.T) {
		report, err := runner.Evaluate(ctx, "resistance-by-organism", map[string]string{reporting.ParamFacility: "south"})
		if err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
		if len(report.Results) != 2 {
			t.Fatalf("expected 2 rows for South, got %d", len(report.Results))
		}
		row := report.Results[0]
		if row["organism"] != "Escherichia coli" || row["antibiotic"] != "Ciprofloxacin" {
			t.Errorf("unexpected first row: %v", row)
		}
		if row["n"] != int64(1) || row["s"] != int64(1) || row["pct_r"] != 0.0 {
			t.Errorf("unexpected counts: %v", row)
		}
		kp := report.Results[1]
		if kp["r"] != int64(1) || kp["pct_r"] != 100.0 {
			t.Errorf("unexpected Klebsiella row: %v", kp)
		}
	})

	t.Run("SexAge", func(t *testing.T) {
		report, err := runner.Evaluate(ctx, "resistance-by-sex-age", nil)
		if err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
		groups := map[string]int64{}
		for _, row := range report.Results {
			groups[row["age_group"].(string)] = row["n"].(int64)
		}
		want := map[string]int64{"30-39": 2, "Unknown": 1, "80+": 1}
		for g, n := range want {
			if groups[g] != n {
				t.Errorf("age group %s: n=%d, want %d (all: %v)", g, groups[g], n, groups)
			}
		}
	})

	t.Run("MonthlyTrendDateRange", func(t *testing.T) {
		report, err := runner.Evaluate(ctx, "monthly-trend", map[string]string{
			reporting.ParamDateFrom: "2024-02-01",
			reporting.ParamDateTo:   "2024-02-29",
		})
		if err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
		if len(report.Results) != 1 || report.Results[0]["month"] != "2024-02" || report.Results[0]["n"] != int64(2) {
			t.Errorf("unexpected trend: %v", report.Results)
		}
	})

	t.Run("DataQuality", func(t *testing.T) {
		report, err := runner.Evaluate(ctx, "data-quality", map[string]string{reporting.ParamHostType: "All hosts"})
		if err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
		row := report.Results[0]
		if row["total"] != int64(4) || row["missing_age"] != int64(1) || row["unknown_sex"] != int64(0) {
			t.Errorf("unexpected data quality row: %v", row)
		}
		if report.Parameters != nil {
			t.Errorf("placeholder parameters should be dropped: %v", report.Parameters)
		}
	})
}
