package preprocess

import (
	"testing"

	"github.com/stretchr/testify/require"

	"datapulse/domain/dataset"
	"datapulse/internal/errors"
)

func TestRunTypesAndCleans(t *testing.T) {
	header := []string{"Region Name", "Sales Amount", "Order Date"}
	raw := [][]string{
		{"North", "$1,200.50", "2024-01-15"},
		{"South", "(300)", "2024-02-20"},
		{"East", "450%", "2024-03-05"},
		{"North", "$1,200.50", "2024-01-15"}, // exact duplicate
		{"West", "980", "2024-04-10"},
	}

	tbl, report, err := New(DefaultConfig()).Run(header, raw)
	require.NoError(t, err)

	require.Equal(t, []string{"region_name", "sales_amount", "order_date"}, tbl.Columns)
	require.Equal(t, dataset.ValueTypeCategorical, tbl.Types["region_name"])
	require.Equal(t, dataset.ValueTypeNumeric, tbl.Types["sales_amount"])
	require.Equal(t, dataset.ValueTypeDatetime, tbl.Types["order_date"])

	require.Equal(t, 4, tbl.RowCount(), "duplicate row should be dropped")
	require.Equal(t, 1, report.DuplicateRows)

	v, ok := tbl.Rows[1]["sales_amount"].Numeric()
	require.True(t, ok)
	require.Equal(t, -300.0, v, "parenthesized amounts are negative")
}

func TestRunImputesMissing(t *testing.T) {
	header := []string{"city", "score"}
	raw := [][]string{
		{"a", "10"},
		{"b", "20"},
		{"", "30"},
		{"d", "NaN"},
	}

	tbl, report, err := New(DefaultConfig()).Run(header, raw)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Median of 10, 20, 30 fills the unparseable cell.
	v, ok := tbl.Rows[3]["score"].Numeric()
	if !ok || v != 20 {
		t.Errorf("imputed score = %v %v, want 20", v, ok)
	}
	if !tbl.Rows[3]["score"].WasImputed {
		t.Error("imputed cell not marked")
	}

	city, ok := tbl.Rows[2]["city"].Categorical()
	if !ok || city != UnknownCategory {
		t.Errorf("imputed city = %q, want %q", city, UnknownCategory)
	}

	// The report keeps pre-imputation missingness.
	if report.MissingValues["score"] != 1 || report.MissingValues["city"] != 1 {
		t.Errorf("missing counts = %v", report.MissingValues)
	}
	if len(report.Imputations) != 2 {
		t.Errorf("imputations = %v", report.Imputations)
	}
}

func TestRunQualityScore(t *testing.T) {
	header := []string{"name", "value"}
	clean := [][]string{{"a", "1"}, {"b", "2"}, {"c", "3"}}

	_, cleanReport, err := New(DefaultConfig()).Run(header, clean)
	if err != nil {
		t.Fatalf("Run clean: %v", err)
	}
	if cleanReport.QualityScore < 0.99 {
		t.Errorf("clean dataset quality = %g, want ~1", cleanReport.QualityScore)
	}

	dirty := [][]string{{"a", "1"}, {"b", ""}, {"c", "3"}, {"a", "1"}}
	_, dirtyReport, err := New(DefaultConfig()).Run(header, dirty)
	if err != nil {
		t.Fatalf("Run dirty: %v", err)
	}
	if dirtyReport.QualityScore >= cleanReport.QualityScore {
		t.Errorf("dirty quality %g not below clean %g", dirtyReport.QualityScore, cleanReport.QualityScore)
	}
	if dirtyReport.QualityScore < 0 || dirtyReport.QualityScore > 1 {
		t.Errorf("quality score %g out of [0,1]", dirtyReport.QualityScore)
	}
}

func TestRunRejectsUnusableInput(t *testing.T) {
	_, _, err := New(DefaultConfig()).Run([]string{"a", "b"}, [][]string{{"1", "2"}})
	if errors.GetCode(err) != errors.CodeDataFormat {
		t.Errorf("single row: code %v, want DATA_FORMAT", errors.GetCode(err))
	}

	_, _, err = New(DefaultConfig()).Run([]string{"name"}, [][]string{{"a"}, {"b"}, {"c"}})
	if errors.GetCode(err) != errors.CodeDataFormat {
		t.Errorf("no numeric columns: code %v, want DATA_FORMAT", errors.GetCode(err))
	}

	_, _, err = New(DefaultConfig()).Run(nil, nil)
	if errors.GetCode(err) != errors.CodeDataFormat {
		t.Errorf("empty header: code %v, want DATA_FORMAT", errors.GetCode(err))
	}
}

func TestRunAlignsRaggedRows(t *testing.T) {
	header := []string{"name", "value"}
	raw := [][]string{
		{"a", "1"},
		{"b"}, // short row
		{"c", "3"},
	}

	tbl, report, err := New(DefaultConfig()).Run(header, raw)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if tbl.RowCount() != 3 {
		t.Fatalf("ragged row dropped: %d rows", tbl.RowCount())
	}
	found := false
	for _, issue := range report.Issues {
		if issue == "1 rows padded to header width" {
			found = true
		}
	}
	if !found {
		t.Errorf("padding not reported in issues: %v", report.Issues)
	}
}

func TestInferTypeThreshold(t *testing.T) {
	// 9 of 10 values numeric: exactly at the 0.9 bar.
	cells := []string{"1", "2", "3", "4", "5", "6", "7", "8", "9", "oops"}
	r := analyzeColumn(cells)
	if got := inferType(r, 0.9); got != dataset.ValueTypeNumeric {
		t.Errorf("90%% numeric column typed %s, want numeric", got)
	}
	// 8 of 10 falls below it.
	cells[8] = "also text"
	r = analyzeColumn(cells)
	if got := inferType(r, 0.9); got != dataset.ValueTypeCategorical {
		t.Errorf("80%% numeric column typed %s, want categorical", got)
	}
}

func TestCanonicalName(t *testing.T) {
	cases := map[string]string{
		"Sales Amount":  "sales_amount",
		"  Total-YTD ":  "total_ytd",
		"Score (2024)":  "score_2024",
		"ALREADY_SNAKE": "already_snake",
	}
	for in, want := range cases {
		if got := canonicalName(in); got != want {
			t.Errorf("canonicalName(%q) = %q, want %q", in, got, want)
		}
	}
}
