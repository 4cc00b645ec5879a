package dataset

import (
	"testing"
	"time"
)

func TestValueAccessors(t *testing.T) {
	n := NewNumericValue(3.5)
	if v, ok := n.Numeric(); !ok || v != 3.5 {
		t.Errorf("Numeric() = %v %v", v, ok)
	}
	if _, ok := n.Categorical(); ok {
		t.Error("numeric value answered as categorical")
	}

	m := NewMissingValue()
	if _, ok := m.Numeric(); ok {
		t.Error("missing value answered as numeric")
	}
	if !m.IsMissing {
		t.Error("missing value not tagged")
	}

	if v := NewCategoricalValue(""); !v.IsMissing {
		t.Error("empty categorical should collapse to missing")
	}

	ts := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	d := NewDatetimeValue(ts)
	if got, ok := d.Datetime(); !ok || !got.Equal(ts) {
		t.Errorf("Datetime() = %v %v", got, ok)
	}

	imp := NewNumericValue(1).Imputed()
	if !imp.WasImputed {
		t.Error("Imputed() did not mark the value")
	}
}

func TestPairwiseCompleteSkipsMissing(t *testing.T) {
	tbl := &CanonicalTable{
		Columns: []string{"a", "b"},
		Types:   map[string]ValueType{"a": ValueTypeNumeric, "b": ValueTypeNumeric},
		Rows: []Row{
			{"a": NewNumericValue(1), "b": NewNumericValue(10)},
			{"a": NewMissingValue(), "b": NewNumericValue(20)},
			{"a": NewNumericValue(3), "b": NewMissingValue()},
			{"a": NewNumericValue(4), "b": NewNumericValue(40)},
		},
	}

	x, y := tbl.PairwiseComplete("a", "b")
	if len(x) != 2 || len(y) != 2 {
		t.Fatalf("pairwise n = %d/%d, want 2/2", len(x), len(y))
	}
	if x[0] != 1 || y[0] != 10 || x[1] != 4 || y[1] != 40 {
		t.Errorf("pairwise values x=%v y=%v", x, y)
	}

	if got := tbl.NumericSeries("b"); len(got) != 3 {
		t.Errorf("NumericSeries skipped wrong rows: %v", got)
	}
}

func TestColumnRolesValidate(t *testing.T) {
	tbl := &CanonicalTable{
		Columns: []string{"sales", "state"},
		Types:   map[string]ValueType{"sales": ValueTypeNumeric, "state": ValueTypeCategorical},
	}

	good := ColumnRoles{Targets: []string{"sales"}, Region: "state"}
	if err := good.Validate(tbl); err != nil {
		t.Errorf("valid roles rejected: %v", err)
	}

	if err := (ColumnRoles{}).Validate(tbl); err == nil {
		t.Error("empty roles accepted")
	}
	if err := (ColumnRoles{Targets: []string{"nope"}}).Validate(tbl); err == nil {
		t.Error("unknown target accepted")
	}
	if err := (ColumnRoles{Targets: []string{"sales"}, Time: "nope"}).Validate(tbl); err == nil {
		t.Error("unknown time column accepted")
	}
}
