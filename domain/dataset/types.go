package dataset

import (
	"fmt"
	"time"

	"datapulse/domain/core"
)

// Value represents a typed cell with deterministic coercion. Missing values
// are tagged explicitly and never silently coerced to zero.
type Value struct {
	Type        ValueType  `json:"type"`
	StringVal   *string    `json:"string_val,omitempty"`
	NumericVal  *float64   `json:"numeric_val,omitempty"`
	DatetimeVal *time.Time `json:"datetime_val,omitempty"`
	IsMissing   bool       `json:"is_missing"`
	WasImputed  bool       `json:"was_imputed,omitempty"`
}

// ValueType defines the storage type for values
type ValueType string

const (
	ValueTypeNumeric     ValueType = "numeric"
	ValueTypeCategorical ValueType = "categorical"
	ValueTypeDatetime    ValueType = "datetime"
	ValueTypeMissing     ValueType = "missing"
)

// NewNumericValue creates a numeric value
func NewNumericValue(n float64) Value {
	return Value{Type: ValueTypeNumeric, NumericVal: &n}
}

// NewCategoricalValue creates a categorical value
func NewCategoricalValue(s string) Value {
	if s == "" {
		return NewMissingValue()
	}
	return Value{Type: ValueTypeCategorical, StringVal: &s}
}

// NewDatetimeValue creates a datetime value
func NewDatetimeValue(t time.Time) Value {
	return Value{Type: ValueTypeDatetime, DatetimeVal: &t}
}

// NewMissingValue creates a missing value
func NewMissingValue() Value {
	return Value{Type: ValueTypeMissing, IsMissing: true}
}

// Imputed marks a value as filled in by the preprocessor.
func (v Value) Imputed() Value {
	v.WasImputed = true
	return v
}

// Numeric returns the numeric payload, with ok=false when missing or non-numeric.
func (v Value) Numeric() (float64, bool) {
	if v.IsMissing || v.NumericVal == nil {
		return 0, false
	}
	return *v.NumericVal, true
}

// Categorical returns the string payload, with ok=false when missing.
func (v Value) Categorical() (string, bool) {
	if v.IsMissing || v.StringVal == nil {
		return "", false
	}
	return *v.StringVal, true
}

// Datetime returns the time payload, with ok=false when missing.
func (v Value) Datetime() (time.Time, bool) {
	if v.IsMissing || v.DatetimeVal == nil {
		return time.Time{}, false
	}
	return *v.DatetimeVal, true
}

// String returns the string representation of the value
func (v Value) String() string {
	switch v.Type {
	case ValueTypeNumeric:
		if v.NumericVal != nil {
			return fmt.Sprintf("%g", *v.NumericVal)
		}
	case ValueTypeCategorical:
		if v.StringVal != nil {
			return *v.StringVal
		}
	case ValueTypeDatetime:
		if v.DatetimeVal != nil {
			return v.DatetimeVal.Format(time.RFC3339)
		}
	}
	return ""
}

// Row maps column name to typed value. Every row of a table carries the same
// column set.
type Row map[string]Value

// CanonicalTable is the cleaned, typed table every engine consumes. It is
// immutable after preprocessing: engines only read it, so one table can feed
// concurrent engine runs without locks.
type CanonicalTable struct {
	Columns []string             `json:"columns"`
	Types   map[string]ValueType `json:"types"`
	Rows    []Row                `json:"rows"`
}

// RowCount returns the number of rows
func (t *CanonicalTable) RowCount() int {
	return len(t.Rows)
}

// HasColumn reports whether the table carries the named column.
func (t *CanonicalTable) HasColumn(name string) bool {
	_, ok := t.Types[name]
	return ok
}

// NumericColumns returns the column names typed numeric, in table order.
func (t *CanonicalTable) NumericColumns() []string {
	var cols []string
	for _, c := range t.Columns {
		if t.Types[c] == ValueTypeNumeric {
			cols = append(cols, c)
		}
	}
	return cols
}

// NumericSeries extracts the non-missing numeric values of a column, in row
// order. Missing cells are skipped, not zero-filled.
func (t *CanonicalTable) NumericSeries(col string) []float64 {
	out := make([]float64, 0, len(t.Rows))
	for _, row := range t.Rows {
		if v, ok := row[col].Numeric(); ok {
			out = append(out, v)
		}
	}
	return out
}

// PairwiseComplete extracts aligned values for two columns using only rows
// where both are present.
func (t *CanonicalTable) PairwiseComplete(a, b string) (x, y []float64) {
	for _, row := range t.Rows {
		va, oka := row[a].Numeric()
		vb, okb := row[b].Numeric()
		if oka && okb {
			x = append(x, va)
			y = append(y, vb)
		}
	}
	return x, y
}

// ColumnRole classifies how a column participates in an analysis run.
type ColumnRole string

const (
	RoleTarget    ColumnRole = "target"
	RoleRegion    ColumnRole = "region"
	RoleTime      ColumnRole = "time"
	RoleDimension ColumnRole = "dimension"
	RoleIgnored   ColumnRole = "ignored"
)

// ColumnRoles is the caller-supplied role assignment for one analysis run.
// Role detection heuristics live with the orchestrating caller; the core
// accepts roles as explicit input and treats them as immutable for the run.
type ColumnRoles struct {
	Targets    []string `json:"targets"`
	Region     string   `json:"region,omitempty"`
	Time       string   `json:"time,omitempty"`
	Dimensions []string `json:"dimensions,omitempty"`
}

// Validate checks the roles against a table.
func (r ColumnRoles) Validate(t *CanonicalTable) error {
	if len(r.Targets) == 0 {
		return core.NewDataFormatError("column roles: at least one target column is required")
	}
	for _, c := range r.Targets {
		if !t.HasColumn(c) {
			return core.NewDataFormatError(fmt.Sprintf("column roles: target column %q not in table", c))
		}
	}
	for _, c := range []string{r.Region, r.Time} {
		if c != "" && !t.HasColumn(c) {
			return core.NewDataFormatError(fmt.Sprintf("column roles: column %q not in table", c))
		}
	}
	for _, c := range r.Dimensions {
		if !t.HasColumn(c) {
			return core.NewDataFormatError(fmt.Sprintf("column roles: dimension column %q not in table", c))
		}
	}
	return nil
}

// DataQualityReport summarizes cleaning outcomes. Original missingness is
// reported even after imputation.
type DataQualityReport struct {
	TotalRows          int                  `json:"total_rows"`
	TotalColumns       int                  `json:"total_columns"`
	MissingValues      map[string]int       `json:"missing_values"`
	DuplicateRows      int                  `json:"duplicate_rows"`
	InferredTypes      map[string]ValueType `json:"inferred_types"`
	NumericColumns     []string             `json:"numeric_columns"`
	CategoricalColumns []string             `json:"categorical_columns"`
	DateColumns        []string             `json:"date_columns"`
	Imputations        map[string]string    `json:"imputations,omitempty"`
	QualityScore       float64              `json:"quality_score"` // [0,1]
	Issues             []string             `json:"issues"`
}
