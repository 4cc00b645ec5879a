// Package testkit generates deterministic synthetic datasets for exercising
// the analysis engines. Generation is seeded so any test failure reproduces
// exactly.
package testkit

import (
	"fmt"
	"math"
	"math/rand"
	"testing"
	"time"

	"datapulse/domain/dataset"
	"datapulse/internal/preprocess"
)

// Opts shapes the synthetic enrollment dataset.
type Opts struct {
	States    []string
	AgeGroups []string
	Months    int
	Start     time.Time
	Base      float64 // baseline enrollment per state and age group
	Noise     float64 // multiplicative noise amplitude
	Seasonal  float64 // amplitude of the annual cycle
	Seed      int64
}

// DefaultOpts returns a dataset shape large enough for every engine.
func DefaultOpts() Opts {
	return Opts{
		States:    []string{"California", "Texas", "Ohio", "Vermont", "Georgia", "Oregon"},
		AgeGroups: []string{"0-18", "19-35", "36-60", "60+"},
		Months:    24,
		Start:     time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		Base:      1000,
		Noise:     0.05,
		Seasonal:  0.15,
		Seed:      42,
	}
}

// EnrollmentRows produces a raw header and string rows the way a CSV export
// would arrive: one row per state, month, and age group, with enrollment,
// claims correlated to enrollment, and premium independent of both.
func EnrollmentRows(opts Opts) (header []string, rows [][]string) {
	rng := rand.New(rand.NewSource(opts.Seed))
	header = []string{"state", "month", "age_group", "enrollment", "claims", "premium"}

	for si, state := range opts.States {
		stateFactor := 0.5 + 0.4*float64(si)
		for m := 0; m < opts.Months; m++ {
			at := opts.Start.AddDate(0, m, 0)
			season := 1 + opts.Seasonal*math.Sin(2*math.Pi*float64(at.Month()-1)/12)
			for _, age := range opts.AgeGroups {
				noise := 1 + opts.Noise*(2*rng.Float64()-1)
				enrollment := opts.Base * stateFactor * season * noise
				claims := 0.3*enrollment + 20*(2*rng.Float64()-1)
				premium := 200 + 50*rng.Float64()
				rows = append(rows, []string{
					state,
					at.Format("2006-01-02"),
					age,
					fmt.Sprintf("%.2f", enrollment),
					fmt.Sprintf("%.2f", claims),
					fmt.Sprintf("%.2f", premium),
				})
			}
		}
	}
	return header, rows
}

// EnrollmentTable runs the generated rows through the preprocessor and fails
// the test if cleaning rejects them.
func EnrollmentTable(t testing.TB, opts Opts) (*dataset.CanonicalTable, *dataset.DataQualityReport) {
	t.Helper()
	header, rows := EnrollmentRows(opts)
	tbl, report, err := preprocess.New(preprocess.DefaultConfig()).Run(header, rows)
	if err != nil {
		t.Fatalf("preprocessing synthetic dataset: %v", err)
	}
	return tbl, report
}

// WithSpike returns a copy of rows with one enrollment cell replaced by an
// extreme value, for anomaly detection tests.
func WithSpike(rows [][]string, rowIdx int, value float64) [][]string {
	out := make([][]string, len(rows))
	for i, row := range rows {
		out[i] = append([]string(nil), row...)
	}
	out[rowIdx][3] = fmt.Sprintf("%.2f", value)
	return out
}

// Roles returns the column role assignment matching EnrollmentRows.
func Roles() dataset.ColumnRoles {
	return dataset.ColumnRoles{
		Targets:    []string{"enrollment", "claims", "premium"},
		Region:     "state",
		Time:       "month",
		Dimensions: []string{"state", "age_group"},
	}
}
