// Package app coordinates the analysis engines over one cleaned table and
// assembles their outputs into a persisted run record.
package app

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"datapulse/domain/analysis"
	"datapulse/domain/core"
	"datapulse/domain/dataset"
	"datapulse/internal"
	"datapulse/internal/anomaly"
	"datapulse/internal/config"
	"datapulse/internal/correlation"
	"datapulse/internal/dimensional"
	"datapulse/internal/errors"
	"datapulse/internal/volatility"
)

// Orchestrator fans the four engines out in parallel over an immutable table
// and merges their results. One engine aborting never takes down the others;
// its failure is recorded against its name in the abstract.
type Orchestrator struct {
	cfg config.AnalysisConfig
	log *internal.Logger
	mu  sync.Mutex
}

// NewOrchestrator creates an orchestrator with the given engine defaults.
func NewOrchestrator(cfg config.AnalysisConfig, log *internal.Logger) *Orchestrator {
	if log == nil {
		log = internal.DefaultLogger
	}
	return &Orchestrator{cfg: cfg, log: log}
}

// Run executes every applicable engine against the table and returns the
// completed run. The table is read-only to every engine, so they share it
// without copies or locks. Returns an error only when the roles are unusable;
// per-engine failures land in Abstract.Failures.
func (o *Orchestrator) Run(ctx context.Context, datasetName string, tbl *dataset.CanonicalTable, roles dataset.ColumnRoles, quality *dataset.DataQualityReport) (*analysis.AnalysisRun, error) {
	if err := roles.Validate(tbl); err != nil {
		if core.IsDataFormatError(err) {
			return nil, errors.DataFormat(err.Error())
		}
		return nil, errors.Wrap(err, "validate column roles")
	}

	started := core.Now()
	run := &analysis.AnalysisRun{
		ID:          core.RunID(core.NewID()),
		DatasetName: datasetName,
		Roles:       roles,
		Quality:     quality,
		StartedAt:   started,
	}
	run.Abstract.Failures = make(map[string]string)

	target := roles.Targets[0]

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		out, err := correlation.New(correlation.Config{
			Alpha:           o.cfg.Alpha,
			StrongThreshold: o.cfg.StrongThreshold,
		}).Analyze(tbl, nil)
		o.record(run, correlation.EngineName, err, func() { run.Abstract.Correlation = out })
		return ctx.Err()
	})

	if roles.Region != "" {
		g.Go(func() error {
			out, err := volatility.New(volatility.Config{
				CVLow:      o.cfg.CVLowThreshold,
				CVModerate: o.cfg.CVModerateThreshold,
				CVHigh:     o.cfg.CVHighThreshold,
				CVCritical: o.cfg.CVCriticalThreshold,
			}).Analyze(tbl, target, roles.Region, roles.Time)
			o.record(run, volatility.EngineName, err, func() { run.Abstract.Volatility = out })
			return ctx.Err()
		})
	}

	if combos := dimensionCombos(roles); len(combos) > 0 {
		g.Go(func() error {
			out, err := dimensional.New(dimensional.Config{
				ZThreshold: o.cfg.SliceZThreshold,
			}).Analyze(tbl, target, combos)
			o.record(run, dimensional.EngineName, err, func() { run.Abstract.Dimensional = out })
			return ctx.Err()
		})
	}

	g.Go(func() error {
		out, err := anomaly.New(anomaly.Config{
			ModerateZ:         o.cfg.AnomalyModerateZ,
			HighZ:             o.cfg.AnomalyHighZ,
			CriticalZ:         o.cfg.AnomalyCriticalZ,
			Multivariate:      o.cfg.Multivariate,
			ContaminationRate: o.cfg.ContaminationRate,
		}).Analyze(tbl, numericTargets(tbl, roles.Targets), roles.Region, roles.Time)
		o.record(run, anomaly.EngineName, err, func() { run.Abstract.Anomaly = out })
		return ctx.Err()
	})

	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(err, "analysis run cancelled")
	}

	run.CompletedAt = core.Now()
	run.RuntimeMs = run.CompletedAt.Time().Sub(started.Time()).Milliseconds()
	if len(run.Abstract.Failures) == 0 {
		run.Abstract.Failures = nil
	}
	return run, nil
}

// record stores one engine's outcome. Each engine writes a distinct field,
// but the failures map is shared, so access is serialized.
func (o *Orchestrator) record(run *analysis.AnalysisRun, engine string, err error, commit func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		o.log.Warn("engine %s failed: %v", engine, err)
		run.Abstract.Failures[engine] = err.Error()
		return
	}
	commit()
}

// dimensionCombos builds the slicing plan: each assigned dimension alone,
// then all dimensions together when there are at least two. Without assigned
// dimensions the plan defaults to slicing by region, and by region and time
// period together when a time column is set.
func dimensionCombos(roles dataset.ColumnRoles) [][]string {
	if len(roles.Dimensions) == 0 {
		var combos [][]string
		if roles.Region != "" {
			combos = append(combos, []string{roles.Region})
			if roles.Time != "" {
				combos = append(combos, []string{roles.Region, roles.Time})
			}
		}
		return combos
	}
	combos := make([][]string, 0, len(roles.Dimensions)+1)
	for _, dim := range roles.Dimensions {
		combos = append(combos, []string{dim})
	}
	if len(roles.Dimensions) >= 2 {
		combos = append(combos, append([]string(nil), roles.Dimensions...))
	}
	return combos
}

// numericTargets filters the target list down to columns the table actually
// types numeric, so one miscast role cannot abort the anomaly scan.
func numericTargets(tbl *dataset.CanonicalTable, targets []string) []string {
	var out []string
	for _, t := range targets {
		if tbl.Types[t] == dataset.ValueTypeNumeric {
			out = append(out, t)
		}
	}
	return out
}
