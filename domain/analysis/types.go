package analysis

import (
	"datapulse/domain/core"
	"datapulse/domain/dataset"
)

// Entry status flags used wherever a per-entity computation could not be
// completed. Flagged entries stay in the output; they never abort a run.
const (
	StatusOK                     = "ok"
	StatusUndefined              = "undefined"
	StatusInsufficientData       = "insufficient_data"
	StatusInsufficientPopulation = "insufficient_population"
)

// RelationshipType classifies a correlation pair by |r| and sign.
type RelationshipType string

const (
	RelationshipStrongPositive RelationshipType = "strong_positive"
	RelationshipStrongNegative RelationshipType = "strong_negative"
	RelationshipModerate       RelationshipType = "moderate"
	RelationshipWeak           RelationshipType = "weak"
)

// CorrelationResult is a single pairwise finding.
type CorrelationResult struct {
	Variable1        string           `json:"variable_1"`
	Variable2        string           `json:"variable_2"`
	Coefficient      float64          `json:"correlation_coefficient"` // [-1,1]
	PValue           float64          `json:"p_value"`                 // [0,1]
	SampleSize       int              `json:"sample_size"`             // pairwise-complete n
	IsSignificant    bool             `json:"is_significant"`
	RelationshipType RelationshipType `json:"relationship_type"`
	Status           string           `json:"status"` // ok | undefined | insufficient_data
}

// MatrixCell is one entry of the symmetric correlation matrix.
type MatrixCell struct {
	R       float64 `json:"r"`
	Defined bool    `json:"defined"`
}

// CorrelationMatrix maps column -> column -> cell. Symmetric with a unit
// diagonal; undefined pairs carry Defined=false rather than NaN.
type CorrelationMatrix map[string]map[string]MatrixCell

// DriverVariable ranks a column by its mean |r| across all defined pairings.
type DriverVariable struct {
	Variable    string  `json:"variable"`
	DriverScore float64 `json:"driver_score"`
	PairCount   int     `json:"pair_count"`
}

// CorrelationOutput is the complete correlation engine result.
type CorrelationOutput struct {
	Matrix             CorrelationMatrix   `json:"correlation_matrix"`
	Pairs              []CorrelationResult `json:"pairs"`
	StrongCorrelations []CorrelationResult `json:"strong_correlations"`
	DriverVariables    []DriverVariable    `json:"driver_variables"`
	Summary            string              `json:"summary"`
}

// VolatilityLevel tiers a region by its coefficient of variation.
type VolatilityLevel string

const (
	VolatilityStable   VolatilityLevel = "stable"
	VolatilityLow      VolatilityLevel = "low"
	VolatilityModerate VolatilityLevel = "moderate"
	VolatilityHigh     VolatilityLevel = "high"
	VolatilityCritical VolatilityLevel = "critical"
)

// TrendDirection classifies the linear trend of a region's series.
type TrendDirection string

const (
	TrendUpward   TrendDirection = "upward"
	TrendDownward TrendDirection = "downward"
	TrendStable   TrendDirection = "stable"
)

// RegionalVolatility scores one region. CVDefined=false flags the guarded
// zero-mean case; CV is never emitted as NaN or Infinity.
type RegionalVolatility struct {
	Region      string          `json:"region"`
	Mean        float64         `json:"mean"`
	StdDev      float64         `json:"std_deviation"`
	CV          float64         `json:"coefficient_of_variation"`
	CVDefined   bool            `json:"cv_defined"`
	SampleCount int             `json:"sample_count"`
	Level       VolatilityLevel `json:"volatility_level"`
	Trend       TrendDirection  `json:"trend,omitempty"`
	Status      string          `json:"status"`
}

// SeasonalPattern reports the optional month-of-year decomposition.
type SeasonalPattern struct {
	PeakPeriod   string             `json:"peak_period"`
	TroughPeriod string             `json:"trough_period"`
	Strength     float64            `json:"strength"` // normalized between-period variance, [0,1]
	PeriodMeans  map[string]float64 `json:"period_means"`
	LagAutocorr  float64            `json:"lag_autocorrelation,omitempty"`
	IsSeasonal   bool               `json:"is_seasonal"`
}

// VolatilityOutput is the complete volatility engine result.
type VolatilityOutput struct {
	RegionalScores        []RegionalVolatility `json:"regional_scores"`
	HighVolatilityRegions []string             `json:"high_volatility_regions"`
	StableRegions         []string             `json:"stable_regions"`
	Seasonal              *SeasonalPattern     `json:"seasonal_pattern,omitempty"`
	Summary               string               `json:"summary"`
}

// DimensionalSlice is one unique combination of dimension values with its
// aggregated metric value and z-score against the population of slices from
// the same dimension combination.
type DimensionalSlice struct {
	Dimensions   map[string]string `json:"dimensions"`
	Metric       string            `json:"metric"`
	Value        float64           `json:"value"`
	SampleSize   int               `json:"sample_size"`
	ZScore       float64           `json:"z_score"`
	ExpectedLow  float64           `json:"expected_low"`
	ExpectedHigh float64           `json:"expected_high"`
	IsOutlier    bool              `json:"is_outlier"`
	Status       string            `json:"status"` // ok | insufficient_population
}

// OutlierCluster groups outlier slices sharing at least one dimension value.
type OutlierCluster struct {
	SharedValues  map[string]string  `json:"shared_values"`
	Slices        []DimensionalSlice `json:"slices"`
	SeverityScore float64            `json:"severity_score"` // min(1, mean|z|/4)
}

// DimensionalOutput is the complete dimensional slicing result.
type DimensionalOutput struct {
	Slices              []DimensionalSlice `json:"slices"`
	OutlierClusters     []OutlierCluster   `json:"outlier_clusters"`
	DimensionImportance map[string]float64 `json:"dimension_importance"`
	Summary             string             `json:"summary"`
}

// Severity tiers a point anomaly by |z|.
type Severity string

const (
	SeverityModerate Severity = "moderate"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities for comparisons; higher is worse.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityModerate:
		return 1
	}
	return 0
}

// Anomaly is a single detected point anomaly.
type Anomaly struct {
	ID           core.AnomalyID   `json:"id"`
	Metric       string           `json:"metric_name"`
	Observed     float64          `json:"observed_value"`
	Expected     float64          `json:"expected_value"`
	ZScore       float64          `json:"z_score"`
	DeviationPct float64          `json:"deviation_percentage"`
	PctDefined   bool             `json:"deviation_defined"`
	Region       string           `json:"region,omitempty"`
	TimePeriod   string           `json:"time_period,omitempty"`
	Severity     Severity         `json:"severity"`
	Source       string           `json:"source"` // zscore | multivariate
	RelatedIDs   []core.AnomalyID `json:"related_ids,omitempty"`
}

// AnomalyOutput is the complete anomaly engine result.
type AnomalyOutput struct {
	Anomalies        []Anomaly      `json:"anomalies"`
	CountsByRegion   map[string]int `json:"counts_by_region"`
	CountsByMetric   map[string]int `json:"counts_by_metric"`
	CountsBySeverity map[string]int `json:"counts_by_severity"`
	Summary          string         `json:"summary"`
}

// StatisticalAbstract merges the four engine outputs for one run. Engines
// that aborted carry a labeled failure instead of output.
type StatisticalAbstract struct {
	Correlation *CorrelationOutput `json:"correlation,omitempty"`
	Volatility  *VolatilityOutput  `json:"volatility,omitempty"`
	Dimensional *DimensionalOutput `json:"dimensional,omitempty"`
	Anomaly     *AnomalyOutput     `json:"anomaly,omitempty"`
	Failures    map[string]string  `json:"failures,omitempty"` // engine name -> error
}

// AnalysisRun is the persisted record of one completed analysis.
type AnalysisRun struct {
	ID          core.RunID                 `json:"id"`
	DatasetName string                     `json:"dataset_name"`
	Roles       dataset.ColumnRoles        `json:"roles"`
	Quality     *dataset.DataQualityReport `json:"quality,omitempty"`
	Abstract    StatisticalAbstract        `json:"abstract"`
	StartedAt   core.Timestamp             `json:"started_at"`
	CompletedAt core.Timestamp             `json:"completed_at"`
	RuntimeMs   int64                      `json:"runtime_ms"`
}
