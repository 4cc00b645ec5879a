package config

import (
	"os"
	"strconv"

	"datapulse/internal/errors"
)

// Config represents the complete application configuration
type Config struct {
	Database DatabaseConfig
	Analysis AnalysisConfig
}

// DatabaseConfig holds database connection settings. The URL is optional:
// without it results are not persisted.
type DatabaseConfig struct {
	URL string
}

// AnalysisConfig carries the default threshold knobs for each engine.
// Engines never read these from ambient state; callers pass them explicitly
// into each engine invocation so concurrent runs with different thresholds
// do not interfere.
type AnalysisConfig struct {
	Alpha               float64 // correlation significance level
	StrongThreshold     float64 // |r| floor for the highlighted list
	CVLowThreshold      float64
	CVModerateThreshold float64
	CVHighThreshold     float64
	CVCriticalThreshold float64
	SliceZThreshold     float64 // dimensional outlier threshold
	AnomalyModerateZ    float64
	AnomalyHighZ        float64
	AnomalyCriticalZ    float64
	Multivariate        bool
	ContaminationRate   float64
}

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	cfg := &Config{
		Database: DatabaseConfig{
			URL: os.Getenv("DATABASE_URL"),
		},
		Analysis: AnalysisConfig{
			Alpha:               getEnvFloatOrDefault("PVALUE_SIGNIFICANCE", 0.05),
			StrongThreshold:     getEnvFloatOrDefault("CORRELATION_THRESHOLD", 0.7),
			CVLowThreshold:      getEnvFloatOrDefault("VOLATILITY_LOW_THRESHOLD", 0.1),
			CVModerateThreshold: getEnvFloatOrDefault("VOLATILITY_MODERATE_THRESHOLD", 0.2),
			CVHighThreshold:     getEnvFloatOrDefault("VOLATILITY_HIGH_THRESHOLD", 0.3),
			CVCriticalThreshold: getEnvFloatOrDefault("VOLATILITY_CRITICAL_THRESHOLD", 0.5),
			SliceZThreshold:     getEnvFloatOrDefault("ZSCORE_ANOMALY_THRESHOLD", 2.0),
			AnomalyModerateZ:    getEnvFloatOrDefault("ANOMALY_MODERATE_Z", 2.0),
			AnomalyHighZ:        getEnvFloatOrDefault("ANOMALY_HIGH_Z", 2.5),
			AnomalyCriticalZ:    getEnvFloatOrDefault("ANOMALY_CRITICAL_Z", 3.0),
			Multivariate:        getEnvBoolOrDefault("MULTIVARIATE_DETECTION", false),
			ContaminationRate:   getEnvFloatOrDefault("CONTAMINATION_RATE", 0.05),
		},
	}

	if err := validate(cfg); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	a := cfg.Analysis
	if a.Alpha <= 0 || a.Alpha >= 1 {
		return errors.ConfigInvalid("PVALUE_SIGNIFICANCE must be in (0,1)")
	}
	if a.StrongThreshold < 0 || a.StrongThreshold > 1 {
		return errors.ConfigInvalid("CORRELATION_THRESHOLD must be in [0,1]")
	}
	if a.SliceZThreshold <= 0 {
		return errors.ConfigInvalid("ZSCORE_ANOMALY_THRESHOLD must be positive")
	}
	if a.AnomalyModerateZ <= 0 || a.AnomalyHighZ < a.AnomalyModerateZ || a.AnomalyCriticalZ < a.AnomalyHighZ {
		return errors.ConfigInvalid("anomaly z tiers must be positive and non-decreasing")
	}
	if !(a.CVLowThreshold <= a.CVModerateThreshold && a.CVModerateThreshold <= a.CVHighThreshold && a.CVHighThreshold <= a.CVCriticalThreshold) {
		return errors.ConfigInvalid("volatility CV tiers must be non-decreasing")
	}
	if a.ContaminationRate <= 0 || a.ContaminationRate >= 0.5 {
		return errors.ConfigInvalid("CONTAMINATION_RATE must be in (0,0.5)")
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
