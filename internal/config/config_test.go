package config

import (
	"testing"

	"datapulse/internal/errors"
)

func clearAnalysisEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PVALUE_SIGNIFICANCE", "CORRELATION_THRESHOLD",
		"VOLATILITY_LOW_THRESHOLD", "VOLATILITY_MODERATE_THRESHOLD",
		"VOLATILITY_HIGH_THRESHOLD", "VOLATILITY_CRITICAL_THRESHOLD",
		"ZSCORE_ANOMALY_THRESHOLD", "ANOMALY_MODERATE_Z", "ANOMALY_HIGH_Z",
		"ANOMALY_CRITICAL_Z", "MULTIVARIATE_DETECTION", "CONTAMINATION_RATE",
		"DATABASE_URL",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearAnalysisEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	a := cfg.Analysis
	if a.Alpha != 0.05 || a.StrongThreshold != 0.7 {
		t.Errorf("correlation defaults = %g/%g", a.Alpha, a.StrongThreshold)
	}
	if a.CVLowThreshold != 0.1 || a.CVCriticalThreshold != 0.5 {
		t.Errorf("CV tier defaults = %g/%g", a.CVLowThreshold, a.CVCriticalThreshold)
	}
	if a.AnomalyModerateZ != 2.0 || a.AnomalyHighZ != 2.5 || a.AnomalyCriticalZ != 3.0 {
		t.Errorf("anomaly tier defaults = %g/%g/%g", a.AnomalyModerateZ, a.AnomalyHighZ, a.AnomalyCriticalZ)
	}
	if a.Multivariate {
		t.Error("multivariate detection should default off")
	}
	if cfg.Database.URL != "" {
		t.Errorf("database URL = %q, want empty", cfg.Database.URL)
	}
}

func TestLoadOverrides(t *testing.T) {
	clearAnalysisEnv(t)
	t.Setenv("CORRELATION_THRESHOLD", "0.9")
	t.Setenv("MULTIVARIATE_DETECTION", "true")
	t.Setenv("CONTAMINATION_RATE", "0.1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Analysis.StrongThreshold != 0.9 {
		t.Errorf("StrongThreshold = %g, want 0.9", cfg.Analysis.StrongThreshold)
	}
	if !cfg.Analysis.Multivariate || cfg.Analysis.ContaminationRate != 0.1 {
		t.Errorf("multivariate settings = %v/%g", cfg.Analysis.Multivariate, cfg.Analysis.ContaminationRate)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"PVALUE_SIGNIFICANCE": "1.5",
		"ANOMALY_MODERATE_Z":  "5", // above the high tier
		"CONTAMINATION_RATE":  "0.9",
	}
	for key, value := range cases {
		clearAnalysisEnv(t)
		t.Setenv(key, value)

		_, err := Load()
		if err == nil {
			t.Errorf("%s=%s accepted", key, value)
			continue
		}
		if errors.GetCode(err) != errors.CodeConfigInvalid {
			t.Errorf("%s=%s: code %s, want CONFIG_INVALID", key, value, errors.GetCode(err))
		}
	}
}

func TestLoadIgnoresUnparseableValues(t *testing.T) {
	clearAnalysisEnv(t)
	t.Setenv("CORRELATION_THRESHOLD", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Analysis.StrongThreshold != 0.7 {
		t.Errorf("unparseable override should fall back to default, got %g", cfg.Analysis.StrongThreshold)
	}
}
