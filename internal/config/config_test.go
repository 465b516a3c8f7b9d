package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"DATABASE_DRIVER", "MAX_FOCUS_VIOLATIONS", "LOOK_AWAY_THRESHOLD_SECONDS", "DETECTION_CONFIDENCE", "ALLOWED_ORIGINS", "LEADERBOARD_CACHE_TTL_SECONDS"} {
		t.Setenv(k, "")
	}

	cfg := Load()
	if cfg.DatabaseDriver != DriverPostgres {
		t.Errorf("DatabaseDriver = %q", cfg.DatabaseDriver)
	}
	if cfg.Proctoring.MaxFocusViolations != 3 || cfg.Proctoring.MaxLookAwayWarnings != 5 {
		t.Errorf("proctoring = %+v", cfg.Proctoring)
	}
	if cfg.Proctoring.LookAwayThreshold != 15*time.Second || cfg.Proctoring.DetectionConfidence != 0.5 {
		t.Errorf("proctoring = %+v", cfg.Proctoring)
	}
	if cfg.AllowedOrigins != nil {
		t.Errorf("AllowedOrigins = %v, want nil", cfg.AllowedOrigins)
	}
	if cfg.LeaderboardCacheTTL != 30*time.Second {
		t.Errorf("LeaderboardCacheTTL = %v", cfg.LeaderboardCacheTTL)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "SQLite")
	t.Setenv("MAX_FOCUS_VIOLATIONS", "4")
	t.Setenv("DETECTION_CONFIDENCE", "0.75")
	t.Setenv("UNRANKED_VIOLATION_COUNT", "not-a-number")
	t.Setenv("ALLOWED_ORIGINS", " https://a.example , ,https://b.example")

	cfg := Load()
	if cfg.DatabaseDriver != DriverSQLite {
		t.Errorf("DatabaseDriver = %q", cfg.DatabaseDriver)
	}
	if cfg.Proctoring.MaxFocusViolations != 4 || cfg.Proctoring.DetectionConfidence != 0.75 {
		t.Errorf("proctoring = %+v", cfg.Proctoring)
	}
	if cfg.UnrankedViolationCount != 5 {
		t.Errorf("bad int should fall back, got %d", cfg.UnrankedViolationCount)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
}
