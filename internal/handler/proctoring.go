package handler

import (
	"time"

	"github.com/stemsi/exstem-guard/internal/config"
	"github.com/stemsi/exstem-guard/internal/model"
	"github.com/stemsi/exstem-guard/internal/proctor"
)

// proctorSettings are the effective proctoring rules of one exam.
type proctorSettings struct {
	thresholds proctor.Thresholds
	lookAway   time.Duration
	confidence float64
	camera     bool
}

// resolveProctoring applies an exam's cheat rules over the server defaults.
// Zero-valued rule fields keep the default.
func resolveProctoring(cfg config.ProctoringConfig, rules *model.CheatRules) proctorSettings {
	s := proctorSettings{
		thresholds: proctor.Thresholds{
			MaxFocusViolations:  cfg.MaxFocusViolations,
			MaxLookAwayWarnings: cfg.MaxLookAwayWarnings,
		},
		lookAway:   cfg.LookAwayThreshold,
		confidence: cfg.DetectionConfidence,
	}
	if rules == nil {
		return s
	}
	if rules.MaxFocusViolations > 0 {
		s.thresholds.MaxFocusViolations = rules.MaxFocusViolations
	}
	if rules.MaxLookAwayWarnings > 0 {
		s.thresholds.MaxLookAwayWarnings = rules.MaxLookAwayWarnings
	}
	if rules.LookAwayThresholdSeconds > 0 {
		s.lookAway = time.Duration(rules.LookAwayThresholdSeconds) * time.Second
	}
	if rules.DetectionConfidence > 0 {
		s.confidence = rules.DetectionConfidence
	}
	s.camera = rules.Proctoring
	return s
}

// sources builds the violation sources of a session. Camera sources are only
// attached when the exam enables proctoring.
func (s proctorSettings) sources(bus *proctor.Bus, tasks *proctor.TaskGroup) []proctor.Source {
	sources := []proctor.Source{
		proctor.NewFocusSource(bus),
		proctor.NewFullscreenSource(bus),
		proctor.NewClipboardSource(bus),
	}
	if s.camera {
		sources = append(sources,
			proctor.NewGazeSource(bus, tasks, s.lookAway),
			proctor.NewPhoneSource(bus, s.confidence),
		)
	}
	return sources
}
