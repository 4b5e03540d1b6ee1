package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validate runs struct-tag validation (go-playground/validator, grounded on
// jordigilh-kubernaut's direct dependency) followed by the cross-field
// invariant checks a tag alone cannot express, matching the teacher's
// fail-fast ValidateAll ordering (pkg/config/validator.go).
func (s *Snapshot) Validate() error {
	v := validator.New()
	if err := v.Struct(s); err != nil {
		return fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	if s.MinPollSpacingSeconds > 0 && s.MinPollSpacingSeconds >= s.PollIntervalSeconds*10 {
		return fmt.Errorf("%w: min_poll_spacing_s (%d) is implausibly large relative to poll_interval_s (%d)",
			ErrValidationFailed, s.MinPollSpacingSeconds, s.PollIntervalSeconds)
	}
	if s.AnalysisBatch < s.AnalysisConcurrency {
		return fmt.Errorf("%w: analysis_batch (%d) should be at least analysis_concurrency (%d) to keep workers fed",
			ErrValidationFailed, s.AnalysisBatch, s.AnalysisConcurrency)
	}
	if s.NotifyOnlyAnalyzed && !s.NotificationsEnabled {
		return fmt.Errorf("%w: notify_only_analyzed has no effect while notifications_enabled is false", ErrValidationFailed)
	}

	return nil
}
