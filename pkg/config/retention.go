package config

import "time"

// RetentionWindow returns the retention threshold as a duration, for
// comparing against a post's updated_at timestamp.
func (s *Snapshot) RetentionWindow() time.Duration {
	return time.Duration(s.RetentionDays) * 24 * time.Hour
}

// AnalyzeTimeout returns AnalyzeTimeoutSec as a time.Duration.
func (s *Snapshot) AnalyzeTimeout() time.Duration {
	return time.Duration(s.AnalyzeTimeoutSec) * time.Second
}

// PollInterval returns PollIntervalSeconds as a time.Duration.
func (s *Snapshot) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalSeconds) * time.Second
}

// MinPollSpacing returns MinPollSpacingSeconds as a time.Duration.
func (s *Snapshot) MinPollSpacing() time.Duration {
	return time.Duration(s.MinPollSpacingSeconds) * time.Second
}

// DispatchMaxBackoff returns DispatchMaxBackoffSec as a time.Duration.
func (s *Snapshot) DispatchMaxBackoff() time.Duration {
	return time.Duration(s.DispatchMaxBackoffSec) * time.Second
}
