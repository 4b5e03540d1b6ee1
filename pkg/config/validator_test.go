package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validSnapshot() *Snapshot {
	s := DefaultSnapshot()
	s.PushSharedSecretEnv = "X"
	return s
}

func TestValidateAcceptsDefaults(t *testing.T) {
	assert.NoError(t, validSnapshot().Validate())
}

func TestValidateRejectsShortPollInterval(t *testing.T) {
	s := validSnapshot()
	s.PollIntervalSeconds = 5
	assert.ErrorIs(t, s.Validate(), ErrValidationFailed)
}

func TestValidateRejectsBatchSmallerThanConcurrency(t *testing.T) {
	s := validSnapshot()
	s.AnalysisConcurrency = 10
	s.AnalysisBatch = 2
	assert.ErrorIs(t, s.Validate(), ErrValidationFailed)
}

func TestValidateRejectsNotifyOnlyAnalyzedWithoutNotifications(t *testing.T) {
	s := validSnapshot()
	s.NotificationsEnabled = false
	s.NotifyOnlyAnalyzed = true
	assert.ErrorIs(t, s.Validate(), ErrValidationFailed)
}

func TestValidateRejectsMissingAnalyzerModel(t *testing.T) {
	s := validSnapshot()
	s.AnalyzerModel = ""
	assert.Error(t, s.Validate())
}
