package config

import "time"

// DefaultSnapshot returns the built-in defaults applied before YAML/env
// overrides are merged in, matching the defaults spec.md §4/§6 names
// explicitly (poll_interval floor 30s, analysis_concurrency 2-4, etc).
func DefaultSnapshot() *Snapshot {
	return &Snapshot{
		PollIntervalSeconds:   60,
		MinPollSpacingSeconds: 300,
		HistoricalHours:       24,

		AnalyzerModel:       "claude-3-5-haiku-latest",
		AnalyzerPrompt:      "Summarize the key facts and sentiment of this post in two sentences.",
		AnalyzeTimeoutSec:   60,
		AnalysisConcurrency: 3,
		AnalysisBatch:       10,
		DailyCostCeilingUSD: 0, // 0 = no ceiling

		DispatchConcurrency:   2,
		DispatchRatePerSec:    1,
		DispatchMaxRetries:    5,
		DispatchMaxBackoffSec: 300,

		RetentionDays:       30,
		RetentionSweepEvery: time.Hour,

		NotificationsEnabled: true,
		NotifyOnlyAnalyzed:   true,

		PushSharedSecretEnv: "SIGNALRELAY_PUSH_SECRET",
		ListenAddr:          ":8080",

		OrphanThreshold:  10 * time.Minute,
		OrphanSweepEvery: 2 * time.Minute,

		AnthropicAPIKeyEnv: "ANTHROPIC_API_KEY",
		SlackTokenEnv:      "SIGNALRELAY_SLACK_TOKEN",
		SlackChannel:       "#signalrelay",
	}
}
