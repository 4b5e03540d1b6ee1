package config

import "time"

// Snapshot is the immutable configuration loaded once at process start.
// Fields map directly onto spec.md §6's configuration table.
type Snapshot struct {
	// SourceCoordinator / IngestPipeline
	PollIntervalSeconds   int `yaml:"poll_interval_s" validate:"min=30"`
	MinPollSpacingSeconds int `yaml:"min_poll_spacing_s" validate:"min=0"`
	HistoricalHours       int `yaml:"historical_hours" validate:"min=1"`

	// AnalysisWorker
	AnalyzerModel       string         `yaml:"analyzer_model" validate:"required"`
	AnalyzerParams      map[string]any `yaml:"analyzer_params"`
	AnalyzerPrompt      string         `yaml:"analyzer_prompt" validate:"required"`
	AnalyzeTimeoutSec   int            `yaml:"analyze_timeout_s" validate:"min=1"`
	AnalysisConcurrency int            `yaml:"analysis_concurrency" validate:"min=1,max=64"`
	AnalysisBatch       int            `yaml:"analysis_batch" validate:"min=1,max=256"`
	DailyCostCeilingUSD float64        `yaml:"daily_cost_ceiling_usd" validate:"min=0"`

	// DispatchWorker
	DispatchConcurrency   int     `yaml:"dispatch_concurrency" validate:"min=1,max=64"`
	DispatchRatePerSec    float64 `yaml:"dispatch_rate_per_s" validate:"min=0"`
	DispatchMaxRetries    int     `yaml:"dispatch_max_retries" validate:"min=0"`
	DispatchMaxBackoffSec int     `yaml:"dispatch_max_backoff_s" validate:"min=1"`

	// Retention sweeper
	RetentionDays      int           `yaml:"retention_days" validate:"min=1"`
	RetentionSweepEvery time.Duration `yaml:"retention_sweep_interval"`

	// Dispatch gating
	NotificationsEnabled bool `yaml:"notifications_enabled"`
	NotifyOnlyAnalyzed   bool `yaml:"notify_only_analyzed"`

	// Push intake
	PushSharedSecretEnv string `yaml:"push_shared_secret_env" validate:"required"`

	// HTTP / admin surface
	ListenAddr string `yaml:"listen_addr" validate:"required"`

	// Orphan recovery sweep (supplemented feature, grounded on pkg/queue/orphan.go)
	OrphanThreshold  time.Duration `yaml:"orphan_threshold"`
	OrphanSweepEvery time.Duration `yaml:"orphan_sweep_interval"`

	// Analyzer/destination credentials — named env vars, resolved at load
	// time like PushSharedSecretEnv, never held in the YAML file itself.
	AnthropicAPIKeyEnv string `yaml:"anthropic_api_key_env" validate:"required"`
	SlackTokenEnv      string `yaml:"slack_token_env" validate:"required"`
	SlackChannel       string `yaml:"slack_channel" validate:"required"`
	DashboardURL       string `yaml:"dashboard_url"`

	pushSharedSecret string // resolved from PushSharedSecretEnv, never serialized
	anthropicAPIKey  string // resolved from AnthropicAPIKeyEnv, never serialized
	slackToken       string // resolved from SlackTokenEnv, never serialized
}

// PushSharedSecret returns the resolved HMAC key for push-webhook signature
// verification, read from the environment variable named by
// PushSharedSecretEnv at load time.
func (s *Snapshot) PushSharedSecret() string { return s.pushSharedSecret }

// AnthropicAPIKey returns the resolved Anthropic API key, read from the
// environment variable named by AnthropicAPIKeyEnv at load time.
func (s *Snapshot) AnthropicAPIKey() string { return s.anthropicAPIKey }

// SlackToken returns the resolved Slack bot token, read from the
// environment variable named by SlackTokenEnv at load time.
func (s *Snapshot) SlackToken() string { return s.slackToken }
