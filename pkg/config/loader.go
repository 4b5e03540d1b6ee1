package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Initialize loads, validates, and returns ready-to-use configuration.
// Steps mirror the teacher's own Initialize (pkg/config/loader.go):
//  1. Load .env (if present) so ${VAR} references in YAML resolve.
//  2. Read relay.yaml, expand environment variables, parse.
//  3. Merge onto built-in defaults (user config wins).
//  4. Resolve the push shared secret from its named env var.
//  5. Validate.
func Initialize(ctx context.Context, configPath string) (*Snapshot, error) {
	log := slog.With("config_path", configPath)

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn("failed to load .env file", "error", err)
	}

	snapshot := DefaultSnapshot()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info("no config file found, using defaults")
		} else {
			return nil, NewLoadError(configPath, err)
		}
	} else {
		data = ExpandEnv(data)

		var override Snapshot
		if err := yaml.Unmarshal(data, &override); err != nil {
			return nil, NewLoadError(configPath, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
		}
		if err := mergeOverrides(snapshot, &override); err != nil {
			return nil, NewLoadError(configPath, fmt.Errorf("merge config: %w", err))
		}
	}

	snapshot.pushSharedSecret = os.Getenv(snapshot.PushSharedSecretEnv)
	snapshot.anthropicAPIKey = os.Getenv(snapshot.AnthropicAPIKeyEnv)
	snapshot.slackToken = os.Getenv(snapshot.SlackTokenEnv)

	if err := snapshot.Validate(); err != nil {
		return nil, err
	}

	log.Info("configuration initialized",
		"poll_interval_s", snapshot.PollIntervalSeconds,
		"analysis_concurrency", snapshot.AnalysisConcurrency,
		"dispatch_rate_per_s", snapshot.DispatchRatePerSec)

	return snapshot, nil
}
