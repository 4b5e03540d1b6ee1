package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeDefaultsWhenNoFile(t *testing.T) {
	t.Setenv("SIGNALRELAY_PUSH_SECRET", "test-secret")
	snap, err := Initialize(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 60, snap.PollIntervalSeconds)
	assert.Equal(t, "test-secret", snap.PushSharedSecret())
}

func TestInitializeMergesYAMLOverDefaults(t *testing.T) {
	t.Setenv("SIGNALRELAY_PUSH_SECRET", "s3cr3t")
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
poll_interval_s: 120
analyzer_model: claude-3-5-sonnet-latest
analyzer_prompt: "summarize this post"
listen_addr: ":9090"
push_shared_secret_env: SIGNALRELAY_PUSH_SECRET
`), 0o600))

	snap, err := Initialize(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 120, snap.PollIntervalSeconds)
	assert.Equal(t, "claude-3-5-sonnet-latest", snap.AnalyzerModel)
	// untouched fields keep their default
	assert.Equal(t, 3, snap.AnalysisConcurrency)
}

func TestInitializeRejectsInvalidYAML(t *testing.T) {
	t.Setenv("SIGNALRELAY_PUSH_SECRET", "x")
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not: [valid"), 0o600))

	_, err := Initialize(context.Background(), path)
	assert.Error(t, err)
}

func TestInitializeToleratesUnsetPushSecretEnvValue(t *testing.T) {
	// push_shared_secret_env names the env var; the var itself being unset
	// resolves to an empty secret rather than a load error — signature
	// verification will simply reject every push until an operator sets it.
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
analyzer_model: claude-3-5-haiku-latest
analyzer_prompt: "x"
`), 0o600))

	snap, err := Initialize(context.Background(), path)
	require.NoError(t, err)
	assert.Empty(t, snap.PushSharedSecret())
}
