package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandEnvSubstitutesBracedAndBareVars(t *testing.T) {
	t.Setenv("SIGNALRELAY_TEST_HOST", "db.internal")
	t.Setenv("SIGNALRELAY_TEST_PORT", "5432")

	out := ExpandEnv([]byte("host: ${SIGNALRELAY_TEST_HOST}:$SIGNALRELAY_TEST_PORT"))
	assert.Equal(t, "host: db.internal:5432", string(out))
}

func TestExpandEnvMissingVarBecomesEmpty(t *testing.T) {
	out := ExpandEnv([]byte("key: ${SIGNALRELAY_DOES_NOT_EXIST}"))
	assert.Equal(t, "key: ", string(out))
}
