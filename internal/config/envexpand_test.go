package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandEnvSubstitutesBracedAndBareVars(t *testing.T) {
	t.Setenv("RATCHET_TEST_HOST", "db.internal")
	t.Setenv("RATCHET_TEST_PORT", "5432")

	in := "database_url: postgres://${RATCHET_TEST_HOST}:$RATCHET_TEST_PORT/ratchet"
	got := string(ExpandEnv([]byte(in)))

	assert.Equal(t, "database_url: postgres://db.internal:5432/ratchet", got)
}

func TestExpandEnvMissingVarExpandsEmpty(t *testing.T) {
	got := string(ExpandEnv([]byte("token: ${RATCHET_TEST_UNSET_VAR}")))
	assert.Equal(t, "token: ", got)
}
