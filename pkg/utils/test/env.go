package test

import (
	"os"
	"testing"
)

// EnvVars gates integration tests behind required environment variables.
// Missing variables skip the test instead of failing it, so the suite stays
// green on machines without the real backend.
type EnvVars struct {
	t    *testing.T
	vars map[string]string
}

// NewEnvVars looks up every key and skips the calling test on the first one
// that is unset.
func NewEnvVars(t *testing.T, keys ...string) EnvVars {
	t.Helper()

	e := EnvVars{
		t:    t,
		vars: make(map[string]string, len(keys)),
	}

	for _, key := range keys {
		value, ok := os.LookupEnv(key)
		if !ok {
			t.Skipf("skipping test because %s is not set", key)
		}
		e.vars[key] = value
	}

	return e
}

// Get returns the collected value. Asking for a key that was never passed to
// NewEnvVars is a bug in the test itself.
func (e EnvVars) Get(key string) string {
	v, ok := e.vars[key]
	if !ok {
		e.t.Fatalf("env var %s was not requested via NewEnvVars", key)
	}
	return v
}
