// Package testutil holds helpers shared by the SDK's integration tests.
package testutil

import (
	"os"
	"testing"
)

// IntegrationEnv opts into container-backed tests on CI runners.
const IntegrationEnv = "BFAST_INTEGRATION_TESTS"

// RequireIntegration skips the test in -short mode, and on CI unless IntegrationEnv is set.
func RequireIntegration(t testing.TB) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	if os.Getenv(IntegrationEnv) == "" && os.Getenv("CI") != "" {
		t.Skipf("skipping integration test (set %s=1 to run)", IntegrationEnv)
	}
}

// RequireEnv returns the value of key or skips the test when it is unset.
func RequireEnv(t testing.TB, key string) string {
	t.Helper()
	v := os.Getenv(key)
	if v == "" {
		t.Skipf("skipping: %s is not set", key)
	}
	return v
}
