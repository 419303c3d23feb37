//go:build integration
// +build integration

package integration

import (
	"os"
	"testing"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"

	"github.com/BotCoder254/remocloud-sub000/config"
)

var logger = log.NewLogger()

// testConfig reads the live service coordinates from the environment. Tests
// are skipped when no service is configured.
func testConfig(t *testing.T) config.Config {
	t.Helper()

	cfg, err := config.Parse(env.NewRepository())
	if err != nil {
		t.Skipf("integration environment not configured: %s", err)
	}
	return cfg
}

func testBucket(t *testing.T) string {
	t.Helper()

	bucket := os.Getenv("REMOCLOUD_TEST_BUCKET")
	if bucket == "" {
		t.Skip("REMOCLOUD_TEST_BUCKET not set")
	}
	return bucket
}

func randomPayload(n int) []byte {
	payload := make([]byte, n)
	for i := range payload {
		payload[i] = byte('a' + (i*7)%26)
	}
	return payload
}
