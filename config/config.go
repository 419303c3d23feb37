// Package config reads client configuration from the environment, redacting
// secrets when printed.
package config

import (
	"fmt"
	"time"

	"github.com/bitrise-io/go-utils/v2/env"
)

// Secret is a string that never leaks through formatting.
type Secret string

const secretRedacted = "*****"

// String implements fmt.Stringer and redacts the value.
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return secretRedacted
}

// GoString keeps %#v output redacted too.
func (s Secret) GoString() string {
	return s.String()
}

// Config is the client-wide configuration of the transfer engine.
type Config struct {
	// APIBaseURL is the storage backend's REST endpoint.
	APIBaseURL string
	// APIAccessToken authorizes API calls.
	APIAccessToken Secret
	// PutTimeout bounds one direct PUT. Zero means the backend default.
	PutTimeout time.Duration
	// S3Region, S3AccessKeyID and S3SecretAccessKey switch uploads to the
	// direct S3 backend when all are set.
	S3Region          string
	S3AccessKeyID     Secret
	S3SecretAccessKey Secret
	// Verbose enables debug logging.
	Verbose bool
}

// Parse reads the configuration from the environment.
func Parse(envRepo env.Repository) (Config, error) {
	cfg := Config{
		APIBaseURL:        envRepo.Get("REMOCLOUD_API_URL"),
		APIAccessToken:    Secret(envRepo.Get("REMOCLOUD_API_TOKEN")),
		S3Region:          envRepo.Get("REMOCLOUD_S3_REGION"),
		S3AccessKeyID:     Secret(envRepo.Get("REMOCLOUD_S3_ACCESS_KEY_ID")),
		S3SecretAccessKey: Secret(envRepo.Get("REMOCLOUD_S3_SECRET_ACCESS_KEY")),
		Verbose:           envRepo.Get("REMOCLOUD_VERBOSE") == "true",
	}

	if raw := envRepo.Get("REMOCLOUD_PUT_TIMEOUT"); raw != "" {
		timeout, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid REMOCLOUD_PUT_TIMEOUT: %w", err)
		}
		cfg.PutTimeout = timeout
	}

	if cfg.APIBaseURL == "" {
		return Config{}, fmt.Errorf("REMOCLOUD_API_URL is required")
	}
	if cfg.APIAccessToken == "" {
		return Config{}, fmt.Errorf("REMOCLOUD_API_TOKEN is required")
	}

	return cfg, nil
}

// UseS3Backend reports whether direct S3 uploads are configured.
func (c Config) UseS3Backend() bool {
	return c.S3Region != "" && c.S3AccessKeyID != "" && c.S3SecretAccessKey != ""
}
