package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
security:
  secret: test-secret
`

func TestLoadFromReader_Defaults(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "test-secret", cfg.Security.Secret)

	// Stock limits survive when the file only sets the secret.
	assert.Equal(t, 30, cfg.RateLimits[ActionMessage].Limit)
	assert.Equal(t, time.Minute, cfg.RateLimits[ActionMessage].Window.Duration())
	assert.Equal(t, 20, cfg.RateLimits[ActionCallback].Limit)

	assert.Equal(t, 3, cfg.Security.AutoBlock.Threshold)
	assert.Equal(t, 24*time.Hour, cfg.Security.AutoBlock.Window.Duration())
	assert.Equal(t, 24*time.Hour, cfg.Security.AutoBlock.BlockDuration.Duration())

	assert.Equal(t, time.Hour, cfg.Security.Sweep.Interval.Duration())
	assert.Equal(t, 5*time.Minute, cfg.Security.Sweep.ErrorBackoff.Duration())

	assert.False(t, cfg.Redis.Enabled)
}

func TestLoadFromReader_Overrides(t *testing.T) {
	yaml := `
security:
  secret: test-secret
  operators: [100, 200]
  autoBlock:
    threshold: 5
    window: 1h
    blockDuration: 30m
rateLimits:
  message:
    limit: 10
    window: 30s
redis:
  enabled: true
  address: redis:6379
  prefix: "guard:"
`
	cfg, err := LoadFromReader(strings.NewReader(yaml))
	require.NoError(t, err)

	assert.Equal(t, []int64{100, 200}, cfg.Security.Operators)
	assert.Equal(t, 5, cfg.Security.AutoBlock.Threshold)
	assert.Equal(t, time.Hour, cfg.Security.AutoBlock.Window.Duration())
	assert.Equal(t, 30*time.Minute, cfg.Security.AutoBlock.BlockDuration.Duration())

	assert.Equal(t, 10, cfg.RateLimits[ActionMessage].Limit)
	assert.Equal(t, 30*time.Second, cfg.RateLimits[ActionMessage].Window.Duration())

	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis:6379", cfg.Redis.Address)
	assert.Equal(t, "guard:", cfg.Redis.Prefix)
}

func TestLoadFromReader_EnvSubstitution(t *testing.T) {
	t.Setenv("BOTGUARD_SECRET", "from-env")

	yaml := `
security:
  secret: ${BOTGUARD_SECRET}
redis:
  address: ${REDIS_ADDR:-localhost:6379}
`
	cfg, err := LoadFromReader(strings.NewReader(yaml))
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Security.Secret)
	assert.Equal(t, "localhost:6379", cfg.Redis.Address)
}

func TestLoadFromReader_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing secret",
			yaml:    `logging: {level: info}`,
			wantErr: "security.secret",
		},
		{
			name: "non positive limit",
			yaml: minimalYAML + `
rateLimits:
  message:
    limit: 0
    window: 1m
`,
			wantErr: "limit must be positive",
		},
		{
			name: "bad validation pattern",
			yaml: minimalYAML + `
validation:
  - field: code
    pattern: "([unclosed"
`,
			wantErr: "invalid pattern",
		},
		{
			name: "bad signature pattern",
			yaml: minimalYAML + `
signatures:
  - name: bad
    pattern: "([unclosed"
`,
			wantErr: "invalid pattern",
		},
		{
			name: "redis enabled without address",
			yaml: minimalYAML + `
redis:
  enabled: true
  address: ""
`,
			wantErr: "redis.address",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromReader(strings.NewReader(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	require.Error(t, err)
}

func TestDuration_UnmarshalYAML(t *testing.T) {
	yaml := `
security:
  secret: test-secret
  sweep:
    interval: 90m
    errorBackoff: 45s
`
	cfg, err := LoadFromReader(strings.NewReader(yaml))
	require.NoError(t, err)

	assert.Equal(t, 90*time.Minute, cfg.Security.Sweep.Interval.Duration())
	assert.Equal(t, 45*time.Second, cfg.Security.Sweep.ErrorBackoff.Duration())
}
