package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// clearEnv unsets every variable the loader reads so the host environment
// cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"HOST", "PORT", "ALLOW_EXTERNAL_TEST_TRIGGER", "SHUTDOWN_TIMEOUT",
		"WEBFLOW_WEBHOOK_SECRET", "WEBHOOK_SIGNATURE_HEADER", "WEBHOOK_TIMESTAMP_HEADER",
		"WEBHOOK_TARGET_EVENT", "WEBHOOK_MAX_BODY_SIZE", "WEBHOOK_MAX_SKEW",
		"WEBHOOK_SIGNATURE_CONSTRUCTIONS", "RUNNER_COMMAND", "RUNNER_WORKDIR",
		"RUNNER_REPORT_DIR", "RUNNER_RESULTS_FILE", "RUNNER_TIMEOUT", "RUNNER_MAX_OUTPUT",
		"RUNNER_SERIALIZE", "RUNNER_LOCK_FILE", "LOG_LEVEL", "LOG_FORMAT",
	} {
		if prev, ok := os.LookupEnv(key); ok {
			require.NoError(t, os.Unsetenv(key))
			t.Cleanup(func() { _ = os.Setenv(key, prev) })
		}
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := load("", "")
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, ":3000", cfg.Server.Addr())
	assert.Equal(t, "X-Webflow-Signature", cfg.Webhook.SignatureHeader)
	assert.Equal(t, "X-Webflow-Timestamp", cfg.Webhook.TimestampHeader)
	assert.Equal(t, "site.publish", cfg.Webhook.TargetEvent)
	assert.Equal(t, Size(1<<20), cfg.Webhook.MaxBodySize)
	assert.Equal(t, 5*time.Minute, cfg.Webhook.MaxSkew)
	assert.Empty(t, cfg.Webhook.Secret)
	assert.True(t, cfg.Runner.Serialize)
	assert.Equal(t, 30*time.Minute, cfg.Runner.Timeout)
	assert.Equal(t, Size(10<<20), cfg.Runner.MaxOutput)
	assert.Equal(t, "playwright-report.lock", cfg.Runner.LockPath())
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("WEBFLOW_WEBHOOK_SECRET", "s3cret")
	t.Setenv("PORT", "8080")
	t.Setenv("HOST", "127.0.0.1")
	t.Setenv("ALLOW_EXTERNAL_TEST_TRIGGER", "true")
	t.Setenv("WEBHOOK_MAX_BODY_SIZE", "512KB")
	t.Setenv("WEBHOOK_MAX_SKEW", "90s")
	t.Setenv("WEBHOOK_SIGNATURE_CONSTRUCTIONS", "ts.body,body")
	t.Setenv("RUNNER_SERIALIZE", "false")
	t.Setenv("RUNNER_TIMEOUT", "2m")
	t.Setenv("RUNNER_LOCK_FILE", "/tmp/pc.lock")

	cfg, err := load("", "")
	require.NoError(t, err)

	assert.Equal(t, "s3cret", cfg.Webhook.Secret)
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr())
	assert.True(t, bool(cfg.Server.AllowExternalTrigger))
	assert.Equal(t, Size(512*1024), cfg.Webhook.MaxBodySize)
	assert.Equal(t, 90*time.Second, cfg.Webhook.MaxSkew)
	assert.Equal(t, []string{"ts.body", "body"}, cfg.Webhook.Constructions)
	assert.False(t, cfg.Runner.Serialize)
	assert.Equal(t, 2*time.Minute, cfg.Runner.Timeout)
	assert.Equal(t, "/tmp/pc.lock", cfg.Runner.LockPath())
}

func TestLoadExternalTriggerSwitch(t *testing.T) {
	tests := map[string]bool{
		"true":  true,
		"yes":   true,
		"1x":    true,
		"on":    true,
		"false": false,
		"FALSE": false,
		"0":     false,
		"off":   false,
		"no":    false,
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("ALLOW_EXTERNAL_TEST_TRIGGER", in)

			cfg, err := load("", "")
			require.NoError(t, err)
			assert.Equal(t, want, bool(cfg.Server.AllowExternalTrigger))
		})
	}
}

func TestFlagYAML(t *testing.T) {
	var out struct {
		On  Flag `yaml:"on_value"`
		Off Flag `yaml:"off_value"`
		Raw Flag `yaml:"raw"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("on_value: true\noff_value: \"off\"\nraw: enabled\n"), &out))
	assert.True(t, bool(out.On))
	assert.False(t, bool(out.Off))
	assert.True(t, bool(out.Raw))

	data, err := yaml.Marshal(struct {
		On Flag `yaml:"on_value"`
	}{On: true})
	require.NoError(t, err)
	assert.Equal(t, "on_value: true\n", string(data))

	assert.Error(t, yaml.Unmarshal([]byte("raw: [1]\n"), &out))
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("PC_TEST_SECRET", "from-env")
	dir := t.TempDir()
	path := writeFile(t, dir, "publishcheck.yaml", `
server:
  port: 4000
webhook:
  secret: ${PC_TEST_SECRET}
  target_event: Site Publish
  max_body_size: 2MB
runner:
  command: ./run-tests.sh --quiet
  timeout: 10m
  serialize: false
log:
  level: debug
  format: console
`)

	cfg, err := load(path, "")
	require.NoError(t, err)

	assert.Equal(t, 4000, cfg.Server.Port)
	assert.Equal(t, "from-env", cfg.Webhook.Secret)
	assert.Equal(t, "Site Publish", cfg.Webhook.TargetEvent)
	assert.Equal(t, Size(2<<20), cfg.Webhook.MaxBodySize)
	assert.Equal(t, "./run-tests.sh --quiet", cfg.Runner.Command)
	assert.Equal(t, 10*time.Minute, cfg.Runner.Timeout)
	assert.False(t, cfg.Runner.Serialize)
	assert.Equal(t, "console", cfg.Log.Format)

	// Settings absent from the file keep their defaults.
	assert.Equal(t, "X-Webflow-Signature", cfg.Webhook.SignatureHeader)
	assert.Equal(t, "playwright-report", cfg.Runner.ReportDir)
}

func TestLoadEnvironmentOverridesFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "publishcheck.yaml", "server:\n  port: 4000\n")
	t.Setenv("PORT", "5000")

	cfg, err := load(path, "")
	require.NoError(t, err)
	assert.Equal(t, 5000, cfg.Server.Port)
}

func TestLoadDotenv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	dotenv := writeFile(t, dir, ".env", "WEBFLOW_WEBHOOK_SECRET=dotenv-secret\nLOG_LEVEL=WARN\n")
	t.Cleanup(func() {
		_ = os.Unsetenv("WEBFLOW_WEBHOOK_SECRET")
		_ = os.Unsetenv("LOG_LEVEL")
	})

	cfg, err := load("", dotenv)
	require.NoError(t, err)
	assert.Equal(t, "dotenv-secret", cfg.Webhook.Secret)
	assert.Equal(t, "WARN", cfg.Log.Level)
}

func TestLoadMissingDotenvIsIgnored(t *testing.T) {
	clearEnv(t)
	_, err := load("", filepath.Join(t.TempDir(), ".env"))
	require.NoError(t, err)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "invalid yaml",
			yaml:    "server: [",
			wantErr: "failed to parse YAML",
		},
		{
			name:    "invalid size in file",
			yaml:    "webhook:\n  max_body_size: lots\n",
			wantErr: "invalid size value",
		},
		{
			name:    "port out of range",
			env:     map[string]string{"PORT": "70000"},
			wantErr: "server.port",
		},
		{
			name:    "unknown construction",
			env:     map[string]string{"WEBHOOK_SIGNATURE_CONSTRUCTIONS": "ts.body,sha1"},
			wantErr: "unknown signature construction",
		},
		{
			name:    "bad log format",
			env:     map[string]string{"LOG_FORMAT": "xml"},
			wantErr: "log.format",
		},
		{
			name:    "blank command",
			yaml:    "runner:\n  command: \"   \"\n",
			wantErr: "runner.command is required",
		},
		{
			name:    "unparseable duration",
			env:     map[string]string{"RUNNER_TIMEOUT": "soon"},
			wantErr: "parse environment",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := ""
			if tt.yaml != "" {
				path = writeFile(t, t.TempDir(), "publishcheck.yaml", tt.yaml)
			}

			_, err := load(path, "")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	_, err := load(filepath.Join(t.TempDir(), "nope.yaml"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Server.Port = 0
	cfg.Runner.Timeout = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "runner.timeout")
}

func TestInterpolateEnv(t *testing.T) {
	t.Setenv("PC_INTERP", "value")

	assert.Equal(t, "a value b", interpolateEnv("a ${PC_INTERP} b"))
	assert.Equal(t, "${PC_UNDEFINED_VAR_XYZ}", interpolateEnv("${PC_UNDEFINED_VAR_XYZ}"))
	assert.Equal(t, "$PC_INTERP", interpolateEnv("$PC_INTERP"))
}

func TestWarnings(t *testing.T) {
	cfg := Defaults()
	warnings := cfg.Warnings()
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "WEBFLOW_WEBHOOK_SECRET")

	cfg.Webhook.Secret = "x"
	cfg.Server.AllowExternalTrigger = true
	warnings = cfg.Warnings()
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "ALLOW_EXTERNAL_TEST_TRIGGER")
}

func TestRedacted(t *testing.T) {
	cfg := Defaults()
	cfg.Webhook.Secret = "super-secret-value"
	cfg.Webhook.Constructions = []string{"ts.body"}

	red := cfg.Redacted()
	assert.Equal(t, "********", red.Webhook.Secret)
	assert.Equal(t, "super-secret-value", cfg.Webhook.Secret, "original must be untouched")

	red.Webhook.Constructions[0] = "body"
	assert.Equal(t, "ts.body", cfg.Webhook.Constructions[0])

	out, err := yaml.Marshal(red)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "super-secret-value")
	assert.Contains(t, string(out), "max_body_size: 1MB")
	assert.Contains(t, string(out), "max_skew: 5m0s")

	assert.Empty(t, Defaults().Redacted().Webhook.Secret)
}

func TestRunnerPaths(t *testing.T) {
	rc := RunnerConfig{WorkDir: "/srv/site", ReportDir: "playwright-report"}
	assert.Equal(t, "playwright-report.lock", rc.LockPath())
	assert.Equal(t, "/srv/site/playwright-report.lock", rc.Resolve(rc.LockPath()))
	assert.Equal(t, "/var/lock/run.lock", rc.Resolve("/var/lock/run.lock"))
	assert.Empty(t, rc.Resolve(""))

	rc.LockFile = "locks/tests.lock"
	assert.Equal(t, "/srv/site/locks/tests.lock", rc.Resolve(rc.LockPath()))
}
