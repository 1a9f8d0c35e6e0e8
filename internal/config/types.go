package config

import (
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete publishcheck configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Webhook WebhookConfig `yaml:"webhook"`
	Runner  RunnerConfig  `yaml:"runner"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig defines HTTP listener settings.
type ServerConfig struct {
	Host string `yaml:"host" env:"HOST"`
	Port int    `yaml:"port" env:"PORT"`
	// AllowExternalTrigger lets /api/run-tests accept requests without the
	// internal request header.
	AllowExternalTrigger Flag          `yaml:"allow_external_trigger" env:"ALLOW_EXTERNAL_TEST_TRIGGER"`
	ShutdownTimeout      time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// Addr returns the listen address in host:port form.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// WebhookConfig defines how inbound webhooks are authenticated and matched.
type WebhookConfig struct {
	Secret          string        `yaml:"secret" env:"WEBFLOW_WEBHOOK_SECRET"`
	SignatureHeader string        `yaml:"signature_header" env:"WEBHOOK_SIGNATURE_HEADER"`
	TimestampHeader string        `yaml:"timestamp_header" env:"WEBHOOK_TIMESTAMP_HEADER"`
	TargetEvent     string        `yaml:"target_event" env:"WEBHOOK_TARGET_EVENT"`
	MaxBodySize     Size          `yaml:"max_body_size" env:"WEBHOOK_MAX_BODY_SIZE"`
	MaxSkew         time.Duration `yaml:"max_skew" env:"WEBHOOK_MAX_SKEW"`
	// Constructions narrows the signature compatibility matrix. Empty means
	// every known construction is tried.
	Constructions []string `yaml:"signature_constructions,omitempty" env:"WEBHOOK_SIGNATURE_CONSTRUCTIONS" envSeparator:","`
}

// RunnerConfig defines how the external test suite is executed.
type RunnerConfig struct {
	Command     string        `yaml:"command" env:"RUNNER_COMMAND"`
	WorkDir     string        `yaml:"workdir" env:"RUNNER_WORKDIR"`
	ReportDir   string        `yaml:"report_dir" env:"RUNNER_REPORT_DIR"`
	ResultsFile string        `yaml:"results_file" env:"RUNNER_RESULTS_FILE"`
	Timeout     time.Duration `yaml:"timeout" env:"RUNNER_TIMEOUT"`
	MaxOutput   Size          `yaml:"max_output" env:"RUNNER_MAX_OUTPUT"`
	Serialize   bool          `yaml:"serialize" env:"RUNNER_SERIALIZE"`
	LockFile    string        `yaml:"lock_file,omitempty" env:"RUNNER_LOCK_FILE"`
}

// LockPath is the cross-process lock file guarding the report directory.
func (r RunnerConfig) LockPath() string {
	if r.LockFile != "" {
		return r.LockFile
	}
	return r.ReportDir + ".lock"
}

// Resolve makes a relative path relative to WorkDir, where the test command
// runs.
func (r RunnerConfig) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(r.WorkDir, p)
}

// LogConfig defines log output.
type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

// Flag is a switch set by any non-empty value other than false, 0, no or
// off (case-insensitive).
type Flag bool

// ParseFlag reports whether v switches a Flag on.
func ParseFlag(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "false", "0", "no", "off":
		return false
	}
	return true
}

func (f *Flag) UnmarshalText(text []byte) error {
	*f = Flag(ParseFlag(string(text)))
	return nil
}

func (f *Flag) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a scalar switch value", node.Line)
	}
	return f.UnmarshalText([]byte(node.Value))
}

func (f Flag) MarshalYAML() (any, error) {
	return bool(f), nil
}

// Size is a byte count that unmarshals from strings like "1MB" or "2048".
type Size int64

func (s *Size) UnmarshalText(text []byte) error {
	n, err := ParseSize(string(text))
	if err != nil {
		return err
	}
	*s = Size(n)
	return nil
}

func (s Size) MarshalText() ([]byte, error) {
	return []byte(FormatSize(int64(s))), nil
}

// Defaults returns the configuration used when nothing overrides it.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            3000,
			ShutdownTimeout: 30 * time.Second,
		},
		Webhook: WebhookConfig{
			SignatureHeader: "X-Webflow-Signature",
			TimestampHeader: "X-Webflow-Timestamp",
			TargetEvent:     "site.publish",
			MaxBodySize:     1 << 20,
			MaxSkew:         5 * time.Minute,
		},
		Runner: RunnerConfig{
			Command:     "npx playwright test --project=chromium --reporter=html,json",
			WorkDir:     ".",
			ReportDir:   "playwright-report",
			ResultsFile: "test-results/results.json",
			Timeout:     30 * time.Minute,
			MaxOutput:   10 << 20,
			Serialize:   true,
		},
		Log: LogConfig{
			Level:  "INFO",
			Format: "json",
		},
	}
}
