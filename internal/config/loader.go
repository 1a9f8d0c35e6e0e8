package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/publishcheck/internal/signature"
)

const redactedSecret = "********"

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load builds the effective configuration. Defaults are overlaid by the
// optional YAML file at path, then by a .env file in the working directory,
// then by the process environment.
func Load(path string) (*Config, error) {
	return load(path, ".env")
}

func load(path, dotenvPath string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if err := mergeFile(&cfg, path); err != nil {
			return nil, err
		}
	}

	if dotenvPath != "" {
		if err := godotenv.Load(dotenvPath); err != nil {
			var pathErr *os.PathError
			if !errors.As(err, &pathErr) {
				return nil, fmt.Errorf("load %s: %w", dotenvPath, err)
			}
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config file not found: %s\nHint: Check the path or run with --config flag", path)
	}
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), cfg); err != nil {
		return fmt.Errorf("failed to parse YAML in %s: %w", path, err)
	}
	return nil
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		return match
	})
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must be positive"))
	}

	if strings.TrimSpace(c.Webhook.SignatureHeader) == "" {
		errs = append(errs, errors.New("webhook.signature_header is required"))
	}
	if strings.TrimSpace(c.Webhook.TimestampHeader) == "" {
		errs = append(errs, errors.New("webhook.timestamp_header is required"))
	}
	if strings.TrimSpace(c.Webhook.TargetEvent) == "" {
		errs = append(errs, errors.New("webhook.target_event is required"))
	}
	if c.Webhook.MaxBodySize <= 0 {
		errs = append(errs, errors.New("webhook.max_body_size must be positive"))
	}
	if c.Webhook.MaxSkew <= 0 {
		errs = append(errs, errors.New("webhook.max_skew must be positive"))
	}
	if _, err := signature.ParseConstructions(c.Webhook.Constructions); err != nil {
		errs = append(errs, fmt.Errorf("webhook.signature_constructions: %w", err))
	}

	if len(strings.Fields(c.Runner.Command)) == 0 {
		errs = append(errs, errors.New("runner.command is required"))
	}
	if strings.TrimSpace(c.Runner.ReportDir) == "" {
		errs = append(errs, errors.New("runner.report_dir is required"))
	}
	if c.Runner.Timeout <= 0 {
		errs = append(errs, errors.New("runner.timeout must be positive"))
	}
	if c.Runner.MaxOutput <= 0 {
		errs = append(errs, errors.New("runner.max_output must be positive"))
	}

	switch strings.ToLower(c.Log.Format) {
	case "json", "console", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or console, got %q", c.Log.Format))
	}
	switch strings.ToUpper(c.Log.Level) {
	case "DEBUG", "INFO", "WARN", "WARNING", "ERROR":
	default:
		errs = append(errs, fmt.Errorf("log.level must be DEBUG, INFO, WARN or ERROR, got %q", c.Log.Level))
	}

	return errors.Join(errs...)
}

// Warnings lists settings that are valid but will make the service reject
// requests at runtime.
func (c *Config) Warnings() []string {
	var out []string
	if c.Webhook.Secret == "" {
		out = append(out, "WEBFLOW_WEBHOOK_SECRET is not set; /api/webhook will answer 500 until it is")
	}
	if c.Server.AllowExternalTrigger {
		out = append(out, "ALLOW_EXTERNAL_TEST_TRIGGER is enabled; anyone who can reach /api/run-tests can start a run")
	}
	return out
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	out := c
	if out.Webhook.Secret != "" {
		out.Webhook.Secret = redactedSecret
	}
	if c.Webhook.Constructions != nil {
		out.Webhook.Constructions = append([]string(nil), c.Webhook.Constructions...)
	}
	return out
}
