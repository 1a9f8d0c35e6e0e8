package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/debug"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/publishcheck/internal/api"
	"github.com/mattjoyce/publishcheck/internal/config"
	"github.com/mattjoyce/publishcheck/internal/events"
	"github.com/mattjoyce/publishcheck/internal/job"
	"github.com/mattjoyce/publishcheck/internal/lock"
	"github.com/mattjoyce/publishcheck/internal/log"
	"github.com/mattjoyce/publishcheck/internal/runner"
	"github.com/mattjoyce/publishcheck/internal/signature"
	"github.com/mattjoyce/publishcheck/internal/webhook"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// eventBufferSize is how many lifecycle events late SSE clients can replay.
const eventBufferSize = 256

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage(os.Stderr)
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	case "serve", "start":
		if hasHelpFlag(args) {
			printServeHelp()
			return 0
		}
		return runServe(args)
	case "sign":
		if hasHelpFlag(args) {
			printSignHelp()
			return 0
		}
		return runSign(args)
	case "config":
		return runConfigNoun(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage(os.Stderr)
		return 1
	}
}

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to YAML configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Log.Level, cfg.Log.Format)
	logger := log.WithComponent("main")
	logger.Info("publishcheck starting", "version", version, "config", *configPath)
	for _, w := range cfg.Warnings() {
		logger.Warn(w)
	}
	if err := checkLockFilesystem(cfg.Runner); err != nil {
		logger.Warn("report directory lock may not exclude other hosts", "error", err)
	}

	// Already validated by Load.
	constructions, _ := signature.ParseConstructions(cfg.Webhook.Constructions)
	verifier := signature.NewVerifier(cfg.Webhook.MaxSkew, constructions)

	store := job.NewStore()
	hub := events.NewHub(eventBufferSize)
	run := runner.New(cfg.Runner, store, hub, log.WithComponent("runner"))
	hook := webhook.New(webhook.ConfigFrom(cfg.Webhook), verifier, store, run, hub, log.WithComponent("webhook"))

	srv := api.New(api.Config{
		Listen:               cfg.Server.Addr(),
		MaxBodySize:          int64(cfg.Webhook.MaxBodySize),
		ShutdownTimeout:      cfg.Server.ShutdownTimeout,
		AllowExternalTrigger: bool(cfg.Server.AllowExternalTrigger),
		SecretConfigured:     cfg.Webhook.Secret != "",
		Version:              version,
	}, store, hook, run, hub, log.WithComponent("api"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(gctx); err != nil {
			return fmt.Errorf("api: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down test runner", "timeout", cfg.Server.ShutdownTimeout.String())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := run.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("runner: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("publishcheck stopped with error", "error", err)
		return 1
	}
	logger.Info("publishcheck stopped")
	return 0
}

func runSign(args []string) int {
	fs := flag.NewFlagSet("sign", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to YAML configuration file")
	bodyFile := fs.String("body-file", "", "File containing the exact request body (- for stdin)")
	timestamp := fs.String("timestamp", "", "Timestamp to sign (defaults to now for timestamped constructions)")
	construction := fs.String("construction", "", "Signature construction (default: body, or ts.body with --timestamp)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if *bodyFile == "" {
		fmt.Fprintln(os.Stderr, "Usage: publishcheck sign --body-file FILE [--timestamp TS] [--construction NAME]")
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if cfg.Webhook.Secret == "" {
		fmt.Fprintln(os.Stderr, "WEBFLOW_WEBHOOK_SECRET is not set")
		return 1
	}

	body, err := readBody(*bodyFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read body: %v\n", err)
		return 1
	}

	name := strings.TrimSpace(*construction)
	if name == "" {
		name = string(signature.BodyOnly)
		if *timestamp != "" {
			name = string(signature.DotSeparated)
		}
	}
	parsed, err := signature.ParseConstructions([]string{name})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid construction: %v\n", err)
		return 1
	}
	c := parsed[0]

	ts := strings.TrimSpace(*timestamp)
	if c != signature.BodyOnly && ts == "" {
		ts = strconv.FormatInt(time.Now().Unix(), 10)
	}

	fmt.Printf("%s: %s\n", cfg.Webhook.SignatureHeader, signature.Sign(cfg.Webhook.Secret, body, ts, c))
	if c != signature.BodyOnly {
		fmt.Printf("%s: %s\n", cfg.Webhook.TimestampHeader, ts)
	}
	return 0
}

// checkLockFilesystem is a no-op unless runs are serialized.
func checkLockFilesystem(rc config.RunnerConfig) error {
	if !rc.Serialize {
		return nil
	}
	return lock.CheckHostLocal(rc.Resolve(rc.LockPath()))
}

func readBody(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to YAML configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Configuration invalid:")
		var joined interface{ Unwrap() []error }
		if errors.As(err, &joined) {
			for _, e := range joined.Unwrap() {
				fmt.Fprintf(os.Stderr, "  - %v\n", e)
			}
		} else {
			fmt.Fprintf(os.Stderr, "  - %v\n", err)
		}
		return 1
	}

	for _, w := range cfg.Warnings() {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", w)
	}
	if err := checkLockFilesystem(cfg.Runner); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	out, err := yaml.Marshal(cfg.Redacted())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render config: %v\n", err)
		return 1
	}
	fmt.Println("Configuration valid.")
	fmt.Print(string(out))
	return 0
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: publishcheck version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("publishcheck %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if commit != "" {
		info.Commit = shortenCommit(commit)
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if t, err := time.Parse(time.RFC3339Nano, built); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}
	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `publishcheck - run the end-to-end test suite when a Webflow site is published

Usage:
  publishcheck <command> [flags]

Commands:
  serve         Start the webhook service in foreground (alias: start)
  sign          Sign a request body with the configured webhook secret
  config check  Validate configuration and print the effective settings
  version       Show version information
  help          Show this help message

Configuration is read from the optional --config YAML file, then .env,
then the environment (WEBFLOW_WEBHOOK_SECRET, PORT, RUNNER_COMMAND, ...).
`)
}

func printServeHelp() {
	fmt.Println("Usage: publishcheck serve [--config PATH]")
	fmt.Println("Runs the HTTP service until SIGINT or SIGTERM, then waits for running tests.")
}

func printSignHelp() {
	fmt.Println("Usage: publishcheck sign --body-file FILE [--timestamp TS] [--construction NAME] [--config PATH]")
	fmt.Println("Prints the signature headers for replaying a webhook with curl.")
	fmt.Println("Constructions: body, ts.body, tsbody, ts:body, ts-lf-body, ts-crlf-body")
}

func printConfigNounHelp(w io.Writer) {
	fmt.Fprintln(w, "Usage: publishcheck config <action>")
	fmt.Fprintln(w, "Actions: check")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: publishcheck config check [--config PATH]")
	fmt.Println("Validates configuration and prints it with the secret redacted.")
}
