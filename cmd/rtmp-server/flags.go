package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alxayo/rtmp-relay/internal/config"
	"github.com/alxayo/rtmp-relay/internal/rtmp/server/hooks"
)

// version is injected at build time with -ldflags "-X main.version=...". Defaults to dev.
var version = "dev"

// cliConfig holds the fully merged configuration: YAML file values overlaid
// with any flags the operator explicitly set on the command line.
type cliConfig struct {
	listenAddr        string
	logLevel          string
	recordAll         bool
	recordDir         string
	chunkSize         uint
	configPath        string
	statusAddr        string
	relayDestinations []string
	hookScripts       []string
	hookWebhooks      []string
	hookStdioFormat   string
	hookTimeout       string
	hookConcurrency   int
}

// newRootCmd builds the rtmp-server cobra command tree. run is invoked with
// the fully merged configuration once flags are parsed and validated.
func newRootCmd(run func(*cliConfig) error) *cobra.Command {
	cfg := &cliConfig{}
	var relayDests []string
	var hookScripts []string
	var hookWebhooks []string

	root := &cobra.Command{
		Use:   "rtmp-server [config.yaml]",
		Short: "RTMP relay server: ingest, fan-out, and push-relay for live streams",
		Example: "  rtmp-server /etc/rtmp-relay/config.yaml\n" +
			"  rtmp-server --config /etc/rtmp-relay/config.yaml\n" +
			"  rtmp-server --listen :1935 --relay-to rtmp://backup.example.com/live/copy",
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// A positional config path is used when --config is not given.
			if len(args) == 1 && cfg.configPath == "" {
				cfg.configPath = args[0]
			}
			file, err := config.Load(cfg.configPath)
			if err != nil {
				return err
			}
			mergeFileDefaults(cfg, file)
			cfg.relayDestinations = mergeStringSlices(relayDests, file.Relay.Destinations)
			cfg.hookScripts = mergeStringSlices(hookScripts, file.Hooks.Scripts)
			cfg.hookWebhooks = mergeStringSlices(hookWebhooks, file.Hooks.Webhooks)

			if err := validateConfig(cfg); err != nil {
				return err
			}
			return run(cfg)
		},
	}

	flags := root.Flags()
	flags.StringVar(&cfg.configPath, "config", "", "Path to a YAML config file (flags override file values)")
	flags.StringVar(&cfg.listenAddr, "listen", ":1935", "TCP listen address (e.g. :1935 or 0.0.0.0:1935)")
	flags.StringVar(&cfg.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	flags.BoolVar(&cfg.recordAll, "record-all", false, "Enable recording of all streams to --record-dir")
	flags.StringVar(&cfg.recordDir, "record-dir", "recordings", "Directory to write FLV recordings")
	flags.UintVar(&cfg.chunkSize, "chunk-size", 4096, "Initial outbound chunk size")
	flags.StringVar(&cfg.statusAddr, "status-addr", "", "Address for the /healthz and /metrics HTTP endpoint (empty disables it)")
	flags.StringSliceVar(&relayDests, "relay-to", nil, "RTMP destination URL to push-relay every published stream to (repeatable)")
	flags.StringSliceVar(&hookScripts, "hook-script", nil, "Hook script in format event_type=script_path (repeatable)")
	flags.StringSliceVar(&hookWebhooks, "hook-webhook", nil, "Hook webhook in format event_type=webhook_url (repeatable)")
	flags.StringVar(&cfg.hookStdioFormat, "hook-stdio-format", "", "Enable structured stdio output: json|env (empty=disabled)")
	flags.StringVar(&cfg.hookTimeout, "hook-timeout", "30s", "Timeout for hook execution")
	flags.IntVar(&cfg.hookConcurrency, "hook-concurrency", 10, "Maximum concurrent hook executions")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the rtmp-server version and exit",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	})

	return root
}

// mergeFileDefaults applies config-file values to any field still equal to
// its flag default (e.g. ":1935", "info", 4096), so explicit CLI flags win
// unless they were set to the default value itself.
func mergeFileDefaults(cfg *cliConfig, file *config.File) {
	if file.Listen != "" && cfg.listenAddr == ":1935" {
		cfg.listenAddr = file.Listen
	}
	if file.LogLevel != "" && cfg.logLevel == "info" {
		cfg.logLevel = file.LogLevel
	}
	if file.ChunkSize != 0 && cfg.chunkSize == 4096 {
		cfg.chunkSize = file.ChunkSize
	}
	if file.Recording.All {
		cfg.recordAll = true
	}
	if file.Recording.Dir != "" && cfg.recordDir == "recordings" {
		cfg.recordDir = file.Recording.Dir
	}
	if file.Status.Enabled && cfg.statusAddr == "" {
		cfg.statusAddr = file.Status.Listen
	}
	if file.Hooks.StdioFormat != "" && cfg.hookStdioFormat == "" {
		cfg.hookStdioFormat = file.Hooks.StdioFormat
	}
	if file.Hooks.Timeout != "" && cfg.hookTimeout == "30s" {
		cfg.hookTimeout = file.Hooks.Timeout
	}
	if file.Hooks.Concurrency != 0 && cfg.hookConcurrency == 10 {
		cfg.hookConcurrency = file.Hooks.Concurrency
	}
}

// mergeStringSlices prefers flag-supplied values over file-supplied ones
// rather than concatenating, so a flag fully overrides the file's list.
func mergeStringSlices(flagValues, fileValues []string) []string {
	if len(flagValues) > 0 {
		return flagValues
	}
	return fileValues
}

func validateConfig(cfg *cliConfig) error {
	if cfg.chunkSize == 0 || cfg.chunkSize > 65536 {
		return fmt.Errorf("chunk-size must be between 1 and 65536")
	}

	switch cfg.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level %q", cfg.logLevel)
	}

	if err := validateHookConfig(cfg); err != nil {
		return err
	}

	for _, dest := range cfg.relayDestinations {
		if err := validateRelayDestination(dest); err != nil {
			return fmt.Errorf("invalid relay destination %q: %w", dest, err)
		}
	}

	return nil
}

// validateRelayDestination validates an RTMP URL
func validateRelayDestination(rawURL string) error {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if parsedURL.Scheme != "rtmp" {
		return fmt.Errorf("URL must use rtmp:// scheme, got %s", parsedURL.Scheme)
	}

	if parsedURL.Host == "" {
		return fmt.Errorf("URL must have a host")
	}

	return nil
}

// validateHookConfig validates hook configuration settings
func validateHookConfig(cfg *cliConfig) error {
	if cfg.hookStdioFormat != "" && cfg.hookStdioFormat != "json" && cfg.hookStdioFormat != "env" {
		return fmt.Errorf("invalid hook-stdio-format %q, must be 'json' or 'env'", cfg.hookStdioFormat)
	}

	if cfg.hookTimeout != "" {
		if _, err := parseTimeDuration(cfg.hookTimeout); err != nil {
			return fmt.Errorf("invalid hook-timeout %q: %w", cfg.hookTimeout, err)
		}
	}

	if cfg.hookConcurrency < 1 || cfg.hookConcurrency > 100 {
		return fmt.Errorf("hook-concurrency must be between 1 and 100, got %d", cfg.hookConcurrency)
	}

	for _, script := range cfg.hookScripts {
		if err := validateHookAssignment("hook-script", script); err != nil {
			return err
		}
	}

	for _, webhook := range cfg.hookWebhooks {
		if err := validateHookAssignment("hook-webhook", webhook); err != nil {
			return err
		}
	}

	return nil
}

// parseTimeDuration checks that s has at least two characters and ends in
// "s", "m" or "h", and returns s unchanged; the numeric part is not parsed.
func parseTimeDuration(s string) (string, error) {
	if len(s) < 2 {
		return "", fmt.Errorf("duration too short")
	}

	suffix := s[len(s)-1:]
	if suffix != "s" && suffix != "m" && suffix != "h" {
		return "", fmt.Errorf("duration must end with s, m, or h")
	}

	return s, nil
}

// validateHookAssignment validates event_type=value format
func validateHookAssignment(flagName, assignment string) error {
	parts := strings.SplitN(assignment, "=", 2)
	if len(parts) != 2 {
		return fmt.Errorf("invalid %s format %q, expected event_type=value", flagName, assignment)
	}

	eventType, value := parts[0], parts[1]

	if eventType == "" {
		return fmt.Errorf("invalid %s: event type cannot be empty", flagName)
	}

	if value == "" {
		return fmt.Errorf("invalid %s: value cannot be empty", flagName)
	}

	if !hooks.IsValidEventType(hooks.EventType(eventType)) {
		return fmt.Errorf("invalid %s: unknown event type %q", flagName, eventType)
	}

	return nil
}
