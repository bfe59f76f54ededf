// Package config centralizes the engine's tunables: defaults first, then
// CLI flags, then environment variables.
package config

import (
	"flag"
	"os"
	"strconv"
	"time"
)

// ReviewTriggers toggles which triggers may invoke the Reviewer.
type ReviewTriggers struct {
	StopHook    bool // off by default, see SPEC_FULL.md §9 open question (a)
	IdleTimeout bool
}

// Config is the full set of engine tunables.
type Config struct {
	Host string
	Port int

	APIKey string // empty disables auth entirely

	DatabaseURL    string
	PaneToolPath   string // e.g. "tmux"
	ReviewerCLIPath string // e.g. "claude"

	OutputPollInterval time.Duration
	RingBufferCapacity int

	WaitingDebounce   time.Duration
	WaitingClearDelay time.Duration
	IdleThreshold     time.Duration
	ReviewTriggers    ReviewTriggers
	ReviewTimeout     time.Duration
	ContextLowThresholdPercent int

	HandoffExportCommand string
	HandoffImportCommand string
	HandoffPollInterval  time.Duration
	HandoffTimeout       time.Duration
	HandoffExportDelay   time.Duration
	HandoffImportDelay   time.Duration

	FanOutPingInterval     time.Duration
	FanOutConnectionTimeout time.Duration
	FanOutRateLimitMax     int
	FanOutRateLimitWindow  time.Duration
	FanOutReplayLines      int
	FanOutMaxMessageBytes  int64
}

// Default returns the engine's defaults, matching every default named in
// spec.md.
func Default() Config {
	return Config{
		Host: "0.0.0.0",
		Port: 8080,

		DatabaseURL:     "paneforge.db",
		PaneToolPath:    "tmux",
		ReviewerCLIPath: "claude",

		OutputPollInterval: 500 * time.Millisecond,
		RingBufferCapacity: 1000,

		WaitingDebounce:   500 * time.Millisecond,
		WaitingClearDelay: 2000 * time.Millisecond,
		IdleThreshold:     5 * time.Second,
		ReviewTriggers: ReviewTriggers{
			StopHook:    false,
			IdleTimeout: true,
		},
		ReviewTimeout:              30 * time.Second,
		ContextLowThresholdPercent: 20,

		HandoffExportCommand: "/exportHandoff",
		HandoffImportCommand: "/importHandoff",
		HandoffPollInterval:  1 * time.Second,
		HandoffTimeout:       60 * time.Second,
		HandoffExportDelay:   2 * time.Second,
		HandoffImportDelay:   3 * time.Second,

		FanOutPingInterval:      30 * time.Second,
		FanOutConnectionTimeout: 60 * time.Second,
		FanOutRateLimitMax:      100,
		FanOutRateLimitWindow:   10 * time.Second,
		FanOutReplayLines:       100,
		FanOutMaxMessageBytes:   64 * 1024,
	}
}

// Flags registers CLI flags onto fs, pre-populated from cfg, and returns a
// function that must be called after fs.Parse to write the parsed values
// back into cfg.
func Flags(fs *flag.FlagSet, cfg *Config) func() {
	port := fs.Int("port", cfg.Port, "HTTP listen port")
	host := fs.String("host", cfg.Host, "HTTP listen host")
	dbURL := fs.String("db", cfg.DatabaseURL, "SQLite database path")
	paneTool := fs.String("pane-tool", cfg.PaneToolPath, "pane multiplexer binary (tmux)")
	reviewerCLI := fs.String("reviewer-cli", cfg.ReviewerCLIPath, "external reviewer CLI binary")
	apiKey := fs.String("api-key", cfg.APIKey, "shared secret for X-API-Key auth (empty disables auth)")
	return func() {
		cfg.Port = *port
		cfg.Host = *host
		cfg.DatabaseURL = *dbURL
		cfg.PaneToolPath = *paneTool
		cfg.ReviewerCLIPath = *reviewerCLI
		cfg.APIKey = *apiKey
	}
}

// ApplyEnv overlays environment variables onto cfg: PORT, HOST, API_KEY,
// PANE_TOOL_PATH, REVIEWER_CLI_PATH, DATABASE_URL. Env values win over
// whatever was set by flags, since these are deployment-time
// secrets/paths and should override anything baked into a flag default.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Port = p
		}
	}
	if v := os.Getenv("HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("PANE_TOOL_PATH"); v != "" {
		cfg.PaneToolPath = v
	}
	if v := os.Getenv("REVIEWER_CLI_PATH"); v != "" {
		cfg.ReviewerCLIPath = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
}
