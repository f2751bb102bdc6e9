package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Traversal strategies for the exploration queue.
const (
	StrategySystematic = "systematic"
	StrategyAdaptive   = "adaptive"
)

// Traversal modes controlling how aggressive the queue builder is.
const (
	ModeStandard = "standard"
	ModeQuick    = "quick" // navigation controls only
	ModeDeep     = "deep"  // exhaustive, bounds-validity filtering only
)

// Config captures all tunable settings for the ScreenScout explorer.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Explorer  ExplorerConfig  `yaml:"explorer"`
	Device    DeviceConfig    `yaml:"device"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
	Audit     AuditConfig     `yaml:"audit"`
	MCP       MCPConfig       `yaml:"mcp"`
}

type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	LogFile string `yaml:"log_file"`
}

// ExplorerConfig tunes the exploration control loop. All thresholds the
// heuristics depend on live here rather than as magic numbers in the code.
type ExplorerConfig struct {
	// Strategy: systematic (reading order) or adaptive (scored).
	Strategy string `yaml:"strategy"`
	// Mode: standard, quick, or deep.
	Mode string `yaml:"mode"`
	// MaxVisitsPerScreen before a screen is declared over-visited (default 5).
	MaxVisitsPerScreen int `yaml:"max_visits_per_screen"`
	// MaxStackDepth bounds the navigation history (default 50).
	MaxStackDepth int `yaml:"max_stack_depth"`
	// AttemptsPerStrategy before recovery escalates (default 2).
	AttemptsPerStrategy int `yaml:"attempts_per_strategy"`
	// VetoWindow is how long an intended action is held for cancellation,
	// e.g. "1500ms". Empty or "0s" disables the window.
	VetoWindow string `yaml:"veto_window"`
	// BotTapWindow is the claim-matching window for click disambiguation (default "800ms").
	BotTapWindow string `yaml:"bot_tap_window"`
	// BotTapRadius is the claim-matching distance in px (default 100).
	BotTapRadius int `yaml:"bot_tap_radius"`
	// ResumeInactivity is how long the loop stays yielded after the last
	// user click before signalling readiness (default "3s").
	ResumeInactivity string `yaml:"resume_inactivity"`
	// RecoveryCooldown is the pause between recovery attempts (default "1s").
	RecoveryCooldown string `yaml:"recovery_cooldown"`
	// MinTouchTarget is the smallest tappable square in logical units (default 20).
	MinTouchTarget int `yaml:"min_touch_target"`
	// EdgeGestureBand is the width of the side bands avoided in the lower
	// half of the screen (default 24).
	EdgeGestureBand int `yaml:"edge_gesture_band"`
	// MetaKeywordThreshold marks a screen low-value (default 5).
	MetaKeywordThreshold int `yaml:"meta_keyword_threshold"`
	// LoginKeywordThreshold marks a screen as a login surface (default 2).
	LoginKeywordThreshold int `yaml:"login_keyword_threshold"`
	// LowValueMaxClickables caps how content-rich a screen may be and still
	// be skipped as low-value (default 10).
	LowValueMaxClickables int `yaml:"low_value_max_clickables"`
	// DeepPriorityBoost is added to adaptive priorities in deep mode (default 10).
	DeepPriorityBoost int `yaml:"deep_priority_boost"`
	// UserActionHistory bounds the recorded user demonstrations (default 50).
	UserActionHistory int `yaml:"user_action_history"`
	// SystemPrefixes lists resource-id prefixes owned by the system shell.
	SystemPrefixes []string `yaml:"system_prefixes"`
}

// DeviceConfig configures the go-rod device adapter and screen geometry.
type DeviceConfig struct {
	// Control endpoint for Rod (e.g., ws://localhost:9222). Required when launch is empty.
	DebuggerURL string `yaml:"debugger_url"`
	// Optional launch command to start Chrome in detached mode.
	Launch []string `yaml:"launch"`
	// StartURL is the entry surface of the app under exploration; also the
	// restart target for app-restart recovery.
	StartURL string `yaml:"start_url"`
	// Headless controls whether Chrome runs headless (default: true).
	Headless *bool `yaml:"headless"`
	// NavigationTimeout, e.g. "15s".
	NavigationTimeout string `yaml:"navigation_timeout"`
	ViewportWidth     int    `yaml:"viewport_width"`
	ViewportHeight    int    `yaml:"viewport_height"`
	// StatusBarHeight and NavBarHeight reserve the top and bottom bands.
	StatusBarHeight int `yaml:"status_bar_height"`
	NavBarHeight    int `yaml:"nav_bar_height"`
}

// KnowledgeConfig controls the embedded deductive engine.
type KnowledgeConfig struct {
	Enable          bool   `yaml:"enable"`
	SchemaPath      string `yaml:"schema_path"`
	FactBufferLimit int    `yaml:"fact_buffer_limit"`
}

// AuditConfig controls the trace recorder and in-memory audit history.
type AuditConfig struct {
	TraceDir    string `yaml:"trace_dir"`
	HistorySize int    `yaml:"history_size"`
}

type MCPConfig struct {
	// When set, starts an SSE server on this port instead of stdio-only.
	SSEPort int `yaml:"sse_port"`
}

// DefaultConfig provides reasonable defaults for local development.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Name:    "screenscout",
			Version: "0.1.0",
			LogFile: "screenscout.log",
		},
		Explorer: ExplorerConfig{
			Strategy:              StrategySystematic,
			Mode:                  ModeStandard,
			MaxVisitsPerScreen:    5,
			MaxStackDepth:         50,
			AttemptsPerStrategy:   2,
			VetoWindow:            "0s",
			BotTapWindow:          "800ms",
			BotTapRadius:          100,
			ResumeInactivity:      "3s",
			RecoveryCooldown:      "1s",
			MinTouchTarget:        20,
			EdgeGestureBand:       24,
			MetaKeywordThreshold:  5,
			LoginKeywordThreshold: 2,
			LowValueMaxClickables: 10,
			DeepPriorityBoost:     10,
			UserActionHistory:     50,
			SystemPrefixes: []string{
				"com.android.systemui",
				"com.google.android.inputmethod",
				"android:id/",
			},
		},
		Device: DeviceConfig{
			NavigationTimeout: "15s",
			ViewportWidth:     1080,
			ViewportHeight:    1920,
			StatusBarHeight:   63,
			NavBarHeight:      126,
		},
		Knowledge: KnowledgeConfig{
			Enable:          true,
			SchemaPath:      "",
			FactBufferLimit: 4096,
		},
		Audit: AuditConfig{
			TraceDir:    "data/traces",
			HistorySize: 200,
		},
		MCP: MCPConfig{
			SSEPort: 0,
		},
	}
}

// Load reads YAML config from disk and overlays defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, errors.New("config path is required")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

// Validate ensures required fields exist so a session can start deterministically.
func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return errors.New("server.name is required")
	}
	switch c.Explorer.Strategy {
	case StrategySystematic, StrategyAdaptive:
	default:
		return fmt.Errorf("explorer.strategy must be %q or %q", StrategySystematic, StrategyAdaptive)
	}
	switch c.Explorer.Mode {
	case ModeStandard, ModeQuick, ModeDeep:
	default:
		return fmt.Errorf("explorer.mode must be one of %q, %q, %q", ModeStandard, ModeQuick, ModeDeep)
	}
	if c.Explorer.MaxVisitsPerScreen <= 0 {
		return errors.New("explorer.max_visits_per_screen must be positive")
	}
	if c.Explorer.MaxStackDepth <= 1 {
		return errors.New("explorer.max_stack_depth must be greater than 1")
	}
	return nil
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// VetoWindowDuration returns the parsed veto window; zero disables it.
func (e ExplorerConfig) VetoWindowDuration() time.Duration {
	return parseDurationOr(e.VetoWindow, 0)
}

// BotTapWindowDuration returns the claim-matching window with a sane default.
func (e ExplorerConfig) BotTapWindowDuration() time.Duration {
	return parseDurationOr(e.BotTapWindow, 800*time.Millisecond)
}

// ResumeInactivityDuration returns the takeover resume window with a sane default.
func (e ExplorerConfig) ResumeInactivityDuration() time.Duration {
	return parseDurationOr(e.ResumeInactivity, 3*time.Second)
}

// RecoveryCooldownDuration returns the pause between recovery attempts.
func (e ExplorerConfig) RecoveryCooldownDuration() time.Duration {
	return parseDurationOr(e.RecoveryCooldown, time.Second)
}

// NavTimeout returns the parsed navigation timeout with a sane default.
func (d DeviceConfig) NavTimeout() time.Duration {
	return parseDurationOr(d.NavigationTimeout, 15*time.Second)
}

// IsHeadless returns whether Chrome should run in headless mode (default: true).
func (d DeviceConfig) IsHeadless() bool {
	if d.Headless == nil {
		return true
	}
	return *d.Headless
}

// GetViewportWidth returns the viewport width with a sane default.
func (d DeviceConfig) GetViewportWidth() int {
	if d.ViewportWidth <= 0 {
		return 1080
	}
	return d.ViewportWidth
}

// GetViewportHeight returns the viewport height with a sane default.
func (d DeviceConfig) GetViewportHeight() int {
	if d.ViewportHeight <= 0 {
		return 1920
	}
	return d.ViewportHeight
}
