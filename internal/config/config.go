// Package config provides configuration management for ditreport.
// Configuration is loaded from environment variables with sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	// Default values
	DefaultPort     = 8788
	DefaultLogLevel = "info"
	DefaultDataDir  = ".ditreport"

	// Environment variable names
	EnvPort     = "DITREPORT_PORT"
	EnvLogLevel = "DITREPORT_LOG_LEVEL"
	EnvDataDir  = "DITREPORT_DATA_DIR"

	// Session bridge environment variable names
	EnvBridgePython  = "DITREPORT_BRIDGE_PYTHON"
	EnvBridgeModule  = "DITREPORT_BRIDGE_MODULE"
	EnvBridgeTimeout = "DITREPORT_BRIDGE_TIMEOUT_MS"

	// Capture environment variable names
	EnvCapturePoll    = "DITREPORT_CAPTURE_POLL_MS"
	EnvCaptureMaxWait = "DITREPORT_CAPTURE_MAX_WAIT_MS"
	EnvCaptureRetries = "DITREPORT_CAPTURE_RETRIES"
	EnvCaptureBackoff = "DITREPORT_CAPTURE_BACKOFF_MS"

	// Report environment variable names
	EnvThumbnailRule = "DITREPORT_THUMBNAIL_RULE"
	EnvFooterText    = "DITREPORT_FOOTER"
	EnvFontPath      = "DITREPORT_FONT_PATH"
	EnvOperator      = "DITREPORT_OPERATOR"

	// Database filename
	DBFilename = "ditreport.db"

	// Bridge defaults
	DefaultBridgeModule        = "ditreport_bridge"
	DefaultBridgeTimeoutMillis = 10000

	// Capture defaults
	DefaultCapturePollMillis    = 50
	DefaultCaptureMaxWaitMillis = 2000
	DefaultCaptureRetries       = 3

	DefaultThumbnailRule = "middle"
	DefaultFooterText    = "Generated by ditreport"
)

// DefaultCaptureBackoff is the per-attempt sleep sequence between export retries.
var DefaultCaptureBackoff = []time.Duration{
	250 * time.Millisecond,
	500 * time.Millisecond,
	800 * time.Millisecond,
}

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	ScratchDir() string
	BridgePython() string
	BridgeModule() string
	BridgeTimeout() time.Duration
	CapturePollInterval() time.Duration
	CaptureMaxWait() time.Duration
	CaptureRetries() int
	CaptureBackoff() []time.Duration
	ThumbnailRule() string
	FooterText() string
	FontPath() string
	Operator() string
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	port     int
	logLevel string
	dataDir  string

	bridgePython  string
	bridgeModule  string
	bridgeTimeout time.Duration

	capturePoll    time.Duration
	captureMaxWait time.Duration
	captureRetries int
	captureBackoff []time.Duration

	thumbnailRule string
	footerText    string
	fontPath      string
	operator      string
}

// New creates a new EnvConfig with defaults and environment variable overrides
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:           DefaultPort,
		logLevel:       DefaultLogLevel,
		dataDir:        defaultDataDir(),
		bridgeTimeout:  DefaultBridgeTimeoutMillis * time.Millisecond,
		capturePoll:    DefaultCapturePollMillis * time.Millisecond,
		captureMaxWait: DefaultCaptureMaxWaitMillis * time.Millisecond,
		captureRetries: DefaultCaptureRetries,
		captureBackoff: append([]time.Duration(nil), DefaultCaptureBackoff...),
		thumbnailRule:  DefaultThumbnailRule,
		footerText:     DefaultFooterText,
	}

	// Override port from environment
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
		}
		cfg.port = port
	}

	if ll := os.Getenv(EnvLogLevel); ll != "" {
		cfg.logLevel = ll
	}

	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = dd
	}

	cfg.bridgePython = os.Getenv(EnvBridgePython)
	if bm := os.Getenv(EnvBridgeModule); bm != "" {
		cfg.bridgeModule = bm
	}

	var err error
	if cfg.bridgeTimeout, err = envMillis(EnvBridgeTimeout, cfg.bridgeTimeout); err != nil {
		return nil, err
	}
	if cfg.capturePoll, err = envMillis(EnvCapturePoll, cfg.capturePoll); err != nil {
		return nil, err
	}
	if cfg.captureMaxWait, err = envMillis(EnvCaptureMaxWait, cfg.captureMaxWait); err != nil {
		return nil, err
	}

	if r := os.Getenv(EnvCaptureRetries); r != "" {
		n, err := strconv.Atoi(r)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid %s: must be a positive integer", EnvCaptureRetries)
		}
		cfg.captureRetries = n
	}

	if b := os.Getenv(EnvCaptureBackoff); b != "" {
		backoff, err := ParseBackoff(b)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvCaptureBackoff, err)
		}
		cfg.captureBackoff = backoff
	}

	if rule := os.Getenv(EnvThumbnailRule); rule != "" {
		switch rule {
		case "first", "middle", "last":
			cfg.thumbnailRule = rule
		default:
			return nil, fmt.Errorf("invalid %s: must be first, middle or last", EnvThumbnailRule)
		}
	}

	if ft := os.Getenv(EnvFooterText); ft != "" {
		cfg.footerText = ft
	}
	cfg.fontPath = os.Getenv(EnvFontPath)
	cfg.operator = os.Getenv(EnvOperator)

	return cfg, nil
}

// ParseBackoff parses a comma-separated list of millisecond values.
func ParseBackoff(s string) ([]time.Duration, error) {
	var out []time.Duration
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		ms, err := strconv.Atoi(part)
		if err != nil || ms < 0 {
			return nil, fmt.Errorf("bad interval %q", part)
		}
		out = append(out, time.Duration(ms)*time.Millisecond)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no intervals")
	}
	return out, nil
}

func envMillis(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms < 0 {
		return 0, fmt.Errorf("invalid %s: must be a non-negative number of milliseconds", key)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// ScratchDir returns the directory for temporary frame captures
func (c *EnvConfig) ScratchDir() string {
	return filepath.Join(c.dataDir, "scratch")
}

func (c *EnvConfig) BridgePython() string {
	return c.bridgePython
}

func (c *EnvConfig) BridgeModule() string {
	if c.bridgeModule != "" {
		return c.bridgeModule
	}
	return DefaultBridgeModule
}

func (c *EnvConfig) BridgeTimeout() time.Duration {
	return c.bridgeTimeout
}

func (c *EnvConfig) CapturePollInterval() time.Duration {
	return c.capturePoll
}

func (c *EnvConfig) CaptureMaxWait() time.Duration {
	return c.captureMaxWait
}

func (c *EnvConfig) CaptureRetries() int {
	return c.captureRetries
}

func (c *EnvConfig) CaptureBackoff() []time.Duration {
	return append([]time.Duration(nil), c.captureBackoff...)
}

func (c *EnvConfig) ThumbnailRule() string {
	return c.thumbnailRule
}

func (c *EnvConfig) FooterText() string {
	return c.footerText
}

// FontPath returns an optional UTF-8 TTF used for PDF text
func (c *EnvConfig) FontPath() string {
	return c.fontPath
}

// Operator returns the default operator name printed on cover pages
func (c *EnvConfig) Operator() string {
	return c.operator
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
