// Package config provides configuration management for footgas.
// Defaults are overlaid by an optional TOML file and then by environment
// variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/halworsen/footgas/internal/export"
)

const (
	// Default values
	DefaultPort     = 8787
	DefaultLogLevel = "info"
	DefaultDataDir  = ".footgas"

	DefaultMaxSizeMB      = 8.0
	DefaultResolution     = "1280x720"
	DefaultFPS            = 30
	DefaultAudioKbps      = 128
	DefaultWebhookTimeout = 10 // seconds

	// Environment variable names
	EnvConfigFile   = "FOOTGAS_CONFIG"
	EnvPort         = "FOOTGAS_PORT"
	EnvLogLevel     = "FOOTGAS_LOG_LEVEL"
	EnvDataDir      = "FOOTGAS_DATA_DIR"
	EnvFFmpeg       = "FOOTGAS_FFMPEG"
	EnvFFprobe      = "FOOTGAS_FFPROBE"
	EnvHeadless     = "FOOTGAS_HEADLESS"
	EnvWorkDir      = "FOOTGAS_WORK_DIR"
	EnvMaxPasses    = "FOOTGAS_MAX_PASSES"
	EnvWebhookURL   = "FOOTGAS_WEBHOOK_URL"
	EnvWebhookToken = "FOOTGAS_WEBHOOK_TOKEN"

	// File names inside the data directory
	DBFilename     = "footgas.db"
	LockFilename   = "footgas.lock"
	ConfigFilename = "config.toml"
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	LockPath() string
	ConfigPath() string
	Headless() bool
	FFmpegPath() string
	FFprobePath() string
	WorkDir() string
	MaxPasses() int
	DurationSource() export.DurationSource
	ExportDefaults() ExportDefaults
	WebhookURL() string
	WebhookToken() string
	WebhookTimeout() time.Duration
}

// ExportDefaults fill in request fields a caller leaves out.
type ExportDefaults struct {
	MaxSizeMB  float64
	Resolution export.Resolution
	FPS        int
	AudioKbps  int
}

// fileConfig mirrors the TOML file layout.
type fileConfig struct {
	Server struct {
		Port     int  `toml:"port"`
		Headless bool `toml:"headless"`
	} `toml:"server"`
	Tools struct {
		FFmpeg  string `toml:"ffmpeg"`
		FFprobe string `toml:"ffprobe"`
	} `toml:"tools"`
	Export struct {
		MaxSizeMB      float64 `toml:"max_size_mb"`
		Resolution     string  `toml:"resolution"`
		FPS            int     `toml:"fps"`
		AudioKbps      *int    `toml:"audio_kbps"`
		MaxPasses      int     `toml:"max_passes"`
		DurationSource string  `toml:"duration_source"`
		WorkDir        string  `toml:"work_dir"`
	} `toml:"export"`
	Notify struct {
		WebhookURL     string `toml:"webhook_url"`
		WebhookToken   string `toml:"webhook_token"`
		TimeoutSeconds int    `toml:"timeout_seconds"`
	} `toml:"notify"`
}

// EnvConfig is the resolved configuration
type EnvConfig struct {
	port       int
	logLevel   string
	dataDir    string
	configPath string
	headless   bool

	ffmpegPath  string
	ffprobePath string
	workDir     string

	maxPasses      int
	durationSource export.DurationSource
	defaults       ExportDefaults

	webhookURL     string
	webhookToken   string
	webhookTimeout time.Duration
}

// New creates a new EnvConfig with defaults, the config file and
// environment variable overrides applied in that order
func New() (*EnvConfig, error) {
	res, _ := export.ParseResolution(DefaultResolution)
	cfg := &EnvConfig{
		port:           DefaultPort,
		logLevel:       DefaultLogLevel,
		dataDir:        defaultDataDir(),
		maxPasses:      export.DefaultMaxPasses,
		durationSource: export.DurationArithmetic,
		defaults: ExportDefaults{
			MaxSizeMB:  DefaultMaxSizeMB,
			Resolution: res,
			FPS:        DefaultFPS,
			AudioKbps:  DefaultAudioKbps,
		},
		webhookTimeout: DefaultWebhookTimeout * time.Second,
	}

	// The data directory decides where the config file lives, so it is
	// read from the environment first.
	if dd := os.Getenv(EnvDataDir); dd != "" {
		expanded, err := expandPath(dd)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvDataDir, err)
		}
		cfg.dataDir = expanded
	}

	cfg.configPath = filepath.Join(cfg.dataDir, ConfigFilename)
	if p := os.Getenv(EnvConfigFile); p != "" {
		expanded, err := expandPath(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvConfigFile, err)
		}
		cfg.configPath = expanded
	}

	if err := cfg.loadFile(); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *EnvConfig) loadFile() error {
	file, err := os.Open(c.configPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var fc fileConfig
	if err := toml.NewDecoder(file).DisallowUnknownFields().Decode(&fc); err != nil {
		return fmt.Errorf("parse config %s: %w", c.configPath, err)
	}

	if fc.Server.Port != 0 {
		c.port = fc.Server.Port
	}
	c.headless = fc.Server.Headless
	c.ffmpegPath = fc.Tools.FFmpeg
	c.ffprobePath = fc.Tools.FFprobe

	if fc.Export.MaxSizeMB != 0 {
		c.defaults.MaxSizeMB = fc.Export.MaxSizeMB
	}
	if fc.Export.Resolution != "" {
		res, err := export.ParseResolution(fc.Export.Resolution)
		if err != nil {
			return fmt.Errorf("invalid export.resolution: %w", err)
		}
		c.defaults.Resolution = res
	}
	if fc.Export.FPS != 0 {
		c.defaults.FPS = fc.Export.FPS
	}
	if fc.Export.AudioKbps != nil {
		c.defaults.AudioKbps = *fc.Export.AudioKbps
	}
	if fc.Export.MaxPasses != 0 {
		c.maxPasses = fc.Export.MaxPasses
	}
	if fc.Export.DurationSource != "" {
		src, ok := export.ParseDurationSource(fc.Export.DurationSource)
		if !ok {
			return fmt.Errorf("invalid export.duration_source %q: want arithmetic or probe", fc.Export.DurationSource)
		}
		c.durationSource = src
	}
	if fc.Export.WorkDir != "" {
		dir, err := expandPath(fc.Export.WorkDir)
		if err != nil {
			return fmt.Errorf("invalid export.work_dir: %w", err)
		}
		c.workDir = dir
	}

	c.webhookURL = fc.Notify.WebhookURL
	c.webhookToken = fc.Notify.WebhookToken
	if fc.Notify.TimeoutSeconds != 0 {
		c.webhookTimeout = time.Duration(fc.Notify.TimeoutSeconds) * time.Second
	}
	return nil
}

func (c *EnvConfig) applyEnv() error {
	// Override port from environment
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		c.port = port
	}

	if ll := os.Getenv(EnvLogLevel); ll != "" {
		c.logLevel = ll
	}
	if v := os.Getenv(EnvFFmpeg); v != "" {
		c.ffmpegPath = v
	}
	if v := os.Getenv(EnvFFprobe); v != "" {
		c.ffprobePath = v
	}
	if v := os.Getenv(EnvHeadless); v != "" {
		headless, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvHeadless, err)
		}
		c.headless = headless
	}
	if v := os.Getenv(EnvWorkDir); v != "" {
		dir, err := expandPath(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvWorkDir, err)
		}
		c.workDir = dir
	}
	if v := os.Getenv(EnvMaxPasses); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvMaxPasses, err)
		}
		c.maxPasses = n
	}
	if v := os.Getenv(EnvWebhookURL); v != "" {
		c.webhookURL = v
	}
	if v := os.Getenv(EnvWebhookToken); v != "" {
		c.webhookToken = v
	}
	return nil
}

func (c *EnvConfig) validate() error {
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port %d: must be between 1 and 65535", c.port)
	}
	if c.maxPasses < 1 {
		return fmt.Errorf("invalid max_passes %d: must be at least 1", c.maxPasses)
	}
	if c.defaults.MaxSizeMB <= 0 {
		return fmt.Errorf("invalid export.max_size_mb %g: must be positive", c.defaults.MaxSizeMB)
	}
	if c.defaults.FPS <= 0 {
		return fmt.Errorf("invalid export.fps %d: must be positive", c.defaults.FPS)
	}
	if c.defaults.AudioKbps < 0 {
		return fmt.Errorf("invalid export.audio_kbps %d: must not be negative", c.defaults.AudioKbps)
	}
	if c.webhookURL != "" && !strings.HasPrefix(c.webhookURL, "http://") && !strings.HasPrefix(c.webhookURL, "https://") {
		return fmt.Errorf("invalid webhook url %q: must be http or https", c.webhookURL)
	}
	return nil
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

// LockPath returns the path of the single-instance lock file
func (c *EnvConfig) LockPath() string {
	return filepath.Join(c.dataDir, LockFilename)
}

// ConfigPath returns the config file location, whether or not it exists
func (c *EnvConfig) ConfigPath() string {
	return c.configPath
}

func (c *EnvConfig) Headless() bool {
	return c.headless
}

func (c *EnvConfig) FFmpegPath() string {
	return c.ffmpegPath
}

func (c *EnvConfig) FFprobePath() string {
	return c.ffprobePath
}

// WorkDir returns where trimmed artifacts are written. Empty means the OS
// temp directory.
func (c *EnvConfig) WorkDir() string {
	return c.workDir
}

func (c *EnvConfig) MaxPasses() int {
	return c.maxPasses
}

func (c *EnvConfig) DurationSource() export.DurationSource {
	return c.durationSource
}

func (c *EnvConfig) ExportDefaults() ExportDefaults {
	return c.defaults
}

func (c *EnvConfig) WebhookURL() string {
	return c.webhookURL
}

func (c *EnvConfig) WebhookToken() string {
	return c.webhookToken
}

func (c *EnvConfig) WebhookTimeout() time.Duration {
	return c.webhookTimeout
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

func expandPath(pathValue string) (string, error) {
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	return filepath.Abs(filepath.Clean(pathValue))
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
