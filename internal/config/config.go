// Package config provides configuration management for the Shotchain Agent.
// Configuration is loaded from environment variables with sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	// Default values
	DefaultPort     = 8788
	DefaultLogLevel = "info"
	DefaultDataDir  = ".shotchain"

	// Environment variable names
	EnvPort       = "SHOTCHAIN_PORT"
	EnvLogLevel   = "SHOTCHAIN_LOG_LEVEL"
	EnvDataDir    = "SHOTCHAIN_DATA_DIR"
	EnvProjectDir = "SHOTCHAIN_PROJECT_DIR"
	EnvHeadless   = "SHOTCHAIN_HEADLESS"

	// Backend environment variable names
	EnvComfyBaseURL   = "SHOTCHAIN_COMFY_URL"
	EnvComfyOutputDir = "SHOTCHAIN_COMFY_OUTPUT_DIR"
	EnvComfyRemote    = "SHOTCHAIN_COMFY_REMOTE"
	EnvWorkflowPath   = "SHOTCHAIN_WORKFLOW"

	// Generation tuning environment variable names
	EnvMaxSegmentSeconds = "SHOTCHAIN_MAX_SEGMENT_SECONDS"
	EnvFPS               = "SHOTCHAIN_FPS"
	EnvWidth             = "SHOTCHAIN_WIDTH"
	EnvHeight            = "SHOTCHAIN_HEIGHT"

	// Database filename
	DBFilename = "shotchain.db"

	// Generation defaults
	DefaultComfyBaseURL      = "http://127.0.0.1:8188"
	DefaultMaxSegmentSeconds = 3.0
	DefaultFPS               = 24.0

	// Timing defaults (seconds). Video jobs are slow and the backend
	// reports completion before files are durably written, so waits are
	// generous.
	DefaultPollTimeout   = 1800
	DefaultInitialWait   = 60
	DefaultRetryDelay    = 30
	DefaultMaxRetries    = 20
	DefaultLastFrameWait = 5
	DefaultFrameTimeout  = 60
	DefaultBackendProbe  = 10
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	ProjectDir() string
	Headless() bool

	ComfyBaseURL() string
	ComfyOutputDir() string
	ComfyRemote() bool
	WorkflowPath() string

	MaxSegmentSeconds() float64
	FPS() float64
	Width() int
	Height() int

	PollTimeout() time.Duration
	InitialWait() time.Duration
	RetryDelay() time.Duration
	MaxRetries() int
	LastFrameWait() time.Duration
	FrameTimeout() time.Duration
	BackendProbeTimeout() time.Duration
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	port       int
	logLevel   string
	dataDir    string
	projectDir string
	headless   bool

	comfyBaseURL   string
	comfyOutputDir string
	comfyRemote    bool
	workflowPath   string

	maxSegmentSeconds float64
	fps               float64
	width             int
	height            int
}

// New creates a new EnvConfig with defaults and environment variable overrides
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:              DefaultPort,
		logLevel:          DefaultLogLevel,
		dataDir:           defaultDataDir(),
		comfyBaseURL:      DefaultComfyBaseURL,
		maxSegmentSeconds: DefaultMaxSegmentSeconds,
		fps:               DefaultFPS,
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

	// Override log level from environment
	if ll := os.Getenv(EnvLogLevel); ll != "" {
		cfg.logLevel = ll
	}

	// Override data directory from environment
	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = dd
	}

	if pd := os.Getenv(EnvProjectDir); pd != "" {
		cfg.projectDir = pd
	}

	if h := os.Getenv(EnvHeadless); h == "1" || h == "true" {
		cfg.headless = true
	}

	if u := os.Getenv(EnvComfyBaseURL); u != "" {
		cfg.comfyBaseURL = u
	}
	cfg.comfyOutputDir = os.Getenv(EnvComfyOutputDir)
	if r := os.Getenv(EnvComfyRemote); r == "1" || r == "true" {
		cfg.comfyRemote = true
	}
	cfg.workflowPath = os.Getenv(EnvWorkflowPath)

	if ms := os.Getenv(EnvMaxSegmentSeconds); ms != "" {
		v, err := strconv.ParseFloat(ms, 64)
		if err != nil || v <= 0 {
			return nil, fmt.Errorf("invalid %s: must be a positive number", EnvMaxSegmentSeconds)
		}
		cfg.maxSegmentSeconds = v
	}

	if f := os.Getenv(EnvFPS); f != "" {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil || v <= 0 {
			return nil, fmt.Errorf("invalid %s: must be a positive number", EnvFPS)
		}
		cfg.fps = v
	}

	if w := os.Getenv(EnvWidth); w != "" {
		v, err := strconv.Atoi(w)
		if err != nil || v <= 0 {
			return nil, fmt.Errorf("invalid %s: must be a positive integer", EnvWidth)
		}
		cfg.width = v
	}

	if h := os.Getenv(EnvHeight); h != "" {
		v, err := strconv.Atoi(h)
		if err != nil || v <= 0 {
			return nil, fmt.Errorf("invalid %s: must be a positive integer", EnvHeight)
		}
		cfg.height = v
	}

	return cfg, nil
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

// ProjectDir returns the project storage root.
// Falls back to <data dir>/project when unset.
func (c *EnvConfig) ProjectDir() string {
	if c.projectDir != "" {
		return c.projectDir
	}
	return filepath.Join(c.dataDir, "project")
}

func (c *EnvConfig) Headless() bool {
	return c.headless
}

// ComfyBaseURL returns the generation backend base URL
func (c *EnvConfig) ComfyBaseURL() string {
	return c.comfyBaseURL
}

// ComfyOutputDir returns the backend's shared output directory.
// Empty means the backend is remote and outputs must be downloaded.
func (c *EnvConfig) ComfyOutputDir() string {
	return c.comfyOutputDir
}

// ComfyRemote reports whether start frames must be uploaded to the
// backend rather than referenced by local path.
func (c *EnvConfig) ComfyRemote() bool {
	return c.comfyRemote || c.comfyOutputDir == ""
}

// WorkflowPath returns the path to a workflow template JSON file.
// Empty means the built-in template is used.
func (c *EnvConfig) WorkflowPath() string {
	return c.workflowPath
}

// MaxSegmentSeconds returns the longest clip a single generation call
// may produce. Shots longer than this are split into chained segments.
func (c *EnvConfig) MaxSegmentSeconds() float64 {
	return c.maxSegmentSeconds
}

func (c *EnvConfig) FPS() float64 {
	return c.fps
}

// Width returns the global resolution width override, 0 if unset
func (c *EnvConfig) Width() int {
	return c.width
}

// Height returns the global resolution height override, 0 if unset
func (c *EnvConfig) Height() int {
	return c.height
}

func (c *EnvConfig) PollTimeout() time.Duration {
	return time.Duration(DefaultPollTimeout) * time.Second
}

func (c *EnvConfig) InitialWait() time.Duration {
	return time.Duration(DefaultInitialWait) * time.Second
}

func (c *EnvConfig) RetryDelay() time.Duration {
	return time.Duration(DefaultRetryDelay) * time.Second
}

func (c *EnvConfig) MaxRetries() int {
	return DefaultMaxRetries
}

func (c *EnvConfig) LastFrameWait() time.Duration {
	return time.Duration(DefaultLastFrameWait) * time.Second
}

func (c *EnvConfig) FrameTimeout() time.Duration {
	return time.Duration(DefaultFrameTimeout) * time.Second
}

func (c *EnvConfig) BackendProbeTimeout() time.Duration {
	return time.Duration(DefaultBackendProbe) * time.Second
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
