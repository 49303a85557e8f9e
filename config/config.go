// Package config loads the bench configuration from the environment, optionally
// seeded from .env files, and sequence plans from YAML files.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/arloliu/go-robotray/analyzer"
	"github.com/arloliu/go-robotray/logger"
	"github.com/arloliu/go-robotray/serialport"
	"github.com/arloliu/go-robotray/stage"
	"github.com/joho/godotenv"
)

// Defaults of the process configuration.
const (
	DefaultStatePath       = ".robotray_config.json"
	DefaultOffsetTablePath = "tray_sequence.txt"
	DefaultOutputDir       = "sample_outputs"
	DefaultLogLevel        = "info"
)

// Config is the process configuration.
type Config struct {
	// Env is "development" for human-readable logs.
	Env             string
	LogLevel        string
	StatePath       string
	OffsetTablePath string
	// OutputDir is used unless the state file names an output folder.
	OutputDir string
	// PlanFile is an optional YAML plan; the combo plan is used when empty.
	PlanFile string
	// WriteCPS also writes spectra in counts per second.
	WriteCPS bool
	Stage    StageConfig
	Analyzer AnalyzerConfig
}

// StageConfig selects and drives the stage.
type StageConfig struct {
	// PortOverride skips device discovery when set, e.g. "COM5" or "/dev/ttyUSB0".
	PortOverride string
	SerialNumber string
	Signatures   []string
	Keywords     []string
	BaudRate     int
	FeedRate     int
	HomeAxes     string
}

// AnalyzerConfig locates the analyzer.
type AnalyzerConfig struct {
	Host string
	// Port fixes the port; 0 scans.
	Port              int
	PortStart         int
	PortEnd           int
	FallbackHosts     []string
	HeartbeatInterval time.Duration
}

// Load reads the configuration from the environment. The given .env files, or ".env"
// when none is given, are loaded first when they exist; variables already set in the
// environment take precedence.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !isNotExist(err) {
			return nil, fmt.Errorf("config: load %s: %w", f, err)
		}
	}

	cfg := &Config{
		Env:             getEnv("ENV", "production"),
		LogLevel:        getEnv("ROBOTRAY_LOG_LEVEL", DefaultLogLevel),
		StatePath:       getEnv("ROBOTRAY_STATE_FILE", DefaultStatePath),
		OffsetTablePath: getEnv("ROBOTRAY_OFFSET_TABLE", DefaultOffsetTablePath),
		OutputDir:       getEnv("ROBOTRAY_OUTPUT_DIR", DefaultOutputDir),
		PlanFile:        getEnv("ROBOTRAY_PLAN_FILE", ""),
		WriteCPS:        getEnvAsBool("ROBOTRAY_WRITE_CPS", false),
		Stage: StageConfig{
			PortOverride: getEnv("STAGE_PORT", ""),
			SerialNumber: getEnv("STAGE_SERIAL_NUMBER", ""),
			Signatures:   getEnvAsList("STAGE_SIGNATURES", signatureStrings(serialport.DefaultSignatures)),
			Keywords:     getEnvAsList("STAGE_KEYWORDS", serialport.DefaultKeywords),
			BaudRate:     getEnvAsInt("STAGE_BAUD_RATE", stage.DefaultBaudRate),
			FeedRate:     getEnvAsInt("STAGE_FEED_RATE", stage.DefaultFeedRate),
			HomeAxes:     getEnv("STAGE_HOME_AXES", strings.Join(stage.DefaultHomeAxes, " ")),
		},
		Analyzer: AnalyzerConfig{
			Host:              getEnv("ANALYZER_HOST", analyzer.DefaultHost),
			Port:              getEnvAsInt("ANALYZER_PORT", 0),
			PortStart:         getEnvAsInt("ANALYZER_PORT_START", analyzer.DefaultPortStart),
			PortEnd:           getEnvAsInt("ANALYZER_PORT_END", analyzer.DefaultPortEnd),
			FallbackHosts:     getEnvAsList("ANALYZER_FALLBACK_HOSTS", nil),
			HeartbeatInterval: getEnvAsDuration("ANALYZER_HEARTBEAT_INTERVAL", analyzer.DefaultHeartbeatInterval),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the values that cannot fall back to a default.
func (cfg *Config) Validate() error {
	if _, err := logger.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if strings.TrimSpace(cfg.StatePath) == "" {
		return errors.New("config: state file path is empty")
	}
	if _, err := cfg.Stage.Criteria(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.Analyzer.Port < 0 || cfg.Analyzer.PortStart > cfg.Analyzer.PortEnd {
		return fmt.Errorf("config: invalid analyzer ports %d, %d-%d", cfg.Analyzer.Port, cfg.Analyzer.PortStart, cfg.Analyzer.PortEnd)
	}

	return nil
}

// Level returns the parsed log level.
func (cfg *Config) Level() logger.Level {
	lvl, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return logger.InfoLevel
	}

	return lvl
}

// Development reports whether development logging is requested.
func (cfg *Config) Development() bool { return strings.EqualFold(cfg.Env, "development") }

// Criteria returns the serial device criteria.
func (sc StageConfig) Criteria() (serialport.Criteria, error) {
	c := serialport.Criteria{SerialNumber: sc.SerialNumber, Keywords: sc.Keywords}
	for _, s := range sc.Signatures {
		sig, err := serialport.ParseSignature(s)
		if err != nil {
			return serialport.Criteria{}, err
		}
		c.Signatures = append(c.Signatures, sig)
	}

	return c, nil
}

// Options returns the stage client options the configuration sets.
func (sc StageConfig) Options() []stage.Option {
	return []stage.Option{
		stage.WithBaudRate(sc.BaudRate),
		stage.WithFeedRate(sc.FeedRate),
		stage.WithHomeAxes(strings.Fields(sc.HomeAxes)...),
	}
}

// Options returns the analyzer client options the configuration sets.
func (ac AnalyzerConfig) Options() []analyzer.Option {
	opts := []analyzer.Option{
		analyzer.WithPortRange(ac.PortStart, ac.PortEnd),
		analyzer.WithHeartbeatInterval(ac.HeartbeatInterval),
	}
	if len(ac.FallbackHosts) > 0 {
		opts = append(opts, analyzer.WithFallbackHosts(ac.FallbackHosts...))
	}

	return opts
}

func signatureStrings(sigs []serialport.Signature) []string {
	out := make([]string, len(sigs))
	for i, s := range sigs {
		out[i] = s.String()
	}

	return out
}
