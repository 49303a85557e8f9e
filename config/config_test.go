package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/arloliu/go-robotray/analyzer"
	"github.com/arloliu/go-robotray/logger"
	"github.com/arloliu/go-robotray/serialport"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	require := require.New(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(err)

	require.Equal(DefaultStatePath, cfg.StatePath)
	require.Equal(DefaultOffsetTablePath, cfg.OffsetTablePath)
	require.Equal(logger.InfoLevel, cfg.Level())
	require.Equal(analyzer.DefaultHost, cfg.Analyzer.Host)
	require.Zero(cfg.Analyzer.Port)
	require.Equal(analyzer.DefaultHeartbeatInterval, cfg.Analyzer.HeartbeatInterval)

	crit, err := cfg.Stage.Criteria()
	require.NoError(err)
	require.Equal(serialport.DefaultCriteria(), crit)
	require.Len(cfg.Stage.Options(), 3)
	require.Len(cfg.Analyzer.Options(), 2)
}

func TestLoad_Environment(t *testing.T) {
	require := require.New(t)

	t.Setenv("ENV", "development")
	t.Setenv("ROBOTRAY_LOG_LEVEL", "DEBUG")
	t.Setenv("ROBOTRAY_WRITE_CPS", "true")
	t.Setenv("STAGE_PORT", "COM7")
	t.Setenv("STAGE_SIGNATURES", "1a86:7523, ,0403:6001")
	t.Setenv("STAGE_KEYWORDS", "ender")
	t.Setenv("STAGE_FEED_RATE", "not a number")
	t.Setenv("ANALYZER_PORT", "8081")
	t.Setenv("ANALYZER_FALLBACK_HOSTS", "192.168.42.129")
	t.Setenv("ANALYZER_HEARTBEAT_INTERVAL", "2s")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(err)

	require.True(cfg.Development())
	require.Equal(logger.DebugLevel, cfg.Level())
	require.True(cfg.WriteCPS)
	require.Equal("COM7", cfg.Stage.PortOverride)
	require.Equal([]string{"1a86:7523", "0403:6001"}, cfg.Stage.Signatures)
	require.Equal([]string{"ender"}, cfg.Stage.Keywords)
	require.Equal(3000, cfg.Stage.FeedRate, "invalid numbers fall back to the default")
	require.Equal(8081, cfg.Analyzer.Port)
	require.Equal([]string{"192.168.42.129"}, cfg.Analyzer.FallbackHosts)
	require.Equal(2*time.Second, cfg.Analyzer.HeartbeatInterval)
	require.Len(cfg.Analyzer.Options(), 3)

	crit, err := cfg.Stage.Criteria()
	require.NoError(err)
	require.Equal([]serialport.Signature{{VID: "1A86", PID: "7523"}, {VID: "0403", PID: "6001"}}, crit.Signatures)
}

func TestLoad_DotEnv(t *testing.T) {
	require := require.New(t)

	const key = "ROBOTRAY_OUTPUT_DIR"
	if _, ok := os.LookupEnv(key); ok {
		t.Skipf("%s is set in the environment", key)
	}
	t.Cleanup(func() { os.Unsetenv(key) })

	path := filepath.Join(t.TempDir(), "bench.env")
	require.NoError(os.WriteFile(path, []byte(key+"=/data/xrf\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(err)
	require.Equal("/data/xrf", cfg.OutputDir)
}

func TestLoad_Invalid(t *testing.T) {
	t.Run("log level", func(t *testing.T) {
		t.Setenv("ROBOTRAY_LOG_LEVEL", "verbose")
		_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
		require.Error(t, err)
	})
	t.Run("signature", func(t *testing.T) {
		t.Setenv("STAGE_SIGNATURES", "CH340")
		_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
		require.ErrorContains(t, err, "CH340")
	})
	t.Run("port range", func(t *testing.T) {
		t.Setenv("ANALYZER_PORT_START", "9000")
		t.Setenv("ANALYZER_PORT_END", "8000")
		_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
		require.Error(t, err)
	})
}
