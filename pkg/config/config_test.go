package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wachiwi/picam/pkg/snapshot"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 640, cfg.Width)
	assert.Equal(t, 480, cfg.Height)
	assert.Equal(t, 30, cfg.FPS)
	assert.Equal(t, 1, cfg.BufferDepth)
	assert.Equal(t, 3, cfg.RetryLimit)
	assert.Equal(t, snapshot.PolicyLatest, cfg.SnapshotConfig().Policy)
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("CAMERA_WIDTH", "1280")
	t.Setenv("CAMERA_HEIGHT", "720")
	t.Setenv("STREAM_BUFFER_DEPTH", "4")
	t.Setenv("CAPTURE_RETRY_INTERVAL", "250ms")
	t.Setenv("SNAPSHOT_POLICY", "dedicated")

	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 1280, cfg.CameraConfig().Width)
	assert.Equal(t, 720, cfg.CameraConfig().Height)
	assert.Equal(t, 4, cfg.BrokerConfig().BufferDepth)
	assert.Equal(t, 250*time.Millisecond, cfg.BrokerConfig().RetryInitialInterval)
	assert.Equal(t, snapshot.PolicyDedicated, cfg.SnapshotConfig().Policy)
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("CAMERA_FPS=12\nHTTP_ADDR=:9000\n"), 0644))
	t.Setenv("HTTP_ADDR", ":7000")
	// godotenv sets variables from the file, make sure they are cleaned up.
	t.Setenv("CAMERA_FPS", "")
	os.Unsetenv("CAMERA_FPS")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.FPS)
	assert.Equal(t, ":7000", cfg.HTTPAddr, "environment wins over the file")
}

func TestLoadMissingEnvFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.NoError(t, err)
}

func TestLoadInvalidValues(t *testing.T) {
	t.Setenv("CAMERA_WIDTH", "wide")
	t.Setenv("ACQUIRE_TIMEOUT", "soon")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CAMERA_WIDTH")
	assert.Contains(t, err.Error(), "ACQUIRE_TIMEOUT")
}

func TestBindFlags(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg.BindFlags(fs)
	require.NoError(t, fs.Parse([]string{"-x", "320", "--height=240", "--driver", "placeholder", "--buffer-depth", "2"}))

	assert.Equal(t, 320, cfg.Width)
	assert.Equal(t, 240, cfg.Height)
	assert.Equal(t, "placeholder", cfg.CameraDriver)
	assert.Equal(t, 2, cfg.BufferDepth)
	assert.Equal(t, 30, cfg.FPS)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"driver", func(c *Config) { c.CameraDriver = "rtsp" }},
		{"resolution", func(c *Config) { c.Width = 0 }},
		{"fps", func(c *Config) { c.FPS = 500 }},
		{"quality", func(c *Config) { c.JPEGQuality = 0 }},
		{"buffer depth", func(c *Config) { c.BufferDepth = 0 }},
		{"retry limit", func(c *Config) { c.RetryLimit = -2 }},
		{"retry intervals", func(c *Config) { c.RetryMaxInterval = time.Millisecond }},
		{"policy", func(c *Config) { c.SnapshotPolicy = "sometimes" }},
		{"log level", func(c *Config) { c.LogLevel = "loud" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tt.modify(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestBrokerConfigZeroRetries(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.RetryLimit = 0
	assert.Equal(t, -1, cfg.BrokerConfig().RetryLimit)
}
