// Package config loads the camera server configuration from the environment,
// an optional .env file and command line flags.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/wachiwi/picam/pkg/broker"
	"github.com/wachiwi/picam/pkg/camera"
	"github.com/wachiwi/picam/pkg/snapshot"
)

type Config struct {
	HTTPAddr string
	LogLevel string

	CameraDriver   string
	CameraDevice   string
	Width          int
	Height         int
	FPS            int
	JPEGQuality    int
	AcquireTimeout time.Duration

	BufferDepth      int
	RetryLimit       int
	RetryInterval    time.Duration
	RetryMaxInterval time.Duration

	SnapshotPolicy    string
	SnapshotFreshness time.Duration
	SnapshotTimeout   time.Duration
	SnapshotDir       string
	SnapshotSchedule  string        // cron spec, empty disables scheduled snapshots
	SnapshotRetention time.Duration // zero keeps snapshots forever

	StatusLEDChip string
	StatusLEDPin  string // empty disables the status LED

	OTELEndpoint string // empty disables telemetry export
}

// Load reads envFile, if it exists, and then the environment. Variables that
// are already set in the environment win over the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
			}
		} else {
			slog.Info("Loaded environment file", "path", envFile)
		}
	}

	var p parser
	cfg := &Config{
		HTTPAddr: getEnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),

		CameraDriver:   getEnvOrDefault("CAMERA_DRIVER", camera.DriverAuto),
		CameraDevice:   getEnvOrDefault("CAMERA_DEVICE", ""),
		Width:          p.int("CAMERA_WIDTH", 640),
		Height:         p.int("CAMERA_HEIGHT", 480),
		FPS:            p.int("CAMERA_FPS", 30),
		JPEGQuality:    p.int("JPEG_QUALITY", 80),
		AcquireTimeout: p.duration("ACQUIRE_TIMEOUT", 5*time.Second),

		BufferDepth:      p.int("STREAM_BUFFER_DEPTH", 1),
		RetryLimit:       p.int("CAPTURE_RETRY_LIMIT", 3),
		RetryInterval:    p.duration("CAPTURE_RETRY_INTERVAL", 500*time.Millisecond),
		RetryMaxInterval: p.duration("CAPTURE_RETRY_MAX_INTERVAL", 5*time.Second),

		SnapshotPolicy:    getEnvOrDefault("SNAPSHOT_POLICY", string(snapshot.PolicyLatest)),
		SnapshotFreshness: p.duration("SNAPSHOT_FRESHNESS", 500*time.Millisecond),
		SnapshotTimeout:   p.duration("SNAPSHOT_TIMEOUT", 10*time.Second),
		SnapshotDir:       getEnvOrDefault("SNAPSHOT_DIR", "./captures"),
		SnapshotSchedule:  getEnvOrDefault("SNAPSHOT_SCHEDULE", ""),
		SnapshotRetention: p.duration("SNAPSHOT_RETENTION", 0),

		StatusLEDChip: getEnvOrDefault("STATUS_LED_CHIP", "gpiochip0"),
		StatusLEDPin:  getEnvOrDefault("STATUS_LED_PIN", ""),

		OTELEndpoint: getEnvOrDefault("OTEL_ENDPOINT", ""),
	}
	if err := errors.Join(p.errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// BindFlags registers command line overrides on fs, using the loaded values
// as defaults. Call fs.Parse afterwards.
func (c *Config) BindFlags(fs *flag.FlagSet) {
	fs.StringVarP(&c.HTTPAddr, "addr", "a", c.HTTPAddr, "HTTP listen address")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level (debug, info, warn, error)")
	fs.StringVarP(&c.CameraDriver, "driver", "d", c.CameraDriver, "Camera driver (auto, native, v4l2, placeholder)")
	fs.StringVarP(&c.CameraDevice, "device", "i", c.CameraDevice, "Video source, e.g. /dev/video0")
	fs.IntVarP(&c.Width, "width", "x", c.Width, "Video width")
	fs.IntVarP(&c.Height, "height", "y", c.Height, "Video height")
	fs.IntVar(&c.FPS, "fps", c.FPS, "Target frame rate")
	fs.IntVarP(&c.JPEGQuality, "quality", "q", c.JPEGQuality, "JPEG quality (1-100)")
	fs.IntVar(&c.BufferDepth, "buffer-depth", c.BufferDepth, "Frames buffered per viewer")
	fs.IntVar(&c.RetryLimit, "retry-limit", c.RetryLimit, "Camera restart attempts before giving up (-1 for none)")
	fs.StringVar(&c.SnapshotPolicy, "snapshot-policy", c.SnapshotPolicy, "Snapshot policy (latest, dedicated)")
	fs.StringVar(&c.SnapshotDir, "snapshot-dir", c.SnapshotDir, "Directory for saved snapshots")
	fs.StringVar(&c.SnapshotSchedule, "snapshot-schedule", c.SnapshotSchedule, "Cron spec for periodic snapshots")
	fs.StringVar(&c.StatusLEDPin, "status-led", c.StatusLEDPin, "GPIO pin of the status LED, e.g. GPIO17")
}

// Validate reports every out of range value.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	switch c.CameraDriver {
	case camera.DriverAuto, camera.DriverNative, camera.DriverV4L2, camera.DriverPlaceholder:
	default:
		errs = append(errs, fmt.Errorf("unknown camera driver %q", c.CameraDriver))
	}
	check(c.HTTPAddr != "", "http address must not be empty")
	check(c.Width > 0 && c.Height > 0, "invalid resolution %dx%d", c.Width, c.Height)
	check(c.FPS > 0 && c.FPS <= 120, "fps must be between 1 and 120, got %d", c.FPS)
	check(c.JPEGQuality >= 1 && c.JPEGQuality <= 100, "jpeg quality must be between 1 and 100, got %d", c.JPEGQuality)
	check(c.AcquireTimeout >= 0, "acquire timeout must not be negative")
	check(c.BufferDepth >= 1, "buffer depth must be at least 1, got %d", c.BufferDepth)
	check(c.RetryLimit >= -1, "retry limit must be -1 or more, got %d", c.RetryLimit)
	check(c.RetryInterval > 0 && c.RetryMaxInterval >= c.RetryInterval, "invalid retry intervals %s..%s", c.RetryInterval, c.RetryMaxInterval)
	check(c.SnapshotFreshness >= 0 && c.SnapshotTimeout >= 0 && c.SnapshotRetention >= 0, "snapshot durations must not be negative")

	if _, err := snapshot.ParsePolicy(c.SnapshotPolicy); err != nil {
		errs = append(errs, err)
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		errs = append(errs, fmt.Errorf("invalid log level %q", c.LogLevel))
	}
	return errors.Join(errs...)
}

// CameraConfig returns the camera settings.
func (c *Config) CameraConfig() camera.Config {
	return camera.Config{
		Driver:         c.CameraDriver,
		Device:         c.CameraDevice,
		Width:          c.Width,
		Height:         c.Height,
		FPS:            c.FPS,
		AcquireTimeout: c.AcquireTimeout,
	}
}

// BrokerConfig returns the broker settings. A retry limit of zero is passed
// on as "no retries".
func (c *Config) BrokerConfig() broker.Config {
	limit := c.RetryLimit
	if limit == 0 {
		limit = -1
	}
	return broker.Config{
		FPS:                  c.FPS,
		BufferDepth:          c.BufferDepth,
		RetryLimit:           limit,
		RetryInitialInterval: c.RetryInterval,
		RetryMaxInterval:     c.RetryMaxInterval,
	}
}

// SnapshotConfig returns the snapshot handler settings.
func (c *Config) SnapshotConfig() snapshot.Config {
	return snapshot.Config{
		Policy:    snapshot.Policy(c.SnapshotPolicy),
		Freshness: c.SnapshotFreshness,
		Timeout:   c.SnapshotTimeout,
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parser collects conversion errors so every bad variable is reported at once.
type parser struct {
	errs []error
}

func (p *parser) int(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return i
}

func (p *parser) duration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return d
}
