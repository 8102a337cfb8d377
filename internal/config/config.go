// Package config loads the door-camera pipeline's runtime configuration.
// Layering follows the teacher's own env-first loader (sane defaults,
// explicit per-field validation, aggregated error messages) extended with an
// optional YAML file underneath the environment layer, since this service
// needs pre-deployment config files the teacher's broker never did.
package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"doorcam/internal/frame"
)

const (
	DefaultCameraIndex  = 0
	DefaultCameraWidth  = 1280
	DefaultCameraHeight = 720
	DefaultCameraMaxFPS = 30

	DefaultAnalyzerMaxFPS             = 10
	DefaultAnalyzerDeltaThreshold     = 25
	DefaultAnalyzerContourMinimumArea = 500
	DefaultAnalyzerWarmupFrames       = 30
	DefaultAnalyzerBackgroundHistory  = 200

	DefaultPrerollSeconds  = 5 * time.Second
	DefaultPostrollSeconds = 10 * time.Second

	DefaultCapturePath = "./data"

	DefaultStreamIP   = "0.0.0.0"
	DefaultStreamPort = 8080

	DefaultDisplayActivationPeriod = 30 * time.Second

	DefaultRetentionSeconds       = 7 * 24 * time.Hour
	DefaultCleanupIntervalSeconds = time.Hour
	DefaultArchiveAfterSeconds    = DefaultRetentionSeconds / 2

	DefaultDebugListen = "127.0.0.1:8081"

	DefaultLogLevel = "info"
	DefaultLogPath  = "doorcam.log"
)

// CameraConfig describes the frame producer.
type CameraConfig struct {
	Index     uint32            `yaml:"index"`
	Width     uint16            `yaml:"width"`
	Height    uint16            `yaml:"height"`
	MaxFPS    uint32            `yaml:"max_fps"`
	Format    frame.PixelFormat `yaml:"-"`
	FormatRaw string            `yaml:"format"`
	Rotation  int               `yaml:"rotation"`
}

// AnalyzerConfig tunes the motion analyzer.
type AnalyzerConfig struct {
	MaxFPS               uint32 `yaml:"max_fps"`
	DeltaThreshold       uint8  `yaml:"delta_threshold"`
	ContourMinimumArea   int    `yaml:"contour_minimum_area"`
	WarmupFrames         int    `yaml:"warmup_frames"`
	BackgroundHistory    int    `yaml:"background_history"`
	UndistortLensProfile string `yaml:"undistort_lens_profile"`
}

// EventConfig tunes the capture engine's preroll/postroll windows.
type EventConfig struct {
	PrerollSeconds  time.Duration `yaml:"-"`
	PostrollSeconds time.Duration `yaml:"-"`
	PrerollRaw      string        `yaml:"preroll_seconds"`
	PostrollRaw     string        `yaml:"postroll_seconds"`
}

// CaptureConfig controls on-disk capture output.
type CaptureConfig struct {
	Path             string `yaml:"path"`
	TimestampOverlay bool   `yaml:"timestamp_overlay"`
	VideoEncoding    bool   `yaml:"video_encoding"`
	KeepImages       bool   `yaml:"keep_images"`
	SaveMetadata     bool   `yaml:"save_metadata"`
}

// StreamConfig controls the MJPEG HTTP server.
type StreamConfig struct {
	IP                string `yaml:"ip"`
	Port              int    `yaml:"port"`
	MaxBytesPerSecond int64  `yaml:"max_bytes_per_second"`
}

// DisplayConfig controls the local framebuffer display controller.
type DisplayConfig struct {
	FramebufferDevice       string        `yaml:"framebuffer_device"`
	BacklightDevice         string        `yaml:"backlight_device"`
	TouchDevice             string        `yaml:"touch_device"`
	ActivationPeriodSeconds time.Duration `yaml:"-"`
	ActivationPeriodRaw     string        `yaml:"activation_period_seconds"`
	Rotation                int           `yaml:"rotation"`
}

// SystemConfig controls retention and scheduling.
type SystemConfig struct {
	RetentionSeconds       time.Duration `yaml:"-"`
	CleanupIntervalSeconds time.Duration `yaml:"-"`
	ArchiveAfterSeconds    time.Duration `yaml:"-"`
	RetentionRaw           string        `yaml:"retention_seconds"`
	CleanupIntervalRaw     string        `yaml:"cleanup_interval_seconds"`
	ArchiveAfterRaw        string        `yaml:"archive_after_seconds"`
	RingCapacityOverride   int           `yaml:"ring_capacity_override"`
}

// DebugConfig controls the loopback-only debug control API.
type DebugConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Listen     string `yaml:"listen"`
	AdminToken string `yaml:"admin_token"`
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Config captures every runtime tunable for the door-camera pipeline.
type Config struct {
	Camera   CameraConfig   `yaml:"camera"`
	Analyzer AnalyzerConfig `yaml:"analyzer"`
	Event    EventConfig    `yaml:"event"`
	Capture  CaptureConfig  `yaml:"capture"`
	Stream   StreamConfig   `yaml:"stream"`
	Display  DisplayConfig  `yaml:"display"`
	System   SystemConfig   `yaml:"system"`
	Debug    DebugConfig    `yaml:"debug"`
	Logging  LoggingConfig  `yaml:"logging"`
}

func defaults() Config {
	return Config{
		Camera: CameraConfig{
			Index: DefaultCameraIndex, Width: DefaultCameraWidth, Height: DefaultCameraHeight,
			MaxFPS: DefaultCameraMaxFPS, FormatRaw: "MJPEG",
		},
		Analyzer: AnalyzerConfig{
			MaxFPS: DefaultAnalyzerMaxFPS, DeltaThreshold: DefaultAnalyzerDeltaThreshold,
			ContourMinimumArea: DefaultAnalyzerContourMinimumArea, WarmupFrames: DefaultAnalyzerWarmupFrames,
			BackgroundHistory: DefaultAnalyzerBackgroundHistory,
		},
		Event: EventConfig{PrerollSeconds: DefaultPrerollSeconds, PostrollSeconds: DefaultPostrollSeconds},
		Capture: CaptureConfig{
			Path: DefaultCapturePath, VideoEncoding: false, KeepImages: true, SaveMetadata: true,
		},
		Stream: StreamConfig{IP: DefaultStreamIP, Port: DefaultStreamPort},
		Display: DisplayConfig{ActivationPeriodSeconds: DefaultDisplayActivationPeriod},
		System: SystemConfig{
			RetentionSeconds: DefaultRetentionSeconds, CleanupIntervalSeconds: DefaultCleanupIntervalSeconds,
			ArchiveAfterSeconds: DefaultArchiveAfterSeconds,
		},
		Debug: DebugConfig{Enabled: false, Listen: DefaultDebugListen},
		Logging: LoggingConfig{
			Level: DefaultLogLevel, Path: DefaultLogPath, MaxSizeMB: 100, MaxBackups: 10, MaxAgeDays: 7, Compress: true,
		},
	}
}

// Load resolves configuration from (in increasing precedence): compiled-in
// defaults, an optional YAML file at yamlPath, then DOORCAM_-prefixed
// environment variables.
func Load(yamlPath string) (*Config, error) {
	cfg := defaults()

	if strings.TrimSpace(yamlPath) != "" {
		data, err := os.ReadFile(yamlPath)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", yamlPath, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", yamlPath, err)
		}
	}

	var problems []string
	applyEnvOverrides(&cfg, &problems)

	if err := resolveDurations(&cfg); err != nil {
		problems = append(problems, err.Error())
	}

	format, err := frame.ParsePixelFormat(cfg.Camera.FormatRaw)
	if err != nil {
		problems = append(problems, fmt.Sprintf("camera.format: %v", err))
	} else {
		cfg.Camera.Format = format
	}

	if cfg.Camera.Rotation != 0 && cfg.Camera.Rotation != 90 && cfg.Camera.Rotation != 180 && cfg.Camera.Rotation != 270 {
		problems = append(problems, fmt.Sprintf("camera.rotation must be 0, 90, 180 or 270, got %d", cfg.Camera.Rotation))
	}
	if cfg.Stream.Port <= 0 || cfg.Stream.Port > 65535 {
		problems = append(problems, fmt.Sprintf("stream.port must be in 1-65535, got %d", cfg.Stream.Port))
	}
	if cfg.Debug.Enabled && strings.TrimSpace(cfg.Debug.AdminToken) == "" {
		problems = append(problems, "debug.admin_token must be set when debug.enabled is true")
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return &cfg, nil
}

func resolveDurations(cfg *Config) error {
	parse := func(raw string, fallback time.Duration, field string) (time.Duration, error) {
		if strings.TrimSpace(raw) == "" {
			return fallback, nil
		}
		if secs, err := strconv.ParseFloat(raw, 64); err == nil {
			return time.Duration(secs * float64(time.Second)), nil
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return 0, fmt.Errorf("%s: invalid duration %q", field, raw)
		}
		return d, nil
	}

	var err error
	if cfg.Event.PrerollSeconds, err = parse(cfg.Event.PrerollRaw, DefaultPrerollSeconds, "event.preroll_seconds"); err != nil {
		return err
	}
	if cfg.Event.PostrollSeconds, err = parse(cfg.Event.PostrollRaw, DefaultPostrollSeconds, "event.postroll_seconds"); err != nil {
		return err
	}
	if cfg.Display.ActivationPeriodSeconds, err = parse(cfg.Display.ActivationPeriodRaw, DefaultDisplayActivationPeriod, "display.activation_period_seconds"); err != nil {
		return err
	}
	if cfg.System.RetentionSeconds, err = parse(cfg.System.RetentionRaw, DefaultRetentionSeconds, "system.retention_seconds"); err != nil {
		return err
	}
	if cfg.System.CleanupIntervalSeconds, err = parse(cfg.System.CleanupIntervalRaw, DefaultCleanupIntervalSeconds, "system.cleanup_interval_seconds"); err != nil {
		return err
	}
	if cfg.System.ArchiveAfterSeconds, err = parse(cfg.System.ArchiveAfterRaw, cfg.System.RetentionSeconds/2, "system.archive_after_seconds"); err != nil {
		return err
	}
	return nil
}

func applyEnvOverrides(cfg *Config, problems *[]string) {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	u32 := func(key string, dst *uint32) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			n, err := strconv.ParseUint(v, 10, 32)
			if err != nil {
				*problems = append(*problems, fmt.Sprintf("%s: invalid uint %q", key, v))
				return
			}
			*dst = uint32(n)
		}
	}
	u16 := func(key string, dst *uint16) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			n, err := strconv.ParseUint(v, 10, 16)
			if err != nil {
				*problems = append(*problems, fmt.Sprintf("%s: invalid uint %q", key, v))
				return
			}
			*dst = uint16(n)
		}
	}
	integer := func(key string, dst *int) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				*problems = append(*problems, fmt.Sprintf("%s: invalid int %q", key, v))
				return
			}
			*dst = n
		}
	}
	boolean := func(key string, dst *bool) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				*problems = append(*problems, fmt.Sprintf("%s: invalid bool %q", key, v))
				return
			}
			*dst = b
		}
	}

	u32("DOORCAM_CAMERA_INDEX", &cfg.Camera.Index)
	u16("DOORCAM_CAMERA_WIDTH", &cfg.Camera.Width)
	u16("DOORCAM_CAMERA_HEIGHT", &cfg.Camera.Height)
	u32("DOORCAM_CAMERA_MAX_FPS", &cfg.Camera.MaxFPS)
	str("DOORCAM_CAMERA_FORMAT", &cfg.Camera.FormatRaw)
	integer("DOORCAM_CAMERA_ROTATION", &cfg.Camera.Rotation)

	u32("DOORCAM_ANALYZER_MAX_FPS", &cfg.Analyzer.MaxFPS)
	integer("DOORCAM_ANALYZER_CONTOUR_MINIMUM_AREA", &cfg.Analyzer.ContourMinimumArea)
	integer("DOORCAM_ANALYZER_WARMUP_FRAMES", &cfg.Analyzer.WarmupFrames)
	integer("DOORCAM_ANALYZER_BACKGROUND_HISTORY", &cfg.Analyzer.BackgroundHistory)
	str("DOORCAM_ANALYZER_UNDISTORT_LENS_PROFILE", &cfg.Analyzer.UndistortLensProfile)

	str("DOORCAM_EVENT_PREROLL_SECONDS", &cfg.Event.PrerollRaw)
	str("DOORCAM_EVENT_POSTROLL_SECONDS", &cfg.Event.PostrollRaw)

	str("DOORCAM_CAPTURE_PATH", &cfg.Capture.Path)
	boolean("DOORCAM_CAPTURE_TIMESTAMP_OVERLAY", &cfg.Capture.TimestampOverlay)
	boolean("DOORCAM_CAPTURE_VIDEO_ENCODING", &cfg.Capture.VideoEncoding)
	boolean("DOORCAM_CAPTURE_KEEP_IMAGES", &cfg.Capture.KeepImages)
	boolean("DOORCAM_CAPTURE_SAVE_METADATA", &cfg.Capture.SaveMetadata)

	str("DOORCAM_STREAM_IP", &cfg.Stream.IP)
	integer("DOORCAM_STREAM_PORT", &cfg.Stream.Port)

	str("DOORCAM_DISPLAY_FRAMEBUFFER_DEVICE", &cfg.Display.FramebufferDevice)
	str("DOORCAM_DISPLAY_BACKLIGHT_DEVICE", &cfg.Display.BacklightDevice)
	str("DOORCAM_DISPLAY_TOUCH_DEVICE", &cfg.Display.TouchDevice)
	str("DOORCAM_DISPLAY_ACTIVATION_PERIOD_SECONDS", &cfg.Display.ActivationPeriodRaw)
	integer("DOORCAM_DISPLAY_ROTATION", &cfg.Display.Rotation)

	str("DOORCAM_SYSTEM_RETENTION_SECONDS", &cfg.System.RetentionRaw)
	str("DOORCAM_SYSTEM_CLEANUP_INTERVAL_SECONDS", &cfg.System.CleanupIntervalRaw)
	str("DOORCAM_SYSTEM_ARCHIVE_AFTER_SECONDS", &cfg.System.ArchiveAfterRaw)
	integer("DOORCAM_SYSTEM_RING_CAPACITY_OVERRIDE", &cfg.System.RingCapacityOverride)

	boolean("DOORCAM_DEBUG_ENABLED", &cfg.Debug.Enabled)
	str("DOORCAM_DEBUG_LISTEN", &cfg.Debug.Listen)
	str("DOORCAM_DEBUG_ADMIN_TOKEN", &cfg.Debug.AdminToken)

	if v := strings.TrimSpace(os.Getenv("DOORCAM_STREAM_MAX_BYTES_PER_SECOND")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			*problems = append(*problems, fmt.Sprintf("DOORCAM_STREAM_MAX_BYTES_PER_SECOND: invalid int %q", v))
		} else {
			cfg.Stream.MaxBytesPerSecond = n
		}
	}

	str("DOORCAM_LOG_LEVEL", &cfg.Logging.Level)
	str("DOORCAM_LOG_PATH", &cfg.Logging.Path)
	integer("DOORCAM_LOG_MAX_SIZE_MB", &cfg.Logging.MaxSizeMB)
	integer("DOORCAM_LOG_MAX_BACKUPS", &cfg.Logging.MaxBackups)
	integer("DOORCAM_LOG_MAX_AGE_DAYS", &cfg.Logging.MaxAgeDays)
	boolean("DOORCAM_LOG_COMPRESS", &cfg.Logging.Compress)
}

// RingCapacity computes the ring buffer's slot count per the sizing rule:
// ceil(fps * (preroll_seconds + slack)), slack fixed at 1s, unless
// system.ring_capacity_override is set.
func (c *Config) RingCapacity() int {
	if c.System.RingCapacityOverride > 0 {
		return c.System.RingCapacityOverride
	}
	slack := time.Second
	seconds := c.Event.PrerollSeconds + slack
	capacity := int(math.Ceil(float64(c.Camera.MaxFPS) * seconds.Seconds()))
	if capacity < 1 {
		capacity = 1
	}
	return capacity
}

// Dump renders the fully-resolved configuration as YAML, for --print-config.
func (c *Config) Dump() (string, error) {
	resolved := *c
	resolved.Camera.FormatRaw = c.Camera.Format.String()
	resolved.Event.PrerollRaw = c.Event.PrerollSeconds.String()
	resolved.Event.PostrollRaw = c.Event.PostrollSeconds.String()
	resolved.Display.ActivationPeriodRaw = c.Display.ActivationPeriodSeconds.String()
	resolved.System.RetentionRaw = c.System.RetentionSeconds.String()
	resolved.System.CleanupIntervalRaw = c.System.CleanupIntervalSeconds.String()
	resolved.System.ArchiveAfterRaw = c.System.ArchiveAfterSeconds.String()
	data, err := yaml.Marshal(&resolved)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
