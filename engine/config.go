package engine

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Config holds every tuning knob the coordinator, flow controller, retry
// engine, and controller client need, plus the ambient toggles that select
// a telemetry backend. Construct it with Defaults and layer overrides with
// Load and environment variables; Load runs Clamp once after all layers so
// no caller can end up with an unsafe configuration.
type Config struct {
	// Batching and transport.
	BatchSize           int           `yaml:"batch_size"`
	Timeout             time.Duration `yaml:"timeout"`
	StatusPollInterval  time.Duration `yaml:"status_poll_interval"`
	StatusTimeout       time.Duration `yaml:"status_timeout"`
	SendRetryInterval   time.Duration `yaml:"send_retry_interval"`
	SendRetryTimeout    time.Duration `yaml:"send_retry_timeout"`

	// Device queue model.
	ControllerQueueCapacity int `yaml:"controller_queue_capacity"`
	QueueFillTarget         int `yaml:"queue_fill_target"`
	QueueLowWatermark       int `yaml:"queue_low_watermark"`
	MinChunkSize            int `yaml:"min_chunk_size"`
	MaxPointsPerRequest     int `yaml:"max_points_per_request"`

	// Plotter geometry calibration.
	BoardWidthMM     float64 `yaml:"board_width_mm"`
	MotorOffsetYMM   float64 `yaml:"motor_offset_y_mm"`
	CarriageOffsetMM float64 `yaml:"carriage_offset_mm"`

	// Ambient stack toggles.
	MetricsEnabled bool   `yaml:"metrics_enabled"`
	MetricsBackend string `yaml:"metrics_backend"` // "noop" | "prometheus" | "otel"
	TracingEnabled bool   `yaml:"tracing_enabled"`
	LogLevel       string `yaml:"log_level"`
}

// Defaults returns the specification's stated tuning defaults.
func Defaults() Config {
	return Config{
		BatchSize:          200,
		Timeout:            30 * time.Second,
		StatusPollInterval: 500 * time.Millisecond,
		StatusTimeout:      300 * time.Second,
		SendRetryInterval:  2 * time.Second,
		SendRetryTimeout:   120 * time.Second,

		ControllerQueueCapacity: 3000,
		QueueFillTarget:         2500,
		QueueLowWatermark:       200,
		MinChunkSize:            200,
		MaxPointsPerRequest:     200,

		BoardWidthMM:     1150,
		MotorOffsetYMM:   60,
		CarriageOffsetMM: 29,

		MetricsEnabled: false,
		MetricsBackend: "noop",
		TracingEnabled: false,
		LogLevel:       "info",
	}
}

// Load overlays an optional YAML file and then environment overrides on top
// of Defaults, and clamps the result. An empty or missing path is not an
// error; the file layer is simply skipped.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	cfg.applyEnv()
	cfg.Clamp()
	return cfg, nil
}

const envPrefix = "PATHSENDER_"

// applyEnv overrides individual fields from PATHSENDER_-prefixed environment
// variables, for container deployments that prefer env config to files.
func (c *Config) applyEnv() {
	if v, ok := os.LookupEnv(envPrefix + "BATCH_SIZE"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.BatchSize = n
		}
	}
	if v, ok := os.LookupEnv(envPrefix + "QUEUE_FILL_TARGET"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.QueueFillTarget = n
		}
	}
	if v, ok := os.LookupEnv(envPrefix + "MIN_CHUNK_SIZE"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.MinChunkSize = n
		}
	}
	if v, ok := os.LookupEnv(envPrefix + "METRICS_BACKEND"); ok {
		c.MetricsBackend = v
	}
	if v, ok := os.LookupEnv(envPrefix + "LOG_LEVEL"); ok {
		c.LogLevel = v
	}
}

// Clamp enforces sane minimums so no layered configuration can produce an
// unsafe coordinator (e.g. a zero-length retry interval that busy-loops).
func (c *Config) Clamp() {
	if c.BatchSize < 1 {
		c.BatchSize = 1
	}
	if c.Timeout < time.Second {
		c.Timeout = time.Second
	}
	if c.StatusPollInterval < 100*time.Millisecond {
		c.StatusPollInterval = 100 * time.Millisecond
	}
	if c.StatusTimeout < c.StatusPollInterval {
		c.StatusTimeout = c.StatusPollInterval
	}
	if c.SendRetryInterval < 500*time.Millisecond {
		c.SendRetryInterval = 500 * time.Millisecond
	}
	if c.SendRetryTimeout < c.SendRetryInterval {
		c.SendRetryTimeout = c.SendRetryInterval
	}
	if c.ControllerQueueCapacity < 1 {
		c.ControllerQueueCapacity = 1
	}
	if c.QueueFillTarget <= 0 || c.QueueFillTarget > c.ControllerQueueCapacity {
		c.QueueFillTarget = max(1, c.ControllerQueueCapacity-500)
	}
	if c.QueueLowWatermark < 0 {
		c.QueueLowWatermark = 0
	}
	if c.MinChunkSize < 1 {
		c.MinChunkSize = 1
	}
	if c.MaxPointsPerRequest < c.MinChunkSize {
		c.MaxPointsPerRequest = c.MinChunkSize
	}
	if c.BoardWidthMM <= 0 {
		c.BoardWidthMM = 1150
	}
	if c.MetricsBackend == "" {
		c.MetricsBackend = "noop"
	}
}

// Watch hot-reloads path on change, invoking onChange with the newly loaded
// and clamped Config. Geometry constants are not re-read mid-job; callers
// should only apply reloaded values to knobs safe to change live (queue
// targets, chunk sizes, timeouts).
func Watch(path string, onChange func(Config)) (close func() error, err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}
	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					continue
				}
				onChange(cfg)
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return watcher.Close, nil
}
