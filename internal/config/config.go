// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Surface() SurfaceConfig
	Capture() CaptureConfig
	Emulation() EmulationConfig
	Annotation() AnnotationConfig
	Automation() AutomationConfig

	SetBrowserHeadless(bool)
	SetSurfaceDefaultURL(string)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	BrowserCfg    BrowserConfig    `mapstructure:"browser" yaml:"browser"`
	SurfaceCfg    SurfaceConfig    `mapstructure:"surface" yaml:"surface"`
	CaptureCfg    CaptureConfig    `mapstructure:"capture" yaml:"capture"`
	EmulationCfg  EmulationConfig  `mapstructure:"emulation" yaml:"emulation"`
	AnnotationCfg AnnotationConfig `mapstructure:"annotation" yaml:"annotation"`
	AutomationCfg AutomationConfig `mapstructure:"automation" yaml:"automation"`
}

// --- Getters ---

func (c *Config) Logger() LoggerConfig         { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig       { return c.BrowserCfg }
func (c *Config) Surface() SurfaceConfig       { return c.SurfaceCfg }
func (c *Config) Capture() CaptureConfig       { return c.CaptureCfg }
func (c *Config) Emulation() EmulationConfig   { return c.EmulationCfg }
func (c *Config) Annotation() AnnotationConfig { return c.AnnotationCfg }
func (c *Config) Automation() AutomationConfig { return c.AutomationCfg }

// --- Setters ---

func (c *Config) SetBrowserHeadless(b bool)     { c.BrowserCfg.Headless = b }
func (c *Config) SetSurfaceDefaultURL(u string) { c.SurfaceCfg.DefaultURL = u }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug string `mapstructure:"debug" yaml:"debug"`
	Info  string `mapstructure:"info" yaml:"info"`
	Warn  string `mapstructure:"warn" yaml:"warn"`
	Error string `mapstructure:"error" yaml:"error"`
	Fatal string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig controls the Chromium process hosting the content surface.
type BrowserConfig struct {
	ExecPath        string        `mapstructure:"exec_path" yaml:"exec_path"`
	Headless        bool          `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	UserDataDir     string        `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	Args            []string      `mapstructure:"args" yaml:"args"`
	WindowWidth     int           `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight    int           `mapstructure:"window_height" yaml:"window_height"`
	StartupTimeout  time.Duration `mapstructure:"startup_timeout" yaml:"startup_timeout"`
	Debug           bool          `mapstructure:"debug" yaml:"debug"`
}

// SurfaceConfig tunes navigation, readiness and crash recovery.
type SurfaceConfig struct {
	DefaultURL        string         `mapstructure:"default_url" yaml:"default_url"`
	NavigationTimeout time.Duration  `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ReadinessTimeout  time.Duration  `mapstructure:"readiness_timeout" yaml:"readiness_timeout"`
	ConsoleCapacity   int            `mapstructure:"console_capacity" yaml:"console_capacity"`
	ScriptLogLimit    int            `mapstructure:"script_log_limit" yaml:"script_log_limit"`
	CrashRecovery     RecoveryConfig `mapstructure:"crash_recovery" yaml:"crash_recovery"`
}

// RecoveryConfig bounds automatic crash recovery.
type RecoveryConfig struct {
	Delay      time.Duration `mapstructure:"delay" yaml:"delay"`
	Attempts   int           `mapstructure:"attempts" yaml:"attempts"`
	MaxPerHour int           `mapstructure:"max_per_hour" yaml:"max_per_hour"`
}

// CaptureConfig bounds the network capture table.
type CaptureConfig struct {
	RetentionCap     int           `mapstructure:"retention_cap" yaml:"retention_cap"`
	DisplayCap       int           `mapstructure:"display_cap" yaml:"display_cap"`
	BodyCap          int           `mapstructure:"body_cap" yaml:"body_cap"`
	Debounce         time.Duration `mapstructure:"debounce" yaml:"debounce"`
	BodyFetchTimeout time.Duration `mapstructure:"body_fetch_timeout" yaml:"body_fetch_timeout"`
	ReattachDelay    time.Duration `mapstructure:"reattach_delay" yaml:"reattach_delay"`
	ReattachAttempts int           `mapstructure:"reattach_attempts" yaml:"reattach_attempts"`
}

// EmulationConfig holds the device preset table.
type EmulationConfig struct {
	SettleDelay time.Duration        `mapstructure:"settle_delay" yaml:"settle_delay"`
	Presets     []DevicePresetConfig `mapstructure:"presets" yaml:"presets"`
}

// DevicePresetConfig describes one configured device preset.
type DevicePresetConfig struct {
	ID                string  `mapstructure:"id" yaml:"id"`
	Name              string  `mapstructure:"name" yaml:"name"`
	Width             int64   `mapstructure:"width" yaml:"width"`
	Height            int64   `mapstructure:"height" yaml:"height"`
	DeviceScaleFactor float64 `mapstructure:"device_scale_factor" yaml:"device_scale_factor"`
	UserAgent         string  `mapstructure:"user_agent" yaml:"user_agent"`
	Touch             bool    `mapstructure:"touch" yaml:"touch"`
	Mobile            bool    `mapstructure:"mobile" yaml:"mobile"`
	MaxTouchPoints    int64   `mapstructure:"max_touch_points" yaml:"max_touch_points"`
}

// AnnotationConfig limits annotation passes.
type AnnotationConfig struct {
	MaxElements int `mapstructure:"max_elements" yaml:"max_elements"`
	TextLimit   int `mapstructure:"text_limit" yaml:"text_limit"`
}

// AutomationConfig holds per command bounds for the facade.
type AutomationConfig struct {
	CommandTimeout  time.Duration `mapstructure:"command_timeout" yaml:"command_timeout"`
	WaitSelectorMax time.Duration `mapstructure:"wait_selector_max" yaml:"wait_selector_max"`
	WaitMax         time.Duration `mapstructure:"wait_max" yaml:"wait_max"`
	DefaultScrollPx float64       `mapstructure:"default_scroll_px" yaml:"default_scroll_px"`
}

// NewDefaultConfig creates a new configuration object populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "webpilot")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.window_width", 1280)
	v.SetDefault("browser.window_height", 800)
	v.SetDefault("browser.startup_timeout", "30s")
	v.SetDefault("browser.debug", false)

	// -- Surface --
	v.SetDefault("surface.default_url", "https://www.google.com")
	v.SetDefault("surface.navigation_timeout", "15s")
	v.SetDefault("surface.readiness_timeout", "5s")
	v.SetDefault("surface.console_capacity", 100)
	v.SetDefault("surface.script_log_limit", 200)
	v.SetDefault("surface.crash_recovery.delay", "1s")
	v.SetDefault("surface.crash_recovery.attempts", 3)
	v.SetDefault("surface.crash_recovery.max_per_hour", 5)

	// -- Capture --
	v.SetDefault("capture.retention_cap", 200)
	v.SetDefault("capture.display_cap", 100)
	v.SetDefault("capture.body_cap", 10*1024)
	v.SetDefault("capture.debounce", "50ms")
	v.SetDefault("capture.body_fetch_timeout", "10s")
	v.SetDefault("capture.reattach_delay", "3s")
	v.SetDefault("capture.reattach_attempts", 3)

	// -- Emulation --
	v.SetDefault("emulation.settle_delay", "1s")

	// -- Annotation --
	v.SetDefault("annotation.max_elements", 50)
	v.SetDefault("annotation.text_limit", 50)

	// -- Automation --
	v.SetDefault("automation.command_timeout", "90s")
	v.SetDefault("automation.wait_selector_max", "60s")
	v.SetDefault("automation.wait_max", "60s")
	v.SetDefault("automation.default_scroll_px", 300)
}

// NewConfigFromViper unmarshals and validates the configuration held by v.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.SurfaceCfg.NavigationTimeout <= 0 {
		return fmt.Errorf("surface.navigation_timeout must be positive")
	}
	if c.SurfaceCfg.ReadinessTimeout <= 0 {
		return fmt.Errorf("surface.readiness_timeout must be positive")
	}
	if c.SurfaceCfg.ConsoleCapacity <= 0 {
		return fmt.Errorf("surface.console_capacity must be a positive integer")
	}
	if c.CaptureCfg.RetentionCap <= 0 || c.CaptureCfg.DisplayCap <= 0 {
		return fmt.Errorf("capture.retention_cap and capture.display_cap must be positive integers")
	}
	if c.CaptureCfg.DisplayCap > c.CaptureCfg.RetentionCap {
		return fmt.Errorf("capture.display_cap (%d) cannot exceed capture.retention_cap (%d)", c.CaptureCfg.DisplayCap, c.CaptureCfg.RetentionCap)
	}
	if c.CaptureCfg.BodyCap <= 0 {
		return fmt.Errorf("capture.body_cap must be a positive integer")
	}
	if c.AnnotationCfg.MaxElements <= 0 {
		return fmt.Errorf("annotation.max_elements must be a positive integer")
	}
	a := c.AutomationCfg
	if a.CommandTimeout <= 0 {
		return fmt.Errorf("automation.command_timeout must be positive")
	}
	if a.WaitMax >= a.CommandTimeout || a.WaitSelectorMax >= a.CommandTimeout {
		return fmt.Errorf("automation.wait_max and automation.wait_selector_max must be below automation.command_timeout (%s)", a.CommandTimeout)
	}
	for i, p := range c.EmulationCfg.Presets {
		if p.ID == "" {
			return fmt.Errorf("emulation.presets[%d] has no id", i)
		}
	}
	return nil
}
