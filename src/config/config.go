// Package config loads framesense settings from, in increasing priority:
// defaults, an optional config file, a .env file and the process environment.
package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"framesense/src/failure"
	"framesense/src/screenshot"
)

const (
	EnvPathEnvVar    = "FRAMESENSE_ENV"
	ConfigPathEnvVar = "FRAMESENSE_CONFIG"

	DefaultHotkey     = "Alt+Space"
	DefaultShellAddr  = "127.0.0.1:49620"
	DefaultTimeoutSec = 5
)

// Keys, also the environment variable names.
const (
	KeyHotkey                 = "HOTKEY"
	KeyEnableFileLogging      = "ENABLE_FILE_LOGGING"
	KeyLogLevel               = "LOG_LEVEL"
	KeyImageFormat            = "IMAGE_FORMAT"
	KeyCaptureTimeoutSec      = "CAPTURE_TIMEOUT_SEC"
	KeyCaptureRegion          = "CAPTURE_REGION"
	KeyShellAddr              = "SHELL_ADDR"
	KeyEnableShellAPI         = "ENABLE_SHELL_API"
	KeyAutoRequestPermissions = "AUTO_REQUEST_PERMISSIONS"
	KeyEnableNotifications    = "ENABLE_NOTIFICATIONS"
	KeyEnableTray             = "ENABLE_TRAY"
	KeySettingsCommand        = "SETTINGS_COMMAND"
)

type LoadOptions struct {
	// ConfigFile is a viper-readable file (yaml, json, toml, ...). Empty falls
	// back to FRAMESENSE_CONFIG.
	ConfigFile string
	// EnvFile overrides .env discovery.
	EnvFile string
	// HotkeyOverride wins over every other source.
	HotkeyOverride string
}

type Config struct {
	Hotkey                 string
	EnableFileLogging      bool
	LogLevel               string
	ImageFormat            screenshot.Format
	CaptureTimeoutSec      int
	CaptureRegion          string
	ShellAddr              string
	EnableShellAPI         bool
	AutoRequestPermissions bool
	EnableNotifications    bool
	EnableTray             bool
	SettingsCommand        string

	// ConfigFile is the file actually read, if any.
	ConfigFile string
}

// CaptureTimeout is the per-step deadline for capture and delivery.
func (c *Config) CaptureTimeout() time.Duration {
	return time.Duration(c.CaptureTimeoutSec) * time.Second
}

func Load() (*Config, error) {
	return LoadWithOptions(LoadOptions{})
}

func LoadWithOptions(opts LoadOptions) (*Config, error) {
	l, err := newLoader(opts)
	if err != nil {
		return nil, err
	}
	return l.config()
}

// Watch loads the configuration and calls onChange each time the config file
// changes, until ctx is done. Without a config file it only loads.
func Watch(ctx context.Context, opts LoadOptions, onChange func(*Config, error)) (*Config, error) {
	l, err := newLoader(opts)
	if err != nil {
		return nil, err
	}
	cfg, err := l.config()
	if err != nil {
		return nil, err
	}
	if l.file == "" {
		return cfg, nil
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if ctx.Err() != nil || e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}
		log.Info().Str("component", "config").Str("file", e.Name).Msg("config file changed")
		onChange(l.config())
	})
	l.v.WatchConfig()
	return cfg, nil
}

type loader struct {
	v    *viper.Viper
	opts LoadOptions
	file string
}

func newLoader(opts LoadOptions) (*loader, error) {
	// Load configuration from sources in priority order:
	// 1) .env in the application (executable) directory
	// 2) If not found, FRAMESENSE_ENV as a path to an env file
	envPath := opts.EnvFile
	if envPath == "" {
		envPath = resolveEnvPath()
	}
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil {
			log.Warn().Str("component", "config").Err(err).Str("path", envPath).Msg("failed to load env file")
		}
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	file := opts.ConfigFile
	if file == "" {
		file = os.Getenv(ConfigPathEnvVar)
	}
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, failure.Wrap(failure.KindInvalidArgument, "read config "+file, err)
		}
	}
	return &loader{v: v, opts: opts, file: file}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyHotkey, DefaultHotkey)
	v.SetDefault(KeyEnableFileLogging, false)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyImageFormat, string(screenshot.FormatPNG))
	v.SetDefault(KeyCaptureTimeoutSec, DefaultTimeoutSec)
	v.SetDefault(KeyCaptureRegion, "")
	v.SetDefault(KeyShellAddr, DefaultShellAddr)
	v.SetDefault(KeyEnableShellAPI, true)
	v.SetDefault(KeyAutoRequestPermissions, true)
	v.SetDefault(KeyEnableNotifications, true)
	v.SetDefault(KeyEnableTray, true)
	v.SetDefault(KeySettingsCommand, "")
}

func (l *loader) config() (*Config, error) {
	v := l.v
	format, err := screenshot.ParseFormat(v.GetString(KeyImageFormat))
	if err != nil {
		return nil, err
	}
	timeout := v.GetInt(KeyCaptureTimeoutSec)
	if timeout <= 0 {
		timeout = DefaultTimeoutSec
	}
	hotkey := strings.TrimSpace(v.GetString(KeyHotkey))
	if override := strings.TrimSpace(l.opts.HotkeyOverride); override != "" {
		hotkey = override
	}
	if hotkey == "" {
		hotkey = DefaultHotkey
	}

	return &Config{
		Hotkey:                 hotkey,
		EnableFileLogging:      v.GetBool(KeyEnableFileLogging),
		LogLevel:               v.GetString(KeyLogLevel),
		ImageFormat:            format,
		CaptureTimeoutSec:      timeout,
		CaptureRegion:          strings.TrimSpace(v.GetString(KeyCaptureRegion)),
		ShellAddr:              v.GetString(KeyShellAddr),
		EnableShellAPI:         v.GetBool(KeyEnableShellAPI),
		AutoRequestPermissions: v.GetBool(KeyAutoRequestPermissions),
		EnableNotifications:    v.GetBool(KeyEnableNotifications),
		EnableTray:             v.GetBool(KeyEnableTray),
		SettingsCommand:        v.GetString(KeySettingsCommand),
		ConfigFile:             l.file,
	}, nil
}

func resolveEnvPath() string {
	execPath, err := os.Executable()
	if err != nil {
		return ""
	}

	execDir := filepath.Dir(execPath)
	exeEnv := filepath.Join(execDir, ".env")
	if _, err := os.Stat(exeEnv); err == nil {
		return exeEnv
	}

	if alt := os.Getenv(EnvPathEnvVar); alt != "" {
		if _, err := os.Stat(alt); err == nil {
			return alt
		}
	}

	return ""
}
