package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// RootConfig mirrors the layout of the YAML file on disk.
type RootConfig struct {
	ActiveConfig string                    `mapstructure:"active_config" yaml:"active_config"`
	Storage      *StorageConfig            `mapstructure:"storage,omitempty" yaml:"storage,omitempty"`
	Log          *LogConfig                `mapstructure:"log,omitempty" yaml:"log,omitempty"`
	Configs      map[string]*ConfigProfile `mapstructure:"configs" yaml:"configs"`
}

// Config is the resolved configuration for one profile.
type Config struct {
	Profile string        `mapstructure:"-" yaml:"profile"`
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	Audio   AudioConfig   `mapstructure:"audio" yaml:"audio"`
	Capture CaptureConfig `mapstructure:"capture" yaml:"capture"`
	Label   LabelConfig   `mapstructure:"label" yaml:"label"`

	// Internal field to track inheritance information for config show
	Inheritance *InheritanceInfo `mapstructure:"-" yaml:"-"`
}

// ConfigProfile is a named set of overrides. Pointer fields distinguish
// "not set" from an explicit false.
type ConfigProfile struct {
	Audio   AudioConfig          `mapstructure:"audio" yaml:"audio"`
	Capture CaptureProfileConfig `mapstructure:"capture" yaml:"capture"`
	Label   LabelConfig          `mapstructure:"label" yaml:"label"`
}

type InheritanceInfo struct {
	Audio struct {
		Backend    string // "inherited" or "profile-specific"
		Device     string
		SampleRate string
		Channels   string
	}
	Capture struct {
		RequireConsent string
		ConfirmSave    string
	}
	Label struct {
		TranscribeCommand string
		LabelCommand      string
	}
}

type StorageConfig struct {
	Root string `mapstructure:"root" yaml:"root" validate:"required"`
}

type LogConfig struct {
	File       string `mapstructure:"file" yaml:"file,omitempty"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days" validate:"gte=0"`
}

type AudioConfig struct {
	Backend      string `mapstructure:"backend" yaml:"backend" validate:"omitempty,oneof=auto miniaudio portaudio pipewire"`
	Device       string `mapstructure:"device" yaml:"device,omitempty"`       // empty = system default input
	SampleRate   int    `mapstructure:"sample_rate" yaml:"sample_rate" validate:"gte=0,lte=384000"` // 0 = native
	Channels     int    `mapstructure:"channels" yaml:"channels" validate:"gte=0,lte=32"`           // 0 = native
	BufferFrames int    `mapstructure:"buffer_frames" yaml:"buffer_frames" validate:"gte=0,lte=65536"`
}

type CaptureConfig struct {
	RequireConsent bool `mapstructure:"require_consent" yaml:"require_consent"`
	ConfirmSave    bool `mapstructure:"confirm_save" yaml:"confirm_save"`
}

type CaptureProfileConfig struct {
	RequireConsent *bool `mapstructure:"require_consent,omitempty" yaml:"require_consent,omitempty"`
	ConfirmSave    *bool `mapstructure:"confirm_save,omitempty" yaml:"confirm_save,omitempty"`
}

type LabelConfig struct {
	TranscribeCommand string        `mapstructure:"transcribe_command" yaml:"transcribe_command,omitempty"`
	LabelCommand      string        `mapstructure:"label_command" yaml:"label_command,omitempty"`
	TickInterval      time.Duration `mapstructure:"tick_interval" yaml:"tick_interval" validate:"gte=0"`
}

var defaultConfig = Config{
	Profile: "default",
	Storage: StorageConfig{
		Root: filepath.Join("~", "Audio", "MemoCapture"),
	},
	Log: LogConfig{
		MaxSizeMB:  10,
		MaxBackups: 3,
		MaxAgeDays: 28,
	},
	Audio: AudioConfig{
		Backend:      "auto",
		BufferFrames: 1024,
	},
	Capture: CaptureConfig{
		RequireConsent: false,
		ConfirmSave:    true,
	},
	Label: LabelConfig{
		TickInterval: 250 * time.Millisecond,
	},
}

var validate = validator.New()

// Default returns a copy of the built-in configuration with paths expanded.
func Default() *Config {
	c := defaultConfig
	c.Storage.Root = expandPath(c.Storage.Root)
	return &c
}

// DefaultConfigFile returns the config path used when --config is not given.
func DefaultConfigFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "memocapture.yaml"
	}
	return filepath.Join(home, ".config", "memocapture.yaml")
}

// LoadWithProfile reads the config file and resolves the requested profile
// over the "default" profile and the built-in defaults. A missing file
// yields the built-in defaults.
func LoadWithProfile(configFile, profile string) (*Config, error) {
	if configFile == "" {
		configFile = DefaultConfigFile()
	}

	rootConfig, err := ReadRootConfig(configFile)
	if errors.Is(err, fs.ErrNotExist) {
		if profile != "" && profile != "default" {
			return nil, fmt.Errorf("configuration profile '%s' not found: no config file at %s", profile, configFile)
		}
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	// Determine which config to use
	configName := profile
	if configName == "" {
		configName = rootConfig.ActiveConfig
	}
	if configName == "" {
		configName = "default"
	}

	selectedProfile, exists := rootConfig.Configs[configName]
	if !exists && configName != "default" {
		return nil, fmt.Errorf("configuration profile '%s' not found", configName)
	}

	// Build the base from built-in defaults plus the default profile
	base := Default()
	if configName != "default" {
		if defaultProfile, ok := rootConfig.Configs["default"]; ok {
			base = mergeProfile(base, defaultProfile)
		}
	}
	result := mergeProfile(base, selectedProfile)
	result.Profile = configName

	if rootConfig.Storage != nil && rootConfig.Storage.Root != "" {
		result.Storage.Root = expandPath(rootConfig.Storage.Root)
	}
	if rootConfig.Log != nil {
		result.Log = mergeLog(result.Log, *rootConfig.Log)
	}

	if err := result.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return result, nil
}

// ReadRootConfig parses the file without resolving profiles.
func ReadRootConfig(configFile string) (*RootConfig, error) {
	if _, err := os.Stat(configFile); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigFile(configFile)
	v.SetEnvPrefix("MEMOCAPTURE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var rootConfig RootConfig
	if err := v.Unmarshal(&rootConfig); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	for name, p := range rootConfig.Configs {
		if p == nil {
			continue
		}
		if err := validate.Struct(p.Audio); err != nil {
			return nil, fmt.Errorf("invalid config '%s': %w", name, err)
		}
		if err := validate.Struct(p.Label); err != nil {
			return nil, fmt.Errorf("invalid config '%s': %w", name, err)
		}
	}

	return &rootConfig, nil
}

// UpdateActiveConfig updates the active_config field in the config file
func UpdateActiveConfig(configFile, newActiveConfig string) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}

	v := viper.New()
	v.SetConfigFile(configFile)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	v.Set("active_config", newActiveConfig)

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}

	return nil
}

// Validate checks struct tags and the rules tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Label.LabelCommand != "" && c.Label.TranscribeCommand == "" {
		return fmt.Errorf("label.label_command requires label.transcribe_command")
	}
	if c.Audio.Device != "" && strings.TrimSpace(c.Audio.Device) == "" {
		return fmt.Errorf("audio.device cannot be blank")
	}
	return nil
}

// mergeProfile overlays a profile onto a resolved base. Unset fields are
// inherited.
func mergeProfile(base *Config, profile *ConfigProfile) *Config {
	result := *base
	result.Inheritance = &InheritanceInfo{}
	inh := result.Inheritance
	inh.Audio.Backend = "inherited"
	inh.Audio.Device = "inherited"
	inh.Audio.SampleRate = "inherited"
	inh.Audio.Channels = "inherited"
	inh.Capture.RequireConsent = "inherited"
	inh.Capture.ConfirmSave = "inherited"
	inh.Label.TranscribeCommand = "inherited"
	inh.Label.LabelCommand = "inherited"

	if profile == nil {
		return &result
	}

	if profile.Audio.Backend != "" {
		result.Audio.Backend = profile.Audio.Backend
		inh.Audio.Backend = "profile-specific"
	}
	if profile.Audio.Device != "" {
		result.Audio.Device = profile.Audio.Device
		inh.Audio.Device = "profile-specific"
	}
	if profile.Audio.SampleRate != 0 {
		result.Audio.SampleRate = profile.Audio.SampleRate
		inh.Audio.SampleRate = "profile-specific"
	}
	if profile.Audio.Channels != 0 {
		result.Audio.Channels = profile.Audio.Channels
		inh.Audio.Channels = "profile-specific"
	}
	if profile.Audio.BufferFrames != 0 {
		result.Audio.BufferFrames = profile.Audio.BufferFrames
	}

	if profile.Capture.RequireConsent != nil {
		result.Capture.RequireConsent = *profile.Capture.RequireConsent
		inh.Capture.RequireConsent = "profile-specific"
	}
	if profile.Capture.ConfirmSave != nil {
		result.Capture.ConfirmSave = *profile.Capture.ConfirmSave
		inh.Capture.ConfirmSave = "profile-specific"
	}

	if profile.Label.TranscribeCommand != "" {
		result.Label.TranscribeCommand = profile.Label.TranscribeCommand
		inh.Label.TranscribeCommand = "profile-specific"
	}
	if profile.Label.LabelCommand != "" {
		result.Label.LabelCommand = profile.Label.LabelCommand
		inh.Label.LabelCommand = "profile-specific"
	}
	if profile.Label.TickInterval != 0 {
		result.Label.TickInterval = profile.Label.TickInterval
	}

	return &result
}

func mergeLog(base, override LogConfig) LogConfig {
	if override.File != "" {
		base.File = expandPath(override.File)
	}
	if override.MaxSizeMB != 0 {
		base.MaxSizeMB = override.MaxSizeMB
	}
	if override.MaxBackups != 0 {
		base.MaxBackups = override.MaxBackups
	}
	if override.MaxAgeDays != 0 {
		base.MaxAgeDays = override.MaxAgeDays
	}
	return base
}

func expandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") || strings.HasPrefix(path, "~"+string(filepath.Separator)) {
		homeDir, _ := os.UserHomeDir()
		if path == "~" {
			return homeDir
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}
