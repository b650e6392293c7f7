// Package config is the daemon's configuration surface (spec §6.4):
// godotenv loads a .env file the way the teacher's internal/config.Load
// does, and spf13/viper layers environment-variable binding, defaults, and
// optional YAML-file overrides on top, the way the teacher's
// internal/cli/config.go uses viper for its own config file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds every daemon setting from spec §6.4.
type Config struct {
	WorkDir       string `mapstructure:"work_dir"`
	WhisperModel  string `mapstructure:"whisper_model"`
	Device        string `mapstructure:"device"`
	UseGPU        bool   `mapstructure:"use_gpu"`
	HFToken       string `mapstructure:"hf_token"`

	MaxFileSizeBytes   int64         `mapstructure:"max_file_size_bytes"`
	MaxProcessingTime  time.Duration `mapstructure:"-"`
	MaxProcessingSecs  int           `mapstructure:"max_processing_time_seconds"`
	RetainHours        int           `mapstructure:"retain_hours"`
	WorkerConcurrency  int           `mapstructure:"worker_concurrency"`
	BatchMaxConcurrent int           `mapstructure:"batch_max_concurrent"`

	LogLevel string `mapstructure:"log_level"`
	LogDir   string `mapstructure:"log_dir"`

	HTTPAddr string `mapstructure:"http_addr"`

	SupportedFormats []string `mapstructure:"-"`
}

// DefaultSupportedFormats are the audio formats spec §6.4 recognizes:
// {MP3, WAV, M4A, OGG, FLAC, AAC, WMA}.
var DefaultSupportedFormats = []string{"mp3", "wav", "m4a", "ogg", "flac", "aac", "wma"}

// Load reads a .env file (if present), then binds environment variables
// and defaults via viper, returning a fully-populated Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// Absence of a .env file is normal outside development.
		_ = err
	}

	v := viper.New()
	v.SetEnvPrefix("TRANSCRIFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("work_dir", "data")
	v.SetDefault("whisper_model", "base")
	v.SetDefault("device", "auto")
	v.SetDefault("use_gpu", true)
	v.SetDefault("hf_token", "")
	v.SetDefault("max_file_size_bytes", int64(5*1024*1024*1024)) // 5 GiB
	v.SetDefault("max_processing_time_seconds", 3600)
	v.SetDefault("retain_hours", 48)
	v.SetDefault("worker_concurrency", 2)
	v.SetDefault("batch_max_concurrent", 5)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_dir", "")
	v.SetDefault("http_addr", ":8090")

	v.SetConfigName("transcriflow")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/transcriflow")
	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{
		WorkDir:            v.GetString("work_dir"),
		WhisperModel:       v.GetString("whisper_model"),
		Device:             v.GetString("device"),
		UseGPU:             v.GetBool("use_gpu"),
		HFToken:            v.GetString("hf_token"),
		MaxFileSizeBytes:   v.GetInt64("max_file_size_bytes"),
		MaxProcessingSecs:  v.GetInt("max_processing_time_seconds"),
		RetainHours:        v.GetInt("retain_hours"),
		WorkerConcurrency:  v.GetInt("worker_concurrency"),
		BatchMaxConcurrent: v.GetInt("batch_max_concurrent"),
		LogLevel:           v.GetString("log_level"),
		LogDir:             v.GetString("log_dir"),
		HTTPAddr:           v.GetString("http_addr"),
		SupportedFormats:   DefaultSupportedFormats,
	}
	cfg.MaxProcessingTime = time.Duration(cfg.MaxProcessingSecs) * time.Second
	if cfg.BatchMaxConcurrent > 5 {
		cfg.BatchMaxConcurrent = 5
	}
	return cfg, nil
}

// RetentionHorizon converts RetainHours to a time.Duration.
func (c *Config) RetentionHorizon() time.Duration {
	return time.Duration(c.RetainHours) * time.Hour
}

// DefaultDevice reports the process-wide device override a job should
// fall back to when it leaves its own device hint empty (spec §6.4's
// device/use_gpu settings, §4.3's "Override = CPU" row). An explicit
// device other than "auto" always wins; otherwise use_gpu=false forces
// CPU; otherwise per-job GPU auto-detection is left to run.
func (c *Config) DefaultDevice() string {
	if c.Device != "" && c.Device != "auto" {
		return c.Device
	}
	if !c.UseGPU {
		return "cpu"
	}
	return c.Device
}

// IsSupportedFormat reports whether ext (without the leading dot) is a
// recognized audio format.
func (c *Config) IsSupportedFormat(ext string) bool {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, f := range c.SupportedFormats {
		if f == ext {
			return true
		}
	}
	return false
}
