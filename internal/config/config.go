package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Transcription modes.
const (
	ModeUpload = "upload"
	ModeBlob   = "blob"
)

var errEmptyPath = errors.New("config path cannot be empty")

// Config represents the complete client configuration
type Config struct {
	Transcription TranscriptionConfig `yaml:"transcription"`
	Capture       CaptureConfig       `yaml:"capture"`
	Output        OutputConfig        `yaml:"output"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// TranscriptionConfig describes the remote speech-to-text endpoint
type TranscriptionConfig struct {
	BaseURL    string `yaml:"base_url"`
	UploadPath string `yaml:"upload_path"`
	BlobPath   string `yaml:"blob_path"`
	Mode       string `yaml:"mode"` // "upload" or "blob"
	APIKey     string `yaml:"api_key"`
	UserAgent  string `yaml:"user_agent"`
	Timeout    int    `yaml:"timeout"` // seconds
	MaxRetries int    `yaml:"max_retries"`
}

// CaptureConfig contains microphone parameters
type CaptureConfig struct {
	SampleRate  int `yaml:"sample_rate"`
	Channels    int `yaml:"channels"`
	MaxDuration int `yaml:"max_duration"` // seconds, 0 means unlimited
}

// OutputConfig controls where transcripts and recordings are written
type OutputConfig struct {
	Directory        string `yaml:"directory"`
	NormalizeUploads bool   `yaml:"normalize_uploads"`
}

// MetricsConfig enables the Prometheus endpoint when Address is set
type MetricsConfig struct {
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the configuration used when a key is absent from the file.
func Default() *Config {
	return &Config{
		Transcription: TranscriptionConfig{
			BaseURL:    "http://127.0.0.1:5000",
			UploadPath: "/upload",
			BlobPath:   "/transcribe-audio",
			Mode:       ModeUpload,
			UserAgent:  "wavscribe/1.0",
			Timeout:    60,
			MaxRetries: 3,
		},
		Capture: CaptureConfig{
			SampleRate: 44100,
			Channels:   1,
		},
		Output: OutputConfig{
			Directory: ".",
		},
		Metrics: MetricsConfig{
			Path: "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Load reads and parses the configuration file. Keys missing from the
// file keep their Default value.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errEmptyPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return Parse(data)
}

// Parse decodes YAML content on top of the defaults and validates it.
func Parse(data []byte) (*Config, error) {
	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate checks every section
func (c *Config) Validate() error {
	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}

	if err := c.Output.Validate(); err != nil {
		return fmt.Errorf("output config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	if t.BaseURL == "" {
		return errors.New("base_url cannot be empty")
	}

	u, err := url.Parse(t.BaseURL)
	if err != nil {
		return fmt.Errorf("base_url is invalid: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("base_url must use http or https, got %q", u.Scheme)
	}

	if !strings.HasPrefix(t.UploadPath, "/") {
		return fmt.Errorf("upload_path must start with '/', got %q", t.UploadPath)
	}

	if !strings.HasPrefix(t.BlobPath, "/") {
		return fmt.Errorf("blob_path must start with '/', got %q", t.BlobPath)
	}

	if t.Mode != ModeUpload && t.Mode != ModeBlob {
		return fmt.Errorf("mode must be '%s' or '%s', got '%s'", ModeUpload, ModeBlob, t.Mode)
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	if t.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", t.MaxRetries)
	}

	return nil
}

// Validate validates capture configuration
func (c *CaptureConfig) Validate() error {
	if c.SampleRate < 8000 || c.SampleRate > 192000 {
		return fmt.Errorf("sample_rate must be between 8000 and 192000 Hz, got %d", c.SampleRate)
	}

	if c.Channels < 1 || c.Channels > 8 {
		return fmt.Errorf("channels must be between 1 and 8, got %d", c.Channels)
	}

	if c.MaxDuration < 0 {
		return fmt.Errorf("max_duration cannot be negative, got %d", c.MaxDuration)
	}

	return nil
}

// Validate validates output configuration
func (o *OutputConfig) Validate() error {
	if o.Directory == "" {
		return errors.New("directory cannot be empty")
	}

	return nil
}

// Validate validates metrics configuration
func (m *MetricsConfig) Validate() error {
	if m.Address != "" && !strings.HasPrefix(m.Path, "/") {
		return fmt.Errorf("path must start with '/', got %q", m.Path)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	if l.Output == "" {
		return errors.New("output cannot be empty")
	}

	return nil
}

// TimeoutDuration returns the transcription timeout as a time.Duration
func (t *TranscriptionConfig) TimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// MaxDurationValue returns the recording limit, zero when unlimited
func (c *CaptureConfig) MaxDurationValue() time.Duration {
	return time.Duration(c.MaxDuration) * time.Second
}

// Enabled reports whether the metrics endpoint should be served
func (m *MetricsConfig) Enabled() bool {
	return m.Address != ""
}
