// Package config holds the conversion settings shared by the CLI and the
// pipeline. Values may come from a YAML/JSON file and be overridden by flags.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Defaults applied by the Get* accessors when a field is unset.
const (
	DefaultOutput      = "kitti_data.mcap"
	DefaultFrameRate   = 10.0
	DefaultWorkers     = 1
	DefaultCompression = "zstd"
	DefaultChunkSize   = 4 * 1024 * 1024
	MaxWorkers         = 64
)

// ConvertConfig represents the root configuration for a conversion run.
// Every field is optional; nil means "use the default".
type ConvertConfig struct {
	KittiDir    *string  `yaml:"kitti_dir,omitempty" json:"kitti_dir,omitempty"`
	Output      *string  `yaml:"output,omitempty" json:"output,omitempty"`
	FrameRate   *float64 `yaml:"frame_rate,omitempty" json:"frame_rate,omitempty"`
	CalibDir    *string  `yaml:"calib_dir,omitempty" json:"calib_dir,omitempty"`
	StartTimeNs *int64   `yaml:"start_time_ns,omitempty" json:"start_time_ns,omitempty"`
	Debug       *bool    `yaml:"debug,omitempty" json:"debug,omitempty"`

	// Container tuning
	Compression *string `yaml:"compression,omitempty" json:"compression,omitempty"` // "zstd", "lz4" or "none"
	ChunkSize   *int64  `yaml:"chunk_size,omitempty" json:"chunk_size,omitempty"`

	// Execution
	Workers   *int    `yaml:"workers,omitempty" json:"workers,omitempty"`
	Verify    *bool   `yaml:"verify,omitempty" json:"verify,omitempty"`
	HistoryDB *string `yaml:"history_db,omitempty" json:"history_db,omitempty"`
}

// Helper functions to create pointers
func PtrFloat64(v float64) *float64 { return &v }
func PtrBool(v bool) *bool          { return &v }
func PtrString(v string) *string    { return &v }
func PtrInt(v int) *int             { return &v }
func PtrInt64(v int64) *int64       { return &v }

// EmptyConfig returns a ConvertConfig with all fields set to nil.
func EmptyConfig() *ConvertConfig {
	return &ConvertConfig{}
}

// LoadConfig loads a ConvertConfig from a YAML or JSON file.
// The file is validated to ensure it has a known extension and is under the
// max file size. Fields omitted from the file keep their defaults.
func LoadConfig(path string) (*ConvertConfig, error) {
	cleanPath := filepath.Clean(path)
	switch ext := strings.ToLower(filepath.Ext(cleanPath)); ext {
	case ".yaml", ".yml", ".json":
	default:
		return nil, fmt.Errorf("config file must have .yaml, .yml or .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// JSON is a subset of YAML, so one decoder covers both.
	cfg := EmptyConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configured values are valid. Unset fields are
// not checked.
func (c *ConvertConfig) Validate() error {
	if c.FrameRate != nil {
		r := *c.FrameRate
		if math.IsNaN(r) || math.IsInf(r, 0) || r <= 0 {
			return fmt.Errorf("frame_rate must be a positive number, got %v", r)
		}
	}

	if c.StartTimeNs != nil && *c.StartTimeNs < 0 {
		return fmt.Errorf("start_time_ns must be non-negative, got %d", *c.StartTimeNs)
	}

	if c.Compression != nil {
		switch *c.Compression {
		case "zstd", "lz4", "none", "":
		default:
			return fmt.Errorf("compression must be one of zstd, lz4, none; got %q", *c.Compression)
		}
	}

	if c.ChunkSize != nil && *c.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive, got %d", *c.ChunkSize)
	}

	if c.Workers != nil && (*c.Workers < 1 || *c.Workers > MaxWorkers) {
		return fmt.Errorf("workers must be between 1 and %d, got %d", MaxWorkers, *c.Workers)
	}

	return nil
}

// RequireInputs checks the fields a run cannot proceed without.
func (c *ConvertConfig) RequireInputs() error {
	if c.GetKittiDir() == "" {
		return fmt.Errorf("kitti_dir is required")
	}
	return c.Validate()
}

// GetKittiDir returns the dataset root or "".
func (c *ConvertConfig) GetKittiDir() string {
	if c.KittiDir == nil {
		return ""
	}
	return *c.KittiDir
}

// GetOutput returns the output path or the default.
func (c *ConvertConfig) GetOutput() string {
	if c.Output == nil || *c.Output == "" {
		return DefaultOutput
	}
	return *c.Output
}

// GetFrameRate returns the frame rate in Hz or the default.
func (c *ConvertConfig) GetFrameRate() float64 {
	if c.FrameRate == nil {
		return DefaultFrameRate
	}
	return *c.FrameRate
}

// GetCalibDir returns the calibration directory or "" when unset.
func (c *ConvertConfig) GetCalibDir() string {
	if c.CalibDir == nil {
		return ""
	}
	return *c.CalibDir
}

// GetStartTimeNs returns the configured start time and whether it was set.
// When unset the pipeline uses the current wall clock.
func (c *ConvertConfig) GetStartTimeNs() (int64, bool) {
	if c.StartTimeNs == nil {
		return 0, false
	}
	return *c.StartTimeNs, true
}

// GetDebug returns the debug flag or the default.
func (c *ConvertConfig) GetDebug() bool {
	if c.Debug == nil {
		return false
	}
	return *c.Debug
}

// GetCompression returns the chunk compression name or the default.
func (c *ConvertConfig) GetCompression() string {
	if c.Compression == nil || *c.Compression == "" {
		return DefaultCompression
	}
	return *c.Compression
}

// GetChunkSize returns the target chunk size in bytes or the default.
func (c *ConvertConfig) GetChunkSize() int64 {
	if c.ChunkSize == nil {
		return DefaultChunkSize
	}
	return *c.ChunkSize
}

// GetWorkers returns the encode worker count or the default.
func (c *ConvertConfig) GetWorkers() int {
	if c.Workers == nil {
		return DefaultWorkers
	}
	return *c.Workers
}

// GetVerify returns whether the output should be re-scanned after writing.
func (c *ConvertConfig) GetVerify() bool {
	if c.Verify == nil {
		return false
	}
	return *c.Verify
}

// GetHistoryDB returns the run-history database path or "" when disabled.
func (c *ConvertConfig) GetHistoryDB() string {
	if c.HistoryDB == nil {
		return ""
	}
	return *c.HistoryDB
}
