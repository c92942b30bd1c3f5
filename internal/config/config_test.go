package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestEmptyConfigDefaults(t *testing.T) {
	cfg := EmptyConfig()

	if got := cfg.GetOutput(); got != DefaultOutput {
		t.Errorf("GetOutput() = %q, want %q", got, DefaultOutput)
	}
	if got := cfg.GetFrameRate(); got != 10.0 {
		t.Errorf("GetFrameRate() = %v, want 10", got)
	}
	if got := cfg.GetCompression(); got != "zstd" {
		t.Errorf("GetCompression() = %q, want zstd", got)
	}
	if got := cfg.GetWorkers(); got != 1 {
		t.Errorf("GetWorkers() = %d, want 1", got)
	}
	if got := cfg.GetChunkSize(); got != DefaultChunkSize {
		t.Errorf("GetChunkSize() = %d, want %d", got, DefaultChunkSize)
	}
	if _, ok := cfg.GetStartTimeNs(); ok {
		t.Error("GetStartTimeNs() reported set on empty config")
	}
	if cfg.GetDebug() || cfg.GetVerify() || cfg.GetCalibDir() != "" || cfg.GetHistoryDB() != "" {
		t.Error("optional switches should default to off/empty")
	}
}

func TestLoadConfig_YAML(t *testing.T) {
	path := writeConfig(t, "run.yaml", `
kitti_dir: /data/2011_09_26_drive_0001_sync
output: drive1.mcap
frame_rate: 5
calib_dir: /data/2011_09_26
compression: lz4
workers: 4
start_time_ns: 1317000000000000000
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.GetKittiDir() != "/data/2011_09_26_drive_0001_sync" {
		t.Errorf("kitti_dir = %q", cfg.GetKittiDir())
	}
	if cfg.GetOutput() != "drive1.mcap" || cfg.GetFrameRate() != 5 || cfg.GetCompression() != "lz4" {
		t.Errorf("unexpected values: output=%q rate=%v compression=%q",
			cfg.GetOutput(), cfg.GetFrameRate(), cfg.GetCompression())
	}
	if cfg.GetWorkers() != 4 {
		t.Errorf("workers = %d, want 4", cfg.GetWorkers())
	}
	if ns, ok := cfg.GetStartTimeNs(); !ok || ns != 1317000000000000000 {
		t.Errorf("start_time_ns = %d (set=%v)", ns, ok)
	}
	// Unset fields keep defaults.
	if cfg.GetChunkSize() != DefaultChunkSize {
		t.Errorf("chunk_size = %d, want default", cfg.GetChunkSize())
	}
}

func TestLoadConfig_JSON(t *testing.T) {
	path := writeConfig(t, "run.json", `{"kitti_dir": "/k", "frame_rate": 2.5, "verify": true}`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.GetFrameRate() != 2.5 || !cfg.GetVerify() {
		t.Errorf("frame_rate=%v verify=%v", cfg.GetFrameRate(), cfg.GetVerify())
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		body    string
		wantErr string
	}{
		{"bad extension", "run.toml", "kitti_dir = 1", "extension"},
		{"bad yaml", "run.yaml", "frame_rate: [", "parse"},
		{"zero frame rate", "run.yaml", "frame_rate: 0", "frame_rate"},
		{"negative frame rate", "run.yaml", "frame_rate: -10", "frame_rate"},
		{"unknown compression", "run.yaml", "compression: brotli", "compression"},
		{"too many workers", "run.yaml", "workers: 1000", "workers"},
		{"zero chunk size", "run.yaml", "chunk_size: 0", "chunk_size"},
		{"negative start", "run.yaml", "start_time_ns: -1", "start_time_ns"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.file, tt.body)
			_, err := LoadConfig(path)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestRequireInputs(t *testing.T) {
	cfg := EmptyConfig()
	if err := cfg.RequireInputs(); err == nil {
		t.Fatal("expected error without kitti_dir")
	}

	cfg.KittiDir = PtrString("/data")
	if err := cfg.RequireInputs(); err != nil {
		t.Fatalf("RequireInputs failed: %v", err)
	}

	cfg.FrameRate = PtrFloat64(0)
	if err := cfg.RequireInputs(); err == nil {
		t.Fatal("expected frame_rate validation error")
	}
}
