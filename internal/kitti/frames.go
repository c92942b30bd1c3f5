// Package kitti discovers paired LiDAR/camera frames in a KITTI raw
// sequence directory.
package kitti

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/banshee-data/kitti-mcap/internal/fsutil"
)

// Layout of a KITTI raw drive directory.
const (
	LidarDir        = "velodyne_points/data"
	CameraDir       = "image_02/data"
	LidarExt        = ".bin"
	CameraExt       = ".png"
	CalibrationFile = "calib_velo_to_cam.txt"
)

// ErrNoFrames is returned when no LiDAR sweep has a matching image.
var ErrNoFrames = errors.New("no matched lidar/camera frames")

// Frame is one LiDAR sweep and the camera image sharing its stem.
type Frame struct {
	ID        string
	LidarPath string
	ImagePath string
}

// MissingDirError reports a required input directory that does not exist.
type MissingDirError struct {
	Path string
}

func (e *MissingDirError) Error() string {
	return fmt.Sprintf("directory not found: %s", e.Path)
}

// FindFrames pairs <root>/velodyne_points/data/*.bin with
// <root>/image_02/data/*.png by file stem. Files without a partner are
// dropped. Frames are ordered lexicographically by stem.
func FindFrames(fsys fsutil.FileSystem, root string) ([]Frame, error) {
	lidarDir := filepath.Join(root, LidarDir)
	cameraDir := filepath.Join(root, CameraDir)
	for _, dir := range []string{lidarDir, cameraDir} {
		if !fsys.IsDir(dir) {
			return nil, &MissingDirError{Path: dir}
		}
	}

	lidar, err := stems(fsys, lidarDir, LidarExt)
	if err != nil {
		return nil, err
	}
	images, err := stems(fsys, cameraDir, CameraExt)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(lidar))
	for id := range lidar {
		if _, ok := images[id]; ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	frames := make([]Frame, len(ids))
	for i, id := range ids {
		frames[i] = Frame{
			ID:        id,
			LidarPath: filepath.Join(lidarDir, lidar[id]),
			ImagePath: filepath.Join(cameraDir, images[id]),
		}
	}
	return frames, nil
}

// stems maps file stem → file name for regular files with ext in dir.
func stems(fsys fsutil.FileSystem, dir, ext string) (map[string]string, error) {
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if filepath.Ext(name) != ext {
			continue
		}
		out[strings.TrimSuffix(name, ext)] = name
	}
	return out, nil
}

// Timestamps returns n synthetic timestamps starting at startNs and spaced
// 1e9/rate nanoseconds apart. The step is truncated to whole nanoseconds.
func Timestamps(startNs uint64, rate float64, n int) ([]uint64, error) {
	step, err := StepNs(rate)
	if err != nil {
		return nil, err
	}
	out := make([]uint64, n)
	for i := range out {
		out[i] = startNs + uint64(i)*step
	}
	return out, nil
}

// StepNs is the inter-frame spacing for rate frames per second.
func StepNs(rate float64) (uint64, error) {
	if !(rate > 0) {
		return 0, fmt.Errorf("frame rate must be positive, got %v", rate)
	}
	step := 1e9 / rate
	if step < 1 {
		return 0, fmt.Errorf("frame rate %v is above 1 GHz", rate)
	}
	return uint64(step), nil
}

// CalibrationPath is the LiDAR-to-camera extrinsics file inside calibDir.
func CalibrationPath(calibDir string) string {
	return filepath.Join(calibDir, CalibrationFile)
}
