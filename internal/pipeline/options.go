// Package pipeline converts a KITTI raw drive into a single MCAP log with
// point cloud, camera and transform channels.
package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/kitti-mcap/internal/fsutil"
	"github.com/banshee-data/kitti-mcap/internal/mcap"
	"github.com/banshee-data/kitti-mcap/internal/timeutil"
)

// Channel topics and their shared message encoding.
const (
	TopicLidar      = "/velodyne_points"
	TopicCamera     = "/camera/image_raw"
	TopicTransforms = "/tf"
	MessageEncoding = "protobuf"

	// MetadataName is the name of the metadata record describing the run.
	MetadataName = "kitti_conversion"

	progressEvery = 10
	debugFrames   = 3
)

// ErrNoMessagesWritten is returned after the container is finalised when
// every LiDAR and camera sample failed.
var ErrNoMessagesWritten = errors.New("wrote 0 messages; see warnings above, run with --debug for details")

// Options describes a single conversion.
type Options struct {
	KittiDir   string
	OutputPath string
	// CalibDir is optional. When set, calib_velo_to_cam.txt inside it adds a
	// camera→velodyne transform.
	CalibDir  string
	FrameRate float64
	// StartTimeNs stamps the first frame. Nil means the clock's current time.
	StartTimeNs *uint64

	Workers     int
	Compression mcap.Compression
	ChunkSize   int
	Verify      bool

	FS    fsutil.FileSystem
	Clock timeutil.Clock
}

func (o *Options) setDefaults() {
	if o.FS == nil {
		o.FS = fsutil.OSFileSystem{}
	}
	if o.Clock == nil {
		o.Clock = timeutil.RealClock{}
	}
	if o.Workers < 1 {
		o.Workers = 1
	}
}

// Counts tallies per-sample outcomes.
type Counts struct {
	LidarOK    int
	LidarFail  int
	CameraOK   int
	CameraFail int
}

// Written is the number of sample messages appended, excluding /tf.
func (c Counts) Written() int { return c.LidarOK + c.CameraOK }

func (c Counts) String() string {
	return fmt.Sprintf("lidar_ok=%d lidar_fail=%d camera_ok=%d camera_fail=%d",
		c.LidarOK, c.LidarFail, c.CameraOK, c.CameraFail)
}

// Quantiles summarises a distribution.
type Quantiles struct {
	Count         int
	P50, P95, Max float64
}

// Result reports what a conversion produced. It is returned alongside
// ErrNoMessagesWritten so callers can still print the summary.
type Result struct {
	Counts
	Frames      int
	StartTimeNs uint64
	StepNs      uint64
	Calibrated  bool
	TotalPoints int64
	OutputPath  string
	OutputBytes int64
	Digest      string // BLAKE3, hex
	Statistics  mcap.Statistics
	Verified    bool
	Elapsed     time.Duration

	PointsPerSweep Quantiles
	JPEGBytes      Quantiles
}
