package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/banshee-data/kitti-mcap/internal/extrinsics"
	"github.com/banshee-data/kitti-mcap/internal/foxglove"
	"github.com/banshee-data/kitti-mcap/internal/fsutil"
	"github.com/banshee-data/kitti-mcap/internal/kitti"
	"github.com/banshee-data/kitti-mcap/internal/mcap"
	"github.com/banshee-data/kitti-mcap/internal/monitoring"
	"github.com/banshee-data/kitti-mcap/internal/testutil"
	"github.com/banshee-data/kitti-mcap/internal/timeutil"
)

const testStart = uint64(1_317_000_000_000_000_000)

// captureLogs redirects monitoring.Logf for the duration of the test.
func captureLogs(t *testing.T) func() []string {
	t.Helper()
	var mu sync.Mutex
	var lines []string
	monitoring.SetLogger(func(format string, v ...interface{}) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	t.Cleanup(func() {
		monitoring.SetLogger(log.Printf)
		monitoring.SetDebug(false)
	})
	return func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), lines...)
	}
}

func contains(lines []string, substr string) bool {
	for _, l := range lines {
		if strings.Contains(l, substr) {
			return true
		}
	}
	return false
}

type env struct {
	fs   *fsutil.MemoryFileSystem
	opts Options
}

func newEnv(t *testing.T, d testutil.Drive) *env {
	t.Helper()
	fs := fsutil.NewMemoryFileSystem()
	testutil.WriteDrive(t, fs, "/kitti", d)
	start := testStart
	return &env{
		fs: fs,
		opts: Options{
			KittiDir:    "/kitti",
			OutputPath:  filepath.Join(t.TempDir(), "out.mcap"),
			FrameRate:   10,
			StartTimeNs: &start,
			Compression: mcap.CompressionZstd,
			FS:          fs,
			Clock:       timeutil.NewMockClock(time.Unix(0, 0)),
		},
	}
}

func decodeTransforms(t *testing.T, data []byte) protoreflect.Message {
	t.Helper()
	set, err := foxglove.DefaultRegistry().Resolve(foxglove.FrameTransformsType)
	require.NoError(t, err)
	files, err := protodesc.NewFiles(set)
	require.NoError(t, err)
	desc, err := files.FindDescriptorByName(foxglove.FrameTransformsType)
	require.NoError(t, err)
	msg := dynamicpb.NewMessage(desc.(protoreflect.MessageDescriptor))
	require.NoError(t, proto.Unmarshal(data, msg))
	return msg
}

func frameIDs(t *testing.T, msg protoreflect.Message) [][2]string {
	t.Helper()
	list := msg.Get(msg.Descriptor().Fields().ByName("transforms")).List()
	var out [][2]string
	for i := 0; i < list.Len(); i++ {
		tr := list.Get(i).Message()
		fields := tr.Descriptor().Fields()
		out = append(out, [2]string{
			tr.Get(fields.ByName("parent_frame_id")).String(),
			tr.Get(fields.ByName("child_frame_id")).String(),
		})
	}
	return out
}

func TestConvert_WithCalibration(t *testing.T) {
	captureLogs(t)
	e := newEnv(t, testutil.Drive{LidarStems: testutil.Stems(3), ImageStems: testutil.Stems(3), Points: 10})
	testutil.WriteCalibration(t, e.fs, "/calib", testutil.VeloToCam)
	e.opts.CalibDir = "/calib"
	e.opts.Verify = true

	res, err := Convert(context.Background(), e.opts)
	require.NoError(t, err)
	assert.Equal(t, Counts{LidarOK: 3, CameraOK: 3}, res.Counts)
	assert.True(t, res.Calibrated)
	assert.True(t, res.Verified)
	assert.Equal(t, int64(30), res.TotalPoints)
	assert.Len(t, res.Digest, 64)
	assert.Equal(t, 3, res.PointsPerSweep.Count)
	assert.InDelta(t, 10, res.PointsPerSweep.P50, 0.2)

	info, err := os.Stat(e.opts.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, info.Size(), res.OutputBytes)

	c, err := mcap.ScanFile(e.opts.OutputPath)
	require.NoError(t, err)

	var names []string
	for id := uint16(1); id <= 3; id++ {
		names = append(names, c.Schemas[id].Name)
	}
	assert.Equal(t, []string{foxglove.PointCloudType, foxglove.CompressedImageType, foxglove.FrameTransformsType}, names)

	tf := c.MessagesOn(TopicTransforms)
	require.Len(t, tf, 1)
	assert.Equal(t, testStart, tf[0].LogTime)
	assert.Equal(t, [][2]string{{"map", "camera"}, {"camera", "velodyne"}}, frameIDs(t, decodeTransforms(t, tf[0].Data)))

	lidar := c.MessagesOn(TopicLidar)
	camera := c.MessagesOn(TopicCamera)
	require.Len(t, lidar, 3)
	require.Len(t, camera, 3)
	for i := range lidar {
		want := testStart + uint64(i)*100_000_000
		assert.Equal(t, want, lidar[i].LogTime)
		assert.Equal(t, want, lidar[i].PublishTime)
		assert.Equal(t, want, camera[i].LogTime)
	}

	require.Len(t, c.Metadata, 1)
	md := c.Metadata[0]
	assert.Equal(t, MetadataName, md.Name)
	assert.Equal(t, "3", md.Metadata["lidar_ok"])
	assert.Equal(t, "30", md.Metadata["points_total"])
	assert.Equal(t, "true", md.Metadata["calibrated"])
	assert.Equal(t, "/kitti", md.Metadata["source"])
}

func TestConvert_AllLidarCorrupt(t *testing.T) {
	logs := captureLogs(t)
	stems := testutil.Stems(3)
	e := newEnv(t, testutil.Drive{LidarStems: stems, ImageStems: stems, CorruptLidar: stems})

	res, err := Convert(context.Background(), e.opts)
	require.NoError(t, err)
	assert.Equal(t, Counts{LidarFail: 3, CameraOK: 3}, res.Counts)
	assert.True(t, contains(logs(), "Failed to process LiDAR frame 0000000000"))
	assert.True(t, contains(logs(), "lidar_ok=0 lidar_fail=3 camera_ok=3 camera_fail=0"))

	c, err := mcap.ScanFile(e.opts.OutputPath)
	require.NoError(t, err)
	assert.Empty(t, c.MessagesOn(TopicLidar))
	assert.Len(t, c.MessagesOn(TopicCamera), 3)
}

func TestConvert_AllSamplesFail(t *testing.T) {
	captureLogs(t)
	stems := testutil.Stems(2)
	e := newEnv(t, testutil.Drive{LidarStems: stems, ImageStems: stems, CorruptLidar: stems, CorruptImages: stems})

	res, err := Convert(context.Background(), e.opts)
	require.ErrorIs(t, err, ErrNoMessagesWritten)
	require.NotNil(t, res)
	assert.Equal(t, Counts{LidarFail: 2, CameraFail: 2}, res.Counts)

	c, err := mcap.ScanFile(e.opts.OutputPath)
	require.NoError(t, err, "container is finalised even with no samples")
	assert.Len(t, c.MessagesOn(TopicTransforms), 1)
	assert.Empty(t, c.MessagesOn(TopicLidar))
	assert.Empty(t, c.MessagesOn(TopicCamera))
}

func TestConvert_MalformedCalibrationIsFatal(t *testing.T) {
	captureLogs(t)
	e := newEnv(t, testutil.Drive{LidarStems: testutil.Stems(1), ImageStems: testutil.Stems(1)})
	testutil.WriteCalibration(t, e.fs, "/calib", "R: 1 0 0 0 1 0 0 0 1\n")
	e.opts.CalibDir = "/calib"

	_, err := Convert(context.Background(), e.opts)
	var calErr *extrinsics.CalibrationFormatError
	require.ErrorAs(t, err, &calErr)
	assert.Equal(t, "T", calErr.Key)

	_, statErr := os.Stat(e.opts.OutputPath)
	assert.True(t, errors.Is(statErr, os.ErrNotExist), "no output on setup failure")
}

func TestConvert_MissingCalibrationWarns(t *testing.T) {
	logs := captureLogs(t)
	e := newEnv(t, testutil.Drive{LidarStems: testutil.Stems(1), ImageStems: testutil.Stems(1)})
	require.NoError(t, e.fs.MkdirAll("/calib", 0o755))
	e.opts.CalibDir = "/calib"

	res, err := Convert(context.Background(), e.opts)
	require.NoError(t, err)
	assert.False(t, res.Calibrated)
	assert.True(t, contains(logs(), "calib_velo_to_cam.txt not found"))

	c, err := mcap.ScanFile(e.opts.OutputPath)
	require.NoError(t, err)
	tf := c.MessagesOn(TopicTransforms)
	require.Len(t, tf, 1)
	assert.Equal(t, [][2]string{{"map", "camera"}}, frameIDs(t, decodeTransforms(t, tf[0].Data)))
}

func TestConvert_SetupErrors(t *testing.T) {
	captureLogs(t)

	t.Run("missing dir", func(t *testing.T) {
		e := newEnv(t, testutil.Drive{LidarStems: testutil.Stems(1)})
		_, err := Convert(context.Background(), e.opts)
		var missing *kitti.MissingDirError
		assert.ErrorAs(t, err, &missing)
	})
	t.Run("no matched frames", func(t *testing.T) {
		e := newEnv(t, testutil.Drive{LidarStems: []string{"a"}, ImageStems: []string{"b"}})
		_, err := Convert(context.Background(), e.opts)
		assert.ErrorIs(t, err, kitti.ErrNoFrames)
		_, statErr := os.Stat(e.opts.OutputPath)
		assert.True(t, errors.Is(statErr, os.ErrNotExist))
	})
	t.Run("bad frame rate", func(t *testing.T) {
		e := newEnv(t, testutil.Drive{LidarStems: testutil.Stems(1), ImageStems: testutil.Stems(1)})
		e.opts.FrameRate = 0
		_, err := Convert(context.Background(), e.opts)
		assert.Error(t, err)
	})
	t.Run("unwritable output", func(t *testing.T) {
		e := newEnv(t, testutil.Drive{LidarStems: testutil.Stems(1), ImageStems: testutil.Stems(1)})
		e.opts.OutputPath = filepath.Join(t.TempDir(), "missing", "out.mcap")
		_, err := Convert(context.Background(), e.opts)
		assert.Error(t, err)
	})
}

func TestConvert_WorkersPreserveOutput(t *testing.T) {
	captureLogs(t)
	stems := testutil.Stems(25)
	d := testutil.Drive{LidarStems: stems, ImageStems: stems, CorruptLidar: []string{stems[4]}, CorruptImages: []string{stems[7]}}

	streams := map[int][]string{}
	for _, workers := range []int{1, 4} {
		e := newEnv(t, d)
		e.opts.Workers = workers
		e.opts.ChunkSize = 4096
		res, err := Convert(context.Background(), e.opts)
		require.NoError(t, err, "workers=%d", workers)
		assert.Equal(t, Counts{LidarOK: 24, LidarFail: 1, CameraOK: 24, CameraFail: 1}, res.Counts)
		streams[workers] = messageStream(t, e.opts.OutputPath)
	}
	assert.Len(t, streams[1], 49)
	assert.Equal(t, streams[1], streams[4])
}

// messageStream flattens every message of a container into comparable
// strings, in file order.
func messageStream(t *testing.T, path string) []string {
	t.Helper()
	c, err := mcap.ScanFile(path)
	require.NoError(t, err)
	var out []string
	for _, m := range c.Messages {
		out = append(out, fmt.Sprintf("%d/%d/%d/%x", m.ChannelID, m.Sequence, m.LogTime, m.Data))
	}
	return out
}

func TestConvert_DebugDoesNotChangeOutput(t *testing.T) {
	logs := captureLogs(t)
	stems := testutil.Stems(12)
	d := testutil.Drive{LidarStems: stems, ImageStems: stems}

	e := newEnv(t, d)
	_, err := Convert(context.Background(), e.opts)
	require.NoError(t, err)
	plain := messageStream(t, e.opts.OutputPath)
	assert.True(t, contains(logs(), "Processed 10/12 frames..."))
	assert.False(t, contains(logs(), "[debug]"))

	monitoring.SetDebug(true)
	e = newEnv(t, d)
	_, err = Convert(context.Background(), e.opts)
	require.NoError(t, err)
	assert.True(t, contains(logs(), "[debug] LiDAR frame=0000000002"))
	assert.False(t, contains(logs(), "[debug] LiDAR frame=0000000003"))
	assert.Equal(t, plain, messageStream(t, e.opts.OutputPath))
}

func TestConvert_DefaultStartTimeFromClock(t *testing.T) {
	captureLogs(t)
	e := newEnv(t, testutil.Drive{LidarStems: testutil.Stems(1), ImageStems: testutil.Stems(1)})
	e.opts.StartTimeNs = nil
	e.opts.Clock = timeutil.NewMockClock(time.Unix(100, 5))

	res, err := Convert(context.Background(), e.opts)
	require.NoError(t, err)
	assert.Equal(t, uint64(100_000_000_005), res.StartTimeNs)
}
