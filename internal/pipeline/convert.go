package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/banshee-data/kitti-mcap/internal/encode"
	"github.com/banshee-data/kitti-mcap/internal/extrinsics"
	"github.com/banshee-data/kitti-mcap/internal/foxglove"
	"github.com/banshee-data/kitti-mcap/internal/kitti"
	"github.com/banshee-data/kitti-mcap/internal/mcap"
	"github.com/banshee-data/kitti-mcap/internal/monitoring"
	"github.com/banshee-data/kitti-mcap/internal/timeutil"
	"github.com/banshee-data/kitti-mcap/internal/version"
)

type channels struct {
	lidar, camera, tf uint16
}

// Convert runs a full conversion. Setup and output failures are returned
// as errors; per-frame failures are logged and counted. The container is
// always finalised once opened, even when every sample failed, in which
// case the error is ErrNoMessagesWritten.
func Convert(ctx context.Context, opts Options) (*Result, error) {
	opts.setDefaults()
	began := opts.Clock.Now()

	step, err := kitti.StepNs(opts.FrameRate)
	if err != nil {
		return nil, err
	}

	frames, err := kitti.FindFrames(opts.FS, opts.KittiDir)
	if err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("%w in %s", kitti.ErrNoFrames, opts.KittiDir)
	}
	monitoring.Logf("Found %d frames to convert", len(frames))

	schemas := make(map[string][]byte, 3)
	for _, name := range []string{foxglove.PointCloudType, foxglove.CompressedImageType, foxglove.FrameTransformsType} {
		data, err := foxglove.BuildSchema(name)
		if err != nil {
			return nil, err
		}
		schemas[name] = data
	}

	var start uint64
	if opts.StartTimeNs != nil {
		start = *opts.StartTimeNs
	} else {
		start = timeutil.UnixNanos(opts.Clock)
	}

	transforms, calibrated, err := staticTransforms(opts, start)
	if err != nil {
		return nil, err
	}

	w, err := mcap.Create(opts.OutputPath, mcap.Options{
		Library:     version.Library(),
		Compression: opts.Compression,
		ChunkSize:   opts.ChunkSize,
	})
	if err != nil {
		return nil, err
	}
	defer w.Close()

	if err := w.Start(); err != nil {
		return nil, fmt.Errorf("failed to start container: %w", err)
	}
	chans, err := register(w, schemas)
	if err != nil {
		return nil, err
	}

	tf := foxglove.FrameTransforms{}
	for _, t := range transforms {
		tf.Transforms = append(tf.Transforms, t.Foxglove())
	}
	payload := tf.Marshal()
	monitoring.Debugf("TF transforms=%d serialized_bytes=%d", len(tf.Transforms), len(payload))
	if err := w.Append(chans.tf, start, start, payload); err != nil {
		return nil, fmt.Errorf("failed to write transforms: %w", err)
	}

	res := &Result{
		Frames:      len(frames),
		StartTimeNs: start,
		StepNs:      step,
		Calibrated:  calibrated,
		OutputPath:  opts.OutputPath,
	}
	acc, err := newAccumulator()
	if err != nil {
		return nil, err
	}

	stamps, err := kitti.Timestamps(start, opts.FrameRate, len(frames))
	if err != nil {
		return nil, err
	}
	enc := frameEncoder{fs: opts.FS}
	err = encodeOrdered(ctx, opts.Workers, len(frames),
		func(i int) frameResult { return enc.encode(frames[i], stamps[i]) },
		func(i int, r frameResult) error {
			if err := emit(w, chans, i, r, &res.Counts, acc); err != nil {
				return err
			}
			if (i+1)%progressEvery == 0 {
				monitoring.Logf("Processed %d/%d frames...", i+1, len(frames))
			}
			return nil
		})
	if err != nil {
		return nil, err
	}

	res.TotalPoints = acc.totalPoints
	if err := w.WriteMetadata(MetadataName, runMetadata(opts, res)); err != nil {
		return nil, fmt.Errorf("failed to write run metadata: %w", err)
	}
	res.Statistics = w.Statistics()
	if err := w.Finish(); err != nil {
		return nil, err
	}

	res.PointsPerSweep = acc.points.quantiles()
	res.JPEGBytes = acc.jpeg.quantiles()
	if res.OutputBytes, res.Digest, err = digestFile(opts.OutputPath); err != nil {
		return nil, err
	}
	if opts.Verify {
		if err := verify(opts.OutputPath, res); err != nil {
			return res, err
		}
		res.Verified = true
	}
	res.Elapsed = opts.Clock.Since(began)

	monitoring.Logf("Write summary: %s", res.Counts)
	if res.Written() == 0 {
		return res, ErrNoMessagesWritten
	}
	return res, nil
}

// staticTransforms returns map→camera and, when calibration is available,
// camera→velodyne. A calibration directory without the file is only a
// warning; a present but malformed file is fatal.
func staticTransforms(opts Options, start uint64) ([]extrinsics.RigidTransform, bool, error) {
	out := []extrinsics.RigidTransform{
		extrinsics.Identity(extrinsics.FrameMap, extrinsics.FrameCamera, start),
	}
	if opts.CalibDir == "" {
		return out, false, nil
	}

	path := kitti.CalibrationPath(opts.CalibDir)
	if !opts.FS.Exists(path) {
		monitoring.Logf("Warning: %s not found in calib_dir: %s", kitti.CalibrationFile, opts.CalibDir)
		return out, false, nil
	}
	data, err := opts.FS.ReadFile(path)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read calibration: %w", err)
	}
	cal, err := extrinsics.ParseCalibration(bytes.NewReader(data), path)
	if err != nil {
		return nil, false, err
	}
	if err := extrinsics.ValidateRotation(cal.R); err != nil {
		monitoring.Logf("Warning: %s: %v", path, err)
	}

	t := extrinsics.FromCalibration(extrinsics.FrameCamera, extrinsics.FrameVelodyne, cal, start)
	monitoring.Debugf("camera->velodyne translation=%v rotation=%+v", t.Translation, t.Rotation)
	return append(out, t), true, nil
}

func register(w *mcap.Writer, schemas map[string][]byte) (channels, error) {
	var c channels
	for _, r := range []struct {
		typeName string
		topic    string
		id       *uint16
	}{
		{foxglove.PointCloudType, TopicLidar, &c.lidar},
		{foxglove.CompressedImageType, TopicCamera, &c.camera},
		{foxglove.FrameTransformsType, TopicTransforms, &c.tf},
	} {
		sid, err := w.RegisterSchema(r.typeName, foxglove.SchemaEncoding, schemas[r.typeName])
		if err != nil {
			return c, fmt.Errorf("failed to register schema %s: %w", r.typeName, err)
		}
		cid, err := w.RegisterChannel(sid, r.topic, MessageEncoding, nil)
		if err != nil {
			return c, fmt.Errorf("failed to register channel %s: %w", r.topic, err)
		}
		*r.id = cid
	}
	return c, nil
}

// emit appends one frame's samples in LiDAR-then-camera order. Encode
// failures are counted; write failures are returned.
func emit(w *mcap.Writer, chans channels, i int, r frameResult, counts *Counts, acc *accumulator) error {
	if r.lidarErr != nil {
		counts.LidarFail++
		monitoring.Logf("Warning: Failed to process LiDAR frame %s: %s", r.frame.ID, describe(r.lidarErr))
	} else {
		if i < debugFrames {
			monitoring.Debugf("LiDAR frame=%s points=%d stride=%d serialized_bytes=%d",
				r.frame.ID, r.lidar.PointCount, r.lidar.Stride, len(r.lidar.Payload))
		}
		if err := w.Append(chans.lidar, r.lidar.TimestampNs, r.lidar.TimestampNs, r.lidar.Payload); err != nil {
			return fmt.Errorf("failed to write lidar frame %s: %w", r.frame.ID, err)
		}
		counts.LidarOK++
		acc.points.add(float64(r.lidar.PointCount))
		acc.totalPoints += int64(r.lidar.PointCount)
	}

	if r.cameraErr != nil {
		counts.CameraFail++
		monitoring.Logf("Warning: Failed to process camera frame %s: %s", r.frame.ID, describe(r.cameraErr))
	} else {
		if i < debugFrames {
			monitoring.Debugf("Camera frame=%s size=%dx%d jpeg_bytes=%d serialized_bytes=%d",
				r.frame.ID, r.camera.Width, r.camera.Height, r.camera.ImageBytes, len(r.camera.Payload))
		}
		if err := w.Append(chans.camera, r.camera.TimestampNs, r.camera.TimestampNs, r.camera.Payload); err != nil {
			return fmt.Errorf("failed to write camera frame %s: %w", r.frame.ID, err)
		}
		counts.CameraOK++
		acc.jpeg.add(float64(r.camera.ImageBytes))
	}
	return nil
}

// describe names the failure class alongside the message.
func describe(err error) string {
	var layout *encode.UnsupportedPointLayoutError
	var img *encode.ImageEncodeError
	switch {
	case errors.As(err, &layout):
		return "UnsupportedPointLayout: " + err.Error()
	case errors.As(err, &img):
		return "ImageEncode: " + err.Error()
	case errors.Is(err, errRead):
		return "Read: " + err.Error()
	default:
		return "Decode: " + err.Error()
	}
}

func runMetadata(opts Options, res *Result) map[string]string {
	md := map[string]string{
		"source":        opts.KittiDir,
		"frame_rate":    strconv.FormatFloat(opts.FrameRate, 'g', -1, 64),
		"frames":        strconv.Itoa(res.Frames),
		"start_time_ns": strconv.FormatUint(res.StartTimeNs, 10),
		"step_ns":       strconv.FormatUint(res.StepNs, 10),
		"points_total":  strconv.FormatInt(res.TotalPoints, 10),
		"lidar_ok":      strconv.Itoa(res.LidarOK),
		"lidar_fail":    strconv.Itoa(res.LidarFail),
		"camera_ok":     strconv.Itoa(res.CameraOK),
		"camera_fail":   strconv.Itoa(res.CameraFail),
		"calibrated":    strconv.FormatBool(res.Calibrated),
		"schema":        foxglove.SchemaVersion,
	}
	if opts.CalibDir != "" {
		md["calib_dir"] = opts.CalibDir
	}
	return md
}
