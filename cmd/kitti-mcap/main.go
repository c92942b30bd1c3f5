// Command kitti-mcap converts a KITTI raw drive (Velodyne sweeps and
// image_02 camera frames) into an MCAP log for Foxglove Studio.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/banshee-data/kitti-mcap/internal/config"
	"github.com/banshee-data/kitti-mcap/internal/fsutil"
	"github.com/banshee-data/kitti-mcap/internal/mcap"
	"github.com/banshee-data/kitti-mcap/internal/monitoring"
	"github.com/banshee-data/kitti-mcap/internal/pipeline"
	"github.com/banshee-data/kitti-mcap/internal/runlog"
	"github.com/banshee-data/kitti-mcap/internal/timeutil"
	"github.com/banshee-data/kitti-mcap/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr, timeutil.RealClock{})
	stop()
	os.Exit(code)
}

type flagValues struct {
	kittiDir    *string
	output      *string
	frameRate   *float64
	calibDir    *string
	debug       *bool
	configPath  *string
	workers     *int
	compression *string
	chunkSize   *int64
	startTimeNs *int64
	historyDB   *string
	verify      *bool
	version     *bool
}

func newFlagSet(stderr io.Writer) (*pflag.FlagSet, *flagValues) {
	fs := pflag.NewFlagSet("kitti-mcap", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	v := &flagValues{
		kittiDir:    fs.String("kitti_dir", "", "Path to KITTI drive directory (contains velodyne_points/ and image_02/)"),
		output:      fs.String("output", config.DefaultOutput, "Output MCAP file path"),
		frameRate:   fs.Float64("frame_rate", config.DefaultFrameRate, "Frame rate for playback in Hz"),
		calibDir:    fs.String("calib_dir", "", "Directory containing calib_velo_to_cam.txt"),
		debug:       fs.Bool("debug", false, "Print verbose per-frame details"),
		configPath:  fs.String("config", "", "YAML or JSON config file; explicit flags override it"),
		workers:     fs.Int("workers", config.DefaultWorkers, "Concurrent frame encoders"),
		compression: fs.String("compression", config.DefaultCompression, "Chunk compression: zstd, lz4 or none"),
		chunkSize:   fs.Int64("chunk_size", config.DefaultChunkSize, "Uncompressed chunk size in bytes"),
		startTimeNs: fs.Int64("start_time_ns", 0, "Timestamp of the first frame in Unix nanoseconds (default: now)"),
		historyDB:   fs.String("history_db", "", "sqlite database to record the run in"),
		verify:      fs.Bool("verify", false, "Re-read the output and check it after writing"),
		version:     fs.Bool("version", false, "Print version and exit"),
	}
	return fs, v
}

// resolveConfig loads the config file, if any, and overlays flags the user
// set explicitly.
func resolveConfig(fs *pflag.FlagSet, v *flagValues) (*config.ConvertConfig, error) {
	cfg := config.EmptyConfig()
	if *v.configPath != "" {
		loaded, err := config.LoadConfig(*v.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	set := func(name string, apply func()) {
		if fs.Changed(name) {
			apply()
		}
	}
	set("kitti_dir", func() { cfg.KittiDir = v.kittiDir })
	set("output", func() { cfg.Output = v.output })
	set("frame_rate", func() { cfg.FrameRate = v.frameRate })
	set("calib_dir", func() { cfg.CalibDir = v.calibDir })
	set("debug", func() { cfg.Debug = v.debug })
	set("workers", func() { cfg.Workers = v.workers })
	set("compression", func() { cfg.Compression = v.compression })
	set("chunk_size", func() { cfg.ChunkSize = v.chunkSize })
	set("start_time_ns", func() { cfg.StartTimeNs = v.startTimeNs })
	set("history_db", func() { cfg.HistoryDB = v.historyDB })
	set("verify", func() { cfg.Verify = v.verify })

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.RequireInputs(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func pipelineOptions(cfg *config.ConvertConfig, clock timeutil.Clock) (pipeline.Options, error) {
	comp, err := mcap.ParseCompression(cfg.GetCompression())
	if err != nil {
		return pipeline.Options{}, err
	}
	opts := pipeline.Options{
		KittiDir:    cfg.GetKittiDir(),
		OutputPath:  cfg.GetOutput(),
		CalibDir:    cfg.GetCalibDir(),
		FrameRate:   cfg.GetFrameRate(),
		Workers:     cfg.GetWorkers(),
		Compression: comp,
		ChunkSize:   int(cfg.GetChunkSize()),
		Verify:      cfg.GetVerify(),
		FS:          fsutil.OSFileSystem{},
		Clock:       clock,
	}
	if ns, ok := cfg.GetStartTimeNs(); ok {
		start := uint64(ns)
		opts.StartTimeNs = &start
	}
	return opts, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, clock timeutil.Clock) int {
	log.SetOutput(stdout)
	log.SetFlags(0)

	fs, v := newFlagSet(stderr)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 1
	}
	if *v.version {
		fmt.Fprintf(stdout, "kitti-mcap %s (git %s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return 0
	}

	cfg, err := resolveConfig(fs, v)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	monitoring.SetDebug(cfg.GetDebug())

	if !(fsutil.OSFileSystem{}).IsDir(cfg.GetKittiDir()) {
		fmt.Fprintf(stderr, "Error: KITTI directory not found: %s\n", cfg.GetKittiDir())
		return 1
	}

	opts, err := pipelineOptions(cfg, clock)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	started := clock.Now()
	res, convErr := pipeline.Convert(ctx, opts)
	record(context.WithoutCancel(ctx), cfg, opts, res, convErr, started, clock.Now())

	if convErr != nil {
		fmt.Fprintf(stderr, "Error: %v\n", convErr)
		return 1
	}
	monitoring.Logf("Successfully wrote MCAP to %s (%d bytes, blake3 %s)", res.OutputPath, res.OutputBytes, res.Digest)
	if res.PointsPerSweep.Count > 0 {
		monitoring.Logf("Points/sweep p50=%.0f p95=%.0f max=%.0f; JPEG bytes p50=%.0f p95=%.0f",
			res.PointsPerSweep.P50, res.PointsPerSweep.P95, res.PointsPerSweep.Max,
			res.JPEGBytes.P50, res.JPEGBytes.P95)
	}
	monitoring.Logf("✓ Conversion complete! Open %s in Foxglove Studio", res.OutputPath)
	return 0
}

// record stores the run in the history database. Failures are logged and
// never change the exit status.
func record(ctx context.Context, cfg *config.ConvertConfig, opts pipeline.Options, res *pipeline.Result, convErr error, started, finished time.Time) {
	path := cfg.GetHistoryDB()
	if path == "" {
		return
	}
	store, err := runlog.Open(path)
	if err != nil {
		monitoring.Logf("Warning: failed to open history database: %v", err)
		return
	}
	defer store.Close()

	r := runlog.Run{
		ID:          runlog.NewRunID(),
		KittiDir:    opts.KittiDir,
		OutputPath:  opts.OutputPath,
		CalibDir:    opts.CalibDir,
		FrameRate:   opts.FrameRate,
		Workers:     opts.Workers,
		Compression: opts.Compression.String(),
		Started:     started,
		Finished:    finished,
		Status:      runlog.StatusOK,
	}
	if res != nil {
		r.Frames = res.Frames
		r.LidarOK, r.LidarFail = res.LidarOK, res.LidarFail
		r.CameraOK, r.CameraFail = res.CameraOK, res.CameraFail
		r.OutputBytes = res.OutputBytes
		r.Digest = res.Digest
	}
	switch {
	case errors.Is(convErr, pipeline.ErrNoMessagesWritten):
		r.Status, r.Error = runlog.StatusNoMessages, convErr.Error()
	case convErr != nil:
		r.Status, r.Error = runlog.StatusFailed, convErr.Error()
	}

	if err := store.Record(ctx, r); err != nil {
		monitoring.Logf("Warning: %v", err)
		return
	}
	monitoring.Logf("Recorded run %s in %s", r.ID, path)
}
