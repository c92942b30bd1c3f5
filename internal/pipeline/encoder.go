package pipeline

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/kitti-mcap/internal/encode"
	"github.com/banshee-data/kitti-mcap/internal/fsutil"
	"github.com/banshee-data/kitti-mcap/internal/kitti"
)

var errRead = errors.New("read failed")

// frameResult carries both samples of one frame. Exactly one of sample and
// error is set per sensor.
type frameResult struct {
	frame     kitti.Frame
	lidar     *encode.Sample
	lidarErr  error
	camera    *encode.Sample
	cameraErr error
}

type frameEncoder struct {
	fs fsutil.FileSystem
}

// encode reads and encodes both sensors of f. It touches no shared state.
func (e frameEncoder) encode(f kitti.Frame, ts uint64) frameResult {
	r := frameResult{frame: f}
	r.lidar, r.lidarErr = e.lidar(f.LidarPath, ts)
	r.camera, r.cameraErr = e.camera(f.ImagePath, ts)
	return r
}

func (e frameEncoder) lidar(path string, ts uint64) (*encode.Sample, error) {
	data, err := e.fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errRead, err)
	}
	sweep, err := encode.ReadKITTISweep(data)
	if err != nil {
		return nil, err
	}
	return encode.EncodePointSweep(sweep, ts)
}

func (e frameEncoder) camera(path string, ts uint64) (*encode.Sample, error) {
	data, err := e.fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errRead, err)
	}
	img, err := encode.DecodeImage(data)
	if err != nil {
		return nil, err
	}
	return encode.EncodeCameraFrame(img, ts)
}

// encodeOrdered runs work for indices 0..n-1 on up to workers goroutines
// and calls deliver for each index in ascending order from a single
// goroutine. At most 2×workers results are in flight. With workers <= 1
// everything runs inline.
func encodeOrdered(ctx context.Context, workers, n int, work func(int) frameResult, deliver func(int, frameResult) error) error {
	if workers <= 1 {
		for i := 0; i < n; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := deliver(i, work(i)); err != nil {
				return err
			}
		}
		return nil
	}

	slots := make([]chan frameResult, n)
	for i := range slots {
		slots[i] = make(chan frameResult, 1)
	}
	window := make(chan struct{}, 2*workers)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var pool errgroup.Group
		pool.SetLimit(workers)
		for i := 0; i < n; i++ {
			if err := gctx.Err(); err != nil {
				pool.Wait()
				return err
			}
			select {
			case window <- struct{}{}:
			case <-gctx.Done():
				pool.Wait()
				return gctx.Err()
			}
			pool.Go(func() error {
				slots[i] <- work(i)
				return nil
			})
		}
		return pool.Wait()
	})
	g.Go(func() error {
		for i := 0; i < n; i++ {
			if err := gctx.Err(); err != nil {
				return err
			}
			var r frameResult
			select {
			case r = <-slots[i]:
			case <-gctx.Done():
				return gctx.Err()
			}
			<-window
			if err := deliver(i, r); err != nil {
				return err
			}
		}
		return nil
	})
	return g.Wait()
}
