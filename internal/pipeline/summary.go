package pipeline

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/DataDog/sketches-go/ddsketch"
	"github.com/zeebo/blake3"

	"github.com/banshee-data/kitti-mcap/internal/mcap"
	"github.com/banshee-data/kitti-mcap/internal/monitoring"
)

// sketchAccuracy is the relative accuracy of reported quantiles.
const sketchAccuracy = 0.01

type distribution struct {
	sketch *ddsketch.DDSketch
	count  int
	max    float64
}

func newDistribution() (*distribution, error) {
	s, err := ddsketch.NewDefaultDDSketch(sketchAccuracy)
	if err != nil {
		return nil, fmt.Errorf("failed to create sketch: %w", err)
	}
	return &distribution{sketch: s}, nil
}

func (d *distribution) add(v float64) {
	// DDSketch rejects negative values only; zero-point sweeps are valid.
	if err := d.sketch.Add(v); err != nil {
		monitoring.Debugf("sketch add %v: %v", v, err)
		return
	}
	d.count++
	if v > d.max {
		d.max = v
	}
}

func (d *distribution) quantiles() Quantiles {
	q := Quantiles{Count: d.count, Max: d.max}
	if d.count == 0 {
		return q
	}
	q.P50, _ = d.sketch.GetValueAtQuantile(0.50)
	q.P95, _ = d.sketch.GetValueAtQuantile(0.95)
	return q
}

type accumulator struct {
	points      *distribution
	jpeg        *distribution
	totalPoints int64
}

func newAccumulator() (*accumulator, error) {
	points, err := newDistribution()
	if err != nil {
		return nil, err
	}
	jpeg, err := newDistribution()
	if err != nil {
		return nil, err
	}
	return &accumulator{points: points, jpeg: jpeg}, nil
}

// digestFile returns the size and BLAKE3 hex digest of path.
func digestFile(path string) (int64, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, "", fmt.Errorf("failed to open output for digest: %w", err)
	}
	defer f.Close()

	h := blake3.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return 0, "", fmt.Errorf("failed to digest output: %w", err)
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}

// verify rescans the written container and checks it holds exactly the
// messages the run reported.
func verify(path string, res *Result) error {
	c, err := mcap.ScanFile(path)
	if err != nil {
		return fmt.Errorf("verification failed: %w", err)
	}
	checks := []struct {
		topic string
		want  int
	}{
		{TopicLidar, res.LidarOK},
		{TopicCamera, res.CameraOK},
		{TopicTransforms, 1},
	}
	for _, ch := range checks {
		if got := len(c.MessagesOn(ch.topic)); got != ch.want {
			return fmt.Errorf("verification failed: %s has %d messages, want %d", ch.topic, got, ch.want)
		}
	}
	return nil
}
