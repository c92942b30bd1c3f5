// Package testutil provides shared test utilities and fixtures.
//
// The fixture writers lay out KITTI raw drive directories on either an
// in-memory filesystem or a real temporary directory.
package testutil

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"
)

// VeloToCam is calib_velo_to_cam.txt from the 2011_09_26 raw recordings.
const VeloToCam = `calib_time: 15-Mar-2012 11:37:16
R: 7.533745e-03 -9.999714e-01 -6.166020e-04 1.480249e-02 7.280733e-04 -9.998902e-01 9.998621e-01 7.523790e-03 1.480755e-02
T: -4.069766e-03 -7.631618e-02 -2.717806e-01

delta_f: 0.000000e+00 0.000000e+00
delta_c: 0.000000e+00 0.000000e+00
`

// FileWriter is the subset of a writable filesystem the fixtures need.
// fsutil.MemoryFileSystem and DiskWriter both satisfy it.
type FileWriter interface {
	WriteFile(name string, data []byte, perm os.FileMode) error
}

// DiskWriter writes to the real filesystem, creating parent directories.
type DiskWriter struct{}

func (DiskWriter) WriteFile(name string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return err
	}
	return os.WriteFile(name, data, perm)
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// SweepBytes encodes points in the KITTI velodyne layout.
func SweepBytes(points [][4]float32) []byte {
	buf := make([]byte, 0, len(points)*16)
	for _, p := range points {
		for _, v := range p {
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
		}
	}
	return buf
}

// Sweep returns n deterministic points on a ring whose radius depends on
// seed, so sweeps from different frames differ.
func Sweep(n, seed int) [][4]float32 {
	pts := make([][4]float32, n)
	r := 5 + float64(seed)
	for i := range pts {
		a := 2 * math.Pi * float64(i) / float64(n)
		pts[i] = [4]float32{float32(r * math.Cos(a)), float32(r * math.Sin(a)), -1.7, float32(i%100) / 100}
	}
	return pts
}

// PNGBytes renders a w×h gradient and encodes it as PNG.
func PNGBytes(t testing.TB, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 255 / max(w, 1)), G: uint8(y * 255 / max(h, 1)), B: 64, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return buf.Bytes()
}

// Drive describes a KITTI raw drive fixture. Stems listed in CorruptLidar
// or CorruptImages get undecodable contents.
type Drive struct {
	LidarStems    []string
	ImageStems    []string
	CorruptLidar  []string
	CorruptImages []string
	Points        int
	Width, Height int
}

// WriteDrive lays out d under root and returns root.
func WriteDrive(t testing.TB, w FileWriter, root string, d Drive) string {
	t.Helper()
	if d.Points == 0 {
		d.Points = 32
	}
	if d.Width == 0 || d.Height == 0 {
		d.Width, d.Height = 16, 8
	}
	corrupt := func(stems []string, stem string) bool {
		for _, s := range stems {
			if s == stem {
				return true
			}
		}
		return false
	}

	for i, stem := range d.LidarStems {
		data := SweepBytes(Sweep(d.Points, i))
		if corrupt(d.CorruptLidar, stem) {
			data = []byte{1, 2, 3, 4, 5}
		}
		path := filepath.Join(root, "velodyne_points", "data", stem+".bin")
		AssertNoError(t, w.WriteFile(path, data, 0o644))
	}
	frame := PNGBytes(t, d.Width, d.Height)
	for _, stem := range d.ImageStems {
		data := frame
		if corrupt(d.CorruptImages, stem) {
			data = []byte("not a png")
		}
		path := filepath.Join(root, "image_02", "data", stem+".png")
		AssertNoError(t, w.WriteFile(path, data, 0o644))
	}
	return root
}

// WriteCalibration writes calib_velo_to_cam.txt into dir.
func WriteCalibration(t testing.TB, w FileWriter, dir, contents string) string {
	t.Helper()
	path := filepath.Join(dir, "calib_velo_to_cam.txt")
	AssertNoError(t, w.WriteFile(path, []byte(contents), 0o644))
	return path
}

// Stems formats 0..n-1 as KITTI's ten-digit frame stems.
func Stems(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = tenDigits(i)
	}
	return out
}

func tenDigits(i int) string {
	b := []byte("0000000000")
	for p := len(b) - 1; p >= 0 && i > 0; p-- {
		b[p] = byte('0' + i%10)
		i /= 10
	}
	return string(b)
}
