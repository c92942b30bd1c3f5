// Package extrinsics parses KITTI rigid-body calibration files and derives
// the parent→child transforms written to the /tf channel.
package extrinsics

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Calibration is a rotation R and translation T such that
// p_parent = R·p_child + T.
type Calibration struct {
	R *mat.Dense // 3x3, row-major as read from the file
	T r3.Vec
}

// CalibrationFormatError reports a malformed or missing R/T line.
type CalibrationFormatError struct {
	Path      string
	Key       string
	Want      int
	Got       int
	Missing   bool
	Duplicate bool
	Err       error // value parse failure, if any
}

func (e *CalibrationFormatError) Error() string {
	switch {
	case e.Missing:
		return fmt.Sprintf("%s: missing %s: line (expected %d values)", e.Path, e.Key, e.Want)
	case e.Duplicate:
		return fmt.Sprintf("%s: %s: line appears more than once", e.Path, e.Key)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Path, e.Key, e.Err)
	default:
		return fmt.Sprintf("%s: %s: expected %d values, got %d", e.Path, e.Key, e.Want, e.Got)
	}
}

func (e *CalibrationFormatError) Unwrap() error { return e.Err }

const (
	rotationKey    = "R"
	translationKey = "T"
)

// LoadCalibration opens and parses a calibration file.
func LoadCalibration(path string) (*Calibration, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open calibration: %w", err)
	}
	defer f.Close()
	return ParseCalibration(f, filepath.Base(path))
}

// ParseCalibration reads "KEY: v1 v2 ... vN" lines. Blank lines, lines
// without a colon and keys other than R and T are ignored. R must hold
// exactly 9 values and T exactly 3; each must appear exactly once.
func ParseCalibration(r io.Reader, name string) (*Calibration, error) {
	var (
		rot   []float64
		trans []float64
	)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		key, rest, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)

		var (
			want int
			seen bool
		)
		switch key {
		case rotationKey:
			want, seen = 9, rot != nil
		case translationKey:
			want, seen = 3, trans != nil
		default:
			continue
		}
		if seen {
			return nil, &CalibrationFormatError{Path: name, Key: key, Want: want, Duplicate: true}
		}

		vals, err := parseValues(rest, want, name, key)
		if err != nil {
			return nil, err
		}
		if key == rotationKey {
			rot = vals
		} else {
			trans = vals
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read calibration %s: %w", name, err)
	}

	if rot == nil {
		return nil, &CalibrationFormatError{Path: name, Key: rotationKey, Want: 9, Missing: true}
	}
	if trans == nil {
		return nil, &CalibrationFormatError{Path: name, Key: translationKey, Want: 3, Missing: true}
	}

	return &Calibration{
		R: mat.NewDense(3, 3, rot),
		T: r3.Vec{X: trans[0], Y: trans[1], Z: trans[2]},
	}, nil
}

func parseValues(rest string, want int, name, key string) ([]float64, error) {
	fields := strings.Fields(rest)
	if len(fields) != want {
		return nil, &CalibrationFormatError{Path: name, Key: key, Want: want, Got: len(fields)}
	}
	vals := make([]float64, want)
	for i, s := range fields {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, &CalibrationFormatError{Path: name, Key: key, Want: want, Got: len(fields), Err: err}
		}
		vals[i] = v
	}
	return vals, nil
}
