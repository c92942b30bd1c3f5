package extrinsics

import (
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

const roundTripTol = 1e-6

// matrixFromRotation builds R column by column from the rotated basis.
func matrixFromRotation(rot r3.Rotation) *mat.Dense {
	R := mat.NewDense(3, 3, nil)
	basis := []r3.Vec{{X: 1}, {Y: 1}, {Z: 1}}
	for j, e := range basis {
		c := rot.Rotate(e)
		R.Set(0, j, c.X)
		R.Set(1, j, c.Y)
		R.Set(2, j, c.Z)
	}
	return R
}

func TestRotationToQuaternion_Identity(t *testing.T) {
	q := RotationToQuaternion(mat.NewDiagDense(3, []float64{1, 1, 1}))

	assert.InDelta(t, 0, q.X, 1e-12)
	assert.InDelta(t, 0, q.Y, 1e-12)
	assert.InDelta(t, 0, q.Z, 1e-12)
	assert.InDelta(t, 1, q.W, 1e-9)
}

func TestRotationToQuaternion_KnownRotations(t *testing.T) {
	h := math.Sqrt2 / 2
	tests := []struct {
		name string
		R    []float64
		want Quaternion
	}{
		{"90deg about z", []float64{0, -1, 0, 1, 0, 0, 0, 0, 1}, Quaternion{Z: h, W: h}},
		{"180deg about x", []float64{1, 0, 0, 0, -1, 0, 0, 0, -1}, Quaternion{X: 1}},
		{"180deg about y", []float64{-1, 0, 0, 0, 1, 0, 0, 0, -1}, Quaternion{Y: 1}},
		{"180deg about z", []float64{-1, 0, 0, 0, -1, 0, 0, 0, 1}, Quaternion{Z: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := RotationToQuaternion(mat.NewDense(3, 3, tt.R))
			assert.InDelta(t, tt.want.X, q.X, 1e-9)
			assert.InDelta(t, tt.want.Y, q.Y, 1e-9)
			assert.InDelta(t, tt.want.Z, q.Z, 1e-9)
			assert.InDelta(t, tt.want.W, q.W, 1e-9)
		})
	}
}

func TestRotationToQuaternion_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(11))

	var rotations []r3.Rotation
	for i := 0; i < 500; i++ {
		axis := r3.Unit(r3.Vec{X: rng.NormFloat64(), Y: rng.NormFloat64(), Z: rng.NormFloat64()})
		angle := (rng.Float64()*2 - 1) * math.Pi
		rotations = append(rotations, r3.NewRotation(angle, axis))
	}
	// Angles at and around pi exercise every non-trace branch.
	for _, axis := range []r3.Vec{{X: 1}, {Y: 1}, {Z: 1}, r3.Unit(r3.Vec{X: 1, Y: 1, Z: 1}), r3.Unit(r3.Vec{X: -0.2, Y: 0.9, Z: 0.1})} {
		for _, angle := range []float64{math.Pi, math.Pi - 1e-7, -math.Pi + 1e-4, 0, 1e-9} {
			rotations = append(rotations, r3.NewRotation(angle, axis))
		}
	}

	for i, rot := range rotations {
		R := matrixFromRotation(rot)
		require.NoError(t, ValidateRotation(R), "rotation %d", i)

		q := RotationToQuaternion(R)
		require.InDelta(t, 1, q.Norm(), roundTripTol, "rotation %d: |q| = %v", i, q.Norm())

		got := matrixFromRotation(q.Rotation())
		if !mat.EqualApprox(got, R, roundTripTol) {
			t.Fatalf("rotation %d: round trip mismatch\nR=%v\ngot=%v",
				i, mat.Formatted(R), mat.Formatted(got))
		}
	}
}

func TestRotationToQuaternion_KITTI(t *testing.T) {
	cal, err := ParseCalibration(strings.NewReader(kittiVeloToCam), "calib_velo_to_cam.txt")
	require.NoError(t, err)

	q := RotationToQuaternion(cal.R)
	assert.InDelta(t, 1, q.Norm(), roundTripTol)

	// The file's R is only approximately orthonormal, so compare loosely.
	got := matrixFromRotation(q.Rotation())
	assert.True(t, mat.EqualApprox(got, cal.R, 1e-3), "reconstructed R drifted:\n%v", mat.Formatted(got))
}

func TestRotationToQuaternion_Degenerate(t *testing.T) {
	q := RotationToQuaternion(mat.NewDense(3, 3, nil))
	for _, v := range []float64{q.X, q.Y, q.Z, q.W} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("degenerate input produced non-finite quaternion %+v", q)
		}
	}
}

func TestValidateRotation(t *testing.T) {
	assert.NoError(t, ValidateRotation(mat.NewDiagDense(3, []float64{1, 1, 1})))

	reflection := mat.NewDiagDense(3, []float64{1, 1, -1})
	assert.ErrorContains(t, ValidateRotation(reflection), "determinant")

	sheared := mat.NewDense(3, 3, []float64{1, 0.5, 0, 0, 1, 0, 0, 0, 1})
	assert.ErrorContains(t, ValidateRotation(sheared), "orthonormal")

	assert.Error(t, ValidateRotation(mat.NewDense(2, 2, []float64{1, 0, 0, 1})))
}

func TestRigidTransform_Apply(t *testing.T) {
	cal := &Calibration{
		R: mat.NewDense(3, 3, []float64{0, -1, 0, 1, 0, 0, 0, 0, 1}),
		T: r3.Vec{X: 1, Y: 2, Z: 3},
	}
	tf := FromCalibration(FrameCamera, FrameVelodyne, cal, 99)

	p := tf.Apply(r3.Vec{X: 1})
	assert.InDelta(t, 1, p.X, 1e-9)
	assert.InDelta(t, 3, p.Y, 1e-9)
	assert.InDelta(t, 3, p.Z, 1e-9)

	wire := tf.Foxglove()
	assert.Equal(t, "camera", wire.ParentFrameID)
	assert.Equal(t, "velodyne", wire.ChildFrameID)
	assert.Equal(t, uint64(99), wire.Timestamp.UnixNanos())
	assert.Equal(t, 2.0, wire.Translation.Y)

	id := Identity(FrameMap, FrameCamera, 5)
	assert.Equal(t, 1.0, id.Foxglove().Rotation.W)
	assert.Equal(t, r3.Vec{X: 4, Y: 5, Z: 6}, id.Apply(r3.Vec{X: 4, Y: 5, Z: 6}))
}
