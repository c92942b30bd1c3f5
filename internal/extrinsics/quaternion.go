package extrinsics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// RotationTolerance bounds det(R)-1 and the deviation of RᵀR from I
// accepted by ValidateRotation.
const RotationTolerance = 0.01

// normEpsilon keeps normalisation finite on a degenerate input.
const normEpsilon = 1e-12

// Quaternion is an orientation in (x, y, z, w) order.
type Quaternion struct {
	X, Y, Z, W float64
}

// Number returns q as a gonum quaternion (Real=w).
func (q Quaternion) Number() quat.Number {
	return quat.Number{Real: q.W, Imag: q.X, Jmag: q.Y, Kmag: q.Z}
}

// Rotation returns q as a gonum r3 rotation for applying to vectors.
func (q Quaternion) Rotation() r3.Rotation {
	return r3.Rotation(q.Number())
}

// Norm returns |q|.
func (q Quaternion) Norm() float64 {
	return quat.Abs(q.Number())
}

// RotationToQuaternion converts a 3x3 rotation matrix to a unit quaternion.
// The branch is chosen from the trace and the dominant diagonal element so
// the divisor stays well away from zero, including near 180° rotations.
func RotationToQuaternion(R mat.Matrix) Quaternion {
	r00, r01, r02 := R.At(0, 0), R.At(0, 1), R.At(0, 2)
	r10, r11, r12 := R.At(1, 0), R.At(1, 1), R.At(1, 2)
	r20, r21, r22 := R.At(2, 0), R.At(2, 1), R.At(2, 2)

	var q Quaternion
	trace := r00 + r11 + r22
	switch {
	case trace > 0:
		s := math.Sqrt(trace+1) * 2
		q.W = 0.25 * s
		q.X = (r21 - r12) / s
		q.Y = (r02 - r20) / s
		q.Z = (r10 - r01) / s
	case r00 > r11 && r00 > r22:
		s := math.Sqrt(1+r00-r11-r22) * 2
		q.W = (r21 - r12) / s
		q.X = 0.25 * s
		q.Y = (r01 + r10) / s
		q.Z = (r02 + r20) / s
	case r11 > r22:
		s := math.Sqrt(1+r11-r00-r22) * 2
		q.W = (r02 - r20) / s
		q.X = (r01 + r10) / s
		q.Y = 0.25 * s
		q.Z = (r12 + r21) / s
	default:
		s := math.Sqrt(1+r22-r00-r11) * 2
		q.W = (r10 - r01) / s
		q.X = (r02 + r20) / s
		q.Y = (r12 + r21) / s
		q.Z = 0.25 * s
	}

	n := q.Norm() + normEpsilon
	return Quaternion{X: q.X / n, Y: q.Y / n, Z: q.Z / n, W: q.W / n}
}

// ValidateRotation checks that R is a proper rotation: orthonormal and with
// determinant +1, both within RotationTolerance.
func ValidateRotation(R mat.Matrix) error {
	rows, cols := R.Dims()
	if rows != 3 || cols != 3 {
		return fmt.Errorf("rotation must be 3x3, got %dx%d", rows, cols)
	}

	if det := mat.Det(R); math.Abs(det-1) > RotationTolerance {
		return fmt.Errorf("rotation determinant %.6f is not 1", det)
	}

	var rtr mat.Dense
	rtr.Mul(R.T(), R)
	identity := mat.NewDiagDense(3, []float64{1, 1, 1})
	if !mat.EqualApprox(&rtr, identity, RotationTolerance) {
		return fmt.Errorf("rotation is not orthonormal")
	}
	return nil
}
