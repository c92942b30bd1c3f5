package extrinsics

import (
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/kitti-mcap/internal/foxglove"
)

// Coordinate frame names used in the output log.
const (
	FrameMap      = "map"
	FrameCamera   = "camera"
	FrameVelodyne = "velodyne"
)

// RigidTransform places Child in Parent's coordinates at TimestampNs.
type RigidTransform struct {
	Parent      string
	Child       string
	Translation r3.Vec
	Rotation    Quaternion
	TimestampNs uint64
}

// Identity is a transform with no translation or rotation, used to anchor a
// stable root frame.
func Identity(parent, child string, ts uint64) RigidTransform {
	return RigidTransform{
		Parent:      parent,
		Child:       child,
		Rotation:    Quaternion{W: 1},
		TimestampNs: ts,
	}
}

// FromCalibration builds the transform described by cal. KITTI's
// p_cam = R·p_velo + T is parent=camera, child=velodyne.
func FromCalibration(parent, child string, cal *Calibration, ts uint64) RigidTransform {
	return RigidTransform{
		Parent:      parent,
		Child:       child,
		Translation: cal.T,
		Rotation:    RotationToQuaternion(cal.R),
		TimestampNs: ts,
	}
}

// Apply maps a point from the child frame to the parent frame.
func (t RigidTransform) Apply(p r3.Vec) r3.Vec {
	return r3.Add(t.Rotation.Rotation().Rotate(p), t.Translation)
}

// Foxglove converts the transform to its wire representation.
func (t RigidTransform) Foxglove() foxglove.FrameTransform {
	return foxglove.FrameTransform{
		Timestamp:     foxglove.TimestampFromNanos(t.TimestampNs),
		ParentFrameID: t.Parent,
		ChildFrameID:  t.Child,
		Translation:   foxglove.Vector3{X: t.Translation.X, Y: t.Translation.Y, Z: t.Translation.Z},
		Rotation:      foxglove.Quaternion{X: t.Rotation.X, Y: t.Rotation.Y, Z: t.Rotation.Z, W: t.Rotation.W},
	}
}
