package foxglove

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// NumericType is PackedElementField.NumericType.
type NumericType int32

const (
	NumericUnknown NumericType = 0
	NumericUint8   NumericType = 1
	NumericInt8    NumericType = 2
	NumericUint16  NumericType = 3
	NumericInt16   NumericType = 4
	NumericUint32  NumericType = 5
	NumericInt32   NumericType = 6
	NumericFloat32 NumericType = 7
	NumericFloat64 NumericType = 8
)

// Timestamp is google.protobuf.Timestamp.
type Timestamp struct {
	Seconds int64
	Nanos   int32
}

// TimestampFromNanos splits a Unix nanosecond time into seconds and nanos.
func TimestampFromNanos(ns uint64) Timestamp {
	return Timestamp{
		Seconds: int64(ns / 1e9),
		Nanos:   int32(ns % 1e9),
	}
}

// UnixNanos is the inverse of TimestampFromNanos.
func (t Timestamp) UnixNanos() uint64 {
	return uint64(t.Seconds)*1e9 + uint64(t.Nanos)
}

type Vector3 struct {
	X, Y, Z float64
}

type Quaternion struct {
	X, Y, Z, W float64
}

// IdentityQuaternion is the zero rotation.
var IdentityQuaternion = Quaternion{W: 1}

type Pose struct {
	Position    Vector3
	Orientation Quaternion
}

type PackedElementField struct {
	Name   string
	Offset uint32
	Type   NumericType
}

// PointCloud is foxglove.PointCloud: a packed, strided point buffer.
type PointCloud struct {
	Timestamp   Timestamp
	FrameID     string
	Pose        *Pose
	PointStride uint32
	Fields      []PackedElementField
	Data        []byte
}

// CompressedImage is foxglove.CompressedImage.
type CompressedImage struct {
	Timestamp Timestamp
	FrameID   string
	Data      []byte
	Format    string
}

// FrameTransform is foxglove.FrameTransform.
type FrameTransform struct {
	Timestamp     Timestamp
	ParentFrameID string
	ChildFrameID  string
	Translation   Vector3
	Rotation      Quaternion
}

// FrameTransforms is foxglove.FrameTransforms.
type FrameTransforms struct {
	Transforms []FrameTransform
}

// Fields are emitted in field-number order with proto3 implicit presence:
// zero scalars are omitted, submessages that are part of the value are
// always written.

func appendMessage(b []byte, num protowire.Number, inner []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, inner)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	bits := math.Float64bits(v)
	if bits == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, bits)
}

func appendFixed32(b []byte, num protowire.Number, v uint32) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(b, v)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// Marshal encodes the timestamp.
func (t Timestamp) Marshal() []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(t.Seconds))
	b = appendVarint(b, 2, uint64(int64(t.Nanos)))
	return b
}

// Marshal encodes the vector.
func (v Vector3) Marshal() []byte {
	var b []byte
	b = appendDouble(b, 1, v.X)
	b = appendDouble(b, 2, v.Y)
	b = appendDouble(b, 3, v.Z)
	return b
}

// Marshal encodes the quaternion.
func (q Quaternion) Marshal() []byte {
	var b []byte
	b = appendDouble(b, 1, q.X)
	b = appendDouble(b, 2, q.Y)
	b = appendDouble(b, 3, q.Z)
	b = appendDouble(b, 4, q.W)
	return b
}

// Marshal encodes the pose.
func (p Pose) Marshal() []byte {
	var b []byte
	b = appendMessage(b, 1, p.Position.Marshal())
	b = appendMessage(b, 2, p.Orientation.Marshal())
	return b
}

// Marshal encodes the field descriptor.
func (f PackedElementField) Marshal() []byte {
	var b []byte
	b = appendString(b, 1, f.Name)
	b = appendFixed32(b, 2, f.Offset)
	b = appendVarint(b, 3, uint64(f.Type))
	return b
}

// Marshal encodes the point cloud.
func (pc *PointCloud) Marshal() []byte {
	b := make([]byte, 0, len(pc.Data)+128)
	b = appendMessage(b, 1, pc.Timestamp.Marshal())
	b = appendString(b, 2, pc.FrameID)
	if pc.Pose != nil {
		b = appendMessage(b, 3, pc.Pose.Marshal())
	}
	b = appendFixed32(b, 4, pc.PointStride)
	for _, f := range pc.Fields {
		b = appendMessage(b, 5, f.Marshal())
	}
	b = appendBytes(b, 6, pc.Data)
	return b
}

// Marshal encodes the compressed image.
func (ci *CompressedImage) Marshal() []byte {
	b := make([]byte, 0, len(ci.Data)+64)
	b = appendMessage(b, 1, ci.Timestamp.Marshal())
	b = appendBytes(b, 2, ci.Data)
	b = appendString(b, 3, ci.Format)
	b = appendString(b, 4, ci.FrameID)
	return b
}

// Marshal encodes a single transform.
func (ft FrameTransform) Marshal() []byte {
	var b []byte
	b = appendMessage(b, 1, ft.Timestamp.Marshal())
	b = appendString(b, 2, ft.ParentFrameID)
	b = appendString(b, 3, ft.ChildFrameID)
	b = appendMessage(b, 4, ft.Translation.Marshal())
	b = appendMessage(b, 5, ft.Rotation.Marshal())
	return b
}

// Marshal encodes the transform set.
func (fts *FrameTransforms) Marshal() []byte {
	var b []byte
	for _, t := range fts.Transforms {
		b = appendMessage(b, 1, t.Marshal())
	}
	return b
}
