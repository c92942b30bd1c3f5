package encode

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/banshee-data/kitti-mcap/internal/foxglove"
)

// KITTIColumns is the number of float32 values per point in a KITTI sweep.
const KITTIColumns = 4

// PointSweep is a row-major N×Columns array of float32 point attributes
// (x, y, z[, intensity, ...]).
type PointSweep struct {
	Data    []float32
	Columns int
}

// Len returns the number of points.
func (s PointSweep) Len() int {
	if s.Columns <= 0 {
		return 0
	}
	return len(s.Data) / s.Columns
}

// UnsupportedPointLayoutError reports a sweep with too few columns to form
// a point.
type UnsupportedPointLayoutError struct {
	Columns int
}

func (e *UnsupportedPointLayoutError) Error() string {
	return fmt.Sprintf("unsupported point layout: need at least 3 columns, got %d", e.Columns)
}

// ReadKITTISweep decodes a KITTI velodyne .bin buffer: little-endian
// float32, four per point.
func ReadKITTISweep(data []byte) (PointSweep, error) {
	const pointSize = KITTIColumns * 4
	if len(data)%pointSize != 0 {
		return PointSweep{}, fmt.Errorf("lidar buffer length %d is not a multiple of %d", len(data), pointSize)
	}
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return PointSweep{Data: out, Columns: KITTIColumns}, nil
}

var (
	xyziFields = []foxglove.PackedElementField{
		{Name: "x", Offset: 0, Type: foxglove.NumericFloat32},
		{Name: "y", Offset: 4, Type: foxglove.NumericFloat32},
		{Name: "z", Offset: 8, Type: foxglove.NumericFloat32},
		{Name: "intensity", Offset: 12, Type: foxglove.NumericFloat32},
	}
	xyzFields = xyziFields[:3]
)

// EncodePointSweep packs the sweep into a foxglove.PointCloud. Four or more
// columns produce the x,y,z,intensity layout (stride 16); exactly three
// produce x,y,z (stride 12). Columns beyond the fourth are dropped.
func EncodePointSweep(sweep PointSweep, timestampNs uint64) (*Sample, error) {
	if sweep.Columns < 3 {
		return nil, &UnsupportedPointLayoutError{Columns: sweep.Columns}
	}
	if len(sweep.Data)%sweep.Columns != 0 {
		return nil, fmt.Errorf("point buffer of %d values is not a whole number of %d-column rows",
			len(sweep.Data), sweep.Columns)
	}

	fields := xyzFields
	if sweep.Columns >= 4 {
		fields = xyziFields
	}
	keep := len(fields)
	stride := uint32(keep * 4)
	n := sweep.Len()

	buf := make([]byte, n*int(stride))
	off := 0
	for i := 0; i < n; i++ {
		row := sweep.Data[i*sweep.Columns : i*sweep.Columns+keep]
		for _, v := range row {
			binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(v))
			off += 4
		}
	}

	pc := &foxglove.PointCloud{
		Timestamp:   foxglove.TimestampFromNanos(timestampNs),
		FrameID:     LidarFrameID,
		Pose:        &foxglove.Pose{Orientation: foxglove.IdentityQuaternion},
		PointStride: stride,
		Fields:      fields,
		Data:        buf,
	}

	return &Sample{
		Kind:        KindLidar,
		TimestampNs: timestampNs,
		FrameID:     LidarFrameID,
		Payload:     pc.Marshal(),
		PointCount:  n,
		Stride:      stride,
	}, nil
}
