// Package encode turns raw LiDAR sweeps and camera rasters into serialized
// Foxglove messages ready to be appended to the log.
//
// Encoders are pure: they hold no state between calls and may run
// concurrently or out of order. Ordering is the caller's concern.
package encode

// Kind identifies the sensor a sample came from.
type Kind int

const (
	KindLidar Kind = iota
	KindCamera
)

func (k Kind) String() string {
	switch k {
	case KindLidar:
		return "lidar"
	case KindCamera:
		return "camera"
	default:
		return "unknown"
	}
}

// Frame-of-reference tags stamped on encoded samples.
const (
	LidarFrameID  = "velodyne"
	CameraFrameID = "camera"
)

// Sample is one encoded message plus the metadata the orchestrator reports.
type Sample struct {
	Kind        Kind
	TimestampNs uint64
	FrameID     string
	Payload     []byte // serialized protobuf message

	// LiDAR only.
	PointCount int
	Stride     uint32

	// Camera only.
	Width, Height int
	ImageBytes    int
}
