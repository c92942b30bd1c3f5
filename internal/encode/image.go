package encode

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	"github.com/banshee-data/kitti-mcap/internal/foxglove"
)

// JPEGQuality is the fixed compression quality for camera frames.
const JPEGQuality = 90

// ImageEncodeError reports a raster that could not be compressed.
type ImageEncodeError struct {
	Err error
}

func (e *ImageEncodeError) Error() string {
	return fmt.Sprintf("image encode failed: %v", e.Err)
}

func (e *ImageEncodeError) Unwrap() error { return e.Err }

// DecodeImage decodes a PNG or JPEG file into a raster.
func DecodeImage(data []byte) (image.Image, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	if b := img.Bounds(); b.Empty() {
		return nil, fmt.Errorf("decode image: empty %s raster", format)
	}
	return img, nil
}

// EncodeCameraFrame compresses img to JPEG and wraps it in a
// foxglove.CompressedImage.
func EncodeCameraFrame(img image.Image, timestampNs uint64) (*Sample, error) {
	if img == nil {
		return nil, &ImageEncodeError{Err: fmt.Errorf("nil raster")}
	}
	bounds := img.Bounds()
	if bounds.Empty() {
		return nil, &ImageEncodeError{Err: fmt.Errorf("empty raster %v", bounds)}
	}

	var buf bytes.Buffer
	buf.Grow(bounds.Dx() * bounds.Dy() / 4)
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, &ImageEncodeError{Err: err}
	}

	ci := &foxglove.CompressedImage{
		Timestamp: foxglove.TimestampFromNanos(timestampNs),
		FrameID:   CameraFrameID,
		Data:      buf.Bytes(),
		Format:    "jpeg",
	}

	return &Sample{
		Kind:        KindCamera,
		TimestampNs: timestampNs,
		FrameID:     CameraFrameID,
		Payload:     ci.Marshal(),
		Width:       bounds.Dx(),
		Height:      bounds.Dy(),
		ImageBytes:  buf.Len(),
	}, nil
}
