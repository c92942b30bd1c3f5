package mcap

import (
	"fmt"

	fmcap "github.com/foxglove/mcap/go/mcap"
)

// Compression names a chunk compression algorithm as written in the chunk
// record. The empty string means uncompressed.
type Compression string

const (
	CompressionNone Compression = ""
	CompressionZstd Compression = "zstd"
	CompressionLZ4  Compression = "lz4"
)

// ParseCompression accepts the CLI spellings, including "none".
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "none":
		return CompressionNone, nil
	case "zstd":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	default:
		return "", fmt.Errorf("unknown compression %q", name)
	}
}

func (c Compression) String() string {
	if c == CompressionNone {
		return "none"
	}
	return string(c)
}

func (c Compression) format() fmcap.CompressionFormat {
	return fmcap.CompressionFormat(c)
}
