package version

import "fmt"

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// Library is the writer identification stored in every MCAP header.
func Library() string {
	return fmt.Sprintf("kitti-mcap %s (%s)", Version, GitSHA)
}
