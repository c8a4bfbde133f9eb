// Package version holds build identification, overridden at link time.
package version

var (
	// Version is the sentinel release string
	Version = "dev"
	// GitSHA identifies the commit this binary was built from
	GitSHA = "unknown"
	// BuildTime is when the binary was built
	BuildTime = "unknown"
)
