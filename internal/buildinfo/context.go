// Package buildinfo contains build-time metadata kept apart from user
// configuration.
package buildinfo

import "github.com/google/uuid"

// UnknownValue is reported for metadata that was not injected at build time.
const UnknownValue = "unknown"

// BuildInfo provides an interface for accessing build-time metadata.
type BuildInfo interface {
	// GetVersion returns the build version string
	GetVersion() string
	// GetBuildDate returns the build date string
	GetBuildDate() string
	// GetSystemID returns the identifier of this installation
	GetSystemID() string
}

// Context contains build-time metadata that is not user-configurable.
// It is injected at application startup.
type Context struct {
	// Version holds the Git version tag from build
	Version string

	// BuildDate is the time when the binary was built
	BuildDate string

	// SystemID identifies this installation in error reports
	SystemID string
}

// NewContext creates a build context. An empty systemID gets a random one
// for the lifetime of the process.
func NewContext(version, buildDate, systemID string) *Context {
	if systemID == "" {
		systemID = uuid.NewString()
	}
	return &Context{
		Version:   version,
		BuildDate: buildDate,
		SystemID:  systemID,
	}
}

// GetVersion implements BuildInfo.GetVersion
func (c *Context) GetVersion() string {
	if c == nil || c.Version == "" {
		return UnknownValue
	}
	return c.Version
}

// GetBuildDate implements BuildInfo.GetBuildDate
func (c *Context) GetBuildDate() string {
	if c == nil || c.BuildDate == "" {
		return UnknownValue
	}
	return c.BuildDate
}

// GetSystemID implements BuildInfo.GetSystemID
func (c *Context) GetSystemID() string {
	if c == nil || c.SystemID == "" {
		return UnknownValue
	}
	return c.SystemID
}

// Release is the release name reported to error telemetry.
func (c *Context) Release() string {
	return "chairside@" + c.GetVersion()
}
