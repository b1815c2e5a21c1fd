package errors

import (
	"fmt"
	"strings"
)

// ErrDirExists is returned by bridge drivers when the directory being
// created is already present on the device.
var ErrDirExists = New("directory already exists")

// MissingFieldError represents a missing required field.
type MissingFieldError struct {
	Field string
}

func (err MissingFieldError) Error() string {
	return fmt.Sprintf("missing required field: %s", err.Field)
}

// FileNotFound represents when we were unable to access a file
// because the path didn't exist.
type FileNotFound struct {
	Path string
}

func (err FileNotFound) Error() string {
	return fmt.Sprintf("%q does not exist", err.Path)
}

// DeviceNotFound is returned when no serial endpoint could be resolved for
// the device.
type DeviceNotFound struct {
	// Pattern is the glob that was searched, or the configured port.
	Pattern string
}

func (err DeviceNotFound) Error() string {
	return err.FriendlyMessage()
}

func (err DeviceNotFound) FriendlyMessage() string {
	return fmt.Sprintf("No device found matching %q.\n"+
		"Is the board plugged in? If it enumerates under a different name, "+
		"set it with `picosync config --port <device>`.", err.Pattern)
}

// ToolMissing is returned when the host side bridge driver can't be used.
type ToolMissing struct {
	Tool   string
	Reason string
}

func (err ToolMissing) Error() string {
	return err.FriendlyMessage()
}

func (err ToolMissing) FriendlyMessage() string {
	return fmt.Sprintf("The bridge driver %q is unavailable: %s", err.Tool, err.Reason)
}

// RemoteWriteError is a failure to modify the device filesystem.
type RemoteWriteError struct {
	Op   string
	Path string
	Err  error
}

func (err RemoteWriteError) Error() string {
	return fmt.Sprintf("remote %s %s: %s", err.Op, err.Path, err.Err)
}

func (err RemoteWriteError) Unwrap() error {
	return err.Err
}

// RunError is an exception raised by a script running on the device. Output
// holds the device's traceback exactly as it was printed.
type RunError struct {
	Script string
	Output string
}

func (err RunError) Error() string {
	return fmt.Sprintf("%s failed on device:\n%s", err.Script,
		strings.TrimRight(err.Output, "\r\n"))
}
