// Package mpremote implements the bridge by invoking the `mpremote` tool that
// ships with MicroPython. The tool reconnects to the device for every
// command, so it's slower than the native serial driver, but it copes with
// boards whose USB stack the native driver doesn't handle.
package mpremote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strings"
	"time"

	goversion "github.com/hashicorp/go-version"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/picosync/pkg/errors"
)

// Tool is the name of the mpremote executable.
const Tool = "mpremote"

// minVersion is the oldest mpremote whose `fs mkdir` and `exec` commands
// behave the way the driver expects. mpremote jumped from 0.4.x to 1.20.0 to
// follow MicroPython's numbering, so every 0.x release is rejected.
var minVersion = goversion.Must(goversion.NewVersion("1.20.0"))

var versionRegex = regexp.MustCompile(`(\d+\.\d+(\.\d+)?)`)

const (
	tracebackHeader = "Traceback (most recent call last):"

	// How much of a failed script's output is searched for its traceback.
	maxTracebackSize = 8 << 10
)

// Mocked out for unit testing.
var (
	fs       = afero.NewOsFs()
	lookPath = exec.LookPath
	run      = runCommand
)

// Conn runs each bridge command as a separate mpremote invocation against
// the same port.
type Conn struct {
	tool    string
	port    string
	timeout time.Duration
}

// Open checks that a usable mpremote is installed.
func Open(port string, timeout time.Duration) (*Conn, error) {
	toolPath, err := lookPath(Tool)
	if err != nil {
		return nil, errors.ToolMissing{
			Tool:   Tool,
			Reason: "it isn't in your PATH. Install it with `pip install mpremote`.",
		}
	}

	c := &Conn{tool: toolPath, port: port, timeout: timeout}
	if err := c.checkVersion(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Conn) checkVersion() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	var stdout bytes.Buffer
	if err := run(ctx, c.tool, []string{"version"}, &stdout, io.Discard); err != nil {
		return errors.ToolMissing{
			Tool:   Tool,
			Reason: fmt.Sprintf("`%s version` failed: %s", Tool, err),
		}
	}

	match := versionRegex.FindString(stdout.String())
	version, err := goversion.NewVersion(match)
	if err != nil {
		return errors.ToolMissing{
			Tool:   Tool,
			Reason: fmt.Sprintf("unrecognized version %q", strings.TrimSpace(stdout.String())),
		}
	}

	if version.LessThan(minVersion) {
		return errors.ToolMissing{
			Tool: Tool,
			Reason: fmt.Sprintf("version %s is too old, at least %s is required. "+
				"Upgrade it with `pip install --upgrade mpremote`.", version, minVersion),
		}
	}

	log.WithField("version", version.String()).Debug("Using mpremote")
	return nil
}

// Mkdir creates a directory on the device.
func (c *Conn) Mkdir(ctx context.Context, path string) error {
	output, err := c.command(ctx, "fs", "mkdir", ":"+path)
	if err != nil {
		if strings.Contains(output, "EEXIST") || strings.Contains(output, "File exists") {
			return errors.ErrDirExists
		}
		return commandError(err, output)
	}
	return nil
}

// Put copies a local file onto the device.
func (c *Conn) Put(ctx context.Context, localPath, remotePath string) error {
	// mpremote's own message for a missing source isn't distinguishable
	// from a device failure, so check first.
	if _, err := fs.Stat(localPath); err != nil {
		return err
	}

	output, err := c.command(ctx, "fs", "cp", localPath, ":"+remotePath)
	if err != nil {
		return commandError(err, output)
	}
	return nil
}

// Run executes a script on the device, streaming its output to `out`. The
// tool exits with an error when the script raises, in which case the
// traceback is returned as an errors.RunError.
func (c *Conn) Run(ctx context.Context, remotePath string, out io.Writer) error {
	code := fmt.Sprintf(`exec(open(%q).read(), {"__name__": "__main__"})`, remotePath)

	// mpremote relays the device's stderr on its own stdout, so the
	// traceback has to be recovered from the end of the output.
	var stderr bytes.Buffer
	tail := &tailBuffer{max: maxTracebackSize}
	err := run(ctx, c.tool, c.args("exec", code), io.MultiWriter(out, tail), &stderr)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if _, ok := err.(*exec.ExitError); ok || stderr.Len() > 0 {
		output := stderr.String()
		if output == "" {
			output = lastTraceback(tail.String())
		}
		if output == "" {
			output = err.Error()
		}
		return errors.RunError{Script: remotePath, Output: output}
	}
	return errors.WithContext(err, Tool)
}

// lastTraceback returns the output from the start of the last Python
// traceback, or the empty string if there is none.
func lastTraceback(output string) string {
	if i := strings.LastIndex(output, tracebackHeader); i >= 0 {
		return output[i:]
	}
	return ""
}

// tailBuffer keeps the last `max` bytes written to it.
type tailBuffer struct {
	data []byte
	max  int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	if over := len(b.data) - b.max; over > 0 {
		b.data = append(b.data[:0:0], b.data[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	return string(b.data)
}

// Close is a no-op since mpremote doesn't keep the port open between
// commands.
func (c *Conn) Close() error {
	return nil
}

// command runs a bridge command that's expected to finish within the
// timeout, and returns its combined output.
func (c *Conn) command(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var output bytes.Buffer
	err := run(ctx, c.tool, c.args(args...), &output, &output)
	return output.String(), err
}

func (c *Conn) args(args ...string) []string {
	return append([]string{"connect", c.port}, args...)
}

func commandError(err error, output string) error {
	output = strings.TrimSpace(output)
	if output == "" {
		return errors.WithContext(err, Tool)
	}
	return errors.WithContext(errors.New(output), Tool)
}

func runCommand(ctx context.Context, name string, args []string,
	stdout, stderr io.Writer) error {

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	return cmd.Run()
}
