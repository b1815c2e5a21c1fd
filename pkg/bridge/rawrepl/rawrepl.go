// Package rawrepl implements the bridge to a MicroPython device over its raw
// REPL.
//
// In raw REPL mode the device reads a block of code terminated by Ctrl-D,
// acknowledges it with "OK", and then writes the code's stdout followed by
// Ctrl-D, its stderr followed by Ctrl-D, and finally a ">" prompt for the
// next block. The serial port is held open for the lifetime of the Conn, so
// every filesystem command of a deployment reuses the same session.
package rawrepl

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"go.bug.st/serial"

	"github.com/sidkik/picosync/pkg/errors"
)

const (
	ctrlA = "\x01"
	ctrlB = "\x02"
	ctrlC = "\x03"
	ctrlD = "\x04"

	rawBanner = "raw REPL; CTRL-B to exit\r\n"
	prompt    = ">"

	// How long a single read on the serial port blocks before the deadline
	// and the context are checked again.
	pollInterval = 100 * time.Millisecond

	// Code is written in chunks so that the device's input buffer doesn't
	// overflow.
	writeChunkSize = 256

	// Bytes of file contents sent per `write` call on the device.
	putChunkSize = 512
)

// Port is the part of a serial port used by the connection.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// Mocked out for unit testing.
var (
	fs       = afero.NewOsFs()
	openPort = func(name string, baudRate int) (Port, error) {
		return serial.Open(name, &serial.Mode{BaudRate: baudRate})
	}
)

var errTimeout = errors.New("timed out waiting for the device")

// Conn is a raw REPL session with the device.
type Conn struct {
	port    Port
	clock   clockwork.Clock
	timeout time.Duration

	// Bytes read from the port but not consumed yet.
	buf []byte

	// desynced is set after a command timed out. The device may still be
	// running it, so the session has to be reset before the next command.
	desynced bool
}

// Open opens the serial port and switches the device into raw REPL mode.
// Each command must complete within `timeout`.
func Open(name string, baudRate int, timeout time.Duration) (*Conn, error) {
	p, err := openPort(name, baudRate)
	if err != nil {
		var portErr *serial.PortError
		if errors.As(err, &portErr) && portErr.Code() == serial.PortNotFound {
			return nil, errors.DeviceNotFound{Pattern: name}
		}
		return nil, errors.WithContext(err, fmt.Sprintf("open %s", name))
	}

	if err := p.SetReadTimeout(pollInterval); err != nil {
		p.Close()
		return nil, errors.WithContext(err, "set read timeout")
	}

	c := newConn(p, clockwork.NewRealClock(), timeout)
	if err := c.enterRawREPL(); err != nil {
		p.Close()
		return nil, errors.WithContext(err, "enter raw REPL")
	}
	return c, nil
}

func newConn(p Port, clock clockwork.Clock, timeout time.Duration) *Conn {
	return &Conn{port: p, clock: clock, timeout: timeout}
}

// enterRawREPL interrupts whatever the device is running and switches it to
// raw mode. Any output printed before the banner is discarded.
func (c *Conn) enterRawREPL() error {
	if err := c.write("\r" + ctrlC + ctrlC + "\r" + ctrlA); err != nil {
		return err
	}

	_, err := c.readUntil(context.Background(), rawBanner, nil, c.timeout)
	return err
}

// Mkdir creates a directory on the device.
func (c *Conn) Mkdir(ctx context.Context, path string) error {
	code := fmt.Sprintf(`import os
try:
    os.mkdir(%s)
except OSError as e:
    if e.args[0] != 17:
        raise
    print("EEXIST")
`, pyString(path))

	var stdout bytes.Buffer
	if err := c.execChecked(ctx, code, &stdout); err != nil {
		return err
	}

	if strings.TrimSpace(stdout.String()) == "EEXIST" {
		return errors.ErrDirExists
	}
	return nil
}

// Put copies a local file onto the device. The contents are sent in base64
// encoded chunks and decoded by the device.
func (c *Conn) Put(ctx context.Context, localPath, remotePath string) error {
	f, err := fs.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	setup := fmt.Sprintf(`try:
    from binascii import a2b_base64
except ImportError:
    from ubinascii import a2b_base64
f = open(%s, "wb")
w = f.write
`, pyString(remotePath))
	if err := c.execChecked(ctx, setup, nil); err != nil {
		return errors.WithContext(err, "open remote file")
	}

	chunk := make([]byte, putChunkSize)
	for {
		n, readErr := f.Read(chunk)
		if n > 0 {
			encoded := base64.StdEncoding.EncodeToString(chunk[:n])
			code := fmt.Sprintf("w(a2b_base64(%q))", encoded)
			if err := c.execChecked(ctx, code, nil); err != nil {
				return errors.WithContext(err, "write chunk")
			}
		}

		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return errors.WithContext(readErr, "read local file")
		}
	}

	if err := c.execChecked(ctx, "f.close()", nil); err != nil {
		return errors.WithContext(err, "close remote file")
	}
	return nil
}

// Run executes a script on the device and streams its stdout to `out`. An
// exception raised by the script is returned as an errors.RunError holding
// the device's traceback. Cancelling the context interrupts the script.
func (c *Conn) Run(ctx context.Context, remotePath string, out io.Writer) error {
	code := fmt.Sprintf(`exec(open(%s).read(), {"__name__": "__main__"})`,
		pyString(remotePath))

	stderr, err := c.exec(ctx, code, out, 0)
	if err != nil {
		if ctx.Err() != nil {
			if err := c.write(ctrlC); err != nil {
				log.WithError(err).Debug("Failed to interrupt script")
			}
		}
		return err
	}

	if stderr != "" {
		return errors.RunError{Script: remotePath, Output: stderr}
	}
	return nil
}

// Close leaves raw REPL mode and releases the serial port.
func (c *Conn) Close() error {
	if err := c.write("\r" + ctrlB); err != nil {
		log.WithError(err).Debug("Failed to exit raw REPL")
	}
	return c.port.Close()
}

// execChecked runs a command that is expected to finish within the command
// timeout and to print nothing to stderr.
func (c *Conn) execChecked(ctx context.Context, code string, stdout io.Writer) error {
	stderr, err := c.exec(ctx, code, stdout, c.timeout)
	if err != nil {
		return err
	}

	if stderr != "" {
		return errors.New(strings.TrimSpace(stderr))
	}
	return nil
}

// exec sends a block of code and waits for it to complete. The code's stdout
// is streamed to `stdout` and its stderr is returned. A zero timeout waits
// indefinitely once the code has been accepted.
func (c *Conn) exec(ctx context.Context, code string, stdout io.Writer,
	timeout time.Duration) (stderr string, err error) {

	defer func() {
		if errors.RootCause(err) == errTimeout {
			c.desynced = true
		}
	}()

	if c.desynced {
		if err := c.resync(); err != nil {
			return "", errors.WithContext(err, "reset session")
		}
	}

	if _, err := c.readUntil(ctx, prompt, nil, c.timeout); err != nil {
		return "", errors.WithContext(err, "wait for prompt")
	}

	for start := 0; start < len(code); start += writeChunkSize {
		end := start + writeChunkSize
		if end > len(code) {
			end = len(code)
		}
		if err := c.write(code[start:end]); err != nil {
			return "", err
		}
	}
	if err := c.write(ctrlD); err != nil {
		return "", err
	}

	ack, err := c.readN(ctx, 2, c.timeout)
	if err != nil {
		return "", errors.WithContext(err, "wait for ack")
	}
	if ack != "OK" {
		return "", errors.Newf("device rejected command (response: %q)", ack)
	}

	if _, err := c.readUntil(ctx, ctrlD, stdout, timeout); err != nil {
		return "", errors.WithContext(err, "read output")
	}

	stderr, err = c.readUntil(ctx, ctrlD, nil, timeout)
	if err != nil {
		return "", errors.WithContext(err, "read error output")
	}
	return stderr, nil
}

// resync throws away the output of a timed out command and interrupts it.
// Stale output can contain ">", so the session is only trusted again once a
// fresh raw REPL banner has been read.
func (c *Conn) resync() error {
	c.buf = nil
	c.drain()

	log.Debug("Resetting raw REPL session after a timeout")
	if err := c.enterRawREPL(); err != nil {
		return err
	}
	c.desynced = false
	return nil
}

// drain discards input that's already waiting on the port. It stops once a
// read times out with no data, or after the command timeout if the device
// keeps printing.
func (c *Conn) drain() {
	deadline := c.deadline(c.timeout)
	chunk := make([]byte, 256)
	for deadline.IsZero() || !c.clock.Now().After(deadline) {
		n, err := c.port.Read(chunk)
		if n == 0 || err != nil {
			return
		}
	}
}

func (c *Conn) write(s string) error {
	if _, err := io.WriteString(c.port, s); err != nil {
		return errors.WithContext(err, "write")
	}
	return nil
}

// readUntil consumes bytes until `delim` has been read, and returns what came
// before it. If `w` is set, the bytes are also copied to it as they arrive.
func (c *Conn) readUntil(ctx context.Context, delim string, w io.Writer,
	timeout time.Duration) (string, error) {

	deadline := c.deadline(timeout)
	var data []byte
	for !bytes.HasSuffix(data, []byte(delim)) {
		b, err := c.readByte(ctx, deadline)
		if err != nil {
			return string(data), err
		}
		data = append(data, b)

		if w != nil && !bytes.HasSuffix(data, []byte(delim)) {
			if _, err := w.Write([]byte{b}); err != nil {
				return string(data), errors.WithContext(err, "copy output")
			}
		}
	}
	return string(data[:len(data)-len(delim)]), nil
}

func (c *Conn) readN(ctx context.Context, n int, timeout time.Duration) (string, error) {
	deadline := c.deadline(timeout)
	data := make([]byte, 0, n)
	for len(data) < n {
		b, err := c.readByte(ctx, deadline)
		if err != nil {
			return string(data), err
		}
		data = append(data, b)
	}
	return string(data), nil
}

func (c *Conn) readByte(ctx context.Context, deadline time.Time) (byte, error) {
	for len(c.buf) == 0 {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if !deadline.IsZero() && c.clock.Now().After(deadline) {
			return 0, errTimeout
		}

		// The port returns no data and no error when the read timeout
		// expires.
		chunk := make([]byte, 256)
		n, err := c.port.Read(chunk)
		c.buf = append(c.buf, chunk[:n]...)
		if err != nil && n == 0 {
			return 0, errors.WithContext(err, "read")
		}
	}

	b := c.buf[0]
	c.buf = c.buf[1:]
	return b, nil
}

func (c *Conn) deadline(timeout time.Duration) time.Time {
	if timeout <= 0 {
		return time.Time{}
	}
	return c.clock.Now().Add(timeout)
}

// pyString quotes a string as a Python string literal.
func pyString(s string) string {
	return strconv.Quote(s)
}
