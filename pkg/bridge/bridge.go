package bridge

//go:generate mockery -name Conn

import (
	"context"
	"io"
	"time"

	"github.com/sidkik/picosync/pkg/bridge/mpremote"
	"github.com/sidkik/picosync/pkg/bridge/rawrepl"
	"github.com/sidkik/picosync/pkg/config"
	"github.com/sidkik/picosync/pkg/errors"
)

// Conn is an open connection to the device's filesystem and interpreter.
// Commands are synchronous, and only one may be outstanding at a time.
type Conn interface {
	// Mkdir creates a single directory. It returns errors.ErrDirExists if the
	// directory is already there.
	Mkdir(ctx context.Context, path string) error

	// Put copies a local file to the given path on the device, replacing
	// any existing file.
	Put(ctx context.Context, localPath, remotePath string) error

	// Run executes a script already on the device, streaming its output to
	// `out` until the script exits.
	Run(ctx context.Context, remotePath string, out io.Writer) error

	Close() error
}

// Options configures how the connection is made.
type Options struct {
	Driver         string
	Port           string
	BaudRate       int
	CommandTimeout time.Duration
}

// Open connects to the device with the configured driver.
func Open(opts Options) (Conn, error) {
	switch opts.Driver {
	case config.SerialDriver, "":
		conn, err := rawrepl.Open(opts.Port, opts.BaudRate, opts.CommandTimeout)
		if err != nil {
			return nil, err
		}
		return conn, nil
	case config.MpremoteDriver:
		conn, err := mpremote.Open(opts.Port, opts.CommandTimeout)
		if err != nil {
			return nil, err
		}
		return conn, nil
	default:
		return nil, errors.Newf("unknown driver %q", opts.Driver)
	}
}
