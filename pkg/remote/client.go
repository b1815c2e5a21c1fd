package remote

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/picosync/pkg/bridge"
	"github.com/sidkik/picosync/pkg/errors"
)

// Mocked out for unit testing.
var fs = afero.NewOsFs()

// DefaultBackoff is the delay before the first retry of a failed command.
// It doubles with every further attempt.
const DefaultBackoff = 250 * time.Millisecond

// Client is the device filesystem as seen by a deployment. Every call blocks
// until the device has acknowledged it.
type Client interface {
	// EnsureDir creates a directory if it doesn't exist yet.
	EnsureDir(path string) error

	// UploadFile copies a local file into a directory on the device. The
	// directory must already exist.
	UploadFile(localPath, remoteDir string) error

	// RunScript executes a script on the device, streaming its output to
	// `out`.
	RunScript(ctx context.Context, remotePath string, out io.Writer) error

	Close() error
}

type client struct {
	conn    bridge.Conn
	clock   clockwork.Clock
	retries int
	backoff time.Duration
}

// New returns a Client that issues its commands over `conn`. Failed
// filesystem commands are retried up to `retries` times.
func New(conn bridge.Conn, retries int) Client {
	return &client{
		conn:    conn,
		clock:   clockwork.NewRealClock(),
		retries: retries,
		backoff: DefaultBackoff,
	}
}

// Dial opens a bridge connection to the device and returns a Client for it.
func Dial(opts bridge.Options, retries int) (Client, error) {
	conn, err := bridge.Open(opts)
	if err != nil {
		return nil, err
	}
	return New(conn, retries), nil
}

func (c *client) EnsureDir(dir string) error {
	err := c.withRetry("mkdir", dir, func() error {
		err := c.conn.Mkdir(context.Background(), dir)
		if errors.RootCause(err) == errors.ErrDirExists {
			log.WithField("remote", dir).Debug("Directory already exists")
			return nil
		}
		return err
	})
	if err != nil {
		return errors.RemoteWriteError{Op: "mkdir", Path: dir, Err: err}
	}
	return nil
}

func (c *client) UploadFile(localPath, remoteDir string) error {
	if _, err := fs.Stat(localPath); err != nil {
		if os.IsNotExist(err) {
			return errors.FileNotFound{Path: localPath}
		}
		return errors.WithContext(err, "stat")
	}

	remotePath := path.Join(remoteDir, filepath.Base(localPath))
	var vanished bool
	err := c.withRetry("cp", remotePath, func() error {
		err := c.conn.Put(context.Background(), localPath, remotePath)
		if os.IsNotExist(errors.RootCause(err)) {
			vanished = true
			return nil
		}
		return err
	})
	if vanished {
		return errors.FileNotFound{Path: localPath}
	}
	if err != nil {
		return errors.RemoteWriteError{Op: "cp", Path: remotePath, Err: err}
	}
	return nil
}

func (c *client) RunScript(ctx context.Context, remotePath string, out io.Writer) error {
	err := c.conn.Run(ctx, remotePath, out)
	if err == nil {
		return nil
	}

	switch rootCause := errors.RootCause(err); rootCause.(type) {
	case errors.RunError:
		return rootCause
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return errors.RemoteWriteError{Op: "run", Path: remotePath, Err: err}
}

func (c *client) Close() error {
	return c.conn.Close()
}

// withRetry runs `fn` until it succeeds, backing off exponentially between
// attempts. Each attempt targets the same path, so a directory that was
// ensured before the first attempt is still there for the retries.
func (c *client) withRetry(op, target string, fn func() error) error {
	policy := c.newBackOff()
	for {
		err := fn()
		if err == nil {
			return nil
		}

		delay := policy.NextBackOff()
		if delay == backoff.Stop {
			return err
		}

		log.WithError(err).WithField("remote", target).
			Warnf("Remote %s failed. Retrying in %s.", op, delay)
		c.clock.Sleep(delay)
	}
}

// newBackOff returns the delays between attempts: `c.backoff`, doubling
// after every attempt, for at most `c.retries` retries. The clock only
// sleeps, so the delays are deterministic.
func (c *client) newBackOff() backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.backoff
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	policy.MaxElapsedTime = 0
	policy.Reset()
	return backoff.WithMaxRetries(policy, uint64(c.retries))
}
