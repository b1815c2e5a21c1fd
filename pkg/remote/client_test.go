package remote

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/sidkik/picosync/pkg/bridge/mocks"
	"github.com/sidkik/picosync/pkg/errors"
)

func newTestClient(conn *mocks.Conn, retries int) (*client, clockwork.FakeClock) {
	clock := clockwork.NewFakeClock()
	return &client{
		conn:    conn,
		clock:   clock,
		retries: retries,
		backoff: DefaultBackoff,
	}, clock
}

func TestEnsureDir(t *testing.T) {
	tests := []struct {
		name     string
		mkdirErr error
		expError error
	}{
		{
			name: "Created",
		},
		{
			name:     "AlreadyExists",
			mkdirErr: errors.WithContext(errors.ErrDirExists, "mkdir"),
		},
		{
			name:     "WriteFails",
			mkdirErr: assert.AnError,
			expError: errors.RemoteWriteError{Op: "mkdir", Path: "/lib", Err: assert.AnError},
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			conn := &mocks.Conn{}
			conn.On("Mkdir", mock.Anything, "/lib").Return(test.mkdirErr).Once()

			c, _ := newTestClient(conn, 0)
			assert.Equal(t, test.expError, c.EnsureDir("/lib"))
			conn.AssertExpectations(t)
		})
	}
}

func TestUploadFile(t *testing.T) {
	fs = afero.NewMemMapFs()
	assert.NoError(t, afero.WriteFile(fs, "/project/lib/umqtt/a.py", nil, 0644))

	conn := &mocks.Conn{}
	conn.On("Put", mock.Anything, "/project/lib/umqtt/a.py", "/lib/umqtt/a.py").
		Return(nil).Once()

	c, _ := newTestClient(conn, 0)
	assert.NoError(t, c.UploadFile("/project/lib/umqtt/a.py", "/lib/umqtt"))
	conn.AssertExpectations(t)
}

func TestUploadFileToRoot(t *testing.T) {
	fs = afero.NewMemMapFs()
	assert.NoError(t, afero.WriteFile(fs, "/project/main.py", nil, 0644))

	conn := &mocks.Conn{}
	conn.On("Put", mock.Anything, "/project/main.py", "/main.py").Return(nil).Once()

	c, _ := newTestClient(conn, 0)
	assert.NoError(t, c.UploadFile("/project/main.py", "/"))
	conn.AssertExpectations(t)
}

func TestUploadMissingFile(t *testing.T) {
	fs = afero.NewMemMapFs()
	conn := &mocks.Conn{}

	c, _ := newTestClient(conn, 2)
	err := c.UploadFile("/project/app/gone.py", "/app")
	assert.Equal(t, errors.FileNotFound{Path: "/project/app/gone.py"}, err)
	conn.AssertNotCalled(t, "Put", mock.Anything, mock.Anything, mock.Anything)
}

func TestUploadFileVanishes(t *testing.T) {
	fs = afero.NewMemMapFs()
	assert.NoError(t, afero.WriteFile(fs, "/project/app/app.py", nil, 0644))

	conn := &mocks.Conn{}
	conn.On("Put", mock.Anything, "/project/app/app.py", "/app/app.py").
		Return(&os.PathError{Op: "open", Path: "/project/app/app.py", Err: os.ErrNotExist}).
		Once()

	// The file is gone, so retrying wouldn't help.
	c, _ := newTestClient(conn, 2)
	err := c.UploadFile("/project/app/app.py", "/app")
	assert.Equal(t, errors.FileNotFound{Path: "/project/app/app.py"}, err)
	conn.AssertExpectations(t)
}

func TestUploadFileRetries(t *testing.T) {
	fs = afero.NewMemMapFs()
	assert.NoError(t, afero.WriteFile(fs, "/project/app/app.py", nil, 0644))

	conn := &mocks.Conn{}
	conn.On("Put", mock.Anything, "/project/app/app.py", "/app/app.py").
		Return(assert.AnError).Once()
	conn.On("Put", mock.Anything, "/project/app/app.py", "/app/app.py").
		Return(nil).Once()

	c, clock := newTestClient(conn, 2)
	go func() {
		clock.BlockUntil(1)
		clock.Advance(DefaultBackoff)
	}()

	assert.NoError(t, c.UploadFile("/project/app/app.py", "/app"))
	conn.AssertExpectations(t)
}

func TestUploadFileGivesUp(t *testing.T) {
	fs = afero.NewMemMapFs()
	assert.NoError(t, afero.WriteFile(fs, "/project/app/app.py", nil, 0644))

	conn := &mocks.Conn{}
	conn.On("Put", mock.Anything, "/project/app/app.py", "/app/app.py").
		Return(assert.AnError).Times(2)

	c, clock := newTestClient(conn, 1)
	go func() {
		clock.BlockUntil(1)
		clock.Advance(DefaultBackoff)
	}()

	err := c.UploadFile("/project/app/app.py", "/app")
	assert.Equal(t, errors.RemoteWriteError{
		Op: "cp", Path: "/app/app.py", Err: assert.AnError}, err)
	conn.AssertExpectations(t)
}

func TestBackOffDelays(t *testing.T) {
	c, _ := newTestClient(&mocks.Conn{}, 3)
	policy := c.newBackOff()
	assert.Equal(t, 250*time.Millisecond, policy.NextBackOff())
	assert.Equal(t, 500*time.Millisecond, policy.NextBackOff())
	assert.Equal(t, time.Second, policy.NextBackOff())
	assert.Equal(t, backoff.Stop, policy.NextBackOff())

	c, _ = newTestClient(&mocks.Conn{}, 0)
	assert.Equal(t, backoff.Stop, c.newBackOff().NextBackOff())
}

func TestEnsureDirBacksOffExponentially(t *testing.T) {
	conn := &mocks.Conn{}
	conn.On("Mkdir", mock.Anything, "/lib").Return(assert.AnError).Twice()
	conn.On("Mkdir", mock.Anything, "/lib").Return(nil).Once()

	c, clock := newTestClient(conn, 2)
	go func() {
		clock.BlockUntil(1)
		clock.Advance(DefaultBackoff)
		clock.BlockUntil(1)
		clock.Advance(2 * DefaultBackoff)
	}()

	assert.NoError(t, c.EnsureDir("/lib"))
	conn.AssertExpectations(t)
}

func TestRunScript(t *testing.T) {
	runErr := errors.RunError{Script: "/main.py", Output: "Traceback\r\n"}
	ctx := context.Background()

	tests := []struct {
		name     string
		runErr   error
		expError error
	}{
		{
			name: "Success",
		},
		{
			name:     "ScriptRaised",
			runErr:   errors.WithContext(runErr, "exec"),
			expError: runErr,
		},
		{
			name:     "Disconnected",
			runErr:   assert.AnError,
			expError: errors.RemoteWriteError{Op: "run", Path: "/main.py", Err: assert.AnError},
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			var out bytes.Buffer
			conn := &mocks.Conn{}
			conn.On("Run", ctx, "/main.py", &out).Return(test.runErr).Once()

			c, _ := newTestClient(conn, 0)
			assert.Equal(t, test.expError, c.RunScript(ctx, "/main.py", &out))
			conn.AssertExpectations(t)
		})
	}
}

func TestRunScriptCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	conn := &mocks.Conn{}
	conn.On("Run", ctx, "/main.py", mock.Anything).
		Return(errors.WithContext(context.Canceled, "read output")).Once()

	c, _ := newTestClient(conn, 0)
	assert.Equal(t, context.Canceled, c.RunScript(ctx, "/main.py", &bytes.Buffer{}))
}

func TestClose(t *testing.T) {
	conn := &mocks.Conn{}
	conn.On("Close").Return(nil).Once()

	c, _ := newTestClient(conn, 0)
	assert.NoError(t, c.Close())
	conn.AssertExpectations(t)
}
