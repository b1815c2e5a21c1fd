// Package deploy implements the deployment of a project onto the device.
//
// A deployment always populates the device from scratch: every configured
// folder is created and its files are copied, whether or not a previous run
// already put them there. Directory creation is idempotent, so running a
// deployment twice leaves the device in the same state as running it once.
//
// The sequence is strictly ordered. A directory is created before anything is
// copied into it, folders are deployed one after another in the configured
// order, and the entry script is copied and started only after every folder
// has been deployed.
package deploy

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/sidkik/picosync/pkg/errors"
	"github.com/sidkik/picosync/pkg/port"
	"github.com/sidkik/picosync/pkg/remote"
	"github.com/sidkik/picosync/pkg/tree"
)

// State is a step of the deployment.
type State int

const (
	Init State = iota
	PortResolved
	Connected
	EnsureDir
	UploadFiles
	EnsureSubdir
	UploadSubfiles
	UploadEntry
	RunEntry
	Done
	Aborted
)

var stateNames = map[State]string{
	Init:           "Init",
	PortResolved:   "PortResolved",
	Connected:      "Connected",
	EnsureDir:      "EnsureDir",
	UploadFiles:    "UploadFiles",
	EnsureSubdir:   "EnsureSubdir",
	UploadSubfiles: "UploadSubfiles",
	UploadEntry:    "UploadEntry",
	RunEntry:       "RunEntry",
	Done:           "Done",
	Aborted:        "Aborted",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Dialer opens the connection to the device at the given port.
type Dialer func(devicePort string) (remote.Client, error)

// Synchronizer deploys a project onto the device.
type Synchronizer struct {
	Resolver port.Resolver
	Dial     Dialer

	// Root is the local project directory that folders are relative to.
	Root        string
	Folders     []tree.FolderSpec
	EntryScript string

	// Out receives the entry script's output.
	Out io.Writer
	Log *logrus.Logger
}

// Report summarizes a deployment.
type Report struct {
	Port     string
	Dirs     int
	Uploaded int
	Skipped  []string
	State    State

	// AbortedIn is the step that failed when State is Aborted.
	AbortedIn State
}

// run holds the state of a single deployment.
type run struct {
	Synchronizer
	client remote.Client
	report Report
}

// Run performs the deployment. A fatal error stops the deployment where it
// happened, and the returned Report's State is Aborted.
func (s Synchronizer) Run(ctx context.Context) (Report, error) {
	r := &run{Synchronizer: s}
	err := r.run(ctx)
	if err != nil {
		r.report.AbortedIn = r.report.State
		r.transition(Aborted)
	}
	return r.report, err
}

func (r *run) run(ctx context.Context) (err error) {
	r.transition(Init)

	devicePort, err := r.Resolver.Resolve()
	if err != nil {
		return errors.WithContext(err, "resolve port")
	}
	r.report.Port = devicePort
	r.transition(PortResolved)

	r.client, err = r.Dial(devicePort)
	if err != nil {
		return errors.WithContext(err, "connect")
	}
	defer func() {
		if closeErr := r.client.Close(); closeErr != nil {
			r.Log.WithError(closeErr).Warn("Failed to close the device connection")
		}
	}()
	r.transition(Connected)
	r.Log.WithField("port", devicePort).Info("Connected to device")

	for _, folder := range r.Folders {
		if err := r.deployFolder(ctx, folder); err != nil {
			return errors.WithContext(err, fmt.Sprintf("deploy %s", folder.Name))
		}
	}

	if err := r.deployEntryScript(ctx); err != nil {
		return err
	}

	r.transition(Done)
	return nil
}

// deployFolder creates the folder on the device and copies its files. The
// context is only checked between commands, since a command that's been sent
// can't be interrupted.
func (r *run) deployFolder(ctx context.Context, folder tree.FolderSpec) error {
	seq := tree.Enumerate(r.Root, folder)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		entry, ok, err := seq.Next()
		if err != nil {
			return errors.WithContext(err, "list files")
		}
		if !ok {
			break
		}

		switch entry.Kind {
		case tree.Directory:
			if entry.RemoteDir == folder.RemoteDir() {
				r.transition(EnsureDir)
			} else {
				r.transition(EnsureSubdir)
			}

			if err := r.client.EnsureDir(entry.RemoteDir); err != nil {
				return errors.WithContext(err, "ensure dir")
			}
			r.report.Dirs++

			if entry.RemoteDir == folder.RemoteDir() {
				r.transition(UploadFiles)
			} else {
				r.transition(UploadSubfiles)
			}
		case tree.File:
			if err := r.upload(entry.UploadTask()); err != nil {
				return err
			}
		}
	}

	r.Log.WithField("folder", folder.Name).Debug("Deployed folder")
	return nil
}

// upload copies a single file. A file that disappeared locally since it was
// listed is skipped.
func (r *run) upload(task tree.UploadTask) error {
	err := r.client.UploadFile(task.LocalFile, task.RemoteDir)
	if err == nil {
		r.report.Uploaded++
		r.Log.WithField("path", task.LocalFile).
			WithField("remote", task.RemoteDir).
			Debug("Uploaded file")
		return nil
	}

	if notFound, ok := errors.RootCause(err).(errors.FileNotFound); ok {
		r.report.Skipped = append(r.report.Skipped, notFound.Path)
		r.Log.WithField("path", notFound.Path).
			Warn("File disappeared before it could be uploaded. Skipping it.")
		return nil
	}
	return errors.WithContext(err, fmt.Sprintf("upload %s", task.LocalFile))
}

func (r *run) deployEntryScript(ctx context.Context) error {
	r.transition(UploadEntry)
	entry := tree.UploadTask{
		LocalFile: r.entryScriptPath(),
		RemoteDir: tree.RemoteRoot,
	}

	// Unlike the files in the folders, there's nothing to run without the
	// entry script.
	if err := r.client.UploadFile(entry.LocalFile, entry.RemoteDir); err != nil {
		return errors.WithContext(err, "upload entry script")
	}
	r.report.Uploaded++

	r.transition(RunEntry)
	r.Log.WithField("dirs", r.report.Dirs).
		WithField("files", r.report.Uploaded).
		Infof("Deployed. Running %s.", r.EntryScript)

	if err := r.client.RunScript(ctx, tree.RemotePath(r.EntryScript), r.Out); err != nil {
		return errors.WithContext(err, "run entry script")
	}
	return nil
}

func (r *run) entryScriptPath() string {
	return filepath.Join(r.Root, r.EntryScript)
}

func (r *run) transition(state State) {
	r.report.State = state
	r.Log.WithField("state", state).Debug("Deployment state changed")
}
