package deploy

import (
	"context"
	"io"
	"os"
	"os/signal"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sidkik/picosync/cmd/util"
	"github.com/sidkik/picosync/pkg/bridge"
	"github.com/sidkik/picosync/pkg/config"
	deployment "github.com/sidkik/picosync/pkg/deploy"
	"github.com/sidkik/picosync/pkg/errors"
	"github.com/sidkik/picosync/pkg/fswatch"
	"github.com/sidkik/picosync/pkg/port"
	"github.com/sidkik/picosync/pkg/remote"
)

// Mocked for unit testing.
var (
	stdout       io.Writer = os.Stdout
	parseProject           = config.ParseProject
	parseUser              = config.ParseUser
	dial                   = remote.Dial
	watch                  = watchImpl
)

type options struct {
	project string
	port    string
	driver  string
	watch   bool
}

// New creates a new `deploy` command.
func New() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Copy the project onto the device and run its entry script",
		Long: `Copy every configured folder onto the device, then copy the entry
script to the device's root and run it. The entry script's output is printed
until it exits.

With --watch, the project is deployed again whenever one of its files changes.`,
		Run: func(_ *cobra.Command, _ []string) {
			if err := run(opts); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	cmd.Flags().StringVar(&opts.project, "project", ".",
		"The directory containing picosync.yaml.")
	cmd.Flags().StringVar(&opts.port, "port", "",
		"The serial port of the device. "+
			"Optional: If not set, the port is read from the config or auto-detected.")
	cmd.Flags().StringVar(&opts.driver, "driver", "",
		"How to talk to the device (serial or mpremote). Overrides the project config.")
	cmd.Flags().BoolVar(&opts.watch, "watch", false,
		"Deploy again whenever a file in the project changes.")
	return cmd
}

func run(opts options) error {
	project, err := parseProject(opts.project)
	if err != nil {
		return errors.WithContext(err, "read project config")
	}

	syncer, err := newSynchronizer(opts, project)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if opts.watch {
		return runWatch(ctx, syncer, project)
	}

	return deployOnce(ctx, syncer)
}

// deployOnce runs a single deployment. Interrupting the entry script is the
// normal way to stop it, but an interrupt during any earlier step leaves the
// device partially deployed and is reported as an error.
func deployOnce(ctx context.Context, syncer deployer) error {
	report, err := syncer.Run(ctx)
	if err == nil {
		logReport(report)
		return nil
	}

	if ctx.Err() == nil {
		return err
	}

	if report.AbortedIn == deployment.RunEntry {
		log.Info("Interrupted")
		return nil
	}
	return errors.NewFriendlyError("Deployment interrupted during the %s "+
		"step. The device holds a partial deployment and the entry script "+
		"didn't run.", report.AbortedIn)
}

// newSynchronizer builds the deployment for the project. The port is taken
// from the --port flag, then the user config, then the project config, and is
// otherwise auto-detected.
func newSynchronizer(opts options, project config.Project) (deployment.Synchronizer, error) {
	userConfig, err := parseUser()
	if err != nil {
		return deployment.Synchronizer{}, errors.WithContext(err, "read user config")
	}

	staticPort := project.Port
	if userConfig.Port != "" {
		staticPort = userConfig.Port
	}
	if opts.port != "" {
		staticPort = opts.port
	}

	driver := project.Driver
	if opts.driver != "" {
		driver = opts.driver
	}

	bridgeOpts := bridge.Options{
		Driver:         driver,
		BaudRate:       project.BaudRate,
		CommandTimeout: project.GetCommandTimeout(),
	}
	return deployment.Synchronizer{
		Resolver: port.New(staticPort, project.PortPattern),
		Dial: func(devicePort string) (remote.Client, error) {
			bridgeOpts := bridgeOpts
			bridgeOpts.Port = devicePort
			return dial(bridgeOpts, project.Retries)
		},
		Root:        project.GetRoot(),
		Folders:     project.GetFolderSpecs(),
		EntryScript: project.EntryScript,
		Out:         stdout,
		Log:         log.StandardLogger(),
	}, nil
}

// deployer is the subset of deployment.Synchronizer used by the watch loop.
type deployer interface {
	Run(ctx context.Context) (deployment.Report, error)
}

// runWatch deploys the project, and deploys it again each time a file
// changes. A running entry script is interrupted before the next deployment
// starts. Deployment errors are logged rather than returned, so that fixing
// the offending file triggers another attempt.
func runWatch(ctx context.Context, syncer deployer, project config.Project) error {
	changes, closeWatcher, err := watch(project)
	if err != nil {
		return errors.WithContext(err, "watch project")
	}
	defer closeWatcher()

	for {
		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() {
			report, err := syncer.Run(runCtx)
			if err == nil {
				logReport(report)
			}
			done <- err
		}()

		select {
		case <-ctx.Done():
			cancel()
			<-done
			return nil
		case <-changes:
			log.Info("Files changed. Deploying again.")
			cancel()
			if err := <-done; err != nil && runCtx.Err() == nil {
				logDeployError(err)
			}
			continue
		case err := <-done:
			cancel()
			if err != nil {
				logDeployError(err)
			}
		}

		log.Info("Waiting for changes")
		select {
		case <-ctx.Done():
			return nil
		case <-changes:
			log.Info("Files changed. Deploying again.")
		}
	}
}

func watchImpl(project config.Project) (<-chan struct{}, func(), error) {
	watcher, err := fswatch.Watch(project.GetRoot(), project.GetFolderSpecs())
	if err != nil {
		return nil, nil, err
	}
	return watcher.Changes, func() {
		if err := watcher.Close(); err != nil {
			log.WithError(err).Debug("Failed to close file watcher")
		}
	}, nil
}

func logReport(report deployment.Report) {
	entry := log.WithField("port", report.Port).
		WithField("dirs", report.Dirs).
		WithField("files", report.Uploaded)
	if len(report.Skipped) != 0 {
		entry = entry.WithField("skipped", report.Skipped)
	}
	entry.Info("Entry script exited")
}

func logDeployError(err error) {
	if msg, ok := errors.GetFriendlyMessage(err); ok {
		log.WithError(err).Debug("Deployment failed")
		log.Error(msg)
		return
	}
	log.WithError(err).Error("Deployment failed")
}
