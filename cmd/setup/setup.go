// Package setup implements the `init` command, which creates the project
// config for a new project.
package setup

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/sidkik/picosync/cmd/util"
	"github.com/sidkik/picosync/pkg/config"
	"github.com/sidkik/picosync/pkg/errors"
)

// Mocked for unit testing.
var (
	fs                     = afero.NewOsFs()
	stdout       io.Writer = os.Stdout
	promptYesOrNo          = util.PromptYesOrNo
	writeProject           = config.WriteProject
)

type options struct {
	dir   string
	force bool
}

// New creates a new `init` command.
func New() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Create a picosync.yaml with the default project layout",
		Args:  cobra.MaximumNArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			opts.dir = "."
			if len(args) == 1 {
				opts.dir = args[0]
			}

			if err := run(opts); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	cmd.Flags().BoolVar(&opts.force, "force", false,
		"Overwrite an existing picosync.yaml without prompting")
	return cmd
}

func run(opts options) error {
	path := filepath.Join(opts.dir, config.ProjectConfigName)
	exists, err := afero.Exists(fs, path)
	if err != nil {
		return errors.WithContext(err, "check for existing config")
	}

	if exists && !opts.force {
		overwrite, err := promptYesOrNo(fmt.Sprintf("%s already exists. Overwrite it?", path))
		if err != nil {
			return errors.WithContext(err, "prompt")
		}

		if !overwrite {
			fmt.Fprintln(stdout, "Aborting.")
			return nil
		}
	}

	if err := writeProject(opts.dir, config.DefaultProject()); err != nil {
		return errors.WithContext(err, "write config")
	}

	fmt.Fprintf(stdout, "Wrote %s\n", path)
	printMissingFolders(opts.dir, config.DefaultProject())
	return nil
}

// printMissingFolders lists the configured folders that don't exist yet.
// Missing folders are still created on the device, so this is only a hint.
func printMissingFolders(dir string, project config.Project) {
	var missing []string
	for _, folder := range project.Folders {
		if ok, _ := afero.DirExists(fs, filepath.Join(dir, folder.Name)); !ok {
			missing = append(missing, folder.Name)
		}
	}

	if len(missing) == 0 {
		return
	}

	fmt.Fprintln(stdout, "The following folders are configured but don't exist yet:")
	for _, name := range missing {
		fmt.Fprintf(stdout, "\t%s\n", name)
	}
}
