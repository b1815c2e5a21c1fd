package ports

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sidkik/picosync/cmd/util"
	"github.com/sidkik/picosync/pkg/config"
	"github.com/sidkik/picosync/pkg/errors"
	"github.com/sidkik/picosync/pkg/port"
)

// Mocked for unit testing.
var (
	stdout       io.Writer = os.Stdout
	parseProject           = config.ParseProject
	candidates             = func(g port.Glob) ([]string, error) { return g.Candidates() }
)

// New creates a new `ports` command.
func New() *cobra.Command {
	var projectDir string
	cmd := &cobra.Command{
		Use:   "ports",
		Short: "List the serial ports that look like a connected board",
		Long: "List the serial ports matching the auto-detection pattern.\n" +
			"The port marked with `*` is the one `picosync deploy` picks " +
			"when no port is configured.",
		Run: func(_ *cobra.Command, _ []string) {
			if err := run(projectDir); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	cmd.Flags().StringVar(&projectDir, "project", ".",
		"The directory containing picosync.yaml. "+
			"Optional: Without a project config, the platform's default pattern is used.")
	return cmd
}

func run(projectDir string) error {
	glob := port.Glob{Pattern: port.DefaultPattern()}
	if project, err := parseProject(projectDir); err == nil {
		if project.PortPattern != "" {
			glob.Pattern = project.PortPattern
		}
	}

	if glob.Pattern == "" {
		return errors.NewFriendlyError("Serial ports can't be auto-detected " +
			"on this platform. Set `portPattern` in picosync.yaml.")
	}

	ports, err := candidates(glob)
	if err != nil {
		return errors.WithContext(err, "list ports")
	}

	if len(ports) == 0 {
		fmt.Fprintf(stdout, "No devices match %s\n", glob.Pattern)
		return nil
	}

	for i, p := range ports {
		marker := " "
		if i == 0 {
			marker = "*"
		}
		fmt.Fprintf(stdout, "%s %s\n", marker, p)
	}
	return nil
}
