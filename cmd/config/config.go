package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sidkik/picosync/cmd/util"
	"github.com/sidkik/picosync/pkg/config"
	"github.com/sidkik/picosync/pkg/errors"
	"github.com/sidkik/picosync/pkg/port"
)

// Mocked for unit testing.
var (
	stdout          io.Writer = os.Stdout
	stdin           io.Reader = os.Stdin
	parseUserConfig           = config.ParseUser
	writeUserConfig           = config.WriteUser
	listPorts                 = listPortsImpl
)

// New creates a new `config` command.
func New() *cobra.Command {
	var cliOpts config.User
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Setup the picosync user configuration",
		Long: "Save the serial port of the board on this machine to " +
			config.UserConfigPath + ".\nThe saved port takes precedence " +
			"over the project config.",
		Run: func(_ *cobra.Command, _ []string) {
			if err := SetupConfig(cliOpts); err != nil {
				err = errors.NewFriendlyError("Failed to setup configuration:\n%s", err)
				util.HandleFatalError(err)
			}
		},
	}
	cmd.Flags().StringVar(&cliOpts.Port, "port", "",
		"Set the serial port in the config. "+
			"Optional: If not set, `picosync config` will interactively prompt.")

	cmd.AddCommand(&cobra.Command{
		Use:   "get-port",
		Short: "Get the currently configured serial port",
		Run: func(_ *cobra.Command, _ []string) {
			cfg, err := parseUserConfig()
			if err != nil {
				err = errors.WithContext(err, "read config")
				util.HandleFatalError(err)
			}

			fmt.Fprintln(stdout, cfg.Port)
		},
	})

	return cmd
}

// SetupConfig writes the user config, prompting for the fields that weren't
// set on the command line.
func SetupConfig(cliOpts config.User) error {
	cfg, err := generateConfig(cliOpts)
	if err != nil {
		return errors.WithContext(err, "generate config")
	}

	if err := writeUserConfig(cfg); err != nil {
		return errors.WithContext(err, "write config")
	}

	path, err := config.GetUserConfigPath()
	if err != nil {
		return errors.WithContext(err, "get user config path")
	}

	fmt.Fprintf(stdout, "Wrote config to %s\n", path)
	return nil
}

func generateConfig(cliOpts config.User) (config.User, error) {
	cfg := cliOpts
	if cfg.Port != "" {
		return cfg, nil
	}

	currConfig, err := parseUserConfig()
	if err != nil {
		currConfig = config.User{}
		log.WithError(err).Debug("Failed to read current config")
	}

	answers := listPorts()
	if currConfig.Port != "" {
		answers = append(answers, currConfig.Port)
	}

	cfg.Port, err = promptUser("Enter the serial port of the board.\n"+
		"Leave it empty to auto-detect the port on every deploy.",
		"Serial port", answers)
	if err != nil {
		return config.User{}, errors.WithContext(err, "read response")
	}
	return cfg, nil
}

// listPortsImpl returns the ports that auto-detection would consider.
func listPortsImpl() []string {
	pattern := port.DefaultPattern()
	if pattern == "" {
		return nil
	}

	candidates, err := port.Glob{Pattern: pattern}.Candidates()
	if err != nil {
		log.WithError(err).Info("Failed to list serial ports")
		return nil
	}
	return candidates
}

// promptUser asks the user to pick one of `answers`, or to type in a
// response. The first answer is recommended, and duplicate answers are only
// shown once.
func promptUser(helpString, prompt string, answers []string) (string, error) {
	// Display a new line at the end to separate different fields to make it
	// look clearer.
	defer fmt.Fprintln(stdout)

	options := []string{}
	seen := map[string]bool{}
	for _, answer := range answers {
		if answer == "" || seen[answer] {
			continue
		}
		seen[answer] = true
		options = append(options, answer)
	}
	options = append(options, "(Enter manually)")

	fmt.Fprintln(stdout, helpString+"\n"+prompt+":")

	stdinReader := bufio.NewReader(stdin)

	if nOptions := len(options); nOptions > 1 {
		fmt.Fprintln(stdout)
		for i, option := range options {
			if i == 0 {
				option = fmt.Sprintf("%s (recommended)", option)
			}
			fmt.Fprintf(stdout, "\t%d. %s\n", i+1, option)
		}
		fmt.Fprintln(stdout)

		for {
			fmt.Fprintf(stdout, "Please choose one [1-%d]: ", nOptions)
			choiceStr, err := stdinReader.ReadString('\n')
			if err != nil {
				return "", err
			}

			var choice int
			choiceStr = strings.TrimRight(choiceStr, "\n")

			// Default to the first choice if user doesn't enter anything.
			if choiceStr == "" {
				choice = 1
			} else {
				choice, err = strconv.Atoi(choiceStr)
				if err != nil || choice < 1 || choice > nOptions {
					continue
				}
			}

			if choice == nOptions {
				break
			}

			return options[choice-1], nil
		}
	}

	fmt.Fprint(stdout, "Please enter manually: ")
	resp, err := stdinReader.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}

	return strings.TrimSpace(resp), nil
}
