package util

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/sidkik/picosync/pkg/errors"
)

// Exit codes reported by the CLI.
const (
	ExitError          = 1
	ExitDeviceNotFound = 2
	ExitToolMissing    = 3
	ExitRemoteWrite    = 4
	ExitRunError       = 5
)

// Mocked out for unit testing.
var (
	stdin  io.Reader = os.Stdin
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
	exit             = os.Exit
)

// ExitCode returns the process exit code for a fatal error.
func ExitCode(err error) int {
	var (
		notFound errors.DeviceNotFound
		tool     errors.ToolMissing
		writeErr errors.RemoteWriteError
		runErr   errors.RunError
	)
	switch {
	case errors.As(err, &notFound):
		return ExitDeviceNotFound
	case errors.As(err, &tool):
		return ExitToolMissing
	case errors.As(err, &writeErr):
		return ExitRemoteWrite
	case errors.As(err, &runErr):
		return ExitRunError
	default:
		return ExitError
	}
}

// HandleFatalError handles errors that are severe enough to terminate the
// program.
func HandleFatalError(err error) {
	if msg, ok := errors.GetFriendlyMessage(err); ok {
		log.WithError(err).Debug("Fatal error")
		fmt.Fprintln(stderr, msg)
	} else {
		fmt.Fprintf(stderr, "Error: %s\n", err)
	}
	exit(ExitCode(err))
}

// HandlePanic reports a panic before the program crashes.
func HandlePanic() {
	if r := recover(); r != nil {
		fmt.Fprintf(stderr, "picosync crashed: %v\n\n%s\n", r, debug.Stack())
		exit(ExitError)
	}
}

// PromptYesOrNo asks the user a yes or no question, and returns whether they
// answered yes. Anything other than "y" or "yes" is a no.
func PromptYesOrNo(prompt string) (bool, error) {
	fmt.Fprintf(stdout, "%s [y/N]: ", prompt)
	resp, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, errors.WithContext(err, "read response")
	}

	switch strings.ToLower(strings.TrimSpace(resp)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
