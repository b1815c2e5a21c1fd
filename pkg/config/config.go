package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/ghodss/yaml"
	"github.com/spf13/afero"

	"github.com/sidkik/picosync/pkg/errors"
)

// Replaced by an in-memory filesystem in the tests.
var fs = afero.NewOsFs()

// configFile is implemented by the config types that are read from disk.
type configFile interface {
	getVersion() string

	// mistakes lists the slips users most often make when editing the file
	// by hand.
	mistakes() []string

	// regenerateCommand is the picosync command that rewrites the file.
	regenerateCommand() string
}

// parseError is returned when a config file isn't valid YAML, or has fields
// of the wrong type or that picosync doesn't know about. The YAML library
// loses the line number of type errors, so the message lists the likely
// mistakes instead.
type parseError struct {
	path       string
	mistakes   []string
	regenerate string
	err        error
}

func (err parseError) Error() string {
	return err.FriendlyMessage()
}

func (err parseError) FriendlyMessage() string {
	var msg strings.Builder
	fmt.Fprintf(&msg, "Failed to parse %q.\n", err.path)
	if len(err.mistakes) != 0 {
		msg.WriteString("Check that:\n")
		for _, mistake := range err.mistakes {
			fmt.Fprintf(&msg, " - %s\n", mistake)
		}
	}
	fmt.Fprintf(&msg, "Or run `%s` to write a fresh one.\n\n", err.regenerate)
	fmt.Fprintf(&msg, "Parser error: %s", err.err)
	return msg.String()
}

func newParseError(path string, config configFile, err error) parseError {
	return parseError{path, config.mistakes(), config.regenerateCommand(), err}
}

type incompatibleVersionError struct {
	path, exp, actual string
	regenerate        string
}

func (err incompatibleVersionError) Error() string {
	return err.FriendlyMessage()
}

func (err incompatibleVersionError) FriendlyMessage() string {
	return fmt.Sprintf("The configuration file %q is incompatible "+
		"with this version of picosync.\n"+
		"Expected version %q, but got %q. Run `%s` to upgrade it.",
		err.path, err.exp, err.actual, err.regenerate)
}

func parseConfig(path string, config configFile, expVersion string) error {
	configBytes, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.FileNotFound{Path: path}
		}
		return errors.WithContext(err, "read file")
	}

	if err := yaml.Unmarshal(configBytes, config); err != nil {
		return newParseError(path, config, err)
	}

	if config.getVersion() != expVersion {
		return incompatibleVersionError{path, expVersion, config.getVersion(),
			config.regenerateCommand()}
	}

	// The version is checked before unknown fields, so that a config written
	// by a newer picosync is reported as such.
	err = yaml.UnmarshalStrict(configBytes, config, yaml.DisallowUnknownFields)
	if err != nil {
		return newParseError(path, config, err)
	}
	return nil
}

func writeConfig(path string, config interface{}) error {
	yamlBytes, err := yaml.Marshal(config)
	if err != nil {
		return errors.WithContext(err, "marshal")
	}

	if err := afero.WriteFile(fs, path, yamlBytes, 0644); err != nil {
		return errors.WithContext(err, "write")
	}
	return nil
}
