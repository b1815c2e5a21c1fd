package config

import (
	homedir "github.com/mitchellh/go-homedir"

	"github.com/sidkik/picosync/pkg/errors"
)

const (
	// UserConfigPath is the default path to the picosync user config.
	UserConfigPath = "~/.picosync.yaml"

	// InitialUserConfigVersion is the first version of the picosync user
	// config. Config files that do not specify a version will default to
	// this version.
	InitialUserConfigVersion = "v1alpha1"

	// SupportedUserConfigVersion is the supported version of the picosync
	// user config of the current picosync binary.
	SupportedUserConfigVersion = "v1alpha1"
)

// User contains per-user settings that don't belong in a shared project,
// such as the serial port the board enumerates as on this machine.
type User struct {
	Version string `json:"version,omitempty"`
	Port    string `json:"port,omitempty"`
}

func (u User) getVersion() string {
	return u.Version
}

func (u User) mistakes() []string {
	return []string{"`port` is the only setting, such as `port: /dev/ttyACM0`"}
}

func (u User) regenerateCommand() string {
	return "picosync config"
}

// homedirExpand will be overridden in mock tests
var homedirExpand = homedir.Expand

// ParseUser attempts to parse the User stored in the default path. A missing
// user config is not an error, since all of its fields are optional.
func ParseUser() (User, error) {
	path, err := GetUserConfigPath()
	if err != nil {
		return User{}, errors.WithContext(err, "expand config path")
	}

	config := User{Version: InitialUserConfigVersion}
	if err := parseConfig(path, &config, SupportedUserConfigVersion); err != nil {
		if _, ok := err.(errors.FileNotFound); ok {
			return User{Version: SupportedUserConfigVersion}, nil
		}
		return User{}, errors.WithContext(err, "parse")
	}
	return config, nil
}

// WriteUser writes the given user config to disk.
func WriteUser(cfg User) error {
	cfg.Version = SupportedUserConfigVersion
	path, err := GetUserConfigPath()
	if err != nil {
		return errors.WithContext(err, "expand config path")
	}
	return writeConfig(path, cfg)
}

// GetUserConfigPath returns the path to the user's global picosync
// configuration. This path is expanded, so it can be directly passed to file
// operations.
func GetUserConfigPath() (string, error) {
	return homedirExpand(UserConfigPath)
}
