package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	homedir "github.com/mitchellh/go-homedir"

	"github.com/sidkik/picosync/pkg/errors"
	"github.com/sidkik/picosync/pkg/tree"
)

const (
	// ProjectConfigName is the name of the project config within the
	// project directory.
	ProjectConfigName = "picosync.yaml"

	// InitialProjectConfigVersion is the first version of the project
	// config. Config files that do not specify a version will default to
	// this version.
	InitialProjectConfigVersion = "v1alpha1"

	// SupportedProjectConfigVersion is the supported version of the project
	// config of the current picosync binary.
	SupportedProjectConfigVersion = "v1alpha1"
)

const (
	// SerialDriver talks to the device's raw REPL over a serial port that
	// stays open for the whole deployment.
	SerialDriver = "serial"

	// MpremoteDriver shells out to the `mpremote` tool for every command.
	MpremoteDriver = "mpremote"
)

// Defaults for optional project fields.
const (
	DefaultEntryScript    = "main.py"
	DefaultBaudRate       = 115200
	DefaultRetries        = 2
	DefaultCommandTimeout = "10s"
)

// Project describes how a local project tree is deployed to the device.
type Project struct {
	Version string `json:"version,omitempty"`

	// Port is a fixed serial port. When empty, the port is auto-detected
	// with PortPattern.
	Port        string `json:"port,omitempty"`
	PortPattern string `json:"portPattern,omitempty"`

	Driver         string       `json:"driver,omitempty"`
	BaudRate       int          `json:"baudRate,omitempty"`
	EntryScript    string       `json:"entryScript,omitempty"`
	Retries        int          `json:"retries"`
	CommandTimeout string       `json:"commandTimeout,omitempty"`
	Folders        []FolderSpec `json:"folders"`

	// Only populated and consumed by picosync. Never set by user.
	root string
}

// FolderSpec is the yaml representation of tree.FolderSpec.
type FolderSpec struct {
	Name       string   `json:"name"`
	Extensions []string `json:"extensions,omitempty"`
}

func (p Project) getVersion() string {
	return p.Version
}

func (p Project) mistakes() []string {
	return []string{
		"each entry under `folders` starts with `- name:`",
		"`extensions` is a list, such as `extensions: [py, mpy]`",
		"`baudRate` and `retries` are numbers, and `commandTimeout` is a " +
			"duration such as `10s`",
		"field names are camelCase, such as `entryScript`",
	}
}

func (p Project) regenerateCommand() string {
	return "picosync init --force"
}

// GetRoot returns the directory the project was parsed from. A getter
// method is used rather than making the field public so that it can't get set
// by the yaml Unmarshalling.
func (p Project) GetRoot() string {
	return p.root
}

// GetEntryScriptPath returns the local path of the entry script.
func (p Project) GetEntryScriptPath() string {
	return filepath.Join(p.root, p.EntryScript)
}

// GetCommandTimeout returns how long a single device command may take.
func (p Project) GetCommandTimeout() time.Duration {
	timeout, err := time.ParseDuration(p.CommandTimeout)
	if err != nil {
		// ParseProject rejects invalid durations.
		timeout, _ = time.ParseDuration(DefaultCommandTimeout)
	}
	return timeout
}

// GetFolderSpecs converts the configured folders into the specs consumed by
// the tree walker.
func (p Project) GetFolderSpecs() (specs []tree.FolderSpec) {
	for _, folder := range p.Folders {
		specs = append(specs, tree.FolderSpec{
			Name:       folder.Name,
			Extensions: folder.Extensions,
		})
	}
	return specs
}

// DefaultProject returns the project layout written by `picosync init`.
func DefaultProject() Project {
	return Project{
		Version:        SupportedProjectConfigVersion,
		Driver:         SerialDriver,
		BaudRate:       DefaultBaudRate,
		EntryScript:    DefaultEntryScript,
		Retries:        DefaultRetries,
		CommandTimeout: DefaultCommandTimeout,
		Folders: []FolderSpec{
			{Name: "app", Extensions: []string{".py"}},
			{Name: "cloud", Extensions: []string{".py"}},
			{Name: "core", Extensions: []string{".py", ".json"}},
			{Name: "history", Extensions: []string{".py"}},
			{Name: "ui", Extensions: []string{".py"}},
			{Name: "lib", Extensions: []string{".py", ".mpy"}},
		},
	}
}

// ParseProject parses the project config in the directory `dir`.
func ParseProject(dir string) (Project, error) {
	dir, err := homedir.Expand(dir)
	if err != nil {
		return Project{}, errors.WithContext(err, "expand homedir")
	}

	configPath := filepath.Join(dir, ProjectConfigName)
	config := Project{
		Version:        InitialProjectConfigVersion,
		Driver:         SerialDriver,
		BaudRate:       DefaultBaudRate,
		EntryScript:    DefaultEntryScript,
		Retries:        DefaultRetries,
		CommandTimeout: DefaultCommandTimeout,
		root:           dir,
	}
	if err := parseConfig(configPath, &config, SupportedProjectConfigVersion); err != nil {
		if _, ok := err.(errors.FileNotFound); ok {
			return Project{}, errors.NewFriendlyError("No project config "+
				"found at %q. Run `picosync init` in the project directory "+
				"to create one.", configPath)
		}
		return Project{}, errors.WithContext(err, "parse")
	}

	if err := config.validate(); err != nil {
		return Project{}, errors.NewFriendlyError("Invalid project config %q:\n%s",
			configPath, err)
	}

	for i, folder := range config.Folders {
		config.Folders[i].Name = filepath.Clean(folder.Name)
		for j, ext := range folder.Extensions {
			config.Folders[i].Extensions[j] = tree.NormalizeExtension(ext)
		}
	}
	return config, nil
}

func (p Project) validate() error {
	switch p.Driver {
	case SerialDriver, MpremoteDriver:
	default:
		return fmt.Errorf("unknown driver %q (expected %q or %q)",
			p.Driver, SerialDriver, MpremoteDriver)
	}

	if p.EntryScript == "" {
		return errors.MissingFieldError{Field: "entryScript"}
	}
	if strings.ContainsAny(p.EntryScript, `/\`) {
		return fmt.Errorf("entryScript %q must be a file in the project root",
			p.EntryScript)
	}

	if p.BaudRate <= 0 {
		return fmt.Errorf("baudRate must be positive, got %d", p.BaudRate)
	}
	if p.Retries < 0 {
		return fmt.Errorf("retries must not be negative, got %d", p.Retries)
	}
	if _, err := time.ParseDuration(p.CommandTimeout); err != nil {
		return fmt.Errorf("commandTimeout: %s", err)
	}

	seen := map[string]bool{}
	for _, folder := range p.Folders {
		if folder.Name == "" {
			return errors.MissingFieldError{Field: "folders.name"}
		}

		name := filepath.Clean(folder.Name)
		if filepath.IsAbs(name) || name == "." || strings.HasPrefix(name, "..") {
			return fmt.Errorf("folder %q must be a directory inside the project",
				folder.Name)
		}
		if seen[name] {
			return fmt.Errorf("folder %q is listed more than once", folder.Name)
		}
		seen[name] = true
	}
	return nil
}

// WriteProject writes the project config into the directory `dir`.
func WriteProject(dir string, cfg Project) error {
	cfg.Version = SupportedProjectConfigVersion
	return writeConfig(filepath.Join(dir, ProjectConfigName), cfg)
}
