package config

import (
	"fmt"
	"testing"
	"time"

	"github.com/ghodss/yaml"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"

	"github.com/sidkik/picosync/pkg/errors"
	"github.com/sidkik/picosync/pkg/tree"
)

func TestParseProject(t *testing.T) {
	dir := "/project"
	out := "/project/picosync.yaml"

	defaults := func(folders ...FolderSpec) Project {
		return Project{
			Version:        SupportedProjectConfigVersion,
			Driver:         SerialDriver,
			BaudRate:       DefaultBaudRate,
			EntryScript:    DefaultEntryScript,
			Retries:        DefaultRetries,
			CommandTimeout: DefaultCommandTimeout,
			Folders:        folders,
			root:           dir,
		}
	}

	tests := []struct {
		name      string
		input     []byte
		expConfig Project
		expError  string
	}{
		{
			name: "EmptyVersion",
			input: []byte(`
folders:
- name: app
  extensions: [py]
- name: lib/
  extensions: [.py, mpy]
`),
			expConfig: defaults(
				FolderSpec{Name: "app", Extensions: []string{".py"}},
				FolderSpec{Name: "lib", Extensions: []string{".py", ".mpy"}},
			),
		},
		{
			name: "Overrides",
			input: []byte(fmt.Sprintf(`
version: %s
port: /dev/ttyUSB0
driver: mpremote
baudRate: 9600
entryScript: boot.py
retries: 0
commandTimeout: 30s
folders: []
`, SupportedProjectConfigVersion)),
			expConfig: Project{
				Version:        SupportedProjectConfigVersion,
				Port:           "/dev/ttyUSB0",
				Driver:         MpremoteDriver,
				BaudRate:       9600,
				EntryScript:    "boot.py",
				Retries:        0,
				CommandTimeout: "30s",
				Folders:        []FolderSpec{},
				root:           dir,
			},
		},
		{
			name:  "IncorrectVersion",
			input: []byte("version: incorrect_version"),
			expError: errors.WithContext(incompatibleVersionError{
				path:       out,
				exp:        SupportedProjectConfigVersion,
				actual:     "incorrect_version",
				regenerate: Project{}.regenerateCommand(),
			}, "parse").Error(),
		},
		{
			name:  "ExtraFields",
			input: []byte("extra: fields"),
			expError: errors.WithContext(
				newParseError(out, Project{},
					errors.New("error unmarshaling JSON: while decoding JSON: "+
						`json: unknown field "extra"`)),
				"parse").Error(),
		},
		{
			name:  "UnknownDriver",
			input: []byte("driver: ampy"),
			expError: fmt.Sprintf("Invalid project config %q:\n"+
				`unknown driver "ampy" (expected "serial" or "mpremote")`, out),
		},
		{
			name:  "NestedEntryScript",
			input: []byte("entryScript: app/main.py"),
			expError: fmt.Sprintf("Invalid project config %q:\n"+
				`entryScript "app/main.py" must be a file in the project root`, out),
		},
		{
			name:  "MissingFolderName",
			input: []byte("folders: [{extensions: [py]}]"),
			expError: fmt.Sprintf("Invalid project config %q:\n"+
				"missing required field: folders.name", out),
		},
		{
			name:  "FolderOutsideProject",
			input: []byte("folders: [{name: ../shared}]"),
			expError: fmt.Sprintf("Invalid project config %q:\n"+
				`folder "../shared" must be a directory inside the project`, out),
		},
		{
			name:  "DuplicateFolder",
			input: []byte("folders: [{name: app}, {name: app/}]"),
			expError: fmt.Sprintf("Invalid project config %q:\n"+
				`folder "app/" is listed more than once`, out),
		},
		{
			name:  "BadTimeout",
			input: []byte("commandTimeout: soon"),
			expError: fmt.Sprintf("Invalid project config %q:\n"+
				`commandTimeout: time: invalid duration "soon"`, out),
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			fs = afero.NewMemMapFs()
			assert.NoError(t, afero.WriteFile(fs, out, test.input, 0644))

			config, err := ParseProject(dir)
			if test.expError != "" {
				assert.EqualError(t, err, test.expError)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, test.expConfig, config)
		})
	}
}

func TestParseProjectMissing(t *testing.T) {
	fs = afero.NewMemMapFs()
	_, err := ParseProject("/project")
	assert.Equal(t, errors.NewFriendlyError("No project config "+
		"found at %q. Run `picosync init` in the project directory "+
		"to create one.", "/project/picosync.yaml"), err)
}

func TestParseErrorMessage(t *testing.T) {
	fs = afero.NewMemMapFs()
	assert.NoError(t, afero.WriteFile(fs, "/project/picosync.yaml",
		[]byte("folders:\n- name: app\n  extensions: py\n"), 0644))

	_, err := ParseProject("/project")
	msg, ok := errors.GetFriendlyMessage(err)
	assert.True(t, ok)
	assert.Contains(t, msg, `Failed to parse "/project/picosync.yaml".`)
	assert.Contains(t, msg, " - `extensions` is a list, such as `extensions: [py, mpy]`\n")
	assert.Contains(t, msg, "Or run `picosync init --force` to write a fresh one.")
	assert.Contains(t, msg, "Parser error: ")
}

func TestParseWrittenProject(t *testing.T) {
	fs = afero.NewMemMapFs()
	assert.NoError(t, WriteProject("/project", DefaultProject()))

	parsed, err := ParseProject("/project")
	assert.NoError(t, err)

	exp := DefaultProject()
	exp.root = "/project"
	assert.Equal(t, exp, parsed)
}

func TestProjectGetters(t *testing.T) {
	p := DefaultProject()
	p.root = "/project"
	p.Folders = []FolderSpec{{Name: "lib", Extensions: []string{".py"}}}

	assert.Equal(t, "/project/main.py", p.GetEntryScriptPath())
	assert.Equal(t, 10*time.Second, p.GetCommandTimeout())
	assert.Equal(t, []tree.FolderSpec{{Name: "lib", Extensions: []string{".py"}}},
		p.GetFolderSpecs())
}

func mustMarshal(cfg interface{}) []byte {
	yamlBytes, err := yaml.Marshal(cfg)
	if err != nil {
		panic(fmt.Errorf("bad test input, unable to marshal to yaml: %s", err))
	}
	return yamlBytes
}
