package config

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sidkik/picosync/pkg/config"
	"github.com/sidkik/picosync/pkg/errors"
)

func TestPromptUser(t *testing.T) {
	tests := []struct {
		name                 string
		helpString, prompt   string
		answers              []string
		stdin                string
		expPrompt, expResult string
	}{
		{
			name:       "No answers",
			helpString: "explanation",
			prompt:     "prompt",
			stdin:      "user input\n",
			expPrompt: "explanation\n" +
				"prompt:\n" +
				"Please enter manually: \n",
			expResult: "user input",
		},
		{
			name:       "No answers, empty input",
			helpString: "explanation",
			prompt:     "prompt",
			stdin:      "\n",
			expPrompt: "explanation\n" +
				"prompt:\n" +
				"Please enter manually: \n",
			expResult: "",
		},
		{
			name:       "One answer, chose it",
			helpString: "different explanation",
			prompt:     "different prompt",
			answers:    []string{"/dev/ttyACM0"},
			stdin:      "1\n",
			expPrompt: "different explanation\n" +
				"different prompt:\n" +
				"\n" +
				"\t1. /dev/ttyACM0 (recommended)\n" +
				"\t2. (Enter manually)\n" +
				"\n" +
				"Please choose one [1-2]: \n",
			expResult: "/dev/ttyACM0",
		},
		{
			name:       "One answer, enter manually",
			helpString: "different explanation",
			prompt:     "different prompt",
			answers:    []string{"/dev/ttyACM0"},
			stdin: "2\n" +
				"/dev/ttyUSB3\n",
			expPrompt: "different explanation\n" +
				"different prompt:\n" +
				"\n" +
				"\t1. /dev/ttyACM0 (recommended)\n" +
				"\t2. (Enter manually)\n" +
				"\n" +
				"Please choose one [1-2]: " +
				"Please enter manually: \n",
			expResult: "/dev/ttyUSB3",
		},
		{
			name:       "Duplicate answers are shown once",
			helpString: "help",
			prompt:     "prompt",
			answers:    []string{"/dev/ttyACM0", "/dev/ttyACM1", "/dev/ttyACM0"},
			stdin:      "2\n",
			expPrompt: "help\n" +
				"prompt:\n" +
				"\n" +
				"\t1. /dev/ttyACM0 (recommended)\n" +
				"\t2. /dev/ttyACM1\n" +
				"\t3. (Enter manually)\n" +
				"\n" +
				"Please choose one [1-3]: \n",
			expResult: "/dev/ttyACM1",
		},
		{
			name:       "Empty response -- pick recommended",
			helpString: "help",
			prompt:     "prompt",
			answers:    []string{"one", "two"},
			stdin:      "\n",
			expPrompt: "help\n" +
				"prompt:\n" +
				"\n" +
				"\t1. one (recommended)\n" +
				"\t2. two\n" +
				"\t3. (Enter manually)\n" +
				"\n" +
				"Please choose one [1-3]: \n",
			expResult: "one",
		},
		{
			name:       "Invalid input",
			helpString: "help",
			prompt:     "prompt",
			answers:    []string{"one", "two"},
			stdin: "invalid input\n" +
				"4\n" +
				"2\n",
			expPrompt: "help\n" +
				"prompt:\n" +
				"\n" +
				"\t1. one (recommended)\n" +
				"\t2. two\n" +
				"\t3. (Enter manually)\n" +
				"\n" +
				"Please choose one [1-3]: " +
				"Please choose one [1-3]: " +
				"Please choose one [1-3]: \n",
			expResult: "two",
		},
	}

	for _, test := range tests {
		out := bytes.NewBuffer(nil)
		stdout = out
		stdin = strings.NewReader(test.stdin)

		resp, err := promptUser(test.helpString, test.prompt, test.answers)
		assert.NoError(t, err, test.name)
		assert.Equal(t, test.expResult, resp, test.name)
		assert.Equal(t, test.expPrompt, out.String(), test.name)
	}
}

func TestGenerateConfig(t *testing.T) {
	tests := []struct {
		name      string
		cliOpts   config.User
		currPort  string
		ports     []string
		stdin     string
		expConfig config.User
	}{
		{
			name:      "Port from the command line",
			cliOpts:   config.User{Port: "/dev/ttyUSB0"},
			expConfig: config.User{Port: "/dev/ttyUSB0"},
		},
		{
			name:      "Pick a detected port",
			ports:     []string{"/dev/ttyACM0", "/dev/ttyACM1"},
			stdin:     "2\n",
			expConfig: config.User{Port: "/dev/ttyACM1"},
		},
		{
			name:      "Keep the current port",
			currPort:  "/dev/ttyUSB9",
			ports:     []string{"/dev/ttyACM0"},
			stdin:     "2\n",
			expConfig: config.User{Port: "/dev/ttyUSB9"},
		},
		{
			name:      "Clear the port to auto-detect",
			currPort:  "/dev/ttyUSB9",
			stdin:     "2\n\n",
			expConfig: config.User{},
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			stdout = bytes.NewBuffer(nil)
			stdin = strings.NewReader(test.stdin)
			listPorts = func() []string { return test.ports }
			parseUserConfig = func() (config.User, error) {
				return config.User{Port: test.currPort}, nil
			}

			cfg, err := generateConfig(test.cliOpts)
			assert.NoError(t, err)
			assert.Equal(t, test.expConfig, cfg)
		})
	}
}

func TestSetupConfigWriteError(t *testing.T) {
	writeUserConfig = func(config.User) error {
		return errors.New("permission denied")
	}

	err := SetupConfig(config.User{Port: "/dev/ttyACM0"})
	assert.EqualError(t, err, "write config: permission denied")
}

func TestSetupConfig(t *testing.T) {
	var written config.User
	writeUserConfig = func(cfg config.User) error {
		written = cfg
		return nil
	}
	stdout = bytes.NewBuffer(nil)

	assert.NoError(t, SetupConfig(config.User{Port: "/dev/ttyACM0"}))
	assert.Equal(t, config.User{Port: "/dev/ttyACM0"}, written)
}

func TestGetPort(t *testing.T) {
	configCmd := New()
	portCmd, _, err := configCmd.Find([]string{"get-port"})
	assert.NoError(t, err)

	parseUserConfig = func() (config.User, error) {
		return config.User{Port: "/dev/ttyACM0"}, nil
	}

	out := bytes.NewBuffer(nil)
	stdout = out

	portCmd.Run(nil, nil)
	assert.Equal(t, "/dev/ttyACM0\n", out.String())
}
