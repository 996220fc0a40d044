package config

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	goversion "github.com/hashicorp/go-version"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/safiul0073/CodeLift/cmd/util"
	"github.com/safiul0073/CodeLift/pkg/config"
	"github.com/safiul0073/CodeLift/pkg/errors"
)

// Mocked for unit testing.
var (
	stdout              io.Writer = os.Stdout
	stdin               io.Reader = os.Stdin
	guessDefaults                 = guessDefaultsImpl
	parseCurrentConfig            = util.ParseConfig
	getWorkingDirectory           = os.Getwd
	newSecret                     = func() string { return strings.Replace(uuid.New().String(), "-", "", -1) }
)

// New creates a new `config` command.
func New() *cobra.Command {
	var cliOpts config.Config
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Setup the CodeLift configuration for an installation",
		Run: func(_ *cobra.Command, _ []string) {
			if err := SetupConfig(cliOpts); err != nil {
				err = errors.NewFriendlyError("Failed to setup configuration:\n%s", err)
				util.HandleFatalError(err)
			}
		},
	}
	cmd.Flags().StringVar(&cliOpts.BaseURL, "base-url", "",
		"Set the release server URL in the config. "+
			"Optional: If not set, `codelift config` will interactively prompt.")
	cmd.Flags().StringVar(&cliOpts.ApplicationName, "application-name", "",
		"Set the application name in the config. "+
			"Optional: If not set, `codelift config` will interactively prompt.")
	cmd.Flags().StringVar(&cliOpts.InstallRoot, "install-root", "",
		"Set the installation root in the config. "+
			"Optional: If not set, `codelift config` will interactively prompt.")
	cmd.Flags().StringVar(&cliOpts.CurrentVersion, "current-version", "",
		"Set the installed version in the config. "+
			"Optional: If not set, `codelift config` will interactively prompt.")
	cmd.Flags().StringVar(&cliOpts.MaintenanceSecret, "maintenance-secret", "",
		"Set the maintenance secret in the config. "+
			"Optional: If not set, `codelift config` will interactively prompt.")

	// Setup the commands for querying the contents of the config.
	type getterSpec struct {
		use, short string
		fn         func(config.Config) string
	}

	getters := []getterSpec{
		{
			use:   "get-install-root",
			short: "Get the currently configured installation root",
			fn:    func(cfg config.Config) string { return cfg.InstallRoot },
		},
		{
			use:   "get-current-version",
			short: "Get the currently installed application version",
			fn:    func(cfg config.Config) string { return cfg.CurrentVersion },
		},
	}
	for _, getter := range getters {
		getter := getter
		cmd.AddCommand(&cobra.Command{
			Use:   getter.use,
			Short: getter.short,
			Run: func(_ *cobra.Command, _ []string) {
				cfg, err := parseCurrentConfig()
				if err != nil {
					err = errors.WithContext(err, "read config")
					util.HandleFatalError(err)
				}

				fmt.Fprintln(stdout, getter.fn(cfg))
			},
		})
	}

	return cmd
}

// SetupConfig prompts for the fields that weren't set in `cliOpts`, and
// writes the resulting config.
func SetupConfig(cliOpts config.Config) error {
	cfg, err := generateConfig(cliOpts)
	if err != nil {
		return errors.WithContext(err, "generate config")
	}

	path := util.ConfigFile()
	if err := config.Write(path, cfg); err != nil {
		return errors.WithContext(err, "write config")
	}

	fmt.Fprintf(stdout, "Wrote config to %s\n", path)
	return nil
}

func baseURLValidationFn(baseURL string) (string, bool) {
	u, err := url.Parse(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "The release server URL must be an absolute http or https URL, " +
			"such as `https://releases.example.com`.", false
	}
	return "", true
}

func applicationNameValidationFn(name string) (string, bool) {
	if strings.TrimSpace(name) == "" {
		return "The application name is required.", false
	}
	return "", true
}

func currentVersionValidationFn(v string) (string, bool) {
	if v == "" {
		return "", true
	}
	if _, err := goversion.NewVersion(v); err != nil {
		return fmt.Sprintf("%q is not a valid version, such as `1.4.2`.", v), false
	}
	return "", true
}

func maintenanceSecretValidationFn(secret string) (string, bool) {
	switch {
	case secret == "":
		return "The maintenance secret is required.", false
	case secret == "admin":
		return "The maintenance secret must not be `admin`. " +
			"Please pick a secret that can't be guessed.", false
	case strings.ContainsAny(secret, " \t/"):
		return "The maintenance secret must not contain spaces or slashes, " +
			"because it's used in the bypass URL.", false
	}
	return "", true
}

type prompt struct {
	helpString, prompt, defaultAnswer, currAnswer string
	field                                         *string
	validationFn                                  func(string) (string, bool)
}

// generateConfig interacts with the user to decide what the user's desired
// configuration is.
// It makes best guesses at reasonable defaults, and allows users to explicitly
// override them if desired.
func generateConfig(cliOpts config.Config) (config.Config, error) {
	defaults := guessDefaults()
	currConfig, err := parseCurrentConfig()
	if err != nil {
		currConfig = config.Config{}
		log.WithError(err).Debug("Failed to read current config")
	}

	// Keep the settings that aren't prompted for, such as the commands.
	cfg := currConfig
	cfg.BaseURL = cliOpts.BaseURL
	cfg.ApplicationName = cliOpts.ApplicationName
	cfg.InstallRoot = cliOpts.InstallRoot
	cfg.CurrentVersion = cliOpts.CurrentVersion
	cfg.MaintenanceSecret = cliOpts.MaintenanceSecret

	var prompts []prompt
	if cliOpts.BaseURL == "" {
		prompts = append(prompts, prompt{
			helpString: "Enter the URL of the release server.\n" +
				"CodeLift asks it for new releases, and reports successful updates to it.",
			prompt:       "Release server URL",
			currAnswer:   currConfig.BaseURL,
			field:        &cfg.BaseURL,
			validationFn: baseURLValidationFn,
		})
	}

	if cliOpts.ApplicationName == "" {
		prompts = append(prompts, prompt{
			helpString: "Enter the name of the application.\n" +
				"The release server uses it to find the releases of this application.",
			prompt:        "Application name",
			defaultAnswer: defaults.ApplicationName,
			currAnswer:    currConfig.ApplicationName,
			field:         &cfg.ApplicationName,
			validationFn:  applicationNameValidationFn,
		})
	}

	if cliOpts.InstallRoot == "" {
		prompts = append(prompts, prompt{
			helpString: "Enter the path to the installation that should be updated.\n" +
				"It defaults to the current directory.",
			prompt:        "Installation root",
			defaultAnswer: defaults.InstallRoot,
			currAnswer:    currConfig.InstallRoot,
			field:         &cfg.InstallRoot,
		})
	}

	if cliOpts.CurrentVersion == "" {
		prompts = append(prompts, prompt{
			helpString: "Enter the version of the application that is installed.\n" +
				"Leave it empty if it's unknown.",
			prompt:       "Installed version",
			currAnswer:   currConfig.CurrentVersion,
			field:        &cfg.CurrentVersion,
			validationFn: currentVersionValidationFn,
		})
	}

	if cliOpts.MaintenanceSecret == "" {
		prompts = append(prompts, prompt{
			helpString: "Enter the secret that bypasses maintenance mode during updates.\n" +
				"The first option is a randomly generated secret.",
			prompt:        "Maintenance secret",
			defaultAnswer: defaults.MaintenanceSecret,
			currAnswer:    currConfig.MaintenanceSecret,
			field:         &cfg.MaintenanceSecret,
			validationFn:  maintenanceSecretValidationFn,
		})
	}

	for _, prompt := range prompts {
		var resp string
		for {
			resp, err = promptUser(prompt.helpString, prompt.prompt,
				prompt.defaultAnswer, prompt.currAnswer)
			if err != nil {
				return config.Config{}, errors.WithContext(err, "read response")
			}

			if prompt.validationFn == nil {
				break
			}

			validationErr, ok := prompt.validationFn(resp)
			if ok {
				break
			}

			fmt.Fprintln(stdout, validationErr)
		}

		*prompt.field = resp
	}

	return cfg, nil
}

// guessDefaults tries to guess reasonable defaults for the fields in the
// config.
func guessDefaultsImpl() (cfg config.Config) {
	if dir, err := getWorkingDirectory(); err == nil {
		cfg.InstallRoot = dir
		cfg.ApplicationName = strings.ToLower(filepath.Base(dir))
	} else {
		log.WithError(err).Info("Failed to guess installation root")
	}

	cfg.MaintenanceSecret = newSecret()
	return cfg
}

func promptUser(helpString, prompt, defaultAnswer, currAnswer string) (string, error) {
	// Display a new line at the end to separate different fields to make it
	// look clearer.
	defer fmt.Fprintln(stdout)

	options := []string{}
	if defaultAnswer != "" {
		options = append(options, defaultAnswer)
	}
	if currAnswer != "" && currAnswer != defaultAnswer {
		options = append(options, currAnswer)
	}
	options = append(options, "(Enter manually)")

	fmt.Fprintln(stdout, helpString+"\n"+prompt+":")

	stdinReader := bufio.NewReader(stdin)

	if nOptions := len(options); nOptions > 1 {
		// defaultAnswer or currAnswer exists.
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
			choiceStr = strings.TrimSpace(choiceStr)

			// Default to the first choice if user doesn't enter anything.
			if choiceStr == "" {
				choice = 1
			} else {
				choice, err = strconv.Atoi(choiceStr)
				if err != nil || choice < 1 || choice > nOptions {
					// Try again if the input is invalid.
					continue
				}
			}

			if choice == nOptions {
				// Enter manually.
				break
			}

			return options[choice-1], nil
		}
	}

	fmt.Fprint(stdout, "Please enter manually: ")
	resp, err := stdinReader.ReadString('\n')
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(resp), nil
}
