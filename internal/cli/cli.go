package cli

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/vk/componentd/internal/app"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Parse processes command-line arguments. It returns a populated app.Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := flag.NewFlagSet("componentd", flag.ContinueOnError)
	flagSet.SetOutput(output)

	// Custom usage/help text function
	flagSet.Usage = func() {
		fmt.Fprint(output, `
componentd - A component provider serving construct/call requests to an engine.

Usage:
  componentd [options] [COMPONENTS_PATH]

Arguments:
  COMPONENTS_PATH
    Path to a directory containing component manifest (.hcl) files.

Options:
`)
		flagSet.PrintDefaults()
	}

	componentsFlag := flagSet.String("components", "", "Path to the component manifest directory.")
	cFlag := flagSet.String("c", "", "Path to the component manifest directory (shorthand).")
	listenFlag := flagSet.String("listen", "stdio", "Transport to serve on: 'stdio' or a TCP address like ':7667'.")
	healthPortFlag := flagSet.Int("healthcheck-port", 0, "Port for the HTTP health check server. 0 is disabled.")
	logFormatFlag := flagSet.String("log-format", "json", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.")

	path := ""
	if *componentsFlag != "" {
		path = *componentsFlag
	} else if *cFlag != "" {
		path = *cFlag
	} else if flagSet.NArg() > 0 {
		path = flagSet.Arg(0)
	}
	slog.Debug("Components path determined.", "path", path)

	if path == "" {
		slog.Debug("No components path provided, printing usage and exiting.")
		flagSet.Usage()
		return nil, true, nil
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}

	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}

	if *listenFlag == "" {
		return nil, false, &ExitError{Code: 2, Message: "invalid listen: must be 'stdio' or a TCP address"}
	}
	slog.Debug("CLI parameter validation complete.")

	config := &app.Config{
		ComponentsPath:  path,
		Listen:          *listenFlag,
		HealthcheckPort: *healthPortFlag,
		LogFormat:       logFormat,
		LogLevel:        logLevel,
	}

	slog.Debug("CLI parser finished successfully.", "config", config)
	return config, false, nil
}
