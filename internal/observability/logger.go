package observability

import (
	"fmt"
	"os"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/logging"

	"github.com/avrlink/avrlink/internal/config"
)

var (
	// CLILogger writes human-oriented lines for one-shot commands.
	CLILogger *logging.Logger

	// ServerLogger writes JSON to stderr while serve or monitor runs.
	ServerLogger *logging.Logger
)

var logLevels = map[string]string{
	"trace":   "TRACE",
	"debug":   "DEBUG",
	"info":    "INFO",
	"warn":    "WARN",
	"warning": "WARN",
	"error":   "ERROR",
}

// parseLogLevel maps a config level to a gofulmen severity, defaulting to INFO.
func parseLogLevel(level string) string {
	if severity, ok := logLevels[strings.ToLower(strings.TrimSpace(level))]; ok {
		return severity
	}
	return "INFO"
}

func InitCLILogger(serviceName string, verbose bool) {
	logger, err := logging.NewCLI(serviceName)
	if err != nil {
		fatal(foundry.ExitConfigInvalid, "initialize CLI logger", err)
	}
	if verbose {
		logger.SetLevel(logging.DEBUG)
	}
	CLILogger = logger
}

// serverLoggerConfig is the STRUCTURED profile: JSON on stderr with the
// correlation middleware so request IDs propagate into entries.
func serverLoggerConfig(serviceName, level, namespace string) *logging.LoggerConfig {
	static := map[string]any{"pid": os.Getpid()}
	if namespace != "" {
		static["namespace"] = namespace
	}
	return &logging.LoggerConfig{
		Profile:      logging.ProfileStructured,
		DefaultLevel: parseLogLevel(level),
		Service:      serviceName,
		Environment:  "production",
		StaticFields: static,
		Middleware: []logging.MiddlewareConfig{
			{Name: "correlation", Enabled: true, Order: 100, Config: map[string]any{}},
		},
		Sinks: []logging.SinkConfig{
			{
				Type:    "console",
				Format:  "json",
				Console: &logging.ConsoleSinkConfig{Stream: "stderr"},
			},
		},
		EnableCaller:     true,
		EnableStacktrace: true,
	}
}

// InitServerLogger replaces ServerLogger. namespace, when given, is added to
// every entry so logs can be joined with metrics of the same prefix.
func InitServerLogger(serviceName string, logLevel string, namespace ...string) {
	ns := ""
	if len(namespace) > 0 {
		ns = namespace[0]
	}
	logger, err := logging.New(serverLoggerConfig(serviceName, logLevel, ns))
	if err != nil {
		fatal(foundry.ExitConfigInvalid, "initialize server logger", err)
	}
	ServerLogger = logger
}

// InitServerLoggerFromConfig initializes ServerLogger from the logging
// section. SIMPLE reuses the CLI logger; ENTERPRISE is treated as STRUCTURED.
func InitServerLoggerFromConfig(serviceName string, cfg config.LoggingConfig, namespace ...string) {
	if strings.EqualFold(cfg.Profile, "SIMPLE") {
		level := parseLogLevel(cfg.Level)
		InitCLILogger(serviceName, level == "DEBUG" || level == "TRACE")
		ServerLogger = CLILogger
		return
	}
	InitServerLogger(serviceName, cfg.Level, namespace...)
}

// Active returns the server logger when the server is running, otherwise the
// CLI logger.
func Active() *logging.Logger {
	if ServerLogger != nil {
		return ServerLogger
	}
	return CLILogger
}

// fatal exits before any logger exists, so it writes to stderr directly.
func fatal(code foundry.ExitCode, what string, err error) {
	fmt.Fprintf(os.Stderr, "FATAL: %s: %v\n", what, err)
	if info, ok := foundry.GetExitCodeInfo(code); ok {
		fmt.Fprintf(os.Stderr, "Exit Code: %d (%s) - %s\n", info.Code, info.Name, info.Description)
		os.Exit(info.Code)
	}
	os.Exit(int(code))
}
