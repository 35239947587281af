package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/avrlink/avrlink/internal/config"
	"github.com/avrlink/avrlink/internal/observability"
)

var (
	cfgFile string
	verbose bool

	versionInfo = struct {
		Version   string
		Commit    string
		BuildDate string
	}{"dev", "unknown", "unknown"}
)

func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version, versionInfo.Commit, versionInfo.BuildDate = version, commit, buildDate
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   config.AppName,
	Short: "Monitor and control Denon/Marantz AV receivers",
	Long: config.AppName + ` talks to a networked AV receiver over its telnet event channel
and its HTTP document interface.

Use the subcommands to stream events, refresh zone state, send commands or run
the HTTP API.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// gofulmen's config loader emits to the global system, which would write
	// to stdout. serve replaces it with the Prometheus-backed system.
	if sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: false}); err == nil {
		telemetry.SetGlobalSystem(sys)
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", fmt.Sprintf("config file (default is $XDG_CONFIG_HOME/%s/config.yaml)", config.AppName))
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (sets log level to debug)")
	rootCmd.PersistentFlags().String("host", "", "receiver host name or IP address")
	rootCmd.PersistentFlags().String("zone", "", "receiver zone: Main, Zone2 or Zone3")

	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("receiver.host", rootCmd.PersistentFlags().Lookup("host"))
	_ = viper.BindPFlag("receiver.zone", rootCmd.PersistentFlags().Lookup("zone"))
}

// initConfig runs before every command: CLI logger first, then the viper
// search path, environment binding and defaults.
func initConfig() {
	observability.InitCLILogger(config.AppName, verbose)
	logger := observability.CLILogger

	configureViper(viper.GetViper(), cfgFile)

	err := viper.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	switch {
	case err == nil:
		logger.Debug("Using config file", zap.String("path", viper.ConfigFileUsed()))
	case errors.As(err, &notFound):
		logger.Debug("No config file found, using defaults and environment variables")
	case cfgFile != "":
		ExitWithCode(logger, foundry.ExitConfigInvalid, "Could not read config file", err)
	default:
		logger.Warn("Error reading config file", zap.Error(err))
	}

	config.SetDefaults(viper.GetViper())
}

// configureViper points v at file, or at the XDG config dir plus ./config,
// and binds AVRLINK_SECTION_KEY environment variables.
func configureViper(v *viper.Viper, file string) {
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if dir := config.DefaultConfigDir(); dir != "" {
			v.AddConfigPath(dir)
		} else if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, "."+config.AppName))
		}
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix(config.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// loadConfig decodes the merged viper settings.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
