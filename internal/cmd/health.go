package cmd

import (
	"errors"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/avrlink/avrlink/internal/core"
	"github.com/avrlink/avrlink/internal/observability"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run self-health check",
	Long:  "Verify the binary, logger, configuration and rule catalogue without contacting the receiver.",
	Run: func(cmd *cobra.Command, args []string) {
		if observability.CLILogger == nil {
			ExitWithCodeStderr(foundry.ExitConfigInvalid, "Logger not initialized", errors.New("logger not initialized"))
			return
		}
		log := observability.CLILogger
		log.Info("Running health check...")

		if versionInfo.Version == "" {
			log.Error("❌ FAIL: Version information missing")
			ExitWithCode(log, foundry.ExitConfigInvalid, "Version information missing", errors.New("version information missing"))
			return
		}
		log.Debug("Version check passed", zap.String("version", versionInfo.Version))
		log.Info("✅ Version information available")
		log.Info("✅ Logger initialized")

		cfg, err := loadConfig()
		if err != nil {
			log.Error("❌ FAIL: Configuration invalid")
			ExitWithCode(log, foundry.ExitConfigInvalid, "Configuration invalid", err)
			return
		}
		log.Info("✅ Configuration loaded")

		if _, err := receiverConfig(cfg, cfg.Realtime.Enabled); err != nil {
			if errors.Is(err, core.ErrInvalidArgument) && cfg.Receiver.Host == "" {
				log.Warn("⚠️  No receiver host configured (set receiver.host or AVRLINK_RECEIVER_HOST)")
			} else {
				log.Error("❌ FAIL: Receiver configuration invalid")
				ExitWithCode(log, foundry.ExitConfigInvalid, "Receiver configuration invalid", err)
				return
			}
		} else {
			log.Info("✅ Receiver configuration valid", zap.String("host", cfg.Receiver.Host))
		}

		log.Info("")
		log.Info("✅ All health checks passed")
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
