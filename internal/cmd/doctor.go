package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/avrlink/avrlink/internal/config"
	"github.com/avrlink/avrlink/internal/core/store"
	"github.com/avrlink/avrlink/internal/observability"
)

var doctorRealtime bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long:  "Run diagnostic checks on the installation and the configured receiver and suggest fixes for common issues.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		log := observability.CLILogger
		log.Info("=== " + config.AppName + " doctor ===")
		log.Info("")
		log.Info("Running diagnostic checks...")
		log.Info("")

		allChecks := true
		totalChecks := 7

		goVersion := runtime.Version()
		if goVersion >= "go1.23" {
			log.Info(fmt.Sprintf("[1/%d] Checking Go version... ✅ %s", totalChecks, goVersion), zap.String("go_version", goVersion))
		} else {
			log.Warn(fmt.Sprintf("[1/%d] Checking Go version... ⚠️  %s (recommended: go1.23+)", totalChecks, goVersion), zap.String("go_version", goVersion))
			allChecks = false
		}

		version := crucible.GetVersion()
		if version.Crucible != "" && version.Gofulmen != "" {
			log.Info(fmt.Sprintf("[2/%d] Checking Gofulmen/Crucible... ✅ v%s / v%s", totalChecks, version.Gofulmen, version.Crucible),
				zap.String("gofulmen_version", version.Gofulmen),
				zap.String("crucible_version", version.Crucible))
		} else {
			log.Error(fmt.Sprintf("[2/%d] Checking Gofulmen/Crucible... ❌ version metadata unavailable", totalChecks))
			allChecks = false
		}

		configPath := config.DefaultConfigPath()
		switch {
		case configPath == "":
			log.Error(fmt.Sprintf("[3/%d] Checking config file... ❌ cannot resolve config directory", totalChecks))
			allChecks = false
		case fileExists(configPath):
			log.Info(fmt.Sprintf("[3/%d] Checking config file... ✅ %s", totalChecks, configPath), zap.String("config_path", configPath))
		default:
			log.Warn(fmt.Sprintf("[3/%d] Checking config file... ⚠️  %s missing (run '%s doctor init')", totalChecks, configPath, config.AppName))
		}

		cfg, cfgErr := loadConfig()
		if cfgErr != nil {
			log.Error(fmt.Sprintf("[4/%d] Checking configuration... ❌ %v", totalChecks, cfgErr))
			log.Warn(fmt.Sprintf("[5/%d] Checking database... ⚠️  skipped (config not loaded)", totalChecks))
			log.Warn(fmt.Sprintf("[6/%d] Checking receiver... ⚠️  skipped (config not loaded)", totalChecks))
			log.Warn(fmt.Sprintf("[7/%d] Checking realtime channel... ⚠️  skipped (config not loaded)", totalChecks))
			finishDoctor(false)
			return
		}
		log.Info(fmt.Sprintf("[4/%d] Checking configuration... ✅ zone %s", totalChecks, cfg.Receiver.Zone))

		if ok := doctorStore(ctx, cfg, fmt.Sprintf("[5/%d]", totalChecks)); !ok {
			allChecks = false
		}

		if strings.TrimSpace(cfg.Receiver.Host) == "" {
			log.Warn(fmt.Sprintf("[6/%d] Checking receiver... ⚠️  no host configured (use --host or receiver.host)", totalChecks))
			log.Warn(fmt.Sprintf("[7/%d] Checking realtime channel... ⚠️  skipped", totalChecks))
			finishDoctor(false)
			return
		}

		if ok := doctorReceiver(ctx, cfg, fmt.Sprintf("[6/%d]", totalChecks), fmt.Sprintf("[7/%d]", totalChecks)); !ok {
			allChecks = false
		}

		finishDoctor(allChecks)
	},
}

func finishDoctor(healthy bool) {
	log := observability.CLILogger
	log.Info("")
	if healthy {
		log.Info(fmt.Sprintf("✅ All checks passed! Your %s installation is healthy.", config.AppName))
	} else {
		log.Warn("⚠️  Some checks failed. Review the output above for details.")
	}
	log.Info("")
	log.Info("=== End Diagnostics ===")
}

func doctorStore(ctx context.Context, cfg *config.Config, step string) bool {
	log := observability.CLILogger
	db, err := openStore(ctx, cfg)
	if err != nil {
		log.Warn(step+" Checking database... ⚠️  cannot open store", zap.Error(err))
		return false
	}
	defer db.Close() //nolint:errcheck

	location := storeLocation(cfg)
	rates, err := db.CountRateSnapshots(ctx, store.RateQuery{All: true})
	if err != nil {
		log.Warn(step+" Checking database... ⚠️  cannot read rate history", zap.Error(err))
		return false
	}
	log.Info(fmt.Sprintf("%s Checking database... ✅ %s (%d rate snapshots)", step, location, rates),
		zap.String("driver", db.Driver()))
	return true
}

func doctorReceiver(ctx context.Context, cfg *config.Config, setupStep, realtimeStep string) bool {
	log := observability.CLILogger
	r, err := newReceiver(cfg, doctorRealtime, clientDeps{logger: log})
	if err != nil {
		log.Error(setupStep+" Checking receiver... ❌ invalid receiver config", zap.Error(err))
		return false
	}
	defer func() { _ = r.Close(context.WithoutCancel(ctx)) }()

	start := time.Now()
	if err := setupReceiver(ctx, r, 2*cfg.Receiver.Timeout); err != nil {
		log.Error(fmt.Sprintf("%s Checking receiver... ❌ %s unreachable", setupStep, cfg.Receiver.Host), zap.Error(err))
		return false
	}
	info := r.Info()
	log.Info(fmt.Sprintf("%s Checking receiver... ✅ %s (%s, port %d) in %s",
		setupStep, info.FriendlyName, info.Type, info.Port, time.Since(start).Round(time.Millisecond)))

	if !doctorRealtime {
		log.Info(realtimeStep + " Checking realtime channel... skipped (use --realtime)")
		return true
	}
	if err := r.Connect(ctx); err != nil {
		log.Error(fmt.Sprintf("%s Checking realtime channel... ❌ port %d refused", realtimeStep, cfg.Realtime.Port), zap.Error(err))
		return false
	}
	log.Info(fmt.Sprintf("%s Checking realtime channel... ✅ port %d", realtimeStep, cfg.Realtime.Port))
	return true
}

func storeLocation(cfg *config.Config) string {
	if cfg.Store.URL != "" {
		return cfg.Store.URL + " (remote)"
	}
	dbPath := cfg.Store.Path
	if dbPath == "" {
		dbPath = config.DefaultStorePath()
	}
	absPath, _ := filepath.Abs(dbPath)
	if info, err := os.Stat(absPath); err == nil {
		return fmt.Sprintf("%s (%s)", absPath, formatFileSize(info.Size()))
	}
	return absPath
}

var (
	doctorInitForce   bool
	doctorResetConfig bool
	doctorResetData   bool
	doctorResetAll    bool
)

var doctorInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a default config file",
	Long:  "Write a config file for the receiver given by --host and --zone.",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := config.DefaultConfigPath()
		if configPath == "" {
			return fmt.Errorf("config path not resolved")
		}

		if _, err := os.Stat(configPath); err == nil && !doctorInitForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", configPath)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		content, err := buildInitConfig(cfg)
		if err != nil {
			return err
		}

		if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
		if err := os.WriteFile(configPath, content, 0644); err != nil {
			return fmt.Errorf("write config file: %w", err)
		}

		observability.CLILogger.Info("Config initialized", zap.String("path", configPath))
		return nil
	},
}

var doctorConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Show configuration status and paths",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := observability.CLILogger
		configPath := config.DefaultConfigPath()

		log.Info("Configuration:")
		log.Info(fmt.Sprintf("  Config file:   %s (%s)", configPath, existenceStatus(fileExists(configPath))))

		cfg, err := loadConfig()
		if err != nil {
			log.Warn("Config load failed", zap.Error(err))
			return nil
		}
		log.Info("  Database:      " + storeLocation(cfg))
		if cfg.Refresh.RulesFile != "" {
			log.Info(fmt.Sprintf("  Rules file:    %s (%s)", cfg.Refresh.RulesFile, existenceStatus(fileExists(cfg.Refresh.RulesFile))))
		}

		log.Info("")
		log.Info("Environment:")
		for _, name := range []string{"RECEIVER_HOST", "RECEIVER_ZONE", "STORE_AUTH_TOKEN", "ADMIN_TOKEN"} {
			key := config.EnvPrefix + "_" + name
			log.Info(fmt.Sprintf("  %s: %s", key, envStatus(key)))
		}

		log.Info("")
		log.Info("Effective Settings:")
		log.Info("  receiver.host: " + cfg.Receiver.Host)
		log.Info("  receiver.zone: " + cfg.Receiver.Zone)
		log.Info("  receiver.prefer_structured: " + cfg.Receiver.PreferStructured)
		log.Info(fmt.Sprintf("  realtime.enabled: %t", cfg.Realtime.Enabled))
		log.Info("  refresh.interval: " + cfg.Refresh.Interval.String())
		return nil
	},
}

var doctorResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset user configuration and/or data",
	RunE: func(cmd *cobra.Command, args []string) error {
		if doctorResetAll {
			doctorResetConfig = true
			doctorResetData = true
		}

		if !doctorResetConfig && !doctorResetData {
			return fmt.Errorf("specify --config, --data, or --all")
		}

		if doctorResetData {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.Store.URL != "" {
				return fmt.Errorf("remote store configured; database reset is not supported")
			}

			dbPath := cfg.Store.Path
			if dbPath == "" {
				dbPath = config.DefaultStorePath()
			}
			absPath, _ := filepath.Abs(dbPath)
			if err := removeFile(absPath, "Database"); err != nil {
				return err
			}
		}

		if doctorResetConfig {
			configPath := config.DefaultConfigPath()
			if configPath == "" {
				observability.CLILogger.Warn("Config path not resolved; skipping config reset")
			} else if err := removeFile(configPath, "Config"); err != nil {
				return err
			}
		}

		return nil
	},
}

var doctorValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the current config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := config.DefaultConfigPath()
		if configPath == "" {
			return fmt.Errorf("config path not resolved")
		}
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return fmt.Errorf("config file not found: %s", configPath)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if _, err := receiverConfig(cfg, cfg.Realtime.Enabled); err != nil {
			return err
		}

		observability.CLILogger.Info("Config is valid", zap.String("path", configPath))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.AddCommand(doctorInitCmd)
	doctorCmd.AddCommand(doctorConfigCmd)
	doctorCmd.AddCommand(doctorResetCmd)
	doctorCmd.AddCommand(doctorValidateCmd)

	doctorCmd.Flags().BoolVar(&doctorRealtime, "realtime", false, "also open the telnet channel")

	doctorInitCmd.Flags().BoolVar(&doctorInitForce, "force", false, "overwrite existing config file")

	doctorResetCmd.Flags().BoolVar(&doctorResetConfig, "config", false, "remove user config file")
	doctorResetCmd.Flags().BoolVar(&doctorResetData, "data", false, "remove local database")
	doctorResetCmd.Flags().BoolVar(&doctorResetAll, "all", false, "remove config and data")
}

func removeFile(path, label string) error {
	err := os.Remove(path)
	switch {
	case err == nil:
		observability.CLILogger.Info(label+" removed", zap.String("path", path))
	case os.IsNotExist(err):
		observability.CLILogger.Info(label+" already removed", zap.String("path", path))
	default:
		return fmt.Errorf("remove %s: %w", strings.ToLower(label), err)
	}
	return nil
}

// formatFileSize returns a human-readable file size
func formatFileSize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)
	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}

type initConfig struct {
	Receiver initReceiver `yaml:"receiver"`
	Realtime initRealtime `yaml:"realtime"`
	Refresh  initRefresh  `yaml:"refresh"`
}

type initReceiver struct {
	Host             string `yaml:"host"`
	Zone             string `yaml:"zone"`
	PreferStructured string `yaml:"prefer_structured"`
}

type initRealtime struct {
	Enabled bool `yaml:"enabled"`
}

type initRefresh struct {
	Interval string `yaml:"interval"`
}

// buildInitConfig renders the subset of cfg a user normally edits.
func buildInitConfig(cfg *config.Config) ([]byte, error) {
	body, err := yaml.Marshal(initConfig{
		Receiver: initReceiver{
			Host:             cfg.Receiver.Host,
			Zone:             cfg.Receiver.Zone,
			PreferStructured: cfg.Receiver.PreferStructured,
		},
		Realtime: initRealtime{Enabled: cfg.Realtime.Enabled},
		Refresh:  initRefresh{Interval: cfg.Refresh.Interval.String()},
	})
	if err != nil {
		return nil, fmt.Errorf("render config: %w", err)
	}
	header := fmt.Sprintf("# %s config - created by '%s doctor init'\n", config.AppName, config.AppName)
	return append([]byte(header), body...), nil
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

func existenceStatus(exists bool) string {
	if exists {
		return "exists"
	}
	return "missing"
}

func envStatus(name string) string {
	if strings.TrimSpace(os.Getenv(name)) != "" {
		return "(set)"
	}
	return "(not set)"
}
