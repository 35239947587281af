package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"runtime"
	"strconv"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/avrlink/avrlink/internal/config"
	"github.com/avrlink/avrlink/internal/observability"
)

var envInfoJSON bool

type envSection struct {
	Title string      `json:"title"`
	Rows  [][2]string `json:"rows"`
}

var envInfoCmd = &cobra.Command{
	Use:   "envinfo",
	Short: "Display environment information",
	Long:  "Display build, runtime and effective configuration, including the receiver settings.",
	RunE: func(cmd *cobra.Command, args []string) error {
		sections := envSections(nil)
		if cfg, err := loadConfig(); err != nil {
			observability.CLILogger.Warn("Config load failed", zap.Error(err))
		} else {
			sections = envSections(cfg)
		}
		if envInfoJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(sections)
		}
		return renderEnvSections(cmd.OutOrStdout(), sections)
	},
}

// envSections lists what envinfo prints; configuration sections are
// omitted when cfg is nil.
func envSections(cfg *config.Config) []envSection {
	deps := crucible.GetVersion()
	sections := []envSection{
		{"Application", [][2]string{
			{"Name", config.AppName},
			{"Version", versionInfo.Version},
			{"Commit", versionInfo.Commit},
			{"Built", versionInfo.BuildDate},
			{"Gofulmen", deps.Gofulmen},
			{"Crucible", deps.Crucible},
		}},
		{"Runtime", [][2]string{
			{"Go", runtime.Version()},
			{"Platform", runtime.GOOS + "/" + runtime.GOARCH},
			{"CPUs", strconv.Itoa(runtime.NumCPU())},
		}},
	}
	if cfg == nil {
		return sections
	}

	storeTarget := cfg.Store.Path
	if cfg.Store.URL != "" {
		storeTarget = cfg.Store.URL
	}
	return append(sections,
		envSection{"Receiver", [][2]string{
			{"Host", orDash(cfg.Receiver.Host)},
			{"Zone", cfg.Receiver.Zone},
			{"HTTP timeout", cfg.Receiver.Timeout.String()},
			{"Realtime", fmt.Sprintf("%t (port %d)", cfg.Realtime.Enabled, cfg.Realtime.Port)},
			{"Backoff", fmt.Sprintf("%s..%s", cfg.Realtime.BackoffInitial, cfg.Realtime.BackoffMax)},
			{"Refresh every", cfg.Refresh.Interval.String()},
			{"Rules file", orDash(cfg.Refresh.RulesFile)},
		}},
		envSection{"Service", [][2]string{
			{"Listen", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)},
			{"Metrics", fmt.Sprintf("%t (port %d)", cfg.Metrics.Enabled, cfg.Metrics.Port)},
			{"Log", cfg.Logging.Level + " / " + cfg.Logging.Profile},
			{"Store", cfg.Store.Driver + " " + storeTarget},
			{"Config file", orDash(config.DefaultConfigPath())},
		}},
	)
}

func renderEnvSections(w io.Writer, sections []envSection) error {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetTitle(config.AppName + " environment")
	for i, section := range sections {
		if i > 0 {
			t.AppendSeparator()
		}
		for j, row := range section.Rows {
			label := ""
			if j == 0 {
				label = section.Title
			}
			t.AppendRow(table.Row{label, row[0], row[1]})
		}
	}
	_, err := fmt.Fprintln(w, t.Render())
	return err
}

func init() {
	envInfoCmd.Flags().BoolVar(&envInfoJSON, "json", false, "print sections as JSON")
	rootCmd.AddCommand(envInfoCmd)
}
