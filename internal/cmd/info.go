package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fulmenhq/gofulmen/ascii"
	"github.com/spf13/cobra"

	"github.com/avrlink/avrlink/internal/core"
	"github.com/avrlink/avrlink/internal/core/fetcher"
	"github.com/avrlink/avrlink/internal/observability"
	"github.com/avrlink/avrlink/internal/output"
)

var infoOutput string

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Identify the receiver",
	Long:  "Probe the receiver's HTTP ports and report its type, name and preferred document family.",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(infoOutput)
		if err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		r, err := newReceiver(cfg, false, clientDeps{logger: observability.CLILogger})
		if err != nil {
			return err
		}
		defer func() { _ = r.Close(cmd.Context()) }()

		if err := setupReceiver(cmd.Context(), r, 2*cfg.Receiver.Timeout); err != nil {
			return err
		}

		info := r.Info()
		rules := r.Rules()
		if format == output.FormatJSON {
			payload, err := json.MarshalIndent(struct {
				*fetcher.DeviceInfo
				Rules []core.AttributeRule `json:"rules"`
			}{info, rules}, "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(payload))
			return err
		}

		_, err = fmt.Fprint(cmd.OutOrStdout(), ascii.DrawBox(strings.Join(infoLines(cfg.Receiver.Host, info, rules), "\n"), 0))
		return err
	},
}

func infoLines(host string, info *fetcher.DeviceInfo, rules []core.AttributeRule) []string {
	structured := 0
	for _, rule := range rules {
		if rule.Structured() {
			structured++
		}
	}
	return []string{
		"Receiver " + host,
		"",
		fmt.Sprintf("Name:       %s", info.FriendlyName),
		fmt.Sprintf("Model:      %s", orDash(info.ModelName)),
		fmt.Sprintf("Type:       %s", info.Type),
		fmt.Sprintf("API:        %s", orDash(info.CommAPIVersion)),
		fmt.Sprintf("HTTP port:  %d", info.Port),
		fmt.Sprintf("Structured: %t", info.PreferStructured),
		fmt.Sprintf("Rules:      %d (%d with AppCommand binding)", len(rules), structured),
	}
}

func init() {
	rootCmd.AddCommand(infoCmd)
	infoCmd.Flags().StringVar(&infoOutput, "output-format", string(output.FormatTable), "output format: table|json")
}

func orDash(v string) string {
	if strings.TrimSpace(v) == "" {
		return "-"
	}
	return v
}
