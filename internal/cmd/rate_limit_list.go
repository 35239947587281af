package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/avrlink/avrlink/internal/core/store"
)

var (
	rateLimitListAll    bool
	rateLimitListPrefix string
)

var rateLimitListCmd = &cobra.Command{
	Use:   "list",
	Short: "List persisted limiter rates",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		query := store.RateQuery{
			All:    rateLimitListAll,
			Prefix: strings.TrimSpace(rateLimitListPrefix),
		}
		if !query.All && query.Prefix == "" {
			query.All = true
		}

		out, err := openOutput(cmd, "rate-limit.list")
		if err != nil {
			return err
		}
		defer out.Close() // nolint:errcheck // best-effort cleanup

		db, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		snaps, err := db.ListRateSnapshots(cmd.Context(), query)
		if err != nil {
			return err
		}

		rendered, err := out.Formatter().FormatRates(snaps)
		if err != nil {
			return err
		}
		return out.Emit(rendered)
	},
}

func init() {
	rateLimitListCmd.Flags().BoolVar(&rateLimitListAll, "all", false, "list all destinations")
	rateLimitListCmd.Flags().StringVar(&rateLimitListPrefix, "prefix", "", "list destinations with matching prefix")
	addOutputFlags(rateLimitListCmd)
}
