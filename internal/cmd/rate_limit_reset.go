package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/avrlink/avrlink/internal/core"
	"github.com/avrlink/avrlink/internal/core/store"
	"github.com/avrlink/avrlink/internal/output"
)

var (
	rateLimitResetAll         bool
	rateLimitResetDestination string
	rateLimitResetPrefix      string
	rateLimitResetYes         bool
	rateLimitResetDryRun      bool
)

var rateLimitResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset stored rate limit state",
	RunE: func(cmd *cobra.Command, args []string) error {
		query := store.RateQuery{
			All:         rateLimitResetAll,
			Destination: strings.TrimSpace(rateLimitResetDestination),
			Prefix:      strings.TrimSpace(rateLimitResetPrefix),
		}
		if err := query.Validate(); err != nil {
			return fmt.Errorf("%w: %v", core.ErrInvalidArgument, err)
		}

		if query.All && !rateLimitResetYes && !rateLimitResetDryRun {
			return fmt.Errorf("%w: --all requires --yes (or use --dry-run)", core.ErrInvalidArgument)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		matched, err := db.CountRateSnapshots(cmd.Context(), query)
		if err != nil {
			return err
		}

		out, err := openOutput(cmd, "rate-limit.reset", output.FormatTable, output.FormatJSON)
		if err != nil {
			return err
		}
		defer out.Close() // nolint:errcheck // best-effort cleanup

		if rateLimitResetDryRun {
			return writeRateLimitResetResult(out.format, out, matched, 0, true)
		}

		deleted, err := db.ResetRateSnapshots(cmd.Context(), query)
		if err != nil {
			return err
		}

		return writeRateLimitResetResult(out.format, out, matched, deleted, false)
	},
}

func writeRateLimitResetResult(format output.Format, w io.Writer, matched int, deleted int64, dryRun bool) error {
	result := map[string]any{
		"matched": matched,
		"deleted": deleted,
		"dry_run": dryRun,
	}

	if format == output.FormatJSON {
		payload, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(payload))
		return err
	}

	if dryRun {
		_, err := fmt.Fprintf(w, "Would delete %d rate snapshot(s)\n", matched)
		return err
	}
	_, err := fmt.Fprintf(w, "Deleted %d/%d rate snapshot(s)\n", deleted, matched)
	return err
}

func init() {
	rateLimitResetCmd.Flags().BoolVar(&rateLimitResetAll, "all", false, "reset all destinations")
	rateLimitResetCmd.Flags().StringVar(&rateLimitResetDestination, "destination", "", "reset a single destination (exact match)")
	rateLimitResetCmd.Flags().StringVar(&rateLimitResetPrefix, "prefix", "", "reset destinations with matching prefix")
	rateLimitResetCmd.Flags().BoolVar(&rateLimitResetYes, "yes", false, "confirm destructive reset")
	rateLimitResetCmd.Flags().BoolVar(&rateLimitResetDryRun, "dry-run", false, "show what would be deleted")
	addOutputFlags(rateLimitResetCmd, output.FormatTable, output.FormatJSON)
}
