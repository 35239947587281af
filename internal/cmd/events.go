package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/avrlink/avrlink/internal/core"
	"github.com/avrlink/avrlink/internal/observability"
)

var (
	eventsLimit int
	eventsPrune time.Duration
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List realtime events journaled by monitor --record or serve",
	RunE: func(cmd *cobra.Command, args []string) error {
		if eventsLimit <= 0 {
			return fmt.Errorf("%w: --limit must be positive", core.ErrInvalidArgument)
		}
		if eventsPrune < 0 {
			return fmt.Errorf("%w: --prune must not be negative", core.ErrInvalidArgument)
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

		if eventsPrune > 0 {
			cutoff := time.Now().Add(-eventsPrune)
			pruned, err := db.PruneEvents(cmd.Context(), cutoff)
			if err != nil {
				return err
			}
			observability.CLILogger.Info("Pruned journaled events",
				zap.Int64("deleted", pruned),
				zap.Time("cutoff", cutoff))
		}

		events, err := db.RecentEvents(cmd.Context(), eventsLimit)
		if err != nil {
			return err
		}

		out, err := openOutput(cmd, "events")
		if err != nil {
			return err
		}
		defer out.Close() // nolint:errcheck // best-effort cleanup

		rendered, err := out.Formatter().FormatEvents(events)
		if err != nil {
			return err
		}
		return out.Emit(rendered)
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.Flags().IntVar(&eventsLimit, "limit", 50, "number of most recent events to list")
	eventsCmd.Flags().DurationVar(&eventsPrune, "prune", 0, "first delete events older than this age (e.g. 168h)")
	addOutputFlags(eventsCmd)
}
