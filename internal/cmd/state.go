package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/avrlink/avrlink/internal/core/state"
	"github.com/avrlink/avrlink/internal/core/store"
	"github.com/avrlink/avrlink/internal/observability"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show the zone state stored by the last refresh",
	Long: `Print the attribute snapshot saved by the most recent refresh of the
configured receiver and zone. The receiver is not contacted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.RequireHost(); err != nil {
			return err
		}
		db, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		stored, err := db.LatestAttributeSnapshot(cmd.Context(), cfg.Receiver.Host, cfg.Receiver.Zone)
		if err != nil {
			return err
		}
		if stored == nil {
			return fmt.Errorf("no stored state for %s zone %s; run '%s refresh' first",
				cfg.Receiver.Host, cfg.Receiver.Zone, rootCmd.Name())
		}
		snap, err := decodeStoredState(stored)
		if err != nil {
			return err
		}
		if len(stored.Unresolved) > 0 {
			observability.CLILogger.Warn("Stored pass left attributes unresolved",
				zap.String("pass_id", stored.PassID),
				zap.Strings("unresolved", stored.Unresolved))
		}

		out, err := openOutput(cmd, cfg.Receiver.Host+"."+cfg.Receiver.Zone+".state")
		if err != nil {
			return err
		}
		defer out.Close() // nolint:errcheck // best-effort cleanup

		rendered, err := out.Formatter().FormatState(snap)
		if err != nil {
			return err
		}
		return out.Emit(rendered)
	},
}

func decodeStoredState(stored *store.AttributeSnapshot) (*state.Snapshot, error) {
	var snap state.Snapshot
	if err := json.Unmarshal(stored.State, &snap); err != nil {
		return nil, fmt.Errorf("decode stored state from pass %s: %w", stored.PassID, err)
	}
	return &snap, nil
}

func init() {
	rootCmd.AddCommand(stateCmd)
	addOutputFlags(stateCmd)
}
