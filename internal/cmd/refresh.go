package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/avrlink/avrlink/internal/core"
	"github.com/avrlink/avrlink/internal/core/receiver"
	"github.com/avrlink/avrlink/internal/core/state"
	"github.com/avrlink/avrlink/internal/core/store"
	"github.com/avrlink/avrlink/internal/metrics"
	"github.com/avrlink/avrlink/internal/observability"
)

var (
	refreshStrict   bool
	refreshNoSave   bool
	refreshShowPass bool
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Read every attribute from the receiver and print the zone state",
	Long: `Identify the receiver, run one reconciliation pass and print the result.

Attributes the receiver does not report are listed as unresolved. A partial
pass still prints the attributes that did resolve and exits 0 unless
--strict is set.`,
	Example: `  avrlink refresh --host 192.168.1.20
  avrlink refresh --zone Zone2 --output-format json
  avrlink refresh --strict --out-dir ./snapshots`,
	RunE: runRefreshCmd,
}

func init() {
	rootCmd.AddCommand(refreshCmd)

	refreshCmd.Flags().BoolVar(&refreshStrict, "strict", false, "fail when any attribute is unresolved")
	refreshCmd.Flags().BoolVar(&refreshNoSave, "no-save", false, "do not store the resulting snapshot")
	refreshCmd.Flags().BoolVar(&refreshShowPass, "show-pass", false, "print pass details after the state")
	addOutputFlags(refreshCmd)
}

func runRefreshCmd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var db *store.Store
	if !refreshNoSave {
		db, err = openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup
	}

	r, err := newReceiver(cfg, false, clientDeps{logger: observability.CLILogger, store: db})
	if err != nil {
		return err
	}
	defer func() { _ = r.Close(context.WithoutCancel(ctx)) }()

	if err := setupReceiver(ctx, r, 2*cfg.Receiver.Timeout); err != nil {
		return err
	}

	result, refreshErr := r.Refresh(ctx)
	metrics.RecordRefreshPass(cfg.Receiver.Zone, refreshErr == nil)
	if refreshErr != nil && !core.IsProcessing(refreshErr) {
		return refreshErr
	}

	snap := r.State()
	if db != nil {
		if err := db.SaveAttributeSnapshot(ctx, cfg.Receiver.Host, cfg.Receiver.Zone, result.PassID, snap, result.Unresolved); err != nil {
			observability.CLILogger.Warn("Failed to store snapshot", zap.Error(err))
		}
	}

	out, err := openOutput(cmd, cfg.Receiver.Host+"."+cfg.Receiver.Zone)
	if err != nil {
		return err
	}
	defer out.Close() // nolint:errcheck // best-effort cleanup

	if err := writeRefresh(out, &snap, result, refreshShowPass || refreshErr != nil); err != nil {
		return err
	}
	if out.IsFile() {
		observability.CLILogger.Info("Wrote refresh output", zap.String("path", out.path))
	}

	if refreshErr != nil && refreshStrict {
		return refreshErr
	}
	return nil
}

func writeRefresh(out *outputTarget, snap *state.Snapshot, result *receiver.RefreshResult, withPass bool) error {
	formatter := out.Formatter()
	rendered, err := formatter.FormatState(snap)
	if err != nil {
		return err
	}
	if err := out.Emit(rendered); err != nil {
		return err
	}
	if !withPass {
		return nil
	}
	rendered, err = formatter.FormatRefresh(result)
	if err != nil {
		return err
	}
	return out.Emit(rendered)
}
