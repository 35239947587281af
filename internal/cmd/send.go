package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/avrlink/avrlink/internal/core"
	"github.com/avrlink/avrlink/internal/metrics"
	"github.com/avrlink/avrlink/internal/observability"
)

var (
	sendRealtime bool
	sendNoWait   bool
)

var sendCmd = &cobra.Command{
	Use:   "send COMMAND [COMMAND...]",
	Short: "Send raw protocol commands to the receiver",
	Long: `Send one or more protocol commands such as PWON, MVUP or SIDVD.

Commands go over HTTP by default. With --realtime they are sent on the
telnet channel through the adaptive rate limiter. --no-wait also uses the
telnet channel but skips the limiter.`,
	Example: `  avrlink send PWON
  avrlink send --realtime MV45 MUOFF
  avrlink send --no-wait MVUP MVUP MVUP`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().BoolVar(&sendRealtime, "realtime", false, "send on the telnet channel")
	sendCmd.Flags().BoolVar(&sendNoWait, "no-wait", false, "send on the telnet channel without rate limiting")
}

// normalizeCommands trims and upper-cases commands, rejecting empty ones and
// embedded line breaks.
func normalizeCommands(args []string) ([]string, error) {
	cmds := make([]string, 0, len(args))
	for _, arg := range args {
		cmd := strings.TrimSpace(arg)
		if cmd == "" {
			return nil, fmt.Errorf("%w: empty command", core.ErrInvalidArgument)
		}
		if strings.ContainsAny(cmd, "\r\n") {
			return nil, fmt.Errorf("%w: command %q contains a line break", core.ErrInvalidArgument, cmd)
		}
		cmds = append(cmds, strings.ToUpper(cmd))
	}
	return cmds, nil
}

func runSend(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cmds, err := normalizeCommands(args)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	realtime := sendRealtime || sendNoWait
	r, err := newReceiver(cfg, realtime, clientDeps{logger: observability.CLILogger})
	if err != nil {
		return err
	}
	defer func() { _ = r.Close(context.WithoutCancel(ctx)) }()

	if realtime {
		if err := r.Connect(ctx); err != nil {
			return fmt.Errorf("connect realtime channel: %w", err)
		}
	}

	if sendNoWait {
		if !r.SendCommandsNoWait(cmds...) {
			metrics.RecordCommand("telnet", false)
			return &core.NetworkError{Op: "send", Addr: cfg.Receiver.Host, Err: errors.New("realtime channel down")}
		}
		observability.CLILogger.Info("Commands queued", zap.Strings("commands", cmds))
		return nil
	}

	for _, c := range cmds {
		if err := r.SendCommand(ctx, c); err != nil {
			return fmt.Errorf("send %s: %w", c, err)
		}
		observability.CLILogger.Debug("Command sent", zap.String("command", c))
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "Sent %d command(s)\n", len(cmds))
	return err
}
