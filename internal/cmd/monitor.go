package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/avrlink/avrlink/internal/core"
	"github.com/avrlink/avrlink/internal/core/receiver"
	"github.com/avrlink/avrlink/internal/core/store"
	"github.com/avrlink/avrlink/internal/metrics"
	"github.com/avrlink/avrlink/internal/observability"
	"github.com/avrlink/avrlink/internal/output"
)

var (
	monitorCodes    []string
	monitorFormat   string
	monitorRecord   bool
	monitorDuration time.Duration
	monitorSetup    bool
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Stream realtime events from the receiver",
	Long: `Connect to the receiver's telnet channel and print every event as it arrives.

The connection is re-established with exponential backoff when it drops.
Press Ctrl+C to stop.`,
	Example: `  avrlink monitor --host 192.168.1.20
  avrlink monitor --code MV --code MU --format json
  avrlink monitor --record --duration 10m`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)

	monitorCmd.Flags().StringSliceVar(&monitorCodes, "code", nil, "event codes to print (default all)")
	monitorCmd.Flags().StringVar(&monitorFormat, "format", "line", "event format: line|json")
	monitorCmd.Flags().BoolVar(&monitorRecord, "record", false, "journal events to the store")
	monitorCmd.Flags().DurationVar(&monitorDuration, "duration", 0, "stop after this long (0 runs until interrupted)")
	monitorCmd.Flags().BoolVar(&monitorSetup, "setup", false, "identify the receiver and refresh state before streaming")
}

// eventPrinter writes events to w in line or json form.
type eventPrinter struct {
	mu     sync.Mutex
	w      io.Writer
	asJSON bool
}

func newEventPrinter(w io.Writer, format string) (*eventPrinter, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "line":
		return &eventPrinter{w: w}, nil
	case "json":
		return &eventPrinter{w: w, asJSON: true}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported event format: %s", core.ErrInvalidArgument, format)
	}
}

func (p *eventPrinter) callback(zone core.Zone, code, parameter string) {
	ev := core.Event{Zone: zone, Code: code, Parameter: parameter, At: time.Now()}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.asJSON {
		data, err := json.Marshal(ev)
		if err != nil {
			return
		}
		_, _ = fmt.Fprintln(p.w, string(data))
		return
	}
	_, _ = fmt.Fprintln(p.w, output.EventLine(ev))
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	printer, err := newEventPrinter(cmd.OutOrStdout(), monitorFormat)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	if monitorDuration > 0 {
		ctx, cancel = context.WithTimeout(ctx, monitorDuration)
		defer cancel()
	}

	deps := clientDeps{logger: observability.CLILogger}
	var journalDone chan struct{}
	if monitorRecord {
		db, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		deps.store = db
		deps.journal = newEventJournal(db, cfg.Receiver.Host, observability.Component(observability.CLILogger, "journal"))
		journalDone = make(chan struct{})
		go func() {
			defer close(journalDone)
			deps.journal.Run(context.WithoutCancel(ctx))
		}()
	}

	r, err := newReceiver(cfg, true, deps)
	if err != nil {
		return err
	}

	if monitorSetup {
		if err := setupReceiver(ctx, r, 2*cfg.Receiver.Timeout); err != nil {
			return err
		}
		if _, err := r.Refresh(ctx); err != nil && !core.IsProcessing(err) {
			return err
		}
	}

	if err := subscribe(r, printer.callback, monitorCodes); err != nil {
		return err
	}

	if err := r.Connect(ctx); err != nil {
		return fmt.Errorf("connect realtime channel: %w", err)
	}
	metrics.SetConnectionHealthy(true)

	finished := make(chan struct{})
	signals.OnShutdown(func(shutdownCtx context.Context) error {
		cancel()
		select {
		case <-finished:
		case <-shutdownCtx.Done():
		}
		return nil
	})
	go func() {
		if err := signals.Listen(ctx); err != nil && ctx.Err() == nil {
			observability.CLILogger.Warn("Signal handler error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	err = closeMonitor(r, deps.journal, journalDone, cfg.Server.ShutdownTimeout)
	close(finished)
	return err
}

func subscribe(r *receiver.Receiver, cb func(core.Zone, string, string), codes []string) error {
	if len(codes) == 0 {
		codes = []string{core.EventAll}
	}
	for _, code := range codes {
		if _, err := r.RegisterCallback(strings.ToUpper(strings.TrimSpace(code)), cb); err != nil {
			return err
		}
	}
	return nil
}

func closeMonitor(r *receiver.Receiver, journal *eventJournal, journalDone chan struct{}, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	closeCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := r.Close(closeCtx)
	if journal != nil {
		journal.Close()
		select {
		case <-journalDone:
		case <-closeCtx.Done():
		}
		if dropped := journal.Dropped(); dropped > 0 {
			observability.CLILogger.Warn("Events dropped from journal", zap.Uint64("dropped", dropped))
		}
	}
	return err
}

// ensure store satisfies the journal's writer.
var _ eventAppender = (*store.Store)(nil)
