// Package output renders receiver state, refresh results, limiter snapshots
// and journaled events for the CLI.
package output

import (
	"fmt"
	"strings"

	"github.com/avrlink/avrlink/internal/core"
	"github.com/avrlink/avrlink/internal/core/receiver"
	"github.com/avrlink/avrlink/internal/core/state"
	"github.com/avrlink/avrlink/internal/core/store"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// Formatter renders client results.
type Formatter interface {
	FormatState(snap *state.Snapshot) (string, error)
	FormatRefresh(result *receiver.RefreshResult) (string, error)
	FormatRates(rates []core.RateSnapshot) (string, error)
	FormatEvents(events []store.EventRecord) (string, error)
}

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatMarkdown):
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// NewFormatter returns a formatter for the requested format.
func NewFormatter(format Format) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatMarkdown:
		return &MarkdownFormatter{}
	default:
		return &TableFormatter{}
	}
}

// EventLine renders one realtime event for streaming output.
func EventLine(ev core.Event) string {
	return fmt.Sprintf("%s %-5s %s %s",
		ev.At.Format("15:04:05.000"), ev.Zone, ev.Code, ev.Parameter)
}
