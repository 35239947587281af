package output

import (
	"fmt"
	"strings"

	"github.com/avrlink/avrlink/internal/core"
	"github.com/avrlink/avrlink/internal/core/receiver"
	"github.com/avrlink/avrlink/internal/core/state"
	"github.com/avrlink/avrlink/internal/core/store"
)

// MarkdownFormatter renders results as markdown tables.
type MarkdownFormatter struct{}

func (f *MarkdownFormatter) FormatState(snap *state.Snapshot) (string, error) {
	if snap == nil {
		return "", nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## %s state\n\n", escapeMarkdownCell(string(snap.Zone))))
	sb.WriteString("| Attribute | Value |\n")
	sb.WriteString("|-----------|-------|\n")
	for _, row := range stateRows(snap) {
		sb.WriteString(fmt.Sprintf("| %s | %s |\n", escapeMarkdownCell(row.name), escapeMarkdownCell(row.value)))
	}
	sb.WriteString(fmt.Sprintf("\n**Updated**: %s\n", formatTime(snap.UpdatedAt)))
	return sb.String(), nil
}

func (f *MarkdownFormatter) FormatRefresh(result *receiver.RefreshResult) (string, error) {
	if result == nil {
		return "", nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Refresh %s\n\n", escapeMarkdownCell(result.Zone)))
	sb.WriteString(fmt.Sprintf("- **Pass**: %s\n", result.PassID))
	sb.WriteString(fmt.Sprintf("- **Applied**: %s\n", escapeMarkdownCell(joinOrDash(result.Applied))))
	sb.WriteString(fmt.Sprintf("- **Unresolved**: %s\n", escapeMarkdownCell(joinOrDash(result.Unresolved))))
	sb.WriteString(fmt.Sprintf("- **Fetches**: %d\n", result.Fetches))
	return sb.String(), nil
}

func (f *MarkdownFormatter) FormatRates(rates []core.RateSnapshot) (string, error) {
	var sb strings.Builder
	sb.WriteString("| Destination | Rate | Avg Latency | Samples | Updated |\n")
	sb.WriteString("|-------------|------|-------------|---------|---------|\n")
	for _, r := range rates {
		sb.WriteString(fmt.Sprintf("| %s | %s | %s | %d | %s |\n",
			escapeMarkdownCell(r.Destination),
			formatRate(r.Rate),
			formatLatency(r.LatencyAvg),
			r.Samples,
			formatTime(r.UpdatedAt),
		))
	}
	return sb.String(), nil
}

func (f *MarkdownFormatter) FormatEvents(events []store.EventRecord) (string, error) {
	var sb strings.Builder
	sb.WriteString("| Time | Host | Zone | Code | Parameter |\n")
	sb.WriteString("|------|------|------|------|-----------|\n")
	for _, ev := range events {
		sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s |\n",
			formatTime(ev.At),
			escapeMarkdownCell(ev.Host),
			escapeMarkdownCell(string(ev.Zone)),
			escapeMarkdownCell(ev.Code),
			escapeMarkdownCell(ev.Parameter),
		))
	}
	return sb.String(), nil
}

func escapeMarkdownCell(value string) string {
	return strings.ReplaceAll(value, "|", "\\|")
}
