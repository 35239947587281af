package output

import (
	"fmt"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/avrlink/avrlink/internal/core"
	"github.com/avrlink/avrlink/internal/core/receiver"
	"github.com/avrlink/avrlink/internal/core/state"
	"github.com/avrlink/avrlink/internal/core/store"
)

// TableFormatter renders results as an ASCII table.
type TableFormatter struct{}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	return t
}

// FormatState renders the attributes of one zone.
func (f *TableFormatter) FormatState(snap *state.Snapshot) (string, error) {
	if snap == nil {
		return "", nil
	}

	t := newTable()
	t.SetTitle(fmt.Sprintf("%s state", snap.Zone))
	t.AppendHeader(table.Row{"Attribute", "Value"})
	for _, row := range stateRows(snap) {
		t.AppendRow(table.Row{row.name, row.value})
	}
	t.AppendFooter(table.Row{"updated", formatTime(snap.UpdatedAt)})
	return t.Render(), nil
}

// FormatRefresh summarizes a refresh pass.
func (f *TableFormatter) FormatRefresh(result *receiver.RefreshResult) (string, error) {
	if result == nil {
		return "", nil
	}

	t := newTable()
	t.AppendHeader(table.Row{"Zone", "Pass", "Applied", "Unresolved", "Fetches"})
	t.AppendRow(table.Row{
		result.Zone,
		result.PassID,
		joinOrDash(result.Applied),
		joinOrDash(result.Unresolved),
		strconv.FormatInt(result.Fetches, 10),
	})
	return t.Render(), nil
}

// FormatRates renders adaptive limiter snapshots.
func (f *TableFormatter) FormatRates(rates []core.RateSnapshot) (string, error) {
	t := newTable()
	t.AppendHeader(table.Row{"Destination", "Rate", "Avg Latency", "Samples", "Updated"})
	for _, r := range rates {
		t.AppendRow(table.Row{
			r.Destination,
			formatRate(r.Rate),
			formatLatency(r.LatencyAvg),
			r.Samples,
			formatTime(r.UpdatedAt),
		})
	}
	return t.Render(), nil
}

// FormatEvents renders journaled realtime events.
func (f *TableFormatter) FormatEvents(events []store.EventRecord) (string, error) {
	t := newTable()
	t.AppendHeader(table.Row{"Time", "Host", "Zone", "Code", "Parameter"})
	for _, ev := range events {
		t.AppendRow(table.Row{formatTime(ev.At), ev.Host, string(ev.Zone), ev.Code, ev.Parameter})
	}
	return t.Render(), nil
}
