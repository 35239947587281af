package output

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/avrlink/avrlink/internal/core"
	"github.com/avrlink/avrlink/internal/core/receiver"
	"github.com/avrlink/avrlink/internal/core/state"
	"github.com/avrlink/avrlink/internal/core/store"
)

func sampleSnapshot() *state.Snapshot {
	volume := -24.5
	muted := false
	bass := 3
	return &state.Snapshot{
		Zone:         core.ZoneMain,
		FriendlyName: "Living Room",
		Power:        "ON",
		Volume:       &volume,
		Muted:        &muted,
		InputFunc:    "CD",
		Bass:         &bass,
		Extra:        map[string]string{"dimmer": "Dim", "auto_standby": "off"},
		UpdatedAt:    time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC),
	}
}

func TestParseFormat(t *testing.T) {
	format, err := ParseFormat("table")
	require.NoError(t, err)
	require.Equal(t, FormatTable, format)

	format, err = ParseFormat("JSON")
	require.NoError(t, err)
	require.Equal(t, FormatJSON, format)

	format, err = ParseFormat("")
	require.NoError(t, err)
	require.Equal(t, FormatTable, format)

	_, err = ParseFormat("csv")
	require.Error(t, err)
}

func TestStateRowsOrder(t *testing.T) {
	rows := stateRows(sampleSnapshot())

	names := make([]string, 0, len(rows))
	for _, row := range rows {
		names = append(names, row.name)
	}
	require.Equal(t, []string{
		"friendly_name", "power", "volume", "muted", "input_func", "bass", "auto_standby", "dimmer",
	}, names)
	require.Equal(t, "-24.5 dB", rows[2].value)
	require.Equal(t, "off", rows[3].value)
}

func TestFormatters(t *testing.T) {
	snap := sampleSnapshot()

	tableRendered, err := NewFormatter(FormatTable).FormatState(snap)
	require.NoError(t, err)
	require.Contains(t, tableRendered, "ATTRIBUTE")
	require.Contains(t, tableRendered, "Living Room")
	require.Contains(t, tableRendered, "-24.5 dB")

	jsonRendered, err := NewFormatter(FormatJSON).FormatState(snap)
	require.NoError(t, err)
	require.Contains(t, jsonRendered, "\"volume_db\": -24.5")
	require.Contains(t, jsonRendered, "\"dimmer\": \"Dim\"")

	markdownRendered, err := NewFormatter(FormatMarkdown).FormatState(snap)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(markdownRendered, "## Main state"))
	require.Contains(t, markdownRendered, "| power | ON |")

	empty, err := NewFormatter(FormatTable).FormatState(nil)
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestFormatRefresh(t *testing.T) {
	result := &receiver.RefreshResult{
		PassID:     "pass-1",
		Zone:       "Main",
		Applied:    []string{"power", "volume"},
		Unresolved: []string{"dimmer"},
		Fetches:    2,
	}

	rendered, err := NewFormatter(FormatTable).FormatRefresh(result)
	require.NoError(t, err)
	require.Contains(t, rendered, "power, volume")
	require.Contains(t, rendered, "dimmer")

	rendered, err = NewFormatter(FormatMarkdown).FormatRefresh(&receiver.RefreshResult{Zone: "Zone2"})
	require.NoError(t, err)
	require.Contains(t, rendered, "- **Unresolved**: -")
}

func TestFormatRatesAndEvents(t *testing.T) {
	rates := []core.RateSnapshot{{
		Destination: "10.0.0.5:80",
		Rate:        12.5,
		LatencyAvg:  0.08,
		Samples:     7,
	}}

	rendered, err := NewFormatter(FormatTable).FormatRates(rates)
	require.NoError(t, err)
	require.Contains(t, rendered, "12.50/s")
	require.Contains(t, rendered, "80ms")

	jsonRendered, err := NewFormatter(FormatJSON).FormatRates(nil)
	require.NoError(t, err)
	require.Equal(t, "[]", jsonRendered)

	events := []store.EventRecord{{
		ID:    1,
		Host:  "10.0.0.5",
		Event: core.Event{Zone: core.Zone2, Code: "PW", Parameter: "ON|STANDBY"},
	}}
	markdownRendered, err := NewFormatter(FormatMarkdown).FormatEvents(events)
	require.NoError(t, err)
	require.Contains(t, markdownRendered, "ON\\|STANDBY")
}

func TestEventLine(t *testing.T) {
	line := EventLine(core.Event{
		Zone:      core.ZoneMain,
		Code:      "MV",
		Parameter: "555",
		At:        time.Date(2026, 3, 15, 8, 9, 10, 0, time.UTC),
	})
	require.Equal(t, "08:09:10.000 Main  MV 555", line)
}
