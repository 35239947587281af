package output

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/avrlink/avrlink/internal/core/state"
)

type attributeRow struct {
	name  string
	value string
}

// stateRows lists the populated attributes of snap in a stable order.
func stateRows(snap *state.Snapshot) []attributeRow {
	rows := []attributeRow{}
	add := func(name, value string) {
		if value != "" {
			rows = append(rows, attributeRow{name: name, value: value})
		}
	}

	add("friendly_name", snap.FriendlyName)
	add("power", snap.Power)
	if snap.Volume != nil {
		add("volume", strconv.FormatFloat(*snap.Volume, 'f', 1, 64)+" dB")
	}
	add("muted", boolValue(snap.Muted))
	add("input_func", snap.InputFunc)
	add("sound_mode_raw", snap.SoundModeRaw)
	add("tone_control_status", boolValue(snap.ToneControlStatus))
	add("bass", intValue(snap.Bass))
	add("treble", intValue(snap.Treble))
	add("multeq", snap.MultEQ)
	add("multeq_control", snap.MultEQControl)
	add("dynamic_eq", boolValue(snap.DynamicEQ))
	add("media_title", snap.MediaTitle)
	add("media_artist", snap.MediaArtist)
	add("media_album", snap.MediaAlbum)

	extra := make([]string, 0, len(snap.Extra))
	for name := range snap.Extra {
		extra = append(extra, name)
	}
	sort.Strings(extra)
	for _, name := range extra {
		add(name, snap.Extra[name])
	}

	return rows
}

func boolValue(v *bool) string {
	if v == nil {
		return ""
	}
	if *v {
		return "on"
	}
	return "off"
}

func intValue(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.RFC3339)
}

func formatRate(rate float64) string {
	return fmt.Sprintf("%.2f/s", rate)
}

func formatLatency(seconds float64) string {
	return (time.Duration(seconds * float64(time.Second))).Round(time.Millisecond).String()
}

func joinOrDash(values []string) string {
	if len(values) == 0 {
		return "-"
	}
	return strings.Join(values, ", ")
}
