package output

import (
	"encoding/json"

	"github.com/avrlink/avrlink/internal/core"
	"github.com/avrlink/avrlink/internal/core/receiver"
	"github.com/avrlink/avrlink/internal/core/state"
	"github.com/avrlink/avrlink/internal/core/store"
)

// JSONFormatter renders results as JSON.
type JSONFormatter struct {
	Indent bool
}

func (f *JSONFormatter) FormatState(snap *state.Snapshot) (string, error) {
	if snap == nil {
		return "", nil
	}
	return f.marshal(snap)
}

func (f *JSONFormatter) FormatRefresh(result *receiver.RefreshResult) (string, error) {
	if result == nil {
		return "", nil
	}
	return f.marshal(result)
}

func (f *JSONFormatter) FormatRates(rates []core.RateSnapshot) (string, error) {
	if rates == nil {
		rates = []core.RateSnapshot{}
	}
	return f.marshal(rates)
}

func (f *JSONFormatter) FormatEvents(events []store.EventRecord) (string, error) {
	if events == nil {
		events = []store.EventRecord{}
	}
	return f.marshal(events)
}

func (f *JSONFormatter) marshal(value any) (string, error) {
	var (
		data []byte
		err  error
	)

	if f.Indent {
		data, err = json.MarshalIndent(value, "", "  ")
	} else {
		data, err = json.Marshal(value)
	}
	if err != nil {
		return "", err
	}

	return string(data), nil
}
