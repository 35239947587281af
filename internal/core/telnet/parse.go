package telnet

import (
	"github.com/avrlink/avrlink/internal/core"
)

// ParseMessage decodes one framed message into an event. The first two
// characters are the event code and the rest is the parameter. Messages that
// do not resolve to a recognized event code return ok=false.
//
// Auxiliary zones multiplex several events over Z2/Z3, so their parameter
// is inspected and the event remapped to power, source, volume or the nested
// event named by a two-letter prefix.
func ParseMessage(message string) (core.Event, bool) {
	if len(message) < 2 {
		return core.Event{}, false
	}

	ev := core.Event{
		Zone:      core.ZoneMain,
		Code:      message[:2],
		Parameter: message[2:],
	}

	switch ev.Code {
	case "Z2":
		ev.Zone = core.Zone2
		remapZoneEvent(&ev)
	case "Z3":
		ev.Zone = core.Zone3
		remapZoneEvent(&ev)
	}

	if !core.IsEventCode(ev.Code) {
		return core.Event{}, false
	}
	return ev, true
}

func remapZoneEvent(ev *core.Event) {
	param := ev.Parameter
	switch {
	case param == core.PowerOn || param == core.PowerOff:
		ev.Code = "PW"
	case core.IsSource(param):
		ev.Code = "SI"
	case isDigits(param):
		ev.Code = "MV"
	case len(param) >= 2 && core.IsEventCode(param[:2]):
		ev.Code = param[:2]
		ev.Parameter = param[2:]
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
