package core

// EventAll subscribes to every recognized event code.
const EventAll = "ALL"

// Event codes emitted on the realtime channel that subscribers may register for.
var EventCodes = []string{
	"PW", "ZM", "MU", "MV", "SI", "MS", "PS", "PV", "CV", "MN",
	"NS", "TF", "TM", "TP", "HD", "SD", "DC", "SV", "SS", "SY",
	"SR", "SL", "VS", "TR", "UG", "RM", "Z2", "Z3",
}

var eventCodeSet = func() map[string]struct{} {
	set := make(map[string]struct{}, len(EventCodes))
	for _, code := range EventCodes {
		set[code] = struct{}{}
	}
	return set
}()

// IsEventCode reports whether code is part of the recognized event set.
func IsEventCode(code string) bool {
	_, ok := eventCodeSet[code]
	return ok
}

// Sources is the set of input names the device reports on the realtime channel.
var Sources = []string{
	"CD", "PHONO", "TUNER", "DVD", "BD", "TV", "SAT/CBL", "MPLAY", "GAME",
	"HDRADIO", "NET", "PANDORA", "SIRIUSXM", "LASTFM", "FLICKR", "IRADIO",
	"SERVER", "FAVORITES", "AUX1", "AUX2", "AUX3", "AUX4", "AUX5", "AUX6",
	"AUX7", "BT", "USB/IPOD", "USB DIRECT", "IPOD DIRECT",
}

var sourceSet = func() map[string]struct{} {
	set := make(map[string]struct{}, len(Sources))
	for _, s := range Sources {
		set[s] = struct{}{}
	}
	return set
}()

// IsSource reports whether value names a known input source.
func IsSource(value string) bool {
	_, ok := sourceSet[value]
	return ok
}

// Power states reported by the device.
const (
	PowerOn      = "ON"
	PowerOff     = "OFF"
	PowerStandby = "STANDBY"
)
