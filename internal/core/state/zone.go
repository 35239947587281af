// Package state holds the cached attribute values of one receiver zone.
package state

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/avrlink/avrlink/internal/core"
	"github.com/avrlink/avrlink/internal/core/engine"
)

// MinVolumeDB is reported for a volume of "--".
const MinVolumeDB = -80.0

// Snapshot is an immutable copy of a zone's state.
type Snapshot struct {
	Zone              core.Zone `json:"zone"`
	FriendlyName      string    `json:"friendly_name,omitempty"`
	Power             string    `json:"power,omitempty"`
	Volume            *float64  `json:"volume_db,omitempty"`
	Muted             *bool     `json:"muted,omitempty"`
	InputFunc         string    `json:"input_func,omitempty"`
	SoundModeRaw      string    `json:"sound_mode_raw,omitempty"`
	ToneControlStatus *bool     `json:"tone_control_status,omitempty"`
	Bass              *int      `json:"bass,omitempty"`
	Treble            *int      `json:"treble,omitempty"`
	MultEQ            string    `json:"multeq,omitempty"`
	MultEQControl     string    `json:"multeq_control,omitempty"`
	DynamicEQ         *bool     `json:"dynamic_eq,omitempty"`
	MediaTitle        string    `json:"media_title,omitempty"`
	MediaArtist       string    `json:"media_artist,omitempty"`
	MediaAlbum        string    `json:"media_album,omitempty"`
	UpdatedAt         time.Time `json:"updated_at"`

	// Extra holds attributes from user-defined rules.
	Extra map[string]string `json:"extra,omitempty"`
}

// Zone is the live, concurrency-safe state of one zone.
type Zone struct {
	mu    sync.RWMutex
	snap  Snapshot
	clock func() time.Time
}

// NewZone returns empty state for zone.
func NewZone(zone core.Zone) *Zone {
	return &Zone{
		snap:  Snapshot{Zone: zone, Extra: map[string]string{}},
		clock: func() time.Time { return time.Now().UTC() },
	}
}

// Zone returns which zone the state belongs to.
func (z *Zone) Zone() core.Zone {
	return z.snap.Zone
}

// Snapshot returns a copy of the current state.
func (z *Zone) Snapshot() Snapshot {
	z.mu.RLock()
	defer z.mu.RUnlock()
	out := z.snap
	out.Extra = make(map[string]string, len(z.snap.Extra))
	for k, v := range z.snap.Extra {
		out.Extra[k] = v
	}
	return out
}

// SetFriendlyName records the device name.
func (z *Zone) SetFriendlyName(name string) {
	z.update(func(s *Snapshot) { s.FriendlyName = name })
}

// Power returns the current power state.
func (z *Zone) Power() string {
	z.mu.RLock()
	defer z.mu.RUnlock()
	return z.snap.Power
}

func (z *Zone) update(fn func(*Snapshot)) {
	z.mu.Lock()
	defer z.mu.Unlock()
	fn(&z.snap)
	z.snap.UpdatedAt = z.clock()
}

// attributeSetters maps every built-in attribute to its typed conversion.
var attributeSetters = map[string]func(*Snapshot, string){
	core.AttrPower:     func(s *Snapshot, v string) { s.Power = strings.ToUpper(v) },
	core.AttrVolume:    func(s *Snapshot, v string) { s.Volume = parseVolumeDB(v) },
	core.AttrMuted:     func(s *Snapshot, v string) { s.Muted = boolPtr(strings.EqualFold(v, "on")) },
	core.AttrInputFunc: func(s *Snapshot, v string) { s.InputFunc = v },
	core.AttrSoundModeRaw: func(s *Snapshot, v string) {
		s.SoundModeRaw = strings.ToUpper(v)
	},
	core.AttrToneControlStatus: func(s *Snapshot, v string) { s.ToneControlStatus = parseBool(v) },
	core.AttrBass:              func(s *Snapshot, v string) { s.Bass = parseInt(v) },
	core.AttrTreble:            func(s *Snapshot, v string) { s.Treble = parseInt(v) },
	core.AttrMultEQ:            func(s *Snapshot, v string) { s.MultEQ = v },
	core.AttrMultEQControl:     func(s *Snapshot, v string) { s.MultEQControl = v },
	core.AttrDynamicEQ:         func(s *Snapshot, v string) { s.DynamicEQ = parseBool(v) },
}

// Setters builds the reconciliation setter table for rules. Attributes
// without a built-in conversion are stored verbatim in Extra.
func (z *Zone) Setters(rules []core.AttributeRule) engine.Setters {
	setters := make(engine.Setters, len(rules))
	for _, rule := range rules {
		attr := rule.Attribute
		if fn, ok := attributeSetters[attr]; ok {
			setters[attr] = func(v string) { z.update(func(s *Snapshot) { fn(s, v) }) }
			continue
		}
		setters[attr] = func(v string) { z.update(func(s *Snapshot) { s.Extra[attr] = v }) }
	}
	return setters
}

// ApplyEvent folds a realtime event for this zone into the state. It
// reports whether anything changed.
func (z *Zone) ApplyEvent(ev core.Event) bool {
	if ev.Zone != z.snap.Zone {
		return false
	}

	switch ev.Code {
	case "PW", "ZM":
		z.update(func(s *Snapshot) { s.Power = ev.Parameter })
	case "MV":
		db := parseTelnetVolume(ev.Parameter)
		if db == nil {
			return false
		}
		z.update(func(s *Snapshot) { s.Volume = db })
	case "MU":
		z.update(func(s *Snapshot) { s.Muted = boolPtr(ev.Parameter == core.PowerOn) })
	case "SI":
		z.update(func(s *Snapshot) { s.InputFunc = ev.Parameter })
	case "MS":
		z.update(func(s *Snapshot) { s.SoundModeRaw = ev.Parameter })
	case "PS":
		return z.applyParameterSetting(ev.Parameter)
	case "NS":
		return z.applyNetAudio(ev.Parameter)
	default:
		return false
	}
	return true
}

func (z *Zone) applyParameterSetting(param string) bool {
	switch {
	case strings.HasPrefix(param, "TONE CTRL "):
		v := boolPtr(strings.TrimPrefix(param, "TONE CTRL ") == core.PowerOn)
		z.update(func(s *Snapshot) { s.ToneControlStatus = v })
	case strings.HasPrefix(param, "BAS "):
		v := parseInt(strings.TrimPrefix(param, "BAS "))
		if v == nil {
			return false
		}
		z.update(func(s *Snapshot) { s.Bass = v })
	case strings.HasPrefix(param, "TRE "):
		v := parseInt(strings.TrimPrefix(param, "TRE "))
		if v == nil {
			return false
		}
		z.update(func(s *Snapshot) { s.Treble = v })
	case strings.HasPrefix(param, "DYNEQ "):
		v := boolPtr(strings.TrimPrefix(param, "DYNEQ ") == core.PowerOn)
		z.update(func(s *Snapshot) { s.DynamicEQ = v })
	case strings.HasPrefix(param, "MULTEQ:"):
		v := strings.TrimPrefix(param, "MULTEQ:")
		z.update(func(s *Snapshot) { s.MultEQ = v })
	default:
		return false
	}
	return true
}

// applyNetAudio handles now-playing lines: NSE1 title, NSE2 artist, NSE4 album.
func (z *Zone) applyNetAudio(param string) bool {
	if len(param) < 2 || param[0] != 'E' || z.Power() != core.PowerOn {
		return false
	}
	text := strings.TrimSpace(param[2:])
	switch param[1] {
	case '1':
		z.update(func(s *Snapshot) { s.MediaTitle = text })
	case '2':
		z.update(func(s *Snapshot) { s.MediaArtist = text })
	case '4':
		z.update(func(s *Snapshot) { s.MediaAlbum = text })
	default:
		return false
	}
	return true
}

// parseTelnetVolume converts "55" to -25.0 and "555" to -24.5. Volume is
// reported relative to 80 with an optional half-step digit. MVMAX lines and
// other non-numeric values return nil.
func parseTelnetVolume(param string) *float64 {
	if param == "" {
		return nil
	}
	for i := 0; i < len(param); i++ {
		if param[i] < '0' || param[i] > '9' {
			return nil
		}
	}
	raw, err := strconv.Atoi(param)
	if err != nil {
		return nil
	}
	v := float64(raw)
	if len(param) == 3 {
		v /= 10
	}
	db := v - 80
	return &db
}

func parseVolumeDB(v string) *float64 {
	v = strings.TrimSpace(v)
	if v == "--" {
		db := MinVolumeDB
		return &db
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil
	}
	return &f
}

func parseBool(v string) *bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "on", "true":
		return boolPtr(true)
	case "0", "off", "false":
		return boolPtr(false)
	}
	return nil
}

func parseInt(v string) *int {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return nil
	}
	return &n
}

func boolPtr(b bool) *bool { return &b }
