package state

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/avrlink/avrlink/internal/core"
)

func TestApplyEventVolume(t *testing.T) {
	z := NewZone(core.ZoneMain)

	require.True(t, z.ApplyEvent(core.Event{Zone: core.ZoneMain, Code: "MV", Parameter: "55"}))
	require.InDelta(t, -25.0, *z.Snapshot().Volume, 1e-9)

	require.True(t, z.ApplyEvent(core.Event{Zone: core.ZoneMain, Code: "MV", Parameter: "555"}))
	require.InDelta(t, -24.5, *z.Snapshot().Volume, 1e-9)

	require.False(t, z.ApplyEvent(core.Event{Zone: core.ZoneMain, Code: "MV", Parameter: "MAX 80"}))
	require.InDelta(t, -24.5, *z.Snapshot().Volume, 1e-9)
}

func TestApplyEventIgnoresOtherZones(t *testing.T) {
	z := NewZone(core.Zone2)
	require.False(t, z.ApplyEvent(core.Event{Zone: core.ZoneMain, Code: "SI", Parameter: "CD"}))
	require.True(t, z.ApplyEvent(core.Event{Zone: core.Zone2, Code: "PW", Parameter: "ON"}))
	require.Equal(t, "ON", z.Power())
}

func TestApplyEventMainPower(t *testing.T) {
	z := NewZone(core.ZoneMain)
	require.True(t, z.ApplyEvent(core.Event{Zone: core.ZoneMain, Code: "ZM", Parameter: "ON"}))
	require.Equal(t, core.PowerOn, z.Power())
	require.True(t, z.ApplyEvent(core.Event{Zone: core.ZoneMain, Code: "PW", Parameter: "STANDBY"}))
	require.Equal(t, core.PowerStandby, z.Power())
}

func TestApplyEventSettingsAndMedia(t *testing.T) {
	z := NewZone(core.ZoneMain)
	require.False(t, z.ApplyEvent(core.Event{Zone: core.ZoneMain, Code: "NS", Parameter: "E1Song"}), "ignored while off")

	z.ApplyEvent(core.Event{Zone: core.ZoneMain, Code: "ZM", Parameter: "ON"})
	z.ApplyEvent(core.Event{Zone: core.ZoneMain, Code: "MU", Parameter: "ON"})
	z.ApplyEvent(core.Event{Zone: core.ZoneMain, Code: "PS", Parameter: "BAS 44"})
	z.ApplyEvent(core.Event{Zone: core.ZoneMain, Code: "PS", Parameter: "TONE CTRL ON"})
	z.ApplyEvent(core.Event{Zone: core.ZoneMain, Code: "NS", Parameter: "E1Song "})
	z.ApplyEvent(core.Event{Zone: core.ZoneMain, Code: "NS", Parameter: "E2Band"})

	s := z.Snapshot()
	require.True(t, *s.Muted)
	require.Equal(t, 44, *s.Bass)
	require.True(t, *s.ToneControlStatus)
	require.Equal(t, "Song", s.MediaTitle)
	require.Equal(t, "Band", s.MediaArtist)
	require.False(t, s.UpdatedAt.IsZero())
}

func TestSettersFromRules(t *testing.T) {
	z := NewZone(core.ZoneMain)
	rules := append(core.DefaultRules(), core.AttributeRule{Attribute: "dimmer", LegacyPaths: []string{"./Dimmer/value"}})
	setters := z.Setters(rules)
	require.Len(t, setters, len(rules))

	setters[core.AttrVolume]("-35.5")
	setters[core.AttrMuted]("off")
	setters[core.AttrPower]("on")
	setters[core.AttrDynamicEQ]("1")
	setters["dimmer"]("DIM")

	s := z.Snapshot()
	require.InDelta(t, -35.5, *s.Volume, 1e-9)
	require.False(t, *s.Muted)
	require.Equal(t, "ON", s.Power)
	require.True(t, *s.DynamicEQ)
	require.Equal(t, "DIM", s.Extra["dimmer"])

	setters[core.AttrVolume]("--")
	require.InDelta(t, MinVolumeDB, *z.Snapshot().Volume, 1e-9)
}
