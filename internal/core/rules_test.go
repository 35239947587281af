package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSearchPath(t *testing.T) {
	rules := DefaultRules()
	byName := map[string]AttributeRule{}
	for _, r := range rules {
		byName[r.Attribute] = r
	}

	require.Equal(t, "./cmd[@cmd_text='GetAllZoneVolume']/zone1/volume", byName[AttrVolume].SearchPath(ZoneMain))
	require.Equal(t, "./cmd[@cmd_text='GetAllZonePowerStatus']/zone2", byName[AttrPower].SearchPath(Zone2))
	require.Equal(t, "./cmd[@cmd_text='GetSurroundModeStatus']/surround", byName[AttrSoundModeRaw].SearchPath(Zone3))
	require.Equal(t, "./cmd[@name='GetAudyssey']/list/param[@name='multeq']", byName[AttrMultEQ].SearchPath(ZoneMain))
}

func TestParseRules(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		doc := []byte(`
rules:
  - attribute: dimmer
    command: {id: "1", text: GetDimmer}
    suffix: /value
  - attribute: sleep
    legacy_paths: ["./Sleep/value"]
`)
		rules, err := ParseRules(doc)
		require.NoError(t, err)
		require.Len(t, rules, 2)
		require.True(t, rules[0].Structured())
		require.False(t, rules[1].Structured())
	})

	t.Run("MissingBinding", func(t *testing.T) {
		_, err := ParseRules([]byte("rules:\n  - attribute: orphan\n"))
		require.Error(t, err)
		require.True(t, errors.Is(err, ErrInvalidArgument))
	})

	t.Run("BadCommandID", func(t *testing.T) {
		_, err := ParseRules([]byte("rules:\n  - attribute: x\n    command: {id: \"7\", text: Foo}\n"))
		require.ErrorIs(t, err, ErrInvalidArgument)
	})
}

func TestMergeRulesReplacesByAttribute(t *testing.T) {
	base := []AttributeRule{{Attribute: "a", LegacyPaths: []string{"./A"}}, {Attribute: "b", LegacyPaths: []string{"./B"}}}
	extra := []AttributeRule{{Attribute: "b", LegacyPaths: []string{"./B2"}}, {Attribute: "c", LegacyPaths: []string{"./C"}}}

	merged := MergeRules(base, extra)
	require.Len(t, merged, 3)
	require.Equal(t, []string{"./B2"}, merged[1].LegacyPaths)
	require.Equal(t, "c", merged[2].Attribute)
}

func TestParseZone(t *testing.T) {
	z, err := ParseZone("zone2")
	require.NoError(t, err)
	require.Equal(t, Zone2, z)
	require.Equal(t, "zone2", z.Token())
	require.Equal(t, "zone1", ZoneMain.Token())

	_, err = ParseZone("zone9")
	require.ErrorIs(t, err, ErrInvalidArgument)
}
