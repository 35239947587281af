package core

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Logical attribute names of the built-in rule catalogue.
const (
	AttrPower             = "power"
	AttrVolume            = "volume"
	AttrMuted             = "muted"
	AttrInputFunc         = "input_func"
	AttrSoundModeRaw      = "sound_mode_raw"
	AttrToneControlStatus = "tone_control_status"
	AttrBass              = "bass"
	AttrTreble            = "treble"
	AttrMultEQ            = "multeq"
	AttrMultEQControl     = "multeq_control"
	AttrDynamicEQ         = "dynamic_eq"
)

var (
	cmdPower     = AppCommand{ID: "1", Text: "GetAllZonePowerStatus"}
	cmdVolume    = AppCommand{ID: "1", Text: "GetAllZoneVolume"}
	cmdMute      = AppCommand{ID: "1", Text: "GetAllZoneMuteStatus"}
	cmdSource    = AppCommand{ID: "1", Text: "GetAllZoneSource"}
	cmdSurround  = AppCommand{ID: "1", Text: "GetSurroundModeStatus"}
	cmdTone      = AppCommand{ID: "1", Text: "GetToneControl"}
	cmdAudyssey  = AppCommand{ID: "3", Name: "GetAudyssey", Params: []AppCommandParam{{Name: "dynamiceq"}, {Name: "multeq"}}}
	cmdFriendly  = AppCommand{ID: "1", Text: "GetFriendlyName"}
	multEQSuffix = "/list/param[@name='multeq']"
)

// FriendlyNameCommand is the query used to probe AppCommand support.
func FriendlyNameCommand() AppCommand { return cmdFriendly }

// DefaultRules returns the built-in attribute catalogue.
func DefaultRules() []AttributeRule {
	return []AttributeRule{
		{Attribute: AttrPower, Command: cmdPower, ZoneScoped: true,
			LegacyPaths: []string{"./ZonePower/value", "./Power/value"}},
		{Attribute: AttrVolume, Command: cmdVolume, ZoneScoped: true, Suffix: "/volume",
			LegacyPaths: []string{"./MasterVolume/value"}},
		{Attribute: AttrMuted, Command: cmdMute, ZoneScoped: true,
			LegacyPaths: []string{"./Mute/value"}},
		{Attribute: AttrInputFunc, Command: cmdSource, ZoneScoped: true, Suffix: "/source",
			LegacyPaths: []string{"./InputFuncSelect/value"}},
		{Attribute: AttrSoundModeRaw, Command: cmdSurround, Suffix: "/surround",
			LegacyPaths: []string{"./selectSurround/value", "./SurrMode/value"}},
		{Attribute: AttrToneControlStatus, Command: cmdTone, Suffix: "/status", Optional: true},
		{Attribute: AttrBass, Command: cmdTone, Suffix: "/bassvalue", Optional: true},
		{Attribute: AttrTreble, Command: cmdTone, Suffix: "/treblevalue", Optional: true},
		{Attribute: AttrMultEQ, Command: cmdAudyssey, Suffix: multEQSuffix, Optional: true},
		{Attribute: AttrMultEQControl, Command: cmdAudyssey, Suffix: multEQSuffix, XMLAttribute: "control", Optional: true},
		{Attribute: AttrDynamicEQ, Command: cmdAudyssey, Suffix: "/list/param[@name='dynamiceq']", Optional: true},
	}
}

type rulesFile struct {
	Rules []AttributeRule `yaml:"rules"`
}

// LoadRules reads additional attribute rules from a YAML file.
func LoadRules(path string) ([]AttributeRule, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return ParseRules(data)
}

// ParseRules decodes and validates a YAML rule document.
func ParseRules(data []byte) ([]AttributeRule, error) {
	var doc rulesFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	for i, rule := range doc.Rules {
		if err := ValidateRule(rule); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
	}
	return doc.Rules, nil
}

// ValidateRule checks that a rule names an attribute and at least one source.
func ValidateRule(rule AttributeRule) error {
	if strings.TrimSpace(rule.Attribute) == "" {
		return fmt.Errorf("%w: attribute name is required", ErrInvalidArgument)
	}
	if !rule.Structured() && len(rule.LegacyPaths) == 0 {
		return fmt.Errorf("%w: attribute %s has no document binding", ErrInvalidArgument, rule.Attribute)
	}
	if rule.Structured() && rule.Command.ID != "1" && rule.Command.ID != "3" {
		return fmt.Errorf("%w: attribute %s has cmd id %q, want 1 or 3", ErrInvalidArgument, rule.Attribute, rule.Command.ID)
	}
	return nil
}

// MergeRules overlays extra rules on base, replacing rules with the same attribute.
func MergeRules(base, extra []AttributeRule) []AttributeRule {
	index := make(map[string]int, len(base))
	merged := make([]AttributeRule, 0, len(base)+len(extra))
	for _, rule := range base {
		index[rule.Attribute] = len(merged)
		merged = append(merged, rule)
	}
	for _, rule := range extra {
		if i, ok := index[rule.Attribute]; ok {
			merged[i] = rule
			continue
		}
		index[rule.Attribute] = len(merged)
		merged = append(merged, rule)
	}
	return merged
}
