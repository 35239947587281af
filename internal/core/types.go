package core

import (
	"fmt"
	"strings"
	"time"
)

// Zone identifies one independently controllable output group of the receiver.
type Zone string

const (
	ZoneMain Zone = "Main"
	Zone2    Zone = "Zone2"
	Zone3    Zone = "Zone3"
)

// ValidZones lists the zones a receiver client can be bound to.
var ValidZones = []Zone{ZoneMain, Zone2, Zone3}

// ParseZone normalizes user input such as "main", "zone2" or "Z3".
func ParseZone(value string) (Zone, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "main", "mainzone", "zone1", "z1":
		return ZoneMain, nil
	case "zone2", "z2":
		return Zone2, nil
	case "zone3", "z3":
		return Zone3, nil
	default:
		return "", fmt.Errorf("%w: invalid zone %q", ErrInvalidArgument, value)
	}
}

// Token returns the element name used for the zone in AppCommand responses.
func (z Zone) Token() string {
	if z == ZoneMain || z == "" {
		return "zone1"
	}
	return strings.ToLower(string(z))
}

// Event is one decoded message from the realtime channel.
type Event struct {
	Zone      Zone      `json:"zone"`
	Code      string    `json:"code"`
	Parameter string    `json:"parameter"`
	At        time.Time `json:"at"`
}

// DocumentFamily selects which document-fetch endpoint family serves a query.
type DocumentFamily int

const (
	// FamilyLegacy is the set of per-page status documents.
	FamilyLegacy DocumentFamily = iota
	// FamilyAppCommand is the batched AppCommand.xml endpoint (cmd id 1).
	FamilyAppCommand
	// FamilyAppCommand0300 is the batched AppCommand0300.xml endpoint (cmd id 3).
	FamilyAppCommand0300
)

func (f DocumentFamily) String() string {
	switch f {
	case FamilyAppCommand:
		return "appcommand"
	case FamilyAppCommand0300:
		return "appcommand0300"
	default:
		return "legacy"
	}
}

// AppCommandParam is a name/text pair inside an AppCommand query.
type AppCommandParam struct {
	Name string `yaml:"name" json:"name"`
	Text string `yaml:"text" json:"text"`
}

// AppCommand is one <cmd> element of a batched structured query.
type AppCommand struct {
	ID     string            `yaml:"id" json:"id"`
	Text   string            `yaml:"text" json:"text,omitempty"`
	Name   string            `yaml:"name" json:"name,omitempty"`
	Params []AppCommandParam `yaml:"params" json:"params,omitempty"`
}

// Key identifies the command for deduplication inside one batch.
func (c AppCommand) Key() string {
	return c.ID + "|" + c.Text + "|" + c.Name
}

// Family returns the endpoint family the command belongs to.
func (c AppCommand) Family() DocumentFamily {
	if c.ID == "3" {
		return FamilyAppCommand0300
	}
	return FamilyAppCommand
}

// AttributeRule describes how one logical attribute is extracted from the
// receiver's documents. A rule may be bound to the structured family, the
// legacy family, or both.
type AttributeRule struct {
	Attribute string `yaml:"attribute" json:"attribute"`

	// Structured family binding. Zero Command.ID means unbound.
	Command    AppCommand `yaml:"command" json:"command"`
	Suffix     string     `yaml:"suffix" json:"suffix,omitempty"`
	ZoneScoped bool       `yaml:"zone_scoped" json:"zone_scoped"`

	// XMLAttribute reads an element attribute instead of its text.
	XMLAttribute string `yaml:"xml_attribute" json:"xml_attribute,omitempty"`

	// LegacyPaths are tried in order against each legacy document.
	LegacyPaths []string `yaml:"legacy_paths" json:"legacy_paths,omitempty"`

	// Optional rules are not reported as unresolved when no source has them.
	Optional bool `yaml:"optional" json:"optional,omitempty"`
}

// Structured reports whether the rule can be answered by an AppCommand document.
func (r AttributeRule) Structured() bool {
	return r.Command.ID != ""
}

// SearchPath builds the XPath used to find the rule's value in an
// AppCommand response for the given zone.
func (r AttributeRule) SearchPath(zone Zone) string {
	var b strings.Builder
	b.WriteString("./cmd")
	if r.Command.Text != "" {
		fmt.Fprintf(&b, "[@%s='%s']", AttrCmdText, r.Command.Text)
	}
	if r.Command.Name != "" {
		fmt.Fprintf(&b, "[@%s='%s']", AttrCmdName, r.Command.Name)
	}
	if r.ZoneScoped {
		b.WriteString("/")
		b.WriteString(zone.Token())
	}
	b.WriteString(r.Suffix)
	return b.String()
}

// Attributes set on AppCommand response elements so rules can address them.
const (
	AttrCmdText = "cmd_text"
	AttrCmdName = "name"
)
