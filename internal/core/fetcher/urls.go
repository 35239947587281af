package fetcher

import (
	"net/url"

	"github.com/avrlink/avrlink/internal/core"
)

// Receiver document endpoints.
const (
	AppCommandPath     = "/goform/AppCommand.xml"
	AppCommand0300Path = "/goform/AppCommand0300.xml"
	DeviceInfoPath     = "/goform/Deviceinfo.xml"
	MainZonePath       = "/goform/formMainZone_MainZoneXml.xml"
	CommandPath        = "/goform/formiPhoneAppDirect.xml"

	mainStatusPath  = "/goform/formMainZone_MainZoneXmlStatus.xml"
	zone2StatusPath = "/goform/formZone2_Zone2XmlStatus.xml"
	zone3StatusPath = "/goform/formZone3_Zone3XmlStatus.xml"
)

// Ports tried during identification. Receivers from 2016 on moved the
// document interface to 8080.
const (
	PortLegacy = 80
	Port2016   = 8080
)

// StatusPath returns the zone's status page.
func StatusPath(zone core.Zone) string {
	switch zone {
	case core.Zone2:
		return zone2StatusPath
	case core.Zone3:
		return zone3StatusPath
	default:
		return mainStatusPath
	}
}

// MainZonePathFor returns the main zone page, scoped to zone when it is an
// auxiliary zone.
func MainZonePathFor(zone core.Zone) string {
	if zone == core.ZoneMain || zone == "" {
		return MainZonePath
	}
	return MainZonePath + "?ZoneName=" + url.QueryEscape(string(zone))
}

// LegacyEndpoints lists the legacy pages for zone in priority order.
func LegacyEndpoints(zone core.Zone) []string {
	return []string{StatusPath(zone), MainZonePathFor(zone)}
}

// AppCommandPathFor returns the endpoint serving family.
func AppCommandPathFor(family core.DocumentFamily) string {
	if family == core.FamilyAppCommand0300 {
		return AppCommand0300Path
	}
	return AppCommandPath
}
