package fetcher

import (
	"context"
	"regexp"

	"go.uber.org/zap"

	"github.com/avrlink/avrlink/internal/core"
)

var (
	avrXModelPattern = regexp.MustCompile(
		`(.*AV(C|R)-(X|S).*|.*SR500[6-9]|.*SR60(07|08|09|10|11|12|13)|.*SR70(07|08|09|10|11|12|13)|.*SR501[3-4]|.*NR1604|.*NR1710)`)
	commAPIPattern = regexp.MustCompile(`(0210|0220|0250|0300|0301)`)
)

// ReceiverType classifies the device's document interface.
type ReceiverType string

const (
	ReceiverAVR      ReceiverType = "avr"
	ReceiverAVRX     ReceiverType = "avr-x"
	ReceiverAVRX2016 ReceiverType = "avr-x-2016"
)

// DefaultFriendlyName is used when the device does not report a name.
const DefaultFriendlyName = "Denon AVR"

// DeviceInfo is what identification learned about the receiver.
type DeviceInfo struct {
	Type             ReceiverType `json:"type"`
	Port             int          `json:"port"`
	ModelName        string       `json:"model_name,omitempty"`
	CommAPIVersion   string       `json:"comm_api_version,omitempty"`
	FriendlyName     string       `json:"friendly_name"`
	PreferStructured bool         `json:"prefer_structured"`
}

// IsAVRX reports whether a Deviceinfo document describes an AVR-X device.
func IsAVRX(doc *Document) bool {
	if v, ok := doc.Lookup("./CommApiVers", ""); ok && commAPIPattern.MatchString(v) {
		return true
	}
	if v, ok := doc.Lookup("./ModelName", ""); ok && avrXModelPattern.MatchString(v) {
		return true
	}
	return false
}

// Identify probes Deviceinfo.xml on port 80 and then 8080 (or ProbePorts), selects the port
// of the first AVR-X answer, and then checks whether AppCommand.xml works.
// A connection error on every port is returned; request errors just mean the
// device is a plain AVR on port 80.
func (c *Client) Identify(ctx context.Context) (*DeviceInfo, error) {
	type candidate struct {
		kind ReceiverType
		port int
	}
	ports := c.ProbePorts
	if len(ports) == 0 {
		ports = []int{PortLegacy, Port2016}
	}
	candidates := make([]candidate, 0, len(ports))
	for i, p := range ports {
		kind := ReceiverAVRX2016
		if i == 0 {
			kind = ReceiverAVRX
		}
		candidates = append(candidates, candidate{kind: kind, port: p})
	}
	info := &DeviceInfo{Type: ReceiverAVR, Port: ports[0]}

	networkErrors := 0
	var lastErr error
	for _, cand := range candidates {
		doc, err := c.GetDocumentOnPort(ctx, DeviceInfoPath, cand.port)
		if err != nil {
			if core.IsNetwork(err) {
				networkErrors++
				lastErr = err
			}
			c.logger().Debug("Deviceinfo probe failed",
				zap.Int("port", cand.port), zap.Error(err))
			continue
		}
		if IsAVRX(doc) {
			info.Type = cand.kind
			info.Port = cand.port
			info.ModelName, _ = doc.Lookup("./ModelName", "")
			info.CommAPIVersion, _ = doc.Lookup("./CommApiVers", "")
			break
		}
	}
	if networkErrors == len(candidates) {
		return nil, lastErr
	}
	c.SetPort(info.Port)

	if err := c.identifyUpdateMethod(ctx, info); err != nil {
		return nil, err
	}
	return info, nil
}

func (c *Client) identifyUpdateMethod(ctx context.Context, info *DeviceInfo) error {
	if info.Type != ReceiverAVR {
		doc, err := c.PostAppCommand(ctx, core.FamilyAppCommand, []core.AppCommand{core.FriendlyNameCommand()})
		switch {
		case err == nil:
			info.PreferStructured = true
			c.logger().Info("AVR-X device, using AppCommand.xml interface")
			if name, ok := doc.LookupFirst("./cmd/friendlyname", "./FriendlyName/value"); ok {
				info.FriendlyName = name
			}
		case core.IsNetwork(err):
			return err
		default:
			c.logger().Info("AVR-X device, AppCommand.xml interface not supported", zap.Error(err))
		}
	}

	if !info.PreferStructured {
		doc, err := c.GetDocument(ctx, MainZonePath)
		switch {
		case err == nil:
			if name, ok := doc.LookupFirst("./cmd/friendlyname", "./FriendlyName/value"); ok {
				info.FriendlyName = name
			}
		case core.IsNetwork(err):
			return err
		default:
			c.logger().Debug("Main zone page unusable", zap.Error(err))
		}
	}

	if info.FriendlyName == "" {
		c.logger().Warn("No FriendlyName found, using standard name", zap.String("name", DefaultFriendlyName))
		info.FriendlyName = DefaultFriendlyName
	}
	return nil
}
