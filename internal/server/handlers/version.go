package handlers

import (
	"net/http"
	"runtime"

	"github.com/fulmenhq/gofulmen/crucible"

	"github.com/avrlink/avrlink/internal/core/fetcher"
)

// BuildInfo is stamped by main at link time.
type BuildInfo struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Commit    string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
}

var build = BuildInfo{Name: "avrlink", Version: "dev", Commit: "unknown", BuildDate: "unknown"}

func SetVersionInfo(version, commit, buildDate string) {
	build.Version, build.Commit, build.BuildDate = version, commit, buildDate
}

func SetAppName(name string) {
	if name != "" {
		build.Name = name
	}
}

// DeviceVersion identifies the receiver behind the API, once setup has run.
type DeviceVersion struct {
	Model          string               `json:"model,omitempty"`
	Type           fetcher.ReceiverType `json:"type"`
	CommAPIVersion string               `json:"comm_api_version,omitempty"`
	HTTPPort       int                  `json:"http_port"`
}

type VersionResponse struct {
	App          BuildInfo         `json:"app"`
	Device       *DeviceVersion    `json:"device,omitempty"`
	Dependencies map[string]string `json:"dependencies"`
	Platform     string            `json:"platform"`
}

// DeviceInfoSource is satisfied by the receiver client.
type DeviceInfoSource interface {
	Info() *fetcher.DeviceInfo
}

// Version reports build metadata and, when src is set and the receiver has
// been identified, the device model and protocol version.
func Version(src DeviceInfoSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deps := crucible.GetVersion()
		resp := VersionResponse{
			App: build,
			Dependencies: map[string]string{
				"gofulmen": deps.Gofulmen,
				"crucible": deps.Crucible,
			},
			Platform: runtime.GOOS + "/" + runtime.GOARCH,
		}
		resp.App.GoVersion = runtime.Version()
		if src != nil {
			if info := src.Info(); info != nil {
				resp.Device = &DeviceVersion{
					Model:          info.ModelName,
					Type:           info.Type,
					CommAPIVersion: info.CommAPIVersion,
					HTTPPort:       info.Port,
				}
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
