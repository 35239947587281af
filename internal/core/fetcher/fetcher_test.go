package fetcher

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/avrlink/avrlink/internal/core"
)

func clientFor(t *testing.T, server *httptest.Server) *Client {
	t.Helper()
	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	c := New(u.Hostname(), port)
	c.Client = server.Client()
	c.Logger = zaptest.NewLogger(t)
	return c
}

func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

type recordingLimiter struct {
	mu        sync.Mutex
	acquired  []string
	latencies []string
}

func (r *recordingLimiter) Acquire(_ context.Context, dest string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.acquired = append(r.acquired, dest)
	return nil
}

func (r *recordingLimiter) RecordLatency(dest string, _ time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latencies = append(r.latencies, dest)
}

func TestBuildAppCommandBodyChunks(t *testing.T) {
	cmds := make([]core.AppCommand, 0, 7)
	for i := 0; i < 6; i++ {
		cmds = append(cmds, core.AppCommand{ID: "1", Text: "GetAllZoneVolume"})
	}
	cmds = append(cmds, core.AppCommand{
		ID:     "3",
		Name:   "GetAudyssey",
		Params: []core.AppCommandParam{{Name: "multeq"}},
	})

	body, err := BuildAppCommandBody(cmds)
	require.NoError(t, err)
	text := string(body)

	require.Equal(t, 1, strings.Count(text, "<?xml"))
	require.True(t, strings.HasPrefix(text, `<?xml version="1.0" encoding="utf-8"?>`))
	require.Equal(t, 2, strings.Count(text, "<tx>"))
	require.Equal(t, 7, strings.Count(text, "<cmd "))
	require.Contains(t, text, `<cmd id="1">GetAllZoneVolume</cmd>`)
	require.Contains(t, text, `<cmd id="3"><name>GetAudyssey</name><list><param name="multeq"></param></list></cmd>`)

	_, err = BuildAppCommandBody(nil)
	require.ErrorIs(t, err, core.ErrInvalidArgument)
}

func TestPostAppCommandAnnotatesResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, AppCommandPath, r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), "GetSurroundModeStatus")
		_, _ = io.WriteString(w, `<?xml version="1.0" encoding="utf-8"?>
<rx>
  <cmd><zone1><volume>-35.0</volume></zone1><zone2><volume>-50.0</volume></zone2></cmd>
  <cmd><surround> Stereo </surround></cmd>
</rx>`)
	}))
	defer server.Close()

	limiter := &recordingLimiter{}
	c := clientFor(t, server)
	c.Limiter = limiter

	volume := core.AttributeRule{Attribute: "volume", Command: core.AppCommand{ID: "1", Text: "GetAllZoneVolume"}, ZoneScoped: true, Suffix: "/volume"}
	surround := core.AttributeRule{Attribute: "sound_mode_raw", Command: core.AppCommand{ID: "1", Text: "GetSurroundModeStatus"}, Suffix: "/surround"}

	doc, err := c.FetchAppCommand(context.Background(), core.FamilyAppCommand, []core.AppCommand{volume.Command, surround.Command})
	require.NoError(t, err)

	v, ok := doc.Lookup(volume.SearchPath(core.ZoneMain), "")
	require.True(t, ok)
	require.Equal(t, "-35.0", v)
	v, ok = doc.Lookup(volume.SearchPath(core.Zone2), "")
	require.True(t, ok)
	require.Equal(t, "-50.0", v)
	v, ok = doc.Lookup(surround.SearchPath(core.ZoneMain), "")
	require.True(t, ok)
	require.Equal(t, "Stereo", v)

	_, ok = doc.Lookup(volume.SearchPath(core.Zone3), "")
	require.False(t, ok)

	require.Equal(t, []string{c.Destination()}, limiter.acquired)
	require.Equal(t, []string{c.Destination()}, limiter.latencies)
}

func TestPostAppCommandRejectsBadResponses(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"CountMismatch", `<rx><cmd/><cmd/></rx>`},
		{"UnexpectedTag", `<rx><foo/></rx>`},
		{"HTML", `<html><body>busy</body></html>`},
		{"NotXML", `not xml at all <`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, tt.body)
			}))
			defer server.Close()

			c := clientFor(t, server)
			_, err := c.PostAppCommand(context.Background(), core.FamilyAppCommand,
				[]core.AppCommand{{ID: "1", Text: "GetAllZoneMuteStatus"}})
			require.ErrorIs(t, err, core.ErrInvalidResponse)
		})
	}
}

func TestPostAppCommandRejectsMixedFamilies(t *testing.T) {
	c := New("127.0.0.1", 80)
	_, err := c.PostAppCommand(context.Background(), core.FamilyAppCommand,
		[]core.AppCommand{{ID: "3", Name: "GetAudyssey"}})
	require.ErrorIs(t, err, core.ErrInvalidArgument)
}

func TestAttributeLookup(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, AppCommand0300Path, r.URL.Path)
		_, _ = io.WriteString(w, `<rx><cmd><name>GetAudyssey</name><list><param name="multeq" control="2">1</param><param name="dynamiceq" control="1">0</param></list></cmd></rx>`)
	}))
	defer server.Close()

	c := clientFor(t, server)
	rule := core.AttributeRule{
		Attribute:    "multeq_control",
		Command:      core.AppCommand{ID: "3", Name: "GetAudyssey"},
		Suffix:       "/list/param[@name='multeq']",
		XMLAttribute: "control",
	}
	doc, err := c.FetchAppCommand(context.Background(), core.FamilyAppCommand0300, []core.AppCommand{rule.Command})
	require.NoError(t, err)

	v, ok := doc.Lookup(rule.SearchPath(core.ZoneMain), rule.XMLAttribute)
	require.True(t, ok)
	require.Equal(t, "2", v)

	_, ok = doc.Lookup(rule.SearchPath(core.ZoneMain), "missing")
	require.False(t, ok)
	_, ok = doc.Lookup("./cmd[", "")
	require.False(t, ok, "invalid expressions are a miss, not a panic")
}

func TestFetchLegacyErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case StatusPath(core.ZoneMain):
			_, _ = io.WriteString(w, `<item><Power><value>ON</value></Power><MasterVolume><value>-30.5</value></MasterVolume></item>`)
		case MainZonePath:
			w.WriteHeader(http.StatusForbidden)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()
	c := clientFor(t, server)

	doc, err := c.FetchLegacy(context.Background(), StatusPath(core.ZoneMain))
	require.NoError(t, err)
	v, ok := doc.Lookup("./MasterVolume/value", "")
	require.True(t, ok)
	require.Equal(t, "-30.5", v)

	_, err = c.FetchLegacy(context.Background(), MainZonePath)
	require.ErrorIs(t, err, core.ErrForbidden)

	_, err = c.FetchLegacy(context.Background(), StatusPath(core.Zone3))
	var reqErr *core.RequestError
	require.True(t, errors.As(err, &reqErr))
	require.Equal(t, http.StatusNotFound, reqErr.Status)
	require.False(t, errors.Is(err, core.ErrForbidden))
}

func TestFetchNetworkError(t *testing.T) {
	c := New("127.0.0.1", closedPort(t))
	_, err := c.GetDocument(context.Background(), StatusPath(core.ZoneMain))
	require.True(t, core.IsNetwork(err), "got %v", err)
}

func TestSendCommandOverHTTP(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Path + "?" + r.URL.RawQuery
	}))
	defer server.Close()

	c := clientFor(t, server)
	require.NoError(t, c.SendCommand(context.Background(), "MSDOLBY DIGITAL"))
	require.Equal(t, CommandPath+"?MSDOLBY%20DIGITAL", got)
	require.ErrorIs(t, c.SendCommand(context.Background(), "  "), core.ErrInvalidArgument)
}

func TestLegacyEndpoints(t *testing.T) {
	require.Equal(t, []string{
		"/goform/formMainZone_MainZoneXmlStatus.xml",
		"/goform/formMainZone_MainZoneXml.xml",
	}, LegacyEndpoints(core.ZoneMain))
	require.Equal(t, []string{
		"/goform/formZone2_Zone2XmlStatus.xml",
		"/goform/formMainZone_MainZoneXml.xml?ZoneName=Zone2",
	}, LegacyEndpoints(core.Zone2))
}

func TestIdentifyAVRXWithAppCommand(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case DeviceInfoPath:
			_, _ = io.WriteString(w, `<Device_Info><ModelName>*AVR-X2700H</ModelName><CommApiVers>0301</CommApiVers></Device_Info>`)
		case AppCommandPath:
			_, _ = io.WriteString(w, `<rx><cmd><friendlyname>Living Room</friendlyname></cmd></rx>`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	c := clientFor(t, server)
	c.ProbePorts = []int{closedPort(t), c.Port()}

	info, err := c.Identify(context.Background())
	require.NoError(t, err)
	require.Equal(t, ReceiverAVRX2016, info.Type)
	require.True(t, info.PreferStructured)
	require.Equal(t, "Living Room", info.FriendlyName)
	require.Equal(t, "0301", info.CommAPIVersion)
	require.Equal(t, c.Port(), info.Port)
}

func TestIdentifyLegacyAVR(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case MainZonePath:
			_, _ = io.WriteString(w, `<item><FriendlyName><value>Old Amp</value></FriendlyName></item>`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	c := clientFor(t, server)
	c.ProbePorts = []int{c.Port(), closedPort(t)}

	info, err := c.Identify(context.Background())
	require.NoError(t, err)
	require.Equal(t, ReceiverAVR, info.Type)
	require.False(t, info.PreferStructured)
	require.Equal(t, "Old Amp", info.FriendlyName)
}

func TestIdentifyUnreachable(t *testing.T) {
	c := New("127.0.0.1", 80)
	c.ProbePorts = []int{closedPort(t), closedPort(t)}
	_, err := c.Identify(context.Background())
	require.True(t, core.IsNetwork(err))
}
