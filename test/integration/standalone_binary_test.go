package integration

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildBinary compiles cmd/avrlink into a temp dir away from the repo.
func buildBinary(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("binary tests are unix-focused")
	}
	if testing.Short() {
		t.Skip("skipping binary build in -short mode")
	}

	gomod, err := exec.Command("go", "env", "GOMOD").Output()
	require.NoError(t, err)
	repoRoot := filepath.Dir(strings.TrimSpace(string(gomod)))
	require.NotEqual(t, ".", repoRoot, "go env GOMOD returned empty")

	binary := filepath.Join(t.TempDir(), "avrlink")
	build := exec.Command("go", "build", "-o", binary, "./cmd/avrlink")
	build.Dir = repoRoot
	out, err := build.CombinedOutput()
	require.NoError(t, err, string(out))
	return binary
}

// run executes the binary in an empty directory with isolated XDG paths so
// no user config leaks in.
func run(t *testing.T, binary string, args ...string) (stdout, combined string, err error) {
	t.Helper()
	home := t.TempDir()
	cmd := exec.Command(binary, args...)
	cmd.Dir = t.TempDir()
	cmd.Env = append(os.Environ(),
		"HOME="+home,
		"XDG_CONFIG_HOME="+filepath.Join(home, "config"),
		"XDG_DATA_HOME="+filepath.Join(home, "data"),
		"AVRLINK_RECEIVER_HOST=",
	)
	var out, all bytes.Buffer
	cmd.Stdout = io.MultiWriter(&out, &all)
	cmd.Stderr = &all
	err = cmd.Run()
	return out.String(), all.String(), err
}

func TestBinaryOutsideRepo(t *testing.T) {
	binary := buildBinary(t)

	t.Run("Version", func(t *testing.T) {
		out, all, err := run(t, binary, "version")
		require.NoError(t, err, all)
		assert.True(t, strings.HasPrefix(out, "avrlink "), out)
	})

	t.Run("HelpListsCommands", func(t *testing.T) {
		out, all, err := run(t, binary, "--help")
		require.NoError(t, err, all)
		for _, sub := range []string{"monitor", "refresh", "send", "serve", "events"} {
			assert.Contains(t, out, sub)
		}
	})

	t.Run("EnvinfoJSON", func(t *testing.T) {
		out, all, err := run(t, binary, "envinfo", "--json", "--host", "10.0.0.5")
		require.NoError(t, err, all)

		var sections []struct {
			Title string `json:"title"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &sections), out)
		require.NotEmpty(t, sections)
		assert.Equal(t, "Application", sections[0].Title)
	})

	t.Run("SendWithoutHostFails", func(t *testing.T) {
		_, all, err := run(t, binary, "send", "PWON")
		var exitErr *exec.ExitError
		require.True(t, errors.As(err, &exitErr), all)
		assert.NotZero(t, exitErr.ExitCode())
		assert.Contains(t, all, "receiver.host")
	})
}
