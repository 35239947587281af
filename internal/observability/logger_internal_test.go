package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, "WARN", parseLogLevel(" Warning "))
	assert.Equal(t, "TRACE", parseLogLevel("trace"))
	assert.Equal(t, "INFO", parseLogLevel("verbose"))
}

func TestServerLoggerConfigNamespace(t *testing.T) {
	cfg := serverLoggerConfig("avrlink", "debug", "avrlink")
	assert.Equal(t, "DEBUG", cfg.DefaultLevel)
	assert.Equal(t, "avrlink", cfg.StaticFields["namespace"])

	cfg = serverLoggerConfig("avrlink", "", "")
	assert.NotContains(t, cfg.StaticFields, "namespace")
}
