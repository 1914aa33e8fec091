package cli

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	var out bytes.Buffer
	cfg, shouldExit, err := Parse(nil, &out)
	require.NoError(t, err)
	require.False(t, shouldExit)
	assert.Equal(t, "stub", cfg.DeviceMode)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 10*time.Second, cfg.TelemetryInterval)
}

func TestParse_Help(t *testing.T) {
	var out bytes.Buffer
	cfg, shouldExit, err := Parse([]string{"-h"}, &out)
	require.NoError(t, err)
	assert.True(t, shouldExit)
	assert.Nil(t, cfg)
	assert.Contains(t, out.String(), "Usage:")
}

func TestParse_UnknownFlagIsExitError(t *testing.T) {
	var out bytes.Buffer
	_, _, err := Parse([]string{"-bogus"}, &out)
	require.Error(t, err)
	exitErr, ok := err.(*ExitError)
	require.True(t, ok)
	assert.Equal(t, 2, exitErr.Code)
}

func TestParse_InvalidLogFormat(t *testing.T) {
	var out bytes.Buffer
	_, _, err := Parse([]string{"-log-format", "xml"}, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log-format")
}

func TestParse_InvalidLogLevel(t *testing.T) {
	var out bytes.Buffer
	_, _, err := Parse([]string{"-log-level", "verbose"}, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log-level")
}

func TestParse_NetModeRequiresURL(t *testing.T) {
	var out bytes.Buffer
	_, _, err := Parse([]string{"-device", "net"}, &out)
	require.Error(t, err)
	exitErr, ok := err.(*ExitError)
	require.True(t, ok)
	assert.Contains(t, exitErr.Message, "DeviceNetURL")
}

func TestParse_NetModeWithURL(t *testing.T) {
	var out bytes.Buffer
	cfg, shouldExit, err := Parse([]string{"-device", "net", "-device-net-url", "http://localhost:9000"}, &out)
	require.NoError(t, err)
	assert.False(t, shouldExit)
	assert.Equal(t, "net", cfg.DeviceMode)
	assert.Equal(t, "http://localhost:9000", cfg.DeviceNetURL)
}
