package hclmanifest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestLoad_ParsesDeviceBlocks(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "devices.hcl", `
device "cpu" "0" {
  pool_size = 2
}

device "gpu" "0" {
  pool_size = 1
  endpoint  = "https://device-server:9000/devices"
}
`)

	m, err := Load(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, m.Devices, 2)

	byKey := make(map[string]DeviceDecl)
	for _, d := range m.Devices {
		byKey[d.MemType+":"+d.Index] = d
	}

	cpu := byKey["cpu:0"]
	assert.Equal(t, 2, cpu.PoolSize)
	assert.Empty(t, cpu.Endpoint)

	gpu := byKey["gpu:0"]
	assert.Equal(t, 1, gpu.PoolSize)
	assert.Equal(t, "https://device-server:9000/devices", gpu.Endpoint)
}

func TestLoad_DefaultsPoolSizeToOne(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "devices.hcl", `
device "cpu" "0" {}
`)

	m, err := Load(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, m.Devices, 1)
	assert.Equal(t, 1, m.Devices[0].PoolSize)
}

func TestLoad_DuplicateDeviceIsAnError(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "a.hcl", `device "cpu" "0" {}`)
	writeManifest(t, dir, "b.hcl", `device "cpu" "0" {}`)

	_, err := Load(context.Background(), dir)
	assert.Error(t, err)
}

func TestLoad_MalformedHCLIsAnError(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "broken.hcl", `device "cpu" "0" {`)

	_, err := Load(context.Background(), dir)
	assert.Error(t, err)
}

func TestLoad_NoFilesReturnsEmptyManifest(t *testing.T) {
	dir := t.TempDir()

	m, err := Load(context.Background(), dir)
	require.NoError(t, err)
	assert.Empty(t, m.Devices)
}
