package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost:9100", cfg.ServerAddress)
	assert.Equal(t, "localhost:8080", cfg.APIAddress)
	assert.Equal(t, BackendUSB, cfg.Backend)
	assert.Zero(t, cfg.USBVendor)
	assert.Equal(t, 9600, cfg.SerialBaud)
	assert.Equal(t, 2*time.Second, cfg.ConnectGrace)
	assert.Equal(t, 5*time.Second, cfg.ChunkTimeout)
	assert.Equal(t, 30*time.Second, cfg.JobTimeout)
	assert.Equal(t, 50, cfg.ChunkSize)
	assert.Equal(t, 50*time.Millisecond, cfg.ChunkDelay)
	assert.Equal(t, "reject", cfg.BusyPolicy)
	assert.Equal(t, 4, cfg.QueueDepth)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("SERVER_ADDRESS", "0.0.0.0:9101")
	t.Setenv("PRINTER_BACKEND", "SIM")
	t.Setenv("USB_VID", "0x0416")
	t.Setenv("USB_PID", "20552")
	t.Setenv("CONNECT_GRACE", "500ms")
	t.Setenv("CHUNK_SIZE", "128")
	t.Setenv("BUSY_POLICY", "queue")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9101", cfg.ServerAddress)
	assert.Equal(t, BackendSim, cfg.Backend)
	assert.Equal(t, uint16(0x0416), cfg.USBVendor)
	assert.Equal(t, uint16(0x5048), cfg.USBProduct)
	assert.Equal(t, 500*time.Millisecond, cfg.ConnectGrace)
	assert.Equal(t, 128, cfg.ChunkSize)
	assert.Equal(t, "queue", cfg.BusyPolicy)
}

func TestLoadZeroChunkDelay(t *testing.T) {
	t.Setenv("CHUNK_DELAY", "0s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Zero(t, cfg.ChunkDelay)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "printer.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api_address: 127.0.0.1:9000\nqueue_depth: 2\nlog_level: debug\n"), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.APIAddress)
	assert.Equal(t, 2, cfg.QueueDepth)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoadErrors(t *testing.T) {
	t.Run("bad backend", func(t *testing.T) {
		t.Setenv("PRINTER_BACKEND", "bluetooth")
		_, err := Load()
		assert.ErrorContains(t, err, "PRINTER_BACKEND")
	})

	t.Run("bad vendor id", func(t *testing.T) {
		t.Setenv("USB_VID", "0x1ffff")
		_, err := Load()
		assert.ErrorContains(t, err, "USB_VID")
	})

	t.Run("negative chunk delay", func(t *testing.T) {
		t.Setenv("CHUNK_DELAY", "-1ms")
		_, err := Load()
		assert.ErrorContains(t, err, "CHUNK_DELAY")
	})

	t.Run("missing config file", func(t *testing.T) {
		t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
		_, err := Load()
		assert.Error(t, err)
	})
}
