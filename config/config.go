// Package config reads service settings from the environment and an optional config file
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Printer backends
const (
	BackendUSB    = "usb"
	BackendSerial = "serial"
	BackendSim    = "sim"
)

// Config holds every setting the service reads
type Config struct {
	ServerAddress string
	APIAddress    string
	APISecret     string

	Backend      string
	USBVendor    uint16
	USBProduct   uint16
	SerialDevice string
	SerialBaud   int

	ConnectGrace time.Duration
	ChunkTimeout time.Duration
	JobTimeout   time.Duration
	ChunkSize    int
	ChunkDelay   time.Duration
	BusyPolicy   string
	QueueDepth   int

	LogLevel string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_ADDRESS", "localhost:9100")
	v.SetDefault("API_ADDRESS", "localhost:8080")
	v.SetDefault("API_SECRET", "")
	v.SetDefault("PRINTER_BACKEND", BackendUSB)
	v.SetDefault("USB_VID", "")
	v.SetDefault("USB_PID", "")
	v.SetDefault("SERIAL_DEVICE", "/dev/ttyUSB0")
	v.SetDefault("SERIAL_BAUD", 9600)
	v.SetDefault("CONNECT_GRACE", 2*time.Second)
	v.SetDefault("CHUNK_TIMEOUT", 5*time.Second)
	v.SetDefault("JOB_TIMEOUT", 30*time.Second)
	v.SetDefault("CHUNK_SIZE", 50)
	v.SetDefault("CHUNK_DELAY", 50*time.Millisecond)
	v.SetDefault("BUSY_POLICY", "reject")
	v.SetDefault("QUEUE_DEPTH", 4)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CONFIG_FILE", "")
}

// Load reads the environment, then CONFIG_FILE if one is named. Environment wins.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	if path := v.GetString("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	vid, err := parseID(v.GetString("USB_VID"))
	if err != nil {
		return nil, fmt.Errorf("invalid USB_VID: %w", err)
	}
	pid, err := parseID(v.GetString("USB_PID"))
	if err != nil {
		return nil, fmt.Errorf("invalid USB_PID: %w", err)
	}

	cfg := &Config{
		ServerAddress: v.GetString("SERVER_ADDRESS"),
		APIAddress:    v.GetString("API_ADDRESS"),
		APISecret:     v.GetString("API_SECRET"),
		Backend:       strings.ToLower(v.GetString("PRINTER_BACKEND")),
		USBVendor:     vid,
		USBProduct:    pid,
		SerialDevice:  v.GetString("SERIAL_DEVICE"),
		SerialBaud:    v.GetInt("SERIAL_BAUD"),
		ConnectGrace:  v.GetDuration("CONNECT_GRACE"),
		ChunkTimeout:  v.GetDuration("CHUNK_TIMEOUT"),
		JobTimeout:    v.GetDuration("JOB_TIMEOUT"),
		ChunkSize:     v.GetInt("CHUNK_SIZE"),
		ChunkDelay:    v.GetDuration("CHUNK_DELAY"),
		BusyPolicy:    strings.ToLower(v.GetString("BUSY_POLICY")),
		QueueDepth:    v.GetInt("QUEUE_DEPTH"),
		LogLevel:      v.GetString("LOG_LEVEL"),
	}

	switch cfg.Backend {
	case BackendUSB, BackendSerial, BackendSim:
	default:
		return nil, fmt.Errorf("unknown PRINTER_BACKEND %q", cfg.Backend)
	}
	// zero disables pacing
	if cfg.ChunkDelay < 0 {
		return nil, fmt.Errorf("invalid CHUNK_DELAY %s", cfg.ChunkDelay)
	}
	return cfg, nil
}

// parseID accepts decimal or 0x-prefixed hex, empty means unset
func parseID(s string) (uint16, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, err
	}
	return uint16(n), nil
}
