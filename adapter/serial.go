package adapter

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/tarm/serial"
)

// DefaultBaud is the rate most thermal printers ship with
const DefaultBaud = 9600

// SerialAdapter talks to a printer over an RS-232 or USB-CDC port
type SerialAdapter struct {
	config *serial.Config
	port   *serial.Port
	logger zerolog.Logger

	listenersMutex sync.RWMutex
	events         listeners

	mu sync.Mutex
}

// NewSerialAdapter creates an adapter for device. The port is not opened until Open.
func NewSerialAdapter(device string, baud int, logger zerolog.Logger) *SerialAdapter {
	if baud == 0 {
		baud = DefaultBaud
	}
	return &SerialAdapter{
		config: &serial.Config{
			Name:        device,
			Baud:        baud,
			ReadTimeout: DefaultReadTimeout,
		},
		logger: logger,
	}
}

// On adds an event listener
func (a *SerialAdapter) On(eventType EventType, handler func(Event)) {
	a.listenersMutex.Lock()
	defer a.listenersMutex.Unlock()

	a.events.add(eventType, handler)
}

func (a *SerialAdapter) emit(event Event) {
	a.listenersMutex.RLock()
	handlers := a.events.snapshot(event.Type)
	a.listenersMutex.RUnlock()

	for _, handler := range handlers {
		go handler(event)
	}
}

// Open opens the serial port
func (a *SerialAdapter) Open() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.port != nil {
		return ErrAlreadyOpen
	}

	port, err := serial.OpenPort(a.config)
	if err != nil {
		return fmt.Errorf("failed to open serial port: %w", err)
	}

	a.port = port
	a.logger.Debug().Str("device", a.config.Name).Int("baud", a.config.Baud).Msg("serial port opened")
	a.emit(Event{Type: EventConnect})
	return nil
}

// Write sends data to the printer
func (a *SerialAdapter) Write(data []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.port == nil {
		return 0, ErrNotOpen
	}

	a.emit(Event{Type: EventData, Data: data})

	n, err := a.port.Write(data)
	if err != nil {
		return n, fmt.Errorf("write failed: %w", err)
	}
	return n, nil
}

// Read reads status bytes, returning an error when nothing arrives within the read timeout
func (a *SerialAdapter) Read(buf []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.port == nil {
		return 0, ErrNotOpen
	}

	n, err := a.port.Read(buf)
	if err != nil {
		return n, fmt.Errorf("read failed: %w", err)
	}
	if n == 0 {
		return 0, errors.New("read timed out")
	}
	return n, nil
}

// Close closes the serial port
func (a *SerialAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.port == nil {
		return nil
	}

	err := a.port.Close()
	a.port = nil
	a.emit(Event{Type: EventClose})

	if err != nil {
		return fmt.Errorf("close failed: %w", err)
	}
	return nil
}

// IsOpen returns whether the port is open
func (a *SerialAdapter) IsOpen() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.port != nil
}
