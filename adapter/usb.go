package adapter

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/gousb"
	"github.com/rs/zerolog"
)

// Interface class codes
// Reference: http://www.usb.org/developers/defined_class
const (
	IfaceClassAudio   = 0x01
	IfaceClassHID     = 0x03
	IfaceClassPrinter = 0x07
	IfaceClassHub     = 0x09
)

// DefaultReadTimeout bounds status reads, printers rarely answer on the IN endpoint
const DefaultReadTimeout = 500 * time.Millisecond

var (
	ErrNoPrinter   = errors.New("cannot find printer")
	ErrNotOpen     = errors.New("device not open")
	ErrAlreadyOpen = errors.New("device already open")
)

// USBAdapter manages USB printer communication
type USBAdapter struct {
	device      *gousb.Device
	ctx         *gousb.Context
	cfg         *gousb.Config
	iface       *gousb.Interface
	outEndpoint *gousb.OutEndpoint
	inEndpoint  *gousb.InEndpoint
	readTimeout time.Duration
	logger      zerolog.Logger

	listenersMutex sync.RWMutex
	events         listeners

	isOpen bool
	mu     sync.Mutex
}

// NewUSBAdapter opens the device with the given VID/PID, falling back to the first printer-class device
func NewUSBAdapter(vid, pid uint16, logger zerolog.Logger) (*USBAdapter, error) {
	ctx := gousb.NewContext()
	a := &USBAdapter{ctx: ctx, readTimeout: DefaultReadTimeout, logger: logger}

	device, err := GetDeviceByVIDPID(ctx, vid, pid)
	if err != nil {
		logger.Debug().Err(err).Uint16("vid", vid).Uint16("pid", pid).Msg("VID/PID lookup failed, scanning for printers")
		devices := FindPrinters(ctx, logger)
		if len(devices) == 0 {
			ctx.Close()
			return nil, ErrNoPrinter
		}
		closeAllBut(devices, devices[0])
		device = devices[0]
	}

	a.device = device
	return a, nil
}

// NewUSBAdapterAuto creates adapter with auto-detection
func NewUSBAdapterAuto(logger zerolog.Logger) (*USBAdapter, error) {
	ctx := gousb.NewContext()

	devices := FindPrinters(ctx, logger)
	if len(devices) == 0 {
		ctx.Close()
		return nil, ErrNoPrinter
	}
	closeAllBut(devices, devices[0])

	return &USBAdapter{
		ctx:         ctx,
		device:      devices[0],
		readTimeout: DefaultReadTimeout,
		logger:      logger,
	}, nil
}

func closeAllBut(devices []*gousb.Device, keep *gousb.Device) {
	for _, d := range devices {
		if d != keep {
			d.Close()
		}
	}
}

// printerInterface returns the number of the first printer-class interface in cfg, or -1
func printerInterface(desc gousb.ConfigDesc) int {
	for _, iface := range desc.Interfaces {
		for _, alt := range iface.AltSettings {
			if alt.Class == IfaceClassPrinter {
				return iface.Number
			}
		}
	}
	return -1
}

// IsPrinter checks if a device is a printer
func IsPrinter(dev *gousb.Device) bool {
	if dev == nil {
		return false
	}

	cfg, ok := dev.Desc.Configs[1]
	if !ok {
		for _, c := range dev.Desc.Configs {
			cfg = c
			break
		}
	}

	return printerInterface(cfg) >= 0
}

// FindPrinters returns all USB printer devices
func FindPrinters(ctx *gousb.Context, logger zerolog.Logger) []*gousb.Device {
	printers := []*gousb.Device{}

	devices, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return true
	})
	if err != nil {
		logger.Debug().Err(err).Msg("some USB devices could not be opened")
	}

	for _, dev := range devices {
		if IsPrinter(dev) {
			logger.Info().Str("device", dev.Desc.String()).Msg("found printer")
			printers = append(printers, dev)
		} else {
			dev.Close()
		}
	}

	return printers
}

// GetDeviceByVIDPID opens a device by VID and PID
func GetDeviceByVIDPID(ctx *gousb.Context, vid, pid uint16) (*gousb.Device, error) {
	device, err := ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		return nil, err
	}
	if device == nil {
		return nil, errors.New("device not found")
	}
	return device, nil
}

// On adds an event listener
func (a *USBAdapter) On(eventType EventType, handler func(Event)) {
	a.listenersMutex.Lock()
	defer a.listenersMutex.Unlock()

	a.events.add(eventType, handler)
}

// emit triggers an event
func (a *USBAdapter) emit(event Event) {
	a.listenersMutex.RLock()
	handlers := a.events.snapshot(event.Type)
	a.listenersMutex.RUnlock()

	for _, handler := range handlers {
		go handler(event)
	}
}

// Open claims the printer interface and its bulk endpoints
func (a *USBAdapter) Open() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.isOpen {
		return ErrAlreadyOpen
	}

	if a.device == nil {
		return errors.New("device not found")
	}

	// Set auto-detach kernel driver on Linux
	if runtime.GOOS == "linux" {
		a.device.SetAutoDetach(true)
	}

	cfgNum, err := a.device.ActiveConfigNum()
	if err != nil {
		return fmt.Errorf("failed to get active config: %w", err)
	}

	cfg, err := a.device.Config(cfgNum)
	if err != nil {
		return fmt.Errorf("failed to get config: %w", err)
	}

	ifaceNum := printerInterface(cfg.Desc)
	if ifaceNum < 0 {
		cfg.Close()
		return errors.New("no printer interface found")
	}

	iface, err := cfg.Interface(ifaceNum, 0)
	if err != nil {
		cfg.Close()
		return fmt.Errorf("failed to claim interface: %w", err)
	}

	var out *gousb.OutEndpoint
	var in *gousb.InEndpoint
	for _, epDesc := range iface.Setting.Endpoints {
		switch {
		case epDesc.Direction == gousb.EndpointDirectionOut && out == nil:
			if ep, err := iface.OutEndpoint(epDesc.Number); err == nil {
				out = ep
			}
		case epDesc.Direction == gousb.EndpointDirectionIn && in == nil:
			if ep, err := iface.InEndpoint(epDesc.Number); err == nil {
				in = ep
			}
		}
	}

	if out == nil {
		iface.Close()
		cfg.Close()
		return errors.New("cannot find output endpoint from printer")
	}

	a.cfg, a.iface, a.outEndpoint, a.inEndpoint = cfg, iface, out, in
	a.isOpen = true
	a.logger.Debug().Int("interface", ifaceNum).Bool("status_endpoint", in != nil).Msg("printer interface claimed")
	a.emit(Event{Type: EventConnect})

	return nil
}

// Write sends data to the printer
func (a *USBAdapter) Write(data []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.isOpen {
		return 0, ErrNotOpen
	}

	a.emit(Event{Type: EventData, Data: data})

	n, err := a.outEndpoint.Write(data)
	if err != nil {
		if errors.Is(err, gousb.ErrorNoDevice) {
			a.emit(Event{Type: EventDetach, Error: err})
		}
		return n, fmt.Errorf("write failed: %w", err)
	}

	return n, nil
}

// Read reads status data from the printer, waiting at most the read timeout
func (a *USBAdapter) Read(buf []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.isOpen {
		return 0, ErrNotOpen
	}

	if a.inEndpoint == nil {
		return 0, errors.New("input endpoint not available")
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.readTimeout)
	defer cancel()

	n, err := a.inEndpoint.ReadContext(ctx, buf)
	if err != nil {
		return n, fmt.Errorf("read failed: %w", err)
	}

	return n, nil
}

// Close releases the claimed interface. The device stays attached and can be opened again.
func (a *USBAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.isOpen {
		return nil
	}

	if a.iface != nil {
		a.iface.Close()
		a.iface = nil
	}

	var err error
	if a.cfg != nil {
		err = a.cfg.Close()
		a.cfg = nil
	}

	a.outEndpoint, a.inEndpoint = nil, nil
	a.isOpen = false
	a.emit(Event{Type: EventClose})

	if err != nil {
		return fmt.Errorf("close config: %w", err)
	}
	return nil
}

// Shutdown closes the adapter and releases the device and the libusb context
func (a *USBAdapter) Shutdown() error {
	closeErr := a.Close()

	a.mu.Lock()
	defer a.mu.Unlock()

	var errs []error
	if closeErr != nil {
		errs = append(errs, closeErr)
	}
	if a.device != nil {
		if err := a.device.Close(); err != nil {
			errs = append(errs, err)
		}
		a.device = nil
	}
	if a.ctx != nil {
		if err := a.ctx.Close(); err != nil {
			errs = append(errs, err)
		}
		a.ctx = nil
	}

	return errors.Join(errs...)
}

// IsOpen returns whether the device is open
func (a *USBAdapter) IsOpen() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.isOpen
}

// GetDevice returns the underlying USB device
func (a *USBAdapter) GetDevice() *gousb.Device {
	return a.device
}
