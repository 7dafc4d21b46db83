// Package link owns the connection to the printer driver. It is the only holder of
// the driver handle; everything else reaches the printer through a *Link.
package link

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nixxel-company-limited/escpos-print-pipeline/driver"
	"github.com/nixxel-company-limited/escpos-print-pipeline/fault"
	"github.com/nixxel-company-limited/escpos-print-pipeline/job"
	"github.com/nixxel-company-limited/escpos-print-pipeline/session"
)

// DefaultConnectGrace is how long Connect waits for the handle to appear
const DefaultConnectGrace = 2 * time.Second

// Link manages the driver handle and the lifecycle transitions tied to it
type Link struct {
	service driver.Service
	session *session.Session
	grace   time.Duration
	logger  zerolog.Logger

	mu      sync.Mutex
	handle  driver.Printer
	caps    driver.Capabilities
	binding *binding
}

// New creates a link. A non-positive grace selects DefaultConnectGrace.
func New(svc driver.Service, sess *session.Session, grace time.Duration, logger zerolog.Logger) *Link {
	if grace <= 0 {
		grace = DefaultConnectGrace
	}
	return &Link{service: svc, session: sess, grace: grace, logger: logger}
}

// binding is the connection handed to one Bind call
type binding struct {
	link  *Link
	bound chan driver.Printer
}

func (b *binding) OnConnected(p driver.Printer) {
	select {
	case b.bound <- p:
	default:
		b.link.logger.Warn().Msg("driver reported a second connection for the same bind")
	}
}

func (b *binding) OnDisconnected() {
	b.link.lost(b)
}

// Connect binds to the driver and waits up to the grace period for a handle
func (l *Link) Connect(ctx context.Context) error {
	if err := l.session.BeginConnect(); err != nil {
		return err
	}

	b := &binding{link: l, bound: make(chan driver.Printer, 1)}
	l.mu.Lock()
	l.binding = b
	l.mu.Unlock()

	l.logger.Debug().Dur("grace", l.grace).Msg("binding to printer service")
	if err := guard("bind", func() error { return l.service.Bind(b) }); err != nil {
		l.clearBinding(b)
		l.session.ConnectFailed()
		return fault.Wrap(fault.KindBindingFailed, err, "failed to bind to printer service", nil)
	}

	timer := time.NewTimer(l.grace)
	defer timer.Stop()

	select {
	case p := <-b.bound:
		return l.attach(b, p)
	case <-timer.C:
		l.abandonBinding(b)
		l.logger.Error().Dur("grace", l.grace).Msg("printer interface not available after grace period")
		return fault.New(fault.KindConnectTimeout, "failed to get printer interface",
			map[string]any{"grace": l.grace.String()})
	case <-ctx.Done():
		l.abandonBinding(b)
		return fault.Wrap(fault.KindConnectTimeout, ctx.Err(), "connect cancelled", nil)
	}
}

func (l *Link) attach(b *binding, p driver.Printer) error {
	var caps driver.Capabilities
	if err := guard("capabilities", func() error { caps = p.Capabilities(); return nil }); err != nil {
		l.abandonBinding(b)
		return err
	}

	// only advertise what the handle really implements
	if _, ok := p.(driver.RawPrinter); !ok {
		caps.RawBytes = false
	}
	if _, ok := p.(driver.DirectWriter); !ok {
		caps.DirectWrite = false
	}
	if _, ok := p.(driver.DensityController); !ok {
		caps.Density = false
	}

	l.mu.Lock()
	if l.binding != b {
		l.mu.Unlock()
		l.session.ConnectFailed()
		return fault.New(fault.KindNotInitialized, "connection was torn down while binding", nil)
	}
	l.handle = p
	l.caps = caps
	l.mu.Unlock()

	l.session.Connected()
	l.logger.Info().
		Bool("raw_bytes", caps.RawBytes).
		Bool("direct_write", caps.DirectWrite).
		Bool("density", caps.Density).
		Msg("printer connected")
	return nil
}

func (l *Link) clearBinding(b *binding) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.binding == b {
		l.binding = nil
	}
}

// abandonBinding cancels a pending bind and restores the session
func (l *Link) abandonBinding(b *binding) {
	l.clearBinding(b)
	if err := guard("unbind", l.service.Unbind); err != nil {
		l.logger.Warn().Err(err).Msg("failed to cancel pending bind")
	}
	l.session.ConnectFailed()
}

// lost handles a driver-initiated disconnect
func (l *Link) lost(b *binding) {
	l.mu.Lock()
	if l.binding != b {
		l.mu.Unlock()
		return
	}
	l.binding = nil
	l.handle = nil
	l.caps = driver.Capabilities{}
	l.mu.Unlock()

	l.logger.Warn().Msg("printer service disconnected")
	l.session.Reset()
}

// release drops the handle and unbinds, reporting whether there was anything to release
func (l *Link) release() bool {
	l.mu.Lock()
	had := l.handle != nil || l.binding != nil
	l.handle = nil
	l.binding = nil
	l.caps = driver.Capabilities{}
	l.mu.Unlock()

	if had {
		if err := guard("unbind", l.service.Unbind); err != nil {
			l.logger.Warn().Err(err).Msg("error unbinding from printer service")
		}
	}
	return had
}

// Disconnect releases the handle and resets the session. Safe to call repeatedly.
func (l *Link) Disconnect() {
	if l.release() {
		l.logger.Info().Msg("printer disconnected")
	}
	l.session.Reset()
}

// Abandon releases the handle but leaves the lifecycle as it is
func (l *Link) Abandon() {
	if l.release() {
		l.logger.Debug().Msg("printer handle released")
	}
}

// Connected reports whether a handle is held
func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handle != nil
}

// Capabilities returns the descriptor resolved at connect time
func (l *Link) Capabilities() driver.Capabilities {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.caps
}

func (l *Link) printer() (driver.Printer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.handle == nil {
		return nil, fault.New(fault.KindNotInitialized, "printer is not initialized", nil)
	}
	return l.handle, nil
}

// Send submits items and waits for the completion callback
func (l *Link) Send(ctx context.Context, items []job.CommandItem, timeout time.Duration) error {
	p, err := l.printer()
	if err != nil {
		return err
	}

	c := newCompletion(l.logger)
	if err := guard("print", func() error { return p.PrintItems(items, c) }); err != nil {
		return err
	}
	return c.wait(ctx, timeout)
}

// SendRaw submits a chunk through the driver's raw-bytes extension
func (l *Link) SendRaw(ctx context.Context, data []byte, timeout time.Duration) error {
	p, err := l.printer()
	if err != nil {
		return err
	}
	rp, ok := p.(driver.RawPrinter)
	if !ok || !l.Capabilities().RawBytes {
		return driver.ErrUnsupported
	}

	c := newCompletion(l.logger)
	if err := guard("print raw", func() error { return rp.PrintRaw(data, c) }); err != nil {
		return err
	}
	return c.wait(ctx, timeout)
}

// WriteDirect writes a chunk through the driver's low-level write extension
func (l *Link) WriteDirect(data []byte) (driver.Ack, error) {
	p, err := l.printer()
	if err != nil {
		return driver.AckFalse, err
	}
	dw, ok := p.(driver.DirectWriter)
	if !ok || !l.Capabilities().DirectWrite {
		return driver.AckFalse, driver.ErrUnsupported
	}

	ack := driver.AckFalse
	err = guard("direct write", func() error {
		var werr error
		ack, werr = dw.WriteDirect(data)
		return werr
	})
	return ack, err
}

// Finalize flushes and closes the print session
func (l *Link) Finalize() error {
	p, err := l.printer()
	if err != nil {
		return fault.Wrap(fault.KindFinalize, err, "error finalizing print", nil)
	}
	if err := guard("start", p.Start); err != nil {
		return fault.Wrap(fault.KindFinalize, err, "error finalizing print", map[string]any{"step": "start"})
	}
	if err := guard("close", p.Close); err != nil {
		return fault.Wrap(fault.KindFinalize, err, "error finalizing print", map[string]any{"step": "close"})
	}
	return nil
}

// StatusCode reads the device status code
func (l *Link) StatusCode() (int, error) {
	p, err := l.printer()
	if err != nil {
		return 0, err
	}
	var code int
	err = guard("state", func() error {
		var serr error
		code, serr = p.State()
		return serr
	})
	return code, err
}

// SetDensity applies a print density when the driver supports it
func (l *Link) SetDensity(level int) error {
	p, err := l.printer()
	if err != nil {
		return err
	}
	dc, ok := p.(driver.DensityController)
	if !ok || !l.Capabilities().Density {
		return driver.ErrUnsupported
	}
	return guard("set density", func() error { return dc.SetDensity(level) })
}

// guard runs a driver call, translating errors and panics into REMOTE_FAILURE
func guard(op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fault.New(fault.KindRemote, "driver call panicked",
				map[string]any{"op": op, "panic": fmt.Sprint(r)})
		}
	}()

	if cerr := fn(); cerr != nil {
		if _, ok := fault.As(cerr); ok {
			return cerr
		}
		return fault.Wrap(fault.KindRemote, cerr, "driver call failed", map[string]any{"op": op})
	}
	return nil
}
