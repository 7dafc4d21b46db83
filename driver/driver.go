// Package driver declares the primitives the pipeline consumes from the printer host:
// an asynchronous bind with no synchronous ready signal, submit-with-callback, and
// optional extensions announced through a capability descriptor.
package driver

import (
	"errors"

	"github.com/nixxel-company-limited/escpos-print-pipeline/job"
)

// Device status codes reported by Printer.State
const (
	StateReady      = 0
	StateBusy       = 1
	StateOutOfPaper = 2
	StateOverheated = 3
	StateFault      = 4
)

// Error codes passed to Listener.OnError by the drivers in this package
const (
	ErrCodeWrite    = 1
	ErrCodeRender   = 2
	ErrCodeNotBound = 3
)

var ErrUnsupported = errors.New("operation not supported by driver")

// Listener receives exactly one of the two terminal outcomes of a submission.
// Drivers may call it from any goroutine, and misbehaving ones may call both or neither.
type Listener interface {
	OnFinish()
	OnError(code int)
}

// Capabilities is declared by a printer handle once, when it is bound
type Capabilities struct {
	RawBytes    bool // handle implements RawPrinter
	DirectWrite bool // handle implements DirectWriter
	Density     bool // handle implements DensityController
}

// Printer is a bound driver handle
type Printer interface {
	// PrintItems queues items and reports completion through l
	PrintItems(items []job.CommandItem, l Listener) error
	// Start flushes queued content to the print head
	Start() error
	// Close ends the print session
	Close() error
	// State returns the device status code
	State() (int, error)
	Capabilities() Capabilities
}

// RawPrinter accepts raw byte chunks as a native item type
type RawPrinter interface {
	PrintRaw(data []byte, l Listener) error
}

// Ack is the optional boolean result of a direct write
type Ack int

const (
	AckNone Ack = iota // the write reported nothing
	AckTrue
	AckFalse
)

// DirectWriter writes bytes straight to the device
type DirectWriter interface {
	WriteDirect(data []byte) (Ack, error)
}

// DensityController changes print darkness
type DensityController interface {
	SetDensity(level int) error
}

// Connection receives the bind outcome. OnConnected may never be called.
type Connection interface {
	OnConnected(p Printer)
	OnDisconnected()
}

// Service binds to the printer out of band
type Service interface {
	// Bind starts binding, the handle arrives later on c. An error means binding could not start.
	Bind(c Connection) error
	// Unbind releases the handle, if any, and cancels a pending bind
	Unbind() error
}
