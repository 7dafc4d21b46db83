// Package session tracks the printer lifecycle and the last known device status.
package session

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/nixxel-company-limited/escpos-print-pipeline/driver"
	"github.com/nixxel-company-limited/escpos-print-pipeline/fault"
)

// Lifecycle is the coarse printer session state
type Lifecycle int

const (
	Uninitialized Lifecycle = iota
	Connecting
	Ready
	Busy
	Error
)

func (l Lifecycle) String() string {
	switch l {
	case Uninitialized:
		return "uninitialized"
	case Connecting:
		return "connecting"
	case Ready:
		return "ready"
	case Busy:
		return "busy"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Status is the device status reported to callers
type Status string

const (
	StatusReady      Status = "ready"
	StatusBusy       Status = "busy"
	StatusOutOfPaper Status = "outOfPaper"
	StatusOverheated Status = "overheated"
	StatusError      Status = "error"
	StatusUnknown    Status = "unknown"
)

var statusTable = map[int]Status{
	driver.StateReady:      StatusReady,
	driver.StateBusy:       StatusBusy,
	driver.StateOutOfPaper: StatusOutOfPaper,
	driver.StateOverheated: StatusOverheated,
}

// MapStatus maps a device status code, unknown codes are errors
func MapStatus(code int) Status {
	if s, ok := statusTable[code]; ok {
		return s
	}
	return StatusError
}

// Session is the single source of truth for the printer lifecycle.
// All transitions go through its methods.
type Session struct {
	mu          sync.RWMutex
	lifecycle   Lifecycle
	beforeDial  Lifecycle
	lastCode    int
	hasLastCode bool
	logger      zerolog.Logger
}

// New creates an uninitialized session
func New(logger zerolog.Logger) *Session {
	return &Session{logger: logger}
}

// Lifecycle returns the current state
func (s *Session) Lifecycle() Lifecycle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lifecycle
}

// LastStatusCode returns the last device code seen, if any
func (s *Session) LastStatusCode() (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastCode, s.hasLastCode
}

// RecordStatusCode stores the latest device code
func (s *Session) RecordStatusCode(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCode = code
	s.hasLastCode = true
}

// set must be called with mu held
func (s *Session) set(to Lifecycle) {
	if s.lifecycle != to {
		s.logger.Debug().Stringer("from", s.lifecycle).Stringer("to", to).Msg("lifecycle transition")
	}
	s.lifecycle = to
}

// BeginConnect moves Uninitialized or Error to Connecting
func (s *Session) BeginConnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.lifecycle {
	case Uninitialized, Error:
		s.beforeDial = s.lifecycle
		s.set(Connecting)
		return nil
	case Connecting:
		return fault.New(fault.KindNotInitialized, "printer connection already in progress", nil)
	default:
		return fault.New(fault.KindNotInitialized, "printer is already connected",
			map[string]any{"lifecycle": s.lifecycle.String()})
	}
}

// Connected moves Connecting to Ready
func (s *Session) Connected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lifecycle == Connecting {
		s.set(Ready)
	}
}

// ConnectFailed restores the state held before BeginConnect
func (s *Session) ConnectFailed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lifecycle == Connecting {
		s.set(s.beforeDial)
	}
}

// Acquire moves Ready to Busy. Any other state is rejected.
func (s *Session) Acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.lifecycle {
	case Ready:
		s.set(Busy)
		return nil
	case Busy:
		return fault.New(fault.KindNotInitialized, "printer is busy with another job",
			map[string]any{"lifecycle": s.lifecycle.String()})
	default:
		return fault.New(fault.KindNotInitialized, "printer is not initialized",
			map[string]any{"lifecycle": s.lifecycle.String()})
	}
}

// Release ends a job: Busy becomes Ready on success and Error on failure
func (s *Session) Release(jobErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lifecycle != Busy {
		return
	}
	if jobErr != nil {
		s.set(Error)
		return
	}
	s.set(Ready)
}

// Reset returns to Uninitialized and forgets the last status
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set(Uninitialized)
	s.hasLastCode = false
	s.lastCode = 0
}
