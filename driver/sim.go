package driver

import (
	"errors"
	"sync"
	"time"

	"github.com/nixxel-company-limited/escpos-print-pipeline/job"
)

// Behavior is how the simulator answers one submission
type Behavior int

const (
	Finish         Behavior = iota // OnFinish
	Fail                           // OnError(Sim.ErrorCode)
	Silent                         // no callback at all
	FinishThenFail                 // both callbacks, finish first
	FailThenFinish                 // both callbacks, error first
	Reject                         // the call itself returns an error
)

var ErrRejected = errors.New("simulated driver rejected the call")

// Sim is a scriptable in-memory printer. It serves as the "sim" backend and as the
// driver double in tests. Configure the exported fields before binding.
type Sim struct {
	Caps      Capabilities
	BindErr   error         // returned by Bind
	NeverBind bool          // Bind succeeds but never connects
	BindDelay time.Duration // delay before OnConnected
	Latency   time.Duration // delay before print callbacks
	ErrorCode int           // code passed to OnError
	StateCode int
	StateErr  error
	StartErr  error
	CloseErr  error

	// PrintBehavior decides the answer to the n-th PrintItems call (0-based). Nil means Finish.
	PrintBehavior func(n int, items []job.CommandItem) Behavior
	// RawBehavior decides the answer to the n-th PrintRaw call. Nil means Finish.
	RawBehavior func(n int, data []byte) Behavior
	// DirectResult decides the answer to the n-th WriteDirect call. Nil means AckNone.
	DirectResult func(n int, data []byte) (Ack, error)

	mu      sync.Mutex
	conn    Connection
	bound   bool
	binds   int
	unbinds int
	prints  [][]job.CommandItem
	raws    [][]byte
	directs [][]byte
	starts  int
	closes  int
	density []int
}

// NewSim returns a simulator that binds immediately and finishes every job
func NewSim() *Sim {
	return &Sim{}
}

func (s *Sim) Bind(c Connection) error {
	s.mu.Lock()
	s.binds++
	s.mu.Unlock()

	if s.BindErr != nil {
		return s.BindErr
	}
	if s.NeverBind {
		return nil
	}

	connect := func() {
		s.mu.Lock()
		s.conn = c
		s.bound = true
		s.mu.Unlock()
		c.OnConnected(simPrinter{s})
	}
	if s.BindDelay > 0 {
		time.AfterFunc(s.BindDelay, connect)
	} else {
		go connect()
	}
	return nil
}

func (s *Sim) Unbind() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unbinds++
	s.conn = nil
	s.bound = false
	return nil
}

// Drop simulates the service dying while bound
func (s *Sim) Drop() {
	s.mu.Lock()
	c := s.conn
	s.conn = nil
	s.bound = false
	s.mu.Unlock()

	if c != nil {
		c.OnDisconnected()
	}
}

func (s *Sim) respond(b Behavior, l Listener) error {
	if b == Reject {
		return ErrRejected
	}
	go func() {
		if s.Latency > 0 {
			time.Sleep(s.Latency)
		}
		switch b {
		case Finish:
			l.OnFinish()
		case Fail:
			l.OnError(s.ErrorCode)
		case FinishThenFail:
			l.OnFinish()
			l.OnError(s.ErrorCode)
		case FailThenFinish:
			l.OnError(s.ErrorCode)
			l.OnFinish()
		}
	}()
	return nil
}

// Binds returns how many times Bind was called
func (s *Sim) Binds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.binds
}

// Unbinds returns how many times Unbind was called
func (s *Sim) Unbinds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unbinds
}

// Bound reports whether a handle is currently handed out
func (s *Sim) Bound() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bound
}

// Prints returns every PrintItems submission
func (s *Sim) Prints() [][]job.CommandItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]job.CommandItem(nil), s.prints...)
}

// Raws returns every PrintRaw submission
func (s *Sim) Raws() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.raws...)
}

// Directs returns every WriteDirect submission
func (s *Sim) Directs() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.directs...)
}

// Starts returns how many times Start was called
func (s *Sim) Starts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts
}

// Closes returns how many times Close was called
func (s *Sim) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// Densities returns every density level applied
func (s *Sim) Densities() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.density...)
}

// simPrinter is the handle given to the connection
type simPrinter struct {
	sim *Sim
}

func (p simPrinter) Capabilities() Capabilities {
	return p.sim.Caps
}

func (p simPrinter) PrintItems(items []job.CommandItem, l Listener) error {
	s := p.sim
	s.mu.Lock()
	n := len(s.prints)
	s.prints = append(s.prints, items)
	s.mu.Unlock()

	b := Finish
	if s.PrintBehavior != nil {
		b = s.PrintBehavior(n, items)
	}
	return s.respond(b, l)
}

func (p simPrinter) PrintRaw(data []byte, l Listener) error {
	s := p.sim
	s.mu.Lock()
	n := len(s.raws)
	s.raws = append(s.raws, data)
	s.mu.Unlock()

	b := Finish
	if s.RawBehavior != nil {
		b = s.RawBehavior(n, data)
	}
	return s.respond(b, l)
}

func (p simPrinter) WriteDirect(data []byte) (Ack, error) {
	s := p.sim
	s.mu.Lock()
	n := len(s.directs)
	s.directs = append(s.directs, data)
	s.mu.Unlock()

	if s.DirectResult != nil {
		return s.DirectResult(n, data)
	}
	return AckNone, nil
}

func (p simPrinter) SetDensity(level int) error {
	s := p.sim
	s.mu.Lock()
	defer s.mu.Unlock()
	s.density = append(s.density, level)
	return nil
}

func (p simPrinter) Start() error {
	s := p.sim
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts++
	return s.StartErr
}

func (p simPrinter) Close() error {
	s := p.sim
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return s.CloseErr
}

func (p simPrinter) State() (int, error) {
	return p.sim.StateCode, p.sim.StateErr
}
