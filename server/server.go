package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nixxel-company-limited/escpos-print-pipeline/dispatch"
	"github.com/nixxel-company-limited/escpos-print-pipeline/job"
	"github.com/nixxel-company-limited/escpos-print-pipeline/logging"
)

// MaxJobSize caps the bytes accepted from one connection
const MaxJobSize = 8 << 20

// Printer is what the server needs from the dispatcher
type Printer interface {
	Initialize(ctx context.Context) error
	Submit(ctx context.Context, req job.Request) (dispatch.Outcome, error)
	Teardown()
}

// Server is a raw TCP intake: everything a client sends before closing its side of
// the connection is printed as one raw job
type Server struct {
	printer    Printer
	listener   net.Listener
	address    string
	chunkSize  int
	chunkDelay time.Duration
	mu         sync.Mutex
	running    bool
	conns      map[net.Conn]struct{}
	wg         sync.WaitGroup
	logger     zerolog.Logger
}

// New creates a new server instance
func New(printer Printer, address string) *Server {
	logger := logging.Component(logging.New("info", os.Stdout), "server")
	return NewWithLogger(printer, address, logger)
}

// NewWithLogger creates a new server instance with a custom logger
func NewWithLogger(printer Printer, address string, logger zerolog.Logger) *Server {
	return &Server{
		printer:    printer,
		address:    address,
		conns:      make(map[net.Conn]struct{}),
		chunkDelay: job.DefaultInterChunkDelay,
		logger:     logger,
	}
}

// SetChunking sets the chunk size and pacing used for jobs from this server.
// A zero size keeps the job default, a zero delay disables pacing.
func (s *Server) SetChunking(size int, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunkSize = size
	s.chunkDelay = delay
}

// listen opens the listener and tries to bring the printer up
func (s *Server) listen() error {
	s.mu.Lock()

	if s.running {
		s.mu.Unlock()
		s.logger.Error().Msg("server already running")
		return fmt.Errorf("server already running")
	}

	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		s.mu.Unlock()
		s.logger.Error().Err(err).Msg("failed to start server")
		return fmt.Errorf("failed to start server: %w", err)
	}

	s.listener = listener
	s.running = true
	s.mu.Unlock()
	s.logger.Info().Str("address", listener.Addr().String()).Msg("server listening")

	// a missing printer is not fatal, every job retries the connection
	if err := s.printer.Initialize(context.Background()); err != nil {
		s.logger.Warn().Err(err).Msg("printer not ready yet")
	} else {
		s.logger.Info().Msg("printer initialized")
	}
	return nil
}

// Start starts the TCP server and blocks until Stop is called
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.address).Msg("starting server (blocking mode)")
	if err := s.listen(); err != nil {
		return err
	}

	s.logger.Info().Msg("ready to accept connections")
	s.acceptConnections()
	return nil
}

// StartAsync starts the TCP server in a goroutine (non-blocking)
func (s *Server) StartAsync() error {
	s.logger.Info().Str("address", s.address).Msg("starting server (async mode)")
	if err := s.listen(); err != nil {
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptConnections()
	}()
	s.logger.Info().Msg("server started in background, ready to accept connections")
	return nil
}

// acceptConnections handles incoming client connections
func (s *Server) acceptConnections() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			running := s.running
			s.mu.Unlock()

			if !running {
				s.logger.Debug().Msg("server shutting down, stopping accept loop")
				return
			}
			s.logger.Error().Err(err).Msg("error accepting connection")
			continue
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.logger.Info().Stringer("client", conn.RemoteAddr()).Msg("client connected")
		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// handleConnection reads one job from the client and prints it
func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
		s.logger.Debug().Stringer("client", conn.RemoteAddr()).Msg("client disconnected")
	}()

	client := conn.RemoteAddr().String()
	data, err := io.ReadAll(io.LimitReader(conn, MaxJobSize+1))
	if err != nil {
		s.logger.Error().Err(err).Str("client", client).Msg("error reading from client")
		return
	}
	if len(data) == 0 {
		s.logger.Debug().Str("client", client).Msg("client sent nothing")
		return
	}
	if len(data) > MaxJobSize {
		s.logger.Error().Str("client", client).Int("limit", MaxJobSize).Msg("job too large, dropped")
		return
	}
	s.logger.Info().Str("client", client).Int("bytes", len(data)).Msg("received job")

	s.mu.Lock()
	req := job.RawBytes{Data: data, ChunkSize: s.chunkSize, InterChunkDelay: s.chunkDelay}
	s.mu.Unlock()

	ctx := context.Background()
	if err := s.printer.Initialize(ctx); err != nil {
		s.logger.Error().Err(err).Str("client", client).Msg("printer unavailable, job dropped")
		return
	}
	out, err := s.printer.Submit(ctx, req)
	if err != nil {
		s.logger.Error().Err(err).Str("client", client).Str("job_id", out.JobID).Msg("job failed")
		return
	}
	s.logger.Info().Str("client", client).Str("job_id", out.JobID).Msg("job printed")
}

// Stop stops the TCP server, waits for in-flight jobs and releases the printer
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		s.logger.Debug().Msg("stop called but server is not running")
		return nil
	}

	s.logger.Info().Msg("stopping server")
	s.running = false
	listener := s.listener
	// drop clients that never closed their side, their partial jobs are not printed
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	if listener != nil {
		listener.Close()
	}

	s.wg.Wait()
	s.logger.Debug().Msg("all connections closed")

	s.printer.Teardown()
	s.logger.Info().Msg("server stopped")
	return nil
}

// IsRunning returns whether the server is running
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Address returns the server address
func (s *Server) Address() string {
	return s.address
}

// GetPrinter returns the printer jobs are submitted to
func (s *Server) GetPrinter() Printer {
	return s.printer
}
