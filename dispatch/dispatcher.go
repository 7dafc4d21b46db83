// Package dispatch is the entry point for print jobs. It encodes requests, enforces
// one job at a time and routes each job to the link or to the chunked raw worker.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nixxel-company-limited/escpos-print-pipeline/driver"
	"github.com/nixxel-company-limited/escpos-print-pipeline/fault"
	"github.com/nixxel-company-limited/escpos-print-pipeline/job"
	"github.com/nixxel-company-limited/escpos-print-pipeline/link"
	"github.com/nixxel-company-limited/escpos-print-pipeline/session"
	"github.com/nixxel-company-limited/escpos-print-pipeline/transmit"
)

// BusyPolicy decides what happens to a job submitted while another is in flight
type BusyPolicy string

const (
	PolicyReject BusyPolicy = "reject"
	PolicyQueue  BusyPolicy = "queue"
)

const (
	DefaultJobTimeout = 30 * time.Second
	DefaultQueueDepth = 4

	MinDensity = 1
	MaxDensity = 5
)

// ParseBusyPolicy accepts "queue", anything else rejects
func ParseBusyPolicy(s string) BusyPolicy {
	if BusyPolicy(s) == PolicyQueue {
		return PolicyQueue
	}
	return PolicyReject
}

// Options configures a Dispatcher. Zero values take the defaults.
type Options struct {
	JobTimeout   time.Duration
	ChunkTimeout time.Duration
	BusyPolicy   BusyPolicy
	QueueDepth   int
	// Sleep is handed to every transmitter, nil means real time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Outcome describes a finished job
type Outcome struct {
	JobID  string
	Job    string
	Report *transmit.Report
}

type rawTask struct {
	ctx  context.Context
	id   string
	req  job.RawBytes
	done chan rawResult
}

type rawResult struct {
	report transmit.Report
	err    error
}

// Dispatcher runs print jobs against one printer
type Dispatcher struct {
	link    *link.Link
	session *session.Session
	encoder *job.Encoder
	opts    Options
	logger  zerolog.Logger

	turn    chan struct{}
	pending atomic.Int32

	tasks     chan rawTask
	quit      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

// New creates a dispatcher and starts its raw job worker. Call Close to stop it.
func New(l *link.Link, sess *session.Session, enc *job.Encoder, opts Options, logger zerolog.Logger) *Dispatcher {
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = DefaultJobTimeout
	}
	if opts.BusyPolicy == "" {
		opts.BusyPolicy = PolicyReject
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = DefaultQueueDepth
	}
	if enc == nil {
		enc = job.NewEncoder(nil)
	}

	d := &Dispatcher{
		link:    l,
		session: sess,
		encoder: enc,
		opts:    opts,
		logger:  logger,
		turn:    make(chan struct{}, 1),
		tasks:   make(chan rawTask),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go d.worker()
	return d
}

// Initialize connects to the printer. It is a no-op when already connected.
func (d *Dispatcher) Initialize(ctx context.Context) error {
	switch d.session.Lifecycle() {
	case session.Ready, session.Busy:
		return nil
	}
	if err := d.link.Connect(ctx); err != nil {
		d.logger.Error().Err(err).Msg("printer initialization failed")
		return fault.From(err, fault.KindRemote)
	}
	return nil
}

// Status reports the printer status. It only reads the device and caches the code.
func (d *Dispatcher) Status(ctx context.Context) session.Status {
	switch d.session.Lifecycle() {
	case session.Uninitialized, session.Connecting:
		return session.StatusUnknown
	case session.Error:
		return session.StatusError
	}

	code, err := d.link.StatusCode()
	if err != nil {
		d.logger.Warn().Err(err).Msg("failed to read printer status")
		return session.StatusError
	}
	d.session.RecordStatusCode(code)
	return session.MapStatus(code)
}

// Submit runs one print job and blocks until it finishes
func (d *Dispatcher) Submit(ctx context.Context, req job.Request) (Outcome, error) {
	out := Outcome{JobID: uuid.NewString(), Job: req.Name()}
	log := d.logger.With().Str("job_id", out.JobID).Str("job", out.Job).Logger()

	items, err := d.encoder.Encode(req)
	if err != nil {
		log.Warn().Err(err).Msg("rejected malformed request")
		return out, fault.From(err, fault.KindEncoding)
	}

	done, err := d.admit(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("job not accepted")
		return out, err
	}
	defer done()

	start := time.Now()
	log.Info().Msg("job started")

	if raw, ok := req.(job.RawBytes); ok {
		var report transmit.Report
		report, err = d.runOnWorker(ctx, out.JobID, raw)
		out.Report = &report
	} else {
		err = d.runSimple(ctx, items)
	}

	// drop the handle before the session leaves Busy so a new Initialize cannot be torn down
	if err != nil {
		d.link.Abandon()
	}
	d.session.Release(err)
	if err != nil {
		ferr := fault.From(err, fault.KindRemote)
		log.Error().Err(ferr).Dur("elapsed", time.Since(start)).Msg("job failed")
		return out, ferr
	}

	log.Info().Dur("elapsed", time.Since(start)).Msg("job finished")
	return out, nil
}

// Dispatch runs Submit on its own goroutine and delivers the result on the returned channel
func (d *Dispatcher) Dispatch(ctx context.Context, req job.Request) <-chan error {
	result := make(chan error, 1)
	go func() {
		_, err := d.Submit(ctx, req)
		result <- err
	}()
	return result
}

// SetDensity changes print darkness. A driver without density control accepts the
// request without applying it, reported by applied.
func (d *Dispatcher) SetDensity(ctx context.Context, level int) (applied bool, err error) {
	if level < MinDensity || level > MaxDensity {
		return false, fault.New(fault.KindEncoding, "density level out of range",
			map[string]any{"level": level, "min": MinDensity, "max": MaxDensity})
	}
	if d.session.Lifecycle() != session.Ready {
		return false, fault.New(fault.KindNotInitialized, "printer is not ready",
			map[string]any{"lifecycle": d.session.Lifecycle().String()})
	}

	err = d.link.SetDensity(level)
	if errors.Is(err, driver.ErrUnsupported) {
		d.logger.Info().Int("level", level).Msg("driver has no density control, density not applied")
		return false, nil
	}
	if err != nil {
		return false, fault.From(err, fault.KindRemote)
	}
	d.logger.Info().Int("level", level).Msg("density applied")
	return true, nil
}

// Teardown releases the printer. Safe to call when already released.
func (d *Dispatcher) Teardown() {
	d.link.Disconnect()
}

// Close stops the raw job worker and releases the printer
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.quit)
		<-d.stopped
		d.Teardown()
	})
}

// admit makes the job the only one in flight and moves the session to Busy.
// The returned func must be called once the session has been released.
func (d *Dispatcher) admit(ctx context.Context) (func(), error) {
	if d.opts.BusyPolicy != PolicyQueue {
		if err := d.session.Acquire(); err != nil {
			return nil, err
		}
		return func() {}, nil
	}

	if int(d.pending.Add(1)) > d.opts.QueueDepth+1 {
		d.pending.Add(-1)
		return nil, fault.New(fault.KindNotInitialized, "print queue is full",
			map[string]any{"queueDepth": d.opts.QueueDepth})
	}

	select {
	case d.turn <- struct{}{}:
	case <-ctx.Done():
		d.pending.Add(-1)
		return nil, fault.Wrap(fault.KindNotInitialized, ctx.Err(), "gave up waiting for the printer", nil)
	}

	done := func() {
		<-d.turn
		d.pending.Add(-1)
	}
	if err := d.session.Acquire(); err != nil {
		done()
		return nil, err
	}
	return done, nil
}

func (d *Dispatcher) runSimple(ctx context.Context, items []job.CommandItem) error {
	if err := d.link.Send(ctx, items, d.opts.JobTimeout); err != nil {
		return err
	}
	return d.link.Finalize()
}

func (d *Dispatcher) runOnWorker(ctx context.Context, id string, req job.RawBytes) (transmit.Report, error) {
	task := rawTask{ctx: ctx, id: id, req: req, done: make(chan rawResult, 1)}
	select {
	case d.tasks <- task:
	case <-d.quit:
		return transmit.Report{}, fault.New(fault.KindNotInitialized, "dispatcher is closed", nil)
	}
	res := <-task.done
	return res.report, res.err
}

// worker runs raw jobs so chunk waits never block the caller's goroutine
func (d *Dispatcher) worker() {
	defer close(d.stopped)
	for {
		select {
		case task := <-d.tasks:
			t := transmit.New(d.link, transmit.Options{
				ChunkTimeout: d.opts.ChunkTimeout,
				Sleep:        d.opts.Sleep,
				Logger:       d.logger.With().Str("job_id", task.id).Logger(),
			})
			report, err := t.Transmit(task.ctx, task.req)
			task.done <- rawResult{report: report, err: err}
		case <-d.quit:
			return
		}
	}
}
