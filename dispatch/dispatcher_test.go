package dispatch

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nixxel-company-limited/escpos-print-pipeline/driver"
	"github.com/nixxel-company-limited/escpos-print-pipeline/fault"
	"github.com/nixxel-company-limited/escpos-print-pipeline/job"
	"github.com/nixxel-company-limited/escpos-print-pipeline/link"
	"github.com/nixxel-company-limited/escpos-print-pipeline/session"
)

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return nil
}

func (s *sleepRecorder) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.delays)
}

type fixture struct {
	sim   *driver.Sim
	sess  *session.Session
	link  *link.Link
	d     *Dispatcher
	sleep *sleepRecorder
}

func newFixture(t *testing.T, sim *driver.Sim, opts Options) *fixture {
	t.Helper()
	f := &fixture{sim: sim, sess: session.New(zerolog.Nop()), sleep: &sleepRecorder{}}
	f.link = link.New(sim, f.sess, 50*time.Millisecond, zerolog.Nop())
	if opts.JobTimeout == 0 {
		opts.JobTimeout = time.Second
	}
	if opts.ChunkTimeout == 0 {
		opts.ChunkTimeout = time.Second
	}
	opts.Sleep = f.sleep.sleep
	f.d = New(f.link, f.sess, job.NewEncoder(nil), opts, zerolog.Nop())
	t.Cleanup(f.d.Close)
	return f
}

func ready(t *testing.T, sim *driver.Sim, opts Options) *fixture {
	t.Helper()
	f := newFixture(t, sim, opts)
	require.NoError(t, f.d.Initialize(context.Background()))
	require.Equal(t, session.Ready, f.sess.Lifecycle())
	return f
}

func waitBusy(t *testing.T, sess *session.Session) {
	t.Helper()
	require.Eventually(t, func() bool { return sess.Lifecycle() == session.Busy },
		time.Second, time.Millisecond)
}

func TestSubmitText(t *testing.T) {
	f := ready(t, driver.NewSim(), Options{})

	out, err := f.d.Submit(context.Background(),
		job.Text{Content: "Hello", Alignment: "center", Style: "bold", FontSize: 24})
	require.NoError(t, err)
	assert.NotEmpty(t, out.JobID)
	assert.Equal(t, "text", out.Job)
	assert.Nil(t, out.Report)

	prints := f.sim.Prints()
	require.Len(t, prints, 1)
	require.Len(t, prints[0], 1)
	item := prints[0][0]
	assert.Equal(t, "Hello", item.Text)
	assert.Equal(t, job.AlignCenter, item.Alignment)
	assert.True(t, item.Bold)
	assert.Equal(t, 24, item.Size)

	assert.Equal(t, 1, f.sim.Starts())
	assert.Equal(t, 1, f.sim.Closes())
	assert.Equal(t, session.Ready, f.sess.Lifecycle())
}

func TestSubmitRaw(t *testing.T) {
	f := ready(t, driver.NewSim(), Options{})

	buf := make([]byte, 256)
	for i := range buf {
		buf[i] = byte(i)
	}

	out, err := f.d.Submit(context.Background(),
		job.RawBytes{Data: buf, ChunkSize: 50, InterChunkDelay: job.DefaultInterChunkDelay})
	require.NoError(t, err)
	require.NotNil(t, out.Report)
	assert.Len(t, out.Report.Chunks, 6)
	assert.True(t, out.Report.Finalized)

	prints := f.sim.Prints()
	require.Len(t, prints, 6)
	var got []byte
	for _, p := range prints {
		require.Len(t, p, 1)
		assert.True(t, p[0].Verbatim)
		for _, r := range p[0].Text {
			got = append(got, byte(r))
		}
	}
	assert.Equal(t, buf, got)

	assert.Equal(t, 5, f.sleep.count())
	assert.Equal(t, 1, f.sim.Starts())
	assert.Equal(t, 1, f.sim.Closes())
	assert.Equal(t, session.Ready, f.sess.Lifecycle())
}

func TestSubmitRawChunkFailure(t *testing.T) {
	sim := driver.NewSim()
	sim.PrintBehavior = func(n int, _ []job.CommandItem) driver.Behavior {
		if n == 2 {
			return driver.Fail
		}
		return driver.Finish
	}
	f := ready(t, sim, Options{})

	_, err := f.d.Submit(context.Background(), job.RawBytes{Data: make([]byte, 256), ChunkSize: 50})
	fe, ok := fault.As(err)
	require.True(t, ok)
	assert.Equal(t, fault.KindTransmission, fe.Kind)
	assert.Equal(t, 3, fe.Context["chunkIndex"])

	assert.Len(t, sim.Prints(), 3)
	assert.Zero(t, sim.Starts())
	assert.Equal(t, session.Error, f.sess.Lifecycle())
	assert.False(t, f.link.Connected())
	assert.Equal(t, session.StatusError, f.d.Status(context.Background()))
}

func TestFailedJobDropsHandleBeforeError(t *testing.T) {
	var (
		l           *link.Link
		mu          sync.Mutex
		connectedAt []bool
	)
	hook := zerolog.HookFunc(func(_ *zerolog.Event, _ zerolog.Level, msg string) {
		if msg == "lifecycle transition" {
			mu.Lock()
			connectedAt = append(connectedAt, l.Connected())
			mu.Unlock()
		}
	})

	sim := driver.NewSim()
	sim.PrintBehavior = func(n int, _ []job.CommandItem) driver.Behavior {
		if n == 0 {
			return driver.Fail
		}
		return driver.Finish
	}
	sess := session.New(zerolog.New(io.Discard).Level(zerolog.DebugLevel).Hook(hook))
	l = link.New(sim, sess, 50*time.Millisecond, zerolog.Nop())
	d := New(l, sess, job.NewEncoder(nil), Options{JobTimeout: time.Second, ChunkTimeout: time.Second}, zerolog.Nop())
	t.Cleanup(d.Close)

	require.NoError(t, d.Initialize(context.Background()))
	_, err := d.Submit(context.Background(), job.Text{Content: "x"})
	require.Error(t, err)
	require.Equal(t, session.Error, sess.Lifecycle())

	mu.Lock()
	// Connecting, Ready, Busy, Error
	require.Len(t, connectedAt, 4)
	assert.False(t, connectedAt[3], "handle still held when the session entered Error")
	mu.Unlock()

	require.NoError(t, d.Initialize(context.Background()))
	assert.True(t, l.Connected())
	_, err = d.Submit(context.Background(), job.Text{Content: "y"})
	assert.NoError(t, err)
}

func TestInitializeTimeout(t *testing.T) {
	sim := driver.NewSim()
	sim.NeverBind = true
	f := newFixture(t, sim, Options{})

	err := f.d.Initialize(context.Background())
	assert.Equal(t, fault.KindConnectTimeout, fault.KindOf(err))
	assert.Equal(t, session.Uninitialized, f.sess.Lifecycle())
	assert.Equal(t, session.StatusUnknown, f.d.Status(context.Background()))
}

func TestInitializeIsIdempotent(t *testing.T) {
	f := ready(t, driver.NewSim(), Options{})

	require.NoError(t, f.d.Initialize(context.Background()))
	assert.Equal(t, 1, f.sim.Binds())
}

func TestInitializeRecoversFromError(t *testing.T) {
	sim := driver.NewSim()
	sim.PrintBehavior = func(n int, _ []job.CommandItem) driver.Behavior {
		if n == 0 {
			return driver.Fail
		}
		return driver.Finish
	}
	f := ready(t, sim, Options{})

	_, err := f.d.Submit(context.Background(), job.Text{Content: "x"})
	assert.Equal(t, fault.KindPrint, fault.KindOf(err))
	assert.Equal(t, session.Error, f.sess.Lifecycle())

	require.NoError(t, f.d.Initialize(context.Background()))
	_, err = f.d.Submit(context.Background(), job.Text{Content: "x"})
	require.NoError(t, err)
	assert.Equal(t, session.Ready, f.sess.Lifecycle())
}

func TestSubmitNotInitialized(t *testing.T) {
	f := newFixture(t, driver.NewSim(), Options{})

	_, err := f.d.Submit(context.Background(), job.Text{Content: "x"})
	assert.Equal(t, fault.KindNotInitialized, fault.KindOf(err))
	assert.Empty(t, f.sim.Prints())
}

func TestSubmitEncodingErrorLeavesSession(t *testing.T) {
	f := ready(t, driver.NewSim(), Options{})

	_, err := f.d.Submit(context.Background(), job.RawBytes{})
	assert.Equal(t, fault.KindEncoding, fault.KindOf(err))
	assert.Equal(t, session.Ready, f.sess.Lifecycle())
	assert.True(t, f.link.Connected())
}

func TestSubmitWhileBusyIsRejected(t *testing.T) {
	sim := driver.NewSim()
	sim.Latency = 200 * time.Millisecond
	f := ready(t, sim, Options{})

	first := f.d.Dispatch(context.Background(), job.Text{Content: "first"})
	waitBusy(t, f.sess)

	_, err := f.d.Submit(context.Background(), job.Text{Content: "second"})
	assert.Equal(t, fault.KindNotInitialized, fault.KindOf(err))
	assert.Equal(t, session.Busy, f.sess.Lifecycle())

	require.NoError(t, <-first)
	assert.Len(t, sim.Prints(), 1)
	assert.Equal(t, session.Ready, f.sess.Lifecycle())
}

func TestQueuePolicy(t *testing.T) {
	sim := driver.NewSim()
	sim.Latency = 100 * time.Millisecond
	f := ready(t, sim, Options{BusyPolicy: PolicyQueue, QueueDepth: 1})

	first := f.d.Dispatch(context.Background(), job.Text{Content: "first"})
	waitBusy(t, f.sess)
	second := f.d.Dispatch(context.Background(), job.Text{Content: "second"})
	require.Eventually(t, func() bool { return f.d.pending.Load() == 2 }, time.Second, time.Millisecond)

	_, err := f.d.Submit(context.Background(), job.Text{Content: "third"})
	fe, ok := fault.As(err)
	require.True(t, ok)
	assert.Equal(t, "print queue is full", fe.Message)

	require.NoError(t, <-first)
	require.NoError(t, <-second)

	prints := sim.Prints()
	require.Len(t, prints, 2)
	assert.Equal(t, "first", prints[0][0].Text)
	assert.Equal(t, "second", prints[1][0].Text)
	assert.Equal(t, session.Ready, f.sess.Lifecycle())
	assert.Zero(t, f.d.pending.Load())
}

func TestStatus(t *testing.T) {
	sim := driver.NewSim()
	sim.StateCode = driver.StateOutOfPaper
	f := ready(t, sim, Options{})

	first := f.d.Status(context.Background())
	second := f.d.Status(context.Background())
	assert.Equal(t, session.StatusOutOfPaper, first)
	assert.Equal(t, first, second)
	assert.Equal(t, session.Ready, f.sess.Lifecycle())

	code, ok := f.sess.LastStatusCode()
	assert.True(t, ok)
	assert.Equal(t, driver.StateOutOfPaper, code)

	sim.StateCode = 42
	assert.Equal(t, session.StatusError, f.d.Status(context.Background()))
}

func TestSetDensity(t *testing.T) {
	sim := driver.NewSim()
	sim.Caps = driver.Capabilities{Density: true}
	f := ready(t, sim, Options{})

	applied, err := f.d.SetDensity(context.Background(), 3)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, []int{3}, sim.Densities())

	_, err = f.d.SetDensity(context.Background(), 6)
	assert.Equal(t, fault.KindEncoding, fault.KindOf(err))
	_, err = f.d.SetDensity(context.Background(), 0)
	assert.Equal(t, fault.KindEncoding, fault.KindOf(err))
}

func TestSetDensityUnsupported(t *testing.T) {
	f := ready(t, driver.NewSim(), Options{})

	applied, err := f.d.SetDensity(context.Background(), 3)
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestSetDensityNotInitialized(t *testing.T) {
	f := newFixture(t, driver.NewSim(), Options{})

	_, err := f.d.SetDensity(context.Background(), 3)
	assert.Equal(t, fault.KindNotInitialized, fault.KindOf(err))
}

func TestTeardown(t *testing.T) {
	f := ready(t, driver.NewSim(), Options{})

	f.d.Teardown()
	f.d.Teardown()
	assert.Equal(t, session.Uninitialized, f.sess.Lifecycle())
	assert.False(t, f.link.Connected())
	assert.Equal(t, 1, f.sim.Unbinds())
}

func TestParseBusyPolicy(t *testing.T) {
	assert.Equal(t, PolicyQueue, ParseBusyPolicy("queue"))
	assert.Equal(t, PolicyReject, ParseBusyPolicy("reject"))
	assert.Equal(t, PolicyReject, ParseBusyPolicy(""))
}
