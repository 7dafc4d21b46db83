package link

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/nixxel-company-limited/escpos-print-pipeline/fault"
)

// completion is a driver.Listener that resolves at most once.
// Whichever comes first of finish, error, timeout or cancellation wins;
// everything after is counted and dropped.
type completion struct {
	once    sync.Once
	done    chan struct{}
	ok      bool
	code    int
	expired error
	ignored atomic.Int32
	logger  zerolog.Logger
}

func newCompletion(logger zerolog.Logger) *completion {
	return &completion{done: make(chan struct{}), logger: logger}
}

func (c *completion) OnFinish() {
	c.resolve("finish", func() { c.ok = true })
}

func (c *completion) OnError(code int) {
	c.resolve("error", func() { c.code = code })
}

func (c *completion) resolve(signal string, set func()) {
	first := false
	c.once.Do(func() {
		set()
		close(c.done)
		first = true
	})
	if !first {
		c.ignored.Add(1)
		c.logger.Warn().Str("signal", signal).Msg("ignoring completion signal for an already resolved submission")
	}
}

func (c *completion) expire(err error) {
	c.once.Do(func() {
		c.expired = err
		close(c.done)
	})
}

// wait blocks until the submission resolves. Silence past timeout is a failure.
func (c *completion) wait(ctx context.Context, timeout time.Duration) error {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case <-c.done:
	case <-timer:
		c.expire(fault.New(fault.KindTimeout, "no completion signal from printer",
			map[string]any{"timeout": timeout.String()}))
	case <-ctx.Done():
		c.expire(fault.Wrap(fault.KindTimeout, ctx.Err(), "stopped waiting for printer", nil))
	}
	<-c.done

	switch {
	case c.expired != nil:
		return c.expired
	case c.ok:
		return nil
	default:
		return fault.New(fault.KindPrint, "printer reported an error", map[string]any{"code": c.code})
	}
}
