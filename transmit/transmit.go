// Package transmit delivers a raw byte job in paced chunks, trying a ranked list of
// strategies for each chunk before giving up.
package transmit

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/nixxel-company-limited/escpos-print-pipeline/fault"
	"github.com/nixxel-company-limited/escpos-print-pipeline/job"
)

// DefaultChunkTimeout bounds the wait for a single chunk's completion
const DefaultChunkTimeout = 5 * time.Second

var errDirectRefused = errors.New("direct write was refused by the device")

// ChunkResult records the outcome of one chunk
type ChunkResult struct {
	Index     int
	Strategy  string
	Succeeded bool
	Elapsed   time.Duration
}

// Report is everything a transmission did
type Report struct {
	Chunks    []ChunkResult
	Finalized bool
}

// Options configures a Transmitter. Zero values take the package defaults.
type Options struct {
	ChunkTimeout time.Duration
	Logger       zerolog.Logger
	// Sleep pauses between chunks. Nil means a context-aware time.Sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Transmitter sends raw jobs over a link. The strategy ranking is fixed at construction
// from the link's capabilities.
type Transmitter struct {
	link       Link
	strategies []Strategy
	skipped    []string
	sleep      func(ctx context.Context, d time.Duration) error
	logger     zerolog.Logger
}

// New builds a transmitter for the link's current capabilities
func New(l Link, opts Options) *Transmitter {
	timeout := opts.ChunkTimeout
	if timeout <= 0 {
		timeout = DefaultChunkTimeout
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	caps := l.Capabilities()
	ranked := []Strategy{
		textStrategy{link: l, timeout: timeout},
		rawStrategy{link: l, timeout: timeout},
		directStrategy{link: l},
	}

	t := &Transmitter{link: l, sleep: sleep, logger: opts.Logger}
	for _, s := range ranked {
		if s.Available(caps) {
			t.strategies = append(t.strategies, s)
		} else {
			t.skipped = append(t.skipped, s.Name())
		}
	}
	return t
}

// Strategies returns the names of the usable strategies in the order they are tried
func (t *Transmitter) Strategies() []string {
	names := make([]string, len(t.strategies))
	for i, s := range t.strategies {
		names[i] = s.Name()
	}
	return names
}

// Partition splits buf into contiguous chunks of at most size bytes.
// A non-positive size selects job.DefaultChunkSize.
func Partition(buf []byte, size int) [][]byte {
	if size <= 0 {
		size = job.DefaultChunkSize
	}
	chunks := make([][]byte, 0, (len(buf)+size-1)/size)
	for start := 0; start < len(buf); start += size {
		end := min(start+size, len(buf))
		chunks = append(chunks, buf[start:end])
	}
	return chunks
}

// Transmit sends the raw job chunk by chunk and finalizes once every chunk is through.
// The first chunk that no strategy can deliver stops the job.
func (t *Transmitter) Transmit(ctx context.Context, req job.RawBytes) (Report, error) {
	var report Report

	size, delay := req.Options()
	chunks := Partition(req.Data, size)
	if len(chunks) == 0 {
		return report, fault.New(fault.KindEncoding, "raw data is empty", nil)
	}

	t.logger.Debug().
		Int("bytes", len(req.Data)).
		Int("chunks", len(chunks)).
		Strs("strategies", t.Strategies()).
		Strs("skipped", t.skipped).
		Msg("transmitting raw job")

	for i, chunk := range chunks {
		index := i + 1
		result, err := t.deliver(ctx, index, chunk)
		report.Chunks = append(report.Chunks, result)
		if err != nil {
			return report, err
		}

		if index < len(chunks) && delay > 0 {
			if err := t.sleep(ctx, delay); err != nil {
				return report, fault.Wrap(fault.KindTransmission, err, "transmission cancelled",
					map[string]any{"chunkIndex": index})
			}
		}
	}

	if err := t.link.Finalize(); err != nil {
		return report, err
	}
	report.Finalized = true
	return report, nil
}

func (t *Transmitter) deliver(ctx context.Context, index int, chunk []byte) (ChunkResult, error) {
	start := time.Now()
	tried := make([]string, 0, len(t.strategies))
	var last error

	for _, s := range t.strategies {
		if ctx.Err() != nil {
			break
		}
		tried = append(tried, s.Name())
		err := s.Deliver(ctx, chunk)
		if err == nil {
			return ChunkResult{Index: index, Strategy: s.Name(), Succeeded: true, Elapsed: time.Since(start)}, nil
		}
		last = err
		t.logger.Warn().
			Err(err).
			Int("chunk", index).
			Str("strategy", s.Name()).
			Msg("chunk strategy failed, trying next")
	}

	if ctx.Err() != nil && last == nil {
		last = ctx.Err()
	}
	result := ChunkResult{Index: index, Elapsed: time.Since(start)}
	return result, fault.Wrap(fault.KindTransmission, last, "error sending chunk", map[string]any{
		"chunkIndex":          index,
		"strategiesExhausted": tried,
	})
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
