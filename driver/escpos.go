package driver

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"

	"github.com/nixxel-company-limited/escpos-print-pipeline/adapter"
	"github.com/nixxel-company-limited/escpos-print-pipeline/job"
)

// ESC/POS command bytes
const (
	esc = 0x1B
	gs  = 0x1D
	dle = 0x10
	eot = 0x04
	lf  = 0x0A
)

// Escpos drives a stream printer reachable through an adapter
type Escpos struct {
	adapter   adapter.Adapter
	logger    zerolog.Logger
	feedLines byte
	cut       bool

	mu   sync.Mutex
	conn Connection
	gen  int
}

// EscposOption configures the ESC/POS driver
type EscposOption func(*Escpos)

// WithFinalFeed sets how many lines Start feeds past the print head
func WithFinalFeed(lines int) EscposOption {
	return func(d *Escpos) {
		if lines >= 0 && lines <= 255 {
			d.feedLines = byte(lines)
		}
	}
}

// WithCut enables a partial cut when the print session closes
func WithCut(cut bool) EscposOption {
	return func(d *Escpos) { d.cut = cut }
}

// NewEscpos creates a driver over a. Device detach events unbind the current handle.
func NewEscpos(a adapter.Adapter, logger zerolog.Logger, opts ...EscposOption) *Escpos {
	d := &Escpos{adapter: a, logger: logger, feedLines: 3, cut: true}
	for _, opt := range opts {
		opt(d)
	}

	if n, ok := a.(adapter.Notifier); ok {
		n.On(adapter.EventDetach, func(e adapter.Event) {
			d.logger.Warn().Err(e.Error).Msg("printer detached")
			d.detach()
		})
	}
	return d
}

// Bind opens the adapter and reports the handle on c. An adapter that cannot be
// opened fails the bind.
func (d *Escpos) Bind(c Connection) error {
	if d.adapter == nil {
		return errors.New("no printer adapter configured")
	}

	if !d.adapter.IsOpen() {
		if err := d.adapter.Open(); err != nil {
			d.logger.Error().Err(err).Msg("failed to open printer adapter")
			return fmt.Errorf("failed to open printer adapter: %w", err)
		}
	}

	d.mu.Lock()
	d.conn = c
	d.gen++
	gen := d.gen
	d.mu.Unlock()

	go func() {
		d.mu.Lock()
		current := d.gen == gen && d.conn == c
		d.mu.Unlock()
		if !current {
			return
		}

		d.logger.Debug().Msg("printer adapter bound")
		c.OnConnected(&escposPrinter{driver: d})
	}()
	return nil
}

// Unbind closes the adapter
func (d *Escpos) Unbind() error {
	d.mu.Lock()
	d.conn = nil
	d.gen++
	d.mu.Unlock()

	if d.adapter == nil {
		return nil
	}
	if err := d.adapter.Close(); err != nil {
		return fmt.Errorf("failed to close adapter: %w", err)
	}
	return nil
}

func (d *Escpos) detach() {
	d.mu.Lock()
	c := d.conn
	d.conn = nil
	d.gen++
	d.mu.Unlock()

	if c != nil {
		c.OnDisconnected()
	}
}

// write sends data in full or fails
func (d *Escpos) write(data []byte) error {
	n, err := d.adapter.Write(data)
	if err != nil {
		return err
	}
	if n != len(data) {
		return fmt.Errorf("short write: %d of %d bytes", n, len(data))
	}
	return nil
}

type escposPrinter struct {
	driver *Escpos
}

func (p *escposPrinter) Capabilities() Capabilities {
	return Capabilities{DirectWrite: true}
}

func (p *escposPrinter) PrintItems(items []job.CommandItem, l Listener) error {
	data, err := Render(items)
	if err != nil {
		return err
	}

	go func() {
		if err := p.driver.write(data); err != nil {
			p.driver.logger.Error().Err(err).Int("bytes", len(data)).Msg("print write failed")
			l.OnError(ErrCodeWrite)
			return
		}
		l.OnFinish()
	}()
	return nil
}

func (p *escposPrinter) Start() error {
	if p.driver.feedLines == 0 {
		return nil
	}
	return p.driver.write([]byte{esc, 'd', p.driver.feedLines})
}

func (p *escposPrinter) Close() error {
	if !p.driver.cut {
		return nil
	}
	return p.driver.write([]byte{gs, 'V', 1})
}

func (p *escposPrinter) WriteDirect(data []byte) (Ack, error) {
	if err := p.driver.write(data); err != nil {
		return AckFalse, err
	}
	return AckTrue, nil
}

// State queries the real-time status registers with DLE EOT
func (p *escposPrinter) State() (int, error) {
	query := func(n byte) (byte, error) {
		if err := p.driver.write([]byte{dle, eot, n}); err != nil {
			return 0, err
		}
		buf := make([]byte, 1)
		if _, err := p.driver.adapter.Read(buf); err != nil {
			return 0, err
		}
		return buf[0], nil
	}

	paper, err := query(4)
	if err != nil {
		return StateFault, fmt.Errorf("paper status: %w", err)
	}
	if paper&0x60 != 0 {
		return StateOutOfPaper, nil
	}

	fault, err := query(3)
	if err != nil {
		return StateFault, fmt.Errorf("error status: %w", err)
	}
	switch {
	case fault&0x40 != 0:
		// auto-recoverable errors are reported for head temperature
		return StateOverheated, nil
	case fault&0x28 != 0:
		return StateFault, nil
	}

	printer, err := query(1)
	if err != nil {
		return StateFault, fmt.Errorf("printer status: %w", err)
	}
	if printer&0x08 != 0 {
		return StateBusy, nil
	}
	return StateReady, nil
}

// Render converts items into an ESC/POS byte stream
func Render(items []job.CommandItem) ([]byte, error) {
	var buf bytes.Buffer
	text := encoding.ReplaceUnsupported(charmap.ISO8859_1.NewEncoder())
	verbatim := charmap.ISO8859_1.NewEncoder()

	for i, it := range items {
		switch it.Kind {
		case job.KindText:
			if it.Verbatim {
				b, err := verbatim.Bytes([]byte(it.Text))
				if err != nil {
					return nil, fmt.Errorf("item %d: %w", i, err)
				}
				buf.Write(b)
				continue
			}

			buf.Write([]byte{esc, 'a', alignCode(it.Alignment)})
			buf.Write([]byte{esc, 'E', boolByte(it.Bold)})
			buf.Write([]byte{gs, '!', sizeCode(it.Size)})
			b, err := text.Bytes([]byte(it.Text))
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}
			buf.Write(b)
			buf.WriteByte(lf)

		case job.KindBitmap:
			if it.Bitmap == nil {
				return nil, fmt.Errorf("item %d: missing bitmap", i)
			}
			buf.Write([]byte{esc, 'a', 1})
			writeRaster(&buf, it.Bitmap)
			buf.Write([]byte{esc, 'a', 0})

		case job.KindRaw:
			buf.Write(it.Raw)

		default:
			return nil, fmt.Errorf("item %d: unknown kind %v", i, it.Kind)
		}
	}
	return buf.Bytes(), nil
}

// writeRaster emits GS v 0, one bit per dot, MSB first
func writeRaster(buf *bytes.Buffer, bmp *job.Bitmap) {
	rowBytes := (bmp.Width + 7) / 8
	buf.Write([]byte{gs, 'v', '0', 0,
		byte(rowBytes), byte(rowBytes >> 8),
		byte(bmp.Height), byte(bmp.Height >> 8)})

	row := make([]byte, rowBytes)
	for y := 0; y < bmp.Height; y++ {
		for i := range row {
			row[i] = 0
		}
		for x := 0; x < bmp.Width; x++ {
			if bmp.At(x, y) {
				row[x/8] |= 0x80 >> (x % 8)
			}
		}
		buf.Write(row)
	}
}

func alignCode(a job.Alignment) byte {
	switch a {
	case job.AlignCenter:
		return 1
	case job.AlignRight:
		return 2
	default:
		return 0
	}
}

// sizeCode maps a point size onto GS ! character magnification, 24 being 1x
func sizeCode(size int) byte {
	mul := (size + 12) / 24
	if mul < 1 {
		mul = 1
	}
	if mul > 8 {
		mul = 8
	}
	m := byte(mul - 1)
	return m<<4 | m
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
