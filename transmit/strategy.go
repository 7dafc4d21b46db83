package transmit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/text/encoding/charmap"

	"github.com/nixxel-company-limited/escpos-print-pipeline/driver"
	"github.com/nixxel-company-limited/escpos-print-pipeline/job"
)

// Link is the part of *link.Link a transmitter needs
type Link interface {
	Capabilities() driver.Capabilities
	Send(ctx context.Context, items []job.CommandItem, timeout time.Duration) error
	SendRaw(ctx context.Context, data []byte, timeout time.Duration) error
	WriteDirect(data []byte) (driver.Ack, error)
	Finalize() error
}

// Strategy delivers one chunk to the printer
type Strategy interface {
	Name() string
	Available(caps driver.Capabilities) bool
	Deliver(ctx context.Context, chunk []byte) error
}

// textStrategy sends the chunk as Latin-1 text, which maps every byte to one rune and back
type textStrategy struct {
	link    Link
	timeout time.Duration
}

func (s textStrategy) Name() string { return "text" }

func (s textStrategy) Available(driver.Capabilities) bool { return true }

func (s textStrategy) Deliver(ctx context.Context, chunk []byte) error {
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(chunk)
	if err != nil {
		return fmt.Errorf("decode chunk: %w", err)
	}
	item := job.TextItem(string(decoded), job.DefaultFontSize, false, job.AlignLeft)
	item.Verbatim = true
	return s.link.Send(ctx, []job.CommandItem{item}, s.timeout)
}

// rawStrategy uses the driver's native raw item
type rawStrategy struct {
	link    Link
	timeout time.Duration
}

func (s rawStrategy) Name() string { return "raw" }

func (s rawStrategy) Available(caps driver.Capabilities) bool { return caps.RawBytes }

func (s rawStrategy) Deliver(ctx context.Context, chunk []byte) error {
	return s.link.SendRaw(ctx, chunk, s.timeout)
}

// directStrategy writes straight to the device. No acknowledgement counts as success.
type directStrategy struct {
	link Link
}

func (s directStrategy) Name() string { return "direct" }

func (s directStrategy) Available(caps driver.Capabilities) bool { return caps.DirectWrite }

func (s directStrategy) Deliver(_ context.Context, chunk []byte) error {
	ack, err := s.link.WriteDirect(chunk)
	if err != nil {
		return err
	}
	if ack == driver.AckFalse {
		return errDirectRefused
	}
	return nil
}
