package job

import (
	"fmt"
	"strings"
	"time"

	"github.com/nixxel-company-limited/escpos-print-pipeline/fault"
)

// Defaults applied to unspecified request fields
const (
	DefaultFontSize        = 24
	DefaultQRSize          = 200
	DefaultChunkSize       = 50
	DefaultInterChunkDelay = 50 * time.Millisecond
	DefaultFeedLines       = 1
)

// Encoder converts requests into command items. It performs no I/O.
type Encoder struct {
	renderer Renderer
}

// NewEncoder creates an encoder that renders QR codes with r.
// A nil renderer selects the gozxing renderer.
func NewEncoder(r Renderer) *Encoder {
	if r == nil {
		r = ZXingRenderer{}
	}
	return &Encoder{renderer: r}
}

// Encode turns req into an ordered command sequence
func (e *Encoder) Encode(req Request) ([]CommandItem, error) {
	switch r := req.(type) {
	case Text:
		return []CommandItem{encodeText(r.Content, r.Alignment, r.Style, r.FontSize)}, nil

	case QRCode:
		if r.Payload == "" {
			return nil, fault.New(fault.KindEncoding, "QR code data cannot be empty", nil)
		}
		size := r.Size
		if size == 0 {
			size = DefaultQRSize
		}
		if size < 0 {
			return nil, fault.New(fault.KindEncoding, "QR code size must be positive", map[string]any{"size": size})
		}
		bmp, err := e.renderer.RenderQR(r.Payload, size)
		if err != nil {
			return nil, fault.Wrap(fault.KindEncoding, err, "failed to render QR code", map[string]any{"size": size})
		}
		return []CommandItem{BitmapItem(bmp)}, nil

	case Barcode:
		if r.Payload == "" {
			return nil, fault.New(fault.KindEncoding, "barcode data cannot be empty", nil)
		}
		return []CommandItem{TextItem(r.Payload, DefaultFontSize, false, AlignCenter)}, nil

	case Receipt:
		items := make([]CommandItem, 0, len(r.Items))
		for _, it := range r.Items {
			switch it.Type {
			case ReceiptText:
				items = append(items, encodeText(it.Text, it.Alignment, it.Style, it.FontSize))
			case ReceiptFeedLine:
				lines := it.Lines
				if lines <= 0 {
					lines = DefaultFeedLines
				}
				items = append(items, feedItem(lines))
			}
		}
		return items, nil

	case RawBytes:
		if len(r.Data) == 0 {
			return nil, fault.New(fault.KindEncoding, "raw buffer is empty", nil)
		}
		if r.ChunkSize < 0 {
			return nil, fault.New(fault.KindEncoding, "chunk size must be positive", map[string]any{"chunkSize": r.ChunkSize})
		}
		if r.InterChunkDelay < 0 {
			return nil, fault.New(fault.KindEncoding, "inter-chunk delay cannot be negative", map[string]any{"delay": r.InterChunkDelay.String()})
		}
		return []CommandItem{RawItem(r.Data)}, nil

	case FeedPaper:
		if r.Lines <= 0 {
			return nil, fault.New(fault.KindEncoding, "lines must be positive", map[string]any{"lines": r.Lines})
		}
		return []CommandItem{feedItem(r.Lines)}, nil

	default:
		return nil, fault.New(fault.KindEncoding, fmt.Sprintf("unsupported request %T", req), nil)
	}
}

func encodeText(content string, align Alignment, style string, size int) CommandItem {
	if size <= 0 {
		size = DefaultFontSize
	}
	return TextItem(content, size, style == "bold", ParseAlignment(string(align)))
}

func feedItem(lines int) CommandItem {
	return TextItem(strings.Repeat("\n", lines), DefaultFontSize, false, AlignLeft)
}

// Options returns the chunking parameters of r. A zero chunk size takes the default,
// a zero delay means no pacing.
func (r RawBytes) Options() (chunkSize int, delay time.Duration) {
	chunkSize = r.ChunkSize
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}
	return chunkSize, r.InterChunkDelay
}
