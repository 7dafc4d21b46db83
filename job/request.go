package job

import "time"

// Request is a logical print request. The set of implementations is closed.
type Request interface {
	// Name identifies the request type in logs and responses
	Name() string
	isRequest()
}

// Text prints a single styled line.
// Zero values mean unspecified: alignment defaults to left and size to 24.
type Text struct {
	Content   string
	Alignment Alignment
	Style     string // "bold" enables bold, anything else is plain
	FontSize  int
}

// QRCode prints Payload as a square QR code of Size pixels (default 200).
type QRCode struct {
	Payload string
	Size    int
}

// Barcode prints Payload as centered text.
//
// This is a degraded-fidelity fallback: no barcode symbol is rendered, and
// Symbology and Height are accepted but ignored until a native renderer exists.
type Barcode struct {
	Payload   string
	Symbology string
	Height    int
}

// Receipt prints its items in order. Unknown item types are skipped.
type Receipt struct {
	Items []ReceiptItem
}

// Receipt item types
const (
	ReceiptText     = "text"
	ReceiptFeedLine = "feedLine"
)

// ReceiptItem is one line of a receipt
type ReceiptItem struct {
	Type      string
	Text      string
	Alignment Alignment
	Style     string
	FontSize  int
	Lines     int // feedLine only, default 1
}

// RawBytes sends an opaque command stream, chunked on the way out.
// ChunkSize defaults to 50 bytes. InterChunkDelay is used as given, zero sends
// chunks back to back; callers wanting the usual pacing pass DefaultInterChunkDelay.
type RawBytes struct {
	Data            []byte
	ChunkSize       int
	InterChunkDelay time.Duration
}

// FeedPaper advances the paper by Lines blank lines.
type FeedPaper struct {
	Lines int
}

func (Text) Name() string      { return "text" }
func (QRCode) Name() string    { return "qrcode" }
func (Barcode) Name() string   { return "barcode" }
func (Receipt) Name() string   { return "receipt" }
func (RawBytes) Name() string  { return "raw" }
func (FeedPaper) Name() string { return "feed" }

func (Text) isRequest()      {}
func (QRCode) isRequest()    {}
func (Barcode) isRequest()   {}
func (Receipt) isRequest()   {}
func (RawBytes) isRequest()  {}
func (FeedPaper) isRequest() {}
