package job

// Alignment of a text run
type Alignment string

const (
	AlignLeft   Alignment = "left"
	AlignCenter Alignment = "center"
	AlignRight  Alignment = "right"
)

// ParseAlignment maps center and right, everything else is left
func ParseAlignment(s string) Alignment {
	switch Alignment(s) {
	case AlignCenter:
		return AlignCenter
	case AlignRight:
		return AlignRight
	default:
		return AlignLeft
	}
}

// ItemKind tells which field of a CommandItem is populated
type ItemKind int

const (
	KindText ItemKind = iota
	KindBitmap
	KindRaw
)

func (k ItemKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindBitmap:
		return "bitmap"
	case KindRaw:
		return "raw"
	default:
		return "unknown"
	}
}

// Bitmap is a monochrome image, one byte per pixel in row-major order.
// A non-zero byte is a printed (black) dot.
type Bitmap struct {
	Width  int
	Height int
	Pixels []byte
}

// At reports whether the dot at x, y is printed
func (b *Bitmap) At(x, y int) bool {
	if x < 0 || y < 0 || x >= b.Width || y >= b.Height {
		return false
	}
	return b.Pixels[y*b.Width+x] != 0
}

// CommandItem is the smallest unit of printable content the driver accepts
type CommandItem struct {
	Kind ItemKind

	// Text runs
	Text      string
	Size      int
	Bold      bool
	Alignment Alignment
	// Verbatim text carries device bytes as Latin-1 runes and must not be styled
	Verbatim bool

	Bitmap *Bitmap

	Raw []byte
}

// TextItem builds a styled text run
func TextItem(text string, size int, bold bool, align Alignment) CommandItem {
	return CommandItem{Kind: KindText, Text: text, Size: size, Bold: bold, Alignment: align}
}

// BitmapItem wraps a bitmap
func BitmapItem(bmp *Bitmap) CommandItem {
	return CommandItem{Kind: KindBitmap, Bitmap: bmp}
}

// RawItem wraps an opaque byte chunk
func RawItem(data []byte) CommandItem {
	return CommandItem{Kind: KindRaw, Raw: data}
}
