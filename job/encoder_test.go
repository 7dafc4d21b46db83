package job

import (
	"errors"
	"testing"
	"time"

	"github.com/nixxel-company-limited/escpos-print-pipeline/fault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubRenderer returns a fixed bitmap so tests don't depend on QR internals
type stubRenderer struct {
	err  error
	size int
}

func (s *stubRenderer) RenderQR(payload string, size int) (*Bitmap, error) {
	s.size = size
	if s.err != nil {
		return nil, s.err
	}
	return &Bitmap{Width: size, Height: size, Pixels: make([]byte, size*size)}, nil
}

func TestEncodeText(t *testing.T) {
	enc := NewEncoder(&stubRenderer{})

	t.Run("Defaults", func(t *testing.T) {
		items, err := enc.Encode(Text{Content: "Hello"})
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, KindText, items[0].Kind)
		assert.Equal(t, AlignLeft, items[0].Alignment)
		assert.Equal(t, DefaultFontSize, items[0].Size)
		assert.False(t, items[0].Bold)
	})

	t.Run("Styled", func(t *testing.T) {
		items, err := enc.Encode(Text{Content: "Hello", Alignment: AlignCenter, Style: "bold", FontSize: 24})
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, "Hello", items[0].Text)
		assert.Equal(t, AlignCenter, items[0].Alignment)
		assert.True(t, items[0].Bold)
		assert.Equal(t, 24, items[0].Size)
	})

	t.Run("BoldIsCaseSensitive", func(t *testing.T) {
		for _, style := range []string{"Bold", "BOLD", " bold", "italic", ""} {
			items, err := enc.Encode(Text{Content: "x", Style: style})
			require.NoError(t, err)
			assert.False(t, items[0].Bold, "style %q", style)
		}
	})

	t.Run("UnknownAlignmentIsLeft", func(t *testing.T) {
		items, err := enc.Encode(Text{Content: "x", Alignment: "justify"})
		require.NoError(t, err)
		assert.Equal(t, AlignLeft, items[0].Alignment)
	})
}

func TestEncodeQRCode(t *testing.T) {
	r := &stubRenderer{}
	enc := NewEncoder(r)

	items, err := enc.Encode(QRCode{Payload: "https://example.com"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, KindBitmap, items[0].Kind)
	assert.Equal(t, DefaultQRSize, r.size)
	assert.Equal(t, DefaultQRSize, items[0].Bitmap.Width)

	_, err = enc.Encode(QRCode{Payload: "abc", Size: 120})
	require.NoError(t, err)
	assert.Equal(t, 120, r.size)

	_, err = enc.Encode(QRCode{})
	assert.Equal(t, fault.KindEncoding, fault.KindOf(err))

	r.err = errors.New("boom")
	_, err = enc.Encode(QRCode{Payload: "abc"})
	assert.Equal(t, fault.KindEncoding, fault.KindOf(err))
}

func TestEncodeBarcodeFallsBackToText(t *testing.T) {
	enc := NewEncoder(&stubRenderer{})

	items, err := enc.Encode(Barcode{Payload: "4006381333931", Symbology: "EAN13", Height: 80})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, KindText, items[0].Kind)
	assert.Equal(t, "4006381333931", items[0].Text)
	assert.Equal(t, AlignCenter, items[0].Alignment)
	assert.Equal(t, 24, items[0].Size)
	assert.False(t, items[0].Bold)
}

func TestEncodeReceipt(t *testing.T) {
	enc := NewEncoder(&stubRenderer{})

	items, err := enc.Encode(Receipt{Items: []ReceiptItem{
		{Type: ReceiptText, Text: "SHOP", Alignment: AlignCenter, Style: "bold", FontSize: 32},
		{Type: "qr", Text: "ignored"},
		{Type: ReceiptFeedLine},
		{Type: ""},
		{Type: ReceiptText, Text: "total 10.00"},
		{Type: ReceiptFeedLine, Lines: 3},
	}})
	require.NoError(t, err)
	require.Len(t, items, 4)

	assert.Equal(t, "SHOP", items[0].Text)
	assert.True(t, items[0].Bold)
	assert.Equal(t, 32, items[0].Size)
	assert.Equal(t, "\n", items[1].Text)
	assert.Equal(t, "total 10.00", items[2].Text)
	assert.Equal(t, AlignLeft, items[2].Alignment)
	assert.Equal(t, "\n\n\n", items[3].Text)
}

func TestEncodeRawBytes(t *testing.T) {
	enc := NewEncoder(&stubRenderer{})
	data := []byte{0x1B, 0x40, 0x00, 0xFF}

	items, err := enc.Encode(RawBytes{Data: data})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, KindRaw, items[0].Kind)
	assert.Equal(t, data, items[0].Raw)

	cases := []RawBytes{
		{},
		{Data: data, ChunkSize: -1},
		{Data: data, InterChunkDelay: -time.Millisecond},
	}
	for _, c := range cases {
		_, err := enc.Encode(c)
		assert.Equal(t, fault.KindEncoding, fault.KindOf(err))
	}
}

func TestRawBytesOptions(t *testing.T) {
	size, delay := RawBytes{}.Options()
	assert.Equal(t, 50, size)
	assert.Zero(t, delay)

	size, delay = RawBytes{ChunkSize: 10, InterChunkDelay: time.Second}.Options()
	assert.Equal(t, 10, size)
	assert.Equal(t, time.Second, delay)
}

func TestEncodeFeedPaper(t *testing.T) {
	enc := NewEncoder(&stubRenderer{})

	items, err := enc.Encode(FeedPaper{Lines: 2})
	require.NoError(t, err)
	assert.Equal(t, "\n\n", items[0].Text)

	_, err = enc.Encode(FeedPaper{})
	assert.Equal(t, fault.KindEncoding, fault.KindOf(err))
}

func TestZXingRenderer(t *testing.T) {
	bmp, err := ZXingRenderer{}.RenderQR("hello", 120)
	require.NoError(t, err)
	assert.Equal(t, 120, bmp.Width)
	assert.Equal(t, 120, bmp.Height)
	assert.Len(t, bmp.Pixels, 120*120)
	assert.Contains(t, bmp.Pixels, byte(1))
}
