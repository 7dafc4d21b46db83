package job

import (
	"fmt"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
	"github.com/makiuchi-d/gozxing/qrcode/decoder"
)

// Renderer draws QR payloads into bitmaps
type Renderer interface {
	RenderQR(payload string, size int) (*Bitmap, error)
}

// ZXingRenderer renders QR codes with gozxing
type ZXingRenderer struct{}

// RenderQR encodes payload at size x size pixels with error correction level M
func (ZXingRenderer) RenderQR(payload string, size int) (*Bitmap, error) {
	hints := map[gozxing.EncodeHintType]interface{}{
		gozxing.EncodeHintType_ERROR_CORRECTION: decoder.ErrorCorrectionLevel_M,
	}

	matrix, err := qrcode.NewQRCodeWriter().Encode(payload, gozxing.BarcodeFormat_QR_CODE, size, size, hints)
	if err != nil {
		return nil, fmt.Errorf("qr encode failed: %w", err)
	}

	w, h := matrix.GetWidth(), matrix.GetHeight()
	bmp := &Bitmap{Width: w, Height: h, Pixels: make([]byte, w*h)}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if matrix.Get(x, y) {
				bmp.Pixels[y*w+x] = 1
			}
		}
	}
	return bmp, nil
}
