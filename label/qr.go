package label

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"

	qrcode "github.com/skip2/go-qrcode"
)

// encodeQR renders content as a QR code centred on a white canvas of
// width x height, encoded in the placeholder's image format. The code,
// quiet zone included, must fit the shorter side.
func encodeQR(content string, width, height int, format string) ([]byte, error) {
	if content == "" {
		return nil, fmt.Errorf("label: empty QR content")
	}
	q, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("label: qr code: %w", err)
	}

	// Image grows past the requested size when there is less than one
	// pixel per module, which would crop the code on the canvas.
	side := min(width, height)
	if modules := len(q.Bitmap()); side < modules {
		return nil, fmt.Errorf("%w: %dx%d, need at least %dx%d", ErrQRTooSmall, width, height, modules, modules)
	}
	code := q.Image(side)

	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	offset := image.Pt((width-code.Bounds().Dx())/2, (height-code.Bounds().Dy())/2)
	draw.Draw(canvas, code.Bounds().Add(offset), code, code.Bounds().Min, draw.Src)

	var buf bytes.Buffer
	switch format {
	case "png":
		err = png.Encode(&buf, canvas)
	case "jpeg":
		err = jpeg.Encode(&buf, canvas, &jpeg.Options{Quality: 95})
	default:
		return nil, fmt.Errorf("label: unsupported placeholder format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("label: encode qr code: %w", err)
	}
	return buf.Bytes(), nil
}
