// Package label renders printable QR labels for repaired units.
package label

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"

	"github.com/skip2/go-qrcode"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// Layout constants in pixels.
const (
	QRSize   = 256
	Padding  = 16
	TextArea = 80
	FontSize = 16
)

// ContentType of rendered labels.
const ContentType = "image/png"

var (
	faceOnce sync.Once
	face     font.Face
	faceErr  error
)

// loadFace parses the embedded Go Regular font once. It covers Latin and
// Cyrillic, which unit names use.
func loadFace() (font.Face, error) {
	faceOnce.Do(func() {
		f, err := opentype.Parse(goregular.TTF)
		if err != nil {
			faceErr = fmt.Errorf("label: parse font: %w", err)
			return
		}
		face, faceErr = opentype.NewFace(f, &opentype.FaceOptions{
			Size:    FontSize,
			DPI:     72,
			Hinting: font.HintingFull,
		})
		if faceErr != nil {
			faceErr = fmt.Errorf("label: font face: %w", faceErr)
		}
	})
	return face, faceErr
}

// RenderQRLabel returns a PNG with a QR code encoding payload and two text
// lines underneath it: the payload itself and the caption.
func RenderQRLabel(payload, caption string) ([]byte, error) {
	if payload == "" {
		return nil, fmt.Errorf("label: empty payload")
	}
	qr, err := qrcode.New(payload, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("label: encode qr: %w", err)
	}
	qrImg := qr.Image(QRSize)

	ff, err := loadFace()
	if err != nil {
		return nil, err
	}

	w := qrImg.Bounds().Dx() + 2*Padding
	for _, s := range []string{payload, caption} {
		if tw := font.MeasureString(ff, s).Ceil() + 2*Padding; tw > w {
			w = tw
		}
	}
	h := qrImg.Bounds().Dy() + 2*Padding + TextArea

	canvas := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, draw.Src)
	qrX := (w - qrImg.Bounds().Dx()) / 2
	draw.Draw(canvas, image.Rect(qrX, Padding, qrX+qrImg.Bounds().Dx(), Padding+qrImg.Bounds().Dy()),
		qrImg, qrImg.Bounds().Min, draw.Src)

	textY := Padding + qrImg.Bounds().Dy() + TextArea/2
	ascent := ff.Metrics().Ascent.Ceil()
	drawCentered(canvas, ff, payload, textY-4)
	drawCentered(canvas, ff, caption, textY+4+ascent)

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, fmt.Errorf("label: encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// drawCentered draws s horizontally centered with its baseline at y.
func drawCentered(dst draw.Image, ff font.Face, s string, y int) {
	if s == "" {
		return
	}
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.Black),
		Face: ff,
	}
	x := (dst.Bounds().Dx() - d.MeasureString(s).Ceil()) / 2
	d.Dot = fixed.P(x, y)
	d.DrawString(s)
}
