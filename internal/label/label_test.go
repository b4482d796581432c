package label

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderQRLabel_PNGWithCaptionArea(t *testing.T) {
	data, err := RenderQRLabel("12-345;БУД;07-05-2026 14:03", "БУД — 12-345")
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	b := img.Bounds()
	assert.GreaterOrEqual(t, b.Dx(), QRSize+2*Padding)
	assert.Equal(t, QRSize+2*Padding+TextArea, b.Dy())

	// Top-left corner is white padding.
	assert.Equal(t, color.RGBAModel.Convert(color.White), color.RGBAModel.Convert(img.At(0, 0)))

	// Some ink must land in the caption area below the QR code.
	assert.True(t, hasDarkPixel(img, image.Rect(0, Padding+QRSize+Padding, b.Dx(), b.Dy())),
		"caption area should contain text")
}

func TestRenderQRLabel_WidensForLongText(t *testing.T) {
	long := "очень длинное название блока для проверки ширины этикетки — 123456789"
	data, err := RenderQRLabel("x", long)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Greater(t, img.Bounds().Dx(), QRSize+2*Padding)
}

func TestRenderQRLabel_EmptyPayload(t *testing.T) {
	_, err := RenderQRLabel("", "caption")
	assert.Error(t, err)
}

func hasDarkPixel(img image.Image, r image.Rectangle) bool {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			c := color.GrayModel.Convert(img.At(x, y)).(color.Gray)
			if c.Y < 128 {
				return true
			}
		}
	}
	return false
}
