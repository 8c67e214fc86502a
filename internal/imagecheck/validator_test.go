package imagecheck

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/plateful/reviewcrawler/internal/capture"
)

func encodePNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestValidate(t *testing.T) {
	v := New(Config{
		MinBytes:       64,
		MinWidth:       200,
		MinHeight:      200,
		AllowedFormats: []string{"jpeg", "png", "webp"},
	})

	t.Run("accepts a large png", func(t *testing.T) {
		verdict := v.Validate(encodePNG(t, 800, 600), "image/png")
		require.True(t, verdict.OK)
		require.Equal(t, "png", verdict.Format)
		require.Equal(t, 800, verdict.Width)
		require.Equal(t, 600, verdict.Height)
		require.Greater(t, verdict.Bytes, 0)
	})

	t.Run("accepts a jpeg", func(t *testing.T) {
		verdict := v.Validate(encodeJPEG(t, 400, 300), "image/jpeg")
		require.True(t, verdict.OK)
		require.Equal(t, "jpeg", verdict.Format)
	})

	t.Run("rejects tiny payloads before decoding", func(t *testing.T) {
		verdict := v.Validate([]byte{0xFF, 0xD8, 0xFF}, "image/jpeg")
		require.False(t, verdict.OK)
		require.Equal(t, capture.ReasonTooFewBytes, verdict.Reason)
	})

	t.Run("rejects unrecognized magic bytes", func(t *testing.T) {
		data := bytes.Repeat([]byte("<html>not an image</html>"), 10)
		verdict := v.Validate(data, "image/png")
		require.False(t, verdict.OK)
		require.Equal(t, capture.ReasonUnrecognized, verdict.Reason)
	})

	t.Run("rejects truncated images", func(t *testing.T) {
		full := encodeJPEG(t, 400, 300)
		truncated := full[:len(full)/2]
		verdict := v.Validate(truncated, "image/jpeg")
		require.False(t, verdict.OK)
		require.Equal(t, capture.ReasonUndecodable, verdict.Reason)
	})

	t.Run("rejects undersized dimensions", func(t *testing.T) {
		verdict := v.Validate(encodePNG(t, 199, 600), "image/png")
		require.False(t, verdict.OK)
		require.Equal(t, capture.ReasonTooSmall, verdict.Reason)
		require.Equal(t, 199, verdict.Width)
	})

	t.Run("rejects tracking pixels", func(t *testing.T) {
		tiny := New(Config{MinBytes: 1, MinWidth: 200, MinHeight: 200})
		verdict := tiny.Validate(encodePNG(t, 1, 1), "image/png")
		require.False(t, verdict.OK)
		require.Equal(t, capture.ReasonTooSmall, verdict.Reason)
	})

	t.Run("rejects formats outside the allow-list", func(t *testing.T) {
		strict := New(Config{
			MinBytes:       64,
			MinWidth:       1,
			MinHeight:      1,
			AllowedFormats: []string{"jpeg"},
		})
		verdict := strict.Validate(encodePNG(t, 300, 300), "image/png")
		require.False(t, verdict.OK)
		require.Equal(t, capture.ReasonFormatNotAllowed, verdict.Reason)
	})

	t.Run("declared mime never grants acceptance", func(t *testing.T) {
		data := bytes.Repeat([]byte{0x00}, 2048)
		verdict := v.Validate(data, "image/jpeg")
		require.False(t, verdict.OK)
		require.Equal(t, capture.ReasonUnrecognized, verdict.Reason)
	})

	t.Run("aspect ratio bound", func(t *testing.T) {
		banner := New(Config{
			MinBytes:       64,
			MinWidth:       1,
			MinHeight:      1,
			MaxAspectRatio: 3.0,
		})
		verdict := banner.Validate(encodePNG(t, 1200, 100), "image/png")
		require.False(t, verdict.OK)
		require.Equal(t, capture.ReasonBadAspect, verdict.Reason)

		verdict = banner.Validate(encodePNG(t, 300, 200), "image/png")
		require.True(t, verdict.OK)
	})

	t.Run("same bytes same verdict", func(t *testing.T) {
		data := encodePNG(t, 256, 256)
		first := v.Validate(data, "image/png")
		second := v.Validate(data, "")
		require.Equal(t, first, second)
	})
}
