package annotate

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var red = color.RGBA{R: 0xFF, A: 0xFF}

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
	return img
}

func pngBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newTestRenderer(t *testing.T) *Renderer {
	t.Helper()
	r, err := NewRenderer()
	require.NoError(t, err)
	return r
}

func sampleRequests() []Request {
	return []Request{
		{X: f64(25), Y: f64(30), Radius: f64(10), Text: str("hydraulic line")},
		{X: f64(70), Y: f64(40), Text: str("bracket")},
		{Y: f64(70), Text: str("dropped")},
	}
}

func TestDecode_Errors(t *testing.T) {
	_, err := Decode(nil)
	assert.ErrorIs(t, err, ErrImageDecode)

	_, err = Decode([]byte("definitely not an image"))
	assert.ErrorIs(t, err, ErrImageDecode)
	assert.ErrorIs(t, err, ErrInvalidImage)
}

// declaredPNG is a 1x1 PNG whose header claims w x h.
func declaredPNG(t *testing.T, w, h uint32) []byte {
	t.Helper()
	b := pngBytes(t, image.NewGray(image.Rect(0, 0, 1, 1)))
	// signature(8) length(4) "IHDR"(4) width(4) height(4) ... crc at 29
	binary.BigEndian.PutUint32(b[16:], w)
	binary.BigEndian.PutUint32(b[20:], h)
	binary.BigEndian.PutUint32(b[29:], crc32.ChecksumIEEE(b[12:29]))
	return b
}

func TestDecode_PixelCap(t *testing.T) {
	_, err := Decode(declaredPNG(t, 12000, 12000))
	assert.ErrorIs(t, err, ErrTooManyPixels)
	assert.ErrorIs(t, err, ErrInvalidImage)

	_, err = Decode(declaredPNG(t, 1_000_000, 51))
	assert.ErrorIs(t, err, ErrTooManyPixels)

	r := newTestRenderer(t)
	_, err = r.Render(declaredPNG(t, 12000, 12000), sampleRequests())
	assert.ErrorIs(t, err, ErrTooManyPixels)

	img, err := Decode(declaredPNG(t, 1, 1))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 1, 1), img.Bounds())
}

func TestRender_InvalidImage(t *testing.T) {
	r := newTestRenderer(t)
	_, err := r.Render([]byte{0x89, 'P', 'N', 'G'}, sampleRequests())
	assert.ErrorIs(t, err, ErrInvalidImage)
}

func TestRender_Deterministic(t *testing.T) {
	r := newTestRenderer(t)
	src := pngBytes(t, solid(640, 480, color.RGBA{R: 40, G: 90, B: 160, A: 255}))

	first, err := r.Render(src, sampleRequests())
	require.NoError(t, err)
	second, err := r.Render(src, sampleRequests())
	require.NoError(t, err)

	assert.Equal(t, OutputMIME, first.MIME)
	assert.Equal(t, first.Image, second.Image)
	assert.Equal(t, 640, first.Width)
	assert.Equal(t, 480, first.Height)
}

func TestRender_Concurrent(t *testing.T) {
	r := newTestRenderer(t)
	src := pngBytes(t, solid(320, 240, color.Gray{Y: 128}))
	want, err := r.Render(src, sampleRequests())
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([][]byte, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := r.Render(src, sampleRequests())
			if err == nil {
				results[i] = out.Image
			}
		}(i)
	}
	wg.Wait()
	for _, got := range results {
		assert.Equal(t, want.Image, got)
	}
}

func TestRender_EmptySetReencodesOriginal(t *testing.T) {
	r := newTestRenderer(t)
	img := solid(300, 200, color.RGBA{R: 10, G: 200, B: 30, A: 255})

	out, err := r.Render(pngBytes(t, img), nil)
	require.NoError(t, err)
	assert.Empty(t, out.Annotations)

	want, err := r.Encode(img)
	require.NoError(t, err)
	assert.Equal(t, want, out.Image)
}

func TestRender_OrdinalsAndRejections(t *testing.T) {
	r := newTestRenderer(t)
	out, err := r.Render(pngBytes(t, solid(400, 400, color.White)), sampleRequests())
	require.NoError(t, err)

	require.Len(t, out.Annotations, 2)
	assert.Equal(t, 1, out.Annotations[0].Ordinal)
	assert.Equal(t, "hydraulic line", out.Annotations[0].Text)
	assert.Equal(t, 2, out.Annotations[1].Ordinal)
	assert.Equal(t, []Rejection{{Index: 2, Reason: "missing x"}}, out.Rejected)

	decoded, err := Decode(out.Image)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 400, 400), decoded.Bounds())
}

func TestDraw_LeavesSourceUntouched(t *testing.T) {
	r := newTestRenderer(t)
	src := solid(400, 300, color.RGBA{R: 200, G: 200, B: 200, A: 255})
	before := append([]uint8(nil), src.Pix...)

	anns, _ := Validate(sampleRequests())
	out, err := r.Draw(src, anns)
	require.NoError(t, err)

	assert.Equal(t, before, src.Pix)
	assert.NotSame(t, src, out)
	assert.NotEqual(t, src.Pix, out.Pix)
}

func TestDraw_RingAndLegend(t *testing.T) {
	r := newTestRenderer(t)
	src := solid(400, 400, color.White)

	anns, _ := Validate([]Request{{X: f64(50), Y: f64(50), Text: str("panel")}})
	out, err := r.Draw(src, anns)
	require.NoError(t, err)

	// radius 40 around (200,200), stroke 6 inward
	assert.Equal(t, red, out.RGBAAt(237, 200))
	assert.Equal(t, red, out.RGBAAt(200, 163))
	assert.Equal(t, color.RGBA{R: 255, G: 255, B: 255, A: 255}, out.RGBAAt(200+45, 200))
	assert.Equal(t, color.RGBA{R: 255, G: 255, B: 255, A: 255}, out.RGBAAt(50, 50))

	// legend panel border at (10,300)
	assert.Equal(t, red, out.RGBAAt(11, 301))
	assert.Equal(t, red, out.RGBAAt(388, 388))
}

func TestDraw_EmptyTextSkipsLegend(t *testing.T) {
	r := newTestRenderer(t)
	src := solid(400, 400, color.White)

	anns, _ := Validate([]Request{{X: f64(50), Y: f64(50), Text: str("")}})
	out, err := r.Draw(src, anns)
	require.NoError(t, err)

	assert.Equal(t, red, out.RGBAAt(237, 200))
	assert.Equal(t, color.RGBA{R: 255, G: 255, B: 255, A: 255}, out.RGBAAt(11, 301))
}

func TestDraw_FlattensTransparency(t *testing.T) {
	r := newTestRenderer(t)
	src := image.NewNRGBA(image.Rect(0, 0, 200, 200))

	out, err := r.Draw(src, nil)
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 255, G: 255, B: 255, A: 255}, out.RGBAAt(100, 100))
}

func TestDraw_ManyAnnotationsOnSmallImage(t *testing.T) {
	r := newTestRenderer(t)
	reqs := make([]Request, 60)
	for i := range reqs {
		reqs[i] = Request{X: f64(float64(i)), Y: f64(50), Text: str("item")}
	}
	out, err := r.Render(pngBytes(t, solid(120, 80, color.Black)), reqs)
	require.NoError(t, err)
	assert.Len(t, out.Annotations, 60)
	assert.Equal(t, 60, out.Annotations[59].Ordinal)
}

func TestWithQuality(t *testing.T) {
	r, err := NewRenderer(WithQuality(0), WithFont(nil))
	require.NoError(t, err)
	assert.Equal(t, DefaultQuality, r.quality)

	r, err = NewRenderer(WithQuality(70))
	require.NoError(t, err)
	assert.Equal(t, 70, r.quality)
}

func TestLoadFont_FallsBack(t *testing.T) {
	def, err := DefaultFont()
	require.NoError(t, err)

	f, err := LoadFont("/nonexistent/font.ttf")
	require.NoError(t, err)
	assert.Same(t, def, f)

	f, err = LoadFont("")
	require.NoError(t, err)
	assert.Same(t, def, f)
}
