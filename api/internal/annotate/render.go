package annotate

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"log"
	"math"
	"strconv"

	"golang.org/x/image/font"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
	_ "golang.org/x/image/webp"
)

const (
	// DefaultQuality is the JPEG quality of rendered output.
	DefaultQuality = 95
	// OutputMIME is the type of every rendered image.
	OutputMIME = "image/jpeg"
	// MaxPixels caps width*height before the raster is decoded.
	MaxPixels = 50_000_000

	legendTextIndent = 20
)

// ErrTooManyPixels rejects images whose header declares more than MaxPixels.
// errors.Is(err, ErrInvalidImage) holds for it.
var ErrTooManyPixels = fmt.Errorf("%w: too many pixels", ErrInvalidImage)

var (
	markerColor  = color.RGBA{R: 0xFF, A: 0xFF}
	glyphColor   = color.RGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF}
	outlineColor = color.RGBA{A: 0xFF}
	panelFill    = color.NRGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 235}
)

// Renderer draws validated annotations onto a copy of an image. It keeps no
// per-call state and is safe for concurrent use.
type Renderer struct {
	font    *opentype.Font
	quality int
}

type Option func(*Renderer)

func WithFont(f *opentype.Font) Option {
	return func(r *Renderer) {
		if f != nil {
			r.font = f
		}
	}
}

func WithQuality(q int) Option {
	return func(r *Renderer) {
		if q >= 1 && q <= 100 {
			r.quality = q
		}
	}
}

func NewRenderer(opts ...Option) (*Renderer, error) {
	r := &Renderer{quality: DefaultQuality}
	for _, o := range opts {
		o(r)
	}
	if r.font == nil {
		f, err := DefaultFont()
		if err != nil {
			return nil, fmt.Errorf("annotate: default font: %w", err)
		}
		r.font = f
	}
	return r, nil
}

// Output is the result of Render.
type Output struct {
	Image       []byte
	MIME        string
	Width       int
	Height      int
	Annotations []Annotation
	Rejected    []Rejection
}

// Decode reads JPEG, PNG, GIF or WebP bytes. The header is checked against
// MaxPixels before any pixel data is allocated.
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty buffer", ErrImageDecode)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageDecode, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidImage, cfg.Width, cfg.Height)
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return nil, fmt.Errorf("%w: %dx%d", ErrTooManyPixels, cfg.Width, cfg.Height)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageDecode, err)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidImage, b.Dx(), b.Dy())
	}
	return img, nil
}

// Render decodes data, validates reqs, draws and re-encodes as JPEG.
func (r *Renderer) Render(data []byte, reqs []Request) (Output, error) {
	img, err := Decode(data)
	if err != nil {
		return Output{}, err
	}
	anns, rejected := Validate(reqs)
	for _, rj := range rejected {
		log.Printf("annotate: dropped annotation #%d: %s", rj.Index, rj.Reason)
	}
	canvas, err := r.Draw(img, anns)
	if err != nil {
		return Output{}, err
	}
	out, err := r.Encode(canvas)
	if err != nil {
		return Output{}, err
	}
	return Output{
		Image:       out,
		MIME:        OutputMIME,
		Width:       canvas.Bounds().Dx(),
		Height:      canvas.Bounds().Dy(),
		Annotations: anns,
		Rejected:    rejected,
	}, nil
}

// Encode writes img as JPEG with the renderer's fixed quality.
func (r *Renderer) Encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: r.quality}); err != nil {
		return nil, fmt.Errorf("annotate: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// Draw returns a new opaque RGBA buffer with markers and legend. src is only
// read.
func (r *Renderer) Draw(src image.Image, anns []Annotation) (*image.RGBA, error) {
	if src == nil {
		return nil, fmt.Errorf("%w: nil image", ErrInvalidImage)
	}
	sb := src.Bounds()
	w, h := sb.Dx(), sb.Dy()
	st, err := NewStyle(w, h)
	if err != nil {
		return nil, err
	}
	dst := flatten(src)
	if len(anns) == 0 {
		return dst, nil
	}

	layout, err := Layout(w, h, anns)
	if err != nil {
		return nil, err
	}

	label, err := newFace(r.font, st.LabelSize)
	if err != nil {
		return nil, err
	}
	defer label.Close()

	for _, a := range layout {
		drawRing(dst, a.Center, a.Radius, st.StrokeWidth, markerColor)
		drawOrdinal(dst, label, strconv.Itoa(a.Ordinal), a.Center, st.OutlineShift)
	}

	panel, ok := LegendPanel(st, w, h, layout)
	if !ok {
		return dst, nil
	}
	legend, err := newFace(r.font, st.LegendSize)
	if err != nil {
		return nil, err
	}
	defer legend.Close()

	drawPanel(dst, panel, st.BorderWidth)
	ascent := legend.Metrics().Ascent.Ceil()
	x := panel.Min.X + legendTextIndent
	y := panel.Min.Y + st.Padding
	for _, a := range layout {
		if a.LegendText == "" {
			continue
		}
		d := font.Drawer{
			Dst:  dst,
			Src:  image.NewUniform(markerColor),
			Face: legend,
			Dot:  fixed.P(x, y+ascent),
		}
		d.DrawString(fmt.Sprintf("[%d] %s", a.Ordinal, a.LegendText))
		y += st.LineSpacing
	}
	return dst, nil
}

// flatten copies src onto opaque white; transparency does not survive JPEG.
func flatten(src image.Image) *image.RGBA {
	sb := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, sb.Dx(), sb.Dy()))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), src, sb.Min, draw.Over)
	return dst
}

// drawRing strokes a circle inward from radius r with an anti-aliased edge.
func drawRing(dst *image.RGBA, c image.Point, r, stroke int, col color.RGBA) {
	outer := float64(r)
	inner := math.Max(0, float64(r-stroke))
	area := image.Rect(c.X-r-1, c.Y-r-1, c.X+r+2, c.Y+r+2).Intersect(dst.Bounds())
	cx, cy := float64(c.X), float64(c.Y)
	for y := area.Min.Y; y < area.Max.Y; y++ {
		dy := float64(y) + 0.5 - cy
		for x := area.Min.X; x < area.Max.X; x++ {
			dx := float64(x) + 0.5 - cx
			d := math.Sqrt(dx*dx + dy*dy)
			cov := math.Min(unit(outer-d+0.5), unit(d-inner+0.5))
			if cov <= 0 {
				continue
			}
			blend(dst, x, y, col, cov)
		}
	}
}

// drawOrdinal stamps the number in black at eight offsets, then in white on
// top, so it reads on both dark and bright backgrounds.
func drawOrdinal(dst *image.RGBA, face font.Face, s string, c image.Point, shift int) {
	b, _ := font.BoundString(face, s)
	origin := fixed.Point26_6{
		X: fixed.I(c.X) - (b.Min.X+b.Max.X)/2,
		Y: fixed.I(c.Y) - (b.Min.Y+b.Max.Y)/2,
	}
	d := font.Drawer{Dst: dst, Src: image.NewUniform(outlineColor), Face: face}
	for _, dy := range []int{-shift, 0, shift} {
		for _, dx := range []int{-shift, 0, shift} {
			if dx == 0 && dy == 0 {
				continue
			}
			d.Dot = origin.Add(fixed.P(dx, dy))
			d.DrawString(s)
		}
	}
	d.Src = image.NewUniform(glyphColor)
	d.Dot = origin
	d.DrawString(s)
}

func drawPanel(dst *image.RGBA, panel image.Rectangle, border int) {
	panel = panel.Intersect(dst.Bounds())
	if panel.Empty() {
		return
	}
	draw.Draw(dst, panel, image.NewUniform(panelFill), image.Point{}, draw.Over)
	edge := image.NewUniform(markerColor)
	bw := min(border, panel.Dx()/2, panel.Dy()/2)
	if bw <= 0 {
		return
	}
	for _, e := range []image.Rectangle{
		image.Rect(panel.Min.X, panel.Min.Y, panel.Max.X, panel.Min.Y+bw),
		image.Rect(panel.Min.X, panel.Max.Y-bw, panel.Max.X, panel.Max.Y),
		image.Rect(panel.Min.X, panel.Min.Y, panel.Min.X+bw, panel.Max.Y),
		image.Rect(panel.Max.X-bw, panel.Min.Y, panel.Max.X, panel.Max.Y),
	} {
		draw.Draw(dst, e, edge, image.Point{}, draw.Src)
	}
}

func blend(dst *image.RGBA, x, y int, c color.RGBA, a float64) {
	i := dst.PixOffset(x, y)
	p := dst.Pix[i : i+4 : i+4]
	p[0] = mix(p[0], c.R, a)
	p[1] = mix(p[1], c.G, a)
	p[2] = mix(p[2], c.B, a)
	p[3] = 0xFF
}

func mix(dst, src uint8, a float64) uint8 {
	return uint8(math.Round(float64(dst)*(1-a) + float64(src)*a))
}

func unit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
