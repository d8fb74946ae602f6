package annotate

import (
	"errors"
	"fmt"
	"image"
	"math"
)

// ErrInvalidImage covers zero-dimension and undecodable rasters.
var ErrInvalidImage = errors.New("invalid image")

// ErrImageDecode is returned for bytes that are not a decodable raster.
// errors.Is(err, ErrInvalidImage) holds for it as well.
var ErrImageDecode = fmt.Errorf("%w: decode failed", ErrInvalidImage)

const (
	// MinRadiusPx is the marker radius floor. It wins over the base/4 ceiling.
	MinRadiusPx = 40

	labelFontRatio   = 0.08
	legendFontRatio  = 0.03
	strokeRatio      = 0.008
	minStroke        = 6
	lineSpacingRatio = 0.05
	legendPadding    = 30
	legendMargin     = 10
	legendInset      = 20
	legendBorder     = 4
	minOutline       = 2
)

// Geometry is the pixel placement of one marker.
type Geometry struct {
	Center image.Point
	Radius int
}

// LayoutAnnotation is a validated annotation resolved against concrete image
// dimensions.
type LayoutAnnotation struct {
	Ordinal    int
	Center     image.Point
	Radius     int
	LegendText string
}

// Style holds the per-image sizes derived from the short side.
type Style struct {
	Base         int
	LabelSize    float64
	LegendSize   float64
	StrokeWidth  int
	LineSpacing  int
	Padding      int
	Margin       int
	Inset        int
	BorderWidth  int
	OutlineShift int
}

func baseSize(width, height int) (int, error) {
	if width <= 0 || height <= 0 {
		return 0, fmt.Errorf("%w: %dx%d", ErrInvalidImage, width, height)
	}
	return min(width, height), nil
}

// ResolveGeometry maps percentage coordinates to pixels. The radius is clamped
// to [40, base/4]; when base/4 is below 40 the floor wins.
func ResolveGeometry(width, height int, a Annotation) (Geometry, error) {
	base, err := baseSize(width, height)
	if err != nil {
		return Geometry{}, err
	}
	pct := clamp(a.RadiusPercent, MinRadiusPercent, MaxRadiusPercent)
	r := int(float64(base) * pct / 100)
	r = max(MinRadiusPx, min(r, base/4))

	x := int(math.Round(float64(width) * clamp(a.X, 0, 100) / 100))
	y := int(math.Round(float64(height) * clamp(a.Y, 0, 100) / 100))
	return Geometry{Center: image.Pt(x, y), Radius: r}, nil
}

// NewStyle derives font sizes and stroke widths once per image.
func NewStyle(width, height int) (Style, error) {
	base, err := baseSize(width, height)
	if err != nil {
		return Style{}, err
	}
	b := float64(base)
	stroke := max(minStroke, int(b*strokeRatio))
	return Style{
		Base:         base,
		LabelSize:    math.Max(1, math.Floor(b*labelFontRatio)),
		LegendSize:   math.Max(1, math.Floor(b*legendFontRatio)),
		StrokeWidth:  stroke,
		LineSpacing:  max(1, int(b*lineSpacingRatio)),
		Padding:      legendPadding,
		Margin:       legendMargin,
		Inset:        legendInset,
		BorderWidth:  legendBorder,
		OutlineShift: max(minOutline, stroke/3),
	}, nil
}

// Layout resolves every annotation, preserving input order and ordinals.
func Layout(width, height int, anns []Annotation) ([]LayoutAnnotation, error) {
	out := make([]LayoutAnnotation, 0, len(anns))
	for _, a := range anns {
		g, err := ResolveGeometry(width, height, a)
		if err != nil {
			return nil, err
		}
		out = append(out, LayoutAnnotation{
			Ordinal:    a.Ordinal,
			Center:     g.Center,
			Radius:     g.Radius,
			LegendText: a.Text,
		})
	}
	return out, nil
}

// LegendLines counts the annotations that produce a legend line.
func LegendLines(anns []LayoutAnnotation) int {
	n := 0
	for _, a := range anns {
		if a.LegendText != "" {
			n++
		}
	}
	return n
}

// LegendPanel returns the panel rectangle, or false when nothing would be
// listed. A legend taller than the image is pinned near the top instead of
// failing; Min.Y is never negative. The panel still ends at the bottom
// margin, so in that case the lines past Max.Y are drawn straight onto the
// image with no panel behind them, and lines below the image are cut off.
func LegendPanel(st Style, width, height int, anns []LayoutAnnotation) (image.Rectangle, bool) {
	lines := LegendLines(anns)
	if lines == 0 || width <= 0 || height <= 0 {
		return image.Rectangle{}, false
	}
	legendHeight := st.Padding*2 + st.LineSpacing*lines
	top := max(st.Inset, height-legendHeight-st.Inset)
	top = max(0, min(top, height-1))

	left := min(st.Margin, width/4)
	right := max(left+1, width-st.Margin)
	bottom := max(top+1, height-st.Margin)
	return image.Rect(left, top, right, bottom), true
}
