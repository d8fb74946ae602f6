package annotate

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/opentype"
)

var (
	defaultOnce sync.Once
	defaultFont *opentype.Font
	defaultErr  error
)

// DefaultFont is the embedded Go Bold face.
func DefaultFont() (*opentype.Font, error) {
	defaultOnce.Do(func() {
		defaultFont, defaultErr = opentype.Parse(gobold.TTF)
	})
	return defaultFont, defaultErr
}

// LoadFont reads a TTF/OTF file. An empty path, a missing file or a broken
// font fall back to DefaultFont; the failure is only logged.
func LoadFont(path string) (*opentype.Font, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return DefaultFont()
	}
	b, err := os.ReadFile(path)
	if err != nil {
		log.Printf("annotate: font %s unavailable, using embedded Go Bold: %v", path, err)
		return DefaultFont()
	}
	f, err := opentype.Parse(b)
	if err != nil {
		log.Printf("annotate: font %s unparseable, using embedded Go Bold: %v", path, err)
		return DefaultFont()
	}
	return f, nil
}

func newFace(f *opentype.Font, size float64) (font.Face, error) {
	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("annotate: font face %.0fpx: %w", size, err)
	}
	return face, nil
}
