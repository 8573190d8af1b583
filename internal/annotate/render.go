package annotate

import (
	"bytes"
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// Layout fixes how the overlay text is placed. Rendering with the same
// Layout, image and text always yields the same bytes.
type Layout struct {
	FontSize  float64
	DPI       float64
	OriginX   int
	OriginY   int
	WrapWidth int
	Outline   int
}

// DefaultLayout anchors 22pt text 10px from the top-left corner, wraps at
// 2000px and draws a 1px outline.
var DefaultLayout = Layout{
	FontSize:  22,
	DPI:       72,
	OriginX:   10,
	OriginY:   10,
	WrapWidth: 2000,
	Outline:   1,
}

// Renderer draws left-aligned, word-wrapped text onto images and encodes
// the result as PNG. It is safe for concurrent use.
type Renderer struct {
	font   *opentype.Font
	layout Layout
}

// NewRenderer parses the embedded Go Regular font.
func NewRenderer(layout Layout) (*Renderer, error) {
	if layout.FontSize <= 0 || layout.DPI <= 0 {
		return nil, fmt.Errorf("invalid font size=%v dpi=%v", layout.FontSize, layout.DPI)
	}
	if layout.WrapWidth <= 0 {
		return nil, fmt.Errorf("wrap width must be positive, got %d", layout.WrapWidth)
	}
	f, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse font: %w", err)
	}
	return &Renderer{font: f, layout: layout}, nil
}

// Render draws text onto a copy of src and returns the PNG encoding.
func (r *Renderer) Render(src image.Image, text string) ([]byte, error) {
	// Faces keep per-face glyph buffers, so each call gets its own.
	face, err := opentype.NewFace(r.font, &opentype.FaceOptions{
		Size:    r.layout.FontSize,
		DPI:     r.layout.DPI,
		Hinting: font.HintingNone,
	})
	if err != nil {
		return nil, fmt.Errorf("create font face: %w", err)
	}
	defer face.Close()

	dst := imaging.Clone(src)
	metrics := face.Metrics()
	x := fixed.I(r.layout.OriginX)
	y := fixed.I(r.layout.OriginY) + metrics.Ascent

	for _, line := range wrapText(face, text, fixed.I(r.layout.WrapWidth)) {
		r.drawOutlined(dst, face, line, x, y)
		y += metrics.Height
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, dst, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *Renderer) drawOutlined(dst *image.NRGBA, face font.Face, line string, x, y fixed.Int26_6) {
	o := r.layout.Outline
	for dy := -o; dy <= o; dy++ {
		for dx := -o; dx <= o; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			d := font.Drawer{Dst: dst, Src: image.Black, Face: face, Dot: fixed.Point26_6{X: x + fixed.I(dx), Y: y + fixed.I(dy)}}
			d.DrawString(line)
		}
	}
	d := font.Drawer{Dst: dst, Src: image.White, Face: face, Dot: fixed.Point26_6{X: x, Y: y}}
	d.DrawString(line)
}

// wrapText breaks text into lines no wider than width. Explicit newlines
// are kept; a single word wider than width gets a line of its own.
func wrapText(face font.Face, text string, width fixed.Int26_6) []string {
	var lines []string
	for _, paragraph := range strings.Split(text, "\n") {
		words := strings.Fields(paragraph)
		if len(words) == 0 {
			lines = append(lines, "")
			continue
		}
		current := words[0]
		for _, word := range words[1:] {
			candidate := current + " " + word
			if font.MeasureString(face, candidate) <= width {
				current = candidate
				continue
			}
			lines = append(lines, current)
			current = word
		}
		lines = append(lines, current)
	}
	return lines
}
