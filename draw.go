package vocconv

// Rendering of bounding boxes and labels onto images.

import (
	"crypto/sha1"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"io/ioutil"
	"math"
	"math/big"
	"math/rand"
	"sync"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// Rendering defaults.
const (
	DefaultDrawWidth    = 5
	DefaultDrawFontSize = 10
	DefaultPaletteSeed  = 32
	DefaultPaletteSize  = 100
)

// labelBackground is the fill color behind label text.
var labelBackground = color.NRGBA{32, 32, 28, 255}

// Palette is a fixed list of box colors. It must not be modified after use.
type Palette []color.NRGBA

// NewPalette returns n opaque colors with components in [1, 255], drawn from a pseudo-random
// sequence with the given seed. Equal arguments yield equal palettes.
func NewPalette(seed int64, n int) Palette {
	rnd := rand.New(rand.NewSource(seed))
	p := make(Palette, n)
	for i := range p {
		p[i] = color.NRGBA{
			R: uint8(1 + rnd.Intn(255)),
			G: uint8(1 + rnd.Intn(255)),
			B: uint8(1 + rnd.Intn(255)),
			A: 255,
		}
	}
	return p
}

// DefaultPalette returns the palette with DefaultPaletteSize colors for DefaultPaletteSeed.
func DefaultPalette() Palette {
	return NewPalette(DefaultPaletteSeed, DefaultPaletteSize)
}

// Index returns the palette index for a class name: the SHA-1 digest of the name, read as a big
// endian integer, modulo the palette size. The palette must not be empty.
func (p Palette) Index(name string) int {
	sum := sha1.Sum([]byte(name))
	n := new(big.Int).SetBytes(sum[:])
	return int(n.Mod(n, big.NewInt(int64(len(p)))).Int64())
}

// DrawOptions controls DrawBoxes.
type DrawOptions struct {
	Width    int          // Line width in pixels. Values <= 0 select DefaultDrawWidth.
	Color    *color.NRGBA // Color for all boxes. If nil, the color is picked by class name.
	FontSize float64      // In pixels. Values <= 0 select DefaultDrawFontSize.
	FontPath string       // TrueType or OpenType font file. Empty selects Go Regular.
	// LanguageCode, if set, is the language of the class names, which are transliterated to
	// Latin characters before drawing.
	LanguageCode string
}

// Renderer draws annotations onto images. It is safe for concurrent use.
type Renderer struct {
	palette Palette

	mu     sync.Mutex
	colors map[string]color.NRGBA
	fonts  map[string]*opentype.Font // By font path, "" is the bundled font.
}

// NewRenderer returns a renderer that picks box colors from p. An empty palette selects
// DefaultPalette.
func NewRenderer(p Palette) *Renderer {
	if len(p) == 0 {
		p = DefaultPalette()
	}
	return &Renderer{
		palette: p,
		colors:  make(map[string]color.NRGBA),
		fonts:   make(map[string]*opentype.Font),
	}
}

// Color returns the box color for a class name.
func (r *Renderer) Color(name string) color.NRGBA {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.colors[name]
	if !ok {
		c = r.palette[r.palette.Index(name)]
		r.colors[name] = c
	}
	return c
}

// loadFont returns the parsed font at path, loading it on first use.
func (r *Renderer) loadFont(path string) (*opentype.Font, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if f, ok := r.fonts[path]; ok {
		return f, nil
	}

	data := goregular.TTF
	if path != "" {
		var err error
		if data, err = ioutil.ReadFile(path); err != nil {
			return nil, fmt.Errorf("failed to read the font: %w", err)
		}
	}
	f, err := opentype.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse the font %q: %v", path, err)
	}
	r.fonts[path] = f
	return f, nil
}

// DrawBoxes returns a copy of img with the boxes of all objects and their parts drawn on top.
// Each box gets an outline of opts.Width pixels, drawn inwards, and the class name at its
// top-left corner on a dark background. Relative boxes are scaled to the image size.
//
// img is not modified.
func (r *Renderer) DrawBoxes(a *Annotation, img image.Image, opts DrawOptions) (*image.NRGBA,
	error) {
	width := opts.Width
	if width <= 0 {
		width = DefaultDrawWidth
	}
	size := opts.FontSize
	if size <= 0 {
		size = DefaultDrawFontSize
	}

	f, err := r.loadFont(opts.FontPath)
	if err != nil {
		return nil, err
	}
	// Faces keep glyph buffers and cannot be shared between goroutines.
	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create the font face: %v", err)
	}
	defer face.Close()

	out := imaging.Clone(img)
	w, h := out.Bounds().Dx(), out.Bounds().Dy()

	var drawObjects func(objects []Object) error
	drawObjects = func(objects []Object) error {
		for _, obj := range objects {
			b := obj.BndBox
			if b.IsRelative() {
				b = b.Scale(float64(w), float64(h))
			}

			c := opts.Color
			if c == nil {
				pc := r.Color(obj.Name)
				c = &pc
			}

			label := obj.Name
			if opts.LanguageCode != "" {
				if label, err = Transliterate(label, opts.LanguageCode); err != nil {
					return err
				}
			}

			x1, y1 := int(math.Round(b.XMin)), int(math.Round(b.YMin))
			x2, y2 := int(math.Round(b.XMax)), int(math.Round(b.YMax))
			drawOutline(out, image.Rect(x1, y1, x2+1, y2+1), width, *c)
			drawLabel(out, face, label, image.Pt(x1+width+1, y1+width+1), width/2)

			if err := drawObjects(obj.Parts); err != nil {
				return err
			}
		}
		return nil
	}
	if err := drawObjects(a.Objects); err != nil {
		return nil, err
	}

	return out, nil
}

// drawOutline draws the border of rect, width pixels wide, inside of rect.
func drawOutline(dst draw.Image, rect image.Rectangle, width int, c color.Color) {
	src := image.NewUniform(c)
	p0, p1 := rect.Min, rect.Max
	edges := []image.Rectangle{
		image.Rect(p0.X, p0.Y, p1.X, p0.Y+width), // Top.
		image.Rect(p0.X, p1.Y-width, p1.X, p1.Y), // Bottom.
		image.Rect(p0.X, p0.Y, p0.X+width, p1.Y), // Left.
		image.Rect(p1.X-width, p0.Y, p1.X, p1.Y), // Right.
	}
	for _, e := range edges {
		draw.Draw(dst, e.Intersect(rect), src, image.Point{}, draw.Over)
	}
}

// drawLabel draws text in white with its top-left corner at pt, on a background rectangle that
// extends margin pixels beyond the text bounds.
func drawLabel(dst draw.Image, face font.Face, text string, pt image.Point, margin int) {
	if text == "" {
		return
	}

	dot := fixed.Point26_6{X: fixed.I(pt.X), Y: fixed.I(pt.Y) + face.Metrics().Ascent}
	bounds, _ := font.BoundString(face, text)
	bg := image.Rect(
		(dot.X+bounds.Min.X).Floor()-margin,
		(dot.Y+bounds.Min.Y).Floor()-margin,
		(dot.X+bounds.Max.X).Ceil()+margin,
		(dot.Y+bounds.Max.Y).Ceil()+margin,
	)
	draw.Draw(dst, bg, image.NewUniform(labelBackground), image.Point{}, draw.Src)

	d := font.Drawer{
		Dst:  dst,
		Src:  image.White,
		Face: face,
		Dot:  dot,
	}
	d.DrawString(text)
}
