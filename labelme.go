package vocconv

// LabelMe specific functionality.

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"math"
	"os"
	"path/filepath"
)

// DefaultLabelMeVersion is the LabelMe format version written by default.
const DefaultLabelMeVersion = "5.3.0"

// LabelMeShape is a single shape within a LabelMe file.
type LabelMeShape struct {
	Label     string       `json:"label"`
	Points    [][2]float64 `json:"points"`
	GroupID   *int         `json:"group_id"`
	ShapeType string       `json:"shape_type"`
	Flags     Attributes   `json:"flags"`
}

// LabelMeFile defines the LabelMe annotation structure for a single image.
type LabelMeFile struct {
	Version     string          `json:"version"`
	Flags       map[string]bool `json:"flags"`
	Shapes      []LabelMeShape  `json:"shapes"`
	ImagePath   string          `json:"imagePath"`
	ImageData   *string         `json:"imageData"` // Base64 encoded image file, or null.
	ImageHeight int             `json:"imageHeight"`
	ImageWidth  int             `json:"imageWidth"`
}

// LabelMeOptions controls the conversion to LabelMe.
type LabelMeOptions struct {
	ImagePath string // The image the annotation belongs to.
	// EmbedImageData stores the image, encoded as JPEG for .jpg and .jpeg files and PNG
	// otherwise, in the ImageData field. The image must exist.
	EmbedImageData bool
	Version        string // Empty selects DefaultLabelMeVersion.
	// RelativeTo makes the image path relative to this directory, usually the directory of the
	// output file. The image must exist in this case.
	RelativeTo string
}

// ToLabelMe converts a to the LabelMe format. Each object becomes a polygon with the four box
// corners, clockwise from the top-left one, followed by shapes for its parts.
//
// Missing images are reported with an error for which errors.Is(err, fs.ErrNotExist) is true.
func (a *Annotation) ToLabelMe(opts LabelMeOptions) (*LabelMeFile, error) {
	if a.Size == nil {
		return nil, fmt.Errorf("%w: missing image size", ErrInconsistentAnnotation)
	}

	version := opts.Version
	if version == "" {
		version = DefaultLabelMeVersion
	}

	imagePath := opts.ImagePath
	if opts.EmbedImageData || opts.RelativeTo != "" {
		if _, err := os.Stat(imagePath); err != nil {
			return nil, fmt.Errorf("no such image file %q: %w", imagePath, err)
		}
	}

	var imageData *string
	if opts.EmbedImageData {
		img, err := loadImage(imagePath)
		if err != nil {
			return nil, fmt.Errorf("failed to load the image: %v", err)
		}
		enc, err := encodeImageBase64(img, filepath.Ext(imagePath))
		if err != nil {
			return nil, fmt.Errorf("failed to encode the image: %v", err)
		}
		imageData = &enc
	}

	if opts.RelativeTo != "" {
		rel, err := relPath(opts.RelativeTo, imagePath)
		if err != nil {
			return nil, err
		}
		imagePath = rel
	}

	return &LabelMeFile{
		Version:     version,
		Flags:       map[string]bool{}, // Must not be nil as that becomes JSON null.
		Shapes:      labelMeShapes(a.Objects),
		ImagePath:   imagePath,
		ImageData:   imageData,
		ImageHeight: a.Size.Height,
		ImageWidth:  a.Size.Width,
	}, nil
}

func relPath(dir, path string) (string, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.Rel(absDir, absPath)
}

// labelMeShapes lists the shapes of objects. The parts of an object precede the object itself.
func labelMeShapes(objects []Object) []LabelMeShape {
	shapes := make([]LabelMeShape, 0, len(objects))
	for _, obj := range objects {
		shapes = append(shapes, labelMeShapes(obj.Parts)...)

		b := obj.BndBox
		flags := obj.Attributes.Clone()
		if flags == nil {
			flags = Attributes{}
		}
		shapes = append(shapes, LabelMeShape{
			Label: obj.Name,
			Points: [][2]float64{
				{b.XMin, b.YMin},
				{b.XMax, b.YMin},
				{b.XMax, b.YMax},
				{b.XMin, b.YMax},
			},
			ShapeType: "polygon",
			Flags:     flags,
		})
	}
	return shapes
}

// WriteLabelMe writes the LabelMe data to outFile.
func WriteLabelMe(outFile string, data *LabelMeFile) error {
	enc, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	if err := ioutil.WriteFile(outFile, enc, 0644); err != nil {
		return fmt.Errorf("cannot write file %q: %v", outFile, err)
	}
	return nil
}

// FromLabelMe reads and parses the LabelMe file at path. Every shape becomes an object with the
// bounding rectangle of the shape and the shape flags as attributes.
func FromLabelMe(path string) (*Annotation, error) {
	enc, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}

	var lm LabelMeFile
	if err := json.Unmarshal(enc, &lm); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}

	a := &Annotation{
		Filename: filepath.Base(filepath.FromSlash(lm.ImagePath)),
		Objects:  make([]Object, 0, len(lm.Shapes)),
	}
	if lm.ImagePath == "" {
		a.Filename = ""
	}
	if lm.ImageWidth > 0 && lm.ImageHeight > 0 {
		a.Size = &Size{Width: lm.ImageWidth, Height: lm.ImageHeight}
	}

	for i, s := range lm.Shapes {
		if len(s.Points) == 0 {
			return nil, &ParseError{Path: path, Err: fmt.Errorf("shape %d has no points", i)}
		}
		a.Objects = append(a.Objects, Object{
			Name:       s.Label,
			BndBox:     shapeBounds(s),
			Attributes: s.Flags,
		})
	}

	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("file %q is not a usable LabelMe annotation: %w", path, err)
	}
	return a, nil
}

// shapeBounds returns the bounding rectangle of the shape. Circles are given by their center
// and a point on the circumference.
func shapeBounds(s LabelMeShape) BndBox {
	if s.ShapeType == "circle" && len(s.Points) == 2 {
		c, p := s.Points[0], s.Points[1]
		r := math.Hypot(p[0]-c[0], p[1]-c[1])
		return BndBox{c[0] - r, c[1] - r, c[0] + r, c[1] + r}
	}

	b := BndBox{s.Points[0][0], s.Points[0][1], s.Points[0][0], s.Points[0][1]}
	for _, p := range s.Points[1:] {
		b.XMin = math.Min(b.XMin, p[0])
		b.YMin = math.Min(b.YMin, p[1])
		b.XMax = math.Max(b.XMax, p[0])
		b.YMax = math.Max(b.YMax, p[1])
	}
	return b
}
