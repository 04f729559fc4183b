package vocconv

// YOLO specific functionality.

import (
	"bufio"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
)

// Default YOLO coordinate precisions, in decimal digits.
const (
	DefaultYOLOPrecision       = 3 // For encoding.
	DefaultYOLODecodePrecision = 4 // For decoded absolute coordinates.
)

// YOLOOptions controls how YOLO label files are decoded.
type YOLOOptions struct {
	// The image size used to convert the normalised coordinates to pixels. Zero values select 1,
	// which keeps the coordinates relative.
	ImageWidth, ImageHeight int
	// LabelMap maps class IDs to names. IDs that are not mapped are used as names.
	LabelMap map[int]string
	// Precision is the number of decimal digits the coordinates are rounded to. Values <= 0
	// select DefaultYOLODecodePrecision.
	Precision int
}

// FromYOLO reads and parses the YOLO label file at path.
//
// The file name of the returned annotation is the base name of path without extension.
func FromYOLO(path string, opts YOLOOptions) (a *Annotation, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	defer closeWithErrCheck(f, &err)

	_, baseNoExt, _ := splitPathNoErr(path)
	a, err = DecodeYOLO(f, baseNoExt, opts)
	if err != nil {
		return nil, withPath(err, path)
	}
	return a, nil
}

// DecodeYOLO parses YOLO label lines of the form "class x_center y_center width height" from r.
// An optional sixth value is stored as the Confidence attribute.
//
// The returned annotation has the given file name and the image size from opts.
func DecodeYOLO(r io.Reader, filename string, opts YOLOOptions) (*Annotation, error) {
	width, height := opts.ImageWidth, opts.ImageHeight
	switch {
	case width <= 0 && height <= 0:
		log.Printf("No image size for %q, the coordinates stay relative and may not be compatible"+
			" with consumers of absolute coordinates", filename)
	case width <= 0:
		log.Printf("No image width for %q, the x coordinates stay relative", filename)
	case height <= 0:
		log.Printf("No image height for %q, the y coordinates stay relative", filename)
	}
	if width <= 0 {
		width = 1
	}
	if height <= 0 {
		height = 1
	}
	precision := opts.Precision
	if precision <= 0 {
		precision = DefaultYOLODecodePrecision
	}

	a := &Annotation{
		Filename: filename,
		Size:     &Size{Width: width, Height: height},
		Objects:  []Object{},
	}

	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		obj, err := parseYOLOLine(line, float64(width), float64(height), precision)
		if err != nil {
			return nil, &ParseError{Line: lineNum, Err: err}
		}

		classID, _ := strconv.Atoi(obj.Name)
		if opts.LabelMap != nil {
			if name, ok := opts.LabelMap[classID]; ok {
				obj.Name = name
			} else {
				log.Printf("No label for class %d in the label map, using the class ID", classID)
			}
		}

		a.Objects = append(a.Objects, obj)
	}
	if err := scanner.Err(); err != nil {
		return nil, &ParseError{Err: err}
	}

	return a, nil
}

// parseYOLOLine parses a single label line and converts the box to the given image size. The
// class ID is returned as the object name.
func parseYOLOLine(line string, width, height float64, precision int) (Object, error) {
	var obj Object

	tokens := strings.Fields(line)
	if len(tokens) < 5 {
		return obj, fmt.Errorf("insufficient values in %q", line)
	}

	classID, err := strconv.Atoi(tokens[0])
	if err != nil {
		return obj, fmt.Errorf("invalid class ID in %q", line)
	}
	var v [4]float64
	for i := range v {
		if v[i], err = strconv.ParseFloat(tokens[i+1], 64); err != nil {
			return obj, fmt.Errorf("unexpected values in %q: %v", line, err)
		}
	}

	x, y := v[0], v[1]
	dx, dy := v[2]*0.5, v[3]*0.5
	obj.Name = strconv.Itoa(classID)
	obj.BndBox = BndBox{
		XMin: round((x-dx)*width, precision),
		YMin: round((y-dy)*height, precision),
		XMax: round((x+dx)*width, precision),
		YMax: round((y+dy)*height, precision),
	}

	// Parse the optional confidence score.
	if len(tokens) >= 6 {
		score, err := strconv.ParseFloat(tokens[5], 64)
		if err != nil {
			return obj, fmt.Errorf("unexpected score format in %q: %v", line, err)
		}
		obj.Attributes.Set(Confidence, score)
	}

	return obj, nil
}

// round rounds v to the given number of decimal digits.
func round(v float64, digits int) float64 {
	p := math.Pow10(digits)
	return math.Round(v*p) / p
}

// ToYOLO converts a to YOLO label lines, joined by newlines, with the coordinates normalised by
// the image size. Objects whose name is not in labelMap are skipped.
//
// A negative precision selects DefaultYOLOPrecision.
func (a *Annotation) ToYOLO(labelMap LabelMap, precision int) (string, error) {
	if a.Size == nil || a.Size.Width <= 0 || a.Size.Height <= 0 {
		return "", fmt.Errorf("%w: the size must have a width and height", ErrInconsistentAnnotation)
	}
	if precision < 0 {
		precision = DefaultYOLOPrecision
	}

	width := float64(a.Size.Width)
	height := float64(a.Size.Height)
	lines := make([]string, 0, len(a.Objects))
	for _, obj := range a.Objects {
		id, ok := labelMap[obj.Name]
		if !ok {
			log.Printf("No label %q in the label map, skipping the object", obj.Name)
			continue
		}

		dx := obj.BndBox.Width()
		dy := obj.BndBox.Height()
		x := (obj.BndBox.XMin + dx*0.5) / width
		y := (obj.BndBox.YMin + dy*0.5) / height
		lines = append(lines, fmt.Sprintf("%d %.*f %.*f %.*f %.*f", id,
			precision, x, precision, y, precision, dx/width, precision, dy/height))
	}

	return strings.Join(lines, "\n"), nil
}

// WriteYOLO converts a to YOLO format and writes it to the file at path.
func WriteYOLO(path string, a *Annotation, labelMap LabelMap, precision int) error {
	s, err := a.ToYOLO(labelMap, precision)
	if err != nil {
		return err
	}
	if err := ioutil.WriteFile(path, []byte(s), 0644); err != nil {
		return fmt.Errorf("cannot write file %q: %v", path, err)
	}
	return nil
}
