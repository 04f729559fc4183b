package vocconv

// The in-memory annotation representation shared by all formats.

import (
	"fmt"
	"reflect"
	"strings"
)

// Keys for known object attributes.
const (
	Confidence = "confidence" // Detection score from YOLO prediction output. Type float64.
	Difficult  = "difficult"
	Occluded   = "occluded"
	Pose       = "pose"
	Truncated  = "truncated"
)

// BndBox is an axis-aligned bounding box.
//
// The coordinates are either absolute pixel offsets from the top-left corner of the image or
// ratios of the image size. The convention is not stored; see IsRelative.
type BndBox struct {
	XMin, YMin, XMax, YMax float64
}

// Width is the box width. It is negative for degenerate boxes.
func (b BndBox) Width() float64 {
	return b.XMax - b.XMin
}

// Height is the box height. It is negative for degenerate boxes.
func (b BndBox) Height() float64 {
	return b.YMax - b.YMin
}

// IsRelative reports whether the box is given in image-relative coordinates, which is assumed
// when any coordinate is less than 1.
//
// An absolute box touching the left or top image border (a coordinate of exactly 0) is
// therefore reported as relative.
func (b BndBox) IsRelative() bool {
	return b.XMin < 1 || b.YMin < 1 || b.XMax < 1 || b.YMax < 1
}

// Scale multiplies the horizontal coordinates by sx and the vertical ones by sy.
func (b BndBox) Scale(sx, sy float64) BndBox {
	return BndBox{b.XMin * sx, b.YMin * sy, b.XMax * sx, b.YMax * sy}
}

// clipZero clamps negative coordinates to zero.
func (b BndBox) clipZero() BndBox {
	clip := func(v float64) float64 {
		if v < 0 {
			return 0
		}
		return v
	}
	return BndBox{clip(b.XMin), clip(b.YMin), clip(b.XMax), clip(b.YMax)}
}

// Object is a single labelled object instance.
type Object struct {
	Name       string
	BndBox     BndBox
	Attributes Attributes // Everything besides the name and box, in source order.
	Parts      []Object   // Nested part annotations, e.g. the head of a person.
}

// Size is the image size in pixels.
type Size struct {
	Width  int
	Height int
	Depth  int // Number of channels, zero if unknown.
}

// Annotation is the annotation metadata for a single image.
type Annotation struct {
	Filename  string // The image file name.
	Folder    string
	Path      string
	Database  string // The source/database field.
	Segmented string
	Size      *Size
	Objects   []Object
}

// Validate reports an error wrapping ErrInconsistentAnnotation unless a has a size and either a
// file name or at least one object.
func (a *Annotation) Validate() error {
	if a.Size == nil {
		return fmt.Errorf("%w: missing image size", ErrInconsistentAnnotation)
	}
	if a.Filename == "" && len(a.Objects) == 0 {
		return fmt.Errorf("%w: no file name and no objects", ErrInconsistentAnnotation)
	}
	return nil
}

// Len returns the number of objects.
func (a *Annotation) Len() int {
	return len(a.Objects)
}

// FilterObjects keeps only the objects whose name is one of names. The order of the remaining
// objects is preserved. An empty names list removes all objects.
//
// The objects themselves are never modified, the slice is replaced instead.
func (a *Annotation) FilterObjects(names []string) {
	keep := make(map[string]bool, len(names))
	for _, n := range names {
		keep[n] = true
	}
	a.filterObjectsFunc(func(obj *Object) bool { return keep[obj.Name] })
}

// filterObjectsFunc keeps only the objects for which keep returns true, in order, and returns
// the number of removed objects.
func (a *Annotation) filterObjectsFunc(keep func(obj *Object) bool) int {
	var filtered []Object
	removed := 0
	for i := range a.Objects {
		if keep(&a.Objects[i]) {
			filtered = append(filtered, a.Objects[i])
		} else {
			removed++
		}
	}

	switch {
	case removed == 0:
	case len(filtered) == 0:
		a.Objects = []Object{}
	default:
		a.Objects = filtered
	}
	return removed
}

// ObjectFilter selects objects by their box and attributes. Zero values disable a criterion.
type ObjectFilter struct {
	MinConfidence float64 // Objects with a lower Confidence attribute are removed.
	MinBboxWidth  float64 // In the units of the box.
	MinBboxHeight float64

	// The aspect ratio of width/height must be in [MinAspectRatio, MaxAspectRatio].
	MinAspectRatio float64
	MaxAspectRatio float64

	// Attributes that must be present with a value that is not the zero value of its type.
	RequiredAttrs []string
}

// Match reports whether obj passes all criteria of f. Objects without a confidence value pass
// the confidence filter.
func (f *ObjectFilter) Match(obj *Object) bool {
	if v, ok := obj.Attributes.Get(Confidence); ok {
		if c, ok := v.(float64); ok && c < f.MinConfidence {
			return false
		}
	}

	width, height := obj.BndBox.Width(), obj.BndBox.Height()
	if (f.MinBboxWidth > 0 && width < f.MinBboxWidth) || (f.MinBboxHeight > 0 && height < f.MinBboxHeight) {
		return false
	}

	if f.MinAspectRatio != 0 || f.MaxAspectRatio != 0 {
		if height == 0 {
			return false
		}
		ratio := width / height
		if (f.MinAspectRatio != 0 && ratio < f.MinAspectRatio) ||
			(f.MaxAspectRatio != 0 && ratio > f.MaxAspectRatio) {
			return false
		}
	}

	for _, name := range f.RequiredAttrs {
		if v, ok := obj.Attributes.Get(name); !ok || v == nil || reflect.ValueOf(v).IsZero() {
			return false
		}
	}
	return true
}

// KeepAttributes removes all object attributes, including those of parts, whose name is not in
// names.
func (a *Annotation) KeepAttributes(names []string) {
	keep := make(map[string]bool, len(names))
	for _, n := range names {
		keep[n] = true
	}

	var filterObjects func(objects []Object)
	filterObjects = func(objects []Object) {
		for i := range objects {
			obj := &objects[i]
			var attrs Attributes
			for _, attr := range obj.Attributes {
				if keep[attr.Name] {
					attrs = append(attrs, attr)
				}
			}
			obj.Attributes = attrs
			filterObjects(obj.Parts)
		}
	}
	filterObjects(a.Objects)
}

// MapLabels replaces label (sub-)strings with substitution values, as specified in mappings.
// Part labels are mapped as well.
//
// The format of mappings is old=new. Returns the number of changed labels.
func (a *Annotation) MapLabels(mappings []string) (int, error) {
	replacements, err := parseLabelMappings(mappings)
	if err != nil {
		return 0, err
	}
	return a.replaceLabels(replacements), nil
}

type labelReplacement struct{ old, new string }

func parseLabelMappings(mappings []string) ([]labelReplacement, error) {
	replacements := make([]labelReplacement, len(mappings))
	for i, v := range mappings {
		s := strings.Split(v, "=")
		if len(s) != 2 || s[0] == "" {
			return nil, fmt.Errorf("invalid mapping: %v", v)
		}
		replacements[i] = labelReplacement{s[0], s[1]}
	}
	return replacements, nil
}

// replaceLabels applies the replacements in order. Objects are copied before being changed, so
// that slices shared with other annotations are left alone.
func (a *Annotation) replaceLabels(replacements []labelReplacement) int {
	if len(replacements) == 0 || len(a.Objects) == 0 {
		return 0
	}

	var mapObjects func(objects []Object) ([]Object, int)
	mapObjects = func(objects []Object) ([]Object, int) {
		out := make([]Object, len(objects))
		count := 0
		for i, obj := range objects {
			oldName := obj.Name
			for _, r := range replacements {
				obj.Name = strings.Replace(obj.Name, r.old, r.new, -1)
			}
			if obj.Name != oldName {
				count++
			}
			if len(obj.Parts) > 0 {
				var n int
				obj.Parts, n = mapObjects(obj.Parts)
				count += n
			}
			out[i] = obj
		}
		return out, count
	}

	objects, count := mapObjects(a.Objects)
	a.Objects = objects
	return count
}

// Names returns the distinct object names in order of appearance.
func (a *Annotation) Names() []string {
	seen := make(map[string]bool)
	var names []string
	for _, obj := range a.Objects {
		if !seen[obj.Name] {
			seen[obj.Name] = true
			names = append(names, obj.Name)
		}
	}
	return names
}
