package vocconv

// Pascal VOC XML specific functionality.

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io/ioutil"
	"log"
	"strconv"
	"strings"
)

// XMLOptions controls how Pascal VOC XML is decoded.
type XMLOptions struct {
	// AttributeTypes maps object attribute names to their type. Unlisted attributes become an int,
	// a float64 or a string, whichever parses first.
	AttributeTypes map[string]AttrType
	// ClipZero clamps negative bounding box coordinates to zero.
	ClipZero bool
}

// XMLWriteOptions selects optional fields that are left out when encoding XML.
type XMLWriteOptions struct {
	DropPath      bool
	DropFolder    bool
	DropSource    bool
	DropPose      bool // The pose attribute of objects.
	DropSegmented bool
	DropTruncated bool // The truncated attribute of objects.
}

// DropAll returns options that leave out all optional fields.
func DropAll() XMLWriteOptions {
	return XMLWriteOptions{true, true, true, true, true, true}
}

// xmlNode is a generic XML element. Attributes of elements are not used by Pascal VOC.
type xmlNode struct {
	XMLName  xml.Name
	Text     string    `xml:",chardata"`
	Children []xmlNode `xml:",any"`
}

func (n *xmlNode) child(name string) *xmlNode {
	for i := range n.Children {
		if n.Children[i].XMLName.Local == name {
			return &n.Children[i]
		}
	}
	return nil
}

func (n *xmlNode) childText(name string) (string, bool) {
	c := n.child(name)
	if c == nil {
		return "", false
	}
	return strings.TrimSpace(c.Text), true
}

func (n *xmlNode) isLeaf() bool {
	return len(n.Children) == 0
}

func leaf(name, text string) xmlNode {
	return xmlNode{XMLName: xml.Name{Local: name}, Text: text}
}

func element(name string, children ...xmlNode) xmlNode {
	return xmlNode{XMLName: xml.Name{Local: name}, Children: children}
}

// FromXML reads and parses the Pascal VOC annotation file at path.
func FromXML(path string, opts XMLOptions) (*Annotation, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}

	a, err := DecodeXML(data, opts)
	if errors.Is(err, ErrInconsistentAnnotation) {
		return nil, fmt.Errorf("file %q is not a Pascal VOC annotation: %w", path, err)
	}
	if err != nil {
		return nil, withPath(err, path)
	}
	return a, nil
}

// DecodeXML parses a Pascal VOC annotation document.
//
// Errors for malformed documents are of type *ParseError. Documents without a valid size, or
// with neither a file name nor objects, result in an error wrapping ErrInconsistentAnnotation.
func DecodeXML(data []byte, opts XMLOptions) (*Annotation, error) {
	var root xmlNode
	if err := xml.Unmarshal(data, &root); err != nil {
		return nil, &ParseError{Err: err}
	}

	a := &Annotation{}
	a.Filename, _ = root.childText("filename")
	a.Folder, _ = root.childText("folder")
	a.Path, _ = root.childText("path")
	a.Segmented, _ = root.childText("segmented")
	if source := root.child("source"); source != nil {
		a.Database, _ = source.childText("database")
	}

	size, err := parseXMLSize(root.child("size"))
	if err != nil {
		return nil, err
	}
	a.Size = size

	for i := range root.Children {
		n := &root.Children[i]
		if n.XMLName.Local != "object" {
			continue
		}
		obj, err := parseXMLObject(n, opts)
		if err != nil {
			return nil, &ParseError{Err: fmt.Errorf("object %d: %v", a.Len(), err)}
		}
		a.Objects = append(a.Objects, obj)
	}

	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

func parseXMLSize(n *xmlNode) (*Size, error) {
	if n == nil {
		return nil, fmt.Errorf("%w: missing size", ErrInconsistentAnnotation)
	}

	var size Size
	fields := []struct {
		name     string
		value    *int
		optional bool
	}{
		{"width", &size.Width, false},
		{"height", &size.Height, false},
		{"depth", &size.Depth, true},
	}
	for _, f := range fields {
		text, ok := n.childText(f.name)
		if !ok {
			if f.optional {
				continue
			}
			return nil, fmt.Errorf("%w: size has no %s", ErrInconsistentAnnotation, f.name)
		}
		v, err := castAttr(text, AttrInt)
		if err != nil {
			if f.optional {
				log.Printf("Ignoring the image %s: %v", f.name, err)
				continue
			}
			return nil, fmt.Errorf("%w: invalid size %s: %v", ErrInconsistentAnnotation, f.name, err)
		}
		*f.value = v.(int)
	}

	return &size, nil
}

func parseXMLObject(n *xmlNode, opts XMLOptions) (Object, error) {
	var obj Object

	name, ok := n.childText("name")
	if !ok {
		return obj, fmt.Errorf("missing name")
	}
	obj.Name = name

	box := n.child("bndbox")
	if box == nil {
		return obj, fmt.Errorf("%q has no bndbox", name)
	}
	var err error
	if obj.BndBox, err = parseXMLBndBox(box); err != nil {
		return obj, fmt.Errorf("%q: %v", name, err)
	}
	if opts.ClipZero {
		obj.BndBox = obj.BndBox.clipZero()
	}

	for i := range n.Children {
		c := &n.Children[i]
		tag := c.XMLName.Local
		switch {
		case tag == "name" || tag == "bndbox":
		case tag == "part" && c.child("bndbox") != nil:
			part, err := parseXMLObject(c, opts)
			if err != nil {
				return obj, fmt.Errorf("part of %q: %v", name, err)
			}
			obj.Parts = append(obj.Parts, part)
		case c.isLeaf():
			v, err := castAttr(strings.TrimSpace(c.Text), opts.AttributeTypes[tag])
			if err != nil {
				return obj, fmt.Errorf("attribute %q of %q: %v", tag, name, err)
			}
			obj.Attributes.Set(tag, v)
		default:
			log.Printf("Skipping nested element <%s> of object %q", tag, name)
		}
	}

	return obj, nil
}

func parseXMLBndBox(n *xmlNode) (BndBox, error) {
	var b BndBox
	coords := []struct {
		name  string
		value *float64
	}{
		{"xmin", &b.XMin},
		{"ymin", &b.YMin},
		{"xmax", &b.XMax},
		{"ymax", &b.YMax},
	}
	for _, c := range coords {
		text, ok := n.childText(c.name)
		if !ok {
			return b, fmt.Errorf("missing %s", c.name)
		}
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return b, fmt.Errorf("invalid %s: %q", c.name, text)
		}
		*c.value = v
	}
	return b, nil
}

// ToXML encodes a as an indented Pascal VOC XML document.
//
// The child order is folder, filename, path, source/database, size, segmented and the objects.
// Optional fields are left out if they are empty or dropped by opts.
func (a *Annotation) ToXML(opts XMLWriteOptions) ([]byte, error) {
	if a.Size == nil {
		return nil, fmt.Errorf("%w: missing image size", ErrInconsistentAnnotation)
	}

	root := element("annotation")
	if !opts.DropFolder && a.Folder != "" {
		root.Children = append(root.Children, leaf("folder", a.Folder))
	}
	root.Children = append(root.Children, leaf("filename", a.Filename))
	if !opts.DropPath && a.Path != "" {
		root.Children = append(root.Children, leaf("path", a.Path))
	}
	if !opts.DropSource && a.Database != "" {
		root.Children = append(root.Children, element("source", leaf("database", a.Database)))
	}

	size := element("size",
		leaf("width", strconv.Itoa(a.Size.Width)),
		leaf("height", strconv.Itoa(a.Size.Height)))
	if a.Size.Depth > 0 {
		size.Children = append(size.Children, leaf("depth", strconv.Itoa(a.Size.Depth)))
	}
	root.Children = append(root.Children, size)

	if !opts.DropSegmented && a.Segmented != "" {
		root.Children = append(root.Children, leaf("segmented", a.Segmented))
	}

	for _, obj := range a.Objects {
		root.Children = append(root.Children, objectToXML("object", obj, opts))
	}

	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "\t")
	if err := enc.Encode(root); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func objectToXML(tag string, obj Object, opts XMLWriteOptions) xmlNode {
	n := element(tag, leaf("name", obj.Name))
	for _, attr := range obj.Attributes {
		if (opts.DropPose && attr.Name == Pose) || (opts.DropTruncated && attr.Name == Truncated) {
			continue
		}
		n.Children = append(n.Children, leaf(attr.Name, formatAttr(attr.Value)))
	}
	n.Children = append(n.Children, element("bndbox",
		leaf("xmin", formatCoord(obj.BndBox.XMin)),
		leaf("ymin", formatCoord(obj.BndBox.YMin)),
		leaf("xmax", formatCoord(obj.BndBox.XMax)),
		leaf("ymax", formatCoord(obj.BndBox.YMax))))
	for _, p := range obj.Parts {
		n.Children = append(n.Children, objectToXML("part", p, opts))
	}
	return n
}

// WriteXML encodes a and writes it to the file at path.
func WriteXML(path string, a *Annotation, opts XMLWriteOptions) error {
	enc, err := a.ToXML(opts)
	if err != nil {
		return err
	}
	if err := ioutil.WriteFile(path, enc, 0644); err != nil {
		return fmt.Errorf("cannot write file %q: %v", path, err)
	}
	return nil
}
