package vocconv

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Attribute is a named scalar value. Value is a string, int, float64 or bool.
type Attribute struct {
	Name  string
	Value interface{}
}

// Attributes is an ordered set of attributes with unique names.
type Attributes []Attribute

// Get returns the value of the named attribute.
func (a Attributes) Get(name string) (interface{}, bool) {
	for _, attr := range a {
		if attr.Name == name {
			return attr.Value, true
		}
	}
	return nil, false
}

// Set replaces the value of the named attribute, or appends it if it is not present yet.
func (a *Attributes) Set(name string, value interface{}) {
	for i := range *a {
		if (*a)[i].Name == name {
			(*a)[i].Value = value
			return
		}
	}
	*a = append(*a, Attribute{name, value})
}

// Delete removes the named attribute, if present.
func (a *Attributes) Delete(name string) {
	for i, attr := range *a {
		if attr.Name == name {
			*a = append((*a)[:i:i], (*a)[i+1:]...)
			return
		}
	}
}

// Clone returns a copy that does not share memory with a.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}
	return append(Attributes(nil), a...)
}

// MarshalJSON encodes a as a JSON object, preserving the attribute order.
func (a Attributes) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, attr := range a {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(attr.Name)
		if err != nil {
			return nil, err
		}
		var value []byte
		if f, ok := attr.Value.(float64); ok && !math.IsInf(f, 0) && !math.IsNaN(f) {
			value = []byte(formatFloatAttr(f))
		} else if value, err = json.Marshal(attr.Value); err != nil {
			return nil, fmt.Errorf("attribute %q: %v", attr.Name, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a flat JSON object in key order. Integral numbers become int, other
// numbers float64. Nested arrays and objects are rejected.
func (a *Attributes) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*a = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("attributes must be a JSON object")
	}

	attrs := Attributes{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name := tok.(string) // Object keys are always strings.

		tok, err = dec.Token()
		if err != nil {
			return err
		}
		var value interface{}
		switch v := tok.(type) {
		case json.Number:
			if i, err := strconv.Atoi(v.String()); err == nil {
				value = i
			} else if f, err := v.Float64(); err == nil {
				value = f
			} else {
				return fmt.Errorf("attribute %q: invalid number %v", name, v)
			}
		case string, bool:
			value = v
		case nil:
			continue
		default:
			return fmt.Errorf("attribute %q is not a scalar", name)
		}
		attrs.Set(name, value)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*a = attrs
	return nil
}

// AttrType selects how attribute text is converted.
type AttrType int

// The attribute conversions.
const (
	AttrAuto   AttrType = iota // int, float64 or string, whichever parses first.
	AttrString                 // Keep the text.
	AttrInt
	AttrFloat
	AttrBool // "0", "false" and "no" are false, any other number or "true"/"yes" is true.
)

// ParseAttrType parses a type name as used in configuration files.
func ParseAttrType(s string) (AttrType, error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return AttrAuto, nil
	case "str", "string":
		return AttrString, nil
	case "int", "integer":
		return AttrInt, nil
	case "float", "float64", "number":
		return AttrFloat, nil
	case "bool", "boolean":
		return AttrBool, nil
	}
	return AttrAuto, fmt.Errorf("unknown attribute type %q", s)
}

func (t AttrType) String() string {
	switch t {
	case AttrString:
		return "string"
	case AttrInt:
		return "int"
	case AttrFloat:
		return "float"
	case AttrBool:
		return "bool"
	}
	return "auto"
}

// castAttr converts the attribute text to the given type.
func castAttr(text string, t AttrType) (interface{}, error) {
	switch t {
	case AttrString:
		return text, nil
	case AttrInt:
		i, err := strconv.Atoi(text)
		if err != nil {
			// Accept integral floats such as "3.0".
			f, ferr := strconv.ParseFloat(text, 64)
			if ferr != nil || f != float64(int(f)) {
				return nil, fmt.Errorf("not an integer: %q", text)
			}
			i = int(f)
		}
		return i, nil
	case AttrFloat:
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, fmt.Errorf("not a number: %q", text)
		}
		return f, nil
	case AttrBool:
		switch strings.ToLower(text) {
		case "true", "yes":
			return true, nil
		case "false", "no", "":
			return false, nil
		}
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, fmt.Errorf("not a boolean: %q", text)
		}
		return f != 0, nil
	}

	if i, err := strconv.Atoi(text); err == nil {
		return i, nil
	}
	// Words such as "Inf" or "nan" parse as floats, but are kept as text.
	if f, err := strconv.ParseFloat(text, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
		return f, nil
	}
	return text, nil
}

// formatAttr returns the text form of an attribute value. Booleans are written as 1 and 0, as
// is conventional for Pascal VOC flags. Floats always have a fractional part.
func formatAttr(v interface{}) string {
	switch v := v.(type) {
	case string:
		return v
	case bool:
		if v {
			return "1"
		}
		return "0"
	case int:
		return strconv.Itoa(v)
	case float64:
		return formatFloatAttr(v)
	case fmt.Stringer:
		return v.String()
	}
	return fmt.Sprint(v)
}

// formatFloatAttr formats v like formatCoord, but keeps a fractional digit on integral values so
// that the text decodes as a float again.
func formatFloatAttr(v float64) string {
	s := formatCoord(v)
	if !math.IsInf(v, 0) && !math.IsNaN(v) && !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

// formatCoord formats v with the minimal number of digits. Integral values have no fractional
// part.
func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
