package vocconv

// Label map files.

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/golang/protobuf/proto"
	"gopkg.in/yaml.v3"

	"github.com/sensorable/vocconv/protos"
)

// LabelMap maps class names to integer class IDs.
type LabelMap map[string]int

// NewLabelMap assigns IDs to names in order, starting at first.
func NewLabelMap(names []string, first int) LabelMap {
	m := make(LabelMap, len(names))
	for _, n := range names {
		if _, ok := m[n]; !ok {
			m[n] = first + len(m)
		}
	}
	return m
}

// Inverse returns the mapping from IDs to names, for decoding YOLO files.
func (m LabelMap) Inverse() map[int]string {
	inv := make(map[int]string, len(m))
	for name, id := range m {
		inv[id] = name
	}
	return inv
}

// Names returns the names ordered by ID, and by name for identical IDs.
func (m LabelMap) Names() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if m[names[i]] != m[names[j]] {
			return m[names[i]] < m[names[j]]
		}
		return names[i] < names[j]
	})
	return names
}

// maxID returns the largest ID in m, or -1 for an empty map.
func (m LabelMap) maxID() int {
	largest := -1
	for _, id := range m {
		if id > largest {
			largest = id
		}
	}
	return largest
}

// LoadLabelMap reads a label map, choosing the format by the file extension:
//   - .pbtxt, .prototxt: a TensorFlow object detection StringIntLabelMap in protobuf text format.
//   - .yaml, .yml, .json: a mapping of names to IDs, or of IDs to names.
//   - anything else: one class name per line, the line index (from zero) is the ID, as in the
//     classes.txt and obj.names files of YOLO datasets.
//
// If an error occurs because the file does not exist, then os.IsNotExist will return true for the
// error.
func LoadLabelMap(path string) (LabelMap, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var m LabelMap
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pbtxt", ".prototxt":
		m, err = parseProtoLabelMap(data)
	case ".yaml", ".yml", ".json":
		m, err = parseYAMLLabelMap(data)
	default:
		m, err = parseLinesLabelMap(data)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid label map %q: %v", path, err)
	}
	return m, nil
}

func parseProtoLabelMap(data []byte) (LabelMap, error) {
	var siLabelMap protos.StringIntLabelMap
	if err := proto.UnmarshalText(string(data), &siLabelMap); err != nil {
		return nil, err
	}

	m := make(LabelMap, len(siLabelMap.Item))
	for _, item := range siLabelMap.Item {
		k, v := item.GetName(), item.GetId()
		if k == "" || v < 0 {
			return nil, fmt.Errorf("invalid entry: %s: %d", k, v)
		}
		m[k] = int(v)
	}
	return m, nil
}

func parseYAMLLabelMap(data []byte) (LabelMap, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if len(doc.Content) == 0 {
		return LabelMap{}, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("expected a mapping, found line %d", root.Line)
	}

	m := make(LabelMap, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		k, v := root.Content[i], root.Content[i+1]
		if k.Kind != yaml.ScalarNode || v.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("line %d: expected scalar values", k.Line)
		}
		if id, err := strconv.Atoi(v.Value); err == nil {
			m[k.Value] = id // name: id
		} else if id, err := strconv.Atoi(k.Value); err == nil {
			m[v.Value] = id // id: name
		} else {
			return nil, fmt.Errorf("line %d: no integer ID in %q: %q", k.Line, k.Value, v.Value)
		}
	}
	return m, nil
}

func parseLinesLabelMap(data []byte) (LabelMap, error) {
	m := make(LabelMap)
	for i, line := range strings.Split(string(data), "\n") {
		name := strings.TrimSpace(line)
		if name == "" {
			continue
		}
		if _, ok := m[name]; ok {
			return nil, fmt.Errorf("duplicate name %q", name)
		}
		m[name] = i
	}
	return m, nil
}

// SaveLabelMap writes the label map to path, choosing the format by the file extension as in
// LoadLabelMap. The line based format requires consecutive IDs starting at zero.
func SaveLabelMap(path string, m LabelMap) (err error) {
	var data []byte
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pbtxt", ".prototxt":
		data, err = marshalProtoLabelMap(m)
	case ".yaml", ".yml", ".json":
		data, err = marshalYAMLLabelMap(m)
	default:
		data, err = marshalLinesLabelMap(m)
	}
	if err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create the label map file %q: %v", path, err)
	}
	defer closeWithErrCheck(file, &err)

	if _, err := file.Write(data); err != nil {
		return fmt.Errorf("failed to write the label map %q: %v", path, err)
	}
	return nil
}

func marshalProtoLabelMap(m LabelMap) ([]byte, error) {
	// Copy the label map into the protobuf structure.
	siLabelMap := &protos.StringIntLabelMap{}
	siLabelMap.Item = make([]*protos.StringIntLabelMapItem, 0, len(m))
	for _, k := range m.Names() {
		siLabelMap.Item = append(siLabelMap.Item, &protos.StringIntLabelMapItem{
			Name: proto.String(k),
			Id:   proto.Int32(int32(m[k])),
		})
	}

	var buf bytes.Buffer
	if err := proto.MarshalText(&buf, siLabelMap); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func marshalYAMLLabelMap(m LabelMap) ([]byte, error) {
	// A node keeps the entries ordered by ID.
	root := &yaml.Node{Kind: yaml.MappingNode}
	for _, k := range m.Names() {
		root.Content = append(root.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: k},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.Itoa(m[k])})
	}
	return yaml.Marshal(root)
}

func marshalLinesLabelMap(m LabelMap) ([]byte, error) {
	var buf bytes.Buffer
	for i, k := range m.Names() {
		if m[k] != i {
			return nil, fmt.Errorf("label %q has ID %d, expected %d", k, m[k], i)
		}
		buf.WriteString(k)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}
