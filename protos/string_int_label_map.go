// Package protos holds the label map messages of the TensorFlow object detection API
// (object_detection/protos/string_int_label_map.proto), for use with the protobuf text format.
package protos

import "github.com/golang/protobuf/proto"

// StringIntLabelMapItem maps a class name to its integer ID.
type StringIntLabelMapItem struct {
	// String name. The most common practice is to set this to a MID or synsets ID.
	Name *string `protobuf:"bytes,1,opt,name=name" json:"name,omitempty"`
	// Integer ID that maps to the string name above. Label ids should start from 1.
	Id *int32 `protobuf:"varint,2,opt,name=id" json:"id,omitempty"`
	// Human readable string label.
	DisplayName *string `protobuf:"bytes,3,opt,name=display_name,json=displayName" json:"display_name,omitempty"`
}

func (m *StringIntLabelMapItem) Reset()         { *m = StringIntLabelMapItem{} }
func (m *StringIntLabelMapItem) String() string { return proto.CompactTextString(m) }
func (*StringIntLabelMapItem) ProtoMessage()    {}

func (m *StringIntLabelMapItem) GetName() string {
	if m != nil && m.Name != nil {
		return *m.Name
	}
	return ""
}

func (m *StringIntLabelMapItem) GetId() int32 {
	if m != nil && m.Id != nil {
		return *m.Id
	}
	return 0
}

func (m *StringIntLabelMapItem) GetDisplayName() string {
	if m != nil && m.DisplayName != nil {
		return *m.DisplayName
	}
	return ""
}

// StringIntLabelMap is a list of label map items.
type StringIntLabelMap struct {
	Item []*StringIntLabelMapItem `protobuf:"bytes,1,rep,name=item" json:"item,omitempty"`
}

func (m *StringIntLabelMap) Reset()         { *m = StringIntLabelMap{} }
func (m *StringIntLabelMap) String() string { return proto.CompactTextString(m) }
func (*StringIntLabelMap) ProtoMessage()    {}

func (m *StringIntLabelMap) GetItem() []*StringIntLabelMapItem {
	if m != nil {
		return m.Item
	}
	return nil
}
