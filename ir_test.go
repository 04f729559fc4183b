package vocconv

import (
	"errors"
	"reflect"
	"testing"
)

func testAnnotation() *Annotation {
	return &Annotation{
		Filename: "000001.jpg",
		Size:     &Size{Width: 353, Height: 500, Depth: 3},
		Objects: []Object{
			{Name: "dog", BndBox: BndBox{48, 240, 195, 371}},
			{Name: "person", BndBox: BndBox{8, 12, 352, 498}},
			{Name: "dog", BndBox: BndBox{10, 20, 30, 40}},
		},
	}
}

func objectNames(objects []Object) []string {
	names := make([]string, len(objects))
	for i, obj := range objects {
		names[i] = obj.Name
	}
	return names
}

func TestBndBoxIsRelative(t *testing.T) {
	tests := []struct {
		box  BndBox
		want bool
	}{
		{BndBox{0.1, 0.2, 0.5, 0.6}, true},
		{BndBox{0, 10, 20, 30}, true},
		{BndBox{10, 10, 20, 0.999}, true},
		{BndBox{1, 1, 1, 1}, false},
		{BndBox{48, 240, 195, 371}, false},
	}
	for _, tt := range tests {
		if got := tt.box.IsRelative(); got != tt.want {
			t.Errorf("%v.IsRelative() = %v, want %v", tt.box, got, tt.want)
		}
	}
}

func TestBndBoxGeometry(t *testing.T) {
	b := BndBox{10, 20, 40, 80}
	if b.Width() != 30 || b.Height() != 60 {
		t.Errorf("size = %vx%v, want 30x60", b.Width(), b.Height())
	}
	if got, want := (BndBox{0.1, 0.5, 0.5, 1}).Scale(100, 200), (BndBox{10, 100, 50, 200}); got != want {
		t.Errorf("Scale() = %v, want %v", got, want)
	}
	if got, want := (BndBox{-3, 5, 10, -0.5}).clipZero(), (BndBox{0, 5, 10, 0}); got != want {
		t.Errorf("clipZero() = %v, want %v", got, want)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		a    Annotation
		ok   bool
	}{
		{"complete", *testAnnotation(), true},
		{"no objects", Annotation{Filename: "a.jpg", Size: &Size{1, 1, 0}}, true},
		{"no file name", Annotation{Size: &Size{1, 1, 0}, Objects: []Object{{Name: "dog"}}}, true},
		{"no size", Annotation{Filename: "a.jpg"}, false},
		{"empty", Annotation{Size: &Size{1, 1, 0}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.a.Validate()
			if tt.ok && err != nil {
				t.Errorf("Validate() = %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInconsistentAnnotation) {
				t.Errorf("Validate() = %v, want ErrInconsistentAnnotation", err)
			}
		})
	}
}

func TestFilterObjects(t *testing.T) {
	tests := []struct {
		name  string
		keep  []string
		names []string
	}{
		{"single class", []string{"dog"}, []string{"dog", "dog"}},
		{"other class", []string{"person"}, []string{"person"}},
		{"unknown class", []string{"cat"}, []string{}},
		{"empty list", nil, []string{}},
		{"all classes", []string{"person", "dog"}, []string{"dog", "person", "dog"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := testAnnotation()
			a.FilterObjects(tt.keep)
			if got := objectNames(a.Objects); !reflect.DeepEqual(got, tt.names) {
				t.Errorf("names = %v, want %v", got, tt.names)
			}
			if a.Objects == nil {
				t.Error("Objects is nil, want an empty slice")
			}
		})
	}
}

func TestFilterObjectsIdempotent(t *testing.T) {
	a := testAnnotation()
	a.FilterObjects([]string{"dog"})
	once := append([]Object(nil), a.Objects...)
	a.FilterObjects([]string{"dog"})
	if !reflect.DeepEqual(a.Objects, once) {
		t.Errorf("second filter changed the objects: %v, want %v", a.Objects, once)
	}
}

func TestFilterObjectsNoopKeepsSlice(t *testing.T) {
	a := testAnnotation()
	before := a.Objects
	a.FilterObjects([]string{"dog", "person"})
	if &a.Objects[0] != &before[0] {
		t.Error("the object slice was replaced although nothing was removed")
	}
}

func TestMapLabels(t *testing.T) {
	a := testAnnotation()
	a.Objects[1].Parts = []Object{{Name: "person head"}}
	shared := a.Objects

	n, err := a.MapLabels([]string{"person=human", "dog=canine"})
	if err != nil {
		t.Fatal(err)
	}
	if n != 4 {
		t.Errorf("changed %d labels, want 4", n)
	}
	if got, want := objectNames(a.Objects), []string{"canine", "human", "canine"}; !reflect.DeepEqual(got, want) {
		t.Errorf("names = %v, want %v", got, want)
	}
	if got := a.Objects[1].Parts[0].Name; got != "human head" {
		t.Errorf("part name = %q, want %q", got, "human head")
	}
	if shared[0].Name != "dog" {
		t.Error("the original object slice was modified")
	}

	if _, err := a.MapLabels([]string{"invalid"}); err == nil {
		t.Error("expected an error for a mapping without '='")
	}
}

func TestNames(t *testing.T) {
	if got, want := testAnnotation().Names(), []string{"dog", "person"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
}

func TestObjectFilterMatch(t *testing.T) {
	degenerate := &Object{Name: "dog", BndBox: BndBox{10, 10, 5, 5}}
	if f := (&ObjectFilter{}); !f.Match(degenerate) {
		t.Error("the zero filter removed a degenerate box")
	}

	obj := &Object{Name: "dog", BndBox: BndBox{0, 0, 10, 10},
		Attributes: Attributes{{Pose, ""}, {Difficult, true}, {Confidence, 0.5}}}
	tests := []struct {
		filter ObjectFilter
		want   bool
	}{
		{ObjectFilter{MinConfidence: 0.5}, true},
		{ObjectFilter{MinConfidence: 0.6}, false},
		{ObjectFilter{MinBboxWidth: 10, MinBboxHeight: 10}, true},
		{ObjectFilter{MinBboxHeight: 11}, false},
		{ObjectFilter{MinAspectRatio: 1, MaxAspectRatio: 1}, true},
		{ObjectFilter{RequiredAttrs: []string{Difficult}}, true},
		{ObjectFilter{RequiredAttrs: []string{Difficult, Pose}}, false},
		{ObjectFilter{RequiredAttrs: []string{Truncated}}, false},
	}
	for _, tt := range tests {
		if got := tt.filter.Match(obj); got != tt.want {
			t.Errorf("%+v.Match() = %v, want %v", tt.filter, got, tt.want)
		}
	}
}
