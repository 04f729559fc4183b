package vocconv

import (
	"bytes"
	"errors"
	"log"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestToYOLO(t *testing.T) {
	a := testAnnotation()
	a.Objects = a.Objects[:2]

	tests := []struct {
		name      string
		labelMap  LabelMap
		precision int
		want      string
	}{
		{"dog only", LabelMap{"dog": 0}, 3, "0 0.344 0.611 0.416 0.262"},
		{"both", LabelMap{"dog": 0, "person": 1}, 3,
			"0 0.344 0.611 0.416 0.262\n1 0.510 0.510 0.975 0.972"},
		{"precision 6", LabelMap{"dog": 0}, 6, "0 0.344193 0.611000 0.416431 0.262000"},
		{"default precision", LabelMap{"dog": 0}, -1, "0 0.344 0.611 0.416 0.262"},
		{"no known labels", LabelMap{"cat": 0}, 3, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := a.ToYOLO(tt.labelMap, tt.precision)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("ToYOLO() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestToYOLOWithoutSize(t *testing.T) {
	for _, size := range []*Size{nil, {Width: 0, Height: 10}, {Width: 10, Height: -1}} {
		a := &Annotation{Filename: "a.jpg", Size: size}
		if _, err := a.ToYOLO(LabelMap{}, 3); !errors.Is(err, ErrInconsistentAnnotation) {
			t.Errorf("ToYOLO() with size %v = %v, want ErrInconsistentAnnotation", size, err)
		}
	}
}

func TestDecodeYOLO(t *testing.T) {
	opts := YOLOOptions{
		ImageWidth:  100,
		ImageHeight: 200,
		LabelMap:    map[int]string{2: "person"},
	}
	a, err := DecodeYOLO(strings.NewReader("2 0.5 0.5 0.2 0.4\n"), "000001", opts)
	if err != nil {
		t.Fatal(err)
	}

	if a.Filename != "000001" {
		t.Errorf("file name = %q", a.Filename)
	}
	if *a.Size != (Size{Width: 100, Height: 200}) {
		t.Errorf("size = %+v", *a.Size)
	}
	want := []Object{{Name: "person", BndBox: BndBox{40, 60, 60, 140}}}
	if !reflect.DeepEqual(a.Objects, want) {
		t.Errorf("objects = %+v, want %+v", a.Objects, want)
	}
}

func TestDecodeYOLOVariants(t *testing.T) {
	tests := []struct {
		name  string
		input string
		opts  YOLOOptions
		want  []Object
	}{
		{
			name:  "unmapped class",
			input: "7 0.5 0.5 0.2 0.4",
			opts:  YOLOOptions{ImageWidth: 100, ImageHeight: 200, LabelMap: map[int]string{2: "person"}},
			want:  []Object{{Name: "7", BndBox: BndBox{40, 60, 60, 140}}},
		},
		{
			name:  "no label map",
			input: "2 0.5 0.5 0.2 0.4",
			opts:  YOLOOptions{ImageWidth: 100, ImageHeight: 200},
			want:  []Object{{Name: "2", BndBox: BndBox{40, 60, 60, 140}}},
		},
		{
			name:  "no image size",
			input: "0 0.5 0.5 0.2 0.4",
			want:  []Object{{Name: "0", BndBox: BndBox{0.4, 0.3, 0.6, 0.7}}},
		},
		{
			name:  "confidence and blank lines",
			input: "\n0 0.5 0.5 0.2 0.4 0.87\n\n",
			opts:  YOLOOptions{ImageWidth: 10, ImageHeight: 10},
			want: []Object{{
				Name:       "0",
				BndBox:     BndBox{4, 3, 6, 7},
				Attributes: Attributes{{Confidence, 0.87}},
			}},
		},
		{
			name:  "rounding",
			input: "0 0.33333333 0.5 0.1 0.1",
			opts:  YOLOOptions{ImageWidth: 1000, ImageHeight: 1000, Precision: 2},
			want:  []Object{{Name: "0", BndBox: BndBox{283.33, 450, 383.33, 550}}},
		},
		{
			name:  "empty file",
			input: "",
			want:  []Object{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := DecodeYOLO(strings.NewReader(tt.input), "img", tt.opts)
			if err != nil {
				t.Fatal(err)
			}
			if len(a.Objects) != len(tt.want) {
				t.Fatalf("objects = %+v, want %+v", a.Objects, tt.want)
			}
			for i := range tt.want {
				got, want := a.Objects[i], tt.want[i]
				if got.Name != want.Name || !boxAlmostEqual(got.BndBox, want.BndBox, 1e-9) ||
					!reflect.DeepEqual(got.Attributes, want.Attributes) {
					t.Errorf("object %d = %+v, want %+v", i, got, want)
				}
			}
		})
	}
}

func TestDecodeYOLOErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		line  int
	}{
		{"too few values", "0 0.5 0.5 0.2", 1},
		{"bad class", "dog 0.5 0.5 0.2 0.4", 1},
		{"bad coordinate", "0 0.5 0.5 0.2 0.4\n1 0.5 x 0.2 0.4", 2},
		{"bad score", "0 0.5 0.5 0.2 0.4 high", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeYOLO(strings.NewReader(tt.input), "img", YOLOOptions{})
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("DecodeYOLO() = %v, want a *ParseError", err)
			}
			if pe.Line != tt.line {
				t.Errorf("line = %d, want %d", pe.Line, tt.line)
			}
		})
	}
}

func TestFromYOLO(t *testing.T) {
	path := filepath.Join(t.TempDir(), "000001.txt")
	if err := os.WriteFile(path, []byte("0 0.5 0.5 0.2 0.4\n1 x"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := FromYOLO(path, YOLOOptions{})
	var pe *ParseError
	if !errors.As(err, &pe) || pe.Path != path || pe.Line != 2 {
		t.Errorf("FromYOLO() = %v, want a *ParseError for %s line 2", err, path)
	}

	if err := os.WriteFile(path, []byte("0 0.5 0.5 0.2 0.4\n"), 0644); err != nil {
		t.Fatal(err)
	}
	a, err := FromYOLO(path, YOLOOptions{ImageWidth: 10, ImageHeight: 10})
	if err != nil {
		t.Fatal(err)
	}
	if a.Filename != "000001" || a.Len() != 1 {
		t.Errorf("annotation = %+v", a)
	}
}

func TestYOLORoundTrip(t *testing.T) {
	a := testAnnotation()
	labelMap := LabelMap{"dog": 0, "person": 1}
	const precision = 6

	path := filepath.Join(t.TempDir(), "000001.txt")
	if err := WriteYOLO(path, a, labelMap, precision); err != nil {
		t.Fatal(err)
	}
	b, err := FromYOLO(path, YOLOOptions{
		ImageWidth:  a.Size.Width,
		ImageHeight: a.Size.Height,
		LabelMap:    labelMap.Inverse(),
		Precision:   precision,
	})
	if err != nil {
		t.Fatal(err)
	}

	if got, want := objectNames(b.Objects), objectNames(a.Objects); !reflect.DeepEqual(got, want) {
		t.Fatalf("names = %v, want %v", got, want)
	}
	// Each normalised value is off by at most half a unit in the last place, which grows by the
	// image size when converted back to pixels.
	tolerance := 0.5 * math.Pow10(-precision) * float64(a.Size.Height) * 2
	for i := range a.Objects {
		if !boxAlmostEqual(a.Objects[i].BndBox, b.Objects[i].BndBox, tolerance) {
			t.Errorf("box %d = %v, want %v", i, b.Objects[i].BndBox, a.Objects[i].BndBox)
		}
	}
}

func boxAlmostEqual(a, b BndBox, tolerance float64) bool {
	return math.Abs(a.XMin-b.XMin) <= tolerance && math.Abs(a.YMin-b.YMin) <= tolerance &&
		math.Abs(a.XMax-b.XMax) <= tolerance && math.Abs(a.YMax-b.YMax) <= tolerance
}

func TestDecodeYOLOMissingSizeWarning(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	tests := []struct {
		name string
		opts YOLOOptions
		want string
	}{
		{"no size", YOLOOptions{}, "No image size"},
		{"no height", YOLOOptions{ImageWidth: 100}, "No image height"},
		{"no width", YOLOOptions{ImageHeight: 200}, "No image width"},
		{"full size", YOLOOptions{ImageWidth: 100, ImageHeight: 200}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			if _, err := DecodeYOLO(strings.NewReader("0 0.5 0.5 0.2 0.4"), "img", tt.opts); err != nil {
				t.Fatal(err)
			}
			if tt.want == "" {
				if buf.Len() != 0 {
					t.Errorf("unexpected warning: %s", buf.String())
				}
			} else if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("log = %q, want a warning containing %q", buf.String(), tt.want)
			}
		})
	}
}
