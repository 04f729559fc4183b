package vocconv

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/disintegration/imaging"
)

// writeTestImage writes a width x height white image to path.
func writeTestImage(t *testing.T, path string, width, height int) {
	t.Helper()
	img := imaging.New(width, height, color.White)
	if err := imaging.Save(img, path); err != nil {
		t.Fatal(err)
	}
}

func TestToLabelMe(t *testing.T) {
	a := testAnnotation()
	a.Objects = a.Objects[:1]
	a.Objects[0].Attributes = Attributes{{Pose, "Left"}, {Truncated, 1}}
	a.Objects[0].Parts = []Object{{Name: "head", BndBox: BndBox{50, 250, 70, 270}}}

	lm, err := a.ToLabelMe(LabelMeOptions{ImagePath: "000001.jpg"})
	if err != nil {
		t.Fatal(err)
	}

	if lm.Version != DefaultLabelMeVersion || lm.ImagePath != "000001.jpg" || lm.ImageData != nil {
		t.Errorf("unexpected header: %+v", lm)
	}
	if lm.ImageWidth != 353 || lm.ImageHeight != 500 {
		t.Errorf("size = %dx%d", lm.ImageWidth, lm.ImageHeight)
	}
	if len(lm.Shapes) != 2 {
		t.Fatalf("found %d shapes, want 2", len(lm.Shapes))
	}

	if lm.Shapes[0].Label != "head" || lm.Shapes[0].Flags == nil {
		t.Errorf("part shape = %+v", lm.Shapes[0])
	}
	dog := lm.Shapes[1]
	wantPoints := [][2]float64{{48, 240}, {195, 240}, {195, 371}, {48, 371}}
	if dog.Label != "dog" || dog.ShapeType != "polygon" || !reflect.DeepEqual(dog.Points, wantPoints) {
		t.Errorf("shape = %+v", dog)
	}
	if !reflect.DeepEqual(dog.Flags, a.Objects[0].Attributes) {
		t.Errorf("flags = %v", dog.Flags)
	}

	enc, err := json.Marshal(lm)
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(enc, &raw); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"version", "flags", "shapes", "imagePath", "imageData",
		"imageHeight", "imageWidth"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("missing key %q in %s", key, enc)
		}
	}
	if raw["imageData"] != nil {
		t.Errorf("imageData = %v, want null", raw["imageData"])
	}
	shape := raw["shapes"].([]interface{})[0].(map[string]interface{})
	if shape["group_id"] != nil {
		t.Errorf("group_id = %v, want null", shape["group_id"])
	}
	if flags := shape["flags"].(map[string]interface{}); flags["pose"] != "Left" {
		t.Errorf("flags = %v", flags)
	}
}

func TestToLabelMeEmbedImage(t *testing.T) {
	dir := t.TempDir()
	imagePath := filepath.Join(dir, "images", "000001.png")
	if err := os.Mkdir(filepath.Dir(imagePath), 0755); err != nil {
		t.Fatal(err)
	}
	writeTestImage(t, imagePath, 20, 10)

	a := &Annotation{Filename: "000001.png", Size: &Size{Width: 20, Height: 10}}
	lm, err := a.ToLabelMe(LabelMeOptions{
		ImagePath:      imagePath,
		EmbedImageData: true,
		RelativeTo:     filepath.Join(dir, "labels"),
	})
	if err != nil {
		t.Fatal(err)
	}

	if want := filepath.Join("..", "images", "000001.png"); lm.ImagePath != want {
		t.Errorf("image path = %q, want %q", lm.ImagePath, want)
	}
	if lm.ImageData == nil {
		t.Fatal("no image data")
	}
	data, err := base64.StdEncoding.DecodeString(*lm.ImageData)
	if err != nil {
		t.Fatal(err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("image data is not a PNG: %v", err)
	}
	if img.Bounds() != image.Rect(0, 0, 20, 10) {
		t.Errorf("image bounds = %v", img.Bounds())
	}
	if len(lm.Shapes) != 0 || lm.Shapes == nil {
		t.Errorf("shapes = %#v, want an empty list", lm.Shapes)
	}
}

func TestToLabelMeMissingImage(t *testing.T) {
	a := testAnnotation()
	_, err := a.ToLabelMe(LabelMeOptions{
		ImagePath:      filepath.Join(t.TempDir(), "missing.jpg"),
		EmbedImageData: true,
	})
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("ToLabelMe() = %v, want fs.ErrNotExist", err)
	}

	if _, err := (&Annotation{Filename: "a.jpg"}).ToLabelMe(LabelMeOptions{}); !errors.Is(err, ErrInconsistentAnnotation) {
		t.Errorf("ToLabelMe() without size = %v, want ErrInconsistentAnnotation", err)
	}
}

func TestImageFormatFor(t *testing.T) {
	tests := []struct {
		ext  string
		want imaging.Format
	}{
		{".jpg", imaging.JPEG},
		{".JPEG", imaging.JPEG},
		{".png", imaging.PNG},
		{".webp", imaging.PNG},
		{"", imaging.PNG},
	}
	for _, tt := range tests {
		if got := imageFormatFor(tt.ext); got != tt.want {
			t.Errorf("imageFormatFor(%q) = %v, want %v", tt.ext, got, tt.want)
		}
	}
}

func TestFromLabelMe(t *testing.T) {
	doc := `{
  "version": "5.3.0",
  "flags": {},
  "shapes": [
    {"label": "dog", "points": [[48, 240], [195, 240], [195, 371], [48, 371]],
     "group_id": null, "shape_type": "polygon", "flags": {"pose": "Left", "truncated": 1}},
    {"label": "ball", "points": [[10, 10], [13, 14]], "group_id": null,
     "shape_type": "circle", "flags": {}},
    {"label": "person", "points": [[352, 498], [8, 12]], "group_id": 1,
     "shape_type": "rectangle", "flags": null}
  ],
  "imagePath": "../images/000001.jpg",
  "imageData": null,
  "imageHeight": 500,
  "imageWidth": 353
}`
	path := filepath.Join(t.TempDir(), "000001.json")
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	a, err := FromLabelMe(path)
	if err != nil {
		t.Fatal(err)
	}
	if a.Filename != "000001.jpg" || *a.Size != (Size{Width: 353, Height: 500}) {
		t.Errorf("annotation = %+v, size %+v", a, a.Size)
	}

	want := []Object{
		{Name: "dog", BndBox: BndBox{48, 240, 195, 371},
			Attributes: Attributes{{Pose, "Left"}, {Truncated, 1}}},
		{Name: "ball", BndBox: BndBox{5, 5, 15, 15}, Attributes: Attributes{}},
		{Name: "person", BndBox: BndBox{8, 12, 352, 498}},
	}
	if !reflect.DeepEqual(a.Objects, want) {
		t.Errorf("objects = %+v, want %+v", a.Objects, want)
	}
}

func TestLabelMeRoundTrip(t *testing.T) {
	a := testAnnotation()
	a.Objects[0].Attributes = Attributes{{Pose, "Left"}, {Difficult, false}}

	lm, err := a.ToLabelMe(LabelMeOptions{ImagePath: a.Filename})
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "000001.json")
	if err := WriteLabelMe(path, lm); err != nil {
		t.Fatal(err)
	}
	b, err := FromLabelMe(path)
	if err != nil {
		t.Fatal(err)
	}

	if b.Filename != a.Filename || *b.Size != (Size{Width: 353, Height: 500}) {
		t.Errorf("annotation = %+v", b)
	}
	if b.Len() != a.Len() {
		t.Fatalf("found %d objects, want %d", b.Len(), a.Len())
	}
	for i := range a.Objects {
		if b.Objects[i].Name != a.Objects[i].Name || b.Objects[i].BndBox != a.Objects[i].BndBox {
			t.Errorf("object %d = %+v, want %+v", i, b.Objects[i], a.Objects[i])
		}
	}
	if !reflect.DeepEqual(b.Objects[0].Attributes, a.Objects[0].Attributes) {
		t.Errorf("attributes = %#v, want %#v", b.Objects[0].Attributes, a.Objects[0].Attributes)
	}
}
