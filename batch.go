package vocconv

// Conversion of label directories.

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// AnnotatedFile is the annotation for a single image, together with the files it was read from.
type AnnotatedFile struct {
	Annotation *Annotation
	ImagePath  string // The annotated image, may be empty if unknown.
	LabelPath  string // The label file, may be empty.
}

// baseName returns the file name without extension that derived files are named after.
func (f *AnnotatedFile) baseName() (string, error) {
	for _, path := range []string{f.ImagePath, f.Annotation.Filename, f.LabelPath} {
		if path == "" {
			continue
		}
		_, baseNoExt, _ := splitPathNoErr(filepath.FromSlash(path))
		if baseNoExt != "" {
			return baseNoExt, nil
		}
	}
	return "", fmt.Errorf("no file name for the annotation")
}

// AnnotatedFiles is the annotation metadata for a list of files.
type AnnotatedFiles []AnnotatedFile

// labelParserFn parses the label file at labelPath. imagePath is empty if no image was found.
type labelParserFn func(labelPath, imagePath string) (*Annotation, error)

// parseLabelsWithImages parses all label files with the extension labelFileExt in labelDir.
//
// If imageDir is not empty, each label file must have an image with the same base name in
// imageDir. Label files without image are skipped.
func parseLabelsWithImages(labelDir, labelFileExt, imageDir string, parse labelParserFn) (
	AnnotatedFiles, error) {

	// Get the label file paths.
	labelFiles, err := filesByExtInDir(labelDir, labelFileExt)
	if err != nil {
		return nil, err
	}
	log.Printf("Parsing labels for %d files", len(labelFiles))

	// Find the image files and create a map from base file name without ext to ext.
	var imageNamesToExt map[string]string
	if imageDir != "" {
		imageFiles, err := filesByExtInDir(imageDir, "")
		if err != nil {
			return nil, err
		}
		imageNamesToExt = mapFileNamesToExtensions(imageFiles)
	}

	data := make(AnnotatedFiles, 0, len(labelFiles))
	for _, labelPath := range labelFiles {
		// Find the corresponding image.
		var imagePath string
		if imageDir != "" {
			_, baseNoExt, _ := splitPathNoErr(labelPath)
			imageExt, found := imageNamesToExt[baseNoExt]
			if !found {
				log.Printf("No corresponding image file, skipping %q", labelPath)
				continue
			}
			imagePath = filepath.Join(imageDir, baseNoExt+"."+imageExt)
		}

		// Parse the label file.
		a, err := parse(labelPath, imagePath)
		if err != nil {
			log.Printf("Error while parsing, skipping %q: %v", labelPath, err)
			continue
		}

		data = append(data, AnnotatedFile{Annotation: a, ImagePath: imagePath, LabelPath: labelPath})
	}

	return data, nil
}

// FromXMLDir reads all Pascal VOC files (.xml) in labelDir. Files that cannot be parsed are
// skipped. See parseLabelsWithImages for the role of imageDir.
func FromXMLDir(labelDir, imageDir string, opts XMLOptions) (AnnotatedFiles, error) {
	return parseLabelsWithImages(labelDir, ".xml", imageDir,
		func(labelPath, _ string) (*Annotation, error) {
			return FromXML(labelPath, opts)
		})
}

// FromYOLODir reads all YOLO label files (.txt) in labelDir. If imageDir is not empty, the size of
// the corresponding image is used to convert the coordinates to pixels, and the image file name
// becomes the annotation file name. Otherwise the image size from opts is used.
func FromYOLODir(labelDir, imageDir string, opts YOLOOptions) (AnnotatedFiles, error) {
	return parseLabelsWithImages(labelDir, ".txt", imageDir,
		func(labelPath, imagePath string) (*Annotation, error) {
			o := opts
			if imagePath != "" {
				img, _, err := decodeImageConfig(imagePath)
				if err != nil {
					return nil, fmt.Errorf("failed to decode the image metadata: %v", err)
				}
				o.ImageWidth, o.ImageHeight = img.Width, img.Height
			}

			a, err := FromYOLO(labelPath, o)
			if err != nil {
				return nil, err
			}
			if imagePath != "" {
				a.Filename = filepath.Base(imagePath)
			}
			return a, nil
		})
}

// FromLabelMeDir reads all LabelMe files (.json) in labelDir.
func FromLabelMeDir(labelDir, imageDir string) (AnnotatedFiles, error) {
	return parseLabelsWithImages(labelDir, ".json", imageDir,
		func(labelPath, _ string) (*Annotation, error) {
			return FromLabelMe(labelPath)
		})
}

// checkDir returns an error unless dirPath is an existing directory.
func checkDir(dirPath string) error {
	dirInfo, err := os.Stat(dirPath)
	if err != nil || !dirInfo.IsDir() {
		return fmt.Errorf("cannot access directory %q: %v", dirPath, err)
	}
	return nil
}

// WriteXMLDir writes one Pascal VOC file per annotation to dirPath, named after the image.
func WriteXMLDir(dirPath string, data AnnotatedFiles, opts XMLWriteOptions) error {
	if err := checkDir(dirPath); err != nil {
		return err
	}

	for _, f := range data {
		baseNoExt, err := f.baseName()
		if err != nil {
			return err
		}
		if err := WriteXML(filepath.Join(dirPath, baseNoExt+".xml"), f.Annotation, opts); err != nil {
			return err
		}
	}
	return nil
}

// WriteYOLODir writes one YOLO label file per annotation to dirPath, named after the image.
func WriteYOLODir(dirPath string, data AnnotatedFiles, labelMap LabelMap, precision int) error {
	if err := checkDir(dirPath); err != nil {
		return err
	}

	for _, f := range data {
		baseNoExt, err := f.baseName()
		if err != nil {
			return err
		}
		path := filepath.Join(dirPath, baseNoExt+".txt")
		if err := WriteYOLO(path, f.Annotation, labelMap, precision); err != nil {
			return fmt.Errorf("failed to write %q: %v", path, err)
		}
	}
	return nil
}

// WriteLabelMeDir writes one LabelMe file per annotation to dirPath, named after the image.
//
// The image paths are stored relative to dirPath. Annotations without a known image refer to
// their file name and cannot embed the image data.
func WriteLabelMeDir(dirPath string, data AnnotatedFiles, opts LabelMeOptions) error {
	if err := checkDir(dirPath); err != nil {
		return err
	}

	for _, f := range data {
		baseNoExt, err := f.baseName()
		if err != nil {
			return err
		}

		o := opts
		if f.ImagePath != "" {
			o.ImagePath = f.ImagePath
			o.RelativeTo = dirPath
		} else if opts.EmbedImageData {
			return fmt.Errorf("cannot embed the image data for %q: no image file", baseNoExt)
		} else {
			o.ImagePath = f.Annotation.Filename
			o.RelativeTo = ""
		}

		lm, err := f.Annotation.ToLabelMe(o)
		if err != nil {
			return fmt.Errorf("failed to convert %q: %w", baseNoExt, err)
		}
		if err := WriteLabelMe(filepath.Join(dirPath, baseNoExt+".json"), lm); err != nil {
			return err
		}
	}
	return nil
}

// Names returns the distinct object names of all annotations in order of appearance.
func (data AnnotatedFiles) Names() []string {
	seen := make(map[string]bool)
	var names []string
	for _, f := range data {
		for _, n := range f.Annotation.Names() {
			if !seen[n] {
				seen[n] = true
				names = append(names, n)
			}
		}
	}
	return names
}

// MapLabels replaces label (sub-)strings with substitution values, as specified in mappings.
//
// The format of mappings is old=new.
func (data AnnotatedFiles) MapLabels(mappings []string) error {
	if len(mappings) == 0 {
		return nil
	}

	replacements, err := parseLabelMappings(mappings)
	if err != nil {
		return err
	}

	count := 0
	for _, f := range data {
		count += f.Annotation.replaceLabels(replacements)
	}

	log.Printf("The label mappings changed %d labels", count)
	return nil
}

// FilterOptions are the settings for AnnotatedFiles.Filter.
type FilterOptions struct {
	ObjectFilter

	Labels       []string // The object names to keep, empty keeps all.
	Attributes   []string // The attribute names to keep, empty keeps all.
	RequireLabel bool     // Remove files without objects after the other filters.
}

// Filter removes the objects that do not match opts. If opts.Attributes is not empty, only the
// listed attributes are kept; this does not remove any objects.
func (data *AnnotatedFiles) Filter(opts FilterOptions) {
	numFiles := len(*data)
	numLabelsBeforeFilter := 0
	numLabelsAfterFilter := 0

	filtered := (*data)[:0]
	for _, f := range *data {
		numLabelsBeforeFilter += f.Annotation.Len()
		f.Annotation.filterObjectsFunc(opts.Match)
		if len(opts.Labels) > 0 {
			f.Annotation.FilterObjects(opts.Labels)
		}
		if len(opts.Attributes) > 0 {
			f.Annotation.KeepAttributes(opts.Attributes)
		}
		numLabelsAfterFilter += f.Annotation.Len()

		// Drop the file if files with no labels are filtered out.
		if opts.RequireLabel && f.Annotation.Len() == 0 {
			continue
		}
		filtered = append(filtered, f)
	}
	*data = filtered

	log.Printf("Filtered out %d labels and %d files",
		numLabelsBeforeFilter-numLabelsAfterFilter, numFiles-len(*data))
}

// DrawAll renders the boxes of every annotation onto its image and saves the result in outDir,
// under the image file name. If ext is not empty, it replaces the file extension and thereby
// selects the encoding (PNG, WebP or JPEG with jpegQuality).
//
// Images are processed concurrently. Files without image are skipped. The first error cancels
// the remaining work and is returned.
func (data AnnotatedFiles) DrawAll(ctx context.Context, r *Renderer, outDir string,
	opts DrawOptions, ext string, jpegQuality int) error {

	if err := checkDir(outDir); err != nil {
		return err
	}
	log.Print("Drawing bounding boxes")

	// Limit the number of goroutines in flight, as they load potentially large images into
	// memory.
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(2 * runtime.NumCPU())

	for i := range data {
		f := &data[i]
		if f.ImagePath == "" {
			log.Printf("No image for %q, skipping", f.LabelPath)
			continue
		}

		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return drawFile(f, r, outDir, opts, ext, jpegQuality)
		})
	}

	return g.Wait()
}

// drawFile renders the annotation of f onto its image and saves it.
func drawFile(f *AnnotatedFile, r *Renderer, outDir string, opts DrawOptions, ext string,
	jpegQuality int) error {

	img, err := loadImage(f.ImagePath)
	if err != nil {
		return fmt.Errorf("failed to load image %q: %w", f.ImagePath, err)
	}

	out, err := r.DrawBoxes(f.Annotation, img, opts)
	if err != nil {
		return fmt.Errorf("failed to draw %q: %w", f.ImagePath, err)
	}

	_, baseNoExt, imageExt := splitPathNoErr(f.ImagePath)
	if ext == "" {
		ext = "." + imageExt
	}
	outPath := filepath.Join(outDir, baseNoExt+ext)
	if err := saveImage(outPath, out, jpegQuality); err != nil {
		return fmt.Errorf("failed to save %q: %v", outPath, err)
	}
	return nil
}

// Split randomly splits the data into multiple datasets.
//
// The cumulativeSplits specify the cumulative distribution according to which the data is split
// into the returned datasets. Its values must add up to 100! Equal seeds yield equal splits.
func (data AnnotatedFiles) Split(cumulativeSplits []int, seed int64) ([]AnnotatedFiles, error) {
	datasets := make([]AnnotatedFiles, len(cumulativeSplits))

	// Allocate slightly more than the expected size for each dataset.
	var sum int
	for i, s := range cumulativeSplits {
		percent := s - sum
		if percent < 0 {
			return nil, fmt.Errorf("the split percentages must be cumulative")
		}
		datasets[i] = make(AnnotatedFiles, 0, int(1.05*float64(percent)/100*float64(len(data))))
		sum = s
	}
	if sum != 100 {
		return nil, fmt.Errorf("the split percentages do not add up to 100")
	}

	// Split the data.
	rng := rand.New(rand.NewSource(seed))

outer:
	for _, d := range data {
		r := rng.Intn(100)
		for i, s := range cumulativeSplits {
			if r < s {
				datasets[i] = append(datasets[i], d)
				continue outer
			}
		}
	}

	return datasets, nil
}
