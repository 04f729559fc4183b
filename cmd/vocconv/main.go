// Converts between Pascal VOC, YOLO and LabelMe label formats, exports TFRecord files and draws
// bounding boxes onto images.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sensorable/vocconv"
	"github.com/sensorable/vocconv/internal/config"
)

var (
	convertFrom format // The source format.
	convertTo   format // The target format.

	configFilePath string         // The optional YAML configuration file.
	cfg            *config.Config // The effective configuration.

	imageDirPath             string   // The input directory with the labeled images.
	labelDirPath             string   // The input label directory.
	labelOutPaths            []string // The output label dir or file path(s), depending on the format.
	labelOutSplits           []int    // The cumulative split percentages for the output datasets.
	splitSeed                int64    // The seed for the random split.
	labelMapFilePath         string   // The YOLO label map file.
	labelMapOutFilePath      string   // Where to write the YOLO label map, if it is generated.
	tfRecordLabelMapFilePath string   // The TFRecord label map file.
	numShardFiles            int      // The number of shard files to create.

	imageWidth  int // The image width for YOLO input without images.
	imageHeight int // The image height for YOLO input without images.
	precision   int // The YOLO output precision, negative to use the configuration.

	labelMappings      string // A comma-separated string of label mappings.
	filterLabels       string // A comma-separated string of labels to keep (empty keeps all).
	filterRequireLabel bool   // Filter out files with no labels (after other filters).

	filterAttributes     string  // A comma-separated string of attributes to keep (empty keeps all).
	filterRequiredAttrs  string  // A comma-separated string of attributes that must be set.
	filterConfidence     float64 // The minimum confidence of objects with a confidence value.
	filterMinBboxWidth   float64 // The minimum bbox width.
	filterMinBboxHeight  float64 // The minimum bbox height.
	filterMinAspectRatio float64 // The minimum aspect ratio of bboxes (w/h).
	filterMaxAspectRatio float64 // The maximum aspect ratio of bboxes (w/h).

	drawOutDirPath string // The output directory for images with boxes drawn.
	drawEncoding   string // The file type for drawn images, empty to keep the input type.
)

type format int

// The known label formats.
const (
	Unknown format = iota // If an unknown format is specified.
	XML                   // Pascal VOC
	YOLO
	LabelMe
	TFRecord
)

func formatFrom(s string) format {
	switch s {
	case "xml", "voc":
		return XML
	case "yolo":
		return YOLO
	case "labelme":
		return LabelMe
	case "tfrecord":
		return TFRecord
	}
	return Unknown
}

func init() {
	flag.Usage = func() {
		_, _ = fmt.Fprintf(os.Stderr, "Usage of %s:\n", filepath.Base(os.Args[0]))
		_, _ = fmt.Fprintln(os.Stderr, "  xml input options:\t\t-labels <dir> [-images <dir>]")
		_, _ = fmt.Fprintln(os.Stderr, "  xml output options:\t\t-labels-out <dir>")
		_, _ = fmt.Fprintln(os.Stderr, "  yolo input options:\t\t-labels <dir> [-images <dir> | "+
			"-image-width -image-height] [-label-map]")
		_, _ = fmt.Fprintln(os.Stderr, "  yolo output options:\t\t-labels-out <dir> [-label-map |"+
			" -label-map-out]")
		_, _ = fmt.Fprintln(os.Stderr, "  labelme input options:\t-labels <dir> [-images <dir>]")
		_, _ = fmt.Fprintln(os.Stderr, "  labelme output options:\t-labels-out <dir>")
		_, _ = fmt.Fprintln(os.Stderr, "  tfrecord output options:\t-labels-out <file>"+
			" -tfrecord-label-map-file [-num-shards] (requires -images)")
		_, _ = fmt.Fprintln(os.Stderr)
		flag.PrintDefaults()
	}

	printUsageAndExit := func(msg ...interface{}) {
		log.Print(msg...)
		flag.Usage()
		os.Exit(1)
	}

	// Format arguments.
	from := flag.String("from", "", "The source `format` {xml, yolo, labelme}")
	to := flag.String("to", "", "The target `format` {xml, yolo, labelme, tfrecord}")

	flag.StringVar(&configFilePath, "config", configFilePath,
		"The `path` to a YAML configuration file")

	// Path arguments.
	flag.StringVar(&imageDirPath, "images", imageDirPath,
		"The `path` to the image input directory; label files without image are skipped")
	flag.StringVar(&labelDirPath, "labels", labelDirPath,
		"The `path` to the label input directory")
	outPaths := flag.String("labels-out", "",
		"The comma-separated paths (`path[,...]`) to the label output directories (xml, yolo,"+
			" labelme) or files (tfrecord); must be one path per value in flag -split")
	outSplits := flag.String("split", "100",
		"The comma-separated output split percentages (`percent[,...]`) to divide labels into;"+
			" must add up to 100%")
	flag.Int64Var(&splitSeed, "split-seed", time.Now().UnixNano(),
		"The `seed` for the random split")
	flag.StringVar(&labelMapFilePath, "label-map", labelMapFilePath,
		"The YOLO label map file `path` (.pbtxt, .yaml, .json or one class name per line);"+
			" overrides the configuration")
	flag.StringVar(&labelMapOutFilePath, "label-map-out", labelMapOutFilePath,
		"The `path` to write the label map to, if it is generated from the labels (yolo only)")
	flag.StringVar(&tfRecordLabelMapFilePath, "tfrecord-label-map-file", tfRecordLabelMapFilePath,
		"The TFRecord label map file `path` (.pbtxt)")

	flag.IntVar(&numShardFiles, "num-shards", 1,
		"The number of shard files to create (tfrecord only)")

	// YOLO arguments.
	flag.IntVar(&imageWidth, "image-width", imageWidth,
		"The image width in `pixels` for YOLO input without -images")
	flag.IntVar(&imageHeight, "image-height", imageHeight,
		"The image height in `pixels` for YOLO input without -images")
	flag.IntVar(&precision, "precision", -1,
		"The number of decimal `digits` for YOLO output (negative uses the configuration)")

	// Conversion and filter arguments.
	flag.StringVar(&labelMappings, "map-labels", labelMappings,
		"Comma-separated list of old=new label (sub-)string replacements")
	flag.StringVar(&filterLabels, "filter-labels", filterLabels,
		"Comma-separated list of labels to keep (after map-labels; empty string keeps all)")
	flag.BoolVar(&filterRequireLabel, "require-label", filterRequireLabel,
		"Require at least one label (after filters) to keep the file")
	flag.StringVar(&filterAttributes, "filter-attributes", filterAttributes,
		"Comma-separated list of attributes to keep (empty string keeps all)")
	flag.StringVar(&filterRequiredAttrs, "filter-required-attrs", filterRequiredAttrs,
		"Comma-separated list of required attributes whose values must not be the zero value for"+
			" their type to keep the object")
	flag.Float64Var(&filterConfidence, "min-confidence", filterConfidence,
		"The minimum confidence value to keep a label; range [0.0, 1.0)")
	flag.Float64Var(&filterMinBboxWidth, "min-bbox-width", filterMinBboxWidth,
		"The min. required width in `pixels` for object bounding boxes")
	flag.Float64Var(&filterMinBboxHeight, "min-bbox-height", filterMinBboxHeight,
		"The min. required height in `pixels` for object bounding boxes")
	flag.Float64Var(&filterMinAspectRatio, "min-bbox-aspect-ratio", filterMinAspectRatio,
		"The min. required aspect `ratio` (width/height) for object bounding boxes (zero disables"+
			" the filter)")
	flag.Float64Var(&filterMaxAspectRatio, "max-bbox-aspect-ratio", filterMaxAspectRatio,
		"The max. required aspect `ratio` (width/height) for object bounding boxes (zero disables"+
			" the filter)")

	// Drawing arguments.
	flag.StringVar(&drawOutDirPath, "draw-out", drawOutDirPath,
		"The `path` to the output directory for images with the bounding boxes drawn"+
			" (requires -images)")
	flag.StringVar(&drawEncoding, "draw-enc", drawEncoding,
		"The `encoding` for drawn images {jpg, png, webp}; empty keeps the input encoding")

	// Parse and validate flags.
	flag.Parse()

	convertFrom = formatFrom(*from)
	convertTo = formatFrom(*to)

	// Validate the conversion direction.
	if convertFrom == Unknown || convertFrom == TFRecord {
		printUsageAndExit("Unsupported input format")
	} else if convertTo == Unknown {
		printUsageAndExit("Unsupported output format")
	}

	// Load the configuration.
	if configFilePath != "" {
		var err error
		if cfg, err = config.LoadFromFile(configFilePath); err != nil {
			printUsageAndExit(err)
		}
	} else {
		cfg = config.Default()
	}
	if labelMapFilePath != "" {
		cfg.YOLO.LabelMapPath = labelMapFilePath
		cfg.YOLO.Labels = nil
	}
	if precision >= 0 {
		cfg.YOLO.Precision = precision
	}
	if err := cfg.Validate(); err != nil {
		printUsageAndExit("Invalid configuration: ", err)
	}

	// Validate input arguments.
	if labelDirPath == "" {
		printUsageAndExit("Missing label input path argument")
	}
	if (convertTo == TFRecord || drawOutDirPath != "") && imageDirPath == "" {
		printUsageAndExit("Missing image input path argument")
	}
	if imageWidth < 0 || imageHeight < 0 {
		printUsageAndExit("Invalid image size")
	}
	if (imageWidth > 0) != (imageHeight > 0) {
		printUsageAndExit("-image-width and -image-height must be given together")
	}

	// Validate filter arguments.
	if filterConfidence < 0 || filterConfidence >= 1 {
		printUsageAndExit("Invalid -min-confidence, must be in [0.0, 1.0): ", filterConfidence)
	}
	if filterMinBboxWidth < 0 || filterMinBboxHeight < 0 {
		printUsageAndExit("Invalid minimum bounding box size")
	}
	if filterMinAspectRatio < 0 || filterMaxAspectRatio < 0 ||
		(filterMaxAspectRatio > 0 && filterMinAspectRatio > filterMaxAspectRatio) {
		printUsageAndExit("Invalid bounding box aspect ratio range")
	}

	// Validate output split arguments.
	if *outPaths == "" {
		printUsageAndExit("Missing label output path argument")
	}
	labelOutPaths = strings.Split(*outPaths, ",")
	splits := strings.Split(*outSplits, ",")
	if len(splits) != len(labelOutPaths) {
		printUsageAndExit("The number of output datasets defined by -split and the number of" +
			" paths in -labels-out must match")
	}

	// Parse splits as cumulative int percentages.
	var splitSum int
	for _, v := range splits {
		if i, err := strconv.Atoi(v); err != nil || i < 0 || i > 100 {
			printUsageAndExit("Invalid value in -split: ", v)
		} else {
			splitSum += i
			labelOutSplits = append(labelOutSplits, splitSum)
		}
	}
	if splitSum != 100 {
		printUsageAndExit("The values in -split must add up to 100%")
	}

	// Validate other output arguments.
	if convertTo == TFRecord && tfRecordLabelMapFilePath == "" {
		printUsageAndExit("Missing TFRecord label map path argument")
	}
	switch strings.ToLower(drawEncoding) {
	case "":
	case "jpg", "jpeg", "png", "webp":
		drawEncoding = "." + strings.ToLower(drawEncoding)
	default:
		printUsageAndExit("Unsupported encoding in -draw-enc: ", drawEncoding)
	}

	// Clean path arguments.
	if imageDirPath != "" {
		imageDirPath = filepath.Clean(imageDirPath)
	}
	if drawOutDirPath != "" {
		drawOutDirPath = filepath.Clean(drawOutDirPath)
		if drawOutDirPath == imageDirPath {
			printUsageAndExit("The image input and output paths cannot be identical")
		}
	}

	labelDirPath = filepath.Clean(labelDirPath)
	for i, v := range labelOutPaths {
		labelOutPaths[i] = filepath.Clean(v)
		if labelDirPath == labelOutPaths[i] {
			printUsageAndExit("The label input and output paths cannot be identical")
		}
	}

	if tfRecordLabelMapFilePath != "" {
		tfRecordLabelMapFilePath = filepath.Clean(tfRecordLabelMapFilePath)
	}
}

func main() {
	labelMap, err := cfg.LabelMap()
	if err != nil {
		log.Fatal("Failed to load the label map: ", err)
	}

	// Parse input.
	var af vocconv.AnnotatedFiles
	switch convertFrom {
	case XML:
		var opts vocconv.XMLOptions
		if opts, err = cfg.XMLOptions(); err == nil {
			af, err = vocconv.FromXMLDir(labelDirPath, imageDirPath, opts)
		}
	case YOLO:
		opts := vocconv.YOLOOptions{
			ImageWidth:  imageWidth,
			ImageHeight: imageHeight,
			Precision:   cfg.YOLO.DecodePrecision,
		}
		if labelMap != nil {
			opts.LabelMap = labelMap.Inverse()
		}
		af, err = vocconv.FromYOLODir(labelDirPath, imageDirPath, opts)
	case LabelMe:
		af, err = vocconv.FromLabelMeDir(labelDirPath, imageDirPath)
	default:
		err = fmt.Errorf("unsupported input format")
	}
	if err != nil {
		log.Fatal("Failed to parse the input: ", err)
	}

	// Map labels.
	if len(labelMappings) > 0 {
		if err := af.MapLabels(strings.Split(labelMappings, ",")); err != nil {
			log.Fatal("Failed to map labels: ", err)
		}
	}

	// Apply filters.
	filterOpts := vocconv.FilterOptions{
		ObjectFilter: vocconv.ObjectFilter{
			MinConfidence:  filterConfidence,
			MinBboxWidth:   filterMinBboxWidth,
			MinBboxHeight:  filterMinBboxHeight,
			MinAspectRatio: filterMinAspectRatio,
			MaxAspectRatio: filterMaxAspectRatio,
		},
		RequireLabel: filterRequireLabel,
	}
	if filterLabels != "" {
		filterOpts.Labels = strings.Split(filterLabels, ",")
	}
	if filterAttributes != "" {
		filterOpts.Attributes = strings.Split(filterAttributes, ",")
	}
	if filterRequiredAttrs != "" {
		filterOpts.RequiredAttrs = strings.Split(filterRequiredAttrs, ",")
	}
	af.Filter(filterOpts)

	// Draw bounding boxes.
	if drawOutDirPath != "" {
		drawOpts, err := cfg.DrawOptions()
		if err != nil {
			log.Fatal(err)
		}
		if err := os.MkdirAll(drawOutDirPath, 0755); err != nil {
			log.Fatal("Failed to create the image output directory: ", err)
		}
		r := vocconv.NewRenderer(vocconv.DefaultPalette())
		err = af.DrawAll(context.Background(), r, drawOutDirPath, drawOpts, drawEncoding,
			cfg.Draw.JPEGQuality)
		if err != nil {
			log.Fatal("Drawing failed: ", err)
		}
	}

	// Generate the YOLO label map from the labels, if none is configured.
	if convertTo == YOLO && labelMap == nil {
		labelMap = vocconv.NewLabelMap(af.Names(), 0)
		if labelMapOutFilePath != "" {
			if err := vocconv.SaveLabelMap(labelMapOutFilePath, labelMap); err != nil {
				log.Fatal("Failed to write the label map: ", err)
			}
		} else {
			log.Printf("Generated label map (use -label-map-out to save it): %v", labelMap.Names())
		}
	}

	// Split data into output datasets.
	var datasets []vocconv.AnnotatedFiles
	if len(labelOutSplits) == 1 {
		datasets = []vocconv.AnnotatedFiles{af}
	} else {
		if datasets, err = af.Split(labelOutSplits, splitSeed); err != nil {
			log.Fatal("Failed to split the dataset: ", err)
		}
	}

	// Write output datasets.
	for i, data := range datasets {
		outPath := labelOutPaths[i]
		if convertTo != TFRecord {
			if err := os.MkdirAll(outPath, 0755); err != nil {
				log.Fatal("Failed to create the label output directory: ", err)
			}
		}

		switch convertTo {
		case XML:
			var opts vocconv.XMLWriteOptions
			if opts, err = cfg.XMLWriteOptions(); err == nil {
				err = vocconv.WriteXMLDir(outPath, data, opts)
			}
		case YOLO:
			err = vocconv.WriteYOLODir(outPath, data, labelMap, cfg.YOLO.Precision)
		case LabelMe:
			err = vocconv.WriteLabelMeDir(outPath, data, cfg.LabelMeOptions())
		case TFRecord:
			err = vocconv.WriteTFRecord(outPath, tfRecordLabelMapFilePath, data, numShardFiles)
		default:
			err = fmt.Errorf("unsupported output format")
		}
		if err != nil {
			log.Fatal("Conversion failed: ", err)
		}

		log.Printf("Successfully wrote labels for %d files to %s", len(data), outPath)
	}

	log.Print("Total number of labelled files: ", len(af))
}
