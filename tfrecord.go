package vocconv

// TFRecord object detection specific functionality.

import (
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"math"
	"os"

	"github.com/golang/protobuf/proto"
	"github.com/ryszard/tfutils/go/example"
	"github.com/ryszard/tfutils/go/tfrecord"
	"github.com/ryszard/tfutils/proto/tensorflow/core/example" // package tensorflow
)

// TFFeatureMap maps feature names to their values. Values must be convertible to
// tensorflow.Feature.
type TFFeatureMap map[string]interface{}

// tfRecordLabels assigns class IDs, starting at 1, to labels. ID 0 is reserved for the background
// class by the TensorFlow object detection API.
type tfRecordLabels struct {
	labelMap LabelMap
	nextID   int
}

func (l *tfRecordLabels) id(label string) int {
	id, ok := l.labelMap[label]
	if !ok {
		id = l.nextID
		l.labelMap[label] = id
		l.nextID++
	}
	return id
}

// loadTFRecordLabels loads the label map from path. It is not an error if the file does not exist.
func loadTFRecordLabels(path string) (*tfRecordLabels, error) {
	labelMap, err := LoadLabelMap(path)
	if os.IsNotExist(err) {
		log.Print("Creating a new label map")
		return &tfRecordLabels{labelMap: LabelMap{}, nextID: 1}, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to read the label map from %q: %v", path, err)
	}

	for k, v := range labelMap {
		if v <= 0 {
			return nil, fmt.Errorf("invalid label map %q: IDs must start at 1: %s: %d", path, k, v)
		}
	}
	log.Print("Label map loaded successfully")
	return &tfRecordLabels{labelMap: labelMap, nextID: labelMap.maxID() + 1}, nil
}

// toTFRecord converts the annotation for a single image to the TFRecord feature map.
func toTFRecord(fileData AnnotatedFile, labels *tfRecordLabels) (TFFeatureMap, error) {
	// Get the image width and height.
	img, format, err := decodeImageConfig(fileData.ImagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to decode the image metadata: %v", err)
	}

	// Read the image data.
	imgData, err := ioutil.ReadFile(fileData.ImagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read the image: %v", err)
	}

	// Prepare the feature map for the per file data.
	f := make(TFFeatureMap, 16)
	f["image/height"] = img.Height
	f["image/width"] = img.Width
	f["image/filename"] = fileData.ImagePath
	f["image/source_id"] = fileData.ImagePath
	f["image/encoded"] = imgData
	f["image/format"] = format

	// Prepare the per object data. Relative boxes are stored as they are.
	objects := fileData.Annotation.Objects
	xmins := make([]float32, len(objects))
	ymins := make([]float32, len(objects))
	xmaxs := make([]float32, len(objects))
	ymaxs := make([]float32, len(objects))
	classes := make([]string, len(objects))
	classIDs := make([]int64, len(objects))
	difficult := make([]int64, len(objects))
	truncated := make([]int64, len(objects))
	for i, obj := range objects {
		b := obj.BndBox
		if !b.IsRelative() {
			b = b.Scale(1/float64(img.Width), 1/float64(img.Height))
		}
		xmins[i] = float32(b.XMin)
		ymins[i] = float32(b.YMin)
		xmaxs[i] = float32(b.XMax)
		ymaxs[i] = float32(b.YMax)
		classes[i] = obj.Name
		classIDs[i] = int64(labels.id(obj.Name))
		difficult[i] = flagFeature(obj.Attributes, Difficult)
		truncated[i] = flagFeature(obj.Attributes, Truncated)
	}
	f["image/object/bbox/xmin"] = xmins
	f["image/object/bbox/ymin"] = ymins
	f["image/object/bbox/xmax"] = xmaxs
	f["image/object/bbox/ymax"] = ymaxs
	f["image/object/class/text"] = classes
	f["image/object/class/label"] = classIDs
	f["image/object/difficult"] = difficult
	f["image/object/truncated"] = truncated

	return f, nil
}

// flagFeature converts a flag attribute, as decoded from Pascal VOC, to 0 or 1.
func flagFeature(attrs Attributes, name string) int64 {
	v, _ := attrs.Get(name)
	switch v := v.(type) {
	case bool:
		if v {
			return 1
		}
	case int:
		if v != 0 {
			return 1
		}
	case float64:
		if v != 0 {
			return 1
		}
	case string:
		if b, err := castAttr(v, AttrBool); err == nil && b.(bool) {
			return 1
		}
	}
	return 0
}

// WriteCustomTFRecord works like WriteTFRecord, except that it allows for the TFFeatureMap to be
// customised.
//
// Before generating a tensorflow.Example from each AnnotatedFile and writing it to the TFRecord
// file, the source data and TFFeatureMap containing the default conversion for object records are
// passed to customiseFeature, which may modify the feature map to its liking, as long as all of its
// values can be converted to tensorflow.Feature.
func WriteCustomTFRecord(recordFilePath, labelMapPath string, data AnnotatedFiles,
	numShards int, customiseFeature func(f AnnotatedFile, m TFFeatureMap)) (err error) {
	defer func() {
		if e := recover(); e != nil {
			err = fmt.Errorf("conversion to TensorFlow Example failed: %v", e)
		}
	}()

	if numShards <= 0 {
		numShards = 1
	}

	labels, err := loadTFRecordLabels(labelMapPath)
	if err != nil {
		return err
	}

	fmtShardSuffix := func(idx int) string {
		return fmt.Sprintf("-%05d-of-%05d", idx, numShards)
	}

	var shardFile *os.File
	shardSize := int(math.Ceil(float64(len(data)) / float64(numShards)))
	shardIdx := -1

	// Convert and serialise one data element at a time.
	for i, fileData := range data {
		// Check if a new shard file needs to be opened for writing.
		if i%shardSize == 0 {
			shardIdx++

			// Close the previous shard file.
			if shardFile != nil {
				if err := shardFile.Close(); err != nil {
					return fmt.Errorf("failed to close shard %d: %v", shardIdx-1, err)
				}
				shardFile = nil
			}

			// Create the new shard file.
			shardPath := recordFilePath
			if numShards > 1 {
				shardPath += fmtShardSuffix(shardIdx)
			}
			f, err := os.Create(shardPath)
			if err != nil {
				return fmt.Errorf("failed to create shard at %q: %v", shardPath, err)
			}
			shardFile = f
		}

		// Convert the file data to an example.
		features, err := toTFRecord(fileData, labels)
		if err != nil {
			log.Printf("Failed to convert %q: %v", fileData.ImagePath, err)
			continue
		}
		if customiseFeature != nil {
			customiseFeature(fileData, features)
		}
		tfExample := example.New(features)

		// Write the example.
		if err := writeTFRecordExample(shardFile, tfExample); err != nil {
			shardFile.Close()
			return fmt.Errorf("failed to write example for %q: %v", fileData.ImagePath, err)
		}
	}

	if shardFile != nil {
		if err := shardFile.Close(); err != nil {
			return fmt.Errorf("failed to close shard %d: %v", shardIdx, err)
		}
	}

	return SaveLabelMap(labelMapPath, labels.labelMap)
}

// WriteTFRecord does a streaming conversion, serialisation and file write for the annotation data
// to one or more TFRecord files stored under recordFilePath (with suffixes added when numShards>1).
// Each AnnotatedFile must have an ImagePath, since the encoded image is part of the record.
//
// Labels are mapped to IDs with the label map at labelMapPath, if it exists. Labels without an ID
// get the next free one and the updated map is written back to labelMapPath.
func WriteTFRecord(recordFilePath, labelMapPath string, data AnnotatedFiles, numShards int) error {
	return WriteCustomTFRecord(recordFilePath, labelMapPath, data, numShards, nil)
}

// writeTFRecordExample serialises the example and writes it as a TFRecord to w.
func writeTFRecordExample(w io.Writer, e *tensorflow.Example) error {
	enc, err := proto.Marshal(e)
	if err != nil {
		return err
	}

	return tfrecord.Write(w, enc)
}
