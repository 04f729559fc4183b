package vocconv

import (
	"bytes"
	"encoding/base64"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // Registers the WebP decoder with the image package.
)

// decodeImageConfig opens the file at path and returns the results of image.DecodeConfig.
func decodeImageConfig(path string) (config image.Config, format string, err error) {
	file, err := os.Open(path)
	if err != nil {
		return image.Config{}, "", err
	}
	defer file.Close()

	return image.DecodeConfig(file)
}

// loadImage reads and decodes the image at path. The EXIF orientation of JPEG images is applied,
// so that the pixels match the coordinates an annotation tool displayed.
func loadImage(path string) (image.Image, error) {
	return imaging.Open(path, imaging.AutoOrientation(true))
}

// imageFormatFor returns the encoding used for an image with the given file extension: JPEG for
// .jpg and .jpeg, PNG for everything else.
func imageFormatFor(ext string) imaging.Format {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg":
		return imaging.JPEG
	}
	return imaging.PNG
}

// encodeImageBase64 encodes img in the format selected by the file extension ext and returns the
// base64 encoded (standard encoding, padded) result.
func encodeImageBase64(img image.Image, ext string) (string, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imageFormatFor(ext)); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// saveImage saves the image to path, encoding it as PNG, WebP or JPEG, depending on the file
// extension of path.
func saveImage(path string, img image.Image, jpegQuality int) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return imaging.Save(img, path)
	case ".webp":
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		if err := webp.Encode(f, img, &webp.Options{Quality: float32(jpegQuality)}); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}
	return imaging.Save(img, path, imaging.JPEGQuality(jpegQuality))
}
