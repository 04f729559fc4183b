// Package config loads the conversion settings of the vocconv command from a YAML file.
package config

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"image/color"
	"io"
	"os"
	"strings"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/sensorable/vocconv"
)

// Config holds the conversion configuration
type Config struct {
	XML     XMLConfig     `yaml:"xml"`
	YOLO    YOLOConfig    `yaml:"yolo"`
	LabelMe LabelMeConfig `yaml:"labelme"`
	Draw    DrawConfig    `yaml:"draw"`
}

// XMLConfig holds the Pascal VOC settings
type XMLConfig struct {
	// AttributeTypes maps object attribute names to auto, string, int, float or bool.
	AttributeTypes map[string]string `yaml:"attribute_types"`
	ClipZero       bool              `yaml:"clip_zero"`
	// Drop lists the fields left out when writing: path, folder, source, pose, segmented,
	// truncated or all.
	Drop []string `yaml:"drop"`
}

// YOLOConfig holds the YOLO settings
type YOLOConfig struct {
	Precision       int            `yaml:"precision"`
	DecodePrecision int            `yaml:"decode_precision"`
	LabelMapPath    string         `yaml:"label_map"`
	Labels          map[string]int `yaml:"labels"` // Takes precedence over LabelMapPath.
}

// LabelMeConfig holds the LabelMe settings
type LabelMeConfig struct {
	Version        string `yaml:"version"`
	EmbedImageData bool   `yaml:"embed_image_data"`
}

// DrawConfig holds the box rendering settings
type DrawConfig struct {
	Width       int     `yaml:"width"`
	Color       string  `yaml:"color"` // "#rrggbb", or empty for per label colors.
	FontSize    float64 `yaml:"font_size"`
	FontPath    string  `yaml:"font_path"`
	Language    string  `yaml:"language"`
	JPEGQuality int     `yaml:"jpeg_quality"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		YOLO: YOLOConfig{
			Precision:       vocconv.DefaultYOLOPrecision,
			DecodePrecision: vocconv.DefaultYOLODecodePrecision,
		},
		LabelMe: LabelMeConfig{
			Version: vocconv.DefaultLabelMeVersion,
		},
		Draw: DrawConfig{
			Width:       vocconv.DefaultDrawWidth,
			FontSize:    vocconv.DefaultDrawFontSize,
			JPEGQuality: 90,
		},
	}
}

// LoadFromFile loads the configuration from a YAML file. Settings missing from the file keep
// their default values.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(config); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if _, err := c.XMLOptions(); err != nil {
		return err
	}
	if _, err := c.XMLWriteOptions(); err != nil {
		return err
	}

	if c.YOLO.Precision < 0 || c.YOLO.Precision > 15 {
		return fmt.Errorf("yolo.precision must be between 0 and 15")
	}
	if c.YOLO.DecodePrecision < 0 || c.YOLO.DecodePrecision > 15 {
		return fmt.Errorf("yolo.decode_precision must be between 0 and 15")
	}
	for name, id := range c.YOLO.Labels {
		if id < 0 {
			return fmt.Errorf("yolo.labels: negative class ID for %q", name)
		}
	}

	if c.Draw.Width < 0 {
		return fmt.Errorf("draw.width must not be negative")
	}
	if c.Draw.FontSize < 0 {
		return fmt.Errorf("draw.font_size must not be negative")
	}
	if c.Draw.JPEGQuality < 1 || c.Draw.JPEGQuality > 100 {
		return fmt.Errorf("draw.jpeg_quality must be between 1 and 100")
	}
	if c.Draw.Language != "" {
		if _, err := language.Parse(c.Draw.Language); err != nil {
			return fmt.Errorf("draw.language: %v", err)
		}
	}
	if _, err := parseColor(c.Draw.Color); err != nil {
		return err
	}

	return nil
}

// XMLOptions returns the options for reading Pascal VOC files.
func (c *Config) XMLOptions() (vocconv.XMLOptions, error) {
	opts := vocconv.XMLOptions{ClipZero: c.XML.ClipZero}
	if len(c.XML.AttributeTypes) > 0 {
		opts.AttributeTypes = make(map[string]vocconv.AttrType, len(c.XML.AttributeTypes))
	}
	for name, typeName := range c.XML.AttributeTypes {
		t, err := vocconv.ParseAttrType(typeName)
		if err != nil {
			return vocconv.XMLOptions{}, fmt.Errorf("xml.attribute_types: %v", err)
		}
		opts.AttributeTypes[name] = t
	}
	return opts, nil
}

// XMLWriteOptions returns the options for writing Pascal VOC files.
func (c *Config) XMLWriteOptions() (vocconv.XMLWriteOptions, error) {
	var opts vocconv.XMLWriteOptions
	for _, field := range c.XML.Drop {
		switch strings.ToLower(field) {
		case "all":
			opts = vocconv.DropAll()
		case "path":
			opts.DropPath = true
		case "folder":
			opts.DropFolder = true
		case "source":
			opts.DropSource = true
		case "pose":
			opts.DropPose = true
		case "segmented":
			opts.DropSegmented = true
		case "truncated":
			opts.DropTruncated = true
		default:
			return vocconv.XMLWriteOptions{}, fmt.Errorf("xml.drop: unknown field %q", field)
		}
	}
	return opts, nil
}

// LabelMap returns the configured YOLO label map, or nil if there is none.
func (c *Config) LabelMap() (vocconv.LabelMap, error) {
	if len(c.YOLO.Labels) > 0 {
		m := make(vocconv.LabelMap, len(c.YOLO.Labels))
		for k, v := range c.YOLO.Labels {
			m[k] = v
		}
		return m, nil
	}
	if c.YOLO.LabelMapPath != "" {
		return vocconv.LoadLabelMap(c.YOLO.LabelMapPath)
	}
	return nil, nil
}

// LabelMeOptions returns the options for writing LabelMe files.
func (c *Config) LabelMeOptions() vocconv.LabelMeOptions {
	return vocconv.LabelMeOptions{
		Version:        c.LabelMe.Version,
		EmbedImageData: c.LabelMe.EmbedImageData,
	}
}

// DrawOptions returns the options for rendering boxes.
func (c *Config) DrawOptions() (vocconv.DrawOptions, error) {
	col, err := parseColor(c.Draw.Color)
	if err != nil {
		return vocconv.DrawOptions{}, err
	}
	return vocconv.DrawOptions{
		Width:        c.Draw.Width,
		Color:        col,
		FontSize:     c.Draw.FontSize,
		FontPath:     c.Draw.FontPath,
		LanguageCode: c.Draw.Language,
	}, nil
}

// parseColor parses "#rrggbb" or "rrggbb". An empty string yields nil.
func parseColor(s string) (*color.NRGBA, error) {
	if s == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(strings.TrimPrefix(s, "#"))
	if err != nil || len(b) != 3 {
		return nil, fmt.Errorf("draw.color must have the form #rrggbb, found %q", s)
	}
	return &color.NRGBA{R: b[0], G: b[1], B: b[2], A: 255}, nil
}
