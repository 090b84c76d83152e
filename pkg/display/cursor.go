package display

import (
	"fmt"
	"image"
	"image/png"
	"os"
)

// LoadCursor reads the pointer image from a PNG file.
func LoadCursor(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("cursor %v: %w", path, err)
	}
	return img, nil
}
