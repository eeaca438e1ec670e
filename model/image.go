package model

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

var ErrEmptyImage = errors.New("image is empty")

// Image is an uploaded picture handed to adapters by reference.
type Image struct {
	Name     string
	MIMEType string
	Bytes    []byte
}

// NewImage checks that data decodes as a supported image format and records
// its MIME type.
func NewImage(name string, data []byte) (Image, error) {
	if len(data) == 0 {
		return Image{}, ErrEmptyImage
	}
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Image{}, errors.Wrap(err, "unsupported or corrupt image")
	}
	if name == "" {
		name = "image." + format
	}
	return Image{
		Name:     name,
		MIMEType: "image/" + format,
		Bytes:    data,
	}, nil
}

func (i Image) Empty() bool {
	return len(i.Bytes) == 0
}
