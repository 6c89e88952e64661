// Package diagram validates uploaded architecture diagrams and encodes them
// for prompts.
package diagram

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"time"

	"github.com/capitalize-ai/cost-estimator/internal/model"
)

var (
	// ErrUnsupportedImageFormat is returned for anything other than png or jpeg.
	ErrUnsupportedImageFormat = errors.New("unsupported image format")
	ErrEmptyImage             = errors.New("image is empty")
	ErrImageTooLarge          = errors.New("image exceeds maximum size")
)

// DataURIPrefix is used for every image regardless of its real format; the
// chat-completion backend accepts it for png as well.
const DataURIPrefix = "data:image/jpeg;base64,"

// Image is an accepted upload.
type Image struct {
	Data []byte
	Info model.ImageInfo
}

// Decode checks that data is a png or jpeg no larger than maxBytes
// (0 disables the limit) and reads its dimensions.
func Decode(data []byte, maxBytes int) (*Image, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}
	if maxBytes > 0 && len(data) > maxBytes {
		return nil, ErrImageTooLarge
	}

	format, err := detectFormat(data)
	if err != nil {
		return nil, err
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImageFormat, err)
	}

	return &Image{
		Data: data,
		Info: model.ImageInfo{
			Format:     format,
			Bytes:      len(data),
			Width:      cfg.Width,
			Height:     cfg.Height,
			ReceivedAt: time.Now(),
		},
	}, nil
}

func detectFormat(data []byte) (string, error) {
	switch ct := http.DetectContentType(data); ct {
	case "image/png":
		return "png", nil
	case "image/jpeg":
		return "jpeg", nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedImageFormat, ct)
	}
}

// EncodeForPrompt returns the standard base64 encoding of data.
func EncodeForPrompt(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DataURI embeds data in the data URI shape the backend expects.
func DataURI(data []byte) string {
	return DataURIPrefix + EncodeForPrompt(data)
}
