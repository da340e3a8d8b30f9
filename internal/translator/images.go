package translator

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// ExtractImage parses a `data:image/<fmt>;base64,<data>` URL into its
// normalized format and decoded bytes (spec.md §4.2 "Image extraction").
// jpg normalizes to jpeg.
func ExtractImage(dataURL string) (Image, error) {
	const prefix = "data:image/"
	if !strings.HasPrefix(dataURL, prefix) {
		return Image{}, fmt.Errorf("not a data: image URL")
	}
	rest := dataURL[len(prefix):]

	semi := strings.IndexByte(rest, ';')
	if semi < 0 {
		return Image{}, fmt.Errorf("missing encoding segment")
	}
	format := rest[:semi]
	if format == "jpg" {
		format = "jpeg"
	}

	encSegment := rest[semi+1:]
	comma := strings.IndexByte(encSegment, ',')
	if comma < 0 {
		return Image{}, fmt.Errorf("missing data segment")
	}
	encoding := encSegment[:comma]
	payload := encSegment[comma+1:]

	if encoding != "base64" {
		return Image{}, fmt.Errorf("unsupported encoding %q", encoding)
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Image{}, fmt.Errorf("decoding image data: %w", err)
	}

	return Image{Format: format, Data: data}, nil
}
