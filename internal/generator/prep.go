package generator

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
)

// normalizeForInference downscales oversized media before it is sent to the
// model and re-encodes it as JPEG. Images already JPEG and within bounds
// pass through untouched.
func normalizeForInference(data []byte, maxEdge int) ([]byte, error) {
	if maxEdge <= 0 {
		maxEdge = 1024
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode media: %w", err)
	}

	bounds := img.Bounds()
	if format == "jpeg" && bounds.Dx() <= maxEdge && bounds.Dy() <= maxEdge {
		return data, nil
	}

	if bounds.Dx() > maxEdge || bounds.Dy() > maxEdge {
		img = imaging.Fit(img, maxEdge, maxEdge, imaging.Lanczos)
	}

	buf := &bytes.Buffer{}
	if err := imaging.Encode(buf, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, fmt.Errorf("encode media: %w", err)
	}
	return buf.Bytes(), nil
}
