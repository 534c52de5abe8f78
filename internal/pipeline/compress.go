package pipeline

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"
)

// compressionStep is how much the quality parameter drops per iteration.
const compressionStep = 5

// recompress iteratively re-encodes an oversized image, walking JPEG quality
// down from 100 in fixed steps until the payload fits under the threshold or
// quality bottoms out. The loop terminates in at most 100/compressionStep
// iterations. Output that would exceed the input at quality 100 falls back
// to the untouched input bytes.
//
// Returns the payload and the extension it should be stored under: "jpg"
// when re-encoding happened, ext unchanged when the input won.
func recompress(data []byte, ext string, threshold int64) ([]byte, string, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode oversized image: %w", err)
	}

	out := data
	outExt := ext
	quality := 100
	for int64(len(out)) > threshold && quality > 0 {
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
			return nil, "", fmt.Errorf("failed to encode at quality %d: %w", quality, err)
		}
		// A quality-100 re-encode can come out bigger than the input; keep
		// the input in that case and let the next step actually shrink.
		if buf.Len() < len(out) {
			out = buf.Bytes()
			outExt = "jpg"
		}
		quality -= compressionStep
	}
	return out, outExt, nil
}
