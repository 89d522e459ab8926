// Package overlay - draws decoded detections onto frames.
package overlay

import (
	"crypto/md5"
	"fmt"
	"image"

	"github.com/nvr-ai/go-yolox/inference"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// Draw outlines each detection in its label colour and writes "label score" above it.
// Coordinates are in the network input space, so mat must be the stride-fitted frame
// the output was produced from.
func Draw(mat *gocv.Mat, detections []inference.Detection) {
	for _, d := range detections {
		r := d.Box.Rect()
		box := image.Rect(int(r.X1), int(r.Y1), int(r.X2), int(r.Y2))
		c := d.Color.RGBA()

		gocv.Rectangle(mat, box, c, 2)
		origin := box.Min
		if origin.Y < 12 {
			origin.Y = box.Max.Y + 12
		} else {
			origin.Y -= 4
		}
		gocv.PutText(mat, fmt.Sprintf("%s %.2f", d.Label, d.Box.Score), origin, gocv.FontHersheyPlain, 0.9, c, 1)
	}
}

// Annotate draws detections onto img and writes the result to path.
//
// Arguments:
//   - img: The stride-fitted frame.
//   - detections: Detections decoded for img.
//   - path: Output image path; the extension selects the encoder.
//
// Returns:
//   - string: MD5 checksum of the annotated pixels.
//   - error: If img cannot be converted or the file cannot be written.
func Annotate(img image.Image, detections []inference.Detection, path string) (string, error) {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return "", errors.Wrap(err, "converting image")
	}
	defer mat.Close()

	Draw(&mat, detections)
	if !gocv.IMWrite(path, mat) {
		return "", errors.Errorf("writing %s", path)
	}
	return Checksum(mat), nil
}

// Checksum returns a hex MD5 over the Mat's pixel bytes, or "empty".
func Checksum(mat gocv.Mat) string {
	if mat.Empty() {
		return "empty"
	}
	data, err := mat.DataPtrUint8()
	if err != nil {
		return "empty"
	}
	return fmt.Sprintf("%x", md5.Sum(data))
}
