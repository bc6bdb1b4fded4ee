// Package frame decodes data-URL image payloads into OpenCV matrices.
package frame

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"gocv.io/x/gocv"
)

// ErrDecode is returned for payloads that are not a base64 encoded image.
var ErrDecode = errors.New("decode frame")

// Decode parses a payload of the form "<prefix>,<base64 image>". Only the text
// after the first comma is decoded. The caller must Close the returned Mat.
func Decode(payload string) (*gocv.Mat, error) {
	_, encoded, ok := strings.Cut(payload, ",")
	if !ok {
		return nil, fmt.Errorf("%w: missing data URL separator", ErrDecode)
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrDecode)
	}

	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if mat.Empty() {
		mat.Close()
		return nil, fmt.Errorf("%w: unreadable image bytes", ErrDecode)
	}
	return &mat, nil
}

// Encode builds a JPEG data URL from img, the format browsers send with
// canvas.toDataURL("image/jpeg").
func Encode(img gocv.Mat) (string, error) {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	if err != nil {
		return "", fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.GetBytes()), nil
}
