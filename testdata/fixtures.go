// Package testdata builds frames and landmark sequences for integration tests.
package testdata

import (
	"fmt"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/features"
	"github.com/ayusman/mudra/internal/frame"
)

// FramePayload renders a solid width x height frame and returns it as a
// JPEG data URL, the way a browser canvas would send it.
func FramePayload(width, height int, c color.RGBA) (string, error) {
	img := gocv.NewMatWithSizeFromScalar(
		gocv.NewScalar(float64(c.B), float64(c.G), float64(c.R), 0),
		height, width, gocv.MatTypeCV8UC3)
	defer img.Close()

	payload, err := frame.Encode(img)
	if err != nil {
		return "", fmt.Errorf("render frame: %w", err)
	}
	return payload, nil
}

// Sequence returns n vectors of lm under layout, drifting every landmark
// horizontally by step per frame.
func Sequence(lm detector.Landmarks, layout features.Layout, n int, step float64) [][]float32 {
	frames := make([][]float32, n)
	for i := range frames {
		frames[i] = features.Vectorize(shift(lm, float64(i)*step), layout)
	}
	return frames
}

// Repeat returns a slice of n identical landmark results, for scripting the
// mock extractor.
func Repeat(lm detector.Landmarks, n int) []detector.Landmarks {
	out := make([]detector.Landmarks, n)
	for i := range out {
		out[i] = lm
	}
	return out
}

func shift(lm detector.Landmarks, dx float64) detector.Landmarks {
	return detector.Landmarks{
		Pose:      shiftPoints(lm.Pose, dx),
		LeftHand:  shiftPoints(lm.LeftHand, dx),
		RightHand: shiftPoints(lm.RightHand, dx),
	}
}

func shiftPoints(points []detector.Point, dx float64) []detector.Point {
	if points == nil {
		return nil
	}
	out := make([]detector.Point, len(points))
	for i, p := range points {
		p.X += dx
		out[i] = p
	}
	return out
}
