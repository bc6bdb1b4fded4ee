// Package detector extracts body and hand landmarks from video frames.
package detector

// Hand landmark indices following the MediaPipe convention.
// See: https://developers.google.com/mediapipe/solutions/vision/hand_landmarker
const (
	Wrist        = 0
	ThumbCMC     = 1
	ThumbMCP     = 2
	ThumbIP      = 3
	ThumbTip     = 4
	IndexMCP     = 5
	IndexPIP     = 6
	IndexDIP     = 7
	IndexTip     = 8
	MiddleMCP    = 9
	MiddlePIP    = 10
	MiddleDIP    = 11
	MiddleTip    = 12
	RingMCP      = 13
	RingPIP      = 14
	RingDIP      = 15
	RingTip      = 16
	PinkyMCP     = 17
	PinkyPIP     = 18
	PinkyDIP     = 19
	PinkyTip     = 20
	NumLandmarks = 21
)

// Pose landmark indices used by the upper-body layouts.
const (
	LeftShoulder     = 11
	RightShoulder    = 12
	LeftElbow        = 13
	RightElbow       = 14
	LeftWrist        = 15
	RightWrist       = 16
	NumPoseLandmarks = 33
)

// Source names one landmark set produced by the extractor.
type Source string

const (
	SourcePose      Source = "pose"
	SourceLeftHand  Source = "left_hand"
	SourceRightHand Source = "right_hand"
	// SourceAnyHand resolves to the first detected hand, right hand first.
	SourceAnyHand Source = "hand"
)

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	switch s {
	case SourcePose, SourceLeftHand, SourceRightHand, SourceAnyHand:
		return true
	}
	return false
}

// Point is a single landmark in normalized image coordinates.
// Visibility is only reported for pose landmarks.
type Point struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
	Visibility float64 `json:"visibility,omitempty"`
}

// Landmarks is the result of one extraction. A nil set means the body part
// was not tracked in the frame; absence is a normal outcome, not an error.
type Landmarks struct {
	Pose      []Point `json:"pose"`
	LeftHand  []Point `json:"left_hand"`
	RightHand []Point `json:"right_hand"`
}

// Set returns the landmark set for src, or nil when it is absent.
func (l Landmarks) Set(src Source) []Point {
	switch src {
	case SourcePose:
		return l.Pose
	case SourceLeftHand:
		return l.LeftHand
	case SourceRightHand:
		return l.RightHand
	case SourceAnyHand:
		if len(l.RightHand) > 0 {
			return l.RightHand
		}
		return l.LeftHand
	}
	return nil
}

// Has reports whether the set for src was detected.
func (l Landmarks) Has(src Source) bool {
	return len(l.Set(src)) > 0
}

// Empty reports whether nothing at all was detected.
func (l Landmarks) Empty() bool {
	return len(l.Pose) == 0 && len(l.LeftHand) == 0 && len(l.RightHand) == 0
}
