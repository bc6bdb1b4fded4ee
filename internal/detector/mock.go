package detector

import (
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// MockExtractor is a test implementation of the Extractor interface.
// It returns a scripted sequence of results, repeating the last one.
type MockExtractor struct {
	mu      sync.Mutex
	results []Landmarks
	next    int
	delays  []time.Duration
	err     error
	calls   int
}

// NewMockExtractor creates a MockExtractor that returns the given results in order.
func NewMockExtractor(results ...Landmarks) *MockExtractor {
	return &MockExtractor{results: results}
}

// SetResults replaces the scripted results and rewinds playback.
func (m *MockExtractor) SetResults(results ...Landmarks) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = results
	m.next = 0
}

// SetDelays makes the i-th call to Extract take delays[i] before returning.
// Calls past the end of delays return immediately.
func (m *MockExtractor) SetDelays(delays ...time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delays = delays
}

// SetError sets the error that will be returned by Extract.
func (m *MockExtractor) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns how many frames were extracted.
func (m *MockExtractor) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Extract returns the next scripted result or the configured error.
// Calls are counted on entry, before any configured delay.
func (m *MockExtractor) Extract(frame *gocv.Mat) (Landmarks, error) {
	m.mu.Lock()
	call := m.calls
	m.calls++
	var delay time.Duration
	if call < len(m.delays) {
		delay = m.delays[call]
	}

	var (
		lm  Landmarks
		err = m.err
	)
	if err == nil && len(m.results) > 0 {
		lm = m.results[m.next]
		if m.next < len(m.results)-1 {
			m.next++
		}
	}
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return Landmarks{}, err
	}
	return lm, nil
}

// Close is a no-op for the mock extractor.
func (m *MockExtractor) Close() error {
	return nil
}

// OpenHand returns a synthetic open hand with its wrist at (x, y).
// Fingers fan out upward; the thumb points away from the palm.
func OpenHand(x, y float64) []Point {
	points := make([]Point, NumLandmarks)
	points[Wrist] = Point{X: x, Y: y}

	// Thumb: CMC..Tip, then four fingers MCP..Tip.
	for j := 0; j < 4; j++ {
		points[ThumbCMC+j] = Point{X: x + 0.05 + 0.06*float64(j), Y: y - 0.05 - 0.05*float64(j), Z: 0.02}
	}
	for f := 0; f < 4; f++ {
		baseX := x + 0.05 - 0.05*float64(f)
		for j := 0; j < 4; j++ {
			points[IndexMCP+4*f+j] = Point{X: baseX, Y: y - 0.12 - 0.11*float64(j), Z: 0}
		}
	}
	return points
}

// Fist returns a synthetic closed hand with its wrist at (x, y).
// Every fingertip folds back toward the palm.
func Fist(x, y float64) []Point {
	points := make([]Point, NumLandmarks)
	points[Wrist] = Point{X: x, Y: y}

	for j := 0; j < 4; j++ {
		points[ThumbCMC+j] = Point{X: x + 0.04 + 0.01*float64(j), Y: y - 0.05 - 0.02*float64(j), Z: 0.01}
	}
	for f := 0; f < 4; f++ {
		baseX := x + 0.05 - 0.05*float64(f)
		curl := []float64{0.12, 0.14, 0.12, 0.10}
		for j := 0; j < 4; j++ {
			points[IndexMCP+4*f+j] = Point{X: baseX - 0.01*float64(j), Y: y - curl[j], Z: -0.03}
		}
	}
	return points
}

// UpperBodyPose returns a synthetic 33-point pose with shoulders, elbows and
// wrists placed around a torso centered at x; wristLift raises both wrists.
func UpperBodyPose(x, wristLift float64) []Point {
	points := make([]Point, NumPoseLandmarks)
	for i := range points {
		points[i] = Point{X: x, Y: 0.5, Z: 0, Visibility: 0.1}
	}

	points[LeftShoulder] = Point{X: x + 0.15, Y: 0.45, Z: -0.1, Visibility: 0.99}
	points[RightShoulder] = Point{X: x - 0.15, Y: 0.45, Z: -0.1, Visibility: 0.99}
	points[LeftElbow] = Point{X: x + 0.2, Y: 0.65, Z: -0.05, Visibility: 0.95}
	points[RightElbow] = Point{X: x - 0.2, Y: 0.65, Z: -0.05, Visibility: 0.95}
	points[LeftWrist] = Point{X: x + 0.18, Y: 0.8 - wristLift, Z: -0.1, Visibility: 0.9}
	points[RightWrist] = Point{X: x - 0.18, Y: 0.8 - wristLift, Z: -0.1, Visibility: 0.9}

	return points
}
