package recognizer

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/features"
	"github.com/ayusman/mudra/internal/frame"
	"github.com/ayusman/mudra/internal/labels"
	"github.com/ayusman/mudra/internal/session"
	"github.com/ayusman/mudra/internal/store"
	"github.com/ayusman/mudra/internal/window"
)

func testFrame(t *testing.T) string {
	t.Helper()
	img := gocv.NewMatWithSize(32, 32, gocv.MatTypeCV8UC3)
	defer img.Close()

	payload, err := frame.Encode(img)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	return payload
}

type fixture struct {
	rec        *Recognizer
	extractor  *detector.MockExtractor
	classifier *classifier.MockClassifier
	sessions   *session.Manager
	history    *fakeHistory
	image      string
}

type fakeHistory struct {
	mu          sync.Mutex
	predictions []store.Prediction
}

func (h *fakeHistory) Create(p *store.Prediction) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.predictions = append(h.predictions, *p)
	return nil
}

func (h *fakeHistory) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.predictions)
}

func newFixture(t *testing.T, m Manifest) *fixture {
	t.Helper()
	return newFixtureWithBuffers(t, m, window.Memory())
}

func newFixtureWithBuffers(t *testing.T, m Manifest, factory window.Factory) *fixture {
	t.Helper()

	lm, err := labels.FromList([]string{"one", "two", "three"})
	if err != nil {
		t.Fatalf("FromList() error = %v", err)
	}

	f := &fixture{
		extractor:  detector.NewMockExtractor(detector.Landmarks{RightHand: detector.OpenHand(0.5, 0.5)}),
		classifier: classifier.NewMockClassifier(3, 1),
		sessions:   session.NewManager(factory, 0),
		history:    &fakeHistory{},
		image:      testFrame(t),
	}
	t.Cleanup(f.sessions.Close)

	if m.Labels == "" {
		m.Labels = "labels.json"
	}
	if m.Classifier == "" {
		m.Classifier = ClassifierTemplate
	}
	if m.Layout == nil {
		m.Layout = json.RawMessage(`"right_hand"`)
	}

	f.rec, err = New(&m, f.classifier, lm, Options{
		Extractor: f.extractor,
		Sessions:  f.sessions,
		History:   f.history,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return f
}

func TestHandle_FillThenReset(t *testing.T) {
	f := newFixture(t, Manifest{Name: "numbers", Window: 5})
	ctx := context.Background()

	for cycle := 0; cycle < 2; cycle++ {
		for i := 1; i < 5; i++ {
			res, err := f.rec.Handle(ctx, "s1", f.image)
			if err != nil {
				t.Fatalf("Handle() error = %v", err)
			}
			if res.Status != StatusCollecting || res.Collected != i || res.Needed != 5-i {
				t.Fatalf("cycle %d frame %d: got %+v", cycle, i, res)
			}
		}

		res, err := f.rec.Handle(ctx, "s1", f.image)
		if err != nil {
			t.Fatalf("Handle() error = %v", err)
		}
		if res.Status != StatusPredicted || res.Label != "two" {
			t.Fatalf("cycle %d: got %+v, want predicted two", cycle, res)
		}
	}

	windows := f.classifier.Windows()
	if len(windows) != 2 {
		t.Fatalf("classifier called %d times, want 2", len(windows))
	}
	for _, w := range windows {
		if len(w) != 5 || len(w[0]) != 63 {
			t.Errorf("window shape = %d x %d, want 5 x 63", len(w), len(w[0]))
		}
	}
}

func TestHandle_DecodeErrorLeavesWindowUnchanged(t *testing.T) {
	f := newFixture(t, Manifest{Name: "numbers", Window: 5})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		f.rec.Handle(ctx, "s1", f.image)
	}

	if _, err := f.rec.Handle(ctx, "s1", "data:image/jpeg;base64,@@@"); !errors.Is(err, frame.ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
	if f.extractor.Calls() != 3 {
		t.Errorf("extractor called %d times, want 3", f.extractor.Calls())
	}

	res, err := f.rec.Handle(ctx, "s1", f.image)
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if res.Collected != 4 {
		t.Errorf("Collected = %d, want 4", res.Collected)
	}
}

func TestHandle_ExtractErrorLeavesWindowUnchanged(t *testing.T) {
	f := newFixture(t, Manifest{Name: "numbers", Window: 5})
	ctx := context.Background()

	f.rec.Handle(ctx, "s1", f.image)

	f.extractor.SetError(errors.New("mediapipe crashed"))
	if _, err := f.rec.Handle(ctx, "s1", f.image); !errors.Is(err, ErrExtract) {
		t.Fatalf("expected ErrExtract, got %v", err)
	}
	f.extractor.SetError(nil)

	res, _ := f.rec.Handle(ctx, "s1", f.image)
	if res.Collected != 2 {
		t.Errorf("Collected = %d, want 2", res.Collected)
	}
}

func TestHandle_ClassifyFailureKeepsFullWindow(t *testing.T) {
	f := newFixture(t, Manifest{Name: "numbers", Window: 3})
	ctx := context.Background()

	f.rec.Handle(ctx, "s1", f.image)
	f.rec.Handle(ctx, "s1", f.image)

	f.classifier.SetError(errors.New("model exploded"))
	if _, err := f.rec.Handle(ctx, "s1", f.image); err == nil {
		t.Fatal("expected classify error")
	}
	f.classifier.SetError(nil)

	// The window stayed full, so the very next frame slides it and classifies.
	res, err := f.rec.Handle(ctx, "s1", f.image)
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if res.Status != StatusPredicted {
		t.Errorf("status = %s, want predicted", res.Status)
	}
}

func TestHandle_UnknownClassIndex(t *testing.T) {
	f := newFixture(t, Manifest{Name: "numbers", Window: 1})
	f.classifier.SetPrediction(classifier.Prediction{Index: 7})

	if _, err := f.rec.Handle(context.Background(), "", f.image); !errors.Is(err, labels.ErrUnknownClassIndex) {
		t.Errorf("expected ErrUnknownClassIndex, got %v", err)
	}
}

func TestHandle_SessionsAreIndependent(t *testing.T) {
	f := newFixture(t, Manifest{Name: "numbers", Window: 5})
	ctx := context.Background()

	f.rec.Handle(ctx, "a", f.image)
	f.rec.Handle(ctx, "a", f.image)
	res, _ := f.rec.Handle(ctx, "b", f.image)
	if res.Collected != 1 {
		t.Errorf("session b Collected = %d, want 1", res.Collected)
	}

	// No id shares the default session.
	f.rec.Handle(ctx, "", f.image)
	res, _ = f.rec.Handle(ctx, session.DefaultID, f.image)
	if res.Collected != 2 {
		t.Errorf("default session Collected = %d, want 2", res.Collected)
	}
}

func TestHandle_StaticMode(t *testing.T) {
	f := newFixture(t, Manifest{Name: "vowels", Mode: ModeStatic, Layout: json.RawMessage(`"hand"`)})
	ctx := context.Background()

	res, err := f.rec.Handle(ctx, "", f.image)
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if res.Status != StatusPredicted || res.Label != "two" {
		t.Errorf("got %+v, want predicted two", res)
	}

	f.extractor.SetResults(detector.Landmarks{Pose: detector.UpperBodyPose(0.5, 0)})
	res, err = f.rec.Handle(ctx, "", f.image)
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if res.Status != StatusNoHand || res.Label != NoHandLabel {
		t.Errorf("got %+v, want no hand", res)
	}

	if got := len(f.classifier.Windows()); got != 1 {
		t.Errorf("classifier called %d times, want 1", got)
	}
	if f.sessions.Len() != 0 {
		t.Errorf("static mode created %d sessions", f.sessions.Len())
	}
}

func TestHandle_Stride(t *testing.T) {
	f := newFixture(t, Manifest{Name: "numbers", Window: 4, Stride: 1})
	ctx := context.Background()

	var predicted []int
	for i := 1; i <= 7; i++ {
		res, err := f.rec.Handle(ctx, "s1", f.image)
		if err != nil {
			t.Fatalf("Handle() error = %v", err)
		}
		if res.Status == StatusPredicted {
			predicted = append(predicted, i)
		}
	}

	want := []int{4, 5, 6, 7}
	if len(predicted) != len(want) {
		t.Fatalf("predicted at frames %v, want %v", predicted, want)
	}
}

func TestHandle_SingleShotDropsSession(t *testing.T) {
	f := newFixture(t, Manifest{Name: "numbers", Window: 2, SingleShot: true})
	ctx := context.Background()

	f.rec.Handle(ctx, "s1", f.image)
	if f.sessions.Len() != 1 {
		t.Fatalf("sessions = %d, want 1", f.sessions.Len())
	}
	res, _ := f.rec.Handle(ctx, "s1", f.image)
	if res.Status != StatusPredicted {
		t.Fatalf("status = %s, want predicted", res.Status)
	}
	if f.sessions.Len() != 0 {
		t.Errorf("sessions = %d after single shot, want 0", f.sessions.Len())
	}
}

func TestHandle_RecordsHistory(t *testing.T) {
	f := newFixture(t, Manifest{Name: "numbers", Window: 1, RecordHistory: true})

	f.rec.Handle(context.Background(), "", f.image)
	if f.history.len() != 1 {
		t.Fatalf("history = %d, want 1", f.history.len())
	}
	p := f.history.predictions[0]
	if p.Recognizer != "numbers" || p.SessionID != session.DefaultID || p.Label != "two" {
		t.Errorf("unexpected prediction %+v", p)
	}

	g := newFixture(t, Manifest{Name: "quiet", Window: 1})
	g.rec.Handle(context.Background(), "", g.image)
	if g.history.len() != 0 {
		t.Errorf("history recorded without record_history")
	}
}

func TestHandle_PublishesEveryPrediction(t *testing.T) {
	f := newFixture(t, Manifest{Name: "numbers", Window: 2})

	published := &fakeHistory{}
	m := f.rec.Manifest()
	lm := f.rec.Labels()
	rec, err := New(&m, f.classifier, lm, Options{
		Extractor: f.extractor,
		Sessions:  f.sessions,
		History:   f.history,
		Publisher: published,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := context.Background()
	rec.Handle(ctx, "pub", f.image)
	if published.len() != 0 {
		t.Fatalf("published while collecting")
	}
	rec.Handle(ctx, "pub", f.image)

	if published.len() != 1 {
		t.Fatalf("published = %d, want 1", published.len())
	}
	if p := published.predictions[0]; p.SessionID != "pub" || p.Label != "two" {
		t.Errorf("unexpected event %+v", p)
	}
	if f.history.len() != 0 {
		t.Errorf("history recorded without record_history")
	}
}

func TestHandle_ConcurrentSameSession(t *testing.T) {
	f := newFixture(t, Manifest{Name: "numbers", Window: 5})
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		predicted int
	)
	for c := 0; c < 4; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				res, err := f.rec.Handle(ctx, "shared", f.image)
				if err != nil {
					t.Errorf("Handle() error = %v", err)
					return
				}
				if res.Collected > 5 {
					t.Errorf("Collected = %d exceeds window", res.Collected)
				}
				if res.Status == StatusPredicted {
					mu.Lock()
					predicted++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	// 100 frames into windows of 5, each classified exactly once.
	if predicted != 20 {
		t.Errorf("predicted %d times, want 20", predicted)
	}
}

func TestHandle_KeepsArrivalOrder(t *testing.T) {
	f := newFixture(t, Manifest{Name: "numbers", Window: 2})
	f.extractor.SetResults(
		detector.Landmarks{RightHand: detector.OpenHand(0.1, 0.5)},
		detector.Landmarks{RightHand: detector.OpenHand(0.9, 0.5)},
	)
	// The first frame is slow to extract; the second is instant.
	f.extractor.SetDelays(100*time.Millisecond, 0)
	ctx := context.Background()

	first := make(chan error, 1)
	go func() {
		_, err := f.rec.Handle(ctx, "s1", f.image)
		first <- err
	}()
	for f.extractor.Calls() == 0 {
		time.Sleep(time.Millisecond)
	}

	res, err := f.rec.Handle(ctx, "s1", f.image)
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if err := <-first; err != nil {
		t.Fatalf("first Handle() error = %v", err)
	}
	if res.Status != StatusPredicted {
		t.Fatalf("second frame: got %+v, want predicted", res)
	}

	windows := f.classifier.Windows()
	if len(windows) != 1 {
		t.Fatalf("classifier called %d times, want 1", len(windows))
	}
	if got := windows[0][0][0]; got != float32(0.1) {
		t.Errorf("window starts with wrist x = %v, want the first frame (0.1)", got)
	}
	if got := windows[0][1][0]; got != float32(0.9) {
		t.Errorf("window ends with wrist x = %v, want the second frame (0.9)", got)
	}
}

// cancelingBuffer cancels the request as soon as its window fills, the way a
// client hanging up during classification would. Like a network-backed
// buffer it refuses to change state on a cancelled context.
type cancelingBuffer struct {
	window.Buffer
	cancel context.CancelFunc
}

func (b *cancelingBuffer) Push(ctx context.Context, v features.Vector) (window.Status, error) {
	status, err := b.Buffer.Push(ctx, v)
	if err == nil && status.Ready() {
		b.cancel()
	}
	return status, err
}

func (b *cancelingBuffer) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.Buffer.Reset(ctx)
}

func (b *cancelingBuffer) Evict(ctx context.Context, n int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.Buffer.Evict(ctx, n)
}

func TestHandle_ClearsWindowAfterCallerCancels(t *testing.T) {
	tests := []struct {
		name     string
		manifest Manifest
		wantLen  int
	}{
		{"reset", Manifest{Name: "numbers", Window: 3}, 0},
		{"stride", Manifest{Name: "numbers", Window: 3, Stride: 1}, 2},
		{"single shot", Manifest{Name: "numbers", Window: 3, SingleShot: true}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			// Buffers outlive session entries, like Redis lists shared by replicas.
			var mu sync.Mutex
			shared := make(map[string]window.Buffer)
			memory := window.Memory()
			factory := func(key string, capacity int) window.Buffer {
				mu.Lock()
				defer mu.Unlock()
				if _, ok := shared[key]; !ok {
					shared[key] = &cancelingBuffer{Buffer: memory(key, capacity), cancel: cancel}
				}
				return shared[key]
			}
			f := newFixtureWithBuffers(t, tt.manifest, factory)

			var res Result
			for i := 0; i < 3; i++ {
				var err error
				res, err = f.rec.Handle(ctx, "s1", f.image)
				if err != nil {
					t.Fatalf("frame %d: Handle() error = %v", i, err)
				}
			}
			if res.Status != StatusPredicted {
				t.Fatalf("got %+v, want predicted", res)
			}
			if ctx.Err() == nil {
				t.Fatal("expected the request context to be cancelled")
			}

			mu.Lock()
			buf := shared[session.Key("numbers", "s1")]
			mu.Unlock()
			n, err := buf.Len(context.Background())
			if err != nil {
				t.Fatalf("Len() error = %v", err)
			}
			if n != tt.wantLen {
				t.Errorf("window holds %d frames after classification, want %d", n, tt.wantLen)
			}
		})
	}
}

func TestResetSession(t *testing.T) {
	f := newFixture(t, Manifest{Name: "numbers", Window: 5})
	ctx := context.Background()

	f.rec.Handle(ctx, "s1", f.image)
	f.rec.Handle(ctx, "s1", f.image)

	if err := f.rec.ResetSession(ctx, "s1"); err != nil {
		t.Fatalf("ResetSession() error = %v", err)
	}
	res, _ := f.rec.Handle(ctx, "s1", f.image)
	if res.Collected != 1 {
		t.Errorf("Collected = %d after reset, want 1", res.Collected)
	}

	if err := f.rec.ResetSession(ctx, "ghost"); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("expected session.ErrNotFound, got %v", err)
	}
}

func TestNew_ConfigMismatch(t *testing.T) {
	lm, _ := labels.FromList([]string{"a", "b", "c"})
	m := &Manifest{Name: "bad", Window: 3, Layout: json.RawMessage(`"hand"`), Classifier: ClassifierTemplate, Labels: "l.json"}

	_, err := New(m, classifier.NewMockClassifier(5, 0), lm, Options{
		Extractor: detector.NewMockExtractor(),
		Sessions:  session.NewManager(window.Memory(), 0),
	})
	if !errors.Is(err, classifier.ErrConfigMismatch) {
		t.Errorf("expected ErrConfigMismatch, got %v", err)
	}
}

func TestCapture_ClearsWindowAfterCallerCancels(t *testing.T) {
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	defer st.Close()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "labels.json"), `{"open": 0, "fist": 1}`)
	m := &Manifest{
		Name:       "hands",
		Route:      "/predict_hands",
		Window:     3,
		Layout:     json.RawMessage(`"right_hand"`),
		Classifier: ClassifierTemplate,
		Labels:     "labels.json",
		Dir:        dir,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var buf window.Buffer
	factory := func(key string, capacity int) window.Buffer {
		buf = &cancelingBuffer{Buffer: window.Memory()(key, capacity), cancel: cancel}
		return buf
	}
	sessions := session.NewManager(factory, 0)
	defer sessions.Close()

	extractor := detector.NewMockExtractor(detector.Landmarks{RightHand: detector.OpenHand(0.5, 0.5)})
	rec, err := Build(m, Deps{Extractor: extractor, Sessions: sessions, Store: st})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer rec.Close()

	image := testFrame(t)
	var res Result
	for i := 0; i < 3; i++ {
		res, err = rec.Capture(ctx, "trainer", "open", image)
		if err != nil {
			t.Fatalf("frame %d: Capture() error = %v", i, err)
		}
	}
	if res.Status != StatusSaved {
		t.Fatalf("capture result = %+v, want saved", res)
	}

	n, err := buf.Len(context.Background())
	if err != nil {
		t.Fatalf("Len() error = %v", err)
	}
	if n != 0 {
		t.Errorf("capture window holds %d frames after saving, want 0", n)
	}
}

func TestCaptureAndTemplateRecognition(t *testing.T) {
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	defer st.Close()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "labels.json"), `{"open": 0, "fist": 1}`)
	m := &Manifest{
		Name:       "hands",
		Route:      "/predict_hands",
		Window:     3,
		Layout:     json.RawMessage(`"right_hand"`),
		Classifier: ClassifierTemplate,
		Labels:     "labels.json",
		Dir:        dir,
	}

	extractor := detector.NewMockExtractor()
	sessions := session.NewManager(window.Memory(), 0)
	defer sessions.Close()

	rec, err := Build(m, Deps{Extractor: extractor, Sessions: sessions, Store: st})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer rec.Close()

	ctx := context.Background()
	image := testFrame(t)

	record := func(label string, hand []detector.Point) {
		extractor.SetResults(detector.Landmarks{RightHand: hand})
		var res Result
		for i := 0; i < 3; i++ {
			res, err = rec.Capture(ctx, "trainer", label, image)
			if err != nil {
				t.Fatalf("Capture() error = %v", err)
			}
		}
		if res.Status != StatusSaved || res.SampleID == "" {
			t.Fatalf("capture result = %+v, want saved", res)
		}
	}
	record("open", detector.OpenHand(0.5, 0.5))
	record("fist", detector.Fist(0.5, 0.5))

	samples, err := rec.Samples()
	if err != nil || len(samples) != 2 {
		t.Fatalf("Samples() = %d, %v", len(samples), err)
	}

	extractor.SetResults(detector.Landmarks{RightHand: detector.Fist(0.5, 0.5)})
	var res Result
	for i := 0; i < 3; i++ {
		res, err = rec.Handle(ctx, "user", image)
		if err != nil {
			t.Fatalf("Handle() error = %v", err)
		}
	}
	if res.Status != StatusPredicted || res.Label != "fist" {
		t.Errorf("got %+v, want predicted fist", res)
	}

	if _, err := rec.Capture(ctx, "trainer", "wave", image); !errors.Is(err, ErrUnknownLabel) {
		t.Errorf("expected ErrUnknownLabel, got %v", err)
	}
}

func TestAddSample(t *testing.T) {
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	defer st.Close()

	lm, _ := labels.FromList([]string{"up", "down"})
	m := &Manifest{Name: "tilt", Window: 2, Layout: json.RawMessage(`{"subsets":[{"source":"pose","indices":[15],"points":1,"fields":["x","y"]}]}`), Classifier: ClassifierTemplate, Labels: "l.json"}
	rec, err := New(m, classifier.NewMockClassifier(2, 0), lm, Options{
		Extractor: detector.NewMockExtractor(),
		Sessions:  session.NewManager(window.Memory(), 0),
		Samples:   st.Samples(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	s, err := rec.AddSample("up", [][]float32{{0.1, 0.2}, {0.1, 0.1}})
	if err != nil {
		t.Fatalf("AddSample() error = %v", err)
	}
	if s.ID == "" || s.Recognizer != "tilt" {
		t.Errorf("unexpected sample %+v", s)
	}

	tests := []struct {
		name   string
		label  string
		frames [][]float32
		want   error
	}{
		{"unknown label", "left", [][]float32{{0, 0}}, ErrUnknownLabel},
		{"no frames", "up", nil, ErrSampleShape},
		{"wrong dim", "up", [][]float32{{0, 0, 0}}, ErrSampleShape},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := rec.AddSample(tt.label, tt.frames); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}
