package classifier

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/ayusman/mudra/internal/features"
)

// ErrRuntimeUnavailable is returned when ONNX Runtime was not initialized.
var ErrRuntimeUnavailable = errors.New("onnx runtime not initialized")

var (
	runtimeMu  sync.Mutex
	runtimeErr error
	runtimeUp  bool
)

// InitRuntime loads the ONNX Runtime shared library once per process.
// An empty libPath uses the library's default search path.
func InitRuntime(libPath string) error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if runtimeUp {
		return nil
	}
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		runtimeErr = fmt.Errorf("initialize onnx runtime: %w", err)
		return runtimeErr
	}
	runtimeUp = true
	runtimeErr = nil
	return nil
}

// ShutdownRuntime releases the ONNX Runtime environment.
func ShutdownRuntime() error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if !runtimeUp {
		return nil
	}
	runtimeUp = false
	return ort.DestroyEnvironment()
}

func runtimeReady() bool {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()
	return runtimeUp
}

// ONNXConfig describes the model input.
type ONNXConfig struct {
	Path string
	// Window is the number of frames per input. Static models take one
	// frame shaped (1, Dim) instead of (1, Window, Dim).
	Window int
	Dim    int
	Static bool
}

// ONNX classifies windows with a model run by ONNX Runtime. The model takes
// a float32 tensor and returns (1, C) class scores.
type ONNX struct {
	config  ONNXConfig
	session *ort.DynamicAdvancedSession
	classes int
}

// NewONNX loads a model. InitRuntime must have succeeded first.
func NewONNX(config ONNXConfig) (*ONNX, error) {
	if !runtimeReady() {
		return nil, ErrRuntimeUnavailable
	}
	if config.Static {
		config.Window = 1
	}
	if config.Window < 1 || config.Dim < 1 {
		return nil, fmt.Errorf("%w: window %d, dim %d", ErrInputShape, config.Window, config.Dim)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(config.Path)
	if err != nil {
		return nil, fmt.Errorf("read model info %s: %w", config.Path, err)
	}
	if len(inputs) != 1 || len(outputs) < 1 {
		return nil, fmt.Errorf("model %s has %d inputs and %d outputs, want 1 and at least 1",
			config.Path, len(inputs), len(outputs))
	}

	classes := 0
	if dims := outputs[0].Dimensions; len(dims) > 0 && dims[len(dims)-1] > 0 {
		classes = int(dims[len(dims)-1])
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer opts.Destroy()

	if err := opts.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableAll); err != nil {
		return nil, fmt.Errorf("failed to set graph optimization: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(
		config.Path,
		[]string{inputs[0].Name},
		[]string{outputs[0].Name},
		opts,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	slog.Info("loaded onnx model",
		"path", config.Path,
		"input", inputs[0].Name,
		"output", outputs[0].Name,
		"classes", classes)

	return &ONNX{config: config, session: session, classes: classes}, nil
}

// Classify runs the model on window.
func (m *ONNX) Classify(window []features.Vector) (Prediction, error) {
	data, err := flatten(window, m.config.Window, m.config.Dim)
	if err != nil {
		return Prediction{}, err
	}

	shape := ort.NewShape(1, int64(m.config.Window), int64(m.config.Dim))
	if m.config.Static {
		shape = ort.NewShape(1, int64(m.config.Dim))
	}

	input, err := ort.NewTensor(shape, data)
	if err != nil {
		return Prediction{}, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer input.Destroy()

	outputs := make([]ort.Value, 1)
	if err := m.session.Run([]ort.Value{input}, outputs); err != nil {
		return Prediction{}, fmt.Errorf("inference failed: %w", err)
	}
	defer outputs[0].Destroy()

	tensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return Prediction{}, fmt.Errorf("output tensor is not float32 type")
	}

	// Copy before the tensor is destroyed.
	scores := make([]float32, len(tensor.GetData()))
	copy(scores, tensor.GetData())

	return FromScores(scores)
}

// NumClasses returns the class count declared by the model output.
func (m *ONNX) NumClasses() int {
	return m.classes
}

// Close destroys the session.
func (m *ONNX) Close() error {
	if m.session != nil {
		return m.session.Destroy()
	}
	return nil
}
