package recognizer

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ayusman/mudra/internal/features"
)

// ManifestFile is the file name looked up in each models subdirectory.
const ManifestFile = "recognizer.json"

// ErrInvalidManifest is returned for manifests that cannot describe a recognizer.
var ErrInvalidManifest = errors.New("invalid recognizer manifest")

// Mode selects between windowed and single-frame recognition.
type Mode string

const (
	// ModeSequence classifies windows of Window frames.
	ModeSequence Mode = "sequence"
	// ModeStatic classifies every frame on its own.
	ModeStatic Mode = "static"
)

// ClassifierKind names the classifier backend.
type ClassifierKind string

const (
	// ClassifierONNX runs a model file with ONNX Runtime.
	ClassifierONNX ClassifierKind = "onnx"
	// ClassifierTemplate matches against templates averaged from recorded samples.
	ClassifierTemplate ClassifierKind = "template"
)

// Manifest describes one recognizer.
type Manifest struct {
	Name          string          `json:"name"`
	Route         string          `json:"route"`
	Mode          Mode            `json:"mode"`
	Window        int             `json:"window"`
	Layout        json.RawMessage `json:"layout"`
	Classifier    ClassifierKind  `json:"classifier"`
	Model         string          `json:"model,omitempty"`
	Labels        string          `json:"labels"`
	Stride        int             `json:"stride,omitempty"`
	SingleShot    bool            `json:"single_shot,omitempty"`
	RecordHistory bool            `json:"record_history,omitempty"`

	// Dir is the directory the manifest was read from. Relative model and
	// label paths resolve against it.
	Dir string `json:"-"`
}

// Validate fills defaults and checks the manifest.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidManifest)
	}
	if strings.ContainsAny(m.Name, "/ ") {
		return fmt.Errorf("%w: name %q may not contain '/' or spaces", ErrInvalidManifest, m.Name)
	}

	if m.Route == "" {
		m.Route = "/" + m.Name
	}
	m.Route = "/" + strings.Trim(m.Route, "/")
	if m.Route == "/" {
		return fmt.Errorf("%w: route may not be the root", ErrInvalidManifest)
	}
	for _, reserved := range []string{"/api", "/ws", "/capture"} {
		if m.Route == reserved || strings.HasPrefix(m.Route, reserved+"/") {
			return fmt.Errorf("%w: route %s is reserved", ErrInvalidManifest, m.Route)
		}
	}

	switch m.Mode {
	case "":
		m.Mode = ModeSequence
	case ModeSequence, ModeStatic:
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidManifest, m.Mode)
	}

	if m.Mode == ModeStatic {
		m.Window = 1
	}
	if m.Window < 1 {
		return fmt.Errorf("%w: window must be at least 1", ErrInvalidManifest)
	}
	if m.Stride < 0 || (m.Stride > 0 && m.Stride >= m.Window) {
		return fmt.Errorf("%w: stride %d must be 0 or below window %d", ErrInvalidManifest, m.Stride, m.Window)
	}

	if _, err := features.ParseLayout(m.Layout); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}

	switch m.Classifier {
	case "":
		m.Classifier = ClassifierONNX
		fallthrough
	case ClassifierONNX:
		if m.Model == "" {
			return fmt.Errorf("%w: onnx classifier needs a model", ErrInvalidManifest)
		}
	case ClassifierTemplate:
	default:
		return fmt.Errorf("%w: unknown classifier %q", ErrInvalidManifest, m.Classifier)
	}

	if m.Labels == "" {
		return fmt.Errorf("%w: missing labels", ErrInvalidManifest)
	}
	return nil
}

// ModelPath returns the model path resolved against the manifest directory.
func (m *Manifest) ModelPath() string {
	return m.resolve(m.Model)
}

// LabelsPath returns the label map path resolved against the manifest directory.
func (m *Manifest) LabelsPath() string {
	return m.resolve(m.Labels)
}

func (m *Manifest) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || m.Dir == "" {
		return p
	}
	return filepath.Join(m.Dir, p)
}

// LoadManifest reads and validates a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	m.Dir = filepath.Dir(path)

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Discover scans dir for subdirectories holding a recognizer.json manifest.
// Manifests that fail to load, or reuse a name or route, are skipped with a
// warning. A missing directory yields no manifests.
func Discover(dir string) ([]*Manifest, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	names := make(map[string]bool)
	routes := make(map[string]bool)
	var manifests []*Manifest
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		path := filepath.Join(dir, entry.Name(), ManifestFile)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}

		m, err := LoadManifest(path)
		if err != nil {
			slog.Warn("skipping recognizer manifest", "path", path, "error", err)
			continue
		}
		if names[m.Name] || routes[m.Route] {
			slog.Warn("skipping duplicate recognizer", "path", path, "name", m.Name, "route", m.Route)
			continue
		}
		names[m.Name] = true
		routes[m.Route] = true
		manifests = append(manifests, m)
	}

	return manifests, nil
}
