package detector

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// ErrScriptNotFound is returned when the MediaPipe service script is missing.
var ErrScriptNotFound = errors.New("mediapipe holistic script not found")

// MediaPipeExtractor implements Extractor using a Python MediaPipe Holistic subprocess.
//
// Wire protocol: each frame is written to stdin as a 4-byte big-endian length
// followed by JPEG bytes; the service answers with one JSON line of the form
// {"pose": [...]|null, "left_hand": [...]|null, "right_hand": [...]|null}.
type MediaPipeExtractor struct {
	config    Config
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    *bufio.Reader
	mu        sync.Mutex
	started   bool
	idleTimer *time.Timer
}

// ScriptName is the file name of the MediaPipe Holistic service.
const ScriptName = "holistic_service.py"

// NewMediaPipeExtractor creates a new MediaPipe extractor. An empty Script is
// looked up in the usual install locations, and an empty Python prefers a
// virtual environment next to the service.
// The Python process is started lazily on the first frame.
func NewMediaPipeExtractor(config Config) (*MediaPipeExtractor, error) {
	if config.Script == "" {
		config.Script = findFile(scriptCandidates())
		if config.Script == "" {
			return nil, ErrScriptNotFound
		}
	}
	if _, err := os.Stat(config.Script); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrScriptNotFound, config.Script)
	}
	if config.Python == "" {
		config.Python = findFile(venvCandidates())
	}
	if config.Python == "" {
		config.Python = "python3"
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = 30 * time.Second
	}

	return &MediaPipeExtractor{config: config}, nil
}

// Script returns the path of the service script in use.
func (e *MediaPipeExtractor) Script() string {
	return e.config.Script
}

// Extract sends a frame to the subprocess and parses the landmark reply.
func (e *MediaPipeExtractor) Extract(frame *gocv.Mat) (Landmarks, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ensureStarted(); err != nil {
		return Landmarks{}, err
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, *frame)
	if err != nil {
		return Landmarks{}, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	data := buf.GetBytes()

	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(len(data)))

	if _, err := e.stdin.Write(length); err != nil {
		e.kill()
		return Landmarks{}, fmt.Errorf("write length: %w", err)
	}
	if _, err := e.stdin.Write(data); err != nil {
		e.kill()
		return Landmarks{}, fmt.Errorf("write data: %w", err)
	}

	line, err := e.stdout.ReadBytes('\n')
	if err != nil {
		e.kill()
		return Landmarks{}, fmt.Errorf("read response: %w", err)
	}

	var reply holisticReply
	if err := json.Unmarshal(line, &reply); err != nil {
		return Landmarks{}, fmt.Errorf("parse response: %w", err)
	}
	if reply.Error != "" {
		return Landmarks{}, fmt.Errorf("holistic service: %s", reply.Error)
	}

	e.resetIdleTimer()

	return reply.landmarks(), nil
}

// Close shuts down the Python process.
func (e *MediaPipeExtractor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.shutdown()
}

func (e *MediaPipeExtractor) ensureStarted() error {
	if e.started {
		return nil
	}

	e.cmd = exec.Command(e.config.Python, e.config.Script,
		"--min-detection-confidence", strconv.FormatFloat(e.config.MinConfidence, 'f', -1, 64),
		"--min-tracking-confidence", strconv.FormatFloat(e.config.MinTrackingConf, 'f', -1, 64),
	)

	stdin, err := e.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}

	stdout, err := e.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}

	e.cmd.Stderr = os.Stderr

	if err := e.cmd.Start(); err != nil {
		return fmt.Errorf("start holistic service: %w", err)
	}

	e.stdin = stdin
	e.stdout = bufio.NewReader(stdout)
	e.started = true

	slog.Info("holistic service started", "script", e.config.Script, "pid", e.cmd.Process.Pid)
	return nil
}

func (e *MediaPipeExtractor) shutdown() error {
	if !e.started {
		return nil
	}

	if e.idleTimer != nil {
		e.idleTimer.Stop()
		e.idleTimer = nil
	}

	if e.stdin != nil {
		e.stdin.Close()
	}

	err := e.cmd.Wait()
	e.started = false
	e.cmd = nil
	e.stdin = nil
	e.stdout = nil

	return err
}

// kill drops a subprocess whose pipe broke so the next frame restarts it.
func (e *MediaPipeExtractor) kill() {
	if e.cmd != nil && e.cmd.Process != nil {
		e.cmd.Process.Kill()
	}
	if err := e.shutdown(); err != nil {
		slog.Warn("holistic service exited", "error", err)
	}
}

func (e *MediaPipeExtractor) resetIdleTimer() {
	if e.idleTimer != nil {
		e.idleTimer.Stop()
	}
	e.idleTimer = time.AfterFunc(e.config.IdleTimeout, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if err := e.shutdown(); err != nil {
			slog.Warn("holistic service idle shutdown", "error", err)
		}
	})
}

func scriptCandidates() []string {
	candidates := []string{
		filepath.Join("scripts", ScriptName),
		filepath.Join("..", "scripts", ScriptName),
	}
	if execPath, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(execPath), "scripts", ScriptName))
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".mudra", "scripts", ScriptName))
	}
	return candidates
}

func venvCandidates() []string {
	candidates := []string{
		filepath.Join("venv", "bin", "python"),
		filepath.Join("..", "venv", "bin", "python"),
	}
	if execPath, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(execPath), "venv", "bin", "python"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".mudra", "venv", "bin", "python"))
	}
	return candidates
}

// findFile returns the absolute path of the first candidate that exists.
func findFile(candidates []string) string {
	for _, path := range candidates {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if abs, err := filepath.Abs(path); err == nil {
			return abs
		}
		return path
	}
	return ""
}

// holisticReply is the JSON line written by the Python service.
type holisticReply struct {
	Pose      []Point `json:"pose"`
	LeftHand  []Point `json:"left_hand"`
	RightHand []Point `json:"right_hand"`
	Error     string  `json:"error,omitempty"`
}

func (r holisticReply) landmarks() Landmarks {
	return Landmarks{
		Pose:      nonEmpty(r.Pose),
		LeftHand:  nonEmpty(r.LeftHand),
		RightHand: nonEmpty(r.RightHand),
	}
}

// nonEmpty maps an empty list to nil so absence has a single representation.
func nonEmpty(points []Point) []Point {
	if len(points) == 0 {
		return nil
	}
	return points
}
