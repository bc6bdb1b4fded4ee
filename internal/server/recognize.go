package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ayusman/mudra/internal/recognizer"
	"github.com/ayusman/mudra/internal/session"
)

// SessionHeader carries the client session id when the body does not.
const SessionHeader = "X-Session-ID"

var (
	errInvalidBody  = errors.New("invalid JSON body")
	errFrameTooBig  = errors.New("frame exceeds size limit")
	errMissingImage = errors.New("missing image")
)

type recognizeRequest struct {
	Image     string `json:"image"`
	SessionID string `json:"session_id"`
	Label     string `json:"label"`
}

// sequenceResponse is the reply shape of windowed recognizers.
type sequenceResponse struct {
	Status     string  `json:"status"`
	Collected  int     `json:"collected,omitempty"`
	Needed     int     `json:"needed,omitempty"`
	Label      string  `json:"label,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	SampleID   string  `json:"sample_id,omitempty"`
	Message    string  `json:"message,omitempty"`
}

// staticResponse is the reply shape of single-frame recognizers.
type staticResponse struct {
	Prediction string `json:"prediction,omitempty"`
	Error      string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// resultBody renders a result in the recognizer's reply shape.
func resultBody(mode recognizer.Mode, res recognizer.Result) interface{} {
	if mode == recognizer.ModeStatic && res.Status != recognizer.StatusSaved {
		return staticResponse{Prediction: res.Label}
	}

	body := sequenceResponse{Status: string(res.Status)}
	switch res.Status {
	case recognizer.StatusCollecting:
		body.Collected = res.Collected
		body.Needed = res.Needed
	case recognizer.StatusPredicted:
		body.Label = res.Label
		body.Confidence = res.Confidence
	case recognizer.StatusSaved:
		body.Label = res.Label
		body.SampleID = res.SampleID
	}
	return body
}

// errorBody renders a failure in the recognizer's reply shape.
func errorBody(mode recognizer.Mode, err error) interface{} {
	if mode == recognizer.ModeStatic {
		return staticResponse{Error: err.Error()}
	}
	return sequenceResponse{Status: "error", Message: err.Error()}
}

func sessionID(r *http.Request, req recognizeRequest) string {
	if req.SessionID != "" {
		return req.SessionID
	}
	return r.Header.Get(SessionHeader)
}

// maxFrameSize bounds one frame message, over HTTP and WebSocket alike.
const maxFrameSize = 8 << 20

func decodeRequest(w http.ResponseWriter, r *http.Request) (recognizeRequest, error) {
	var req recognizeRequest
	body := http.MaxBytesReader(w, r.Body, maxFrameSize)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return req, errFrameTooBig
		}
		return req, errInvalidBody
	}
	if req.Image == "" {
		return req, errMissingImage
	}
	return req, nil
}

// RecognitionHandler serves POST <route>/ and DELETE <route>/sessions/{id}.
type RecognitionHandler struct {
	rec *recognizer.Recognizer
}

// NewRecognitionHandler creates a handler for one recognizer.
func NewRecognitionHandler(rec *recognizer.Recognizer) *RecognitionHandler {
	return &RecognitionHandler{rec: rec}
}

// ServeHTTP implements the http.Handler interface.
func (h *RecognitionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, h.rec.Route()), "/")

	switch {
	case path == "":
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.recognize(w, r)
	case strings.HasPrefix(path, "sessions/"):
		if r.Method != http.MethodDelete {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.resetSession(w, r, strings.TrimPrefix(path, "sessions/"))
	default:
		http.NotFound(w, r)
	}
}

// recognize handles POST <route>/. Every failure is reported as a 500 in
// the recognizer's error shape.
func (h *RecognitionHandler) recognize(w http.ResponseWriter, r *http.Request) {
	mode := h.rec.Mode()

	req, err := decodeRequest(w, r)
	if errors.Is(err, errFrameTooBig) {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody(mode, err))
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody(mode, err))
		return
	}

	id := sessionID(r, req)
	res, err := h.rec.Handle(r.Context(), id, req.Image)
	if err != nil {
		slog.Warn("recognition failed", "recognizer", h.rec.Name(), "session", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody(mode, err))
		return
	}

	if res.Status == recognizer.StatusPredicted {
		slog.Info("predicted", "recognizer", h.rec.Name(), "session", id,
			"label", res.Label, "confidence", res.Confidence)
	}
	writeJSON(w, http.StatusOK, resultBody(mode, res))
}

// resetSession handles DELETE <route>/sessions/{id}.
func (h *RecognitionHandler) resetSession(w http.ResponseWriter, r *http.Request, id string) {
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}

	err := h.rec.ResetSession(r.Context(), id)
	if errors.Is(err, session.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, sequenceResponse{Status: "error", Message: "session not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, sequenceResponse{Status: "error", Message: err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CaptureHandler serves POST /capture<route>/, recording labelled windows.
type CaptureHandler struct {
	rec *recognizer.Recognizer
}

// NewCaptureHandler creates a capture handler for one recognizer.
func NewCaptureHandler(rec *recognizer.Recognizer) *CaptureHandler {
	return &CaptureHandler{rec: rec}
}

// ServeHTTP implements the http.Handler interface.
func (h *CaptureHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/capture"+h.rec.Route()), "/")
	if path != "" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	req, err := decodeRequest(w, r)
	if errors.Is(err, errFrameTooBig) {
		writeJSON(w, http.StatusRequestEntityTooLarge, sequenceResponse{Status: "error", Message: err.Error()})
		return
	}
	if err == nil && req.Label == "" {
		err = errors.New("missing label")
	}
	if err != nil {
		writeJSON(w, http.StatusBadRequest, sequenceResponse{Status: "error", Message: err.Error()})
		return
	}

	id := sessionID(r, req)
	res, err := h.rec.Capture(r.Context(), id, req.Label, req.Image)
	switch {
	case errors.Is(err, recognizer.ErrUnknownLabel):
		writeJSON(w, http.StatusBadRequest, sequenceResponse{Status: "error", Message: err.Error()})
		return
	case errors.Is(err, recognizer.ErrNoSampleStore):
		writeJSON(w, http.StatusNotFound, sequenceResponse{Status: "error", Message: err.Error()})
		return
	case err != nil:
		slog.Warn("capture failed", "recognizer", h.rec.Name(), "session", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, sequenceResponse{Status: "error", Message: err.Error()})
		return
	}

	body := sequenceResponse{Status: string(res.Status)}
	switch res.Status {
	case recognizer.StatusCollecting:
		body.Collected = res.Collected
		body.Needed = res.Needed
	case recognizer.StatusSaved:
		body.Label = res.Label
		body.SampleID = res.SampleID
	case recognizer.StatusNoHand:
		body.Message = recognizer.NoHandLabel
	}
	writeJSON(w, http.StatusOK, body)
}
