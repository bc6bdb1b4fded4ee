package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ayusman/mudra/internal/recognizer"
)

// RecognizerHandler serves /api/recognizers and the per-recognizer sample
// collection at /api/recognizers/{name}/samples.
type RecognizerHandler struct {
	registry *recognizer.Registry
}

// NewRecognizerHandler creates a new RecognizerHandler over the registry.
func NewRecognizerHandler(reg *recognizer.Registry) *RecognizerHandler {
	return &RecognizerHandler{registry: reg}
}

// ServeHTTP implements the http.Handler interface and routes requests to appropriate methods.
func (h *RecognizerHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Expected paths: /api/recognizers, /api/recognizers/{name},
	// /api/recognizers/{name}/samples
	path := strings.TrimPrefix(r.URL.Path, "/api/recognizers")
	path = strings.Trim(path, "/")

	if path == "" {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.list(w, r)
		return
	}

	parts := strings.Split(path, "/")
	rec, err := h.registry.Get(parts[0])
	if err != nil {
		writeError(w, http.StatusNotFound, "Recognizer not found")
		return
	}

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, toRecognizerResponse(rec))
	case len(parts) == 2 && parts[1] == "samples":
		switch r.Method {
		case http.MethodGet:
			h.listSamples(w, r, rec)
		case http.MethodPost:
			h.createSample(w, r, rec)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	default:
		writeError(w, http.StatusNotFound, "Not found")
	}
}

type recognizerResponse struct {
	Name       string   `json:"name"`
	Route      string   `json:"route"`
	Mode       string   `json:"mode"`
	Window     int      `json:"window"`
	Dim        int      `json:"dim"`
	Stride     int      `json:"stride"`
	Classifier string   `json:"classifier"`
	Labels     []string `json:"labels"`
}

type listRecognizersResponse struct {
	Recognizers []recognizerResponse `json:"recognizers"`
}

func toRecognizerResponse(r *recognizer.Recognizer) recognizerResponse {
	m := r.Manifest()
	return recognizerResponse{
		Name:       r.Name(),
		Route:      r.Route(),
		Mode:       string(r.Mode()),
		Window:     r.Window(),
		Dim:        r.Dim(),
		Stride:     m.Stride,
		Classifier: string(m.Classifier),
		Labels:     r.Labels().Labels(),
	}
}

// list handles GET /api/recognizers.
func (h *RecognizerHandler) list(w http.ResponseWriter, r *http.Request) {
	recognizers := h.registry.List()

	response := listRecognizersResponse{
		Recognizers: make([]recognizerResponse, 0, len(recognizers)),
	}
	for _, rec := range recognizers {
		response.Recognizers = append(response.Recognizers, toRecognizerResponse(rec))
	}

	writeJSON(w, http.StatusOK, response)
}

type createSampleRequest struct {
	Label  string      `json:"label"`
	Frames [][]float32 `json:"frames"`
}

type sampleResponse struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	Frames    int    `json:"frames"`
	Dim       int    `json:"dim"`
	CreatedAt string `json:"created_at"`
}

type listSamplesResponse struct {
	Samples []sampleResponse `json:"samples"`
	Counts  map[string]int   `json:"counts"`
}

// listSamples handles GET /api/recognizers/{name}/samples.
func (h *RecognizerHandler) listSamples(w http.ResponseWriter, r *http.Request, rec *recognizer.Recognizer) {
	samples, err := rec.Samples()
	if err != nil {
		if errors.Is(err, recognizer.ErrNoSampleStore) {
			writeError(w, http.StatusNotFound, "Sample storage not configured")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to list samples")
		return
	}

	response := listSamplesResponse{
		Samples: make([]sampleResponse, 0, len(samples)),
		Counts:  make(map[string]int),
	}
	for _, s := range samples {
		response.Samples = append(response.Samples, sampleResponse{
			ID:        s.ID,
			Label:     s.Label,
			Frames:    len(s.Frames),
			Dim:       s.Dim(),
			CreatedAt: formatTime(s.CreatedAt),
		})
		response.Counts[s.Label]++
	}

	writeJSON(w, http.StatusOK, response)
}

// createSample handles POST /api/recognizers/{name}/samples.
func (h *RecognizerHandler) createSample(w http.ResponseWriter, r *http.Request, rec *recognizer.Recognizer) {
	var req createSampleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.Label == "" {
		writeError(w, http.StatusBadRequest, "Label is required")
		return
	}

	s, err := rec.AddSample(req.Label, req.Frames)
	switch {
	case errors.Is(err, recognizer.ErrUnknownLabel), errors.Is(err, recognizer.ErrSampleShape):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, recognizer.ErrNoSampleStore):
		writeError(w, http.StatusNotFound, "Sample storage not configured")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "Failed to save sample")
		return
	}

	writeJSON(w, http.StatusCreated, sampleResponse{
		ID:        s.ID,
		Label:     s.Label,
		Frames:    len(s.Frames),
		Dim:       s.Dim(),
		CreatedAt: formatTime(s.CreatedAt),
	})
}
