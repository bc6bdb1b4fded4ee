package api

import (
	"net/http"
	"strconv"

	"github.com/ayusman/mudra/internal/store"
)

const maxPredictionLimit = 500

// PredictionHandler serves the prediction history at /api/predictions.
type PredictionHandler struct {
	store *store.Store
}

// NewPredictionHandler creates a new PredictionHandler with the given store.
func NewPredictionHandler(s *store.Store) *PredictionHandler {
	return &PredictionHandler{store: s}
}

type predictionResponse struct {
	ID         string  `json:"id"`
	Recognizer string  `json:"recognizer"`
	SessionID  string  `json:"session_id"`
	Label      string  `json:"label"`
	ClassIndex int     `json:"class_index"`
	Confidence float64 `json:"confidence"`
	CreatedAt  string  `json:"created_at"`
}

type listPredictionsResponse struct {
	Predictions []predictionResponse `json:"predictions"`
}

// ServeHTTP handles GET /api/predictions?recognizer=&limit=.
func (h *PredictionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxPredictionLimit)
	}

	predictions, err := h.store.Predictions().List(r.URL.Query().Get("recognizer"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list predictions")
		return
	}

	response := listPredictionsResponse{
		Predictions: make([]predictionResponse, 0, len(predictions)),
	}
	for _, p := range predictions {
		response.Predictions = append(response.Predictions, predictionResponse{
			ID:         p.ID,
			Recognizer: p.Recognizer,
			SessionID:  p.SessionID,
			Label:      p.Label,
			ClassIndex: p.ClassIndex,
			Confidence: p.Confidence,
			CreatedAt:  formatTime(p.CreatedAt),
		})
	}

	writeJSON(w, http.StatusOK, response)
}
