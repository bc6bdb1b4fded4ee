package server

import (
	"net/http"
	"slices"
)

const (
	corsMethods = "GET, POST, DELETE, OPTIONS"
	corsHeaders = "Content-Type, X-Session-ID"
)

// originAllowed reports whether a browser origin may call the API.
// An empty list or "*" allows every origin.
func originAllowed(allowed []string, origin string) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return true
	}
	return slices.Contains(allowed, origin)
}

// withCORS adds CORS headers for allowed origins and answers preflight
// requests with 204.
func withCORS(allowed []string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && originAllowed(allowed, origin) {
			h := w.Header()
			if len(allowed) == 0 || slices.Contains(allowed, "*") {
				h.Set("Access-Control-Allow-Origin", "*")
			} else {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
			}
			h.Set("Access-Control-Allow-Methods", corsMethods)
			h.Set("Access-Control-Allow-Headers", corsHeaders)
		}

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
