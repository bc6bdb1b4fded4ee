package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ayusman/mudra/internal/recognizer"
)

func TestAPI_RecognitionWorkflow(t *testing.T) {
	env := newTestEnv(t, recognizer.Manifest{Name: "numbers", Route: "/predict_right", Window: 4})
	ts := httptest.NewServer(env.server())
	defer ts.Close()

	client := ts.Client()
	body, _ := json.Marshal(map[string]string{"image": env.image, "session_id": "browser"})

	// 1. Fill one window
	var last sequenceResponse
	for i := 0; i < 4; i++ {
		resp, err := client.Post(ts.URL+"/predict_right", "application/json", bytes.NewReader(body))
		if err != nil {
			t.Fatalf("POST /predict_right error = %v", err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("POST status = %d, want %d", resp.StatusCode, http.StatusOK)
		}
		last = sequenceResponse{}
		json.NewDecoder(resp.Body).Decode(&last)
		resp.Body.Close()
	}

	if last.Status != "predicted" || last.Label != "C" {
		t.Fatalf("last response = %+v, want predicted C", last)
	}

	// 2. The prediction lands in the history
	resp, err := client.Get(ts.URL + "/api/predictions?recognizer=numbers")
	if err != nil {
		t.Fatalf("GET /api/predictions error = %v", err)
	}
	var history struct {
		Predictions []struct {
			Label     string `json:"label"`
			SessionID string `json:"session_id"`
		} `json:"predictions"`
	}
	json.NewDecoder(resp.Body).Decode(&history)
	resp.Body.Close()

	if len(history.Predictions) != 1 || history.Predictions[0].SessionID != "browser" {
		t.Fatalf("history = %+v, want one prediction for browser", history.Predictions)
	}

	// 3. The recognizer is listed
	resp, _ = client.Get(ts.URL + "/api/recognizers/numbers")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /api/recognizers/numbers status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	resp.Body.Close()
}

func TestAPI_HealthCheck(t *testing.T) {
	srv := New(Config{})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatalf("GET /api/health error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var health struct {
		Status string `json:"status"`
		Uptime string `json:"uptime"`
	}
	json.NewDecoder(resp.Body).Decode(&health)

	if health.Status != "ok" {
		t.Errorf("status = %s, want ok", health.Status)
	}
}

func dialStream(t *testing.T, ts *httptest.Server, path string, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("Dial(%s) error = %v", path, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func exchange(t *testing.T, conn *websocket.Conn, msg interface{}) sequenceResponse {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	var got sequenceResponse
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return got
}

func TestAPI_Stream(t *testing.T) {
	env := newTestEnv(t, recognizer.Manifest{Name: "numbers", Route: "/predict_right", Window: 3})
	ts := httptest.NewServer(env.server())
	defer ts.Close()

	first := dialStream(t, ts, "/ws/predict_right", nil)
	second := dialStream(t, ts, "/ws/predict_right", nil)

	frame := map[string]string{"image": env.image}

	if got := exchange(t, first, frame); got.Status != "collecting" || got.Collected != 1 {
		t.Fatalf("first frame = %+v", got)
	}
	if got := exchange(t, first, frame); got.Collected != 2 {
		t.Fatalf("second frame = %+v", got)
	}

	// Each connection has its own window.
	if got := exchange(t, second, frame); got.Collected != 1 {
		t.Fatalf("second connection = %+v", got)
	}

	if got := exchange(t, first, frame); got.Status != "predicted" || got.Label != "C" {
		t.Fatalf("third frame = %+v", got)
	}

	if got := exchange(t, first, map[string]string{}); got.Status != "error" {
		t.Errorf("missing image = %+v, want error", got)
	}
}

func TestAPI_StreamOrigin(t *testing.T) {
	env := newTestEnv(t, recognizer.Manifest{Name: "numbers", Route: "/predict_right", Window: 3})
	ts := httptest.NewServer(env.server("http://localhost:3000"))
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/predict_right"
	header := http.Header{"Origin": []string{"http://evil.example"}}
	if _, _, err := websocket.DefaultDialer.Dial(url, header); err == nil {
		t.Fatal("expected handshake to be rejected")
	}

	header = http.Header{"Origin": []string{"http://localhost:3000"}}
	conn := dialStream(t, ts, "/ws/predict_right", header)
	if got := exchange(t, conn, map[string]string{"image": env.image}); got.Status != "collecting" {
		t.Errorf("allowed origin = %+v", got)
	}
}
