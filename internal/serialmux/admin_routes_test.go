package serialmux

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/gesture.control/internal/testutil"
)

func TestAttachAdminRoutes_SendCommandAPI(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	tests := []struct {
		name           string
		method         string
		formData       url.Values
		expectedStatus int
	}{
		{"valid POST with command", http.MethodPost, url.Values{"command": {"RATE 500"}}, http.StatusOK},
		{"POST with empty command", http.MethodPost, url.Values{"command": {"  "}}, http.StatusBadRequest},
		{"POST without command parameter", http.MethodPost, url.Values{}, http.StatusBadRequest},
		{"GET method not allowed", http.MethodGet, nil, http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body io.Reader
			if tt.formData != nil {
				body = strings.NewReader(tt.formData.Encode())
			}
			req := testutil.LocalRequest(tt.method, "/debug/send-command-api", body)
			if tt.formData != nil {
				req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			}

			w := httptest.NewRecorder()
			httpMux.ServeHTTP(w, req)

			if w.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d. Body: %s", tt.expectedStatus, w.Code, w.Body.String())
			}
		})
	}

	if got := string(port.GetWrittenData()); got != "RATE 500\n" {
		t.Errorf("written = %q, want %q", got, "RATE 500\n")
	}
}

func TestAttachAdminRoutes_SendCommandAPI_WriteError(t *testing.T) {
	port := NewTestableSerialPort()
	port.WriteError = errors.New("unplugged")
	mux := NewSerialMux(port)

	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	req := testutil.LocalRequest(http.MethodPost, "/debug/send-command-api", strings.NewReader("command=PING"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	httpMux.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", w.Code)
	}
}

func TestAttachAdminRoutes_Tail(t *testing.T) {
	port := NewTestableSerialPort()
	port.AddReadData([]byte("512\n498\n"))
	mux := NewSerialMux(port)

	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	req := testutil.LocalRequest(http.MethodGet, "/debug/tail", nil)
	w := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		httpMux.ServeHTTP(w, req)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for mux.Stats().Subscribers == 0 {
		if time.Now().After(deadline) {
			t.Fatal("tail handler never subscribed")
		}
		time.Sleep(time.Millisecond)
	}

	if err := mux.Monitor(context.Background()); err != nil {
		t.Fatalf("Monitor: %v", err)
	}
	// closing the mux ends the stream once buffered lines are written
	mux.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tail handler did not return")
	}

	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	body := w.Body.String()
	for _, want := range []string{": ping", "data: 512\n\n", "data: 498\n\n"} {
		if !strings.Contains(body, want) {
			t.Errorf("body %q missing %q", body, want)
		}
	}
}

func TestAttachAdminRoutes_TailMethodNotAllowed(t *testing.T) {
	mux := NewSerialMux(NewTestableSerialPort())
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	w := httptest.NewRecorder()
	httpMux.ServeHTTP(w, testutil.LocalRequest(http.MethodPost, "/debug/tail", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", w.Code)
	}
}

func TestAttachAdminRoutes_StatsAndPage(t *testing.T) {
	mux := NewSerialMux(NewTestableSerialPort())
	mux.Subscribe()
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	w := httptest.NewRecorder()
	httpMux.ServeHTTP(w, testutil.LocalRequest(http.MethodGet, "/debug/serial-stats", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("serial-stats status %d", w.Code)
	}
	var stats Stats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Subscribers != 1 {
		t.Errorf("Subscribers = %d, want 1", stats.Subscribers)
	}

	w = httptest.NewRecorder()
	httpMux.ServeHTTP(w, testutil.LocalRequest(http.MethodGet, "/debug/sensor", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "EventSource") {
		t.Errorf("sensor page status %d body %q", w.Code, w.Body.String())
	}
}
