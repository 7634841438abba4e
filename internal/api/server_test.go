package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/gesture.control/internal/classifier"
	"github.com/banshee-data/gesture.control/internal/db"
	"github.com/banshee-data/gesture.control/internal/decision"
	"github.com/banshee-data/gesture.control/internal/dispatch"
	"github.com/banshee-data/gesture.control/internal/features"
	"github.com/banshee-data/gesture.control/internal/pipeline"
	"github.com/banshee-data/gesture.control/internal/serialmux"
	"github.com/banshee-data/gesture.control/internal/testutil"
	"github.com/banshee-data/gesture.control/internal/window"
)

type fakePipeline struct {
	cfg      pipeline.Config
	stats    pipeline.Stats
	snap     *pipeline.Snapshot
	debounce *decision.Debouncer
}

func (f *fakePipeline) Config() pipeline.Config        { return f.cfg }
func (f *fakePipeline) Stats() pipeline.Stats          { return f.stats }
func (f *fakePipeline) Debouncer() *decision.Debouncer { return f.debounce }
func (f *fakePipeline) LastSnapshot() (pipeline.Snapshot, bool) {
	if f.snap == nil {
		return pipeline.Snapshot{}, false
	}
	return *f.snap, true
}

type fakeDispatcher struct {
	table dispatch.Table
	stats dispatch.Stats
}

func (f *fakeDispatcher) Table() dispatch.Table { return f.table }
func (f *fakeDispatcher) Stats() dispatch.Stats { return f.stats }

type fakeStore struct {
	decisions []db.DecisionRow
	runs      []db.Run
	err       error
	lastLimit int
}

func (f *fakeStore) RecentDecisions(_ context.Context, limit int) ([]db.DecisionRow, error) {
	f.lastLimit = limit
	return f.decisions, f.err
}

func (f *fakeStore) RecentRuns(_ context.Context, limit int) ([]db.Run, error) {
	f.lastLimit = limit
	return f.runs, f.err
}

func testSnapshot() *pipeline.Snapshot {
	samples := make([]window.Sample, 64)
	values := make([]float64, len(samples))
	timestamps := make([]float64, len(samples))
	for i := range samples {
		v := float64(100 + (i%8)*10)
		samples[i] = window.Sample{Timestamp: 1000 + float64(i)*0.01, Value: v}
		values[i] = v
		timestamps[i] = samples[i].Timestamp
	}
	return &pipeline.Snapshot{
		Time:     samples[len(samples)-1].Timestamp,
		Samples:  samples,
		Features: features.Compute(values, timestamps),
		Prediction: classifier.Prediction{
			Label: 0, Name: "clench", Probabilities: []float64{0.9, 0.1}, Confidence: 0.9,
		},
	}
}

func setupTestServer(t *testing.T, store DecisionStore, snap *pipeline.Snapshot) *Server {
	t.Helper()
	deb, err := decision.New(0.7, 0.5)
	if err != nil {
		t.Fatalf("decision.New: %v", err)
	}
	p := &fakePipeline{
		cfg:      pipeline.DefaultConfig(),
		stats:    pipeline.Stats{State: "running", Samples: 400, Windows: 2, Decisions: 1},
		snap:     snap,
		debounce: deb,
	}
	d := &fakeDispatcher{
		table: dispatch.DefaultTable(),
		stats: dispatch.Stats{Address: "127.0.0.1:9999", Connected: true, Sent: 1},
	}
	mux := serialmux.NewMockSerialMux(nil, 0)
	t.Cleanup(func() { mux.Close() })
	return NewServer(p, d, mux, store, []string{"clench", "index", "rest", "wrist", "pinch"})
}

func TestShowStatus(t *testing.T) {
	s := setupTestServer(t, nil, nil)
	s.SetRunID("run-1")

	w := testutil.Serve(s.ServeMux(), http.MethodGet, "/api/status")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var got Status
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.RunID != "run-1" || got.Pipeline.State != "running" || !got.Dispatch.Connected {
		t.Errorf("unexpected status %+v", got)
	}
	if got.Config.WindowSize != 200 || got.Config.CooldownS != 0.5 || got.Config.FeatureSet != "full" {
		t.Errorf("unexpected config %+v", got.Config)
	}
	if len(got.Labels) != 5 {
		t.Errorf("labels = %v", got.Labels)
	}
}

func TestShowStatus_BeforeAndAfterFirstDecision(t *testing.T) {
	s := setupTestServer(t, nil, nil)

	w := testutil.Serve(s.ServeMux(), http.MethodGet, "/api/status")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	body := w.Body.String()
	if !strings.Contains(body, `"has_last":false`) || strings.Contains(body, "last_emit_time") {
		t.Fatalf("fresh debouncer status body = %q", body)
	}

	deb := s.p.(*fakePipeline).debounce
	if _, ok := deb.Evaluate(classifier.Prediction{Label: 0, Name: "clench", Confidence: 0.9}, 12.5); !ok {
		t.Fatal("expected the prediction to be emitted")
	}
	w = testutil.Serve(s.ServeMux(), http.MethodGet, "/api/status")
	var got Status
	testutil.DecodeJSON(t, w, &got)
	if !got.Debouncer.HasLast || got.Debouncer.LastName != "clench" || got.Debouncer.LastEmitTime != 12.5 {
		t.Errorf("debouncer = %+v", got.Debouncer)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s := setupTestServer(t, &fakeStore{}, testSnapshot())
	for _, path := range []string{"/api/status", "/api/decisions", "/api/runs", "/api/commands", "/api/window"} {
		w := testutil.Serve(s.ServeMux(), http.MethodPost, path)
		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("POST %s = %d, want 405", path, w.Code)
		}
	}
}

func TestListDecisions(t *testing.T) {
	store := &fakeStore{decisions: []db.DecisionRow{
		{RunID: "r", Time: 2, Label: "wrist", Confidence: 0.8, Command: "duck", OK: true},
	}}
	s := setupTestServer(t, store, nil)

	w := testutil.Serve(s.ServeMux(), http.MethodGet, "/api/decisions?limit=5")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if store.lastLimit != 5 {
		t.Errorf("limit = %d, want 5", store.lastLimit)
	}
	var rows []db.DecisionRow
	if err := json.NewDecoder(w.Body).Decode(&rows); err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Command != "duck" {
		t.Errorf("rows = %+v", rows)
	}

	testutil.Serve(s.ServeMux(), http.MethodGet, "/api/decisions?limit=999999")
	if store.lastLimit != maxDecisionLimit {
		t.Errorf("limit should be clamped to %d, got %d", maxDecisionLimit, store.lastLimit)
	}

	if w := testutil.Serve(s.ServeMux(), http.MethodGet, "/api/decisions?limit=zero"); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit = %d, want 400", w.Code)
	}
}

func TestListDecisions_Empty(t *testing.T) {
	s := setupTestServer(t, &fakeStore{}, nil)
	w := testutil.Serve(s.ServeMux(), http.MethodGet, "/api/decisions")
	if body := strings.TrimSpace(w.Body.String()); body != "[]" {
		t.Errorf("body = %q, want []", body)
	}
}

func TestListDecisions_StoreError(t *testing.T) {
	s := setupTestServer(t, &fakeStore{err: errors.New("disk gone")}, nil)
	w := testutil.Serve(s.ServeMux(), http.MethodGet, "/api/decisions")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestHistoryDisabled(t *testing.T) {
	s := setupTestServer(t, nil, nil)
	for _, path := range []string{"/api/decisions", "/api/runs"} {
		if w := testutil.Serve(s.ServeMux(), http.MethodGet, path); w.Code != http.StatusServiceUnavailable {
			t.Errorf("GET %s = %d, want 503", path, w.Code)
		}
	}
}

func TestListRuns(t *testing.T) {
	store := &fakeStore{runs: []db.Run{{RunID: "abc", StartedAt: 1}}}
	s := setupTestServer(t, store, nil)
	w := testutil.Serve(s.ServeMux(), http.MethodGet, "/api/runs")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"run_id":"abc"`) {
		t.Errorf("status = %d body = %s", w.Code, w.Body.String())
	}
}

func TestShowCommands(t *testing.T) {
	s := setupTestServer(t, nil, nil)
	w := testutil.Serve(s.ServeMux(), http.MethodGet, "/api/commands")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var got CommandsResponse
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Commands["clench"] != "jump" || got.Commands["wrist"] != "duck" {
		t.Errorf("commands = %v", got.Commands)
	}
	if len(got.Unmapped) != 1 || got.Unmapped[0] != "pinch" {
		t.Errorf("unmapped = %v, want [pinch]", got.Unmapped)
	}
	if got.Address != "127.0.0.1:9999" {
		t.Errorf("address = %q", got.Address)
	}
}

func TestShowWindow(t *testing.T) {
	s := setupTestServer(t, nil, nil)
	if w := testutil.Serve(s.ServeMux(), http.MethodGet, "/api/window"); w.Code != http.StatusNotFound {
		t.Errorf("no snapshot = %d, want 404", w.Code)
	}

	s = setupTestServer(t, nil, testSnapshot())
	w := testutil.Serve(s.ServeMux(), http.MethodGet, "/api/window")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var snap pipeline.Snapshot
	if err := json.NewDecoder(w.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	if len(snap.Samples) != 64 || snap.Prediction.Name != "clench" {
		t.Errorf("unexpected snapshot: %d samples, %q", len(snap.Samples), snap.Prediction.Name)
	}
}

func TestWindowChart(t *testing.T) {
	mux := http.NewServeMux()
	s := setupTestServer(t, nil, nil)
	s.AttachAdminRoutes(mux)
	if w := testutil.Serve(mux, http.MethodGet, "/debug/window"); w.Code != http.StatusNotFound {
		t.Errorf("no snapshot = %d, want 404", w.Code)
	}

	mux = http.NewServeMux()
	s = setupTestServer(t, nil, testSnapshot())
	s.AttachAdminRoutes(mux)
	w := testutil.Serve(mux, http.MethodGet, "/debug/window")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q", ct)
	}
	body := w.Body.String()
	for _, want := range []string{"Power spectrum", "clench", "echarts"} {
		if !strings.Contains(body, want) {
			t.Errorf("chart page missing %q", want)
		}
	}
}

func TestLoggingMiddleware(t *testing.T) {
	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	w := testutil.Serve(h, http.MethodGet, "/x")
	if w.Code != http.StatusTeapot {
		t.Errorf("status = %d", w.Code)
	}
}

func TestStatusCodeColor(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, colorBoldGreen + "200" + colorReset},
		{302, colorYellow + "302" + colorReset},
		{404, colorBoldRed + "404" + colorReset},
		{503, colorBoldRed + "503" + colorReset},
		{101, "101"},
	}
	for _, tt := range tests {
		if got := statusCodeColor(tt.code); got != tt.want {
			t.Errorf("statusCodeColor(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestUptimeAdvances(t *testing.T) {
	s := setupTestServer(t, nil, nil)
	s.start = time.Now().Add(-time.Minute)
	w := testutil.Serve(s.ServeMux(), http.MethodGet, "/api/status")
	var got Status
	if err := json.NewDecoder(bytes.NewReader(w.Body.Bytes())).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.UptimeS < 59 {
		t.Errorf("uptime = %v, want ~60", got.UptimeS)
	}
}
