package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"tailscale.com/tsweb"

	"github.com/banshee-data/gesture.control/internal/features"
	"github.com/banshee-data/gesture.control/internal/httputil"
	"github.com/banshee-data/gesture.control/internal/pipeline"
)

// AttachAdminRoutes mounts the window chart on the tsweb debug index.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("window", "chart of the last classified window and its power spectrum", s.handleWindowChart)
}

// handleWindowChart renders the samples of the last window and its
// one-sided power spectrum as two line charts on one page.
func (s *Server) handleWindowChart(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.p.LastSnapshot()
	if !ok {
		httputil.NotFound(w, "no window classified yet")
		return
	}

	page := components.NewPage()
	page.PageTitle = "Gesture window"
	page.AddCharts(signalChart(snap), spectrumChart(snap))

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func signalChart(snap pipeline.Snapshot) *charts.Line {
	x := make([]string, len(snap.Samples))
	y := make([]opts.LineData, len(snap.Samples))
	var t0 float64
	if len(snap.Samples) > 0 {
		t0 = snap.Samples[0].Timestamp
	}
	for i, sample := range snap.Samples {
		x[i] = strconv.FormatFloat(sample.Timestamp-t0, 'f', 3, 64)
		y[i] = opts.LineData{Value: sample.Value}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{
			Title: "Window",
			Subtitle: fmt.Sprintf("%s (%.0f%%) samples=%d mean=%.1f rms=%.1f",
				snap.Prediction.Name, snap.Prediction.Confidence*100, len(snap.Samples),
				snap.Features.Mean, snap.Features.RMS),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "t (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "value"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "inside"}),
	)
	line.SetXAxis(x).AddSeries("signal", y, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	return line
}

func spectrumChart(snap pipeline.Snapshot) *charts.Line {
	values := make([]float64, len(snap.Samples))
	timestamps := make([]float64, len(snap.Samples))
	for i, sample := range snap.Samples {
		values[i] = sample.Value
		timestamps[i] = sample.Timestamp
	}
	dt := features.SampleInterval(timestamps, len(values))
	freqs, power := features.PowerSpectrum(values, dt)

	x := make([]string, len(freqs))
	y := make([]opts.LineData, len(power))
	for i := range freqs {
		x[i] = strconv.FormatFloat(freqs[i], 'f', 2, 64)
		y[i] = opts.LineData{Value: power[i]}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Power spectrum",
			Subtitle: fmt.Sprintf("centroid=%.2fHz spread=%.2fHz", snap.Features.PSMoment1, snap.Features.PSMoment2),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "f (Hz)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "|X|^2", Type: "log"}),
	)
	line.SetXAxis(x).AddSeries("power", y, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	return line
}
