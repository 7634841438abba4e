// Package main prints a one-screen summary of a running gesture service:
// pipeline counters, dispatcher state and the most recent decisions.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/banshee-data/gesture.control/internal/api"
	"github.com/banshee-data/gesture.control/internal/db"
	"github.com/banshee-data/gesture.control/internal/httputil"
)

func main() {
	base := flag.String("url", "http://localhost:8080", "Base URL of the gesture service")
	limit := flag.Int("n", 10, "Number of recent decisions to show (0 to skip)")
	timeout := flag.Duration("timeout", 5*time.Second, "HTTP timeout")
	flag.Parse()

	client := httputil.NewStandardClient(&http.Client{Timeout: *timeout})
	if err := Report(os.Stdout, client, strings.TrimRight(*base, "/"), *limit); err != nil {
		log.Fatal(err)
	}
}

// Report fetches /api/status and, when limit > 0, /api/decisions from base
// and writes a human-readable summary to w. A service running without a
// database still gets its status printed.
func Report(w io.Writer, c httputil.HTTPClient, base string, limit int) error {
	var st api.Status
	if err := httputil.GetJSON(c, base+"/api/status", &st); err != nil {
		return err
	}
	writeStatus(w, st)

	if limit <= 0 {
		return nil
	}
	var rows []db.DecisionRow
	if err := httputil.GetJSON(c, fmt.Sprintf("%s/api/decisions?limit=%d", base, limit), &rows); err != nil {
		fmt.Fprintf(w, "\ndecisions unavailable: %v\n", err)
		return nil
	}
	writeDecisions(w, rows)
	return nil
}

func writeStatus(w io.Writer, st api.Status) {
	fmt.Fprintf(w, "gesture %s (%s)", st.Version, st.GitSHA)
	if st.RunID != "" {
		fmt.Fprintf(w, " run %s", st.RunID)
	}
	fmt.Fprintf(w, ", up %s\n", (time.Duration(st.UptimeS) * time.Second).String())
	fmt.Fprintf(w, "labels:     %s\n", strings.Join(st.Labels, ", "))
	fmt.Fprintf(w, "window:     %d samples, overlap %.2f, features %s\n",
		st.Config.WindowSize, st.Config.Overlap, st.Config.FeatureSet)
	fmt.Fprintf(w, "decision:   threshold %.2f, cooldown %.2fs\n",
		st.Config.ConfidenceThreshold, st.Config.CooldownS)

	p := st.Pipeline
	fmt.Fprintf(w, "pipeline:   %s, %d samples (%d malformed, %d dropped, %d dropped at source), %d windows, %d decisions\n",
		p.State, p.Samples, p.Malformed, p.Dropped, p.SourceDropped, p.Windows, p.Decisions)

	d := st.Dispatch
	conn := "disconnected"
	if d.Connected {
		conn = "connected"
	}
	fmt.Fprintf(w, "dispatch:   %s %s, %d sent, %d failed, %d unmapped\n",
		d.Address, conn, d.Sent, d.Failed, d.Unmapped)
	if st.Debouncer.HasLast {
		fmt.Fprintf(w, "last emit:  %s at %s\n", st.Debouncer.LastName, formatTime(st.Debouncer.LastEmitTime))
	}
}

func writeDecisions(w io.Writer, rows []db.DecisionRow) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "\nno decisions recorded")
		return
	}
	fmt.Fprintf(w, "\n%-12s  %-10s  %6s  %-8s  %s\n", "time", "label", "conf", "command", "result")
	for _, r := range rows {
		result := "ok"
		if !r.OK {
			result = "failed: " + r.Error
		}
		cmd := r.Command
		if cmd == "" {
			cmd = "-"
		}
		fmt.Fprintf(w, "%-12s  %-10s  %6.3f  %-8s  %s\n",
			formatTime(r.Time), r.Label, r.Confidence, cmd, result)
	}
}

func formatTime(s float64) string {
	sec := int64(s)
	nsec := int64((s - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).Format("15:04:05.000")
}
