// Package main renders capture CSVs as time/value PNG plots, optionally
// with the safety cutoff drawn as a reference line.
package main

import (
	"flag"
	"fmt"
	"image/color"
	"log"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/gesture.control/internal/capture"
)

var (
	signalColor = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	cutoffColor = color.RGBA{R: 214, G: 39, B: 40, A: 255}
)

func main() {
	outDir := flag.String("out", ".", "Directory for the PNG files")
	cutoff := flag.Float64("cutoff", capture.DefaultCutoff, "Draw the safety cutoff at this value (0 disables)")
	width := flag.Float64("width", 10, "Plot width in inches")
	height := flag.Float64("height", 6, "Plot height in inches")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: plot-capture [flags] data_<label>_<ts>.csv ...")
		flag.PrintDefaults()
		os.Exit(2)
	}

	failed := 0
	for _, path := range flag.Args() {
		c, err := capture.ReadFile(path)
		if err != nil {
			log.Printf("skipping %s: %v", path, err)
			failed++
			continue
		}
		p, err := Plot(c, *cutoff)
		if err != nil {
			log.Printf("skipping %s: %v", path, err)
			failed++
			continue
		}
		out := filepath.Join(*outDir, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))+".png")
		if err := p.Save(vg.Length(*width)*vg.Inch, vg.Length(*height)*vg.Inch, out); err != nil {
			log.Printf("save %s: %v", out, err)
			failed++
			continue
		}
		log.Printf("wrote %s (%d samples)", out, c.Len())
	}
	if failed > 0 {
		os.Exit(1)
	}
}

// Plot builds a time/value line plot of c. Time is shown in seconds from the
// first sample; captures without timestamps use the sample index.
func Plot(c *capture.Capture, cutoff float64) (*plot.Plot, error) {
	if c.Len() == 0 {
		return nil, fmt.Errorf("capture has no samples")
	}

	pts := make(plotter.XYs, c.Len())
	haveTime := len(c.Timestamps) == c.Len()
	for i, v := range c.Values {
		x := float64(i)
		if haveTime {
			x = c.Timestamps[i] - c.Timestamps[0]
		}
		pts[i] = plotter.XY{X: x, Y: v}
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s (%s)", c.Label, c.Time().UTC().Format("2006-01-02 15:04:05"))
	if haveTime {
		p.X.Label.Text = "Time (s)"
	} else {
		p.X.Label.Text = "Sample"
	}
	p.Y.Label.Text = "Value"
	p.Add(plotter.NewGrid())

	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, err
	}
	line.Color = signalColor
	line.Width = vg.Points(1)
	p.Add(line)
	p.Legend.Add("signal", line)

	if cutoff > 0 {
		limit, err := plotter.NewLine(plotter.XYs{
			{X: pts[0].X, Y: cutoff},
			{X: pts[len(pts)-1].X, Y: cutoff},
		})
		if err != nil {
			return nil, err
		}
		limit.Color = cutoffColor
		limit.Width = vg.Points(1)
		limit.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}
		p.Add(limit)
		p.Legend.Add(fmt.Sprintf("cutoff %.0f", cutoff), limit)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}
