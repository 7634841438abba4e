// Package capture reads and writes the CSV recordings used to train gesture
// models: one file per recording, named data_<label>_<unix seconds>.csv, with
// a "timestamp,value" header.
package capture

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/gesture.control/internal/monitoring"
)

var logs = monitoring.NewStreams("[capture] ")

const (
	// DefaultCutoff is the hard safety limit for a raw sample. A recording
	// containing any sample above it is discarded in full.
	DefaultCutoff = 900.0

	// DefaultOutlierThreshold is the level above which Clean replaces a
	// sample with the mean of its neighbours.
	DefaultOutlierThreshold = 400.0
)

var (
	ErrBadFilename   = errors.New("capture filename must look like data_<label>_<unixts>.csv")
	ErrBadHeader     = errors.New("capture has no value column")
	ErrExceedsCutoff = errors.New("capture exceeds safety cutoff")
)

// Name is the metadata encoded in a capture filename.
type Name struct {
	Label     string
	Timestamp int64
}

// Time returns the capture start as a time.Time.
func (n Name) Time() time.Time { return time.Unix(n.Timestamp, 0) }

// Filename renders n as data_<label>_<unixts>.csv.
func (n Name) Filename() string {
	return fmt.Sprintf("data_%s_%d.csv", n.Label, n.Timestamp)
}

// ParseFilename extracts the label and start time from a capture path.
// Labels may themselves contain underscores; the timestamp is the last
// underscore-separated field.
func ParseFilename(path string) (Name, error) {
	base := filepath.Base(path)
	if !strings.HasPrefix(base, "data_") || !strings.EqualFold(filepath.Ext(base), ".csv") {
		return Name{}, fmt.Errorf("%w: %q", ErrBadFilename, base)
	}
	stem := strings.TrimSuffix(strings.TrimPrefix(base, "data_"), filepath.Ext(base))
	i := strings.LastIndexByte(stem, '_')
	if i <= 0 || i == len(stem)-1 {
		return Name{}, fmt.Errorf("%w: %q", ErrBadFilename, base)
	}
	ts, err := strconv.ParseInt(stem[i+1:], 10, 64)
	if err != nil {
		return Name{}, fmt.Errorf("%w: %q: %v", ErrBadFilename, base, err)
	}
	return Name{Label: stem[:i], Timestamp: ts}, nil
}

// Capture is a decoded recording.
type Capture struct {
	Name
	Timestamps []float64 // nil when the file has no timestamp column
	Values     []float64
}

// Len returns the number of samples.
func (c *Capture) Len() int { return len(c.Values) }

// Max returns the largest sample, or -Inf for an empty capture.
func (c *Capture) Max() float64 {
	m := math.Inf(-1)
	for _, v := range c.Values {
		m = math.Max(m, v)
	}
	return m
}

// ExceedsCutoff reports whether any sample is strictly above cutoff.
func (c *Capture) ExceedsCutoff(cutoff float64) bool {
	return c.Max() > cutoff
}

// Read decodes capture CSV from r. Columns are located by header name, so a
// file with only a value column is accepted. Rows whose value does not parse
// are skipped.
func Read(r io.Reader) (*Capture, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, ErrBadHeader
	}
	if err != nil {
		return nil, fmt.Errorf("read capture header: %w", err)
	}
	tsCol, valCol := -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "timestamp":
			tsCol = i
		case "value":
			valCol = i
		}
	}
	if valCol < 0 {
		return nil, ErrBadHeader
	}

	c := &Capture{}
	if tsCol >= 0 {
		c.Timestamps = []float64{}
	}
	skipped := 0
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read capture line %d: %w", line, err)
		}
		if valCol >= len(rec) || (tsCol >= len(rec)) {
			skipped++
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[valCol]), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			skipped++
			continue
		}
		if tsCol >= 0 {
			ts, err := strconv.ParseFloat(strings.TrimSpace(rec[tsCol]), 64)
			if err != nil {
				skipped++
				continue
			}
			c.Timestamps = append(c.Timestamps, ts)
		}
		c.Values = append(c.Values, v)
	}
	if skipped > 0 {
		logs.Tracef("skipped %d unparseable rows", skipped)
	}
	return c, nil
}

// ReadFile opens and decodes the capture at path, filling Name from the
// filename.
func ReadFile(path string) (*Capture, error) {
	name, err := ParseFilename(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	c, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	c.Name = name
	return c, nil
}

// Write encodes c as capture CSV. Captures without timestamps are written
// with sample indices in the timestamp column.
func Write(w io.Writer, c *Capture) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"timestamp", "value"}); err != nil {
		return err
	}
	for i, v := range c.Values {
		ts := float64(i)
		if i < len(c.Timestamps) {
			ts = c.Timestamps[i]
		}
		if err := cw.Write([]string{
			strconv.FormatFloat(ts, 'f', -1, 64),
			strconv.FormatFloat(v, 'f', -1, 64),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Clean replaces every sample above threshold with the mean of its
// neighbours, or the single neighbour at either end, and returns how many
// samples were replaced. Neighbours are read after earlier replacements
// have been applied.
func (c *Capture) Clean(threshold float64) int {
	v := c.Values
	n := len(v)
	replaced := 0
	for i := range v {
		if v[i] <= threshold {
			continue
		}
		switch {
		case i == 0 && n > 1:
			v[i] = v[i+1]
		case i == n-1 && i > 0:
			v[i] = v[i-1]
		case i > 0 && i < n-1:
			v[i] = (v[i-1] + v[i+1]) / 2
		default:
			continue
		}
		replaced++
	}
	return replaced
}
