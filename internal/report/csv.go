package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// CSVHeader is the column layout of the detections file.
var CSVHeader = []string{"frame", "x1", "y1", "x2", "y2", "team"}

// CSVWriter writes one row per classified player. (x2, y2) is the exclusive
// bottom-right corner.
type CSVWriter struct {
	w    *csv.Writer
	rows int
}

// NewCSVWriter writes the header immediately.
func NewCSVWriter(w io.Writer) (*CSVWriter, error) {
	cw := &CSVWriter{w: csv.NewWriter(w)}
	if err := cw.w.Write(CSVHeader); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	return cw, nil
}

func (c *CSVWriter) WriteRow(frame int, d Detection) error {
	rec := []string{
		strconv.Itoa(frame),
		strconv.Itoa(d.Box.Min.X),
		strconv.Itoa(d.Box.Min.Y),
		strconv.Itoa(d.Box.Max.X),
		strconv.Itoa(d.Box.Max.Y),
		strconv.Itoa(d.Team),
	}
	if err := c.w.Write(rec); err != nil {
		return fmt.Errorf("write csv row: %w", err)
	}
	c.rows++
	return nil
}

// WriteFrame writes every detection of a frame in order.
func (c *CSVWriter) WriteFrame(frame int, dets []Detection) error {
	for _, d := range dets {
		if err := c.WriteRow(frame, d); err != nil {
			return err
		}
	}
	return nil
}

// Rows is the number of data rows written so far.
func (c *CSVWriter) Rows() int { return c.rows }

func (c *CSVWriter) Flush() error {
	c.w.Flush()
	return c.w.Error()
}
