// Package waterfall keeps a bounded history of power spectra and renders it
// as an annotated waterfall image.
package waterfall

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/geeknik/rtl-sdr-analyzer/internal/detection"
	"github.com/geeknik/rtl-sdr-analyzer/internal/spectrum"
)

const (
	defaultRowHeight = 4

	topBorder    = 30
	leftBorder   = 100
	bottomBorder = 80
	rightBorder  = 10

	markerWidth = 6
)

var (
	backgroundColor = color.RGBA{A: 255}
	eventColor      = color.RGBA{R: 255, A: 255}
	peakColor       = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// Row is one spectrum of the waterfall.
type Row struct {
	Timestamp time.Time
	Power     []float64
	Event     *detection.DetectionEvent // Event emitted for this spectrum, if any
}

// Waterfall is a fixed-length history of spectra, newest first when
// rendered. It is not safe for concurrent use.
type Waterfall struct {
	axis      spectrum.FrequencyAxis
	length    int
	theme     Theme
	rowHeight int

	rows    []Row
	tracker *boundsTracker
}

type Option func(w *Waterfall)

func WithTheme(theme Theme) Option {
	return func(w *Waterfall) {
		w.theme = theme
	}
}

// WithRowHeight sets the height of a spectrum row in pixels.
func WithRowHeight(px int) Option {
	return func(w *Waterfall) {
		w.rowHeight = px
	}
}

func New(axis spectrum.FrequencyAxis, length int, options ...Option) (*Waterfall, error) {
	if len(axis) < 2 {
		return nil, errors.New("frequency axis must have at least two bins")
	}
	if length <= 0 {
		return nil, fmt.Errorf("invalid waterfall length %d", length)
	}

	w := &Waterfall{
		axis:      axis.Clone(),
		length:    length,
		theme:     DefaultTheme,
		rowHeight: defaultRowHeight,
		rows:      make([]Row, 0, length),
		tracker:   newBoundsTracker(),
	}

	for _, option := range options {
		option(w)
	}

	if _, err := ParseTheme(string(w.theme)); err != nil {
		return nil, err
	}
	if w.rowHeight <= 0 {
		return nil, fmt.Errorf("invalid row height %d", w.rowHeight)
	}

	return w, nil
}

// Push appends a spectrum, dropping the oldest row once the waterfall is full.
// The power slice is copied.
func (w *Waterfall) Push(power []float64, ts time.Time, event *detection.DetectionEvent) error {
	if len(power) != len(w.axis) {
		return fmt.Errorf("spectrum has %d bins, expected %d", len(power), len(w.axis))
	}

	row := Row{
		Timestamp: ts,
		Power:     append([]float64(nil), power...),
		Event:     event,
	}

	if len(w.rows) == w.length {
		copy(w.rows, w.rows[1:])
		w.rows = w.rows[:w.length-1]
	}
	w.rows = append(w.rows, row)
	return nil
}

// Len returns the number of rows held.
func (w *Waterfall) Len() int {
	return len(w.rows)
}

// Rows returns the held rows, oldest first.
func (w *Waterfall) Rows() []Row {
	return append([]Row(nil), w.rows...)
}

// Render draws the waterfall. The newest spectrum is the top row; rows not
// yet filled stay black.
func (w *Waterfall) Render() (*image.RGBA, error) {
	width := len(w.axis)
	height := w.length * w.rowHeight

	img := image.NewRGBA(image.Rect(0, 0, leftBorder+width+rightBorder, topBorder+height+bottomBorder))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: backgroundColor}, image.Point{}, draw.Src)

	area := image.Rect(leftBorder, topBorder, leftBorder+width, topBorder+height)

	ann, err := newAnnotator()
	if err != nil {
		return nil, fmt.Errorf("creating annotator: %w", err)
	}

	if err = ann.annotate(img, area, w); err != nil {
		return nil, fmt.Errorf("drawing annotations: %w", err)
	}

	w.renderRows(img, area)

	return img, nil
}

func (w *Waterfall) renderRows(img *image.RGBA, area image.Rectangle) {
	powers := make([][]float64, len(w.rows))
	for i, r := range w.rows {
		powers[i] = r.Power
	}
	cm := newColorMapper(w.theme, w.tracker.update(powers))

	for i := range w.rows {
		row := w.rows[len(w.rows)-1-i]
		y0 := area.Min.Y + i*w.rowHeight

		for x, p := range row.Power {
			c := cm.color(p)
			for dy := 0; dy < w.rowHeight; dy++ {
				img.Set(area.Min.X+x, y0+dy, c)
			}
		}

		if row.Event != nil {
			w.markEvent(img, area, y0, row.Event)
		}
	}
}

func (w *Waterfall) markEvent(img *image.RGBA, area image.Rectangle, y0 int, e *detection.DetectionEvent) {
	for dy := 0; dy < w.rowHeight; dy++ {
		for x := area.Min.X - markerWidth - 2; x < area.Min.X-2; x++ {
			img.Set(x, y0+dy, eventColor)
		}
	}

	if i := w.binIndex(e.Frequency); i >= 0 {
		for dy := 0; dy < w.rowHeight; dy++ {
			img.Set(area.Min.X+i, y0+dy, peakColor)
		}
	}
}

// binIndex returns the bin nearest to freq in MHz, or -1 outside the band.
func (w *Waterfall) binIndex(freq float64) int {
	i := int(math.Round((freq - w.axis[0]) / w.axis.Spacing()))
	if i < 0 || i >= len(w.axis) {
		return -1
	}
	return i
}

// WritePNG renders the waterfall into path. The file is replaced atomically.
func (w *Waterfall) WritePNG(path string) (err error) {
	img, err := w.Render()
	if err != nil {
		return err
	}

	f, err := os.CreateTemp(filepath.Dir(path), ".waterfall-*.png")
	if err != nil {
		return fmt.Errorf("creating temporary file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(f.Name())
		}
	}()

	if err = png.Encode(f, img); err != nil {
		_ = f.Close()
		return fmt.Errorf("encoding png: %w", err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", f.Name(), err)
	}
	if err = os.Rename(f.Name(), path); err != nil {
		return fmt.Errorf("renaming to %s: %w", path, err)
	}
	return nil
}
