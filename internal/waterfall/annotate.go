package waterfall

import (
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

const (
	dpi      float64 = 72
	size     float64 = 12
	spacing  float64 = 1.3
	tickSize         = 5

	pxPerFreqLabel = 250
	rowsPerLabel   = 10
	timeFormat     = "15:04:05.000"
)

var parseFont = sync.OnceValues(func() (*truetype.Font, error) {
	return freetype.ParseFont(goregular.TTF)
})

type annotator struct {
	context *freetype.Context
}

func newAnnotator() (*annotator, error) {
	parsedFont, err := parseFont()
	if err != nil {
		return nil, fmt.Errorf("parsing font: %w", err)
	}

	context := freetype.NewContext()
	context.SetDPI(dpi)
	context.SetFont(parsedFont)
	context.SetFontSize(size)
	context.SetSrc(image.White)
	context.SetHinting(font.HintingFull)

	return &annotator{context: context}, nil
}

func (a *annotator) annotate(img *image.RGBA, area image.Rectangle, w *Waterfall) error {
	a.context.SetClip(img.Bounds())
	a.context.SetDst(img)

	ops := []struct {
		msg string
		fn  func(*image.RGBA, image.Rectangle, *Waterfall) error
	}{
		{"drawing frequency scale", a.drawFrequencyScale},
		{"drawing time scale", a.drawTimeScale},
		{"drawing info", a.drawInfo},
	}
	for _, op := range ops {
		if err := op.fn(img, area, w); err != nil {
			return fmt.Errorf("%s: %w", op.msg, err)
		}
	}

	return nil
}

func (a *annotator) drawFrequencyScale(img *image.RGBA, area image.Rectangle, w *Waterfall) error {
	count := max(2, area.Dx()/pxPerFreqLabel)
	pxPerLabel := area.Dx() / count

	for si := 0; si < count; si++ {
		px := si * pxPerLabel
		x := area.Min.X + px

		for y := area.Min.Y - tickSize; y < area.Min.Y; y++ {
			img.Set(x, y, image.White)
		}

		pt := freetype.Pt(x+3, area.Min.Y-tickSize-3)
		if _, err := a.context.DrawString(humanHz(w.axis[px]*1e6), pt); err != nil {
			return err
		}
	}

	return nil
}

func (a *annotator) drawTimeScale(img *image.RGBA, area image.Rectangle, w *Waterfall) error {
	for i := 0; i < len(w.rows); i += rowsPerLabel {
		row := w.rows[len(w.rows)-1-i]
		y := area.Min.Y + i*w.rowHeight

		for x := area.Min.X - markerWidth - 2 - tickSize; x < area.Min.X-markerWidth-2; x++ {
			img.Set(x, y, image.White)
		}

		pt := freetype.Pt(3, y+int(size/2))
		if _, err := a.context.DrawString(row.Timestamp.Format(timeFormat), pt); err != nil {
			return err
		}
	}

	return nil
}

func (a *annotator) drawInfo(img *image.RGBA, area image.Rectangle, w *Waterfall) error {
	fMin, fMax := w.axis[0]*1e6, w.axis[len(w.axis)-1]*1e6

	var events int
	for _, r := range w.rows {
		if r.Event != nil {
			events++
		}
	}

	lines := []string{
		fmt.Sprintf("Band: %s to %s, center %s", humanHz(fMin), humanHz(fMax), humanHz(w.axis.Center()*1e6)),
		fmt.Sprintf("Bin width: %s", humanHz(w.axis.Spacing()*1e6)),
		fmt.Sprintf("Spectra: %d of %d", len(w.rows), w.length),
		fmt.Sprintf("Events: %d", events),
	}
	if n := len(w.rows); n > 0 {
		start, end := w.rows[0].Timestamp, w.rows[n-1].Timestamp
		lines[2] += fmt.Sprintf(", %s to %s (%s)", start.Format(timeFormat), end.Format(timeFormat), end.Sub(start).Round(time.Millisecond))
	}

	pt := freetype.Pt(3, area.Max.Y+a.context.PointToFixed(size*spacing).Round()+3)
	for _, s := range lines {
		if _, err := a.context.DrawString(s, pt); err != nil {
			return err
		}
		pt.Y += a.context.PointToFixed(size * spacing)
	}

	return nil
}

func humanHz(hz float64) string {
	v, suffix := humanize.ComputeSI(hz)
	return fmt.Sprintf("%0.3f %sHz", v, suffix)
}
