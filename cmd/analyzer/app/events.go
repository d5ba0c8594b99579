package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/geeknik/rtl-sdr-analyzer/internal/detection"
	"github.com/geeknik/rtl-sdr-analyzer/internal/storage"
)

// EventsConfig selects what the events command prints.
type EventsConfig struct {
	DBPath        string
	SessionID     int64 // Lists sessions when zero
	Since         time.Duration
	MinConfidence float64
	Limit         int
}

// RunEvents prints the stored sessions, or the events of one session, to w.
func RunEvents(ctx context.Context, config *EventsConfig, w io.Writer) error {
	if _, err := os.Stat(config.DBPath); err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	store := storage.NewSqliteStore(config.DBPath)
	defer store.Close()

	if config.SessionID == 0 {
		sessions, err := store.Sessions(ctx)
		if err != nil {
			return err
		}
		return printSessions(w, sessions)
	}

	session, err := store.Session(ctx, config.SessionID)
	if err != nil {
		return err
	}

	var opts []storage.EventOption
	if config.Since > 0 {
		end := time.Now()
		opts = append(opts, storage.WithTimeRange(end.Add(-config.Since), end))
	}
	if config.MinConfidence > 0 {
		opts = append(opts, storage.WithMinConfidence(config.MinConfidence))
	}
	if config.Limit > 0 {
		opts = append(opts, storage.WithLimit(config.Limit))
	}

	events, err := store.Events(ctx, session.ID, opts...)
	if err != nil {
		return err
	}
	return printEvents(w, session, events)
}

func printSessions(w io.Writer, sessions []*storage.Session) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tDURATION\tSOURCE\tBAND\tFRAMES\tDETECTED\tRATE")

	for _, s := range sessions {
		duration, frames, detected, rate := "running", "-", "-", "-"
		if s.EndTime != nil {
			duration = s.EndTime.Sub(s.StartTime).Round(time.Second).String()
		}
		if s.Stats != nil {
			frames = humanize.Comma(int64(s.Stats.TotalFrames))
			detected = humanize.Comma(int64(s.Stats.DetectedFrames))
			rate = fmt.Sprintf("%.2f%%", s.Stats.DetectionRate*100)
		}

		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			s.ID,
			s.StartTime.Local().Format(time.DateTime),
			duration,
			s.Source,
			band(s.CenterFreq, s.SampleRate),
			frames,
			detected,
			rate,
		)
	}

	return tw.Flush()
}

func printEvents(w io.Writer, session *storage.Session, events []*storage.Event) error {
	fmt.Fprintf(w, "Session %d, %s, %s\n\n", session.ID, session.Source, band(session.CenterFreq, session.SampleRate))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tFREQUENCY\tPOWER\tBANDWIDTH\tDURATION\tCONFIDENCE\tSNR")

	for _, e := range events {
		d := e.Detection
		fmt.Fprintf(tw, "%s\t%s\t%.2f dB\t%s\t%s\t%.2f\t%s\n",
			d.Timestamp.Local().Format(detection.TimestampLayout),
			humanize.SIWithDigits(d.Frequency*1e6, 3, "Hz"),
			d.Power,
			humanize.SIWithDigits(d.Bandwidth, 1, "Hz"),
			d.Duration.Round(time.Millisecond),
			d.Confidence,
			optionalDB(d.SNR),
		)
	}

	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\n%d event(s)\n", len(events))
	return err
}

func band(center, rate float64) string {
	return fmt.Sprintf("%s ± %s",
		humanize.SIWithDigits(center, 3, "Hz"),
		humanize.SIWithDigits(rate/2, 3, "Hz"))
}

func optionalDB(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f dB", *v)
}
