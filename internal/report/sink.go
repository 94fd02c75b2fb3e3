package report

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"
)

// Sink receives finished reports.
type Sink interface {
	WriteReport(ctx context.Context, rep *Report) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, rep *Report) error

// WriteReport implements Sink.
func (f SinkFunc) WriteReport(ctx context.Context, rep *Report) error {
	return f(ctx, rep)
}

// MultiSink fans a report out to several sinks and returns the first error. Nil
// entries are skipped.
type MultiSink []Sink

// WriteReport implements Sink.
func (m MultiSink) WriteReport(ctx context.Context, rep *Report) error {
	var first error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.WriteReport(ctx, rep); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// WriterSink prints each report to w, as indented JSON or as the WriteText table.
func WriterSink(w io.Writer, asJSON bool) Sink {
	return SinkFunc(func(_ context.Context, rep *Report) error {
		if !asJSON {
			return WriteText(w, rep)
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	})
}

// DirSink writes report-<run id>.json and refreshes latest.json in Dir.
type DirSink struct {
	Dir string
}

// WriteReport implements Sink.
func (d DirSink) WriteReport(_ context.Context, rep *Report) error {
	if err := os.MkdirAll(d.Dir, 0o750); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	payload, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	for _, name := range []string{fmt.Sprintf("report-%s.json", rep.RunID), "latest.json"} {
		if err := writeFileAtomic(filepath.Join(d.Dir, name), payload); err != nil {
			return err
		}
	}
	return nil
}

func writeFileAtomic(path string, payload []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".report-*")
	if err != nil {
		return fmt.Errorf("create temp report: %w", err)
	}
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close report: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("commit report: %w", err)
	}
	return nil
}

// WriteText prints a human-readable table of rep to w.
func WriteText(w io.Writer, rep *Report) error {
	fmt.Fprintf(w, "run %s: %d pairs (%d ok, %d failed), %d findings, window=%d threshold=%g, %s\n\n",
		rep.RunID, len(rep.Pairs), rep.Succeeded, rep.Failed, rep.Findings,
		rep.Parameters.WindowSize, rep.Parameters.Threshold, rep.Duration.Round(time.Millisecond))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PAIR\tFINDINGS\tPEAK\tPEAK WINDOW\tCACHED\tERROR")
	for _, s := range rep.Pairs {
		peak, window := "-", "-"
		if s.Findings > 0 {
			peak = fmt.Sprintf("%+.3f", s.PeakCoefficient)
			window = s.PeakWindowStart.Format("2006-01-02") + ".." + s.PeakWindowEnd.Format("2006-01-02")
		}
		errText := "-"
		if s.Error != "" {
			errText = s.ErrorKind + ": " + s.Error
		}
		fmt.Fprintf(tw, "%s ~ %s\t%d\t%s\t%s\t%t\t%s\n", s.Pair.A, s.Pair.B, s.Findings, peak, window, s.CacheHit, errText)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(rep.Hotspots) > 0 {
		fmt.Fprintln(w, "\nhotspots:")
		for _, h := range rep.Hotspots {
			fmt.Fprintf(w, "  %s: %d correlated pairs (%.0f%%), %d findings, partners %v\n",
				h.Dataset, h.Pairs, h.Prevalence*100, h.Findings, h.TopPartners)
		}
	}
	if len(rep.Intervals) > 0 {
		fmt.Fprintln(w, "\nintervals:")
		for _, iv := range rep.Intervals {
			fmt.Fprintf(w, "  %s ~ %s %s..%s windows=%d peak=%+.3f\n",
				iv.Pair.A, iv.Pair.B, iv.Start.Format("2006-01-02"), iv.End.Format("2006-01-02"), iv.Windows, iv.PeakCoefficient)
		}
	}
	return nil
}
