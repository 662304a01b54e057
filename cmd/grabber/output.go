package main

import (
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/progress"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/aluiziolira/go-grab-ebooks/delivery"
	"github.com/aluiziolira/go-grab-ebooks/models"
	"github.com/aluiziolira/go-grab-ebooks/pipeline"
)

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	return t
}

func renderInventory(entries []models.CatalogEntry) string {
	t := newTable()
	t.AppendHeader(table.Row{"#", "Title", "Formats"})
	for i, e := range entries {
		formats := make([]string, 0, len(e.Downloads))
		for f := range e.Downloads {
			formats = append(formats, string(f))
		}
		sort.Strings(formats)
		t.AppendRow(table.Row{i + 1, e.Title, strings.Join(formats, ", ")})
	}
	return t.Render()
}

func renderSummary(report *pipeline.Report, elapsed time.Duration) string {
	t := newTable()
	t.SetTitle("Run summary")
	if report.Claimed != "" {
		t.AppendRow(table.Row{"Claimed", report.Claimed})
	}
	if report.Inventory != nil {
		t.AppendRow(table.Row{"Library", len(report.Inventory)})
	}
	if d := report.Download; d != nil {
		t.AppendRow(table.Row{"Downloaded", d.Downloaded})
		t.AppendRow(table.Row{"Skipped", d.Skipped})
		t.AppendRow(table.Row{"Not offered", d.Missing})
		t.AppendRow(table.Row{"Failed", len(d.Errors)})
		t.AppendRow(table.Row{"Bytes", d.Bytes})
	}
	if len(report.Uploads) > 0 {
		sent := 0
		for _, u := range report.Uploads {
			if u.Status == delivery.UploadSent {
				sent++
			}
		}
		t.AppendRow(table.Row{"Uploaded", sent})
	}
	if len(report.MailErrors) > 0 {
		t.AppendRow(table.Row{"Mail errors", len(report.MailErrors)})
	}
	t.AppendRow(table.Row{"Duration", elapsed.Round(time.Millisecond)})
	return t.Render()
}

// progressBars renders one tracker per transferred file.
type progressBars struct {
	pw       progress.Writer
	mu       sync.Mutex
	trackers []*progress.Tracker
}

func newProgressBars(out io.Writer) *progressBars {
	pw := progress.NewWriter()
	pw.SetOutputWriter(out)
	pw.SetAutoStop(false)
	pw.SetTrackerLength(25)
	pw.SetUpdateFrequency(100 * time.Millisecond)
	pw.Style().Visibility.ETA = true
	pw.Style().Visibility.Value = true
	go pw.Render()
	return &progressBars{pw: pw}
}

func (b *progressBars) track(file string, total int64) pipeline.ProgressFunc {
	tracker := &progress.Tracker{Message: file, Units: progress.UnitsBytes}
	if total > 0 {
		tracker.Total = total
	}
	b.pw.AppendTracker(tracker)

	b.mu.Lock()
	b.trackers = append(b.trackers, tracker)
	b.mu.Unlock()

	return func(received, total int64) {
		tracker.SetValue(received)
		if total > 0 && received >= total {
			tracker.MarkAsDone()
		}
	}
}

func (b *progressBars) stop() {
	b.mu.Lock()
	for _, t := range b.trackers {
		if !t.IsDone() {
			t.MarkAsErrored()
		}
	}
	b.mu.Unlock()
	for b.pw.IsRenderInProgress() && b.pw.LengthActive() > 0 {
		time.Sleep(50 * time.Millisecond)
	}
	b.pw.Stop()
}
