package main

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"

	"github.com/vertextoedge/terabox-downloader/internal/domain/event"
	"github.com/vertextoedge/terabox-downloader/internal/service/progress"
)

// barHandler renders aggregator snapshots as a byte progress bar. It must be
// subscribed after the aggregator so that snapshots include the event.
type barHandler struct {
	bar        *progressbar.ProgressBar
	aggregator *progress.Aggregator
}

// Ensure barHandler implements event.EventHandler
var _ event.EventHandler = (*barHandler)(nil)

func newBarHandler(w io.Writer, totalBytes int64, aggregator *progress.Aggregator) *barHandler {
	bar := progressbar.NewOptions64(
		totalBytes,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("resolving"),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
	return &barHandler{bar: bar, aggregator: aggregator}
}

func (h *barHandler) Handle(ev event.DomainEvent) error {
	snap := h.aggregator.Snapshot()
	h.bar.Describe(describe(snap))
	if err := h.bar.Set64(snap.BytesDone); err != nil {
		return err
	}
	if _, ok := ev.(event.BatchCompleted); ok {
		return h.bar.Finish()
	}
	return nil
}

func (h *barHandler) HandledEvents() []string {
	return []string{
		event.NameSessionProgressed,
		event.NameSessionStatusChanged,
		event.NameBatchCompleted,
	}
}

// describe renders the file counters, rate and ETA of a snapshot
func describe(s progress.Snapshot) string {
	desc := fmt.Sprintf("%d/%d files", s.Completed, s.TotalFiles)
	if s.Failed > 0 {
		desc += fmt.Sprintf(", %d failed", s.Failed)
	}
	if s.Rate > 0 {
		desc += fmt.Sprintf(" %s/s", humanize.Bytes(uint64(s.Rate)))
	}
	if s.ETA > 0 {
		desc += " eta " + s.ETA.Round(time.Second).String()
	}
	return desc
}
