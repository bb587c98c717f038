package ui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"tsegrab/pkg/models"
)

const (
	progressBar   = "█"
	progressEmpty = "░"
	barWidth      = 20
)

// TransferProgress renders a single rewritten line per in-flight transfer.
type TransferProgress struct {
	out      io.Writer
	lastName string
}

// NewTransferProgress creates a progress display writing to out.
func NewTransferProgress(out io.Writer) *TransferProgress {
	return &TransferProgress{out: out}
}

// Update redraws the progress line. It matches transfer.ProgressFunc so
// it can be handed straight to the transfer manager.
func (tp *TransferProgress) Update(name string, written, total int64, elapsed time.Duration) {
	if IsQuietMode() {
		return
	}

	if tp.lastName != "" && tp.lastName != name {
		fmt.Fprintln(tp.out)
	}
	tp.lastName = name

	if total > 0 {
		ratio := float64(written) / float64(total)
		if ratio > 1 {
			ratio = 1
		}
		filled := int(ratio * barWidth)
		bar := strings.Repeat(progressBar, filled) + strings.Repeat(progressEmpty, barWidth-filled)
		fmt.Fprintf(tp.out, "\r  %s [%s] %s / %s (%s)",
			trimName(name), bar,
			humanize.Bytes(uint64(written)), humanize.Bytes(uint64(total)),
			elapsed.Round(time.Second))
		return
	}

	fmt.Fprintf(tp.out, "\r  %s %s (%s)",
		trimName(name), humanize.Bytes(uint64(written)), elapsed.Round(time.Second))
}

// Finish terminates the current progress line with the outcome.
func (tp *TransferProgress) Finish(outcome models.TransferOutcome) {
	if IsQuietMode() {
		return
	}
	tp.lastName = ""

	switch outcome.Status {
	case models.StatusCompleted:
		fmt.Fprintf(tp.out, "\r  %s %s (%s)%s\n",
			Green("✓"), outcome.Resource.Name,
			humanize.Bytes(uint64(outcome.BytesWritten)), clearToEOL())
	case models.StatusSkipped:
		fmt.Fprintf(tp.out, "  %s %s (exists)\n", Dim("·"), outcome.Resource.Name)
	case models.StatusFailed:
		fmt.Fprintf(tp.out, "\r  %s %s (%s after %d attempts)%s\n",
			Red("✗"), outcome.Resource.Name, outcome.Err, outcome.Attempts, clearToEOL())
	}
}

func trimName(name string) string {
	const max = 48
	if len(name) <= max {
		return name
	}
	return name[:max-3] + "..."
}

func clearToEOL() string {
	return "\033[K"
}

// PrintSummary prints the final run counters.
func PrintSummary(summary models.Summary) {
	fmt.Println()
	fmt.Println(strings.Repeat("=", 40))
	fmt.Printf("%s %d\n", Green("Downloaded:"), summary.Downloaded)
	fmt.Printf("%s    %d\n", Yellow("Skipped:"), summary.Skipped)
	fmt.Printf("%s     %d\n", Red("Failed:"), summary.Failed)
	fmt.Println(strings.Repeat("=", 40))
}
