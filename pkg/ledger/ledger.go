// Package ledger aggregates per-resource outcomes into run counters and
// persists a manifest of failed transfers for later replay.
package ledger

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"

	errs "tsegrab/pkg/errors"
	"tsegrab/pkg/logger"
	"tsegrab/pkg/models"
)

// Ledger collects transfer outcomes. Safe for concurrent use; the lock is
// never held across I/O except during Finalize, which runs after all
// transfers are done.
type Ledger struct {
	mu           sync.Mutex
	manifestPath string
	downloaded   int
	skipped      int
	failed       int
	failures     []models.TransferOutcome
	logger       logger.Logger
}

// New creates a ledger that will persist failures to manifestPath.
func New(manifestPath string, log logger.Logger) *Ledger {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Ledger{
		manifestPath: manifestPath,
		logger:       log,
	}
}

// Record appends one outcome to the counters, keeping failed outcomes for
// the manifest.
func (l *Ledger) Record(outcome models.TransferOutcome) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch outcome.Status {
	case models.StatusCompleted:
		l.downloaded++
	case models.StatusSkipped:
		l.skipped++
	case models.StatusFailed:
		l.failed++
		l.failures = append(l.failures, outcome)
	}
}

// Summary returns the current counters.
func (l *Ledger) Summary() models.Summary {
	l.mu.Lock()
	defer l.mu.Unlock()
	return models.Summary{
		Downloaded: l.downloaded,
		Skipped:    l.skipped,
		Failed:     l.failed,
	}
}

// Finalize writes the failure manifest when any transfer failed and
// returns the summary. A clean run removes any stale manifest from a
// previous one. The manifest is written to a temporary file and renamed
// so an interrupt never leaves a corrupt manifest behind.
func (l *Ledger) Finalize() (models.Summary, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	summary := models.Summary{
		Downloaded: l.downloaded,
		Skipped:    l.skipped,
		Failed:     l.failed,
	}

	if len(l.failures) == 0 {
		if err := os.Remove(l.manifestPath); err != nil && !os.IsNotExist(err) {
			l.logger.WithError(err).Warn("could not remove stale manifest")
		}
		return summary, nil
	}

	tempPath := l.manifestPath + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return summary, fmt.Errorf("failed to create manifest: %w", err)
	}

	w := bufio.NewWriter(file)
	for _, f := range l.failures {
		fmt.Fprintf(w, "%s, %s, %s, %s\n", f.Period.Label, f.Resource.Name, f.Resource.DownloadURL, f.Err)
	}
	if err := w.Flush(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return summary, fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return summary, fmt.Errorf("failed to close manifest: %w", err)
	}
	if err := os.Rename(tempPath, l.manifestPath); err != nil {
		os.Remove(tempPath)
		return summary, fmt.Errorf("failed to finalize manifest: %w", err)
	}

	l.logger.InfoWithFields("failure manifest written", map[string]interface{}{
		"path":     l.manifestPath,
		"failures": len(l.failures),
	})

	return summary, nil
}

// Entry is one replayable record parsed back out of a manifest.
type Entry struct {
	Period   string
	Filename string
	URL      string
	Kind     errs.Kind
}

// Load parses a failure manifest into replayable entries. Lines that do
// not match the record format are skipped.
func Load(path string) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer file.Close()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		entry, ok := parseLine(line)
		if !ok {
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	return entries, nil
}

// parseLine splits "period, filename, url, kind". The URL may itself
// contain commas, so the kind is taken from the right.
func parseLine(line string) (Entry, bool) {
	head := strings.SplitN(line, ", ", 3)
	if len(head) != 3 {
		return Entry{}, false
	}

	rest := head[2]
	cut := strings.LastIndex(rest, ", ")
	if cut < 0 {
		return Entry{}, false
	}

	return Entry{
		Period:   head[0],
		Filename: head[1],
		URL:      rest[:cut],
		Kind:     errs.Kind(rest[cut+2:]),
	}, true
}
