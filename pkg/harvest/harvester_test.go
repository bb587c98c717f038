package harvest

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"tsegrab/pkg/conflict"
	errs "tsegrab/pkg/errors"
	"tsegrab/pkg/models"
	"tsegrab/pkg/transfer"
)

type fakeResources struct {
	byPeriod map[string][]models.ResourceDescriptor
	errs     map[string]error
}

func (f *fakeResources) ResolveResources(ctx context.Context, period models.Period) ([]models.ResourceDescriptor, error) {
	if err, ok := f.errs[period.Label]; ok {
		return nil, err
	}
	return f.byPeriod[period.Label], nil
}

type fakeDecider struct {
	decisions map[string]conflict.Decision
}

func (f *fakeDecider) Decide(targetPath string) (conflict.Decision, error) {
	if d, ok := f.decisions[filepath.Base(targetPath)]; ok {
		return d, nil
	}
	return conflict.Decision{Action: conflict.ActionOverwrite}, nil
}

type fakeTransferrer struct {
	mu    sync.Mutex
	dests []string
	fail  map[string]errs.Kind
}

func (f *fakeTransferrer) Transfer(ctx context.Context, resource models.ResourceDescriptor, period models.Period, destPath string, onProgress transfer.ProgressFunc) models.TransferOutcome {
	f.mu.Lock()
	f.dests = append(f.dests, destPath)
	f.mu.Unlock()

	outcome := models.TransferOutcome{Resource: resource, Period: period, Attempts: 1}
	if kind, ok := f.fail[resource.Name]; ok {
		outcome.Status = models.StatusFailed
		outcome.Err = kind
		return outcome
	}
	outcome.Status = models.StatusCompleted
	return outcome
}

type fakeRecorder struct {
	mu       sync.Mutex
	outcomes []models.TransferOutcome
}

func (f *fakeRecorder) Record(outcome models.TransferOutcome) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, outcome)
}

func (f *fakeRecorder) count(status models.Status) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, o := range f.outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

func TestRunDownloadsIntoPeriodDirectories(t *testing.T) {
	baseDir := filepath.Join(t.TempDir(), "dados-tse")
	transfers := &fakeTransferrer{}
	records := &fakeRecorder{}

	h := New(Options{
		Resources: &fakeResources{byPeriod: map[string][]models.ResourceDescriptor{
			"2024": {{Name: "a.zip"}, {Name: "b.zip"}},
			"2022": {{Name: "c.zip"}},
		}},
		Conflicts: &fakeDecider{},
		Transfers: transfers,
		Records:   records,
		BaseDir:   baseDir,
	})

	periods := []models.Period{{Label: "2024"}, {Label: "2022"}}
	if err := h.Run(context.Background(), periods); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(transfers.dests) != 3 {
		t.Fatalf("Expected 3 transfers, got %d", len(transfers.dests))
	}
	if transfers.dests[0] != filepath.Join(baseDir, "2024", "a.zip") {
		t.Errorf("Unexpected destination: %s", transfers.dests[0])
	}
	if transfers.dests[2] != filepath.Join(baseDir, "2022", "c.zip") {
		t.Errorf("Unexpected destination: %s", transfers.dests[2])
	}

	for _, label := range []string{"2024", "2022"} {
		if info, err := os.Stat(filepath.Join(baseDir, label)); err != nil || !info.IsDir() {
			t.Errorf("Expected period directory %s", label)
		}
	}

	if records.count(models.StatusCompleted) != 3 {
		t.Errorf("Expected 3 completed outcomes, got %d", records.count(models.StatusCompleted))
	}
}

func TestRunSkipsConflictedFiles(t *testing.T) {
	transfers := &fakeTransferrer{}
	records := &fakeRecorder{}

	h := New(Options{
		Resources: &fakeResources{byPeriod: map[string][]models.ResourceDescriptor{
			"2024": {{Name: "existe.zip"}, {Name: "novo.zip"}},
		}},
		Conflicts: &fakeDecider{decisions: map[string]conflict.Decision{
			"existe.zip": {Action: conflict.ActionSkip},
		}},
		Transfers: transfers,
		Records:   records,
		BaseDir:   t.TempDir(),
	})

	if err := h.Run(context.Background(), []models.Period{{Label: "2024"}}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(transfers.dests) != 1 {
		t.Fatalf("Expected 1 transfer, got %d", len(transfers.dests))
	}
	if records.count(models.StatusSkipped) != 1 {
		t.Errorf("Expected 1 skipped outcome, got %d", records.count(models.StatusSkipped))
	}
	if records.count(models.StatusCompleted) != 1 {
		t.Errorf("Expected 1 completed outcome, got %d", records.count(models.StatusCompleted))
	}
}

func TestRunContinuesPastUnresolvablePeriod(t *testing.T) {
	transfers := &fakeTransferrer{}
	records := &fakeRecorder{}

	h := New(Options{
		Resources: &fakeResources{
			byPeriod: map[string][]models.ResourceDescriptor{
				"2022": {{Name: "c.zip"}},
			},
			errs: map[string]error{
				"2024": errs.New(errs.KindFetch, "detail page unreachable"),
			},
		},
		Conflicts: &fakeDecider{},
		Transfers: transfers,
		Records:   records,
		BaseDir:   t.TempDir(),
	})

	periods := []models.Period{{Label: "2024"}, {Label: "2022"}}
	if err := h.Run(context.Background(), periods); err != nil {
		t.Fatalf("Expected the run to continue past the broken period, got %v", err)
	}

	if len(transfers.dests) != 1 {
		t.Errorf("Expected only the healthy period to transfer, got %d", len(transfers.dests))
	}
}

func TestRunConcurrentRecordsEveryOutcome(t *testing.T) {
	transfers := &fakeTransferrer{fail: map[string]errs.Kind{
		"quebrado.zip": errs.KindTransient,
	}}
	records := &fakeRecorder{}

	h := New(Options{
		Resources: &fakeResources{byPeriod: map[string][]models.ResourceDescriptor{
			"2024": {{Name: "a.zip"}, {Name: "b.zip"}, {Name: "quebrado.zip"}, {Name: "d.zip"}},
		}},
		Conflicts: &fakeDecider{},
		Transfers: transfers,
		Records:   records,
		BaseDir:   t.TempDir(),
		Workers:   3,
	})

	if err := h.Run(context.Background(), []models.Period{{Label: "2024"}}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if records.count(models.StatusCompleted) != 3 {
		t.Errorf("Expected 3 completed outcomes, got %d", records.count(models.StatusCompleted))
	}
	if records.count(models.StatusFailed) != 1 {
		t.Errorf("Expected 1 failed outcome, got %d", records.count(models.StatusFailed))
	}
}

func TestRunStopsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	transfers := &fakeTransferrer{}
	h := New(Options{
		Resources: &fakeResources{byPeriod: map[string][]models.ResourceDescriptor{
			"2024": {{Name: "a.zip"}},
		}},
		Conflicts: &fakeDecider{},
		Transfers: transfers,
		Records:   &fakeRecorder{},
		BaseDir:   t.TempDir(),
	})

	if err := h.Run(ctx, []models.Period{{Label: "2024"}}); err != context.Canceled {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if len(transfers.dests) != 0 {
		t.Errorf("Expected no transfers after cancellation, got %d", len(transfers.dests))
	}
}
