package downloader

import (
	"context"
	"sync"
	"testing"

	"tsegrab/pkg/models"
	"tsegrab/pkg/transfer"
)

type countingTransferrer struct {
	mu    sync.Mutex
	names []string
}

func (c *countingTransferrer) Transfer(ctx context.Context, resource models.ResourceDescriptor, period models.Period, destPath string, onProgress transfer.ProgressFunc) models.TransferOutcome {
	c.mu.Lock()
	c.names = append(c.names, resource.Name)
	c.mu.Unlock()
	return models.TransferOutcome{
		Resource: resource,
		Period:   period,
		Status:   models.StatusCompleted,
		Attempts: 1,
	}
}

func TestPoolRunsEveryJob(t *testing.T) {
	transfers := &countingTransferrer{}
	pool := NewPool(3, transfers, nil)
	pool.Start(context.Background())

	jobs := []Job{
		{Resource: models.ResourceDescriptor{Name: "a.zip"}, Period: models.Period{Label: "2024"}, Dest: "/tmp/a.zip"},
		{Resource: models.ResourceDescriptor{Name: "b.zip"}, Period: models.Period{Label: "2024"}, Dest: "/tmp/b.zip"},
		{Resource: models.ResourceDescriptor{Name: "c.zip"}, Period: models.Period{Label: "2022"}, Dest: "/tmp/c.zip"},
	}

	done := make(chan int)
	go func() {
		count := 0
		for outcome := range pool.Results() {
			if outcome.Status != models.StatusCompleted {
				t.Errorf("Unexpected outcome: %+v", outcome)
			}
			count++
		}
		done <- count
	}()

	for _, job := range jobs {
		pool.Submit(job)
	}
	pool.Close()

	if count := <-done; count != len(jobs) {
		t.Errorf("Expected %d results, got %d", len(jobs), count)
	}
	if len(transfers.names) != len(jobs) {
		t.Errorf("Expected %d transfers, got %d", len(jobs), len(transfers.names))
	}
}

func TestPoolDrainsJobsAfterCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	transfers := &countingTransferrer{}
	pool := NewPool(2, transfers, nil)
	pool.Start(ctx)

	done := make(chan int)
	go func() {
		count := 0
		for outcome := range pool.Results() {
			if outcome.Status != models.StatusFailed {
				t.Errorf("Expected canceled jobs to fail, got %+v", outcome)
			}
			count++
		}
		done <- count
	}()

	pool.Submit(Job{Resource: models.ResourceDescriptor{Name: "a.zip"}})
	pool.Submit(Job{Resource: models.ResourceDescriptor{Name: "b.zip"}})
	pool.Close()

	if count := <-done; count != 2 {
		t.Errorf("Expected 2 canceled results, got %d", count)
	}
	if len(transfers.names) != 0 {
		t.Errorf("Expected no transfers to run after cancellation, got %d", len(transfers.names))
	}
}
