// Package downloader runs transfers through a bounded worker pool when
// concurrent transfers are enabled.
package downloader

import (
	"context"
	"sync"

	errs "tsegrab/pkg/errors"
	"tsegrab/pkg/logger"
	"tsegrab/pkg/models"
	"tsegrab/pkg/transfer"
)

// Job is one transfer the pool should perform. Conflict decisions happen
// before submission so prompts stay sequential.
type Job struct {
	Resource models.ResourceDescriptor
	Period   models.Period
	Dest     string
}

// Transferrer performs a single transfer. Implemented by transfer.Manager.
type Transferrer interface {
	Transfer(ctx context.Context, resource models.ResourceDescriptor, period models.Period, destPath string, onProgress transfer.ProgressFunc) models.TransferOutcome
}

// Pool distributes jobs across a fixed set of transfer workers.
type Pool struct {
	transfers Transferrer
	workers   int
	jobs      chan Job
	results   chan models.TransferOutcome
	wg        sync.WaitGroup
	logger    logger.Logger
}

// NewPool creates a pool with the given number of workers.
func NewPool(workers int, transfers Transferrer, log logger.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Pool{
		transfers: transfers,
		workers:   workers,
		jobs:      make(chan Job, workers*2),
		results:   make(chan models.TransferOutcome, workers*2),
		logger:    log,
	}
}

// Start launches the workers. Results must be drained by the caller or
// the workers block.
func (p *Pool) Start(ctx context.Context) {
	p.logger.InfoWithFields("starting transfer workers", map[string]interface{}{
		"workers": p.workers,
	})

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Submit queues a job. Blocks when all workers are busy and the queue is
// full.
func (p *Pool) Submit(job Job) {
	p.jobs <- job
}

// Results returns the channel transfer outcomes arrive on. It is closed
// after Close once all workers have drained.
func (p *Pool) Results() <-chan models.TransferOutcome {
	return p.results
}

// Close signals that no more jobs will be submitted and closes the
// results channel once the in-flight jobs finish.
func (p *Pool) Close() {
	close(p.jobs)
	p.wg.Wait()
	close(p.results)
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	log := p.logger.WithField("worker", id)
	for job := range p.jobs {
		select {
		case <-ctx.Done():
			// Drain remaining jobs as canceled failures so the ledger
			// still accounts for them.
			p.results <- canceledOutcome(job)
			continue
		default:
		}

		log.DebugWithFields("worker picked up transfer", map[string]interface{}{
			"name":   job.Resource.Name,
			"period": job.Period.Label,
		})
		p.results <- p.transfers.Transfer(ctx, job.Resource, job.Period, job.Dest, nil)
	}
}

func canceledOutcome(job Job) models.TransferOutcome {
	return models.TransferOutcome{
		Resource: job.Resource,
		Period:   job.Period,
		Status:   models.StatusFailed,
		Err:      errs.KindCanceled,
	}
}
