// Package harvest orchestrates a download run: it walks the selected
// periods, resolves their resources, applies the conflict policy and
// hands each accepted resource to the transfer pipeline, recording every
// outcome in the ledger.
package harvest

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"tsegrab/internal/downloader"
	"tsegrab/pkg/conflict"
	errs "tsegrab/pkg/errors"
	"tsegrab/pkg/logger"
	"tsegrab/pkg/models"
	"tsegrab/pkg/transfer"
)

// ResourceSource resolves the downloadable resources of a period.
// Implemented by catalog.Resolver.
type ResourceSource interface {
	ResolveResources(ctx context.Context, period models.Period) ([]models.ResourceDescriptor, error)
}

// ConflictDecider decides what to do about an existing target file.
// Implemented by conflict.Policy.
type ConflictDecider interface {
	Decide(targetPath string) (conflict.Decision, error)
}

// Transferrer performs a single resumable transfer. Implemented by
// transfer.Manager.
type Transferrer interface {
	Transfer(ctx context.Context, resource models.ResourceDescriptor, period models.Period, destPath string, onProgress transfer.ProgressFunc) models.TransferOutcome
}

// Recorder accumulates transfer outcomes. Implemented by ledger.Ledger.
type Recorder interface {
	Record(outcome models.TransferOutcome)
}

// Reporter renders transfer progress and outcomes. Implemented by
// ui.TransferProgress; may be nil.
type Reporter interface {
	Update(name string, written, total int64, elapsed time.Duration)
	Finish(outcome models.TransferOutcome)
}

// Options wires a Harvester's collaborators.
type Options struct {
	Resources ResourceSource
	Conflicts ConflictDecider
	Transfers Transferrer
	Records   Recorder
	Reporter  Reporter
	BaseDir   string
	Workers   int
	Logger    logger.Logger
}

// Harvester drives a run over the selected periods.
type Harvester struct {
	resources ResourceSource
	conflicts ConflictDecider
	transfers Transferrer
	records   Recorder
	reporter  Reporter
	baseDir   string
	workers   int
	logger    logger.Logger
}

// New creates a harvester.
func New(opts Options) *Harvester {
	log := opts.Logger
	if log == nil {
		log = logger.GetLogger()
	}
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	return &Harvester{
		resources: opts.Resources,
		conflicts: opts.Conflicts,
		transfers: opts.Transfers,
		records:   opts.Records,
		reporter:  opts.Reporter,
		baseDir:   opts.BaseDir,
		workers:   workers,
		logger:    log,
	}
}

// Run processes the selected periods in order. A period whose resources
// cannot be resolved is recorded and skipped; the run continues with the
// next one. Cancellation stops the run between transfers, leaving
// partial files on disk for a later resume.
func (h *Harvester) Run(ctx context.Context, selected []models.Period) error {
	if err := os.MkdirAll(h.baseDir, 0755); err != nil {
		return errs.Newf(errs.KindIO, "cannot create output directory %s: %v", h.baseDir, err)
	}

	if h.workers > 1 {
		return h.runConcurrent(ctx, selected)
	}
	return h.runSequential(ctx, selected)
}

func (h *Harvester) runSequential(ctx context.Context, selected []models.Period) error {
	for _, period := range selected {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		jobs, err := h.collectJobs(ctx, period)
		if err != nil {
			return err
		}

		for _, job := range jobs {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			var onProgress transfer.ProgressFunc
			if h.reporter != nil {
				onProgress = h.reporter.Update
			}
			outcome := h.transfers.Transfer(ctx, job.Resource, job.Period, job.Dest, onProgress)
			h.record(outcome)

			if outcome.Err == errs.KindCanceled {
				return ctx.Err()
			}
		}
	}

	return nil
}

func (h *Harvester) runConcurrent(ctx context.Context, selected []models.Period) error {
	pool := downloader.NewPool(h.workers, h.transfers, h.logger)
	pool.Start(ctx)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for outcome := range pool.Results() {
			h.record(outcome)
		}
	}()

	var runErr error
	for _, period := range selected {
		if ctx.Err() != nil {
			runErr = ctx.Err()
			break
		}

		jobs, err := h.collectJobs(ctx, period)
		if err != nil {
			runErr = err
			break
		}
		for _, job := range jobs {
			pool.Submit(job)
		}
	}

	pool.Close()
	<-done
	return runErr
}

// collectJobs resolves one period and applies the conflict policy,
// recording skips immediately and returning the transfers still to run.
// Prompting happens here so it never interleaves with worker output.
func (h *Harvester) collectJobs(ctx context.Context, period models.Period) ([]downloader.Job, error) {
	log := h.logger.WithField("period", period.Label)

	dir := filepath.Join(h.baseDir, period.Label)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errs.Newf(errs.KindIO, "cannot create period directory %s: %v", dir, err)
	}

	resources, err := h.resources.ResolveResources(ctx, period)
	if err != nil {
		// One broken period page must not sink the rest of the run.
		log.WithError(err).Error("could not resolve resources, skipping period")
		return nil, nil
	}
	if len(resources) == 0 {
		log.Info("period has no downloadable resources")
		return nil, nil
	}

	log.InfoWithFields("period resolved", map[string]interface{}{
		"resources": len(resources),
	})

	jobs := make([]downloader.Job, 0, len(resources))
	for _, resource := range resources {
		if ctx.Err() != nil {
			return jobs, ctx.Err()
		}

		dest := filepath.Join(dir, resource.Name)
		decision, err := h.conflicts.Decide(dest)
		if err != nil {
			if errs.KindOf(err) == errs.KindIO {
				h.record(models.TransferOutcome{
					Resource: resource,
					Period:   period,
					Status:   models.StatusFailed,
					Err:      errs.KindIO,
				})
				continue
			}
			// The prompt is gone; nothing further can be decided.
			return jobs, err
		}

		if decision.Action == conflict.ActionSkip {
			h.record(models.TransferOutcome{
				Resource: resource,
				Period:   period,
				Status:   models.StatusSkipped,
			})
			continue
		}

		jobs = append(jobs, downloader.Job{Resource: resource, Period: period, Dest: dest})
	}

	return jobs, nil
}

func (h *Harvester) record(outcome models.TransferOutcome) {
	h.records.Record(outcome)
	if h.reporter != nil {
		h.reporter.Finish(outcome)
	}
}
