package transfer

import (
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"tsegrab/pkg/config"
	errs "tsegrab/pkg/errors"
	"tsegrab/pkg/logger"
	"tsegrab/pkg/models"
	"tsegrab/pkg/retry"
)

// StagingSuffix is appended to the destination path while a fresh
// transfer is in flight. The final name only ever holds a complete file
// or an explicitly resumed partial.
const StagingSuffix = ".part"

// ProgressFunc is invoked after every chunk with the resource name, bytes
// transferred so far, the total when known (-1 otherwise) and elapsed time.
type ProgressFunc func(name string, written, total int64, elapsed time.Duration)

// Getter performs the HTTP requests for a transfer. Implemented by
// portal.Client.
type Getter interface {
	Get(ctx context.Context, url string) (*http.Response, error)
	GetRange(ctx context.Context, url string, offset int64) (*http.Response, error)
}

// Manager performs resumable, retrying byte transfers.
type Manager struct {
	client       Getter
	chunkSize    int
	attempts     int
	stallTimeout time.Duration
	backoff      retry.BackoffStrategy
	logger       logger.Logger
}

// NewManager creates a transfer manager.
func NewManager(client Getter, cfg *config.DownloadConfig, log logger.Logger) *Manager {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Manager{
		client:       client,
		chunkSize:    cfg.ChunkSize,
		attempts:     cfg.RetryAttempts,
		stallTimeout: cfg.TransferTimeout,
		backoff: &retry.ExponentialBackoff{
			BaseDelay:    cfg.RetryBaseDelay,
			MaxDelay:     cfg.RetryMaxDelay,
			Multiplier:   2.0,
			JitterFactor: 0.1,
		},
		logger: log,
	}
}

// Transfer downloads a resolved resource to destPath and reports the
// outcome. Transient failures are retried with exponential backoff up to
// the configured attempt budget; terminal failures are not retried.
// Partial data survives transient exhaustion (for later resume) but not a
// size mismatch, which invalidates the resume precondition.
func (m *Manager) Transfer(ctx context.Context, resource models.ResourceDescriptor, period models.Period, destPath string, onProgress ProgressFunc) models.TransferOutcome {
	outcome := models.TransferOutcome{
		Resource: resource,
		Period:   period,
	}
	start := time.Now()

	var err error
	for attempt := 1; attempt <= m.attempts; attempt++ {
		outcome.Attempts = attempt

		if attempt > 1 {
			delay := m.backoff.NextDelay(attempt - 1)
			m.logger.WarnWithFields("retrying transfer", map[string]interface{}{
				"name":     resource.Name,
				"attempt":  attempt,
				"delay_ms": delay.Milliseconds(),
			})
			if waitErr := retry.Wait(ctx, delay); waitErr != nil {
				outcome.Status = models.StatusFailed
				outcome.Err = errs.KindCanceled
				return outcome
			}
		}

		err = m.attemptTransfer(ctx, resource, destPath, start, &outcome.BytesWritten, onProgress)
		if err == nil {
			outcome.Status = models.StatusCompleted
			return outcome
		}

		kind := errs.KindOf(err)
		m.logger.WarnWithFields("transfer attempt failed", map[string]interface{}{
			"name":    resource.Name,
			"attempt": attempt,
			"kind":    string(kind),
			"error":   err.Error(),
		})

		if !errs.IsRetryable(kind) {
			break
		}
	}

	outcome.Status = models.StatusFailed
	outcome.Err = errs.KindOf(err)
	return outcome
}

// attemptTransfer performs one attempt, resuming whatever valid partial
// data is already on disk.
func (m *Manager) attemptTransfer(ctx context.Context, resource models.ResourceDescriptor, destPath string, start time.Time, totalWritten *int64, onProgress ProgressFunc) error {
	writePath, offset, staged := m.planWrite(resource, destPath)

	// A stalled connection cancels just this attempt; the retry loop
	// picks the partial back up. The timer re-arms on every chunk.
	var stalled atomic.Bool
	attemptCtx := ctx
	var stallTimer *time.Timer
	if m.stallTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithCancel(ctx)
		defer cancel()
		stallTimer = time.AfterFunc(m.stallTimeout, func() {
			stalled.Store(true)
			cancel()
		})
		defer stallTimer.Stop()
	}

	resp, err := m.client.GetRange(attemptCtx, resource.DownloadURL, offset)
	if err != nil {
		// A partial the server no longer honors restarts from scratch.
		var typed *errs.Error
		if offset > 0 && stderrors.As(err, &typed) && typed.Code == http.StatusRequestedRangeNotSatisfiable {
			offset = 0
			resp, err = m.client.Get(attemptCtx, resource.DownloadURL)
		}
		if err != nil {
			if stalled.Load() {
				return errs.Newf(errs.KindTransient, "transfer stalled for %s", m.stallTimeout)
			}
			return err
		}
	}
	defer resp.Body.Close()

	// Some mirrors answer a range request with the whole file.
	if offset > 0 && resp.StatusCode == http.StatusOK {
		offset = 0
	}

	flags := os.O_CREATE | os.O_WRONLY
	if offset > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	out, err := os.OpenFile(writePath, flags, 0644)
	if err != nil {
		return errs.Newf(errs.KindIO, "cannot open %s: %v", writePath, err)
	}

	total := int64(-1)
	if resp.ContentLength >= 0 {
		total = offset + resp.ContentLength
	} else if resource.DeclaredSize > 0 {
		total = resource.DeclaredSize
	}

	written := offset
	buf := make([]byte, m.chunkSize)
	for {
		select {
		case <-attemptCtx.Done():
			out.Close()
			if stalled.Load() {
				return errs.Newf(errs.KindTransient, "transfer stalled for %s", m.stallTimeout)
			}
			// The partial stays behind as valid resume state.
			return errs.Newf(errs.KindCanceled, "transfer interrupted: %v", ctx.Err())
		default:
		}

		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if stallTimer != nil {
				stallTimer.Reset(m.stallTimeout)
			}
			if _, writeErr := out.Write(buf[:n]); writeErr != nil {
				out.Close()
				return errs.Newf(errs.KindIO, "write failed: %v", writeErr)
			}
			written += int64(n)
			*totalWritten += int64(n)
			if onProgress != nil {
				onProgress(resource.Name, written, total, time.Since(start))
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			out.Close()
			if stalled.Load() {
				return errs.Newf(errs.KindTransient, "transfer stalled for %s", m.stallTimeout)
			}
			if ctx.Err() != nil {
				return errs.Newf(errs.KindCanceled, "transfer interrupted: %v", ctx.Err())
			}
			return errs.Newf(errs.KindTransient, "connection interrupted: %v", readErr)
		}
	}

	if err := out.Close(); err != nil {
		return errs.Newf(errs.KindIO, "close failed: %v", err)
	}

	if resource.DeclaredSize > 0 && written != resource.DeclaredSize {
		// A mismatched partial would poison every future resume.
		os.Remove(writePath)
		return errs.Newf(errs.KindSizeMismatch, "expected %d bytes, wrote %d", resource.DeclaredSize, written)
	}

	if staged {
		if err := os.Rename(writePath, destPath); err != nil {
			return errs.Newf(errs.KindIO, "cannot finalize %s: %v", destPath, err)
		}
	}

	m.logger.InfoWithFields("transfer complete", map[string]interface{}{
		"name":  resource.Name,
		"bytes": written,
	})

	return nil
}

// planWrite decides where this attempt writes and from which offset.
// An incomplete file already at the final path (smaller than the declared
// size) is appended to in place; everything else streams into the staging
// path, itself resumed when a previous run left one behind.
func (m *Manager) planWrite(resource models.ResourceDescriptor, destPath string) (writePath string, offset int64, staged bool) {
	if resource.DeclaredSize > 0 {
		if info, err := os.Stat(destPath); err == nil && info.Size() < resource.DeclaredSize {
			return destPath, info.Size(), false
		}
	}

	stagingPath := destPath + StagingSuffix
	if info, err := os.Stat(stagingPath); err == nil {
		return stagingPath, info.Size(), true
	}
	return stagingPath, 0, true
}
