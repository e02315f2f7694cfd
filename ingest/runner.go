package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/maillens/maillens/config"
	"github.com/maillens/maillens/consts"
	"github.com/maillens/maillens/db"
	"github.com/maillens/maillens/logger"
	"github.com/maillens/maillens/pkg/metrics"
	"github.com/maillens/maillens/pkg/retry"
)

// Runner is the single-flight ingest job supervisor. At most one worker
// goroutine is alive at any instant; the slot is released only when the
// worker actually exits, so Start during a draining cancel still fails
// with ErrIngestAlreadyRunning.
type Runner struct {
	database      *db.Database
	tracker       *Tracker
	batchSize     int
	cancelTimeout time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewRunner(database *db.Database, cfg config.IngestConfig) (*Runner, error) {
	cancelTimeout, err := cfg.GetCancelTimeout()
	if err != nil {
		return nil, fmt.Errorf("invalid cancel_timeout: %w", err)
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = consts.IngestBatchSize
	}
	return &Runner{
		database:      database,
		tracker:       NewTracker(),
		batchSize:     batchSize,
		cancelTimeout: cancelTimeout,
	}, nil
}

// Progress returns a consistent snapshot of the current or last job.
func (r *Runner) Progress() Progress {
	return r.tracker.Snapshot()
}

// Running reports whether a worker goroutine is currently alive.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done != nil
}

// Start claims the job slot and spawns the worker. limit <= 0 means no
// limit. File enumeration and processing happen asynchronously; the call
// returns as soon as the slot is claimed.
func (r *Runner) Start(root string, limit int) error {
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("cannot access %s: %w", root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s", consts.ErrNotADirectory, root)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done != nil {
		return consts.ErrIngestAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	r.tracker.Start(consts.SourceEmlx, root, 0)

	go r.run(ctx, r.done, root, limit)
	return nil
}

// Cancel requests cooperative cancellation and waits up to the configured
// timeout for the worker to exit. Returns ErrIngestNotRunning when no job
// is in flight. A timeout is not an error: the worker keeps draining and
// the slot stays claimed until it exits.
func (r *Runner) Cancel() error {
	r.mu.Lock()
	if r.done == nil {
		r.mu.Unlock()
		return consts.ErrIngestNotRunning
	}
	cancel := r.cancel
	done := r.done
	r.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-time.After(r.cancelTimeout):
		logger.Warn("ingest worker still draining after cancel timeout", "timeout", r.cancelTimeout)
	}
	return nil
}

func (r *Runner) run(ctx context.Context, done chan struct{}, root string, limit int) {
	start := time.Now()
	defer func() {
		metrics.IngestJobDuration.Observe(time.Since(start).Seconds())
		r.mu.Lock()
		r.cancel = nil
		r.done = nil
		r.mu.Unlock()
		close(done)
	}()

	files, err := enumerateFiles(root, limit)
	if err != nil {
		r.fail(fmt.Errorf("failed to enumerate %s: %w", root, err))
		return
	}
	r.tracker.SetTotal(int64(len(files)))
	metrics.IngestFilesDiscovered.Set(float64(len(files)))
	logger.Info("ingest job started", "root", root, "files", len(files))

	// Store operations deliberately ignore the job context: cancellation
	// is observed only at file boundaries, and the open batch must still
	// commit after cancel.
	dbCtx := context.Background()
	tx, err := r.beginTx(dbCtx)
	if err != nil {
		r.fail(err)
		return
	}

	inBatch := 0
	for _, path := range files {
		if ctx.Err() != nil {
			// Cooperative cancel: keep the open batch, it is work
			// already done.
			if err := r.commit(tx); err != nil {
				r.fail(err)
				return
			}
			r.finishCancelled()
			return
		}

		inserted, err := r.ingestFile(dbCtx, tx, path)
		if err != nil {
			tx.Rollback()
			r.fail(fmt.Errorf("failed on %s: %w", path, err))
			return
		}
		r.tracker.Step(path, inserted)
		if inserted {
			metrics.IngestFilesProcessed.WithLabelValues("inserted").Inc()
		} else {
			metrics.IngestFilesProcessed.WithLabelValues("duplicate").Inc()
		}

		inBatch++
		if inBatch >= r.batchSize {
			if err := r.commit(tx); err != nil {
				r.fail(err)
				return
			}
			inBatch = 0
			tx, err = r.beginTx(dbCtx)
			if err != nil {
				r.fail(err)
				return
			}
		}
	}

	if err := r.commit(tx); err != nil {
		r.fail(err)
		return
	}

	r.tracker.Finish()
	metrics.IngestJobsTotal.WithLabelValues("done").Inc()
	if total, err := r.database.MessageCount(context.Background()); err == nil {
		metrics.MessagesTotal.Set(float64(total))
	}
	snap := r.tracker.Snapshot()
	logger.Info("ingest job finished", "root", root,
		"processed", snap.Processed, "inserted", snap.Inserted, "skipped", snap.Skipped)
}

func (r *Runner) ingestFile(ctx context.Context, tx *sql.Tx, path string) (bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	msg := ParseEmlx(path, raw)
	return r.database.InsertMessage(ctx, tx, msg)
}

// beginTx opens a batch transaction, retrying on transient lock
// contention. Errors other than a busy store stop the retry loop
// immediately. Retry lives here and not in commit: database/sql marks a
// Tx done on the first Commit call, so a failed commit cannot be retried
// without redoing the batch.
func (r *Runner) beginTx(ctx context.Context) (*sql.Tx, error) {
	var tx *sql.Tx
	err := retry.WithRetry(ctx, func() error {
		var err error
		tx, err = r.database.BeginTx(ctx)
		if err == nil || db.IsBusyError(err) {
			return err
		}
		return retry.Stop(err)
	}, retry.DefaultBackoffConfig())
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// commit flushes the open batch. A commit failure is terminal for the
// job: the rows in the batch are lost and the caller must surface the
// error rather than count them as persisted.
func (r *Runner) commit(tx *sql.Tx) error {
	timer := time.Now()
	err := tx.Commit()
	metrics.IngestBatchCommitDuration.Observe(time.Since(timer).Seconds())
	if err != nil {
		return fmt.Errorf("%w: %v", consts.ErrDBCommitTransactionFailed, err)
	}
	return nil
}

func (r *Runner) fail(err error) {
	logger.Error("ingest job failed", "error", err)
	r.tracker.Fail(err.Error())
	metrics.IngestJobsTotal.WithLabelValues("error").Inc()
}

func (r *Runner) finishCancelled() {
	logger.Info("ingest job cancelled")
	r.tracker.Cancel()
	metrics.IngestJobsTotal.WithLabelValues("cancelled").Inc()
}

// enumerateFiles walks root recursively, returning .emlx paths in
// lexicographic order so repeated runs process files identically. limit
// trims the sorted list, not the walk.
func enumerateFiles(root string, limit int) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), consts.EmlxExtension) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	if limit > 0 && limit < len(files) {
		files = files[:limit]
	}
	return files, nil
}
