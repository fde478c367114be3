// Package reportrunner claims queued report jobs and processes them.
package reportrunner

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"nexusradar/internal/ports"
)

// Processor performs the report work for a job's run id.
type Processor interface {
	Process(ctx context.Context, runID string) error
}

// Run starts a dispatcher and concurrency workers and blocks until ctx is
// done and every claimed job has been settled.
func Run(ctx context.Context, repo ports.JobRepository, processor Processor, concurrency int, pollInterval time.Duration, log *zap.Logger) error {
	if concurrency < 1 {
		return nil
	}
	if log == nil {
		log = zap.NewNop()
	}
	jobsCh := make(chan ports.ReportJob, concurrency)
	g, gctx := errgroup.WithContext(ctx)

	// dispatcher loop
	g.Go(func() error {
		defer close(jobsCh)
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
			}
			for {
				job, found, err := repo.ClaimNext(gctx)
				if err != nil {
					if gctx.Err() == nil {
						log.Warn("job claim error", zap.Error(err))
					}
					break
				}
				if !found {
					break
				}
				select {
				case jobsCh <- job:
				case <-gctx.Done():
					// claimed but never handed to a worker
					_ = repo.MarkFailed(context.WithoutCancel(gctx), job.ID, "shutdown before processing")
					return nil
				}
			}
		}
	})

	for i := 0; i < concurrency; i++ {
		log := log.With(zap.Int("worker", i))
		g.Go(func() error {
			for job := range jobsCh {
				settle(gctx, repo, processor, job, log)
			}
			return nil
		})
	}
	return g.Wait()
}

func settle(ctx context.Context, repo ports.JobRepository, processor Processor, job ports.ReportJob, log *zap.Logger) {
	start := time.Now()
	err := processor.Process(ctx, job.RunID)
	// job state is recorded even when ctx was cancelled mid-run
	ctx = context.WithoutCancel(ctx)
	if err != nil {
		if markErr := repo.MarkFailed(ctx, job.ID, err.Error()); markErr != nil {
			log.Error("mark failed error", zap.String("job_id", job.ID), zap.Error(markErr))
		}
		log.Warn("report job failed", zap.String("job_id", job.ID), zap.String("run_id", job.RunID), zap.Error(err))
		return
	}
	if err := repo.MarkCompleted(ctx, job.ID); err != nil {
		log.Error("mark completed error", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	log.Info("report job completed",
		zap.String("job_id", job.ID),
		zap.String("run_id", job.RunID),
		zap.Duration("elapsed", time.Since(start)),
	)
}

// ProcessInline starts and processes a specific run synchronously using the
// same processor as the background workers.
func ProcessInline(ctx context.Context, repo ports.JobRepository, processor Processor, runID string) error {
	jobID, err := repo.StartJobForRun(ctx, runID)
	if err != nil {
		return err
	}
	if err := processor.Process(ctx, runID); err != nil {
		_ = repo.MarkFailed(context.WithoutCancel(ctx), jobID, err.Error())
		return err
	}
	return repo.MarkCompleted(context.WithoutCancel(ctx), jobID)
}
