package ports

import "context"

type ReportJob struct {
	ID    string
	RunID string
}

// JobRepository supports claiming and updating report jobs.
type JobRepository interface {
	ClaimNext(ctx context.Context) (job ReportJob, found bool, err error)
	MarkCompleted(ctx context.Context, jobID string) error
	MarkFailed(ctx context.Context, jobID string, reason string) error
	StartJobForRun(ctx context.Context, runID string) (jobID string, err error)
}
