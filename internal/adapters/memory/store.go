// Package memory provides in-process implementations of the report
// repositories and cache. It backs local runs without Postgres and the tests.
// State is not shared across process instances.
package memory

import (
	"context"
	"strconv"
	"sync"
	"time"

	"nexusradar/internal/domain"
	"nexusradar/internal/ports"
)

type job struct {
	id     string
	runID  string
	status domain.RunStatus
	reason string
}

type cacheEntry struct {
	runID     string
	expiresAt time.Time
}

type Store struct {
	mu      sync.Mutex
	runs    map[string]domain.ReportRun
	counted map[string][]domain.Transaction
	jobs    []*job
	cache   map[string]cacheEntry
	seq     int
	now     func() time.Time
}

func New() *Store {
	return &Store{
		runs:    make(map[string]domain.ReportRun),
		counted: make(map[string][]domain.Transaction),
		cache:   make(map[string]cacheEntry),
		now:     time.Now,
	}
}

var (
	_ ports.ReportRepository = (*Store)(nil)
	_ ports.JobRepository    = (*Store)(nil)
	_ ports.ReportCache      = (*Store)(nil)
)

func (s *Store) CreateRun(_ context.Context, run domain.ReportRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run.Status = domain.RunQueued
	s.runs[run.ID] = run
	s.seq++
	s.jobs = append(s.jobs, &job{id: "job-" + strconv.Itoa(s.seq), runID: run.ID, status: domain.RunQueued})
	return nil
}

func (s *Store) GetRun(_ context.Context, runID string) (domain.ReportRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return domain.ReportRun{}, ports.ErrNotFound
	}
	run.Report = cloneReport(run.Report)
	return run, nil
}

func (s *Store) SaveResult(_ context.Context, runID string, report domain.RiskReport, counted []domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return ports.ErrNotFound
	}
	stored := cloneReport(&report)
	for i := range stored.Rows {
		// rules are re-attached on read, as with the Postgres store
		stored.Rows[i].MatchedRule = nil
	}
	run.Report = stored
	s.runs[runID] = run
	s.counted[runID] = append([]domain.Transaction(nil), counted...)
	return nil
}

func (s *Store) CountedTransactions(_ context.Context, runID string) ([]domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[runID]; !ok {
		return nil, ports.ErrNotFound
	}
	return append([]domain.Transaction(nil), s.counted[runID]...), nil
}

// ClaimNext takes the oldest queued job and marks it and its run running.
func (s *Store) ClaimNext(_ context.Context) (ports.ReportJob, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.status == domain.RunQueued {
			s.startLocked(j)
			return ports.ReportJob{ID: j.id, RunID: j.runID}, true, nil
		}
	}
	return ports.ReportJob{}, false, nil
}

func (s *Store) StartJobForRun(_ context.Context, runID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.runID == runID && j.status == domain.RunQueued {
			s.startLocked(j)
			return j.id, nil
		}
	}
	return "", ports.ErrNotFound
}

func (s *Store) MarkCompleted(_ context.Context, jobID string) error {
	return s.finish(jobID, domain.RunCompleted, "")
}

func (s *Store) MarkFailed(_ context.Context, jobID string, reason string) error {
	return s.finish(jobID, domain.RunFailed, reason)
}

func (s *Store) startLocked(j *job) {
	j.status = domain.RunRunning
	run := s.runs[j.runID]
	run.Status = domain.RunRunning
	s.runs[j.runID] = run
}

func (s *Store) finish(jobID string, status domain.RunStatus, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.id != jobID {
			continue
		}
		j.status = status
		j.reason = reason
		run := s.runs[j.runID]
		run.Status = status
		run.Error = reason
		finished := s.now().UTC()
		run.FinishedAt = &finished
		s.runs[j.runID] = run
		return nil
	}
	return ports.ErrNotFound
}

func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.cache[key]
	if !ok || s.now().After(e.expiresAt) {
		delete(s.cache, key)
		return "", false, nil
	}
	return e.runID, true, nil
}

func (s *Store) Set(_ context.Context, key string, runID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[key] = cacheEntry{runID: runID, expiresAt: s.now().Add(ttl)}
	return nil
}

func cloneReport(r *domain.RiskReport) *domain.RiskReport {
	if r == nil {
		return nil
	}
	out := *r
	out.Rows = append([]domain.RiskAssessment(nil), r.Rows...)
	if out.Rows == nil {
		out.Rows = []domain.RiskAssessment{}
	}
	return &out
}
