package reports

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"nexusradar/internal/domain"
	"nexusradar/internal/domain/aggregator"
	"nexusradar/internal/domain/evaluator"
	"nexusradar/internal/metrics"
	"nexusradar/internal/ports"
)

var (
	ErrInvalidRequest = errors.New("invalid report request")
	ErrNoSource       = errors.New("no transaction source configured")
	ErrNotReady       = errors.New("report is not completed")
)

// Request describes a report run. Empty Basis and Range use the service
// defaults; From and To are only read for the custom range.
type Request struct {
	RealmID string
	Basis   string
	Range   string
	From    string
	To      string
}

// Evaluation is the stateless result of evaluating caller-supplied
// transactions.
type Evaluation struct {
	Basis   domain.Basis
	Report  domain.RiskReport
	Counted []domain.Transaction
}

type Service struct {
	repo     ports.ReportRepository
	source   ports.TransactionSource
	rules    ports.RuleBook
	cache    ports.ReportCache
	cacheTTL time.Duration
	metrics  *metrics.Metrics
	log      *zap.Logger
	now      func() time.Time

	defaultBasis domain.Basis
	defaultRange domain.RangePreset
}

type Option func(*Service)

// WithCache enables request deduplication through c for ttl.
func WithCache(c ports.ReportCache, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = c
		s.cacheTTL = ttl
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithDefaults sets the basis and range used when a request leaves them out.
func WithDefaults(basis domain.Basis, preset domain.RangePreset) Option {
	return func(s *Service) {
		s.defaultBasis = basis
		s.defaultRange = preset
	}
}

// New wires the service. source may be nil, in which case runs fail with
// ErrNoSource but stateless evaluation still works.
func New(repo ports.ReportRepository, source ports.TransactionSource, rules ports.RuleBook, opts ...Option) *Service {
	s := &Service{
		repo:         repo,
		source:       source,
		rules:        rules,
		log:          zap.NewNop(),
		now:          time.Now,
		defaultBasis: domain.BasisAccrual,
		defaultRange: domain.RangeLast12,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enqueue validates req and stores a queued run. If an identical request
// completed within the cache TTL, that run is returned instead.
func (s *Service) Enqueue(ctx context.Context, req Request) (domain.ReportRun, error) {
	realm := strings.TrimSpace(req.RealmID)
	if realm == "" {
		return domain.ReportRun{}, fmt.Errorf("%w: realmId is required", ErrInvalidRequest)
	}
	basis, err := s.basis(req.Basis)
	if err != nil {
		return domain.ReportRun{}, err
	}
	period, err := s.period(req)
	if err != nil {
		return domain.ReportRun{}, err
	}

	key := cacheKey(realm, basis, period)
	if run, ok := s.cached(ctx, key); ok {
		return run, nil
	}

	run := domain.ReportRun{
		ID:        uuid.NewString(),
		RealmID:   realm,
		Basis:     basis,
		Period:    period,
		Status:    domain.RunQueued,
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.CreateRun(ctx, run); err != nil {
		return domain.ReportRun{}, fmt.Errorf("create report run: %w", err)
	}
	s.log.Info("report run queued",
		zap.String("run_id", run.ID),
		zap.String("realm_id", realm),
		zap.String("basis", string(basis)),
		zap.Stringer("period", period),
	)
	return run, nil
}

// Process fetches, aggregates, evaluates and stores one run. Job state is
// owned by the caller (the worker or ProcessInline).
func (s *Service) Process(ctx context.Context, runID string) (err error) {
	start := s.now()
	run, err := s.repo.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("load report run: %w", err)
	}
	defer func() {
		s.metrics.ObserveRun(run.Basis, err, s.now().Sub(start))
	}()

	if s.source == nil {
		return ErrNoSource
	}
	txns, err := s.source.Fetch(ctx, run.RealmID, run.Period)
	if err != nil {
		return fmt.Errorf("fetch transactions: %w", err)
	}

	res := aggregator.Aggregate(txns, run.Basis)
	report := evaluator.Evaluate(res.Summaries, s.rules)
	if err := s.repo.SaveResult(ctx, runID, report, res.Counted); err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	s.metrics.ObserveReport(report, len(res.Counted))

	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey(run.RealmID, run.Basis, run.Period), runID, s.cacheTTL); err != nil {
			s.log.Warn("report cache set failed", zap.String("run_id", runID), zap.Error(err))
		}
	}
	s.log.Info("report run processed",
		zap.String("run_id", runID),
		zap.Int("fetched", len(txns)),
		zap.Int("counted", len(res.Counted)),
		zap.Int("jurisdictions", len(report.Rows)),
		zap.Int("over_any_threshold", report.JurisdictionsOverAnyThreshold),
	)
	return nil
}

// Get returns a run with its report, matched rules re-attached from the
// current rule table.
func (s *Service) Get(ctx context.Context, runID string) (domain.ReportRun, error) {
	run, err := s.repo.GetRun(ctx, runID)
	if err != nil {
		return domain.ReportRun{}, err
	}
	if run.Report != nil {
		for i := range run.Report.Rows {
			row := &run.Report.Rows[i]
			if row.Severity == domain.SeverityRuleMissing {
				continue
			}
			if rule, ok := s.rules.Lookup(row.Jurisdiction); ok {
				row.MatchedRule = &rule
			}
		}
	}
	return run, nil
}

// Evaluate runs the engine over caller-supplied transactions without
// touching storage.
func (s *Service) Evaluate(txns []domain.Transaction, basisName string) (Evaluation, error) {
	basis, err := s.basis(basisName)
	if err != nil {
		return Evaluation{}, err
	}
	res := aggregator.Aggregate(txns, basis)
	return Evaluation{
		Basis:   basis,
		Report:  evaluator.Evaluate(res.Summaries, s.rules),
		Counted: res.Counted,
	}, nil
}

func (s *Service) basis(name string) (domain.Basis, error) {
	if strings.TrimSpace(name) == "" {
		return s.defaultBasis, nil
	}
	b, err := domain.ParseBasis(name)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return b, nil
}

func (s *Service) period(req Request) (domain.Period, error) {
	preset := s.defaultRange
	if strings.TrimSpace(req.Range) != "" {
		p, err := domain.ParseRangePreset(req.Range)
		if err != nil {
			return domain.Period{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		preset = p
	}
	var from, to domain.Date
	if preset == domain.RangeCustom {
		var err error
		if from, err = domain.ParseDate(req.From); err != nil {
			return domain.Period{}, fmt.Errorf("%w: from: %v", ErrInvalidRequest, err)
		}
		if to, err = domain.ParseDate(req.To); err != nil {
			return domain.Period{}, fmt.Errorf("%w: to: %v", ErrInvalidRequest, err)
		}
	}
	period, err := domain.ResolvePeriod(preset, from, to, s.now())
	if err != nil {
		return domain.Period{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return period, nil
}

func (s *Service) cached(ctx context.Context, key string) (domain.ReportRun, bool) {
	if s.cache == nil {
		return domain.ReportRun{}, false
	}
	runID, found, err := s.cache.Get(ctx, key)
	if err != nil {
		s.log.Warn("report cache get failed", zap.String("key", key), zap.Error(err))
		return domain.ReportRun{}, false
	}
	if !found {
		return domain.ReportRun{}, false
	}
	run, err := s.Get(ctx, runID)
	if err != nil || run.Status != domain.RunCompleted {
		return domain.ReportRun{}, false
	}
	s.log.Debug("report served from cache", zap.String("run_id", runID))
	return run, true
}

func cacheKey(realm string, basis domain.Basis, period domain.Period) string {
	return strings.Join([]string{"report", realm, string(basis), period.From.String(), period.To.String()}, ":")
}
