package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/godilite/qa-workflow/internal/repository/models"
	"github.com/godilite/qa-workflow/internal/service"
)

const (
	defaultSchedule   = "0 3 * * *"
	defaultPeriodDays = 30
	defaultRunTimeout = 5 * time.Minute
)

// QualityComputer computes and stores a domain's quality snapshot.
type QualityComputer interface {
	Compute(ctx context.Context, domainID string, period service.Period) (*models.QualitySnapshot, error)
}

type Options struct {
	schedule   string
	domains    []string
	periodDays int
	runTimeout time.Duration
	logger     *zap.Logger
}

type Option func(*Options)

// WithSchedule sets a 5-field cron expression or a descriptor such as "@daily".
func WithSchedule(spec string) Option {
	return func(o *Options) {
		o.schedule = spec
	}
}

func WithDomains(domains ...string) Option {
	return func(o *Options) {
		o.domains = append(o.domains, domains...)
	}
}

func WithPeriodDays(days int) Option {
	return func(o *Options) {
		o.periodDays = days
	}
}

func WithRunTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.runTimeout = d
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *Options) {
		o.logger = logger
	}
}

// Scheduler periodically recomputes the Domain Quality Score of each
// configured domain over the trailing period.
type Scheduler struct {
	cron       *cron.Cron
	scorer     QualityComputer
	domains    []string
	periodDays int
	runTimeout time.Duration
	logger     *zap.Logger
	now        func() time.Time
	ctx        context.Context
	cancel     context.CancelFunc
}

func New(scorer QualityComputer, opts ...Option) (*Scheduler, error) {
	if scorer == nil {
		panic("quality computer must not be nil")
	}
	options := &Options{
		schedule:   defaultSchedule,
		periodDays: defaultPeriodDays,
		runTimeout: defaultRunTimeout,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(options)
	}
	if options.periodDays <= 0 {
		return nil, fmt.Errorf("invalid period %d: must be at least one day", options.periodDays)
	}

	logger := options.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("scheduler")

	domains := make([]string, 0, len(options.domains))
	for _, d := range options.domains {
		if d = strings.TrimSpace(d); d != "" {
			domains = append(domains, d)
		}
	}

	cl := cronLogger{logger.Sugar()}
	c := cron.New(
		cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor)),
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:       c,
		scorer:     scorer,
		domains:    domains,
		periodDays: options.periodDays,
		runTimeout: options.runTimeout,
		logger:     logger,
		now:        time.Now,
		ctx:        ctx,
		cancel:     cancel,
	}

	if _, err := c.AddFunc(options.schedule, s.run); err != nil {
		cancel()
		return nil, fmt.Errorf("invalid schedule %q: %w", options.schedule, err)
	}
	return s, nil
}

// Start runs the cron loop in the background. With no domains configured the
// scheduler stays idle.
func (s *Scheduler) Start() {
	if len(s.domains) == 0 {
		s.logger.Info("quality scheduling disabled: no domains configured")
		return
	}
	s.logger.Info("quality scheduling started",
		zap.Strings("domains", s.domains),
		zap.Int("period_days", s.periodDays),
		zap.Time("next_run", s.cron.Entries()[0].Schedule.Next(s.now().UTC())))
	s.cron.Start()
}

// Stop halts scheduling, cancels a running computation and waits for it
// until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	s.cancel()
	select {
	case <-done.Done():
		s.logger.Info("quality scheduling stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(s.ctx, s.runTimeout)
	defer cancel()
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("scheduled quality run finished with errors", zap.Error(err))
	}
}

// RunOnce computes every configured domain over the period ending now. One
// domain failing does not stop the others; all failures are joined.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	period := service.LastDays(s.now().UTC(), s.periodDays)
	var errs []error
	for _, domain := range s.domains {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		start := time.Now()
		snap, err := s.scorer.Compute(ctx, domain, period)
		if err != nil {
			s.logger.Warn("quality computation failed", zap.String("domain_id", domain), zap.Error(err))
			errs = append(errs, fmt.Errorf("domain %s: %w", domain, err))
			continue
		}
		s.logger.Info("quality computed",
			zap.String("domain_id", domain),
			zap.Float64("dqs", snap.DQS),
			zap.String("band", string(snap.Band)),
			zap.String("trend", string(snap.Trend)),
			zap.Duration("duration", time.Since(start)))
	}
	return errors.Join(errs...)
}

// cronLogger routes cron's own logging to zap.
type cronLogger struct {
	sugar *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}
