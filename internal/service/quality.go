package service

import (
	"context"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/godilite/qa-workflow/internal/repository"
	"github.com/godilite/qa-workflow/internal/repository/models"
)

// Component names recorded in QualitySnapshot.Defaulted.
const (
	ComponentCSAT       = "csat"
	ComponentNPS        = "nps"
	ComponentExpert     = "expert"
	ComponentResolution = "resolution"
	ComponentAccuracy   = "accuracy"
)

// Period is a half-open evaluation window [Start, End).
type Period struct {
	Start time.Time
	End   time.Time
}

// LastDays is the period of n days ending at end.
func LastDays(end time.Time, n int) Period {
	return Period{Start: end.AddDate(0, 0, -n), End: end}
}

// Components are the five 0-100 inputs of the DQS.
type Components struct {
	CSAT       float64
	NPS        float64
	Expert     float64
	Resolution float64
	Accuracy   float64
}

// SnapshotListener is notified after a snapshot is stored. Its failure does
// not undo the snapshot.
type SnapshotListener func(ctx context.Context, s *models.QualitySnapshot) error

// QualityScorer computes the Domain Quality Score of a domain over a period.
type QualityScorer struct {
	store     QualityRepository
	policy    QualityPolicy
	version   string
	listeners []SnapshotListener
	logger    *zap.Logger
	now       func() time.Time
}

func NewQualityScorer(store QualityRepository, policy Policy, logger *zap.Logger, listeners ...SnapshotListener) *QualityScorer {
	if store == nil {
		panic("quality store must not be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QualityScorer{
		store:     store,
		policy:    policy.Quality,
		version:   policy.Version,
		listeners: listeners,
		logger:    logger.Named("quality"),
		now:       time.Now,
	}
}

// Compute scores the period, compares with the latest stored snapshot, and
// persists the new snapshot before notifying listeners.
func (q *QualityScorer) Compute(ctx context.Context, domainID string, period Period) (*models.QualitySnapshot, error) {
	if domainID == "" {
		return nil, validationErr("domainId", "is required")
	}
	if !period.End.After(period.Start) {
		return nil, validationErr("period", "end must be after start")
	}

	inputs, err := q.store.Inputs(ctx, domainID, period.Start, period.End)
	if err != nil {
		return nil, storageErr("load quality inputs", err)
	}

	var previous *float64
	prev, err := q.store.LatestSnapshot(ctx, domainID)
	switch {
	case err == nil:
		previous = &prev.DQS
	case errors.Is(err, repository.ErrNotFound):
	default:
		return nil, storageErr("load previous snapshot", err)
	}

	comps, defaulted := ScoreComponents(inputs, q.policy)
	dqs := ComputeDQS(comps, q.policy)
	snap := &models.QualitySnapshot{
		DomainID:          domainID,
		PeriodStart:       period.Start.UTC(),
		PeriodEnd:         period.End.UTC(),
		CSATScore:         comps.CSAT,
		NPSScore:          comps.NPS,
		ExpertRatingScore: comps.Expert,
		ResolutionScore:   comps.Resolution,
		AccuracyScore:     comps.Accuracy,
		DQS:               dqs,
		Trend:             TrendFor(dqs, previous, q.policy.TrendThreshold),
		PreviousDQS:       previous,
		Band:              BandFor(dqs, q.policy),
		PolicyVersion:     q.version,
		Defaulted:         defaulted,
		ComputedAt:        q.now().UTC(),
	}
	if previous != nil {
		snap.ChangeFromPrevious = math.Round((dqs-*previous)*10) / 10
	}

	if err := q.store.SaveSnapshot(ctx, snap); err != nil {
		q.logger.Error("quality snapshot not stored", zap.String("domain_id", domainID), zap.Error(err))
		return nil, storageErr("save quality snapshot", err)
	}

	for _, l := range q.listeners {
		if err := l(ctx, snap); err != nil {
			q.logger.Warn("snapshot listener failed", zap.String("domain_id", domainID), zap.Error(err))
		}
	}

	q.logger.Info("domain quality computed",
		zap.String("domain_id", domainID),
		zap.Float64("dqs", dqs),
		zap.String("band", string(snap.Band)),
		zap.String("trend", string(snap.Trend)),
		zap.Strings("defaulted", defaulted))
	return snap, nil
}

// Latest returns the most recent stored snapshot of a domain.
func (q *QualityScorer) Latest(ctx context.Context, domainID string) (*models.QualitySnapshot, error) {
	if domainID == "" {
		return nil, validationErr("domainId", "is required")
	}
	s, err := q.store.LatestSnapshot(ctx, domainID)
	if err != nil {
		return nil, storageErr("load latest snapshot", err)
	}
	return s, nil
}

// ScoreComponents normalizes raw inputs to 0-100, substituting the neutral
// value for any component without data. The names of substituted components
// are returned.
func ScoreComponents(in models.QualityInputs, p QualityPolicy) (Components, []string) {
	var c Components
	defaulted := []string{}

	if in.CSATCount > 0 {
		c.CSAT = clamp(in.CSATSum/float64(in.CSATCount), 0, 5) * 20
	} else {
		c.CSAT = p.NeutralCSAT * 20
		defaulted = append(defaulted, ComponentCSAT)
	}

	if total := in.NPSPromoters + in.NPSPassives + in.NPSDetractors; total > 0 {
		raw := float64(in.NPSPromoters-in.NPSDetractors) / float64(total) * 100
		c.NPS = clamp(raw, 0, 100)
	} else {
		c.NPS = p.NeutralNPS
		defaulted = append(defaulted, ComponentNPS)
	}

	if total := in.ExpertUnacceptable + in.ExpertAcceptable + in.ExpertOutstanding; total > 0 {
		c.Expert = float64(in.ExpertAcceptable*50+in.ExpertOutstanding*100) / float64(total)
	} else {
		c.Expert = p.NeutralExpert
		defaulted = append(defaulted, ComponentExpert)
	}

	c.Resolution, defaulted = rateScore(in.ResolvedCount, in.ResolutionTotal, p.NeutralResolution, ComponentResolution, defaulted)
	c.Accuracy, defaulted = rateScore(in.AccurateCount, in.AccuracyTotal, p.NeutralAccuracy, ComponentAccuracy, defaulted)
	return c, defaulted
}

func rateScore(hits, total int, neutral float64, name string, defaulted []string) (float64, []string) {
	if total <= 0 {
		return neutral * 100, append(defaulted, name)
	}
	return clamp(float64(hits)/float64(total), 0, 1) * 100, defaulted
}

// ComputeDQS is the weighted sum of the components rounded to one decimal.
func ComputeDQS(c Components, p QualityPolicy) float64 {
	dqs := c.CSAT*p.CSATWeight +
		c.NPS*p.NPSWeight +
		c.Expert*p.ExpertWeight +
		c.Resolution*p.ResolutionWeight +
		c.Accuracy*p.AccuracyWeight
	return math.Round(dqs*10) / 10
}

func BandFor(dqs float64, p QualityPolicy) models.QualityBand {
	switch {
	case dqs >= p.ExcellenceFloor:
		return models.BandExcellence
	case dqs >= p.WorldClassFloor:
		return models.BandWorldClass
	case dqs >= p.AcceptableFloor:
		return models.BandAcceptable
	case dqs >= p.BelowAcceptableFloor:
		return models.BandBelowAcceptable
	default:
		return models.BandFailing
	}
}

// TrendFor compares against the preceding DQS; no predecessor means stable.
func TrendFor(current float64, previous *float64, threshold float64) models.Trend {
	if previous == nil {
		return models.TrendStable
	}
	switch diff := current - *previous; {
	case diff > threshold:
		return models.TrendImproving
	case diff < -threshold:
		return models.TrendDeclining
	default:
		return models.TrendStable
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
