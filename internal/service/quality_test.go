package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/godilite/qa-workflow/internal/repository"
	"github.com/godilite/qa-workflow/internal/repository/models"
	"github.com/godilite/qa-workflow/internal/service/mocks"
)

func referenceInputs() models.QualityInputs {
	return models.QualityInputs{
		CSATSum: 45, CSATCount: 10,
		NPSPromoters: 8, NPSPassives: 2, NPSDetractors: 0,
		ExpertUnacceptable: 0, ExpertAcceptable: 3, ExpertOutstanding: 2,
		ResolvedCount: 85, ResolutionTotal: 100,
		AccurateCount: 90, AccuracyTotal: 100,
	}
}

func newScorer(t *testing.T, store QualityRepository, listeners ...SnapshotListener) *QualityScorer {
	q := NewQualityScorer(store, DefaultPolicy, zaptest.NewLogger(t), listeners...)
	q.now = func() time.Time { return testNow }
	return q
}

func TestScoreComponents(t *testing.T) {
	p := DefaultPolicy.Quality

	t.Run("reference inputs", func(t *testing.T) {
		c, defaulted := ScoreComponents(referenceInputs(), p)

		assert.InDelta(t, 90, c.CSAT, 1e-9)
		assert.InDelta(t, 80, c.NPS, 1e-9)
		assert.InDelta(t, 70, c.Expert, 1e-9)
		assert.InDelta(t, 85, c.Resolution, 1e-9)
		assert.InDelta(t, 90, c.Accuracy, 1e-9)
		assert.Empty(t, defaulted)
		assert.Equal(t, 82.0, ComputeDQS(c, p))
	})

	t.Run("no data uses neutral values", func(t *testing.T) {
		c, defaulted := ScoreComponents(models.QualityInputs{}, p)

		assert.Equal(t, Components{CSAT: 60, NPS: 50, Expert: 50, Resolution: 50, Accuracy: 50}, c)
		assert.Equal(t, []string{ComponentCSAT, ComponentNPS, ComponentExpert, ComponentResolution, ComponentAccuracy}, defaulted)
		assert.Equal(t, 53.0, ComputeDQS(c, p))
	})

	t.Run("negative NPS is clamped to zero", func(t *testing.T) {
		c, _ := ScoreComponents(models.QualityInputs{NPSPromoters: 1, NPSDetractors: 9}, p)
		assert.Equal(t, 0.0, c.NPS)
	})

	t.Run("out of range inputs stay within bounds", func(t *testing.T) {
		c, _ := ScoreComponents(models.QualityInputs{
			CSATSum: 70, CSATCount: 10,
			ResolvedCount: 12, ResolutionTotal: 10,
		}, p)
		assert.Equal(t, 100.0, c.CSAT)
		assert.Equal(t, 100.0, c.Resolution)
	})

	t.Run("result is always within 0-100", func(t *testing.T) {
		best := Components{CSAT: 100, NPS: 100, Expert: 100, Resolution: 100, Accuracy: 100}
		assert.Equal(t, 100.0, ComputeDQS(best, p))
		assert.Equal(t, 0.0, ComputeDQS(Components{}, p))
	})
}

func TestBandFor(t *testing.T) {
	p := DefaultPolicy.Quality
	cases := map[float64]models.QualityBand{
		100:  models.BandExcellence,
		90:   models.BandExcellence,
		89.9: models.BandWorldClass,
		85:   models.BandWorldClass,
		84.9: models.BandAcceptable,
		70:   models.BandAcceptable,
		69.9: models.BandBelowAcceptable,
		50:   models.BandBelowAcceptable,
		49.9: models.BandFailing,
		0:    models.BandFailing,
	}
	for dqs, want := range cases {
		assert.Equal(t, want, BandFor(dqs, p), "dqs %.1f", dqs)
	}
}

func TestTrendFor(t *testing.T) {
	prev := 80.0
	assert.Equal(t, models.TrendStable, TrendFor(85, nil, 2))
	assert.Equal(t, models.TrendImproving, TrendFor(82.1, &prev, 2))
	assert.Equal(t, models.TrendStable, TrendFor(82, &prev, 2))
	assert.Equal(t, models.TrendStable, TrendFor(78, &prev, 2))
	assert.Equal(t, models.TrendDeclining, TrendFor(77.9, &prev, 2))
}

func TestQualityCompute(t *testing.T) {
	ctx := context.Background()
	period := LastDays(testNow, 30)

	t.Run("stores the snapshot before notifying listeners", func(t *testing.T) {
		var order []string
		var saved *models.QualitySnapshot
		store := &mocks.MockQualityRepository{
			InputsFunc: func(ctx context.Context, domainID string, start, end time.Time) (models.QualityInputs, error) {
				assert.Equal(t, testDomain, domainID)
				assert.Equal(t, period.Start, start)
				assert.Equal(t, period.End, end)
				return referenceInputs(), nil
			},
			SaveSnapshotFunc: func(ctx context.Context, s *models.QualitySnapshot) error {
				order = append(order, "save")
				saved = s
				return nil
			},
		}
		failing := func(ctx context.Context, s *models.QualitySnapshot) error {
			order = append(order, "listener")
			return errors.New("cache unavailable")
		}
		q := newScorer(t, store, failing)

		snap, err := q.Compute(ctx, testDomain, period)

		require.NoError(t, err)
		assert.Equal(t, []string{"save", "listener"}, order)
		assert.Same(t, saved, snap)
		assert.Equal(t, 82.0, snap.DQS)
		assert.Equal(t, models.BandAcceptable, snap.Band)
		assert.Equal(t, models.TrendStable, snap.Trend)
		assert.Nil(t, snap.PreviousDQS)
		assert.Equal(t, DefaultPolicy.Version, snap.PolicyVersion)
		assert.Equal(t, testNow, snap.ComputedAt)
	})

	t.Run("compares with the previous snapshot", func(t *testing.T) {
		store := &mocks.MockQualityRepository{
			InputsFunc: func(ctx context.Context, domainID string, start, end time.Time) (models.QualityInputs, error) {
				return referenceInputs(), nil
			},
			LatestSnapshotFunc: func(ctx context.Context, domainID string) (*models.QualitySnapshot, error) {
				return &models.QualitySnapshot{DomainID: domainID, DQS: 75.5}, nil
			},
			SaveSnapshotFunc: func(ctx context.Context, s *models.QualitySnapshot) error { return nil },
		}
		q := newScorer(t, store)

		snap, err := q.Compute(ctx, testDomain, period)

		require.NoError(t, err)
		require.NotNil(t, snap.PreviousDQS)
		assert.Equal(t, 75.5, *snap.PreviousDQS)
		assert.Equal(t, 6.5, snap.ChangeFromPrevious)
		assert.Equal(t, models.TrendImproving, snap.Trend)
	})

	t.Run("save failure skips listeners", func(t *testing.T) {
		called := false
		store := &mocks.MockQualityRepository{
			InputsFunc: func(ctx context.Context, domainID string, start, end time.Time) (models.QualityInputs, error) {
				return models.QualityInputs{}, nil
			},
		}
		q := newScorer(t, store, func(ctx context.Context, s *models.QualitySnapshot) error {
			called = true
			return nil
		})

		_, err := q.Compute(ctx, testDomain, period)

		assert.ErrorIs(t, err, ErrStorageFailure)
		assert.False(t, called)
	})

	t.Run("inputs failure", func(t *testing.T) {
		q := newScorer(t, &mocks.MockQualityRepository{})

		_, err := q.Compute(ctx, testDomain, period)

		assert.ErrorIs(t, err, ErrStorageFailure)
	})

	t.Run("validation", func(t *testing.T) {
		q := newScorer(t, &mocks.MockQualityRepository{})

		_, err := q.Compute(ctx, "", period)
		assert.ErrorIs(t, err, ErrValidation)
		_, err = q.Compute(ctx, testDomain, Period{Start: testNow, End: testNow})
		assert.ErrorIs(t, err, ErrValidation)
	})
}

func TestQualityLatest(t *testing.T) {
	ctx := context.Background()

	t.Run("not found", func(t *testing.T) {
		q := newScorer(t, &mocks.MockQualityRepository{})

		_, err := q.Latest(ctx, testDomain)

		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("found", func(t *testing.T) {
		q := newScorer(t, &mocks.MockQualityRepository{
			LatestSnapshotFunc: func(ctx context.Context, domainID string) (*models.QualitySnapshot, error) {
				return &models.QualitySnapshot{DomainID: domainID, DQS: 91}, nil
			},
		})

		s, err := q.Latest(ctx, testDomain)

		require.NoError(t, err)
		assert.Equal(t, 91.0, s.DQS)
	})

	t.Run("storage failure", func(t *testing.T) {
		q := newScorer(t, &mocks.MockQualityRepository{
			LatestSnapshotFunc: func(ctx context.Context, domainID string) (*models.QualitySnapshot, error) {
				return nil, errors.New("disk")
			},
		})

		_, err := q.Latest(ctx, testDomain)

		assert.ErrorIs(t, err, ErrStorageFailure)
		assert.NotErrorIs(t, err, repository.ErrNotFound)
	})
}
