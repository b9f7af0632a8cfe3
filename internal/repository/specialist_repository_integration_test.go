package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/godilite/qa-workflow/internal/repository"
	"github.com/godilite/qa-workflow/internal/repository/models"
)

func TestSpecialistRepository_Integration(t *testing.T) {
	ctx := context.Background()

	seed := func(t *testing.T) *repository.SpecialistRepository {
		t.Helper()
		repo := repository.NewSpecialistRepository(setupTestDB(t))
		for _, s := range []models.Specialist{
			{ID: "sp-2", DomainID: testDomain, Name: "Ben", Specialty: "Legal", Domains: []string{"legal"}, MaxAssignments: 3},
			{ID: "sp-1", DomainID: testDomain, Name: "Ana", Specialty: "Billing", Domains: []string{"billing", "refunds"}, MaxAssignments: 2},
			{ID: "sp-9", DomainID: "other.com", Name: "Zed", MaxAssignments: 1},
		} {
			require.NoError(t, repo.Save(ctx, s))
		}
		return repo
	}

	t.Run("list by domain", func(t *testing.T) {
		repo := seed(t)

		got, err := repo.ListByDomain(ctx, testDomain)

		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "sp-1", got[0].ID)
		assert.Equal(t, []string{"billing", "refunds"}, got[0].Domains)
		assert.Equal(t, 2, got[0].MaxAssignments)
	})

	t.Run("get missing", func(t *testing.T) {
		repo := seed(t)

		_, err := repo.Get(ctx, "nope")

		assert.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("assign and release keep the counter consistent", func(t *testing.T) {
		repo := seed(t)

		require.NoError(t, repo.Assign(ctx, "sp-1", "t-1", baseTime))
		require.NoError(t, repo.Assign(ctx, "sp-1", "t-2", baseTime))
		sp, err := repo.Get(ctx, "sp-1")
		require.NoError(t, err)
		assert.Equal(t, 2, sp.CurrentAssignments)

		require.NoError(t, repo.Release(ctx, "sp-1", "t-1", models.StatusCorrectionProposed, baseTime.Add(6*time.Hour)))
		require.NoError(t, repo.Release(ctx, "sp-1", "t-2", models.StatusReturnedToSupervisor, baseTime.Add(18*time.Hour)))
		require.NoError(t, repo.Release(ctx, "sp-1", "t-3", models.StatusReturnedToSupervisor, baseTime.Add(18*time.Hour)))

		sp, err = repo.Get(ctx, "sp-1")
		require.NoError(t, err)
		assert.Equal(t, 0, sp.CurrentAssignments, "never below zero")

		st, err := repo.Stats(ctx, "sp-1")
		require.NoError(t, err)
		assert.Equal(t, 2, st.CompletedCount)
		assert.InDelta(t, 0.5, st.ApprovalRate, 1e-9)
		assert.InDelta(t, 12, st.AvgResponseTimeHours, 0.01)
	})

	t.Run("save keeps the workload counter", func(t *testing.T) {
		repo := seed(t)
		require.NoError(t, repo.Assign(ctx, "sp-2", "t-1", baseTime))

		require.NoError(t, repo.Save(ctx, models.Specialist{ID: "sp-2", DomainID: testDomain, Name: "Ben B.", MaxAssignments: 5}))

		sp, err := repo.Get(ctx, "sp-2")
		require.NoError(t, err)
		assert.Equal(t, "Ben B.", sp.Name)
		assert.Equal(t, 1, sp.CurrentAssignments)
	})

	t.Run("unknown specialist", func(t *testing.T) {
		repo := seed(t)

		assert.ErrorIs(t, repo.Assign(ctx, "nope", "t-1", baseTime), repository.ErrNotFound)
		assert.ErrorIs(t, repo.Release(ctx, "nope", "t-1", models.StatusCorrectionProposed, baseTime), repository.ErrNotFound)
	})

	t.Run("no completed work has no stats", func(t *testing.T) {
		repo := seed(t)
		require.NoError(t, repo.Assign(ctx, "sp-1", "t-1", baseTime))

		_, err := repo.Stats(ctx, "sp-1")

		assert.ErrorIs(t, err, repository.ErrNotFound)
	})
}
