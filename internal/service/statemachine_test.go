package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/godilite/qa-workflow/internal/repository/models"
)

func TestValidateTransition(t *testing.T) {
	t.Run("table is closed over the enumeration", func(t *testing.T) {
		for from, targets := range transitions {
			assert.True(t, from.Valid(), from)
			for _, to := range targets {
				assert.True(t, to.Valid(), to)
			}
		}
	})

	t.Run("terminal statuses admit nothing", func(t *testing.T) {
		for _, terminal := range []models.ReviewStatus{models.StatusApplied, models.StatusRejected, models.StatusSystemicIssueDetected} {
			assert.True(t, IsTerminal(terminal))
			for _, to := range models.AllStatuses {
				assert.False(t, ValidateTransition(terminal, to), "%s -> %s", terminal, to)
			}
		}
	})

	t.Run("known edges", func(t *testing.T) {
		assert.True(t, ValidateTransition(models.StatusPending, models.StatusInReview))
		assert.True(t, ValidateTransition(models.StatusSpecialistReviewing, models.StatusCorrectionProposed))
		assert.False(t, ValidateTransition(models.StatusPending, models.StatusApplied))
		assert.False(t, ValidateTransition(models.StatusAssignedToSpecialist, models.StatusRejected))
	})
}

func TestApplyTransitionRejectsEveryPairOutsideTable(t *testing.T) {
	ctx := context.Background()
	for _, from := range models.AllStatuses {
		for _, to := range models.AllStatuses {
			if ValidateTransition(from, to) {
				continue
			}
			f := newFixture(t)
			ticket := f.seed("t-1", from)

			_, err := f.machine.ApplyTransition(ctx, &ticket, to, admin, "")

			var ite *InvalidTransitionError
			require.ErrorAs(t, err, &ite, "%s -> %s", from, to)
			assert.ErrorIs(t, err, ErrInvalidTransition)
			assert.Equal(t, from, f.tickets.Status("t-1"))
			assert.Empty(t, f.audits.Entries())
		}
	}
}

func TestApplyTransition(t *testing.T) {
	ctx := context.Background()

	t.Run("pending straight to applied is invalid", func(t *testing.T) {
		f := newFixture(t)
		ticket := f.seed("t-1", models.StatusPending)

		_, err := f.machine.ApplyTransition(ctx, &ticket, models.StatusApplied, admin, "")

		var ite *InvalidTransitionError
		require.ErrorAs(t, err, &ite)
		assert.Equal(t, models.StatusPending, ite.From)
		assert.Equal(t, models.StatusApplied, ite.To)
	})

	t.Run("appends history, bumps version and audits", func(t *testing.T) {
		f := newFixture(t)
		ticket := f.seed("t-1", models.StatusPending)

		updated, err := f.machine.ApplyTransition(ctx, &ticket, models.StatusInReview, expert, "taking this one")

		require.NoError(t, err)
		assert.Equal(t, models.StatusInReview, updated.Status)
		assert.Equal(t, int64(2), updated.Version)
		require.Len(t, updated.History, 1)
		h := updated.History[0]
		assert.Equal(t, models.StatusPending, h.FromStatus)
		assert.Equal(t, models.StatusInReview, h.ToStatus)
		assert.Equal(t, "u-expert", h.ChangedBy)
		assert.Equal(t, "taking this one", h.Notes)

		stored, err := f.tickets.Get(ctx, "t-1")
		require.NoError(t, err)
		assert.Equal(t, models.StatusInReview, stored.Status)
		assert.Len(t, stored.History, 1)

		entries := f.audits.Entries()
		require.Len(t, entries, 1)
		assert.Equal(t, ActionEvaluationCreated, entries[0].Action.Type)
		assert.Equal(t, "pending", entries[0].Context.PreviousState)
		assert.Equal(t, "in-review", entries[0].Context.NewState)
		assert.Equal(t, "t-1", entries[0].Subject.ID)
	})

	t.Run("unknown ticket", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.machine.Apply(ctx, TransitionRequest{TicketID: "missing", Target: models.StatusInReview, Actor: expert})

		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("unknown target", func(t *testing.T) {
		f := newFixture(t)
		f.seed("t-1", models.StatusPending)

		_, err := f.machine.Apply(ctx, TransitionRequest{TicketID: "t-1", Target: "archived", Actor: expert})

		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("stale expected status", func(t *testing.T) {
		f := newFixture(t)
		f.seed("t-1", models.StatusInReview)

		_, err := f.machine.Apply(ctx, TransitionRequest{
			TicketID: "t-1",
			Expected: models.StatusPending,
			Target:   models.StatusRejected,
			Actor:    expert,
		})

		var ite *InvalidTransitionError
		require.ErrorAs(t, err, &ite)
		assert.Equal(t, models.StatusInReview, ite.From)
		assert.Equal(t, models.StatusInReview, f.tickets.Status("t-1"))
	})

	t.Run("actor outside domain is denied and audited", func(t *testing.T) {
		f := newFixture(t)
		ticket := f.seed("t-1", models.StatusPending)

		_, err := f.machine.ApplyTransition(ctx, &ticket, models.StatusInReview, outsider, "")

		assert.ErrorIs(t, err, ErrPermissionDenied)
		assert.Equal(t, models.StatusPending, f.tickets.Status("t-1"))
		entries := f.audits.Entries()
		require.Len(t, entries, 1)
		assert.Equal(t, ActionUnauthorized, entries[0].Action.Type)
		assert.Equal(t, models.SeverityCritical, entries[0].Action.Severity)
	})

	t.Run("end users cannot drive the workflow", func(t *testing.T) {
		f := newFixture(t)
		ticket := f.seed("t-1", models.StatusPending)

		_, err := f.machine.ApplyTransition(ctx, &ticket, models.StatusInReview, endUser, "")

		assert.ErrorIs(t, err, ErrPermissionDenied)
	})

	t.Run("superadmin crosses domains", func(t *testing.T) {
		f := newFixture(t)
		ticket := f.seed("t-1", models.StatusPending)

		updated, err := f.machine.ApplyTransition(ctx, &ticket, models.StatusInReview, superAdmin, "")

		require.NoError(t, err)
		assert.Equal(t, models.StatusInReview, updated.Status)
	})

	t.Run("roles follow the action grants of the current status", func(t *testing.T) {
		otherSpecialist := models.Actor{UserID: "sp-2", Role: models.RoleSpecialist, Domain: testDomain}
		tests := []struct {
			name   string
			from   models.ReviewStatus
			target models.ReviewStatus
			actor  models.Actor
			denied bool
		}{
			{"specialist cannot start review", models.StatusPending, models.StatusInReview, specialist, true},
			{"expert starts review", models.StatusPending, models.StatusInReview, expert, false},
			{"expert cannot reject a proposal", models.StatusCorrectionProposed, models.StatusRejected, expert, true},
			{"specialist cannot reject a proposal", models.StatusCorrectionProposed, models.StatusRejected, specialist, true},
			{"admin rejects a proposal", models.StatusCorrectionProposed, models.StatusRejected, admin, false},
			{"expert cannot touch specialist review", models.StatusAssignedToSpecialist, models.StatusSpecialistReviewing, expert, true},
			{"assigned specialist starts", models.StatusAssignedToSpecialist, models.StatusSpecialistReviewing, specialist, false},
			{"other specialist cannot start", models.StatusAssignedToSpecialist, models.StatusSpecialistReviewing, otherSpecialist, true},
			{"other specialist cannot return", models.StatusSpecialistReviewing, models.StatusReturnedToSupervisor, otherSpecialist, true},
			{"specialist cannot pick up a returned ticket", models.StatusReturnedToSupervisor, models.StatusInReview, specialist, true},
			{"expert picks up a returned ticket", models.StatusReturnedToSupervisor, models.StatusInReview, expert, false},
			{"superadmin is never limited by status", models.StatusCorrectionProposed, models.StatusRejected, superAdmin, false},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				f := newFixture(t, models.Specialist{ID: "sp-1", DomainID: testDomain, MaxAssignments: 3, CurrentAssignments: 1})
				ticket := f.seed("t-1", tt.from)
				if isSpecialistStatus(tt.from) {
					ticket.Assignment = &models.Assignment{SpecialistID: "sp-1", AssignedBy: "u-expert", AssignedAt: testNow}
					f.tickets.Put(ticket)
				}

				_, err := f.machine.ApplyTransition(ctx, &ticket, tt.target, tt.actor, "")

				if !tt.denied {
					require.NoError(t, err)
					assert.Equal(t, tt.target, f.tickets.Status("t-1"))
					return
				}
				assert.ErrorIs(t, err, ErrPermissionDenied)
				assert.Equal(t, tt.from, f.tickets.Status("t-1"))
				entries := f.audits.Entries()
				require.Len(t, entries, 1)
				assert.Equal(t, ActionUnauthorized, entries[0].Action.Type)
			})
		}
	})

	t.Run("mutate error aborts without writing", func(t *testing.T) {
		f := newFixture(t)
		f.seed("t-1", models.StatusInReview)

		_, err := f.machine.Apply(ctx, TransitionRequest{
			TicketID: "t-1",
			Target:   models.StatusCorrectionProposed,
			Actor:    expert,
			Mutate:   func(*models.Ticket) error { return validationErr("proposal", "missing") },
		})

		assert.ErrorIs(t, err, ErrValidation)
		assert.Equal(t, models.StatusInReview, f.tickets.Status("t-1"))
	})

	t.Run("storage failure on write", func(t *testing.T) {
		f := newFixture(t)
		ticket := f.seed("t-1", models.StatusPending)
		f.tickets.TransitionErr = errors.New("disk full")

		_, err := f.machine.ApplyTransition(ctx, &ticket, models.StatusInReview, expert, "")

		assert.ErrorIs(t, err, ErrStorageFailure)
		assert.Empty(t, f.audits.Entries())
	})

	t.Run("audit failure is reported with the committed ticket", func(t *testing.T) {
		f := newFixture(t)
		ticket := f.seed("t-1", models.StatusPending)
		f.audits.AppendErr = errors.New("audit table locked")

		updated, err := f.machine.ApplyTransition(ctx, &ticket, models.StatusInReview, expert, "")

		require.Error(t, err)
		assert.ErrorIs(t, err, ErrStorageFailure)
		require.NotNil(t, updated)
		assert.Equal(t, models.StatusInReview, updated.Status)
		assert.Equal(t, models.StatusInReview, f.tickets.Status("t-1"))
	})

	t.Run("leaving specialist review releases the workload counter", func(t *testing.T) {
		f := newFixture(t, models.Specialist{ID: "sp-1", DomainID: testDomain, MaxAssignments: 3, CurrentAssignments: 1})
		ticket := f.seed("t-1", models.StatusSpecialistReviewing)
		ticket.Assignment = &models.Assignment{SpecialistID: "sp-1", AssignedBy: "u-expert", AssignedAt: testNow}
		f.tickets.Put(ticket)

		updated, err := f.machine.ApplyTransition(ctx, &ticket, models.StatusReturnedToSupervisor, specialist, "outside my area")

		require.NoError(t, err)
		require.NotNil(t, updated.Assignment)
		assert.NotNil(t, updated.Assignment.ReturnedAt)
		assert.Nil(t, updated.Assignment.CompletedAt)
		assert.Equal(t, 0, f.specialists.Workload("sp-1"))
	})
}

func TestApplyTransitionConcurrentCallers(t *testing.T) {
	ctx := context.Background()

	run := func(t *testing.T, f *fixture, first, second *ReviewStateMachine) {
		ticket := f.seed("t-1", models.StatusInReview)
		targets := []models.ReviewStatus{models.StatusCorrectionProposed, models.StatusRejected}
		machines := []*ReviewStateMachine{first, second}

		errs := make([]error, 2)
		var wg sync.WaitGroup
		for i := range targets {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, errs[i] = machines[i].ApplyTransition(ctx, &ticket, targets[i], admin, "")
			}()
		}
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
				continue
			}
			var ite *InvalidTransitionError
			require.ErrorAs(t, err, &ite)
			assert.NotEqual(t, models.StatusInReview, ite.From)
		}
		assert.Equal(t, 1, succeeded)

		stored, err := f.tickets.Get(ctx, "t-1")
		require.NoError(t, err)
		assert.Len(t, stored.History, 1)
		assert.Len(t, f.audits.Entries(), 1)
	}

	t.Run("same process", func(t *testing.T) {
		f := newFixture(t)
		run(t, f, f.machine, f.machine)
	})

	t.Run("separate processes sharing the store", func(t *testing.T) {
		f := newFixture(t)
		other := NewReviewStateMachine(f.tickets, f.specialists, f.log, zap.NewNop())

		// Both callers must have read in-review before either writes.
		var barrier sync.WaitGroup
		barrier.Add(2)
		f.tickets.BeforeTransition = func(string) {
			barrier.Done()
			barrier.Wait()
		}
		run(t, f, f.machine, other)
	})
}
