package repository_test

import (
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/howler-bot/howler/pkg/domain/interfaces"
	"github.com/howler-bot/howler/pkg/domain/model/alert"
	"github.com/howler-bot/howler/pkg/domain/model/errs"
	"github.com/howler-bot/howler/pkg/domain/types"
	"github.com/howler-bot/howler/pkg/repository"
)

func runRepositoryTest(t *testing.T, testFn func(t *testing.T, repo interfaces.Repository)) {
	t.Run("Memory", func(t *testing.T) {
		testFn(t, repository.NewMemory())
	})

	t.Run("SQLite", func(t *testing.T) {
		testFn(t, newSQLiteClient(t))
	})

	t.Run("Firestore", func(t *testing.T) {
		testFn(t, newFirestoreClient(t))
	})
}

func TestGetOrCreateAlert(t *testing.T) {
	runRepositoryTest(t, func(t *testing.T, repo interfaces.Repository) {
		ctx := t.Context()
		candidate := newTestAlert(time.Minute)

		got, created, err := repo.GetOrCreateAlert(ctx, candidate)
		gt.NoError(t, err).Required()
		gt.True(t, created)
		gt.Value(t, got.ID).Equal(candidate.ID)
		gt.Value(t, got.Status).Equal(types.AlertStatusPending)

		// Redelivery of the same dedup key converges to the live record.
		again := candidate
		again.ID = types.NewAlertID(candidate.DedupKey, candidate.CreatedAt.Add(time.Hour))
		got2, created2, err := repo.GetOrCreateAlert(ctx, again)
		gt.NoError(t, err).Required()
		gt.False(t, created2)
		gt.Value(t, got2.ID).Equal(candidate.ID)

		// A different dedup key creates an independent record.
		other := newTestAlert(time.Minute)
		_, created3, err := repo.GetOrCreateAlert(ctx, other)
		gt.NoError(t, err).Required()
		gt.True(t, created3)
	})
}

func TestGetOrCreateAfterClose(t *testing.T) {
	runRepositoryTest(t, func(t *testing.T, repo interfaces.Repository) {
		ctx := t.Context()
		candidate := newTestAlert(time.Minute)

		_, created, err := repo.GetOrCreateAlert(ctx, candidate)
		gt.NoError(t, err).Required()
		gt.True(t, created)

		_, err = repo.UpdateAlert(ctx, candidate.ID, func(a *alert.Alert) error {
			return a.Acknowledge("alice")
		})
		gt.NoError(t, err).Required()

		// Once the record is closed, the same upstream alert starts a new
		// lifecycle.
		refire := candidate
		refire.ID = types.NewAlertID(candidate.DedupKey, candidate.CreatedAt.Add(time.Hour))
		got, created, err := repo.GetOrCreateAlert(ctx, refire)
		gt.NoError(t, err).Required()
		gt.True(t, created)
		gt.Value(t, got.ID).Equal(refire.ID)
	})
}

func TestUpdateAlert(t *testing.T) {
	runRepositoryTest(t, func(t *testing.T, repo interfaces.Repository) {
		ctx := t.Context()
		candidate := newTestAlert(time.Minute)
		ref := newTestRef("!primary:example.org")

		_, _, err := repo.GetOrCreateAlert(ctx, candidate)
		gt.NoError(t, err).Required()

		updated, err := repo.UpdateAlert(ctx, candidate.ID, func(a *alert.Alert) error {
			a.AppendRef(ref)
			return nil
		})
		gt.NoError(t, err).Required()
		gt.Array(t, updated.MessageRefs).Length(1)
		gt.Value(t, updated.MessageRefs[0]).Equal(ref)

		escRef := newTestRef("!escalation:example.org")
		updated, err = repo.UpdateAlert(ctx, candidate.ID, func(a *alert.Alert) error {
			return a.Escalate(escRef, time.Minute)
		})
		gt.NoError(t, err).Required()
		gt.Value(t, updated.Status).Equal(types.AlertStatusEscalated)
		gt.Value(t, updated.Level).Equal(1)
		gt.Array(t, updated.MessageRefs).Length(2)
		gt.Value(t, updated.EscalateAt.Unix()).Equal(candidate.CreatedAt.Add(2 * time.Minute).Unix())

		got, err := repo.GetAlert(ctx, candidate.ID)
		gt.NoError(t, err).Required()
		gt.Value(t, got.Status).Equal(types.AlertStatusEscalated)
		gt.Array(t, got.MessageRefs).Length(2)
	})
}

func TestUpdateAlertMutatorError(t *testing.T) {
	runRepositoryTest(t, func(t *testing.T, repo interfaces.Repository) {
		ctx := t.Context()
		candidate := newTestAlert(time.Minute)

		_, _, err := repo.GetOrCreateAlert(ctx, candidate)
		gt.NoError(t, err).Required()

		_, err = repo.UpdateAlert(ctx, candidate.ID, func(a *alert.Alert) error {
			if err := a.Acknowledge("alice"); err != nil {
				return err
			}
			// Acknowledging twice must fail inside the same mutation.
			return a.Acknowledge("bob")
		})
		gt.Error(t, err)

		// Nothing was persisted.
		got, err := repo.GetAlert(ctx, candidate.ID)
		gt.NoError(t, err).Required()
		gt.Value(t, got.Status).Equal(types.AlertStatusPending)
		gt.Value(t, got.AckedBy).Equal("")
	})
}

func TestUpdateAlertNotFound(t *testing.T) {
	runRepositoryTest(t, func(t *testing.T, repo interfaces.Repository) {
		ctx := t.Context()

		_, err := repo.UpdateAlert(ctx, types.AlertID("no-such-alert"), func(a *alert.Alert) error {
			return nil
		})
		gt.Error(t, err)
		gt.True(t, errs.IsNotFound(err))
	})
}

func TestListDueAlerts(t *testing.T) {
	runRepositoryTest(t, func(t *testing.T, repo interfaces.Repository) {
		ctx := t.Context()

		due := newTestAlert(time.Minute)
		notYet := newTestAlert(time.Hour)
		acked := newTestAlert(time.Minute)

		for _, a := range []alert.Alert{due, notYet, acked} {
			_, _, err := repo.GetOrCreateAlert(ctx, a)
			gt.NoError(t, err).Required()
		}
		_, err := repo.UpdateAlert(ctx, acked.ID, func(a *alert.Alert) error {
			return a.Acknowledge("alice")
		})
		gt.NoError(t, err).Required()

		now := due.CreatedAt.Add(2 * time.Minute)
		got, err := repo.ListDueAlerts(ctx, now)
		gt.NoError(t, err).Required()

		ids := map[types.AlertID]bool{}
		for _, a := range got {
			ids[a.ID] = true
		}
		gt.True(t, ids[due.ID])
		gt.False(t, ids[notYet.ID])
		gt.False(t, ids[acked.ID])
	})
}

func TestListLiveAlerts(t *testing.T) {
	runRepositoryTest(t, func(t *testing.T, repo interfaces.Repository) {
		ctx := t.Context()

		first := newTestAlert(time.Minute)
		second := newTestAlert(time.Minute)
		second.CreatedAt = first.CreatedAt.Add(time.Second)
		second.ID = types.NewAlertID(second.DedupKey, second.CreatedAt)

		for _, a := range []alert.Alert{first, second} {
			_, _, err := repo.GetOrCreateAlert(ctx, a)
			gt.NoError(t, err).Required()
		}

		got, err := repo.ListLiveAlerts(ctx)
		gt.NoError(t, err).Required()

		var ids []types.AlertID
		for _, a := range got {
			if a.ID == first.ID || a.ID == second.ID {
				ids = append(ids, a.ID)
			}
		}
		gt.Array(t, ids).Length(2).Required()
		gt.Value(t, ids[0]).Equal(first.ID)
		gt.Value(t, ids[1]).Equal(second.ID)
	})
}

func TestFindAlertByMessageRef(t *testing.T) {
	runRepositoryTest(t, func(t *testing.T, repo interfaces.Repository) {
		ctx := t.Context()
		candidate := newTestAlert(time.Minute)
		ref := newTestRef("!primary:example.org")

		_, _, err := repo.GetOrCreateAlert(ctx, candidate)
		gt.NoError(t, err).Required()
		_, err = repo.UpdateAlert(ctx, candidate.ID, func(a *alert.Alert) error {
			a.AppendRef(ref)
			return nil
		})
		gt.NoError(t, err).Required()

		got, err := repo.FindAlertByMessageRef(ctx, ref.Room, ref.EventID)
		gt.NoError(t, err).Required()
		gt.Value(t, got.ID).Equal(candidate.ID)

		// A reaction to an unrelated message is not ours to handle.
		_, err = repo.FindAlertByMessageRef(ctx, ref.Room, types.EventID("$unknown"))
		gt.Error(t, err)
		gt.True(t, errs.IsNotFound(err))
	})
}

func TestGetOrCreateAlertConcurrent(t *testing.T) {
	runRepositoryTest(t, func(t *testing.T, repo interfaces.Repository) {
		ctx := t.Context()
		base := newTestAlert(time.Minute)

		// Racing intakes of the same dedup key must serialize into exactly
		// one live record instead of failing on the write lock.
		const workers = 8
		var wg sync.WaitGroup
		createdCh := make(chan bool, workers)
		idCh := make(chan types.AlertID, workers)

		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				candidate := base
				candidate.ID = types.NewAlertID(base.DedupKey, base.CreatedAt.Add(time.Duration(n)*time.Second))

				got, created, err := repo.GetOrCreateAlert(ctx, candidate)
				gt.NoError(t, err)
				if err != nil {
					return
				}
				createdCh <- created
				idCh <- got.ID
			}(i)
		}
		wg.Wait()
		close(createdCh)
		close(idCh)

		createdCount := 0
		for created := range createdCh {
			if created {
				createdCount++
			}
		}
		gt.Value(t, createdCount).Equal(1)

		ids := map[types.AlertID]bool{}
		for id := range idCh {
			ids[id] = true
		}
		gt.Value(t, len(ids)).Equal(1)

		live, err := repo.ListLiveAlerts(ctx)
		gt.NoError(t, err).Required()
		gt.Array(t, live).Length(1)
	})
}
