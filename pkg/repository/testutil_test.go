package repository_test

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/gt"
	"github.com/howler-bot/howler/pkg/domain/model/alert"
	"github.com/howler-bot/howler/pkg/domain/types"
	"github.com/howler-bot/howler/pkg/repository"
	"github.com/howler-bot/howler/pkg/utils/test"
)

func newFirestoreClient(t *testing.T) *repository.Firestore {
	vars := test.NewEnvVars(t, "TEST_FIRESTORE_PROJECT_ID", "TEST_FIRESTORE_DATABASE_ID")
	client, err := repository.NewFirestore(t.Context(),
		vars.Get("TEST_FIRESTORE_PROJECT_ID"),
		vars.Get("TEST_FIRESTORE_DATABASE_ID"),
	)
	gt.NoError(t, err).Required()
	return client
}

func newSQLiteClient(t *testing.T) *repository.SQLite {
	path := filepath.Join(t.TempDir(), "howler.db")
	client, err := repository.NewSQLite(t.Context(), path)
	gt.NoError(t, err).Required()
	t.Cleanup(func() {
		gt.NoError(t, client.Close())
	})
	return client
}

func newTestEvent() alert.Event {
	return alert.Event{
		Schema:      types.AlertSchema("test-schema"),
		Fingerprint: uuid.New().String(),
		Title:       "disk usage over 90%",
		Data:        map[string]any{"host": "db-01", "mount": "/var"},
	}
}

func newTestAlert(window time.Duration) alert.Alert {
	ev := newTestEvent()
	now := time.Now().UTC().Truncate(time.Second)
	key := ev.DedupKey()
	return alert.Alert{
		ID:         types.NewAlertID(key, now),
		DedupKey:   key,
		Schema:     ev.Schema,
		Title:      ev.Title,
		Data:       ev.Data,
		Status:     types.AlertStatusPending,
		CreatedAt:  now,
		EscalateAt: now.Add(window),
	}
}

func newTestRef(room string) alert.MessageRef {
	return alert.MessageRef{
		Room:    types.RoomID(room),
		EventID: types.EventID(fmt.Sprintf("$%s", uuid.New().String())),
	}
}
