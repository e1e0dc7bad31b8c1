package alert_test

import (
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"github.com/howler-bot/howler/pkg/domain/model/alert"
	"github.com/howler-bot/howler/pkg/domain/types"
	"github.com/howler-bot/howler/pkg/utils/clock"
)

func testEvent() alert.Event {
	return alert.Event{
		Schema:      "grafana",
		Fingerprint: "fp-1",
		Title:       "db-01 disk usage over 90%",
		Data:        map[string]any{"value": 92.0},
	}
}

func TestNew(t *testing.T) {
	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	ctx := clock.With(t.Context(), func() time.Time { return now })

	a := alert.New(ctx, testEvent(), time.Hour)

	gt.Value(t, a.Status).Equal(types.AlertStatusPending)
	gt.Value(t, a.CreatedAt).Equal(now)
	gt.Value(t, a.EscalateAt).Equal(now.Add(time.Hour))
	gt.Value(t, a.Level).Equal(0)
	gt.NoError(t, a.Validate())
}

func TestNewUntitled(t *testing.T) {
	ev := testEvent()
	ev.Title = ""

	a := alert.New(t.Context(), ev, time.Hour)
	gt.Value(t, a.Title).Equal(alert.DefaultTitle)
}

func TestDedupKeyStable(t *testing.T) {
	ev := testEvent()
	gt.Value(t, ev.DedupKey()).Equal(testEvent().DedupKey())

	other := testEvent()
	other.Fingerprint = "fp-2"
	gt.False(t, ev.DedupKey() == other.DedupKey())
}

func TestDedupKeyFromPayload(t *testing.T) {
	ev := testEvent()
	ev.Fingerprint = ""

	// Without a fingerprint the payload content keys the record, so a
	// redelivery of the same body converges to the same key.
	gt.Value(t, ev.DedupKey()).Equal(func() types.DedupKey {
		redelivered := testEvent()
		redelivered.Fingerprint = ""
		return redelivered.DedupKey()
	}())

	ev.Data = map[string]any{"value": 93.0}
	redelivered := testEvent()
	redelivered.Fingerprint = ""
	gt.False(t, ev.DedupKey() == redelivered.DedupKey())
}

func TestAlertIDRestartsLifecycle(t *testing.T) {
	ev := testEvent()
	key := ev.DedupKey()

	first := types.NewAlertID(key, time.Unix(1000, 0))
	second := types.NewAlertID(key, time.Unix(2000, 0))
	gt.False(t, first == second)
}

func TestAcknowledge(t *testing.T) {
	a := alert.New(t.Context(), testEvent(), time.Hour)

	gt.NoError(t, a.Acknowledge("@alice:example.org"))
	gt.Value(t, a.Status).Equal(types.AlertStatusAcknowledged)
	gt.Value(t, a.AckedBy).Equal("@alice:example.org")
	gt.False(t, a.Live())
	gt.NoError(t, a.Validate())

	gt.Error(t, a.Acknowledge("@bob:example.org"))
	gt.Value(t, a.AckedBy).Equal("@alice:example.org")
}

func TestAcknowledgeRequiresActor(t *testing.T) {
	a := alert.New(t.Context(), testEvent(), time.Hour)
	gt.Error(t, a.Acknowledge(""))
	gt.Value(t, a.Status).Equal(types.AlertStatusPending)
}

func TestResolve(t *testing.T) {
	a := alert.New(t.Context(), testEvent(), time.Hour)

	gt.NoError(t, a.Resolve())
	gt.Value(t, a.Status).Equal(types.AlertStatusResolved)
	gt.Error(t, a.Resolve())
}

func TestEscalate(t *testing.T) {
	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	ctx := clock.With(t.Context(), func() time.Time { return now })
	window := time.Hour

	a := alert.New(ctx, testEvent(), window)
	a.AppendRef(alert.MessageRef{Room: "!primary:example.org", EventID: "$ev-1"})

	gt.NoError(t, a.Escalate(alert.MessageRef{Room: "!oncall:example.org", EventID: "$ev-2"}, window))
	gt.Value(t, a.Status).Equal(types.AlertStatusEscalated)
	gt.Value(t, a.Level).Equal(1)
	gt.Value(t, a.EscalateAt).Equal(now.Add(2 * window))
	gt.Array(t, a.MessageRefs).Length(2)

	gt.NoError(t, a.Escalate(alert.MessageRef{Room: "!mgmt:example.org", EventID: "$ev-3"}, window))
	gt.Value(t, a.Level).Equal(2)
	gt.Value(t, a.EscalateAt).Equal(now.Add(3 * window))

	gt.NoError(t, a.Acknowledge("@alice:example.org"))
	gt.Error(t, a.Escalate(alert.MessageRef{Room: "!x:example.org", EventID: "$ev-4"}, window))
}

func TestHasRef(t *testing.T) {
	a := alert.New(t.Context(), testEvent(), time.Hour)
	a.AppendRef(alert.MessageRef{Room: "!primary:example.org", EventID: "$ev-1"})

	gt.True(t, a.HasRef("!primary:example.org"))
	gt.False(t, a.HasRef("!oncall:example.org"))
}

func TestValidate(t *testing.T) {
	t.Run("acked_by only on acknowledged", func(t *testing.T) {
		a := alert.New(t.Context(), testEvent(), time.Hour)
		a.AckedBy = "@alice:example.org"
		gt.Error(t, a.Validate())
	})

	t.Run("empty id", func(t *testing.T) {
		a := alert.New(t.Context(), testEvent(), time.Hour)
		a.ID = types.EmptyAlertID
		gt.Error(t, a.Validate())
	})

	t.Run("bad status", func(t *testing.T) {
		a := alert.New(t.Context(), testEvent(), time.Hour)
		a.Status = "unknown"
		gt.Error(t, a.Validate())
	})
}
