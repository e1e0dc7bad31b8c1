package alert

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/howler-bot/howler/pkg/domain/model/errs"
	"github.com/howler-bot/howler/pkg/domain/types"
	"github.com/howler-bot/howler/pkg/utils/clock"
)

const DefaultTitle = "(no title)"

// MessageRef points at one chat message that announces this alert. One ref is
// appended per room the alert was posted or escalated into.
type MessageRef struct {
	Room    types.RoomID  `json:"room"`
	EventID types.EventID `json:"event_id"`
}

// Alert is the persistent record of one alert lifecycle. All mutation goes
// through the repository's atomic read-modify-write, so the struct itself
// carries no locking.
type Alert struct {
	ID       types.AlertID     `json:"id"`
	DedupKey types.DedupKey    `json:"dedup_key"`
	Schema   types.AlertSchema `json:"schema"`
	Title    string            `json:"title"`
	Data     any               `json:"data"`

	Status    types.AlertStatus `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
	AckedBy   string            `json:"acked_by"`

	// Level is the escalation hop count. 0 means the alert has only been
	// posted to the primary room.
	Level int `json:"level"`

	// EscalateAt is the next escalation deadline, materialized so that the
	// backing store can query due records directly. It always equals
	// CreatedAt + (Level+1) * window.
	EscalateAt time.Time `json:"escalate_at"`

	MessageRefs []MessageRef `json:"message_refs"`
}

type Alerts []*Alert

// New builds a fresh Pending record from an intake event. The ID embeds the
// first-seen time so that a re-fired alert after resolution starts a new
// lifecycle under the same dedup key.
func New(ctx context.Context, ev Event, window time.Duration) Alert {
	now := clock.Now(ctx)
	key := ev.DedupKey()

	title := ev.Title
	if title == "" {
		title = DefaultTitle
	}

	return Alert{
		ID:         types.NewAlertID(key, now),
		DedupKey:   key,
		Schema:     ev.Schema,
		Title:      title,
		Data:       ev.Data,
		Status:     types.AlertStatusPending,
		CreatedAt:  now,
		EscalateAt: now.Add(window),
	}
}

// Live returns true while the alert can still be acknowledged or escalated.
func (x *Alert) Live() bool {
	return x.Status.Live()
}

// Acknowledge transitions the record to Acknowledged. The caller decides
// whether an already closed record is an error or a no-op; here a closed
// record is rejected so the repository does not persist a lost update.
func (x *Alert) Acknowledge(actor string) error {
	if !x.Live() {
		return goerr.New("alert is already closed",
			goerr.T(errs.TagInvalidState),
			goerr.TV(errs.AlertIDKey, x.ID.String()),
			goerr.V("status", x.Status))
	}
	if actor == "" {
		return goerr.New("acknowledging actor is required",
			goerr.T(errs.TagValidation),
			goerr.TV(errs.AlertIDKey, x.ID.String()))
	}

	x.Status = types.AlertStatusAcknowledged
	x.AckedBy = actor
	return nil
}

// Resolve closes the record without an acknowledging actor.
func (x *Alert) Resolve() error {
	if !x.Live() {
		return goerr.New("alert is already closed",
			goerr.T(errs.TagInvalidState),
			goerr.TV(errs.AlertIDKey, x.ID.String()),
			goerr.V("status", x.Status))
	}

	x.Status = types.AlertStatusResolved
	return nil
}

// Escalate records one escalation hop: the message ref of the room just
// posted to, the incremented level, and the next cumulative deadline.
func (x *Alert) Escalate(ref MessageRef, window time.Duration) error {
	if !x.Live() {
		return goerr.New("cannot escalate closed alert",
			goerr.T(errs.TagInvalidState),
			goerr.TV(errs.AlertIDKey, x.ID.String()),
			goerr.V("status", x.Status))
	}

	x.Level++
	x.Status = types.AlertStatusEscalated
	x.EscalateAt = x.CreatedAt.Add(time.Duration(x.Level+1) * window)
	x.MessageRefs = append(x.MessageRefs, ref)
	return nil
}

// AppendRef records the primary room post without changing the lifecycle
// state.
func (x *Alert) AppendRef(ref MessageRef) {
	x.MessageRefs = append(x.MessageRefs, ref)
}

// HasRef reports whether the alert has been announced in the given room.
func (x *Alert) HasRef(room types.RoomID) bool {
	for _, ref := range x.MessageRefs {
		if ref.Room == room {
			return true
		}
	}
	return false
}

func (x *Alert) Validate() error {
	if x.ID == types.EmptyAlertID {
		return goerr.New("alert ID is empty", goerr.T(errs.TagValidation))
	}
	if x.DedupKey == "" {
		return goerr.New("alert dedup key is empty",
			goerr.T(errs.TagValidation),
			goerr.TV(errs.AlertIDKey, x.ID.String()))
	}
	if err := x.Status.Validate(); err != nil {
		return goerr.Wrap(err, "invalid alert status",
			goerr.TV(errs.AlertIDKey, x.ID.String()))
	}
	if x.AckedBy != "" && x.Status != types.AlertStatusAcknowledged {
		return goerr.New("acked_by is set on non-acknowledged alert",
			goerr.T(errs.TagInvalidState),
			goerr.TV(errs.AlertIDKey, x.ID.String()),
			goerr.V("status", x.Status))
	}
	return nil
}
