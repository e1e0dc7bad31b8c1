package escalation

import (
	"context"
	"fmt"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/howler-bot/howler/pkg/domain/interfaces"
	"github.com/howler-bot/howler/pkg/domain/model/alert"
	"github.com/howler-bot/howler/pkg/domain/model/errs"
	"github.com/howler-bot/howler/pkg/domain/types"
	"github.com/howler-bot/howler/pkg/utils/clock"
	"github.com/howler-bot/howler/pkg/utils/logging"
)

// Config is the escalation policy of one deployment. Rooms are consulted in
// order: the first room receives every new alert, the rest are escalation
// targets. With Enabled false the bot runs in ack-only mode: one room, no
// re-posting, reactions still mark acknowledgement.
type Config struct {
	Enabled        bool
	Window         time.Duration
	CheckFrequency time.Duration
	Rooms          []types.RoomID
}

func (x Config) Validate() error {
	if len(x.Rooms) == 0 {
		return goerr.New("at least one room is required", goerr.T(errs.TagValidation))
	}
	if x.Enabled {
		if len(x.Rooms) < 2 {
			return goerr.New("escalation requires at least one escalation room besides the primary",
				goerr.T(errs.TagValidation),
				goerr.V("rooms", x.Rooms))
		}
		if x.Window <= 0 {
			return goerr.New("escalation window must be positive",
				goerr.T(errs.TagValidation),
				goerr.V("window", x.Window))
		}
		if x.CheckFrequency <= 0 {
			return goerr.New("check frequency must be positive",
				goerr.T(errs.TagValidation),
				goerr.V("check_frequency", x.CheckFrequency))
		}
	}
	return nil
}

// MaxLevel is the highest escalation level an alert can reach: one hop per
// room after the primary.
func (x Config) MaxLevel() int {
	return len(x.Rooms) - 1
}

func (x Config) PrimaryRoom() types.RoomID {
	return x.Rooms[0]
}

// Engine owns the alert lifecycle: intake, escalation ticks and
// acknowledgement. It holds no alert state of its own; every operation is a
// read-modify-write through the repository, which serializes racing ticks and
// acks on the same record.
type Engine struct {
	repo     interfaces.Repository
	notifier interfaces.Notifier
	cfg      Config
}

func New(repo interfaces.Repository, notifier interfaces.Notifier, cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Engine{
		repo:     repo,
		notifier: notifier,
		cfg:      cfg,
	}, nil
}

func (x *Engine) Config() Config {
	return x.cfg
}

// Ingest handles one inbound alert event. Redelivery of a live alert is an
// idempotent no-op; a record that exists but was never announced (a previous
// post failed) is posted again, giving at-least-once delivery.
func (x *Engine) Ingest(ctx context.Context, ev alert.Event) (*alert.Alert, error) {
	logger := logging.From(ctx)

	candidate := alert.New(ctx, ev, x.cfg.Window)
	record, created, err := x.repo.GetOrCreateAlert(ctx, candidate)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get or create alert",
			goerr.V("dedup_key", candidate.DedupKey))
	}

	if !created {
		logger.Debug("duplicate alert ignored",
			"alert_id", record.ID,
			"dedup_key", record.DedupKey)
		if len(record.MessageRefs) > 0 {
			return record, nil
		}
		// fall through: the record exists but was never posted
	}

	ref, err := x.notifier.PostMessage(ctx, x.cfg.PrimaryRoom(), x.renderAlert(record))
	if err != nil {
		// The record stays without refs; the next delivery retries the post.
		return record, goerr.Wrap(err, "failed to post alert to primary room",
			goerr.T(errs.TagExternal),
			goerr.TV(errs.AlertIDKey, record.ID.String()),
			goerr.V("room", x.cfg.PrimaryRoom()))
	}

	updated, err := x.repo.UpdateAlert(ctx, record.ID, func(a *alert.Alert) error {
		a.AppendRef(*ref)
		return nil
	})
	if err != nil {
		return record, goerr.Wrap(err, "failed to record message ref",
			goerr.TV(errs.AlertIDKey, record.ID.String()))
	}

	logger.Info("alert posted",
		"alert_id", updated.ID,
		"room", ref.Room,
		"event_id", ref.EventID,
		"created", created)
	return updated, nil
}

// Tick escalates every due record by one level. Failures are isolated per
// record: a store or delivery error on one alert never blocks the others, and
// a failed post leaves the record untouched so the next tick retries it.
func (x *Engine) Tick(ctx context.Context, now time.Time) error {
	if !x.cfg.Enabled {
		return nil
	}

	due, err := x.repo.ListDueAlerts(ctx, now)
	if err != nil {
		return goerr.Wrap(err, "failed to list due alerts", goerr.V("now", now))
	}

	for _, a := range due {
		if err := x.escalateOne(ctx, a); err != nil {
			errs.Handle(ctx, err)
		}
	}
	return nil
}

func (x *Engine) escalateOne(ctx context.Context, a *alert.Alert) error {
	if a.Level >= x.cfg.MaxLevel() {
		// Fully escalated and still unacknowledged. Nothing left to do but
		// keep it outstanding.
		logging.From(ctx).Debug("alert at max escalation level",
			"alert_id", a.ID, "level", a.Level)
		return nil
	}

	room := x.cfg.Rooms[a.Level+1]
	ref, err := x.notifier.PostMessage(ctx, room, x.renderEscalation(ctx, a))
	if err != nil {
		return goerr.Wrap(err, "failed to post escalation",
			goerr.T(errs.TagExternal),
			goerr.TV(errs.AlertIDKey, a.ID.String()),
			goerr.V("room", room),
			goerr.V("level", a.Level+1))
	}

	updated, err := x.repo.UpdateAlert(ctx, a.ID, func(cur *alert.Alert) error {
		if !cur.Live() {
			// Acknowledged between the due query and the post. The extra
			// message is harmless; the record must not change.
			return goerr.New("alert closed during escalation",
				goerr.T(errs.TagInvalidState),
				goerr.TV(errs.AlertIDKey, cur.ID.String()))
		}
		return cur.Escalate(*ref, x.cfg.Window)
	})
	if err != nil {
		if goerr.HasTag(err, errs.TagInvalidState) {
			return nil
		}
		return goerr.Wrap(err, "failed to persist escalation",
			goerr.TV(errs.AlertIDKey, a.ID.String()))
	}

	logging.From(ctx).Info("alert escalated",
		"alert_id", updated.ID,
		"level", updated.Level,
		"room", room)
	return nil
}

// Acknowledge resolves a reaction or command on a posted message to its alert
// and closes it. Unknown messages are not ours to handle and yield (nil, nil).
// Acknowledging an already closed alert is an idempotent no-op.
func (x *Engine) Acknowledge(ctx context.Context, room types.RoomID, eventID types.EventID, actor string) (*alert.Alert, error) {
	found, err := x.repo.FindAlertByMessageRef(ctx, room, eventID)
	if err != nil {
		if errs.IsNotFound(err) {
			return nil, nil
		}
		return nil, goerr.Wrap(err, "failed to resolve message ref",
			goerr.V("room", room),
			goerr.V("event_id", eventID))
	}

	return x.AcknowledgeByID(ctx, found.ID, actor)
}

// AcknowledgeByID closes the alert by its ID, used by the textual ack
// command.
func (x *Engine) AcknowledgeByID(ctx context.Context, id types.AlertID, actor string) (*alert.Alert, error) {
	updated, err := x.repo.UpdateAlert(ctx, id, func(a *alert.Alert) error {
		if !a.Live() {
			return goerr.New("already closed",
				goerr.T(errs.TagInvalidState),
				goerr.TV(errs.AlertIDKey, a.ID.String()))
		}
		return a.Acknowledge(actor)
	})
	if err != nil {
		if goerr.HasTag(err, errs.TagInvalidState) {
			// Second ack is a no-op, not an error.
			return x.repo.GetAlert(ctx, id)
		}
		return nil, goerr.Wrap(err, "failed to acknowledge alert",
			goerr.TV(errs.AlertIDKey, id.String()))
	}

	logging.From(ctx).Info("alert acknowledged",
		"alert_id", updated.ID,
		"acked_by", actor)

	x.broadcastClosure(ctx, updated,
		fmt.Sprintf("✅ %s acknowledged by %s", updated.ID, actor))
	return updated, nil
}

// ResolveByID closes the alert without an acknowledging actor.
func (x *Engine) ResolveByID(ctx context.Context, id types.AlertID) (*alert.Alert, error) {
	updated, err := x.repo.UpdateAlert(ctx, id, func(a *alert.Alert) error {
		if !a.Live() {
			return goerr.New("already closed",
				goerr.T(errs.TagInvalidState),
				goerr.TV(errs.AlertIDKey, a.ID.String()))
		}
		return a.Resolve()
	})
	if err != nil {
		if goerr.HasTag(err, errs.TagInvalidState) {
			return x.repo.GetAlert(ctx, id)
		}
		return nil, goerr.Wrap(err, "failed to resolve alert",
			goerr.TV(errs.AlertIDKey, id.String()))
	}

	logging.From(ctx).Info("alert resolved", "alert_id", updated.ID)

	x.broadcastClosure(ctx, updated,
		fmt.Sprintf("🎉 %s resolved", updated.ID))
	return updated, nil
}

// ListLive returns all outstanding alerts for the pending command.
func (x *Engine) ListLive(ctx context.Context) (alert.Alerts, error) {
	return x.repo.ListLiveAlerts(ctx)
}

// broadcastClosure tells every room that already saw the alert that it is
// handled, so escalated rooms do not keep chasing a closed alert. Delivery
// failures are logged only; the state transition has already been persisted.
func (x *Engine) broadcastClosure(ctx context.Context, a *alert.Alert, text string) {
	seen := map[types.RoomID]bool{}
	for _, ref := range a.MessageRefs {
		if seen[ref.Room] {
			continue
		}
		seen[ref.Room] = true

		if _, err := x.notifier.PostMessage(ctx, ref.Room, text); err != nil {
			errs.Handle(ctx, goerr.Wrap(err, "failed to broadcast closure",
				goerr.T(errs.TagExternal),
				goerr.TV(errs.AlertIDKey, a.ID.String()),
				goerr.V("room", ref.Room)))
		}
	}
}

func (x *Engine) renderAlert(a *alert.Alert) string {
	return fmt.Sprintf("🔔 [%s] %s (id: %s)\nReact with %s or reply \"howler ack %s\" to acknowledge.",
		a.Schema, a.Title, a.ID, AckReaction, a.ID)
}

func (x *Engine) renderEscalation(ctx context.Context, a *alert.Alert) string {
	return fmt.Sprintf("📣 Unacknowledged for %s: [%s] %s (id: %s, level %d)",
		clock.Since(ctx, a.CreatedAt).Truncate(time.Second),
		a.Schema, a.Title, a.ID, a.Level+1)
}

// AckReaction is the reaction key that acknowledges an alert.
const AckReaction = "✅"
