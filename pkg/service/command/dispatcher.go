package command

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/howler-bot/howler/pkg/domain/interfaces"
	"github.com/howler-bot/howler/pkg/domain/model/alert"
	"github.com/howler-bot/howler/pkg/domain/model/chat"
	"github.com/howler-bot/howler/pkg/domain/model/errs"
	"github.com/howler-bot/howler/pkg/domain/types"
	"github.com/howler-bot/howler/pkg/utils/clock"
	"github.com/howler-bot/howler/pkg/utils/logging"
)

// Engine is the slice of the lifecycle engine the interpreter needs.
type Engine interface {
	Acknowledge(ctx context.Context, room types.RoomID, eventID types.EventID, actor string) (*alert.Alert, error)
	AcknowledgeByID(ctx context.Context, id types.AlertID, actor string) (*alert.Alert, error)
	ResolveByID(ctx context.Context, id types.AlertID) (*alert.Alert, error)
	ListLive(ctx context.Context) (alert.Alerts, error)
}

// Dispatcher consumes the inbound event stream and turns acknowledgement
// shaped events into engine calls. Everything else in the stream is general
// chat traffic and gets dropped without comment.
type Dispatcher struct {
	engine      Engine
	notifier    interfaces.Notifier
	parser      *Parser
	ackReaction string
}

type Option func(*Dispatcher)

func WithAckReaction(key string) Option {
	return func(d *Dispatcher) {
		d.ackReaction = key
	}
}

func WithBotName(name string) Option {
	return func(d *Dispatcher) {
		d.parser = NewParser(name)
	}
}

func NewDispatcher(engine Engine, notifier interfaces.Notifier, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		engine:      engine,
		notifier:    notifier,
		parser:      NewParser(DefaultBotName),
		ackReaction: "✅",
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run drains the event stream until ctx is cancelled or the notifier closes
// the channel.
func (x *Dispatcher) Run(ctx context.Context) error {
	logger := logging.From(ctx)
	logger.Info("command interpreter started", "ack_reaction", x.ackReaction)

	events := x.notifier.Events()
	for {
		select {
		case <-ctx.Done():
			logger.Info("command interpreter stopped")
			return ctx.Err()

		case ev, ok := <-events:
			if !ok {
				logger.Info("inbound event stream closed")
				return nil
			}
			x.Handle(ctx, ev)
		}
	}
}

// Handle processes one inbound event. It never returns an error: failures
// are logged, irrelevant events ignored.
func (x *Dispatcher) Handle(ctx context.Context, ev chat.Inbound) {
	if ev.IsReaction() {
		x.handleReaction(ctx, ev)
		return
	}
	x.handleMessage(ctx, ev)
}

func (x *Dispatcher) handleReaction(ctx context.Context, ev chat.Inbound) {
	if ev.Reaction != x.ackReaction {
		return
	}

	// A nil record means the reaction targeted a message we did not post;
	// that is normal room traffic.
	if _, err := x.engine.Acknowledge(ctx, ev.Room, ev.ReactsTo, ev.Sender); err != nil {
		errs.Handle(ctx, goerr.Wrap(err, "failed to acknowledge by reaction",
			goerr.V("room", ev.Room),
			goerr.V("event_id", ev.ReactsTo)))
	}
}

func (x *Dispatcher) handleMessage(ctx context.Context, ev chat.Inbound) {
	cmd, addressed, err := x.parser.Parse(ev.Body)
	if !addressed {
		return
	}
	if err != nil {
		x.reply(ctx, ev.Room, x.parser.Usage())
		return
	}

	switch cmd.Kind {
	case KindAck:
		x.runAck(ctx, ev, cmd.AlertID)

	case KindResolve:
		x.runResolve(ctx, ev, cmd.AlertID)

	case KindPending:
		x.runPending(ctx, ev)

	case KindHelp:
		x.reply(ctx, ev.Room, x.parser.Usage())
	}
}

func (x *Dispatcher) runAck(ctx context.Context, ev chat.Inbound, id types.AlertID) {
	acked, err := x.engine.AcknowledgeByID(ctx, id, ev.Sender)
	if err != nil {
		if errs.IsNotFound(err) {
			x.reply(ctx, ev.Room, fmt.Sprintf("No such alert: %s", id))
			return
		}
		errs.Handle(ctx, goerr.Wrap(err, "failed to acknowledge by command",
			goerr.TV(errs.AlertIDKey, id.String())))
		x.reply(ctx, ev.Room, "Something went wrong, try again later")
		return
	}

	// The engine already broadcast the acknowledgement to every room that
	// saw the alert; only report the no-op case here.
	if acked.AckedBy != ev.Sender {
		x.reply(ctx, ev.Room, fmt.Sprintf("%s was already closed (%s)", id, acked.Status))
	}
}

func (x *Dispatcher) runResolve(ctx context.Context, ev chat.Inbound, id types.AlertID) {
	if _, err := x.engine.ResolveByID(ctx, id); err != nil {
		if errs.IsNotFound(err) {
			x.reply(ctx, ev.Room, fmt.Sprintf("No such alert: %s", id))
			return
		}
		errs.Handle(ctx, goerr.Wrap(err, "failed to resolve by command",
			goerr.TV(errs.AlertIDKey, id.String())))
		x.reply(ctx, ev.Room, "Something went wrong, try again later")
	}
}

func (x *Dispatcher) runPending(ctx context.Context, ev chat.Inbound) {
	live, err := x.engine.ListLive(ctx)
	if err != nil {
		errs.Handle(ctx, goerr.Wrap(err, "failed to list live alerts"))
		x.reply(ctx, ev.Room, "Something went wrong, try again later")
		return
	}

	if len(live) == 0 {
		x.reply(ctx, ev.Room, "No outstanding alerts 🎉")
		return
	}

	now := clock.Now(ctx)
	lines := make([]string, 0, len(live)+1)
	lines = append(lines, fmt.Sprintf("%d outstanding alert(s):", len(live)))
	for _, a := range live {
		lines = append(lines, fmt.Sprintf("  %s %s [%s] %s (age %s, level %d)",
			a.Status.Label(), a.ID, a.Schema, a.Title,
			now.Sub(a.CreatedAt).Truncate(time.Second), a.Level))
	}
	x.reply(ctx, ev.Room, strings.Join(lines, "\n"))
}

func (x *Dispatcher) reply(ctx context.Context, room types.RoomID, text string) {
	if _, err := x.notifier.PostMessage(ctx, room, text); err != nil {
		errs.Handle(ctx, goerr.Wrap(err, "failed to reply",
			goerr.T(errs.TagExternal),
			goerr.V("room", room)))
	}
}
