package matrix

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/howler-bot/howler/pkg/domain/interfaces"
	"github.com/howler-bot/howler/pkg/domain/model/alert"
	"github.com/howler-bot/howler/pkg/domain/model/chat"
	"github.com/howler-bot/howler/pkg/domain/model/errs"
	"github.com/howler-bot/howler/pkg/domain/types"
	"github.com/howler-bot/howler/pkg/utils/logging"
)

// Config holds the Matrix account settings. Either AccessToken or Password
// must be set; with a password the adapter logs in on startup.
type Config struct {
	HomeserverURL string
	UserID        string
	AccessToken   string `masq:"secret"`
	Password      string `masq:"secret"`
	DeviceName    string
}

func (x Config) Validate() error {
	if x.HomeserverURL == "" {
		return goerr.New("matrix homeserver URL is required", goerr.T(errs.TagValidation))
	}
	if x.UserID == "" {
		return goerr.New("matrix user ID is required", goerr.T(errs.TagValidation))
	}
	if x.AccessToken == "" && x.Password == "" {
		return goerr.New("matrix access token or password is required", goerr.T(errs.TagValidation))
	}
	return nil
}

// Notifier delivers alert messages over the Matrix federation and surfaces
// room messages and reactions as inbound events.
type Notifier struct {
	client  *mautrix.Client
	rooms   []types.RoomID
	events  chan chat.Inbound
	started time.Time
}

var _ interfaces.Notifier = &Notifier{}

const eventBuffer = 64

func New(ctx context.Context, cfg Config, rooms []types.RoomID) (*Notifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, err := mautrix.NewClient(cfg.HomeserverURL, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create matrix client",
			goerr.T(errs.TagExternal),
			goerr.V("homeserver", cfg.HomeserverURL))
	}

	if cfg.AccessToken == "" {
		deviceName := cfg.DeviceName
		if deviceName == "" {
			deviceName = "howler"
		}
		if _, err := client.Login(ctx, &mautrix.ReqLogin{
			Type: mautrix.AuthTypePassword,
			Identifier: mautrix.UserIdentifier{
				Type: mautrix.IdentifierTypeUser,
				User: cfg.UserID,
			},
			Password:                 cfg.Password,
			InitialDeviceDisplayName: deviceName,
			StoreCredentials:         true,
		}); err != nil {
			return nil, goerr.Wrap(err, "failed to login to matrix",
				goerr.T(errs.TagExternal),
				goerr.V("homeserver", cfg.HomeserverURL),
				goerr.V("user_id", cfg.UserID))
		}
	}

	x := &Notifier{
		client:  client,
		rooms:   rooms,
		events:  make(chan chat.Inbound, eventBuffer),
		started: time.Now(),
	}

	syncer, ok := client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return nil, goerr.New("unexpected matrix syncer type", goerr.T(errs.TagInternal))
	}
	syncer.OnEventType(event.EventMessage, x.onMessage)
	syncer.OnEventType(event.EventReaction, x.onReaction)

	return x, nil
}

func (x *Notifier) PostMessage(ctx context.Context, room types.RoomID, text string) (*alert.MessageRef, error) {
	resp, err := x.client.SendText(ctx, id.RoomID(room.String()), text)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to send matrix message",
			goerr.T(errs.TagExternal),
			goerr.V("room", room))
	}

	return &alert.MessageRef{
		Room:    room,
		EventID: types.EventID(resp.EventID.String()),
	}, nil
}

func (x *Notifier) Events() <-chan chat.Inbound {
	return x.events
}

// Run joins the configured rooms and drives the sync loop until ctx is
// cancelled. The event channel is closed on return.
func (x *Notifier) Run(ctx context.Context) error {
	defer close(x.events)

	logger := logging.From(ctx)
	for _, room := range x.rooms {
		if _, err := x.client.JoinRoomByID(ctx, id.RoomID(room.String())); err != nil {
			return goerr.Wrap(err, "failed to join room",
				goerr.T(errs.TagExternal),
				goerr.V("room", room))
		}
		logger.Info("joined room", "room", room)
	}

	logger.Info("matrix sync started", "user_id", x.client.UserID)
	if err := x.client.SyncWithContext(ctx); err != nil && ctx.Err() == nil {
		return goerr.Wrap(err, "matrix sync failed", goerr.T(errs.TagExternal))
	}
	return ctx.Err()
}

// relevant filters out our own messages, events from unwatched rooms, and
// anything that happened before this process started (the initial sync
// replays history).
func (x *Notifier) relevant(evt *event.Event) bool {
	if evt.Sender == x.client.UserID {
		return false
	}
	if time.UnixMilli(evt.Timestamp).Before(x.started) {
		return false
	}
	for _, room := range x.rooms {
		if evt.RoomID == id.RoomID(room.String()) {
			return true
		}
	}
	return false
}

func (x *Notifier) onMessage(ctx context.Context, evt *event.Event) {
	if !x.relevant(evt) {
		return
	}

	content := evt.Content.AsMessage()
	if content == nil || content.MsgType != event.MsgText {
		return
	}

	x.deliver(ctx, chat.Inbound{
		Room:    types.RoomID(evt.RoomID.String()),
		EventID: types.EventID(evt.ID.String()),
		Sender:  evt.Sender.String(),
		Body:    content.Body,
	})
}

func (x *Notifier) onReaction(ctx context.Context, evt *event.Event) {
	if !x.relevant(evt) {
		return
	}

	content := evt.Content.AsReaction()
	if content == nil {
		return
	}

	x.deliver(ctx, chat.Inbound{
		Room:     types.RoomID(evt.RoomID.String()),
		EventID:  types.EventID(evt.ID.String()),
		Sender:   evt.Sender.String(),
		ReactsTo: types.EventID(content.RelatesTo.EventID.String()),
		Reaction: content.RelatesTo.Key,
	})
}

// deliver hands the event to the interpreter without ever blocking the sync
// loop. A full buffer means the consumer is stuck; dropping with a log beats
// stalling the whole sync.
func (x *Notifier) deliver(ctx context.Context, ev chat.Inbound) {
	select {
	case x.events <- ev:
	default:
		logging.From(ctx).Warn("inbound event buffer full, dropping event",
			"room", ev.Room,
			"event_id", ev.EventID)
	}
}
