package command_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/howler-bot/howler/pkg/domain/interfaces"
	"github.com/howler-bot/howler/pkg/domain/model/alert"
	"github.com/howler-bot/howler/pkg/domain/model/chat"
	"github.com/howler-bot/howler/pkg/domain/types"
	"github.com/howler-bot/howler/pkg/repository"
	"github.com/howler-bot/howler/pkg/service/command"
	"github.com/howler-bot/howler/pkg/service/escalation"
)

const testRoom = types.RoomID("!alerts:example.org")

type recordingNotifier struct {
	mu     sync.Mutex
	posts  []string
	rooms  []types.RoomID
	seq    int
	events chan chat.Inbound
}

var _ interfaces.Notifier = &recordingNotifier{}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{events: make(chan chat.Inbound, 8)}
}

func (x *recordingNotifier) PostMessage(ctx context.Context, room types.RoomID, text string) (*alert.MessageRef, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.seq++
	x.posts = append(x.posts, text)
	x.rooms = append(x.rooms, room)
	return &alert.MessageRef{
		Room:    room,
		EventID: types.EventID(fmt.Sprintf("$ev-%d", x.seq)),
	}, nil
}

func (x *recordingNotifier) Events() <-chan chat.Inbound {
	return x.events
}

func (x *recordingNotifier) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (x *recordingNotifier) allPosts() []string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return append([]string(nil), x.posts...)
}

func newTestSetup(t *testing.T) (*escalation.Engine, *recordingNotifier, *command.Dispatcher) {
	notifier := newRecordingNotifier()
	engine, err := escalation.New(repository.NewMemory(), notifier, escalation.Config{
		Rooms: []types.RoomID{testRoom},
	})
	gt.NoError(t, err).Required()

	dispatcher := command.NewDispatcher(engine, notifier)
	return engine, notifier, dispatcher
}

func ingestTestAlert(t *testing.T, engine *escalation.Engine) *alert.Alert {
	a, err := engine.Ingest(t.Context(), alert.Event{
		Schema:      "grafana",
		Fingerprint: "fp-1",
		Title:       "db-01 disk usage over 90%",
	})
	gt.NoError(t, err).Required()
	return a
}

func TestAckByReaction(t *testing.T) {
	engine, notifier, dispatcher := newTestSetup(t)
	ctx := t.Context()
	a := ingestTestAlert(t, engine)

	dispatcher.Handle(ctx, chat.Inbound{
		Room:     testRoom,
		EventID:  "$reaction-1",
		Sender:   "@alice:example.org",
		ReactsTo: a.MessageRefs[0].EventID,
		Reaction: "✅",
	})

	got, err := engine.AcknowledgeByID(ctx, a.ID, "@bob:example.org")
	gt.NoError(t, err).Required()
	gt.Value(t, got.Status).Equal(types.AlertStatusAcknowledged)
	gt.Value(t, got.AckedBy).Equal("@alice:example.org")

	// Acknowledgement notice went to the posting room.
	found := false
	for _, text := range notifier.allPosts() {
		if strings.Contains(text, "acknowledged by @alice:example.org") {
			found = true
		}
	}
	gt.True(t, found)
}

func TestIgnoreOtherReactions(t *testing.T) {
	engine, _, dispatcher := newTestSetup(t)
	ctx := t.Context()
	a := ingestTestAlert(t, engine)

	dispatcher.Handle(ctx, chat.Inbound{
		Room:     testRoom,
		EventID:  "$reaction-1",
		Sender:   "@alice:example.org",
		ReactsTo: a.MessageRefs[0].EventID,
		Reaction: "👀",
	})

	live, err := engine.ListLive(ctx)
	gt.NoError(t, err).Required()
	gt.Array(t, live).Length(1)
}

func TestAckByCommand(t *testing.T) {
	engine, _, dispatcher := newTestSetup(t)
	ctx := t.Context()
	a := ingestTestAlert(t, engine)

	dispatcher.Handle(ctx, chat.Inbound{
		Room:    testRoom,
		EventID: "$msg-1",
		Sender:  "@alice:example.org",
		Body:    "howler ack " + a.ID.String(),
	})

	live, err := engine.ListLive(ctx)
	gt.NoError(t, err).Required()
	gt.Array(t, live).Length(0)
}

func TestAckUnknownID(t *testing.T) {
	_, notifier, dispatcher := newTestSetup(t)

	dispatcher.Handle(t.Context(), chat.Inbound{
		Room:    testRoom,
		EventID: "$msg-1",
		Sender:  "@alice:example.org",
		Body:    "howler ack no-such-id",
	})

	posts := notifier.allPosts()
	gt.Array(t, posts).Length(1).Required()
	gt.S(t, posts[0]).Contains("No such alert")
}

func TestPendingCommand(t *testing.T) {
	engine, notifier, dispatcher := newTestSetup(t)
	ctx := t.Context()
	a := ingestTestAlert(t, engine)

	dispatcher.Handle(ctx, chat.Inbound{
		Room:    testRoom,
		EventID: "$msg-1",
		Sender:  "@alice:example.org",
		Body:    "howler pending",
	})

	posts := notifier.allPosts()
	gt.Array(t, posts).Longer(1).Required()
	last := posts[len(posts)-1]
	gt.S(t, last).Contains("1 outstanding alert")
	gt.S(t, last).Contains(a.ID.String())
}

func TestHelpAndMalformed(t *testing.T) {
	_, notifier, dispatcher := newTestSetup(t)
	ctx := t.Context()

	dispatcher.Handle(ctx, chat.Inbound{
		Room: testRoom, EventID: "$msg-1", Sender: "@alice:example.org",
		Body: "howler help",
	})
	dispatcher.Handle(ctx, chat.Inbound{
		Room: testRoom, EventID: "$msg-2", Sender: "@alice:example.org",
		Body: "howler frobnicate",
	})

	posts := notifier.allPosts()
	gt.Array(t, posts).Length(2).Required()
	for _, p := range posts {
		gt.S(t, p).Contains("Commands:")
	}
}

func TestGeneralTrafficIgnored(t *testing.T) {
	engine, notifier, dispatcher := newTestSetup(t)
	ctx := t.Context()
	ingestTestAlert(t, engine)
	before := len(notifier.allPosts())

	dispatcher.Handle(ctx, chat.Inbound{
		Room: testRoom, EventID: "$msg-1", Sender: "@alice:example.org",
		Body: "anyone seen db-01 acting up?",
	})

	gt.Value(t, len(notifier.allPosts())).Equal(before)
}

func TestRunStopsOnClose(t *testing.T) {
	_, notifier, dispatcher := newTestSetup(t)

	done := make(chan error, 1)
	go func() {
		done <- dispatcher.Run(context.Background())
	}()

	close(notifier.events)

	select {
	case err := <-done:
		gt.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop on closed event stream")
	}
}
