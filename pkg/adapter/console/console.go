package console

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/m-mizutani/goerr/v2"

	"github.com/howler-bot/howler/pkg/domain/interfaces"
	"github.com/howler-bot/howler/pkg/domain/model/alert"
	"github.com/howler-bot/howler/pkg/domain/model/chat"
	"github.com/howler-bot/howler/pkg/domain/model/errs"
	"github.com/howler-bot/howler/pkg/domain/types"
)

// Notifier writes messages to a local writer instead of a chat federation.
// It serves dry runs and local development: alerts still flow through the
// full lifecycle, but nothing leaves the process and no inbound events ever
// arrive, so acknowledgement only happens through the API.
type Notifier struct {
	mu     sync.Mutex
	w      io.Writer
	seq    int
	events chan chat.Inbound
}

var _ interfaces.Notifier = &Notifier{}

func New(w io.Writer) *Notifier {
	if w == nil {
		w = os.Stdout
	}
	return &Notifier{
		w:      w,
		events: make(chan chat.Inbound),
	}
}

func (x *Notifier) PostMessage(ctx context.Context, room types.RoomID, text string) (*alert.MessageRef, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.seq++
	if _, err := fmt.Fprintf(x.w, "[%s] %s\n", room, text); err != nil {
		return nil, goerr.Wrap(err, "failed to write message",
			goerr.T(errs.TagExternal),
			goerr.V("room", room))
	}

	return &alert.MessageRef{
		Room:    room,
		EventID: types.EventID(fmt.Sprintf("$console-%d", x.seq)),
	}, nil
}

func (x *Notifier) Events() <-chan chat.Inbound {
	return x.events
}

// Run blocks until ctx is cancelled; the console produces no inbound events.
// The event channel is closed on return so the command interpreter stops too.
func (x *Notifier) Run(ctx context.Context) error {
	defer close(x.events)
	<-ctx.Done()
	return ctx.Err()
}
