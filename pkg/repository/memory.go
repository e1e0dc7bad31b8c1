package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/howler-bot/howler/pkg/domain/interfaces"
	"github.com/howler-bot/howler/pkg/domain/model/alert"
	"github.com/howler-bot/howler/pkg/domain/model/errs"
	"github.com/howler-bot/howler/pkg/domain/types"
)

// Memory is an in-process repository for tests and development. A single
// mutex serializes read-modify-write cycles, which satisfies the atomicity
// contract within one process.
type Memory struct {
	mu     sync.RWMutex
	alerts map[types.AlertID]*alert.Alert
	live   map[types.DedupKey]types.AlertID

	eb *goerr.Builder
}

var _ interfaces.Repository = &Memory{}

func NewMemory() *Memory {
	return &Memory{
		alerts: make(map[types.AlertID]*alert.Alert),
		live:   make(map[types.DedupKey]types.AlertID),
		eb:     goerr.NewBuilder(goerr.TV(errs.RepositoryKey, "memory")),
	}
}

func (r *Memory) GetOrCreateAlert(ctx context.Context, candidate alert.Alert) (*alert.Alert, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.live[candidate.DedupKey]; ok {
		if existing, ok := r.alerts[id]; ok && existing.Live() {
			cp := *existing
			return &cp, false, nil
		}
	}

	if err := candidate.Validate(); err != nil {
		return nil, false, r.eb.Wrap(err, "invalid alert candidate")
	}

	// Store a copy to prevent external modification
	cp := candidate
	r.alerts[cp.ID] = &cp
	r.live[cp.DedupKey] = cp.ID

	ret := cp
	return &ret, true, nil
}

func (r *Memory) GetAlert(ctx context.Context, id types.AlertID) (*alert.Alert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.alerts[id]
	if !ok {
		return nil, r.eb.New("alert not found",
			goerr.T(errs.TagNotFound),
			goerr.TV(errs.AlertIDKey, id.String()))
	}

	cp := *a
	return &cp, nil
}

func (r *Memory) UpdateAlert(ctx context.Context, id types.AlertID, mutate func(*alert.Alert) error) (*alert.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.alerts[id]
	if !ok {
		return nil, r.eb.New("alert not found",
			goerr.T(errs.TagNotFound),
			goerr.TV(errs.AlertIDKey, id.String()))
	}

	cp := *current
	cp.MessageRefs = append([]alert.MessageRef(nil), current.MessageRefs...)
	if err := mutate(&cp); err != nil {
		return nil, err
	}
	if err := cp.Validate(); err != nil {
		return nil, r.eb.Wrap(err, "mutated alert is invalid")
	}

	r.alerts[id] = &cp
	if cp.Live() {
		r.live[cp.DedupKey] = id
	} else if r.live[cp.DedupKey] == id {
		delete(r.live, cp.DedupKey)
	}

	ret := cp
	return &ret, nil
}

func (r *Memory) ListDueAlerts(ctx context.Context, now time.Time) (alert.Alerts, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var due alert.Alerts
	for _, a := range r.alerts {
		if a.Live() && !a.EscalateAt.After(now) {
			cp := *a
			due = append(due, &cp)
		}
	}

	sort.Slice(due, func(i, j int) bool {
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})
	return due, nil
}

func (r *Memory) ListLiveAlerts(ctx context.Context) (alert.Alerts, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var alive alert.Alerts
	for _, a := range r.alerts {
		if a.Live() {
			cp := *a
			alive = append(alive, &cp)
		}
	}

	sort.Slice(alive, func(i, j int) bool {
		return alive[i].CreatedAt.Before(alive[j].CreatedAt)
	})
	return alive, nil
}

func (r *Memory) FindAlertByMessageRef(ctx context.Context, room types.RoomID, eventID types.EventID) (*alert.Alert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, a := range r.alerts {
		for _, ref := range a.MessageRefs {
			if ref.Room == room && ref.EventID == eventID {
				cp := *a
				return &cp, nil
			}
		}
	}

	return nil, r.eb.New("no alert for message ref",
		goerr.T(errs.TagNotFound),
		goerr.V("room", room),
		goerr.V("event_id", eventID))
}

func (r *Memory) Close() error {
	return nil
}
