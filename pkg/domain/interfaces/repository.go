package interfaces

import (
	"context"
	"time"

	"github.com/howler-bot/howler/pkg/domain/model/alert"
	"github.com/howler-bot/howler/pkg/domain/types"
)

// Repository is the persistence contract of the alert lifecycle. It is the
// sole synchronization point between the escalation loop and the inbound
// event loop: UpdateAlert must serialize concurrent read-modify-write cycles
// on the same record, whatever the backing store is.
type Repository interface {
	// GetOrCreateAlert persists the candidate record unless a live record
	// (Pending or Escalated) with the same dedup key already exists. It
	// returns the authoritative record and whether it was newly created.
	GetOrCreateAlert(ctx context.Context, candidate alert.Alert) (*alert.Alert, bool, error)

	// GetAlert returns the record by ID. A miss yields a not_found tagged
	// error.
	GetAlert(ctx context.Context, id types.AlertID) (*alert.Alert, error)

	// UpdateAlert atomically reads the current record, applies mutate and
	// persists the result. If mutate returns an error nothing is written and
	// the error is returned as-is.
	UpdateAlert(ctx context.Context, id types.AlertID, mutate func(*alert.Alert) error) (*alert.Alert, error)

	// ListDueAlerts returns every live record whose escalation deadline has
	// passed at now.
	ListDueAlerts(ctx context.Context, now time.Time) (alert.Alerts, error)

	// ListLiveAlerts returns every Pending or Escalated record, ordered by
	// creation time.
	ListLiveAlerts(ctx context.Context) (alert.Alerts, error)

	// FindAlertByMessageRef resolves an inbound reaction to the record that
	// owns the reacted-to message. A miss yields a not_found tagged error.
	FindAlertByMessageRef(ctx context.Context, room types.RoomID, eventID types.EventID) (*alert.Alert, error)

	Close() error
}
