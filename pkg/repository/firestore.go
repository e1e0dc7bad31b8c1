package repository

import (
	"context"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/howler-bot/howler/pkg/domain/interfaces"
	"github.com/howler-bot/howler/pkg/domain/model/alert"
	"github.com/howler-bot/howler/pkg/domain/model/errs"
	"github.com/howler-bot/howler/pkg/domain/types"
)

// Firestore is the replicated repository for the escalation deployment, where
// several bot instances may share one alert table. Firestore transactions
// provide the atomic read-modify-write across instances, so the engine never
// needs process-local locks.
type Firestore struct {
	db *firestore.Client
	eb *goerr.Builder
}

var _ interfaces.Repository = &Firestore{}

const collectionAlerts = "alerts"

func NewFirestore(ctx context.Context, projectID, databaseID string) (*Firestore, error) {
	db, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project_id", projectID),
			goerr.V("database_id", databaseID))
	}

	return &Firestore{
		db: db,
		eb: goerr.NewBuilder(
			goerr.TV(errs.RepositoryKey, "firestore"),
			goerr.V("project_id", projectID),
			goerr.V("database_id", databaseID),
		),
	}, nil
}

func (r *Firestore) Close() error {
	return r.db.Close()
}

var liveStatuses = []string{
	types.AlertStatusPending.String(),
	types.AlertStatusEscalated.String(),
}

// wrapStoreErr tags gRPC unavailability so the engine can treat it as
// retryable on the next tick.
func (r *Firestore) wrapStoreErr(err error, msg string, options ...goerr.Option) error {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
		options = append(options, goerr.T(errs.TagUnavailable))
	default:
		options = append(options, goerr.T(errs.TagDatabase))
	}
	return r.eb.Wrap(err, msg, options...)
}

func (r *Firestore) GetOrCreateAlert(ctx context.Context, candidate alert.Alert) (*alert.Alert, bool, error) {
	var result *alert.Alert
	var created bool

	err := r.db.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		result = nil
		created = false

		q := r.db.Collection(collectionAlerts).
			Where("DedupKey", "==", candidate.DedupKey.String()).
			Where("Status", "in", liveStatuses).
			Limit(1)

		doc, err := tx.Documents(q).Next()
		if err == nil {
			var existing alert.Alert
			if err := doc.DataTo(&existing); err != nil {
				return goerr.Wrap(err, "failed to convert data to alert", goerr.T(errs.TagInternal))
			}
			result = &existing
			return nil
		}
		if err != iterator.Done {
			return goerr.Wrap(err, "failed to query live alert")
		}

		if err := candidate.Validate(); err != nil {
			return goerr.Wrap(err, "invalid alert candidate")
		}

		created = true
		cp := candidate
		result = &cp
		return tx.Set(r.db.Collection(collectionAlerts).Doc(candidate.ID.String()), candidate)
	})
	if err != nil {
		return nil, false, r.wrapStoreErr(err, "get-or-create transaction failed",
			goerr.V("dedup_key", candidate.DedupKey))
	}

	return result, created, nil
}

func (r *Firestore) GetAlert(ctx context.Context, id types.AlertID) (*alert.Alert, error) {
	doc, err := r.db.Collection(collectionAlerts).Doc(id.String()).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, r.eb.New("alert not found",
				goerr.T(errs.TagNotFound),
				goerr.TV(errs.AlertIDKey, id.String()))
		}
		return nil, r.wrapStoreErr(err, "failed to get alert",
			goerr.TV(errs.AlertIDKey, id.String()))
	}

	var a alert.Alert
	if err := doc.DataTo(&a); err != nil {
		return nil, r.eb.Wrap(err, "failed to convert data to alert",
			goerr.T(errs.TagInternal),
			goerr.TV(errs.AlertIDKey, id.String()))
	}
	return &a, nil
}

func (r *Firestore) UpdateAlert(ctx context.Context, id types.AlertID, mutate func(*alert.Alert) error) (*alert.Alert, error) {
	var updated *alert.Alert

	err := r.db.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		docRef := r.db.Collection(collectionAlerts).Doc(id.String())

		doc, err := tx.Get(docRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return goerr.New("alert not found",
					goerr.T(errs.TagNotFound),
					goerr.TV(errs.AlertIDKey, id.String()))
			}
			return goerr.Wrap(err, "failed to get alert in transaction")
		}

		var a alert.Alert
		if err := doc.DataTo(&a); err != nil {
			return goerr.Wrap(err, "failed to convert data to alert", goerr.T(errs.TagInternal))
		}

		if err := mutate(&a); err != nil {
			return err
		}
		if err := a.Validate(); err != nil {
			return goerr.Wrap(err, "mutated alert is invalid")
		}

		updated = &a
		return tx.Set(docRef, a)
	})
	if err != nil {
		// Mutator and not_found errors pass through untouched; only raw
		// backend failures get the store tags.
		if goerr.HasTag(err, errs.TagNotFound) || goerr.HasTag(err, errs.TagInvalidState) || goerr.HasTag(err, errs.TagValidation) {
			return nil, err
		}
		return nil, r.wrapStoreErr(err, "update transaction failed",
			goerr.TV(errs.AlertIDKey, id.String()))
	}

	return updated, nil
}

func (r *Firestore) ListDueAlerts(ctx context.Context, now time.Time) (alert.Alerts, error) {
	iter := r.db.Collection(collectionAlerts).
		Where("Status", "in", liveStatuses).
		Where("EscalateAt", "<=", now).
		Documents(ctx)

	alerts, err := r.collectAlerts(iter)
	if err != nil {
		return nil, r.wrapStoreErr(err, "failed to list due alerts", goerr.V("now", now))
	}
	return alerts, nil
}

func (r *Firestore) ListLiveAlerts(ctx context.Context) (alert.Alerts, error) {
	iter := r.db.Collection(collectionAlerts).
		Where("Status", "in", liveStatuses).
		Documents(ctx)

	alerts, err := r.collectAlerts(iter)
	if err != nil {
		return nil, r.wrapStoreErr(err, "failed to list live alerts")
	}
	return alerts, nil
}

func (r *Firestore) FindAlertByMessageRef(ctx context.Context, room types.RoomID, eventID types.EventID) (*alert.Alert, error) {
	iter := r.db.Collection(collectionAlerts).
		Where("MessageRefs", "array-contains", alert.MessageRef{Room: room, EventID: eventID}).
		Limit(1).
		Documents(ctx)

	doc, err := iter.Next()
	if err != nil {
		if err == iterator.Done {
			return nil, r.eb.New("no alert for message ref",
				goerr.T(errs.TagNotFound),
				goerr.V("room", room),
				goerr.V("event_id", eventID))
		}
		return nil, r.wrapStoreErr(err, "failed to find alert by message ref",
			goerr.V("room", room),
			goerr.V("event_id", eventID))
	}

	var a alert.Alert
	if err := doc.DataTo(&a); err != nil {
		return nil, r.eb.Wrap(err, "failed to convert data to alert", goerr.T(errs.TagInternal))
	}
	return &a, nil
}

// collectAlerts drains the iterator and sorts by creation time, avoiding a
// composite index requirement on the query itself.
func (r *Firestore) collectAlerts(iter *firestore.DocumentIterator) (alert.Alerts, error) {
	var alerts alert.Alerts
	for {
		doc, err := iter.Next()
		if err != nil {
			if err == iterator.Done {
				break
			}
			return nil, err
		}

		var a alert.Alert
		if err := doc.DataTo(&a); err != nil {
			return nil, goerr.Wrap(err, "failed to convert data to alert", goerr.T(errs.TagInternal))
		}
		alerts = append(alerts, &a)
	}

	sort.Slice(alerts, func(i, j int) bool {
		return alerts[i].CreatedAt.Before(alerts[j].CreatedAt)
	})
	return alerts, nil
}
