package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/m-mizutani/goerr/v2"
	_ "github.com/mattn/go-sqlite3"

	"github.com/howler-bot/howler/pkg/domain/interfaces"
	"github.com/howler-bot/howler/pkg/domain/model/alert"
	"github.com/howler-bot/howler/pkg/domain/model/errs"
	"github.com/howler-bot/howler/pkg/domain/types"
)

// SQLite is the file-backed repository for the single-room ack deployment.
// Records are stored as a JSON document plus a few indexed columns for the
// queries the engine needs. Transactions provide the atomic read-modify-write
// the Repository contract requires.
type SQLite struct {
	db *sql.DB
	eb *goerr.Builder
}

var _ interfaces.Repository = &SQLite{}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS alerts (
	id TEXT PRIMARY KEY,
	dedup_key TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	escalate_at INTEGER NOT NULL,
	doc TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alerts_live ON alerts (dedup_key, status);
CREATE INDEX IF NOT EXISTS idx_alerts_due ON alerts (status, escalate_at);
CREATE TABLE IF NOT EXISTS message_refs (
	room TEXT NOT NULL,
	event_id TEXT NOT NULL,
	alert_id TEXT NOT NULL,
	PRIMARY KEY (room, event_id)
);
`

func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	// _txlock=immediate takes the write lock at BeginTx, so two concurrent
	// read-modify-write cycles on the same key serialize instead of the
	// loser failing with a snapshot conflict.
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open sqlite database",
			goerr.T(errs.TagDatabase), goerr.V("path", path))
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, goerr.Wrap(err, "failed to initialize sqlite schema",
			goerr.T(errs.TagDatabase), goerr.V("path", path))
	}

	return &SQLite{
		db: db,
		eb: goerr.NewBuilder(
			goerr.TV(errs.RepositoryKey, "sqlite"),
			goerr.V("path", path),
		),
	}, nil
}

func (r *SQLite) Close() error {
	return r.db.Close()
}

func liveStatusStrings() []any {
	return []any{
		types.AlertStatusPending.String(),
		types.AlertStatusEscalated.String(),
	}
}

func (r *SQLite) GetOrCreateAlert(ctx context.Context, candidate alert.Alert) (*alert.Alert, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, r.eb.Wrap(err, "failed to begin transaction", goerr.T(errs.TagDatabase))
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT doc FROM alerts WHERE dedup_key = ? AND status IN (?, ?) LIMIT 1`,
		append([]any{candidate.DedupKey.String()}, liveStatusStrings()...)...)

	var doc string
	switch err := row.Scan(&doc); err {
	case nil:
		existing, err := decodeAlertDoc(doc)
		if err != nil {
			return nil, false, r.eb.Wrap(err, "broken alert document")
		}
		return existing, false, nil
	case sql.ErrNoRows:
		// fall through to insert
	default:
		return nil, false, r.eb.Wrap(err, "failed to query live alert", goerr.T(errs.TagDatabase))
	}

	if err := candidate.Validate(); err != nil {
		return nil, false, r.eb.Wrap(err, "invalid alert candidate")
	}

	if err := r.writeAlert(ctx, tx, &candidate, true); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, r.eb.Wrap(err, "failed to commit", goerr.T(errs.TagDatabase))
	}

	cp := candidate
	return &cp, true, nil
}

func (r *SQLite) GetAlert(ctx context.Context, id types.AlertID) (*alert.Alert, error) {
	row := r.db.QueryRowContext(ctx, `SELECT doc FROM alerts WHERE id = ?`, id.String())

	var doc string
	if err := row.Scan(&doc); err != nil {
		if err == sql.ErrNoRows {
			return nil, r.eb.New("alert not found",
				goerr.T(errs.TagNotFound),
				goerr.TV(errs.AlertIDKey, id.String()))
		}
		return nil, r.eb.Wrap(err, "failed to get alert",
			goerr.T(errs.TagDatabase),
			goerr.TV(errs.AlertIDKey, id.String()))
	}

	return decodeAlertDoc(doc)
}

func (r *SQLite) UpdateAlert(ctx context.Context, id types.AlertID, mutate func(*alert.Alert) error) (*alert.Alert, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, r.eb.Wrap(err, "failed to begin transaction", goerr.T(errs.TagDatabase))
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT doc FROM alerts WHERE id = ?`, id.String())
	var doc string
	if err := row.Scan(&doc); err != nil {
		if err == sql.ErrNoRows {
			return nil, r.eb.New("alert not found",
				goerr.T(errs.TagNotFound),
				goerr.TV(errs.AlertIDKey, id.String()))
		}
		return nil, r.eb.Wrap(err, "failed to get alert for update",
			goerr.T(errs.TagDatabase),
			goerr.TV(errs.AlertIDKey, id.String()))
	}

	current, err := decodeAlertDoc(doc)
	if err != nil {
		return nil, r.eb.Wrap(err, "broken alert document",
			goerr.TV(errs.AlertIDKey, id.String()))
	}

	if err := mutate(current); err != nil {
		return nil, err
	}
	if err := current.Validate(); err != nil {
		return nil, r.eb.Wrap(err, "mutated alert is invalid")
	}

	if err := r.writeAlert(ctx, tx, current, false); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, r.eb.Wrap(err, "failed to commit", goerr.T(errs.TagDatabase))
	}

	cp := *current
	return &cp, nil
}

func (r *SQLite) ListDueAlerts(ctx context.Context, now time.Time) (alert.Alerts, error) {
	args := append(liveStatusStrings(), now.UnixNano())
	rows, err := r.db.QueryContext(ctx,
		`SELECT doc FROM alerts WHERE status IN (?, ?) AND escalate_at <= ? ORDER BY created_at`,
		args...)
	if err != nil {
		return nil, r.eb.Wrap(err, "failed to list due alerts", goerr.T(errs.TagDatabase))
	}
	defer func() { _ = rows.Close() }()

	return scanAlertDocs(rows)
}

func (r *SQLite) ListLiveAlerts(ctx context.Context) (alert.Alerts, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT doc FROM alerts WHERE status IN (?, ?) ORDER BY created_at`,
		liveStatusStrings()...)
	if err != nil {
		return nil, r.eb.Wrap(err, "failed to list live alerts", goerr.T(errs.TagDatabase))
	}
	defer func() { _ = rows.Close() }()

	return scanAlertDocs(rows)
}

func (r *SQLite) FindAlertByMessageRef(ctx context.Context, room types.RoomID, eventID types.EventID) (*alert.Alert, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT a.doc FROM alerts a JOIN message_refs m ON a.id = m.alert_id WHERE m.room = ? AND m.event_id = ?`,
		room.String(), eventID.String())

	var doc string
	if err := row.Scan(&doc); err != nil {
		if err == sql.ErrNoRows {
			return nil, r.eb.New("no alert for message ref",
				goerr.T(errs.TagNotFound),
				goerr.V("room", room),
				goerr.V("event_id", eventID))
		}
		return nil, r.eb.Wrap(err, "failed to find alert by message ref",
			goerr.T(errs.TagDatabase))
	}

	return decodeAlertDoc(doc)
}

// writeAlert upserts the document row and keeps the message ref index in
// sync. Must be called inside a transaction.
func (r *SQLite) writeAlert(ctx context.Context, tx *sql.Tx, a *alert.Alert, created bool) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return r.eb.Wrap(err, "failed to encode alert",
			goerr.TV(errs.AlertIDKey, a.ID.String()))
	}

	query := `UPDATE alerts SET dedup_key = ?, status = ?, created_at = ?, escalate_at = ?, doc = ? WHERE id = ?`
	if created {
		query = `INSERT INTO alerts (dedup_key, status, created_at, escalate_at, doc, id) VALUES (?, ?, ?, ?, ?, ?)`
	}
	if _, err := tx.ExecContext(ctx, query,
		a.DedupKey.String(), a.Status.String(), a.CreatedAt.UnixNano(), a.EscalateAt.UnixNano(),
		string(raw), a.ID.String()); err != nil {
		return r.eb.Wrap(err, "failed to write alert",
			goerr.T(errs.TagDatabase),
			goerr.TV(errs.AlertIDKey, a.ID.String()))
	}

	for _, ref := range a.MessageRefs {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO message_refs (room, event_id, alert_id) VALUES (?, ?, ?)`,
			ref.Room.String(), ref.EventID.String(), a.ID.String()); err != nil {
			return r.eb.Wrap(err, "failed to write message ref",
				goerr.T(errs.TagDatabase),
				goerr.TV(errs.AlertIDKey, a.ID.String()))
		}
	}

	return nil
}

func decodeAlertDoc(doc string) (*alert.Alert, error) {
	var a alert.Alert
	if err := json.Unmarshal([]byte(doc), &a); err != nil {
		return nil, goerr.Wrap(err, "failed to decode alert document", goerr.T(errs.TagInternal))
	}
	return &a, nil
}

func scanAlertDocs(rows *sql.Rows) (alert.Alerts, error) {
	var alerts alert.Alerts
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, goerr.Wrap(err, "failed to scan alert row", goerr.T(errs.TagDatabase))
		}
		a, err := decodeAlertDoc(doc)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate alert rows", goerr.T(errs.TagDatabase))
	}
	return alerts, nil
}
