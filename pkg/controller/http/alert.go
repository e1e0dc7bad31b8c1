package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/m-mizutani/goerr/v2"

	"github.com/howler-bot/howler/pkg/domain/model/alert"
	"github.com/howler-bot/howler/pkg/domain/model/errs"
	"github.com/howler-bot/howler/pkg/domain/types"
)

// hookPayload accepts both a single alert object and the batch form most
// monitoring systems send ({"alerts": [...]}).
type hookPayload struct {
	Alerts []json.RawMessage `json:"alerts"`
}

func alertHookHandler(uc UseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		schema := types.AlertSchema(chi.URLParam(r, "schema"))

		if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
			handleError(w, r, goerr.New("invalid content type",
				goerr.T(errs.TagInvalidRequest),
				goerr.V("content_type", ct)))
			return
		}

		var raw json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			handleError(w, r, goerr.Wrap(err, "failed to decode request body",
				goerr.T(errs.TagInvalidRequest)))
			return
		}

		events, err := extractEvents(schema, raw)
		if err != nil {
			handleError(w, r, err)
			return
		}

		ids := make([]string, 0, len(events))
		for _, ev := range events {
			record, err := uc.Ingest(r.Context(), ev)
			if err != nil {
				handleError(w, r, err)
				return
			}
			ids = append(ids, record.ID.String())
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(map[string]any{"alert_ids": ids}); err != nil {
			errs.Handle(r.Context(), goerr.Wrap(err, "failed to write response"))
		}
	}
}

func extractEvents(schema types.AlertSchema, raw json.RawMessage) ([]alert.Event, error) {
	var batch hookPayload
	if err := json.Unmarshal(raw, &batch); err == nil && len(batch.Alerts) > 0 {
		events := make([]alert.Event, 0, len(batch.Alerts))
		for _, item := range batch.Alerts {
			ev, err := buildEvent(schema, item)
			if err != nil {
				return nil, err
			}
			events = append(events, ev)
		}
		return events, nil
	}

	ev, err := buildEvent(schema, raw)
	if err != nil {
		return nil, err
	}
	return []alert.Event{ev}, nil
}

// buildEvent normalizes one JSON alert object. Fingerprint and title come
// from the common field names when present; both have deterministic
// fallbacks so any JSON object is accepted.
func buildEvent(schema types.AlertSchema, raw json.RawMessage) (alert.Event, error) {
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return alert.Event{}, goerr.Wrap(err, "failed to decode alert",
			goerr.T(errs.TagInvalidRequest))
	}

	ev := alert.Event{
		Schema: schema,
		Data:   data,
	}

	fields, ok := data.(map[string]any)
	if !ok {
		return alert.Event{}, goerr.New("alert must be a JSON object",
			goerr.T(errs.TagInvalidRequest))
	}

	if v, ok := fields["fingerprint"].(string); ok {
		ev.Fingerprint = v
	}
	ev.Title = pickTitle(fields)

	return ev, nil
}

func pickTitle(fields map[string]any) string {
	for _, key := range []string{"title", "summary", "message"} {
		if v, ok := fields[key].(string); ok && v != "" {
			return v
		}
	}
	if annotations, ok := fields["annotations"].(map[string]any); ok {
		if v, ok := annotations["summary"].(string); ok && v != "" {
			return v
		}
	}
	if labels, ok := fields["labels"].(map[string]any); ok {
		if v, ok := labels["alertname"].(string); ok && v != "" {
			return v
		}
	}
	return "untitled alert"
}

func healthHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.health != nil && !s.health.Alive(time.Now(), s.staleness) {
			http.Error(w, "escalation loop stalled", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "OK")
	}
}
