package alert

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/howler-bot/howler/pkg/domain/types"
)

// Event is a normalized inbound alert notification. The intake endpoint
// produces these; the lifecycle engine consumes them.
type Event struct {
	Schema      types.AlertSchema `json:"schema"`
	Fingerprint string            `json:"fingerprint"`
	Title       string            `json:"title"`
	Data        any               `json:"data"`
}

// DedupKey derives the idempotency key of the event. When the source does not
// provide a stable fingerprint, the payload content itself serves as one, so
// retried deliveries of the same body still converge.
func (x Event) DedupKey() types.DedupKey {
	fp := x.Fingerprint
	if fp == "" {
		if raw, err := json.Marshal(x.Data); err == nil {
			h := sha256.Sum256(raw)
			fp = hex.EncodeToString(h[:])
		}
	}
	return types.NewDedupKey(x.Schema, fp)
}
