package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// DedupKey identifies the upstream alert regardless of how many times it is
// redelivered. It is derived from the source fingerprint, not arrival order.
type DedupKey string

func (x DedupKey) String() string {
	return string(x)
}

func NewDedupKey(schema AlertSchema, fingerprint string) DedupKey {
	h := sha256.Sum256([]byte(schema.String() + "/" + fingerprint))
	return DedupKey(hex.EncodeToString(h[:]))
}

// AlertID identifies one lifecycle of an alert. The same upstream alert firing
// again after resolution gets a new ID, while redelivery of a live alert
// converges to the existing one via DedupKey.
type AlertID string

func (x AlertID) String() string {
	return string(x)
}

func NewAlertID(key DedupKey, firstSeen time.Time) AlertID {
	return AlertID(fmt.Sprintf("%s-%d", key[:16], firstSeen.Unix()))
}

const EmptyAlertID AlertID = ""

type AlertSchema string

func (x AlertSchema) String() string {
	return string(x)
}

type AlertStatus string

const (
	AlertStatusPending      AlertStatus = "pending"
	AlertStatusEscalated    AlertStatus = "escalated"
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	AlertStatusResolved     AlertStatus = "resolved"
)

func (s AlertStatus) String() string {
	return string(s)
}

func (s AlertStatus) Validate() error {
	switch s {
	case AlertStatusPending, AlertStatusEscalated, AlertStatusAcknowledged, AlertStatusResolved:
		return nil
	}
	return goerr.New("invalid alert status", goerr.V("status", s))
}

// Live returns true while the alert still demands attention, i.e. it can be
// acknowledged and is subject to escalation.
func (s AlertStatus) Live() bool {
	return s == AlertStatusPending || s == AlertStatusEscalated
}

var alertStatusLabels = map[AlertStatus]string{
	AlertStatusPending:      "🔔 Pending",
	AlertStatusEscalated:    "📣 Escalated",
	AlertStatusAcknowledged: "✅ Acknowledged",
	AlertStatusResolved:     "🎉 Resolved",
}

func (s AlertStatus) Label() string {
	return alertStatusLabels[s]
}
