package errs

import (
	"context"
	"log/slog"

	"github.com/howler-bot/howler/pkg/utils/logging"
)

// Handle logs an error with its goerr values attached. Per-record failures in
// the escalation loop are reported here and never propagate to other records.
func Handle(ctx context.Context, err error) {
	logging.From(ctx).Error("Error: "+err.Error(), slog.Any("error", err))
}
