package auditlog

import (
	"context"
	"log/slog"
)

// Recorder writes audit events best-effort: failures are logged and never
// surface to the caller.
type Recorder struct {
	db     Execer
	logger *slog.Logger
}

func NewRecorder(db Execer, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{db: db, logger: logger}
}

func (r *Recorder) Record(ctx context.Context, event Event) {
	if r == nil || r.db == nil {
		return
	}
	if _, err := Insert(ctx, r.db, event); err != nil {
		r.logger.Warn("audit insert failed", "action", event.Action, "resource_id", event.ResourceID, "error", err)
	}
}
