package runs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/awsrt/awsrt/pkg/stores"
	"github.com/awsrt/awsrt/pkg/telemetry"
)

// EventAppender stores run events. *stores.SQLiteStore satisfies it.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *stores.Event) error
}

// EventRecorder returns a subscriber that persists run events.
// Write failures are logged and dropped.
func EventRecorder(store EventAppender, logger *telemetry.Logger) telemetry.EventSubscriber {
	logger = logger.NewComponentLogger("event-recorder")
	return func(e telemetry.Event) {
		if e.RunID == "" {
			return
		}

		rec := &stores.Event{
			EventID:   e.ID,
			RunID:     e.RunID,
			Type:      e.Type,
			Level:     stores.EventLevel(e.Level),
			Message:   e.Message,
			Timestamp: e.Timestamp,
		}
		if len(e.Data) > 0 {
			if data, err := json.Marshal(e.Data); err == nil {
				details := string(data)
				rec.Details = &details
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.AppendEvent(ctx, rec); err != nil {
			logger.WithRunID(e.RunID).WithError(err).Warnf("failed to record %s", e.Type)
		}
	}
}
