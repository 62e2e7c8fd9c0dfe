package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"uyim.org/internal/auth"
	"uyim.org/internal/obs"
)

// Operational audit trail: JSON lines on the service logger, one per
// security-relevant API event. The durable per-row trail lives in the
// audit_log table; this stream is what operators grep.

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit log entry enriched with request and user context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	entry := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"type":  "audit",
		"event": event,
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if userID, ok := auth.UserIDFromContext(ctx); ok {
		entry["user_id"] = userID
	}
	if len(fields) > 0 {
		copyFields := make(map[string]any, len(fields))
		for k, v := range fields {
			copyFields[k] = v
		}
		entry["fields"] = copyFields
	} else {
		entry["fields"] = map[string]any{}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}

// LogDecision records an approve/reject API event for a request.
func LogDecision(ctx context.Context, kind, requestID string, approved bool, code string) {
	outcome := "rejected"
	if approved {
		outcome = "approved"
	}
	fields := map[string]any{
		"kind":       kind,
		"request_id": requestID,
		"outcome":    outcome,
	}
	if code != "" {
		fields["error_code"] = code
	}
	_ = LogEvent(ctx, "occupancy.decision", fields)
}
