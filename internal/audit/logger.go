package audit

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// Event is one verification attempt as recorded in the audit log.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Outcome   string    `json:"outcome"`
	UserID    string    `json:"user_id,omitempty"`
	Username  string    `json:"username,omitempty"`
	GuildID   string    `json:"guild_id,omitempty"`
	IP        string    `json:"ip,omitempty"`
	Details   string    `json:"details,omitempty"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
}

// Recorder writes audit events as JSON lines, separate from the application log.
type Recorder struct {
	logger zerolog.Logger
}

// NewRecorder creates a Recorder writing to w. A nil w means stdout.
func NewRecorder(w io.Writer) *Recorder {
	if w == nil {
		w = os.Stdout
	}
	return &Recorder{logger: zerolog.New(w).With().Str("log", "audit").Logger()}
}

// Record writes e. A zero timestamp is filled with the current time.
func (r *Recorder) Record(ctx context.Context, e Event) {
	if r == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	entry := r.logger.Log().
		Time("timestamp", e.Timestamp).
		Str("action", e.Action).
		Str("outcome", e.Outcome).
		Bool("success", e.Success)

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		entry = entry.Str("trace_id", sc.TraceID().String())
	}
	for key, value := range map[string]string{
		"user_id":  e.UserID,
		"username": e.Username,
		"guild_id": e.GuildID,
		"ip":       e.IP,
		"details":  e.Details,
		"error":    e.Error,
	} {
		if value != "" {
			entry = entry.Str(key, value)
		}
	}

	entry.Send()
}
