package audit_test

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pilab-dev/discord-verifier/internal/audit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_Record(t *testing.T) {
	var buf bytes.Buffer
	rec := audit.NewRecorder(&buf)

	rec.Record(context.Background(), audit.Event{
		Timestamp: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Action:    "verify",
		Outcome:   "verified",
		UserID:    "175928847299117063",
		Username:  "wumpus",
		GuildID:   "81384788765712384",
		IP:        "203.0.113.7",
		Success:   true,
	})

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	assert.Equal(t, "audit", entry["log"])
	assert.Equal(t, "verify", entry["action"])
	assert.Equal(t, "verified", entry["outcome"])
	assert.Equal(t, "175928847299117063", entry["user_id"])
	assert.Equal(t, true, entry["success"])
	assert.NotContains(t, entry, "error")
	assert.NotContains(t, entry, "details")
}

func TestRecorder_FailureAndNil(t *testing.T) {
	var buf bytes.Buffer
	audit.NewRecorder(&buf).Record(context.Background(), audit.Event{
		Action:  "verify",
		Outcome: "role_assignment_failed",
		Error:   "Missing Permissions",
	})

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, false, entry["success"])
	assert.Equal(t, "Missing Permissions", entry["error"])
	assert.NotEmpty(t, entry["timestamp"])

	var nilRec *audit.Recorder
	assert.NotPanics(t, func() { nilRec.Record(context.Background(), audit.Event{}) })
}
