package discord

import (
	"fmt"
	"strconv"
	"time"

	"github.com/bwmarrin/discordgo"
)

// Epoch is the first millisecond of 2015, the zero point of Discord snowflakes.
const Epoch int64 = 1420070400000

// ISO8601Millis renders timestamps the way Discord and JavaScript's toISOString do.
const ISO8601Millis = "2006-01-02T15:04:05.000Z07:00"

// Snowflake is a decoded Discord identifier.
type Snowflake struct {
	ID        string
	CreatedAt time.Time
	WorkerID  int64
	ProcessID int64
	Increment int64
}

// CreatedAt returns the creation time embedded in a snowflake: (id >> 22) + Epoch milliseconds.
func CreatedAt(id string) (time.Time, error) {
	t, err := discordgo.SnowflakeTimestamp(id)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid snowflake %q: %w", id, err)
	}
	return t.UTC(), nil
}

// DecodeSnowflake splits a snowflake into its timestamp, worker, process and increment parts.
func DecodeSnowflake(id string) (Snowflake, error) {
	raw, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return Snowflake{}, fmt.Errorf("invalid snowflake %q: %w", id, err)
	}
	created, err := CreatedAt(id)
	if err != nil {
		return Snowflake{}, err
	}
	return Snowflake{
		ID:        id,
		CreatedAt: created,
		WorkerID:  int64((raw & 0x3E0000) >> 17),
		ProcessID: int64((raw & 0x1F000) >> 12),
		Increment: int64(raw & 0xFFF),
	}, nil
}

// FormatCreatedAt renders the snowflake creation time as ISO-8601, or "Unknown".
func FormatCreatedAt(id string) string {
	t, err := CreatedAt(id)
	if err != nil {
		return "Unknown"
	}
	return t.Format(ISO8601Millis)
}
