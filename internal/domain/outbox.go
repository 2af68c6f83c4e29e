package domain

import "time"

// OutboxEvent is a terminal-session event persisted in the same write as the
// transition that produced it, and relayed to the broker afterwards.
type OutboxEvent struct {
	ID        string
	SessionID string
	EventType string
	Payload   []byte
	CreatedAt time.Time
	SentAt    *time.Time
	Attempts  int
	LastError string
}
