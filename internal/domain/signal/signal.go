// Package signal holds the persisted mailbox entry exchanged between peers.
package signal

import (
	"encoding/json"
	"time"

	"github.com/cardkeep/signal_layer/pkg/signaling"
)

// TTL is how long a signal stays deliverable after it is created.
const TTL = 120 * time.Second

// Signal is one message in a recipient's mailbox. Apart from Processed
// flipping to true, a stored signal is never modified.
type Signal struct {
	ID        int64           `db:"id" json:"id"`
	From      string          `db:"from_user" json:"from_user"`
	Target    string          `db:"target_user" json:"target_user"`
	Type      signaling.Type  `db:"type" json:"type"`
	Payload   json.RawMessage `db:"payload" json:"payload"`
	Processed bool            `db:"processed" json:"processed"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// Cutoff returns the oldest creation time still deliverable at now.
func Cutoff(now time.Time) time.Time {
	return now.Add(-TTL)
}

// Live reports whether s may still be delivered at now.
func (s Signal) Live(now time.Time) bool {
	return !s.Processed && s.CreatedAt.After(Cutoff(now))
}

// Message converts s to its wire form. An empty payload becomes {}.
func (s Signal) Message() signaling.Message {
	data := s.Payload
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}
	return signaling.Message{Type: s.Type, From: s.From, Data: data}
}

// Less orders signals oldest first, breaking ties by ID.
func Less(a, b Signal) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID < b.ID
	}
	return a.CreatedAt.Before(b.CreatedAt)
}
