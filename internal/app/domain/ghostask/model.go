// Package ghostask defines the anonymous ghost-ask message model.
package ghostask

import "time"

// Status is the lifecycle state of a ghost ask.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusBlocked Status = "blocked"
)

// UnlockWindow is the interval after creation during which a qualifying
// daily-challenge post unlocks the ask.
const UnlockWindow = 6 * time.Minute

// PersuasionThreshold is the number of locked send attempts after which the
// engine gives in and sends anyway. The counter tracks attempts to send
// while locked, not wall-clock attempts.
const PersuasionThreshold = 10

// Ask is an anonymous message gated by the unlock window. Once sent, no
// further mutation is permitted; unlocked may only flip to true while the
// ask is still pending.
type Ask struct {
	ID                 string     `db:"id" json:"id"`
	SenderID           string     `db:"sender_id" json:"sender_id"`
	RecipientID        string     `db:"recipient_id" json:"recipient_id"`
	Message            string     `db:"message" json:"message"`
	Status             Status     `db:"status" json:"status"`
	Unlocked           bool       `db:"unlocked" json:"unlocked"`
	PersuasionAttempts int        `db:"persuasion_attempts" json:"persuasion_attempts"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	SentAt             *time.Time `db:"sent_at" json:"sent_at,omitempty"`
}

// MessageMinLen and MessageMaxLen bound the anonymous message body.
const (
	MessageMinLen = 1
	MessageMaxLen = 500
)
