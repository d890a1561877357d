// Package notification defines the notification row emitted as a side effect
// of lifecycle transitions.
package notification

import "time"

// Sender sentinels used when the notification does not originate from an
// identifiable user.
const (
	SenderSystem    = "system"
	SenderAnonymous = "anonymous"
)

// Notification types emitted by the lifecycle engines.
const (
	TypeIntroRequest  = "intro_request"
	TypeIntroAccepted = "intro_accepted"
	TypeIntroDeclined = "intro_declined"
	TypeGhostAsk      = "ghost_ask"
)

// Notification targets a single user. The core only ever creates these;
// read-flag toggling is delegated to the store.
type Notification struct {
	ID        string                 `db:"id" json:"id"`
	UserID    string                 `db:"user_id" json:"user_id"`
	SenderRef string                 `db:"sender_ref" json:"sender_ref"`
	Type      string                 `db:"type" json:"type"`
	Title     string                 `db:"title" json:"title"`
	Body      string                 `db:"body" json:"body"`
	Payload   map[string]interface{} `db:"-" json:"payload,omitempty"`
	Read      bool                   `db:"read" json:"read"`
	CreatedAt time.Time              `db:"created_at" json:"created_at"`
}
