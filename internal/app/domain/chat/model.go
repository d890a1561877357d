// Package chat defines the chat-thread models created on intro acceptance.
package chat

import "time"

// Thread is a two-party conversation.
type Thread struct {
	ID        string    `db:"id" json:"id"`
	UserA     string    `db:"user_a" json:"user_a"`
	UserB     string    `db:"user_b" json:"user_b"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Message is a single chat message. Seed messages carry the system sender.
type Message struct {
	ID        string    `db:"id" json:"id"`
	ThreadID  string    `db:"thread_id" json:"thread_id"`
	SenderRef string    `db:"sender_ref" json:"sender_ref"`
	Body      string    `db:"body" json:"body"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
