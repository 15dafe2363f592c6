package models

import "time"

// User is the backend's user summary. AvatarURL is null for users
// without an avatar.
type User struct {
	ID        string  `json:"id"`
	Username  string  `json:"username"`
	AvatarURL *string `json:"avatarURL"`
}

// Conversation as returned by /api/conversations. HasUnreadMessages is
// maintained locally after the initial fetch: set when a message arrives
// over the push channel, cleared by opening the conversation.
type Conversation struct {
	ID                string   `json:"id"`
	OtherParticipant  *User    `json:"otherParticipant"`
	LastMessage       *Message `json:"lastMessage"`
	HasUnreadMessages bool     `json:"hasUnreadMessages"`
}

// Message is immutable once created. Ordering and pagination cursors use
// ID, which the backend issues monotonically; CreatedAt is display-only.
type Message struct {
	ID             string    `json:"id"`
	Content        string    `json:"content"`
	ConversationID string    `json:"conversationId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	Mine           bool      `json:"mine"`
}

// LoginPayload is the response of POST /api/login and of the OAuth
// callback completion.
type LoginPayload struct {
	AuthUser  User      `json:"authUser"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// MessageContentMaxLength mirrors the backend's validation limit.
const MessageContentMaxLength = 480

// PageSize is the fixed page length of the list endpoints. A response
// with fewer items is the end of the history.
const PageSize = 25
