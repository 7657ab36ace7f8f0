package model

import "time"

type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
)

// Message is a persisted chat message between the two participants of a conversation.
type Message struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	ReceiverID     string    `json:"receiver_id"`
	Content        string    `json:"content"`
	Status         Status    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}

// UnreadSummary is the chat-list metadata pushed to a user through the presence directory.
type UnreadSummary struct {
	ConversationID       string    `json:"conversationId"`
	LastMessage          string    `json:"lastMessage"`
	LastMessageSenderID  string    `json:"lastMessageSenderId"`
	LastMessageTimestamp time.Time `json:"lastMessageTimestamp"`
	UnreadCount          int       `json:"unreadCount"`
}
