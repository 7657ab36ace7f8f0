package model

import (
	"errors"
	"strings"
)

const dmPrefix = "dm:"

var (
	ErrInvalidConversation = errors.New("invalid conversation id")
	ErrNotParticipant      = errors.New("user is not a participant of the conversation")
)

// ConversationID returns the canonical key for the two-party conversation between a and b.
// The pair is sorted so both participants resolve the same key.
func ConversationID(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return dmPrefix + a + ":" + b
}

// Participants splits a conversation key into its two user ids. Only the canonical form
// built by ConversationID is accepted: two distinct ids in sorted order.
func Participants(conversationID string) (string, string, error) {
	if !strings.HasPrefix(conversationID, dmPrefix) {
		return "", "", ErrInvalidConversation
	}
	parts := strings.Split(conversationID[len(dmPrefix):], ":")
	if len(parts) != 2 || parts[0] == "" || parts[0] >= parts[1] {
		return "", "", ErrInvalidConversation
	}
	return parts[0], parts[1], nil
}

// OtherParticipant returns the participant of conversationID that is not userID.
func OtherParticipant(conversationID, userID string) (string, error) {
	a, b, err := Participants(conversationID)
	if err != nil {
		return "", err
	}
	switch userID {
	case a:
		return b, nil
	case b:
		return a, nil
	}
	return "", ErrNotParticipant
}
