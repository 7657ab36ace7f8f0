package model

import "encoding/json"

type EventType string

const (
	EventPresenceUpdate         EventType = "PRESENCE_UPDATE"
	EventPresenceSnapshot       EventType = "PRESENCE_SNAPSHOT"
	EventNewMessage             EventType = "NEW_MESSAGE"
	EventStatusUpdate           EventType = "STATUS_UPDATE"
	EventNewMessageNotification EventType = "NEW_MESSAGE_NOTIFICATION"
	EventMessagesRead           EventType = "MESSAGES_READ"
)

type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceOffline PresenceStatus = "offline"
)

// Event is an outbound frame written to a Connection. Which fields are set depends on Type.
type Event struct {
	Type      EventType      `json:"type"`
	UserID    string         `json:"userId,omitempty"`
	Presence  PresenceStatus `json:"-"`
	MessageID int64          `json:"messageId,omitempty"`
	Status    Status         `json:"-"`
	Payload   any            `json:"payload,omitempty"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	type wire Event
	out := struct {
		wire
		Status string `json:"status,omitempty"`
	}{wire: wire(e)}
	switch e.Type {
	case EventPresenceUpdate:
		out.Status = string(e.Presence)
	case EventStatusUpdate:
		out.Status = string(e.Status)
	}
	return json.Marshal(out)
}

func PresenceUpdate(userID string, status PresenceStatus) Event {
	return Event{Type: EventPresenceUpdate, UserID: userID, Presence: status}
}

// PresenceSnapshot lists every user online when a presence socket connects, in one frame.
func PresenceSnapshot(userIDs []string) Event {
	if userIDs == nil {
		userIDs = []string{}
	}
	return Event{Type: EventPresenceSnapshot, Payload: userIDs}
}

func NewMessageEvent(m Message) Event {
	return Event{Type: EventNewMessage, Payload: m}
}

func StatusUpdate(messageID int64, status Status) Event {
	return Event{Type: EventStatusUpdate, MessageID: messageID, Status: status}
}

func NewMessageNotification(summary UnreadSummary) Event {
	return Event{Type: EventNewMessageNotification, Payload: summary}
}

// Inbound is a frame received from a client.
type Inbound struct {
	Type           EventType       `json:"type"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	ConversationID string          `json:"conversationId,omitempty"`
}

// OutgoingMessage is the payload of an inbound NEW_MESSAGE frame.
type OutgoingMessage struct {
	ReceiverID     string `json:"receiverId"`
	Content        string `json:"content"`
	ConversationID string `json:"conversationId"`
}
