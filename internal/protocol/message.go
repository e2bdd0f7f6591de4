package protocol

import "encoding/json"

// Message types.
const (
	MsgAuthenticate    = "authenticate"
	MsgUpdatePresence  = "update-presence"
	MsgAuthSuccess     = "auth-success"
	MsgAuthError       = "auth-error"
	MsgPresenceUpdated = "presence-updated"
	MsgPresenceUpdate  = "presence-update"
	MsgError           = "error"
)

// Presence statuses.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
	StatusAway    = "away"
	StatusBusy    = "busy"
	StatusInRoom  = "in_room"
)

// ValidStatus reports whether s is a recognized presence status.
func ValidStatus(s string) bool {
	switch s {
	case StatusOnline, StatusOffline, StatusAway, StatusBusy, StatusInRoom:
		return true
	}
	return false
}

// Message represents a presence channel message. One JSON object per frame,
// discriminated by Type; unused fields are omitted on the wire.
type Message struct {
	Type          string `json:"type"`
	SessionToken  string `json:"sessionToken,omitempty"`
	UserID        string `json:"userId,omitempty"`
	Status        string `json:"status,omitempty"`
	CurrentRoomID string `json:"currentRoomId,omitempty"`
	Timestamp     string `json:"timestamp,omitempty"`
	Message       string `json:"message,omitempty"`
}

// PresenceUpdate is a peer's status transition as streamed by the server.
// CurrentRoomID is meaningful only when Status is in_room; an absent field
// means "no room" and is never inferred from a prior update.
type PresenceUpdate struct {
	Type          string `json:"type"`
	UserID        string `json:"userId"`
	Status        string `json:"status"`
	CurrentRoomID string `json:"currentRoomId,omitempty"`
	Timestamp     string `json:"timestamp"`
}

// PresenceUpdate projects a decoded Message into a PresenceUpdate.
func (m Message) PresenceUpdate() PresenceUpdate {
	return PresenceUpdate{
		Type:          MsgPresenceUpdate,
		UserID:        m.UserID,
		Status:        m.Status,
		CurrentRoomID: m.CurrentRoomID,
		Timestamp:     m.Timestamp,
	}
}

// ErrorMessage reports an error to the peer without closing the channel.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Encode serializes a value to JSON bytes.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// DecodeMessage deserializes JSON bytes into a Message.
func DecodeMessage(data []byte) (Message, error) {
	var m Message
	err := json.Unmarshal(data, &m)
	return m, err
}
