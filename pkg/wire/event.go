// Package wire defines the event-tagged JSON frames exchanged over the
// persistent chat and notification sockets, and the data models shared with
// the REST collaborators.
package wire

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// EventType tags a frame.
type EventType string

const (
	EventUserOnline      EventType = "USER_ONLINE"
	EventUserOffline     EventType = "USER_OFFLINE"
	EventOnlineUsers     EventType = "ONLINE_USERS"
	EventPrivateMessage  EventType = "PRIVATE_MESSAGE"
	EventGroupMessage    EventType = "GROUP_MESSAGE"
	EventGroupCreated    EventType = "GROUP_CREATED"
	EventTyping          EventType = "TYPING"
	EventNewNotification EventType = "NEW_NOTIFICATION"
)

// ChatType distinguishes 1:1 from group conversations in TYPING frames.
type ChatType string

const (
	ChatTypePrivate ChatType = "private"
	ChatTypeGroup   ChatType = "group"
)

// Event is the frame envelope. Fields are populated per Type; everything else
// stays zero and is elided by omitempty.
type Event struct {
	Type EventType `json:"type"`

	// USER_ONLINE / USER_OFFLINE / TYPING
	UserID string `json:"userId,omitempty"`

	// ONLINE_USERS
	Users []string `json:"users,omitempty"`

	// PRIVATE_MESSAGE / GROUP_MESSAGE (outbound)
	ToUserID string `json:"toUserId,omitempty"`
	GroupID  string `json:"groupId,omitempty"`
	Content  string `json:"content,omitempty"`

	// PRIVATE_MESSAGE / GROUP_MESSAGE (inbound)
	Message *Message `json:"message,omitempty"`

	// GROUP_CREATED
	Group         *Group `json:"group,omitempty"`
	CreatedBy     string `json:"createdBy,omitempty"`
	CreatedByName string `json:"createdByName,omitempty"`

	// TYPING
	ChatID   string   `json:"chatId,omitempty"`
	ChatType ChatType `json:"chatType,omitempty"`

	// NEW_NOTIFICATION
	Data *Notification `json:"data,omitempty"`
}

// Parse decodes and validates a single inbound frame. Callers log and drop
// frames that fail here; a bad frame never tears down the connection.
func Parse(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, errors.Wrap(err, "wire: decode frame")
	}
	if err := ev.validate(); err != nil {
		return Event{}, err
	}
	return ev, nil
}

func (ev Event) validate() error {
	switch ev.Type {
	case EventUserOnline, EventUserOffline:
		if ev.UserID == "" {
			return errors.Errorf("wire: %s frame missing userId", ev.Type)
		}
	case EventOnlineUsers:
		// an empty user list is a valid snapshot
	case EventPrivateMessage:
		if ev.Message == nil && ev.Content == "" {
			return errors.New("wire: PRIVATE_MESSAGE frame carries neither message nor content")
		}
	case EventGroupMessage:
		if ev.GroupID == "" {
			return errors.New("wire: GROUP_MESSAGE frame missing groupId")
		}
		if ev.Message == nil && ev.Content == "" {
			return errors.New("wire: GROUP_MESSAGE frame carries neither message nor content")
		}
	case EventGroupCreated:
		if ev.Group == nil || ev.Group.ID == "" {
			return errors.New("wire: GROUP_CREATED frame missing group")
		}
	case EventTyping:
		if ev.ChatID == "" || ev.UserID == "" {
			return errors.New("wire: TYPING frame missing chatId or userId")
		}
	case EventNewNotification:
		if ev.Data == nil {
			return errors.New("wire: NEW_NOTIFICATION frame missing data")
		}
	case "":
		return errors.New("wire: frame missing type")
	default:
		return errors.Errorf("wire: unknown frame type %q", ev.Type)
	}
	return nil
}

// Encode marshals an outbound frame.
func (ev Event) Encode() ([]byte, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return nil, errors.Wrap(err, "wire: encode frame")
	}
	return b, nil
}

// NewUserOnline announces the local user after the chat socket opens.
func NewUserOnline(userID string) Event {
	return Event{Type: EventUserOnline, UserID: userID}
}

// NewPrivateMessage addresses a 1:1 send. The server assigns the message id;
// only destination and content travel outbound.
func NewPrivateMessage(toUserID, content string) Event {
	return Event{Type: EventPrivateMessage, ToUserID: toUserID, Content: content}
}

// NewGroupMessage addresses a group send.
func NewGroupMessage(groupID, content string) Event {
	return Event{Type: EventGroupMessage, GroupID: groupID, Content: content}
}

// NewTyping signals that userID is typing in the given conversation.
func NewTyping(chatID string, chatType ChatType, userID string) Event {
	return Event{Type: EventTyping, ChatID: chatID, ChatType: chatType, UserID: userID}
}
