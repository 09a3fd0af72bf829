package wire

import "time"

// Message is a single chat message as it travels over the socket and the REST
// history endpoints. The server assigns ID on confirmation; locally inserted
// messages carry a "temp-" prefixed placeholder until the echo arrives.
type Message struct {
	ID              string    `json:"id"`
	FromUserID      string    `json:"fromUserId"`
	FromDisplayName string    `json:"fromDisplayName"`
	FromAvatarURL   string    `json:"fromAvatarUrl,omitempty"`
	Content         string    `json:"content"`
	Timestamp       time.Time `json:"timestamp"`
	Read            bool      `json:"read"`
}

// Group is a named multi-party conversation.
type Group struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	MemberIDs []string `json:"memberIds"`
}

// TeamMember is a selectable 1:1 chat peer. Role is display-only.
type TeamMember struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
	Role        string `json:"role"`
}

// Notification is one entry of the task/assignment feed.
type Notification struct {
	ID        string    `json:"id"`
	Category  string    `json:"category"`
	Title     string    `json:"title"`
	Body      string    `json:"body,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	Read      bool      `json:"read"`
}
