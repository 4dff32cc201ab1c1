package notifications

import (
	"time"

	"github.com/goccy/go-json"
)

// Notification types produced by the router.
const (
	TypeFriendRequest  = "friend.request"
	TypeGeneral        = "general"
	TypeUserMentioned  = "user.mentioned"
	TypePostLiked      = "post.liked"
	TypeGroupInvited   = "group.invited"
	TypeChatCreated    = "chat.created"
	TypeMessageCreated = "message.created"
)

// EventNewNotification is the push event name clients listen for.
const EventNewNotification = "newNotification"

// Notification is one stored notification for a single recipient.
type Notification struct {
	ID        string          `json:"id"`
	UserID    string          `json:"userId"`
	Type      string          `json:"type"`
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
	IsRead    bool            `json:"isRead"`
	CreatedAt time.Time       `json:"createdAt"`
}

// PushPayload is what a connected client receives with newNotification.
type PushPayload struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
	IsRead    bool            `json:"isRead"`
	CreatedAt time.Time       `json:"createdAt"`
}

func (n *Notification) Payload() PushPayload {
	data := n.Data
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	return PushPayload{
		ID:        n.ID,
		Type:      n.Type,
		Title:     n.Title,
		Message:   n.Message,
		Data:      data,
		IsRead:    n.IsRead,
		CreatedAt: n.CreatedAt,
	}
}

// Pusher delivers an event to every live channel of a user and reports how
// many channels accepted it. Zero means the user is offline or every send
// failed; neither is an error for the caller.
type Pusher interface {
	Push(userID, event string, payload any) int
}
