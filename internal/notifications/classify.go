package notifications

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-json"

	"github.com/Cube0fDestiny/angular-projekt-sub000/internal/events"
)

// ErrMalformedEnvelope is returned when a body is not a JSON object.
var ErrMalformedEnvelope = errors.New("malformed envelope body")

// Resolve tells the dispatcher where the recipients of a decision come from.
type Resolve int

const (
	// ResolveDirect uses Decision.Recipients as is.
	ResolveDirect Resolve = iota
	// ResolveChatOrBody asks the participant directory and falls back to
	// Decision.Recipients when the directory has no rows for the chat.
	ResolveChatOrBody
	// ResolveChat asks the participant directory only.
	ResolveChat
)

const messagePreviewRunes = 100

// Decision is the outcome of classifying one envelope. A zero Type means no
// rule matched.
type Decision struct {
	Rule       string
	Type       string
	Title      string
	Message    string
	Data       map[string]any
	Resolve    Resolve
	Recipients []string
	ChatID     string
	// Exclude is removed from the resolved recipient set.
	Exclude string
}

func (d Decision) Recognized() bool {
	return d.Type != ""
}

type body map[string]any

// str returns the field as a string when it is a non-empty string or a
// number.
func (b body) str(key string) (string, bool) {
	switch t := b[key].(type) {
	case string:
		return t, t != ""
	case json.Number:
		return t.String(), true
	default:
		return "", false
	}
}

// id reports whether key holds something usable as a user or entity id.
// Booleans, arrays and objects never do.
func (b body) id(key string) bool {
	_, ok := b.str(key)
	return ok
}

// has reports presence the way publishers test fields: not null, not an
// empty string and not false.
func (b body) has(key string) bool {
	switch t := b[key].(type) {
	case nil:
		return false
	case string:
		return t != ""
	case bool:
		return t
	default:
		return true
	}
}

func (b body) strOr(key, fallback string) string {
	if s, ok := b.str(key); ok {
		return s
	}
	return fallback
}

func (b body) strings(key string) []string {
	raw, ok := b[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		switch t := v.(type) {
		case string:
			if t != "" {
				out = append(out, t)
			}
		case json.Number:
			out = append(out, t.String())
		}
	}
	return out
}

type rule struct {
	name    string
	matches func(routingKey string, b body) bool
	decide  func(b body) Decision
}

// rules is evaluated top to bottom; the first match wins.
var rules = []rule{
	{
		name:    "requesteeId",
		matches: func(_ string, b body) bool { return b.id("requesteeId") },
		decide: func(b body) Decision {
			requestee, _ := b.str("requesteeId")
			return Decision{
				Type:       TypeFriendRequest,
				Title:      "New friend request",
				Message:    b.strOr("requesterName", "Someone") + " sent you a friend request",
				Data:       map[string]any{"requesterId": b.strOr("requesterId", "")},
				Recipients: []string{requestee},
			}
		},
	},
	{
		name:    "userId",
		matches: func(_ string, b body) bool { return b.id("userId") },
		decide: func(b body) Decision {
			user, _ := b.str("userId")
			data, ok := b["data"].(map[string]any)
			if !ok {
				data = map[string]any{}
			}
			return Decision{
				Type:       b.strOr("type", TypeGeneral),
				Title:      b.strOr("title", "Notification"),
				Message:    b.strOr("message", ""),
				Data:       data,
				Recipients: []string{user},
			}
		},
	},
	{
		name:    "mentionedUserId",
		matches: func(_ string, b body) bool { return b.id("mentionedUserId") },
		decide: func(b body) Decision {
			mentioned, _ := b.str("mentionedUserId")
			return Decision{
				Type:    TypeUserMentioned,
				Title:   "You were mentioned",
				Message: b.strOr("mentionerName", "Someone") + " mentioned you",
				Data: map[string]any{
					"mentionerId": b.strOr("mentionerId", ""),
					"postId":      b.strOr("postId", ""),
				},
				Recipients: []string{mentioned},
			}
		},
	},
	{
		name:    "likedUserId",
		matches: func(_ string, b body) bool { return b.id("likedUserId") },
		decide: func(b body) Decision {
			liked, _ := b.str("likedUserId")
			return Decision{
				Type:    TypePostLiked,
				Title:   "New like",
				Message: b.strOr("likerName", "Someone") + " liked your post",
				Data: map[string]any{
					"likerId": b.strOr("likerId", ""),
					"postId":  b.strOr("postId", ""),
				},
				Recipients: []string{liked},
			}
		},
	},
	{
		name:    "invitedUserId",
		matches: func(_ string, b body) bool { return b.id("invitedUserId") },
		decide: func(b body) Decision {
			invited, _ := b.str("invitedUserId")
			return Decision{
				Type:    TypeGroupInvited,
				Title:   "Group invitation",
				Message: "You have been invited to join " + b.strOr("groupName", "a group"),
				Data: map[string]any{
					"groupId":   b.strOr("groupId", ""),
					"inviterId": b.strOr("inviterId", ""),
				},
				Recipients: []string{invited},
			}
		},
	},
	{
		name: "chatId+participants",
		matches: func(key string, b body) bool {
			return key == events.KeyChatCreated && b.id("chatId") && b.has("participants")
		},
		decide: func(b body) Decision {
			chatID, _ := b.str("chatId")
			return Decision{
				Type:    TypeChatCreated,
				Title:   "New chat",
				Message: "You were added to " + b.strOr("name", "a new chat"),
				Data: map[string]any{
					"chatId":    chatID,
					"creatorId": b.strOr("creatorId", ""),
				},
				Resolve:    ResolveChatOrBody,
				Recipients: b.strings("participants"),
				ChatID:     chatID,
				Exclude:    b.strOr("creatorId", ""),
			}
		},
	},
	{
		name: "messageId+chatId",
		matches: func(key string, b body) bool {
			return key == events.KeyMessageCreated && b.id("messageId") && b.id("chatId")
		},
		decide: func(b body) Decision {
			chatID, _ := b.str("chatId")
			return Decision{
				Type:    TypeMessageCreated,
				Title:   "New message",
				Message: truncateRunes(b.strOr("content", ""), messagePreviewRunes),
				Data: map[string]any{
					"chatId":    chatID,
					"messageId": b.strOr("messageId", ""),
					"senderId":  b.strOr("senderId", ""),
				},
				Resolve: ResolveChat,
				ChatID:  chatID,
				Exclude: b.strOr("senderId", ""),
			}
		},
	},
}

// Classify runs the decision table over one envelope body. It performs no
// I/O. A body that is not a JSON object yields ErrMalformedEnvelope; a body
// no rule recognizes yields a zero Decision and a nil error.
func Classify(routingKey string, raw []byte) (Decision, error) {
	b, err := decodeBody(raw)
	if err != nil {
		return Decision{}, err
	}
	for _, r := range rules {
		if r.matches(routingKey, b) {
			d := r.decide(b)
			d.Rule = r.name
			return d, nil
		}
	}
	return Decision{}, nil
}

func decodeBody(raw []byte) (body, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var b map[string]any
	if err := dec.Decode(&b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	var trailing any
	if err := dec.Decode(&trailing); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after body", ErrMalformedEnvelope)
	}
	if b == nil {
		return nil, fmt.Errorf("%w: body is null", ErrMalformedEnvelope)
	}
	return body(b), nil
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// RuleNames lists the decision table in priority order.
func RuleNames() []string {
	names := make([]string, len(rules))
	for i, r := range rules {
		names[i] = r.name
	}
	return names
}

// Describe renders a decision for logs and the operator CLI.
func (d Decision) Describe() string {
	if !d.Recognized() {
		return "unrecognized"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "rule=%s type=%s", d.Rule, d.Type)
	switch d.Resolve {
	case ResolveChat:
		fmt.Fprintf(&sb, " recipients=participants(%s)", d.ChatID)
	case ResolveChatOrBody:
		fmt.Fprintf(&sb, " recipients=participants(%s) fallback=%v", d.ChatID, d.Recipients)
	default:
		fmt.Fprintf(&sb, " recipients=%v", d.Recipients)
	}
	if d.Exclude != "" {
		fmt.Fprintf(&sb, " exclude=%s", d.Exclude)
	}
	return sb.String()
}
