// Package events defines the envelopes domain services publish onto the
// shared topic exchange and the routing keys the notification queue binds.
package events

import (
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Routing keys known to publishers and to the queue bindings.
const (
	KeyFriendRequested = "user.friendRequested"
	KeyUserMentioned   = "user.mentioned"
	KeyPostLiked       = "post.liked"
	KeyGroupInvited    = "group.invited"
	KeyChatCreated     = "chat.created"
	KeyMessageCreated  = "message.created"

	// KeyNotificationPattern binds the generic notification.<kind> family.
	KeyNotificationPattern = "notification.*"
)

// Bindings is the fixed list of patterns the durable queue is bound to.
var Bindings = []string{
	KeyFriendRequested,
	KeyUserMentioned,
	KeyPostLiked,
	KeyGroupInvited,
	KeyChatCreated,
	KeyMessageCreated,
	KeyNotificationPattern,
}

// Envelope is one routing-key-tagged message on the broker. ID travels as
// broker metadata, never inside Body.
type Envelope struct {
	ID string
	// MessageID is the key the transport deduplicates on; empty means ID.
	// ID stays the consumer's inbox key either way.
	MessageID   string
	RoutingKey  string
	Body        []byte
	PublishedAt time.Time
}

// DedupID is the id handed to the transport's duplicate detection.
func (e Envelope) DedupID() string {
	if e.MessageID != "" {
		return e.MessageID
	}
	return e.ID
}

// Replay returns a copy that keeps the event id but carries a fresh
// transport id, so a broker duplicate window does not swallow a deliberate
// republish of an event it has already seen.
func (e Envelope) Replay(tag string) Envelope {
	e.MessageID = e.ID + ":replay:" + tag
	e.PublishedAt = time.Now().UTC()
	return e
}

// NewEnvelope encodes payload as JSON under a fresh id.
func NewEnvelope(routingKey string, payload any) (Envelope, error) {
	if err := ValidateRoutingKey(routingKey); err != nil {
		return Envelope{}, err
	}
	var body []byte
	switch p := payload.(type) {
	case []byte:
		body = p
	case json.RawMessage:
		body = p
	default:
		b, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("encode %s payload: %w", routingKey, err)
		}
		body = b
	}
	return Envelope{
		ID:          uuid.New().String(),
		RoutingKey:  routingKey,
		Body:        body,
		PublishedAt: time.Now().UTC(),
	}, nil
}

// ValidateRoutingKey rejects empty keys, empty words and wildcard characters.
func ValidateRoutingKey(key string) error {
	if key == "" {
		return fmt.Errorf("routing key is empty")
	}
	for _, w := range strings.Split(key, ".") {
		if w == "" || w == "*" || w == "#" {
			return fmt.Errorf("invalid routing key %q", key)
		}
	}
	return nil
}

// Bound reports whether key matches at least one of the queue bindings.
func Bound(key string) bool {
	return MatchAny(Bindings, key)
}

func MatchAny(patterns []string, key string) bool {
	for _, p := range patterns {
		if Match(p, key) {
			return true
		}
	}
	return false
}

// Match applies topic-exchange rules: words are dot separated, "*" matches
// exactly one word and "#" matches zero or more words.
func Match(pattern, key string) bool {
	return matchWords(strings.Split(pattern, "."), strings.Split(key, "."))
}

func matchWords(p, k []string) bool {
	for len(p) > 0 {
		switch p[0] {
		case "#":
			if len(p) == 1 {
				return true
			}
			for i := 0; i <= len(k); i++ {
				if matchWords(p[1:], k[i:]) {
					return true
				}
			}
			return false
		case "*":
			if len(k) == 0 {
				return false
			}
		default:
			if len(k) == 0 || p[0] != k[0] {
				return false
			}
		}
		p, k = p[1:], k[1:]
	}
	return len(k) == 0
}
