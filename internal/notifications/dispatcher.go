package notifications

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/Cube0fDestiny/angular-projekt-sub000/internal/logging"
	"github.com/Cube0fDestiny/angular-projekt-sub000/internal/metrics"
)

// Result describes what one dispatch did.
type Result struct {
	Decision Decision
	// Persisted holds the rows written, in recipient order.
	Persisted []*Notification
	// Duplicate is set when the envelope had already been committed by an
	// earlier delivery; nothing was written or pushed.
	Duplicate bool
}

// Dispatcher classifies an envelope, resolves its recipients, persists one
// notification per recipient and then pushes each to the recipient's live
// channels.
type Dispatcher struct {
	consumer  string
	store     Store
	directory ParticipantDirectory
	pusher    Pusher
}

// NewDispatcher builds a Dispatcher. consumer names the queue in the
// processed-events inbox. directory and pusher may be nil.
func NewDispatcher(consumer string, store Store, directory ParticipantDirectory, pusher Pusher) *Dispatcher {
	return &Dispatcher{
		consumer:  consumer,
		store:     store,
		directory: directory,
		pusher:    pusher,
	}
}

// Dispatch handles one envelope. A returned error means nothing was
// committed and the envelope should be redelivered. An unrecognized body is
// not an error: the result carries a zero Decision.
func (d *Dispatcher) Dispatch(ctx context.Context, eventID, routingKey string, raw []byte) (Result, error) {
	decision, err := Classify(routingKey, raw)
	if err != nil {
		return Result{}, err
	}
	res := Result{Decision: decision}
	if !decision.Recognized() {
		return res, nil
	}

	recipients, err := d.resolve(ctx, decision)
	if err != nil {
		return res, err
	}
	if len(recipients) == 0 {
		logging.Debug().
			Str("routing_key", routingKey).
			Str("event_id", eventID).
			Str("type", decision.Type).
			Msg("notifications: no recipients")
		return res, nil
	}

	data, err := json.Marshal(decision.Data)
	if err != nil {
		return res, fmt.Errorf("encode notification data: %w", err)
	}

	batch := make([]*Notification, 0, len(recipients))
	for _, userID := range recipients {
		batch = append(batch, &Notification{
			UserID:  userID,
			Type:    decision.Type,
			Title:   decision.Title,
			Message: decision.Message,
			Data:    data,
		})
	}

	fresh, err := d.store.InsertBatch(ctx, d.consumer, eventID, routingKey, batch)
	if err != nil {
		return res, fmt.Errorf("persist %d notifications: %w", len(batch), err)
	}
	if !fresh {
		res.Duplicate = true
		return res, nil
	}
	metrics.NotificationsPersisted.WithLabelValues(decision.Type, "router").Add(float64(len(batch)))
	res.Persisted = batch

	// Rows are committed; pushes below are best effort.
	for _, n := range batch {
		d.push(n)
	}
	return res, nil
}

// push sends n to the recipient's live channels, if any.
func (d *Dispatcher) push(n *Notification) int {
	if d.pusher == nil {
		return 0
	}
	return d.pusher.Push(n.UserID, EventNewNotification, n.Payload())
}

func (d *Dispatcher) resolve(ctx context.Context, decision Decision) ([]string, error) {
	var ids []string
	switch decision.Resolve {
	case ResolveDirect:
		ids = decision.Recipients
	case ResolveChatOrBody, ResolveChat:
		if d.directory != nil {
			found, err := d.directory.Participants(ctx, decision.ChatID)
			if err != nil {
				return nil, fmt.Errorf("resolve participants: %w", err)
			}
			ids = found
		}
		if len(ids) == 0 && decision.Resolve == ResolveChatOrBody {
			ids = decision.Recipients
		}
	}
	return uniqueExcept(ids, decision.Exclude), nil
}

// uniqueExcept drops empty ids, duplicates and exclude, keeping order.
func uniqueExcept(ids []string, exclude string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || id == exclude {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
