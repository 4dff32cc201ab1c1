// Package registry maps user ids to their live push channels. It is shared by
// connection handlers registering and releasing channels and by the
// dispatcher pushing notifications.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/Cube0fDestiny/angular-projekt-sub000/internal/logging"
	"github.com/Cube0fDestiny/angular-projekt-sub000/internal/metrics"
)

// Policies for a second connection of the same user.
const (
	// PolicyReplace keeps one channel per user; the newest wins.
	PolicyReplace = "replace"
	// PolicyMulti keeps every channel and pushes to all of them.
	PolicyMulti = "multi"
)

const presenceTimeout = 2 * time.Second

// Channel is a live, per-user transport. Send must be safe to call
// concurrently with Close.
type Channel interface {
	Send(event string, payload any) error
	Close() error
}

// Presence mirrors who is online outside this process.
type Presence interface {
	SetOnline(ctx context.Context, userID string) error
	SetOffline(ctx context.Context, userID string) error
}

type Registry struct {
	policy   string
	presence Presence

	mu       sync.RWMutex
	channels map[string][]Channel
	total    int
}

// New returns an empty registry. Unknown policies fall back to replace.
// presence may be nil.
func New(policy string, presence Presence) *Registry {
	if policy != PolicyMulti {
		policy = PolicyReplace
	}
	return &Registry{
		policy:   policy,
		presence: presence,
		channels: make(map[string][]Channel),
	}
}

func (r *Registry) Policy() string {
	return r.policy
}

// Register adds ch for userID. Under the replace policy the channels it
// supersedes are removed and returned; the caller owns closing them.
func (r *Registry) Register(userID string, ch Channel) []Channel {
	r.mu.Lock()
	var superseded []Channel
	if r.policy == PolicyReplace {
		superseded = r.channels[userID]
		r.channels[userID] = []Channel{ch}
	} else {
		r.channels[userID] = append(r.channels[userID], ch)
	}
	r.total += 1 - len(superseded)
	r.setGaugeLocked()
	r.mu.Unlock()

	r.mirror(userID, true)
	return superseded
}

// Unregister drops every channel of userID and returns them.
func (r *Registry) Unregister(userID string) []Channel {
	r.mu.Lock()
	removed := r.channels[userID]
	delete(r.channels, userID)
	r.total -= len(removed)
	r.setGaugeLocked()
	r.mu.Unlock()

	if len(removed) > 0 {
		r.mirror(userID, false)
	}
	return removed
}

// Release removes ch only if it is still registered for userID, so a late
// disconnect of a superseded channel never evicts its successor.
func (r *Registry) Release(userID string, ch Channel) bool {
	r.mu.Lock()
	list := r.channels[userID]
	idx := -1
	for i, c := range list {
		if c == ch {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.mu.Unlock()
		return false
	}
	rest := make([]Channel, 0, len(list)-1)
	rest = append(rest, list[:idx]...)
	rest = append(rest, list[idx+1:]...)
	if len(rest) == 0 {
		delete(r.channels, userID)
	} else {
		r.channels[userID] = rest
	}
	r.total--
	r.setGaugeLocked()
	r.mu.Unlock()

	if len(rest) == 0 {
		r.mirror(userID, false)
	}
	return true
}

// Lookup returns a snapshot of userID's channels.
func (r *Registry) Lookup(userID string) []Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.channels[userID]
	if len(list) == 0 {
		return nil
	}
	return append([]Channel(nil), list...)
}

func (r *Registry) Online(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels[userID]) > 0
}

// Count returns the number of live channels across all users.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total
}

// Push sends event to every channel of userID and returns how many accepted
// it. A channel that fails is released and closed; the failure is not
// reported to the caller.
func (r *Registry) Push(userID, event string, payload any) int {
	chans := r.Lookup(userID)
	if len(chans) == 0 {
		metrics.PushAttempts.WithLabelValues(metrics.PushOffline).Inc()
		return 0
	}

	delivered := 0
	for _, ch := range chans {
		if err := ch.Send(event, payload); err != nil {
			metrics.PushAttempts.WithLabelValues(metrics.PushFailed).Inc()
			logging.Warn().Err(err).
				Str("user_id", userID).
				Str("event", event).
				Msg("registry: push failed, dropping channel")
			if r.Release(userID, ch) {
				ch.Close() //nolint:errcheck
			}
			continue
		}
		metrics.PushAttempts.WithLabelValues(metrics.PushDelivered).Inc()
		delivered++
	}
	return delivered
}

// Touch refreshes the presence mirror for a user that is still connected.
func (r *Registry) Touch(userID string) {
	if r.Online(userID) {
		r.mirror(userID, true)
	}
}

func (r *Registry) setGaugeLocked() {
	metrics.ActiveChannels.Set(float64(r.total))
}

func (r *Registry) mirror(userID string, online bool) {
	if r.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()

	var err error
	if online {
		err = r.presence.SetOnline(ctx, userID)
	} else {
		err = r.presence.SetOffline(ctx, userID)
	}
	if err != nil {
		logging.Warn().Err(err).Str("user_id", userID).Bool("online", online).Msg("registry: presence update failed")
	}
}
