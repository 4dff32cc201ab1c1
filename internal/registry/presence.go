package registry

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Cube0fDestiny/angular-projekt-sub000/internal/httputil"
)

const presenceKeyPrefix = "presence:"

// RedisPresence stores presence:<userId> with a TTL so other instances can
// tell who is connected anywhere. Keys of a crashed instance expire.
type RedisPresence struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisPresence(client *redis.Client, ttl time.Duration) *RedisPresence {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisPresence{client: client, ttl: ttl}
}

var _ Presence = (*RedisPresence)(nil)

func (p *RedisPresence) SetOnline(ctx context.Context, userID string) error {
	ts := time.Now().UTC().Format(time.RFC3339)
	return p.client.Set(ctx, presenceKeyPrefix+userID, ts, p.ttl).Err()
}

func (p *RedisPresence) SetOffline(ctx context.Context, userID string) error {
	return p.client.Del(ctx, presenceKeyPrefix+userID).Err()
}

// OnlineMany reports which of userIDs have a live presence key.
func (p *RedisPresence) OnlineMany(ctx context.Context, userIDs []string) (map[string]bool, error) {
	out := make(map[string]bool, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	keys := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		keys = append(keys, presenceKeyPrefix+id)
	}
	values, err := p.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range values {
		str, ok := v.(string)
		out[userIDs[i]] = ok && str != ""
	}
	return out, nil
}

// PresenceHandler serves GET /presence?userIds=a,b. With a Redis mirror the
// answer covers every instance; without one only this process is consulted.
type PresenceHandler struct {
	registry *Registry
	redis    *RedisPresence
}

func NewPresenceHandler(r *Registry, rp *RedisPresence) *PresenceHandler {
	return &PresenceHandler{registry: r, redis: rp}
}

const maxPresenceIDs = 100

func (h *PresenceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var ids []string
	for _, id := range strings.Split(r.URL.Query().Get("userIds"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		httputil.WriteError(w, http.StatusBadRequest, "userIds is required")
		return
	}
	if len(ids) > maxPresenceIDs {
		httputil.WriteError(w, http.StatusBadRequest, "too many userIds")
		return
	}

	var online map[string]bool
	if h.redis != nil {
		var err error
		online, err = h.redis.OnlineMany(r.Context(), ids)
		if err != nil {
			httputil.WriteError(w, http.StatusServiceUnavailable, "presence unavailable")
			return
		}
	} else {
		online = make(map[string]bool, len(ids))
		for _, id := range ids {
			online[id] = h.registry.Online(id)
		}
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"online": online})
}
