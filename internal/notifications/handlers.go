package notifications

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/Cube0fDestiny/angular-projekt-sub000/internal/auth"
	"github.com/Cube0fDestiny/angular-projekt-sub000/internal/httputil"
	"github.com/Cube0fDestiny/angular-projekt-sub000/internal/logging"
	"github.com/Cube0fDestiny/angular-projekt-sub000/internal/metrics"
)

var validate = validator.New()

// Handlers provides HTTP handlers for the notifications API.
type Handlers struct {
	store           Store
	pusher          Pusher
	defaultPageSize int
	maxPageSize     int
}

// NewHandlers creates a new Handlers. pusher may be nil.
func NewHandlers(store Store, pusher Pusher, defaultPageSize, maxPageSize int) *Handlers {
	if maxPageSize <= 0 {
		maxPageSize = 100
	}
	if defaultPageSize <= 0 {
		defaultPageSize = 20
	}
	// The configured cap always wins over the default.
	if defaultPageSize > maxPageSize {
		defaultPageSize = maxPageSize
	}
	return &Handlers{
		store:           store,
		pusher:          pusher,
		defaultPageSize: defaultPageSize,
		maxPageSize:     maxPageSize,
	}
}

// RegisterRoutes wires the notification endpoints onto r. The caller is
// expected to have put the authenticated user id in the request context.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/notifications", h.List).Methods(http.MethodGet)
	r.HandleFunc("/notifications", h.Create).Methods(http.MethodPost)
	r.HandleFunc("/notifications", h.DeleteAll).Methods(http.MethodDelete)
	r.HandleFunc("/notifications/unread-count", h.UnreadCount).Methods(http.MethodGet)
	r.HandleFunc("/notifications/read-all", h.MarkAllRead).Methods(http.MethodPatch)
	r.HandleFunc("/notifications/{id}/read", h.MarkRead).Methods(http.MethodPatch)
	r.HandleFunc("/notifications/{id}", h.Delete).Methods(http.MethodDelete)
}

func getUserID(r *http.Request) string {
	id, _ := auth.UserIDFromContext(r.Context())
	return id
}

// List handles GET /notifications?limit=&offset=
func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	userID := getUserID(r)
	if userID == "" {
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	q := r.URL.Query()
	limit, err := queryInt(q.Get("limit"), h.defaultPageSize)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	offset, err := queryInt(q.Get("offset"), 0)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}
	if limit == 0 {
		limit = h.defaultPageSize
	}
	if limit > h.maxPageSize {
		limit = h.maxPageSize
	}

	notifications, total, err := h.store.List(r.Context(), ListParams{UserID: userID, Limit: limit, Offset: offset})
	if err != nil {
		h.internalError(w, r, "list notifications", err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"notifications": notifications,
		"total":         total,
		"limit":         limit,
		"offset":        offset,
	})
}

// UnreadCount handles GET /notifications/unread-count
func (h *Handlers) UnreadCount(w http.ResponseWriter, r *http.Request) {
	userID := getUserID(r)
	if userID == "" {
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	count, err := h.store.CountUnread(r.Context(), userID)
	if err != nil {
		h.internalError(w, r, "count unread", err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]int{"unreadCount": count})
}

// MarkRead handles PATCH /notifications/{id}/read
func (h *Handlers) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID := getUserID(r)
	if userID == "" {
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	n, err := h.store.MarkRead(r.Context(), mux.Vars(r)["id"], userID)
	if errors.Is(err, ErrNotFound) {
		httputil.WriteError(w, http.StatusNotFound, "notification not found")
		return
	}
	if err != nil {
		h.internalError(w, r, "mark read", err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, n)
}

// MarkAllRead handles PATCH /notifications/read-all
func (h *Handlers) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID := getUserID(r)
	if userID == "" {
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	count, err := h.store.MarkAllRead(r.Context(), userID)
	if err != nil {
		h.internalError(w, r, "mark all read", err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"message": "all notifications marked as read",
		"count":   count,
	})
}

// Delete handles DELETE /notifications/{id}
func (h *Handlers) Delete(w http.ResponseWriter, r *http.Request) {
	userID := getUserID(r)
	if userID == "" {
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	err := h.store.Delete(r.Context(), mux.Vars(r)["id"], userID)
	if errors.Is(err, ErrNotFound) {
		httputil.WriteError(w, http.StatusNotFound, "notification not found")
		return
	}
	if err != nil {
		h.internalError(w, r, "delete notification", err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]string{"message": "notification deleted"})
}

// DeleteAll handles DELETE /notifications
func (h *Handlers) DeleteAll(w http.ResponseWriter, r *http.Request) {
	userID := getUserID(r)
	if userID == "" {
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	count, err := h.store.DeleteAll(r.Context(), userID)
	if err != nil {
		h.internalError(w, r, "delete all notifications", err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"message": "all notifications deleted",
		"count":   count,
	})
}

// CreateRequest is the body of POST /notifications.
type CreateRequest struct {
	UserID  string          `json:"userId" validate:"required,max=255"`
	Type    string          `json:"type" validate:"omitempty,max=100"`
	Title   string          `json:"title" validate:"required,max=255"`
	Message string          `json:"message" validate:"max=2000"`
	Data    json.RawMessage `json:"data"`
}

// Create handles POST /notifications. It bypasses the router: the row is
// stored as given and then pushed to the user if online.
func (h *Handlers) Create(w http.ResponseWriter, r *http.Request) {
	if getUserID(r) == "" {
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req CreateRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	req.Title = strings.TrimSpace(req.Title)
	if err := validate.Struct(req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "userId and title are required")
		return
	}
	if len(req.Data) > 0 && string(req.Data) != "null" && !isJSONObject(req.Data) {
		httputil.WriteError(w, http.StatusBadRequest, "data must be a JSON object")
		return
	}

	n := &Notification{
		UserID:  req.UserID,
		Type:    req.Type,
		Title:   req.Title,
		Message: req.Message,
	}
	if isJSONObject(req.Data) {
		n.Data = req.Data
	}
	if err := h.store.Insert(r.Context(), n); err != nil {
		h.internalError(w, r, "create notification", err)
		return
	}
	metrics.NotificationsPersisted.WithLabelValues(n.Type, "api").Inc()

	if h.pusher != nil {
		h.pusher.Push(n.UserID, EventNewNotification, n.Payload())
	}

	httputil.WriteJSON(w, http.StatusCreated, n)
}

func (h *Handlers) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	logging.Error().Err(err).
		Str("op", op).
		Str("user_id", getUserID(r)).
		Msg("notifications: request failed")
	httputil.WriteError(w, http.StatusInternalServerError, "internal server error")
}

func queryInt(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, errors.New("invalid integer")
	}
	return v, nil
}

func isJSONObject(raw json.RawMessage) bool {
	var m map[string]any
	return len(raw) > 0 && json.Unmarshal(raw, &m) == nil && m != nil
}
