package notif

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strconv"

	"pollcast/internal/common"
	"pollcast/internal/config"

	"github.com/gorilla/mux"
)

// InternalKeyHeader carries the shared secret on service-to-service routes.
const InternalKeyHeader = "X-Internal-Key"

type Handler struct {
	service  *Service
	triggers *Triggers
	cfg      *config.Config
	logger   *slog.Logger
}

func NewHandler(cfg *config.Config, service *Service, triggers *Triggers, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		service:  service,
		triggers: triggers,
		cfg:      cfg,
		logger:   logger.With("component", "http"),
	}
}

// Register mounts the notification API on r. User routes only ever see the
// caller's own records.
func (h *Handler) Register(r *mux.Router, validator common.TokenValidator) {
	api := r.PathPrefix("/api/v1").Subrouter()

	notifications := api.PathPrefix("/notifications").Subrouter()
	notifications.Use(common.AuthMiddleware(validator))
	notifications.HandleFunc("", h.List).Methods(http.MethodGet)
	notifications.HandleFunc("", h.ClearAll).Methods(http.MethodDelete)
	notifications.HandleFunc("/unread-count", h.UnreadCount).Methods(http.MethodGet)
	notifications.HandleFunc("/read-all", h.MarkAllRead).Methods(http.MethodPatch)
	notifications.HandleFunc("/{id}/read", h.MarkRead).Methods(http.MethodPatch)
	notifications.HandleFunc("/{id}", h.Delete).Methods(http.MethodDelete)

	internal := api.PathPrefix("/internal").Subrouter()
	internal.Use(h.requireInternalKey)
	internal.HandleFunc("/notifications", h.CreateSystemNotification).Methods(http.MethodPost)
	internal.HandleFunc("/events/vote", h.VoteCast).Methods(http.MethodPost)
	internal.HandleFunc("/events/comment", h.CommentPosted).Methods(http.MethodPost)
	internal.HandleFunc("/events/comment-like", h.CommentLiked).Methods(http.MethodPost)
	internal.HandleFunc("/events/comment-deleted", h.CommentDeleted).Methods(http.MethodPost)
	internal.HandleFunc("/events/poll-closed", h.PollClosed).Methods(http.MethodPost)
	internal.HandleFunc("/events/poll-created", h.PollCreated).Methods(http.MethodPost)
}

type ListResponse struct {
	Notifications []*common.Notification `json:"notifications"`
	UnreadCount   int64                  `json:"unreadCount"`
}

type CountResponse struct {
	Count int64 `json:"count"`
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	identity, _ := common.IdentityFrom(r.Context())

	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}

	notifications, err := h.service.List(r.Context(), identity.UserID, filter)
	if err != nil {
		writeError(w, err)
		return
	}
	unread, err := h.service.UnreadCount(r.Context(), identity.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	if notifications == nil {
		notifications = []*common.Notification{}
	}

	writeJSON(w, http.StatusOK, ListResponse{Notifications: notifications, UnreadCount: unread})
}

func (h *Handler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	identity, _ := common.IdentityFrom(r.Context())

	count, err := h.service.UnreadCount(r.Context(), identity.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CountResponse{Count: count})
}

func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	identity, _ := common.IdentityFrom(r.Context())

	n, err := h.service.MarkRead(r.Context(), mux.Vars(r)["id"], identity.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (h *Handler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	identity, _ := common.IdentityFrom(r.Context())

	count, err := h.service.MarkAllRead(r.Context(), identity.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CountResponse{Count: count})
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	identity, _ := common.IdentityFrom(r.Context())

	if err := h.service.Delete(r.Context(), mux.Vars(r)["id"], identity.UserID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ClearAll(w http.ResponseWriter, r *http.Request) {
	identity, _ := common.IdentityFrom(r.Context())

	count, err := h.service.ClearAll(r.Context(), identity.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CountResponse{Count: count})
}

type SystemNotificationResponse struct {
	Notification *common.Notification `json:"notification,omitempty"`
	Suppressed   bool                 `json:"suppressed"`
}

// CreateSystemNotification stores a notification on behalf of another
// service. Kind defaults to system.
func (h *Handler) CreateSystemNotification(w http.ResponseWriter, r *http.Request) {
	var req NotifyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Kind == "" {
		req.Kind = common.KindSystem
	}

	n, err := h.service.Notify(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	if n == nil {
		writeJSON(w, http.StatusOK, SystemNotificationResponse{Suppressed: true})
		return
	}
	writeJSON(w, http.StatusCreated, SystemNotificationResponse{Notification: n})
}

func (h *Handler) VoteCast(w http.ResponseWriter, r *http.Request) {
	var in VoteInput
	handleTrigger(w, r, &in, func(ctx context.Context) (*Result, error) {
		return h.triggers.VoteCast(ctx, in)
	})
}

func (h *Handler) CommentPosted(w http.ResponseWriter, r *http.Request) {
	var in CommentInput
	handleTrigger(w, r, &in, func(ctx context.Context) (*Result, error) {
		return h.triggers.CommentPosted(ctx, in)
	})
}

func (h *Handler) CommentLiked(w http.ResponseWriter, r *http.Request) {
	var in CommentLikeInput
	handleTrigger(w, r, &in, func(ctx context.Context) (*Result, error) {
		return h.triggers.CommentLiked(ctx, in)
	})
}

func (h *Handler) CommentDeleted(w http.ResponseWriter, r *http.Request) {
	var in CommentDeletedInput
	handleTrigger(w, r, &in, func(ctx context.Context) (*Result, error) {
		return h.triggers.CommentDeleted(ctx, in)
	})
}

func (h *Handler) PollClosed(w http.ResponseWriter, r *http.Request) {
	var in PollClosedInput
	handleTrigger(w, r, &in, func(ctx context.Context) (*Result, error) {
		return h.triggers.PollClosed(ctx, in)
	})
}

func (h *Handler) PollCreated(w http.ResponseWriter, r *http.Request) {
	var in PollInput
	handleTrigger(w, r, &in, func(ctx context.Context) (*Result, error) {
		return h.triggers.PollCreated(ctx, in)
	})
}

func handleTrigger(w http.ResponseWriter, r *http.Request, in interface{}, fire func(ctx context.Context) (*Result, error)) {
	if err := decodeJSON(r, in); err != nil {
		writeError(w, err)
		return
	}
	result, err := fire(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if result.Notifications == nil {
		result.Notifications = []*common.Notification{}
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) requireInternalKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := h.cfg.Server.InternalKey
		if key == "" {
			writeErrorMessage(w, http.StatusForbidden, "internal routes are disabled")
			return
		}
		if subtle.ConstantTimeCompare([]byte(r.Header.Get(InternalKeyHeader)), []byte(key)) != 1 {
			writeErrorMessage(w, http.StatusUnauthorized, "invalid internal key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func parseFilter(r *http.Request) (common.ListFilter, error) {
	q := r.URL.Query()
	filter := common.ListFilter{
		Kind:     common.NotificationKind(q.Get("type")),
		Priority: common.Priority(q.Get("priority")),
		Window:   common.Window(q.Get("window")),
	}

	if v := q.Get("unreadOnly"); v != "" {
		unread, err := strconv.ParseBool(v)
		if err != nil {
			return filter, &common.ValidationError{Field: "unreadOnly", Message: "must be a boolean"}
		}
		filter.UnreadOnly = unread
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			return filter, &common.ValidationError{Field: "limit", Message: "must be a non-negative integer"}
		}
		filter.Limit = limit
	}
	return filter, nil
}
