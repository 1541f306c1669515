package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/pitabwire/util"

	"github.com/antinvestor/service-messaging/internal"
	"github.com/antinvestor/service-messaging/service/business"
	"github.com/antinvestor/service-messaging/service/models"
	"github.com/antinvestor/service-messaging/service/repository"
)

const defaultPageSize = 100

// ReadSideHandler serves the HTTP read surface: conversation history,
// notification catch up and presence lookups. All endpoints except the
// presence ones require a bearer token.
type ReadSideHandler struct {
	verifier         internal.TokenVerifier
	messageRepo      repository.MessageRepository
	notificationRepo repository.NotificationRepository
	tracker          *business.PresenceTracker
}

func NewReadSideHandler(
	verifier internal.TokenVerifier,
	messageRepo repository.MessageRepository,
	notificationRepo repository.NotificationRepository,
	tracker *business.PresenceTracker,
) *ReadSideHandler {
	return &ReadSideHandler{
		verifier:         verifier,
		messageRepo:      messageRepo,
		notificationRepo: notificationRepo,
		tracker:          tracker,
	}
}

// Register wires the read side routes onto a mux.
func (rh *ReadSideHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /messages", rh.GetConversation)
	mux.HandleFunc("GET /notifications", rh.ListNotifications)
	mux.HandleFunc("POST /notifications/{id}/read", rh.MarkNotificationRead)
	mux.HandleFunc("GET /presence/last-seen", rh.GetLastSeen)
	mux.HandleFunc("GET /presence/online", rh.ListOnline)
}

func (rh *ReadSideHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	profileID, err := internal.ProfileIDFromRequest(r, rh.verifier)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err.Error())
		return
	}

	peerID := r.URL.Query().Get("peerId")
	if peerID == "" {
		respondError(w, http.StatusBadRequest, "peerId is required")
		return
	}

	messages, err := rh.messageRepo.GetConversation(ctx, profileID, peerID, pageSize(r))
	if err != nil {
		util.Log(ctx).WithError(err).Error("failed to load conversation")
		respondError(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}

	result := make([]*models.MessageData, 0, len(messages))
	for _, message := range messages {
		result = append(result, message.ToAPI())
	}
	respondJSON(w, http.StatusOK, result)
}

func (rh *ReadSideHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	profileID, err := internal.ProfileIDFromRequest(r, rh.verifier)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err.Error())
		return
	}

	notifications, err := rh.notificationRepo.GetByTargetID(ctx, profileID, pageSize(r))
	if err != nil {
		util.Log(ctx).WithError(err).Error("failed to load notifications")
		respondError(w, http.StatusInternalServerError, "failed to load notifications")
		return
	}

	result := make([]*models.NotificationData, 0, len(notifications))
	for _, notification := range notifications {
		result = append(result, notification.ToAPI())
	}
	respondJSON(w, http.StatusOK, result)
}

func (rh *ReadSideHandler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	_, err := internal.ProfileIDFromRequest(r, rh.verifier)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err.Error())
		return
	}

	id := r.PathValue("id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "notification id is required")
		return
	}

	if err = rh.notificationRepo.MarkAsRead(ctx, id); err != nil {
		util.Log(ctx).WithError(err).Error("failed to mark notification read")
		respondError(w, http.StatusInternalServerError, "failed to mark notification read")
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"read": true})
}

func (rh *ReadSideHandler) GetLastSeen(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := r.URL.Query().Get("userId")
	if userID == "" {
		respondError(w, http.StatusBadRequest, "userId is required")
		return
	}

	record, err := rh.tracker.GetLastSeen(ctx, userID)
	if err != nil {
		util.Log(ctx).WithError(err).Error("failed to load presence")
		respondError(w, http.StatusInternalServerError, "failed to load presence")
		return
	}
	if record == nil {
		respondJSON(w, http.StatusOK, &models.PresenceData{UserID: userID})
		return
	}
	respondJSON(w, http.StatusOK, record.ToAPI())
}

func (rh *ReadSideHandler) ListOnline(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	records, err := rh.tracker.ListOnlineUsers(ctx)
	if err != nil {
		util.Log(ctx).WithError(err).Error("failed to list online users")
		respondError(w, http.StatusInternalServerError, "failed to list online users")
		return
	}

	result := make([]*models.PresenceData, 0, len(records))
	for _, record := range records {
		result = append(result, record.ToAPI())
	}
	respondJSON(w, http.StatusOK, result)
}

func pageSize(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultPageSize
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 || limit > defaultPageSize {
		return defaultPageSize
	}
	return limit
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
