// ABOUTME: HTTP JSON API handlers for conversations, messages, and notifications
// ABOUTME: All /api routes run behind bearer-token auth middleware

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/lumora/deskwire/internal/auth"
	"github.com/lumora/deskwire/internal/service"
	"github.com/lumora/deskwire/internal/store"
)

// SendMessageRequest is the JSON request body for POST /api/conversations/{id}/messages.
type SendMessageRequest struct {
	Content       string  `json:"content"`
	AttachmentURL *string `json:"attachment_url,omitempty"`
}

// AssignRequest is the JSON request body for POST /api/conversations/{id}/assign.
type AssignRequest struct {
	AgentID string `json:"agent_id"`
}

// ConversationResponse is the JSON shape of a conversation.
type ConversationResponse struct {
	ID              string  `json:"id"`
	UserID          string  `json:"user_id"`
	AssignedAgentID *string `json:"assigned_agent_id,omitempty"`
	Status          string  `json:"status"`
	CreatedAt       string  `json:"created_at"`
	LastMessageAt   string  `json:"last_message_at"`
}

// ConversationDetailResponse is the JSON response for GET /api/conversations/{id}.
type ConversationDetailResponse struct {
	Conversation ConversationResponse `json:"conversation"`
	Messages     []*store.Message     `json:"messages"`
	User         store.UserRef        `json:"user"`
	Agent        *store.UserRef       `json:"agent,omitempty"`
}

// NotificationResponse is the JSON shape of a notification.
type NotificationResponse struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Body      string `json:"body"`
	IsRead    bool   `json:"is_read"`
	CreatedAt string `json:"created_at"`
}

// ListNotificationsResponse is the JSON response for GET /api/notifications.
type ListNotificationsResponse struct {
	Notifications []NotificationResponse `json:"notifications"`
	Unread        int                    `json:"unread"`
}

func conversationResponse(conv *store.Conversation) ConversationResponse {
	return ConversationResponse{
		ID:              conv.ID,
		UserID:          conv.UserID,
		AssignedAgentID: conv.AssignedAgentID,
		Status:          string(conv.Status),
		CreatedAt:       conv.CreatedAt.UTC().Format(time.RFC3339),
		LastMessageAt:   conv.LastMessageAt.UTC().Format(time.RFC3339),
	}
}

// authenticated wraps a handler with bearer-token verification and attaches
// the caller's identity to the request context.
func (g *Gateway) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			g.sendJSONError(w, http.StatusUnauthorized, "missing token")
			return
		}
		id, err := g.verifier.Verify(token)
		if err != nil {
			g.sendJSONError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
	}
}

// bearerToken extracts the token from the Authorization header, falling back
// to the token query parameter for WebSocket clients that cannot set headers.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func (g *Gateway) handleStartConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := g.service.StartConversation(r.Context())
	if err != nil {
		g.sendServiceError(w, err)
		return
	}
	g.sendJSON(w, http.StatusOK, conversationResponse(conv))
}

func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) {
	projections, err := g.service.ListConversations(r.Context())
	if err != nil {
		g.sendServiceError(w, err)
		return
	}
	if projections == nil {
		// An empty queue serializes as [], not null
		projections = []*store.ConversationProjection{}
	}
	g.sendJSON(w, http.StatusOK, projections)
}

func (g *Gateway) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	detail, err := g.service.GetConversation(r.Context(), r.PathValue("id"))
	if err != nil {
		g.sendServiceError(w, err)
		return
	}

	resp := ConversationDetailResponse{
		Conversation: conversationResponse(detail.Conversation),
		Messages:     detail.Messages,
		User:         store.UserRef{ID: detail.User.ID, Name: detail.User.Name, AvatarURL: detail.User.AvatarURL},
	}
	if detail.Agent != nil {
		resp.Agent = &store.UserRef{ID: detail.Agent.ID, Name: detail.Agent.Name, AvatarURL: detail.Agent.AvatarURL}
	}
	g.sendJSON(w, http.StatusOK, resp)
}

func (g *Gateway) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Content) == "" && req.AttachmentURL == nil {
		g.sendJSONError(w, http.StatusBadRequest, "content or attachment_url is required")
		return
	}

	msg, err := g.service.SendMessage(r.Context(), r.PathValue("id"), req.Content, req.AttachmentURL)
	if err != nil {
		g.sendServiceError(w, err)
		return
	}
	g.sendJSON(w, http.StatusOK, msg)
}

func (g *Gateway) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	if err := g.service.MarkRead(r.Context(), r.PathValue("id")); err != nil {
		g.sendServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req AssignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.AgentID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "agent_id is required")
		return
	}

	if err := g.service.Assign(r.Context(), r.PathValue("id"), req.AgentID); err != nil {
		g.sendServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleCloseConversation(w http.ResponseWriter, r *http.Request) {
	if err := g.service.Close(r.Context(), r.PathValue("id")); err != nil {
		g.sendServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleReopenConversation(w http.ResponseWriter, r *http.Request) {
	if err := g.service.Reopen(r.Context(), r.PathValue("id")); err != nil {
		g.sendServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	if err := g.service.DeleteMessage(r.Context(), r.PathValue("id")); err != nil {
		g.sendServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	notifications, err := g.notify.List(r.Context(), limit, offset)
	if err != nil {
		g.sendServiceError(w, err)
		return
	}
	unread, err := g.notify.UnreadCount(r.Context())
	if err != nil {
		g.sendServiceError(w, err)
		return
	}

	resp := ListNotificationsResponse{
		Notifications: make([]NotificationResponse, 0, len(notifications)),
		Unread:        unread,
	}
	for _, n := range notifications {
		resp.Notifications = append(resp.Notifications, NotificationResponse{
			ID:        n.ID,
			Kind:      n.Kind,
			Body:      n.Body,
			IsRead:    n.IsRead,
			CreatedAt: n.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	g.sendJSON(w, http.StatusOK, resp)
}

func (g *Gateway) handleMarkAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	if err := g.notify.MarkAllRead(r.Context()); err != nil {
		g.sendServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	if err := g.notify.MarkRead(r.Context(), r.PathValue("id")); err != nil {
		g.sendServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleDeleteNotification(w http.ResponseWriter, r *http.Request) {
	if err := g.notify.Delete(r.Context(), r.PathValue("id")); err != nil {
		g.sendServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleClearNotifications(w http.ResponseWriter, r *http.Request) {
	if err := g.notify.Clear(r.Context()); err != nil {
		g.sendServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// sendServiceError maps service and store errors to HTTP status codes.
func (g *Gateway) sendServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrUnauthenticated):
		g.sendJSONError(w, http.StatusUnauthorized, "not authenticated")
	case errors.Is(err, service.ErrPermissionDenied):
		g.sendJSONError(w, http.StatusForbidden, "permission denied")
	case errors.Is(err, store.ErrNotFound):
		g.sendJSONError(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrConversationClosed):
		g.sendJSONError(w, http.StatusConflict, "conversation is closed")
	case errors.Is(err, store.ErrDuplicateOpenConversation):
		g.sendJSONError(w, http.StatusConflict, "user already has an open conversation")
	default:
		g.logger.Error("request failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Error("failed to encode response", "error", err)
	}
}

func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
