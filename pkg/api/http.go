// Package api is the JSON surface of the chat subsystem. All domain
// errors are recovered here and mapped to status codes; nothing crashes
// the subsystem.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"supportchat/pkg/auth"
	"supportchat/pkg/chat"
	"supportchat/pkg/models"
	"supportchat/pkg/telemetry"
	"supportchat/pkg/utils"
)

type handler struct {
	router *chat.Router
}

// Handler returns the /v1 API plus the websocket endpoint. The auth
// middleware must run in front of it.
func Handler(router *chat.Router, wsHandler http.Handler) http.Handler {
	h := &handler{router: router}
	r := mux.NewRouter()

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/sessions", h.createSession).Methods(http.MethodPost)
	v1.HandleFunc("/sessions", h.listSessions).Methods(http.MethodGet)
	v1.HandleFunc("/sessions/{id}", h.getSession).Methods(http.MethodGet)
	v1.HandleFunc("/sessions/{id}/messages", h.listMessages).Methods(http.MethodGet)
	v1.HandleFunc("/sessions/{id}/messages", h.sendMessage).Methods(http.MethodPost)
	v1.HandleFunc("/sessions/{id}/typing", h.listTyping).Methods(http.MethodGet)
	v1.HandleFunc("/sessions/{id}/end", h.endSession).Methods(http.MethodPost)
	v1.HandleFunc("/sessions/{id}/assign", h.assign).Methods(http.MethodPost)
	v1.HandleFunc("/sessions/{id}/status", h.setStatus).Methods(http.MethodPost)
	v1.Handle("/ws", wsHandler).Methods(http.MethodGet)

	return r
}

func (h *handler) createSession(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		utils.JSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req struct {
		Kind models.SessionKind `json:"kind"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Kind == "" {
		req.Kind = models.KindSupport
	}
	s, err := h.router.CreateSession(id.Participant, req.Kind)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusCreated, s)
}

func (h *handler) listSessions(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok || id.Role != models.RoleAdmin {
		utils.JSONError(w, http.StatusForbidden, "admin only")
		return
	}
	if r.URL.Query().Get("status") != string(models.StatusWaiting) {
		utils.JSONError(w, http.StatusBadRequest, "only status=waiting is supported")
		return
	}
	sessions, err := h.router.ListWaiting()
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	if sessions == nil {
		sessions = []*models.Session{}
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Sessions []*models.Session `json:"sessions"`
	}{Sessions: sessions})
}

func (h *handler) getSession(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		utils.JSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	s, err := h.router.Session(mux.Vars(r)["id"], id.Participant, id.Role)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, s)
}

func (h *handler) listMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		utils.JSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var after uint64
	if v := r.URL.Query().Get("after"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			utils.JSONError(w, http.StatusBadRequest, "invalid after")
			return
		}
		after = n
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			utils.JSONError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	sessionID := mux.Vars(r)["id"]
	end := telemetry.StartSpan(r.Context(), "list_messages")
	defer end()
	msgs, err := h.router.History(sessionID, id.Participant, id.Role, after, limit)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Session  string           `json:"session"`
		Messages []models.Message `json:"messages"`
	}{Session: sessionID, Messages: msgs})
}

func (h *handler) sendMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		utils.JSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	end := telemetry.StartSpan(r.Context(), "send_message")
	defer end()
	telemetry.SetSpanData(r.Context(), "session", mux.Vars(r)["id"])
	m, err := h.router.SendMessage(mux.Vars(r)["id"], id.Participant, id.Role, req.Content)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusCreated, m)
}

func (h *handler) listTyping(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		utils.JSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	sessionID := mux.Vars(r)["id"]
	if _, err := h.router.Session(sessionID, id.Participant, id.Role); err != nil {
		writeDomainErr(w, err)
		return
	}
	typing := h.router.TypingParticipants(sessionID)
	if typing == nil {
		typing = []string{}
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Session string   `json:"session"`
		Typing  []string `json:"typing"`
	}{Session: sessionID, Typing: typing})
}

func (h *handler) endSession(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		utils.JSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	s, err := h.router.EndSession(mux.Vars(r)["id"], id.Participant)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, s)
}

func (h *handler) assign(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok || id.Role != models.RoleAdmin {
		utils.JSONError(w, http.StatusForbidden, "admin only")
		return
	}
	s, err := h.router.Assign(mux.Vars(r)["id"], id.Participant)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, s)
}

func (h *handler) setStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok || id.Role != models.RoleAdmin {
		utils.JSONError(w, http.StatusForbidden, "admin only")
		return
	}
	var req struct {
		Status models.SessionStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	s, err := h.router.SetStatus(mux.Vars(r)["id"], id.Participant, req.Status)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, s)
}

// writeDomainErr maps router errors onto HTTP status codes. Assignment
// race losers additionally learn the winning admin so the UI can redirect.
func writeDomainErr(w http.ResponseWriter, err error) {
	var aa *chat.AlreadyAssignedError
	if errors.As(err, &aa) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(models.ErrorPayload{
			Code:    chat.CodeAlreadyAssigned,
			Message: err.Error(),
			Admin:   aa.Admin,
		})
		return
	}
	status := http.StatusInternalServerError
	switch chat.CodeOf(err) {
	case chat.CodeValidation:
		status = http.StatusBadRequest
	case chat.CodeNotAMember:
		status = http.StatusForbidden
	case chat.CodeUnknownSession:
		status = http.StatusNotFound
	case chat.CodeInvalidTransition, chat.CodeSessionTerminal:
		status = http.StatusConflict
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(models.ErrorPayload{Code: chat.CodeOf(err), Message: err.Error()})
}
