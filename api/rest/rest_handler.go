package rest

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/zlnvch/learnlink/models"
	"github.com/zlnvch/learnlink/service"
)

type Handler struct {
	Service *service.Service
}

func NewHandler(svc *service.Service) *Handler {
	return &Handler{Service: svc}
}

// Maximum accepted request body.
const maxBodyBytes = 1 << 20

type authResponse struct {
	User  models.User `json:"user"`
	Token string      `json:"token"`
}

type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

type successResponse struct {
	Success bool `json:"success"`
}

func (h *Handler) HandleSignUp(w http.ResponseWriter, r *http.Request) {
	var req service.SignUpParams
	if !h.decodeBody(w, r, &req) {
		return
	}

	user, token, err := h.Service.SignUp(r.Context(), req)
	if err != nil {
		h.sendError(w, "SignUp", err)
		return
	}
	h.sendJSON(w, http.StatusCreated, authResponse{User: user, Token: token})
}

func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req service.LoginParams
	if !h.decodeBody(w, r, &req) {
		return
	}

	user, token, err := h.Service.Login(r.Context(), req)
	if err != nil {
		h.sendError(w, "Login", err)
		return
	}
	h.sendResponse(w, authResponse{User: user, Token: token})
}

func (h *Handler) HandleOAuthLogin(w http.ResponseWriter, r *http.Request) {
	var req service.OAuthParams
	if !h.decodeBody(w, r, &req) {
		return
	}

	user, token, err := h.Service.OAuthLogin(r.Context(), req)
	if err != nil {
		h.sendError(w, "OAuthLogin", err)
		return
	}
	h.sendResponse(w, authResponse{User: user, Token: token})
}

func (h *Handler) HandleGetMe(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	h.sendResponse(w, user)
}

func (h *Handler) HandleDeleteMe(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	if err := h.Service.DeleteUser(r.Context(), user); err != nil {
		h.sendError(w, "DeleteUser", err)
		return
	}
	h.sendResponse(w, successResponse{Success: true})
}

func (h *Handler) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	lists, err := h.Service.ListSessions(r.Context(), user)
	if err != nil {
		h.sendError(w, "ListSessions", err)
		return
	}
	h.sendResponse(w, lists)
}

func (h *Handler) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	var req service.CreateSessionParams
	if !h.decodeBody(w, r, &req) {
		return
	}

	session, err := h.Service.CreateSession(r.Context(), user, req)
	if err != nil {
		h.sendError(w, "CreateSession", err)
		return
	}
	h.sendJSON(w, http.StatusCreated, session)
}

func (h *Handler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authenticate(w, r); !ok {
		return
	}

	session, err := h.Service.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		h.sendError(w, "GetSession", err)
		return
	}
	h.sendResponse(w, session)
}

func (h *Handler) HandleEndSession(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	session, err := h.Service.EndSession(r.Context(), user, r.PathValue("id"))
	if err != nil {
		h.sendError(w, "EndSession", err)
		return
	}
	h.sendResponse(w, session)
}

func (h *Handler) HandleDeleteSession(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	if err := h.Service.DeleteSession(r.Context(), user, r.PathValue("id")); err != nil {
		h.sendError(w, "DeleteSession", err)
		return
	}
	h.sendResponse(w, successResponse{Success: true})
}

func (h *Handler) HandleJoinMeeting(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	join, err := h.Service.JoinMeeting(r.Context(), user, r.PathValue("id"))
	if err != nil {
		h.sendError(w, "JoinMeeting", err)
		return
	}
	h.sendResponse(w, join)
}

type boardResponse struct {
	SessionId string          `json:"sessionId"`
	Strokes   []models.Stroke `json:"strokes"`
}

func (h *Handler) HandleGetBoard(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authenticate(w, r); !ok {
		return
	}

	sessionId := r.PathValue("id")
	strokes, err := h.Service.LoadBoard(r.Context(), sessionId)
	if err != nil {
		h.sendError(w, "LoadBoard", err)
		return
	}
	h.sendResponse(w, boardResponse{SessionId: sessionId, Strokes: strokes})
}

func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) (models.User, bool) {
	token := h.getTokenFromAuthHeader(r)
	user, err := h.Service.AuthenticateToken(r.Context(), token)
	if err != nil {
		h.sendJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid token"})
		return models.User{}, false
	}
	return user, true
}

func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return false
	}
	return true
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrUnauthorized),
		errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrForbidden),
		errors.Is(err, service.ErrRoleMismatch):
		return http.StatusForbidden
	case errors.Is(err, service.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrEmailTaken),
		errors.Is(err, service.ErrSessionEnded),
		errors.Is(err, service.ErrSessionNotEnded):
		return http.StatusConflict
	case errors.Is(err, service.ErrBoardFull):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) sendError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)

	resp := errorResponse{Error: err.Error()}
	var verr *service.ValidationError
	if errors.As(err, &verr) {
		resp.Fields = verr.Fields
	}
	if status == http.StatusInternalServerError {
		log.Printf("%s failed: %v", op, err)
		resp.Error = "internal error"
	}
	h.sendJSON(w, status, resp)
}

func (h *Handler) sendResponse(w http.ResponseWriter, resp any) {
	h.sendJSON(w, http.StatusOK, resp)
}

func (h *Handler) sendJSON(w http.ResponseWriter, status int, resp any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func (h *Handler) getTokenFromAuthHeader(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(authHeader, prefix) {
		return ""
	}
	return strings.TrimPrefix(authHeader, prefix)
}
