// Package api is the HTTP side of the service: account signup/signin,
// room creation and lookup, and the paginated history read path over the
// relay's operation log.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/atulpatil/drawbridge/internal/auth"
	"github.com/atulpatil/drawbridge/internal/registry"
	"github.com/atulpatil/drawbridge/internal/store"
)

type API struct {
	store  *store.Store
	reg    *registry.Registry
	tokens auth.TokenService
	log    zerolog.Logger
}

func New(st *store.Store, reg *registry.Registry, tokens auth.TokenService, log zerolog.Logger) *API {
	return &API{
		store:  st,
		reg:    reg,
		tokens: tokens,
		log:    log.With().Str("component", "api").Logger(),
	}
}

func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"message": message})
}

// authenticate resolves the bearer token on a request. Both a bare token
// and an "Authorization: Bearer <token>" header are accepted.
func (a *API) authenticate(r *http.Request) (auth.Claims, error) {
	token := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	if token == "" {
		return auth.Claims{}, auth.ErrInvalidToken
	}
	return a.tokens.Verify(token)
}

// Auth handlers

type signupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type signinRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (a *API) SignupHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Incorrect inputs")
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Name == "" || len(req.Password) < 8 {
		errorResponse(w, http.StatusBadRequest, "Incorrect inputs")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		a.log.Error().Err(err).Msg("hash password")
		errorResponse(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	user, err := a.store.CreateUser(r.Context(), req.Email, req.Name, hash)
	if errors.Is(err, store.ErrEmailTaken) {
		errorResponse(w, http.StatusBadRequest, "User already exists")
		return
	}
	if err != nil {
		a.log.Error().Err(err).Msg("create user")
		errorResponse(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	jsonResponse(w, http.StatusCreated, map[string]any{
		"message": "User created successfully",
		"user": map[string]string{
			"id":    user.ID,
			"email": user.Email,
			"name":  user.Name,
		},
	})
}

func (a *API) SigninHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req signinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Incorrect inputs")
		return
	}

	user, err := a.store.UserByEmail(r.Context(), strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		a.log.Error().Err(err).Msg("lookup user")
		errorResponse(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if user == nil || bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(req.Password)) != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid email or password")
		return
	}

	token, err := a.tokens.Issue(user.ID, user.Email)
	if err != nil {
		a.log.Error().Err(err).Msg("issue token")
		errorResponse(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]string{
		"message": "User signed in successfully",
		"token":   token,
	})
}

// Room handlers

type createRoomRequest struct {
	Name string `json:"name"`
}

// RoomsRouter serves POST /api/rooms and GET /api/rooms/{slug}.
func (a *API) RoomsRouter(w http.ResponseWriter, r *http.Request) {
	slug := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/rooms"), "/")

	switch {
	case slug == "" && r.Method == http.MethodPost:
		a.createRoom(w, r)
	case slug != "" && r.Method == http.MethodGet:
		a.getRoom(w, r, slug)
	default:
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (a *API) createRoom(w http.ResponseWriter, r *http.Request) {
	claims, err := a.authenticate(r)
	if err != nil {
		errorResponse(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		errorResponse(w, http.StatusBadRequest, "Incorrect inputs")
		return
	}

	room, err := a.store.CreateRoom(r.Context(), slugify(req.Name), claims.UserID)
	if errors.Is(err, store.ErrSlugTaken) {
		errorResponse(w, http.StatusBadRequest, "Room already exists")
		return
	}
	if err != nil {
		a.log.Error().Err(err).Msg("create room")
		errorResponse(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	jsonResponse(w, http.StatusCreated, map[string]any{
		"message": "Room created successfully",
		"roomId":  room.ID,
		"slug":    room.Slug,
	})
}

func (a *API) getRoom(w http.ResponseWriter, r *http.Request, slug string) {
	room, err := a.store.RoomBySlug(r.Context(), slug)
	if err != nil {
		a.log.Error().Err(err).Msg("lookup room")
		errorResponse(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if room == nil {
		errorResponse(w, http.StatusNotFound, "Room not found")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]any{
		"room": map[string]any{
			"id":      room.ID,
			"slug":    room.Slug,
			"adminId": room.AdminID,
		},
	})
}

func slugify(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	return strings.Join(strings.Fields(slug), "-")
}

// History handler

// ChatsHandler serves GET /api/chats/{roomId}?limit=&before= — the
// paginated read path over the operation log, newest first.
func (a *API) ChatsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	roomID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/chats"), "/")
	if roomID == "" {
		errorResponse(w, http.StatusBadRequest, "Invalid room ID")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	before, _ := strconv.ParseInt(r.URL.Query().Get("before"), 10, 64)

	ops, err := a.store.RoomHistory(r.Context(), roomID, limit, before)
	if err != nil {
		a.log.Error().Err(err).Msg("query history")
		errorResponse(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if ops == nil {
		ops = []store.Operation{}
	}

	jsonResponse(w, http.StatusOK, map[string]any{"chats": ops})
}

// Observability handlers

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]any{
		"active_rooms":   len(a.reg.ActiveRooms()),
		"active_clients": a.reg.ConnCount(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}

	if rooms, err := a.store.CountRooms(r.Context()); err == nil {
		stats["total_rooms"] = rooms
	}
	if ops, err := a.store.CountOperations(r.Context()); err == nil {
		stats["total_operations"] = ops
	}

	jsonResponse(w, http.StatusOK, stats)
}
