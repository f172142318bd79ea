package internal

import (
	"encoding/json"
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"livecart/internal/auth"
	"livecart/internal/storage"
)

var errUnauthorized = errors.New("unauthorized")

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type penaltyDTO struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Type      string    `json:"type"`
	Until     *int64    `json:"until"`
	CreatedAt time.Time `json:"createdAt"`
}

type penaltiesResponse struct {
	Penalties []penaltyDTO `json:"penalties"`
}

type chatStatusResponse struct {
	Banned bool   `json:"banned"`
	Muted  bool   `json:"muted"`
	Until  *int64 `json:"until"`
}

func (s *Server) HandleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if !s.allowAuthAttempt(w, r) {
		return
	}
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	username := strings.TrimSpace(req.Username)
	password := strings.TrimSpace(req.Password)
	if username == "" || password == "" {
		writeError(w, http.StatusBadRequest, errors.New("username and password are required"))
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	id, err := s.store.CreateUser(r.Context(), username, hash, storage.RoleUser)
	if err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			writeError(w, http.StatusConflict, errors.New("username already taken"))
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.metrics.IncSignup()
	writeJSON(w, http.StatusCreated, map[string]string{"id": id, "username": username})
}

func (s *Server) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if !s.allowAuthAttempt(w, r) {
		return
	}
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	username := strings.TrimSpace(req.Username)
	password := strings.TrimSpace(req.Password)
	if username == "" || password == "" {
		writeError(w, http.StatusBadRequest, errors.New("username and password are required"))
		return
	}
	user, err := s.store.GetUserByUsername(r.Context(), username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if user == nil || bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)) != nil {
		writeError(w, http.StatusUnauthorized, errors.New("invalid credentials"))
		return
	}
	token, expiresAt, err := s.tokens.Issue(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.setSessionCookie(w, token, expiresAt)
	s.metrics.IncLogin()
	writeJSON(w, http.StatusOK, loginResponse{ID: user.ID, Username: user.Username, Role: string(user.Role), ExpiresAt: expiresAt})
}

func (s *Server) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) HandleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, userInfo{ID: user.ID, Username: user.Username, Role: string(user.Role)})
}

// HandlePenalties lists every penalty for moderators, newest first.
func (s *Server) HandlePenalties(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	if !user.Role.CanModerate() {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}
	penalties, err := s.store.ListPenalties(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	seen := make(map[string]struct{}, len(penalties))
	ids := make([]string, 0, len(penalties))
	for _, p := range penalties {
		if _, dup := seen[p.UserID]; !dup {
			seen[p.UserID] = struct{}{}
			ids = append(ids, p.UserID)
		}
	}
	names, err := s.store.UsernamesByID(r.Context(), ids)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	resp := penaltiesResponse{Penalties: make([]penaltyDTO, 0, len(penalties))}
	for _, p := range penalties {
		username, ok := names[p.UserID]
		if !ok {
			username = "Unknown"
		}
		resp.Penalties = append(resp.Penalties, penaltyDTO{
			ID:        p.ID,
			UserID:    p.UserID,
			Username:  username,
			Type:      string(p.Kind),
			Until:     unixMillis(p.Until),
			CreatedAt: p.CreatedAt.UTC(),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleChatStatus reports the caller's own penalty. An expired timeout is
// deleted here as well.
func (s *Server) HandleChatStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	penalty, err := s.store.ActivePenalty(r.Context(), user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	status := chatStatusResponse{}
	switch {
	case penalty == nil:
	case penalty.Kind == storage.PenaltyBan:
		status.Banned = true
		status.Until = unixMillis(penalty.Until)
	case !penalty.Expired(time.Now()):
		status.Muted = true
		status.Until = unixMillis(penalty.Until)
	default:
		if err := s.store.DeletePenalty(r.Context(), penalty.ID); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) requireUser(w http.ResponseWriter, r *http.Request) (*storage.User, bool) {
	user, err := s.authenticateRequest(r)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, errUnauthorized) {
			status = http.StatusUnauthorized
		}
		http.Error(w, http.StatusText(status), status)
		return nil, false
	}
	return user, true
}

func (s *Server) authenticateRequest(r *http.Request) (*storage.User, error) {
	token := auth.TokenFromRequest(r)
	if token == "" {
		return nil, errUnauthorized
	}
	userID, err := s.tokens.Verify(token)
	if err != nil {
		return nil, errUnauthorized
	}
	user, err := s.store.GetUserByID(r.Context(), userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errUnauthorized
	}
	return user, nil
}

func (s *Server) setSessionCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	cookie := &http.Cookie{
		Name:     auth.CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	}
	if !expiresAt.IsZero() {
		cookie.Expires = expiresAt
	}
	http.SetCookie(w, cookie)
}

func (s *Server) allowAuthAttempt(w http.ResponseWriter, r *http.Request) bool {
	ip := s.clientIP(r)
	if s.authLimiter.Allow(ip) {
		return true
	}
	wait := s.authLimiter.RetryAfter(ip)
	w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
	http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
	return false
}

// clientIP is the limiter key for a request. X-Forwarded-For is only read
// when the direct peer is a trusted proxy; the client is then the rightmost
// hop that is not itself trusted.
func (s *Server) clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if !s.proxies.trusted(host) {
		return host
	}
	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if net.ParseIP(hop) == nil {
			break
		}
		if !s.proxies.trusted(hop) {
			return hop
		}
		host = hop
	}
	return host
}

func decodeJSON(r *http.Request, out interface{}) error {
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
}

// Routes mounts the websocket endpoint and the HTTP API on mux.
func (s *Server) Routes(mux *http.ServeMux, wsPath string) {
	mux.HandleFunc(wsPath, s.ServeWS)
	mux.HandleFunc("/api/auth/register", s.HandleRegister)
	mux.HandleFunc("/api/auth/login", s.HandleLogin)
	mux.HandleFunc("/api/auth/logout", s.HandleLogout)
	mux.HandleFunc("/api/auth/me", s.HandleMe)
	mux.HandleFunc("/api/chat/penalties", s.HandlePenalties)
	mux.HandleFunc("/api/chat/status", s.HandleChatStatus)
	mux.HandleFunc("/api/health", s.HandleHealth)
	mux.Handle("/metrics", s.MetricsHandler())
}
