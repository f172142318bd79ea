package internal

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"livecart/internal/auth"
	"livecart/internal/storage"
)

// Server owns the relay state for one process: the hub of connections, the
// presence registry and the chat/moderation components, plus the HTTP API
// around them.
type Server struct {
	store       *storage.Store
	tokens      *auth.TokenService
	hub         *Hub
	presence    *PresenceRegistry
	signaling   *SignalingRelay
	chat        *ChatRelay
	moderation  *ModerationPolicy
	metrics     *Metrics
	authLimiter *RateLimiter
	proxies     proxyList
	logger      *slog.Logger
	upgrader    websocket.Upgrader
	secure      bool

	ctx    context.Context
	cancel context.CancelFunc
}

// ServerOptions configures NewServer.
type ServerOptions struct {
	Store  *storage.Store
	Tokens *auth.TokenService
	Logger *slog.Logger
	// AllowedOrigins restricts websocket upgrades by Origin header. Empty allows all.
	AllowedOrigins []string
	// SecureCookies marks the session cookie Secure.
	SecureCookies bool
	// TrustedProxies lists addresses or CIDR ranges allowed to set
	// X-Forwarded-For. Empty means the header is ignored.
	TrustedProxies []string
}

func NewServer(opts ServerOptions) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := NewMetrics()
	hub := NewHub(logger, metrics)
	presence := NewPresenceRegistry(hub, opts.Store, metrics, logger)
	proxies, err := parseProxies(opts.TrustedProxies)
	if err != nil {
		logger.Warn("ignoring trusted proxies", "error", err)
		proxies = nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		store:       opts.Store,
		tokens:      opts.Tokens,
		hub:         hub,
		presence:    presence,
		signaling:   NewSignalingRelay(presence, hub, metrics, logger),
		chat:        NewChatRelay(opts.Store, hub, metrics, logger),
		moderation:  NewModerationPolicy(opts.Store, opts.Store, hub, metrics, logger),
		metrics:     metrics,
		authLimiter: NewRateLimiter(10, time.Minute),
		proxies:     proxies,
		logger:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(opts.AllowedOrigins),
		},
		secure: opts.SecureCookies,
		ctx:    ctx,
		cancel: cancel,
	}
}

// MetricsHandler exposes the relay's Prometheus registry.
func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

// Shutdown cancels in-flight handlers and hangs up on every peer.
func (s *Server) Shutdown() {
	s.cancel()
	s.hub.Close()
}

// ServeWS upgrades the request and runs the connection until it closes. The
// identity comes from the session token on the handshake; without a valid one
// the peer stays anonymous and can only watch.
func (s *Server) ServeWS(writer http.ResponseWriter, request *http.Request) {
	identity := s.resolveIdentity(request)
	websocketConn, err := s.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		s.logger.Warn("upgrade error", "error", err)
		return
	}

	peer := Peer{ID: uuid.NewString(), Identity: identity}
	client := newClient(peer.ID, s.hub, websocketConn)
	client.session = s.newSession(peer)
	// hello is queued before registration so no broadcast can overtake it.
	hello, err := encodeFrame(EventHello, client.session.Hello())
	if err != nil {
		s.logger.Error("encode hello", "error", err)
		_ = websocketConn.Close()
		return
	}
	client.send <- hello
	s.hub.register(client)
	s.metrics.IncConn()
	s.logger.Debug("peer connected", "conn", peer.ID, "authenticated", identity != nil)

	go client.writePump()
	client.session.Open(s.ctx)
	go client.readPump(s.ctx, func() {
		s.metrics.DecConn()
		s.logger.Debug("peer disconnected", "conn", peer.ID)
	})
}

func (s *Server) resolveIdentity(request *http.Request) *Identity {
	token := auth.TokenFromRequest(request)
	if token == "" {
		return nil
	}
	userID, err := s.tokens.Verify(token)
	if err != nil {
		return nil
	}
	user, err := s.store.GetUserByID(request.Context(), userID)
	if err != nil {
		s.logger.Error("resolve identity", "user", userID, "error", err)
		return nil
	}
	if user == nil {
		return nil
	}
	return &Identity{UserID: user.ID, Username: user.Username, Role: user.Role}
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		set[strings.TrimRight(strings.ToLower(origin), "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if _, ok := set[strings.ToLower(origin)]; ok {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && u.Hostname() == "localhost"
	}
}
