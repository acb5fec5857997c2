package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"routemate/internal/auth"
	"routemate/internal/authsync"
	"routemate/internal/platform/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	stateBuffer    = 16
)

// streamMessage is sent by the client over the auth-state stream.
type streamMessage struct {
	Type  string `json:"type"`
	Token string `json:"token,omitempty"`
}

// AuthStateHandler serves the unified auth state over a websocket. Each
// connection gets its own identity client and Syncer; the client drives
// sign-in and sign-out with messages and receives every published state.
type AuthStateHandler struct {
	auth     *auth.Service
	profiles authsync.ProfileWatcher
	opts     []authsync.Option
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewAuthStateHandler creates a handler. allowedOrigins limits browser
// origins; requests without an Origin header are accepted.
func NewAuthStateHandler(authSvc *auth.Service, watcher authsync.ProfileWatcher, allowedOrigins []string, logger *slog.Logger, opts ...authsync.Option) *AuthStateHandler {
	return &AuthStateHandler{
		auth:     authSvc,
		profiles: watcher,
		opts:     append([]authsync.Option{authsync.WithLogger(logger)}, opts...),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: logger,
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || slices.Contains(allowed, "*") {
			return true
		}
		if slices.ContainsFunc(allowed, func(o string) bool { return strings.EqualFold(o, origin) }) {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
}

// Stream handles GET /api/auth/state.
func (h *AuthStateHandler) Stream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written the error response.
		h.logger.Warn("auth state upgrade failed", "error", err)
		return
	}
	metrics.AuthStateStreams.Inc()
	defer metrics.AuthStateStreams.Dec()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	client := auth.NewClient(h.auth)
	syncer := authsync.New(client, h.profiles, h.opts...)
	ctx = authsync.NewContext(ctx, syncer.Store())

	errs := make(chan string, 4)
	subscribed := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writePump(ctx, conn, errs, subscribed)
		cancel()
	}()

	// The writer must see the initial loading state.
	<-subscribed
	syncer.Start(ctx)

	h.readPump(ctx, conn, client, errs)

	cancel()
	syncer.Close()
	client.Close()
	_ = conn.Close()
	<-done
}

// readPump applies client messages until the connection fails.
func (h *AuthStateHandler) readPump(ctx context.Context, conn *websocket.Conn, client *auth.Client, errs chan<- string) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("auth state stream closed", "error", err)
			}
			return
		}

		var msg streamMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			report(errs, "invalid message")
			continue
		}

		switch msg.Type {
		case "signIn":
			if _, err := client.SignInWithToken(ctx, msg.Token); err != nil {
				if !errors.Is(err, auth.ErrInvalidToken) && !errors.Is(err, auth.ErrNoSession) {
					h.logger.Error("auth state sign-in failed", "error", err)
				}
				report(errs, "invalid token")
			}
		case "signOut":
			if err := client.SignOut(ctx); err != nil {
				h.logger.Warn("auth state sign-out failed", "error", err)
				report(errs, "sign out failed")
			}
		default:
			report(errs, "unknown message type")
		}
	}
}

// writePump is the connection's only writer. It streams the store carried
// by ctx and closes subscribed once it is listening.
func (h *AuthStateHandler) writePump(ctx context.Context, conn *websocket.Conn, errs <-chan string, subscribed chan<- struct{}) {
	store, ok := authsync.FromContext(ctx)
	if !ok {
		close(subscribed)
		h.logger.Error("auth state stream has no store")
		return
	}
	states, unsubscribe := store.Subscribe(stateBuffer)
	defer unsubscribe()
	close(subscribed)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case state, ok := <-states:
			if !ok {
				return
			}
			if err := writeFrame(conn, state); err != nil {
				return
			}
		case msg := <-errs:
			if err := writeFrame(conn, map[string]string{"error": msg}); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeFrame(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

func report(errs chan<- string, msg string) {
	select {
	case errs <- msg:
	default:
	}
}
