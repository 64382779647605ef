package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Marco-Polo-coding/TFG-Jose-Abreu/cmd/internal/auth"
	"github.com/Marco-Polo-coding/TFG-Jose-Abreu/cmd/internal/chat"
	v1 "github.com/Marco-Polo-coding/TFG-Jose-Abreu/shared/contracts/directchat/v1"

	"github.com/coder/websocket"
)

// ChatService is the slice of chat.Service the gateway needs.
type ChatService interface {
	Conversation(ctx context.Context, caller, conversationID string) (chat.Conversation, error)
	SendMessage(ctx context.Context, req chat.SendMessageRequest) (chat.Message, error)
	MarkRead(ctx context.Context, caller, conversationID string) (int, error)
	LookupUser(ctx context.Context, id string) (chat.User, error)
}

// GatewayConfig tunes the gateway. Zero values fall back to defaults.
type GatewayConfig struct {
	// Origin policy. A request without Origin is rejected when OriginRequired.
	OriginRequired bool
	AllowedOrigins []string

	// InsecureSkipVerify disables coder/websocket's own origin check (dev only).
	InsecureSkipVerify bool

	WriteTimeout    time.Duration
	ReadIdleTimeout time.Duration
	// AuthTimeout bounds the wait for the first-frame handshake.
	AuthTimeout   time.Duration
	SendQueueSize int

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	RateEvents int
	RateWindow time.Duration

	// TypingTimeout is how long a presence entry survives without refresh.
	TypingTimeout time.Duration
	// SweepInterval is how often expired presence entries are collected.
	SweepInterval time.Duration
}

// DefaultGatewayConfig returns secure defaults: Origin required, localhost only.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		OriginRequired:    true,
		AllowedOrigins:    []string{"http://localhost", "http://127.0.0.1"},
		WriteTimeout:      defaultWriteTimeout,
		ReadIdleTimeout:   defaultReadIdle,
		AuthTimeout:       defaultAuthTimeout,
		SendQueueSize:     defaultSendQueueSize,
		HeartbeatInterval: heartbeatInterval,
		HeartbeatTimeout:  heartbeatTimeout,
		RateEvents:        rateLimitEvents,
		RateWindow:        rateLimitWindow,
		TypingTimeout:     typingTimeout,
		SweepInterval:     typingSweepInterval,
	}
}

func (c GatewayConfig) withDefaults() GatewayConfig {
	def := DefaultGatewayConfig()
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.ReadIdleTimeout <= 0 {
		c.ReadIdleTimeout = def.ReadIdleTimeout
	}
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = def.AuthTimeout
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = def.SendQueueSize
	}
	if c.SendQueueSize < minSendQueueSize {
		c.SendQueueSize = minSendQueueSize
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = def.HeartbeatTimeout
	}
	if c.RateEvents <= 0 {
		c.RateEvents = def.RateEvents
	}
	if c.RateWindow <= 0 {
		c.RateWindow = def.RateWindow
	}
	if c.TypingTimeout <= 0 {
		c.TypingTimeout = def.TypingTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = def.SweepInterval
	}
	return c
}

// Gateway is the WebSocket entrypoint for direct chats.
//
// It authenticates and authorizes each connection, registers it in the Hub,
// and translates inbound events into ChatService calls plus fan-out.
type Gateway struct {
	log      *slog.Logger
	hub      *Hub
	chat     ChatService
	verifier auth.Verifier
	metrics  *Metrics
	cfg      GatewayConfig

	// Derived for websocket.Accept origin checks.
	// Accept() authorizes same-host origins by default, but for cross-origin it requires OriginPatterns.
	originPatterns []string

	now func() time.Time
}

// GatewayOption configures optional Gateway dependencies.
type GatewayOption func(*Gateway)

// WithMetrics sets the Prometheus instruments.
func WithMetrics(m *Metrics) GatewayOption {
	return func(g *Gateway) {
		if m != nil {
			g.metrics = m
		}
	}
}

// WithGatewayClock overrides the wall clock used for presence timestamps.
func WithGatewayClock(now func() time.Time) GatewayOption {
	return func(g *Gateway) {
		if now != nil {
			g.now = now
		}
	}
}

// NewGateway constructs a Gateway over hub. hub, svc and verifier are required.
func NewGateway(log *slog.Logger, hub *Hub, svc ChatService, verifier auth.Verifier, cfg GatewayConfig, opts ...GatewayOption) (*Gateway, error) {
	if hub == nil {
		return nil, errors.New("realtime: nil hub")
	}
	if svc == nil {
		return nil, errors.New("realtime: nil chat service")
	}
	if verifier == nil {
		return nil, errors.New("realtime: nil verifier")
	}
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	g := &Gateway{
		log:      log,
		hub:      hub,
		chat:     svc,
		verifier: verifier,
		cfg:      cfg.withDefaults(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	if g.metrics == nil {
		g.metrics = NewMetrics(nil)
	}

	// websocket.Accept enforces its own origin policy; derive its patterns from
	// the allowlist so both layers agree.
	g.originPatterns = deriveOriginPatternsFromAllowedOrigins(g.cfg.AllowedOrigins)
	return g, nil
}

// Hub returns the Gateway State.
func (g *Gateway) Hub() *Hub { return g.hub }

// ServeHTTP upgrades GET /ws/direct-chats/{chat_id} and runs the connection.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	chatID := strings.TrimSpace(r.PathValue("chat_id"))
	if chatID == "" {
		writeHTTPError(w, http.StatusBadRequest, "bad_request", "missing chat id")
		return
	}

	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		writeHTTPError(w, http.StatusForbidden, "forbidden", "origin not allowed")
		return
	}

	// Header credentials are checked before the upgrade so failures surface as HTTP statuses.
	userID := ""
	if token := auth.BearerToken(r); token != "" {
		id, err := g.verifier.Verify(token, g.now())
		if err != nil {
			g.metrics.authFailures.WithLabelValues("invalid_token").Inc()
			g.log.Info("ws.reject.auth", "conversation_id", chatID, "remote", r.RemoteAddr, "err", err)
			writeHTTPError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
			return
		}
		if err := g.authorize(r.Context(), id.UserID, chatID); err != nil {
			status, _, reason := membershipFailure(err)
			g.metrics.authFailures.WithLabelValues(reason).Inc()
			g.log.Info("ws.reject.membership", "conversation_id", chatID, "user_id", id.UserID, "err", err)
			writeHTTPError(w, status, reason, chat.PublicMessage(err, http.StatusText(status)))
			return
		}
		userID = id.UserID
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{v1.Subprotocol},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.cfg.InsecureSkipVerify,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	conn.SetReadLimit(maxFrameBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if userID == "" {
		uid, code, reason := g.firstFrameAuth(ctx, conn, chatID)
		if uid == "" {
			g.metrics.authFailures.WithLabelValues(reason).Inc()
			g.log.Info("ws.reject.handshake", "conversation_id", chatID, "remote", r.RemoteAddr, "reason", reason)
			_ = conn.Close(code, reason)
			return
		}
		userID = uid
	}

	g.serveConn(ctx, cancel, conn, userID, chatID)
}

// firstFrameAuth runs the one-shot handshake. On failure uid is empty and
// code/reason describe how to close.
func (g *Gateway) firstFrameAuth(ctx context.Context, conn *websocket.Conn, chatID string) (uid string, code websocket.StatusCode, reason string) {
	actx, acancel := context.WithTimeout(ctx, g.cfg.AuthTimeout)
	in, err := readInbound(actx, conn)
	acancel()
	if err != nil {
		if errors.Is(err, errBadFrame) {
			return "", websocket.StatusCode(v1.CloseUnauthorized), "auth_required"
		}
		return "", websocket.StatusCode(v1.CloseUnauthorized), "auth_timeout"
	}
	if in.Event != v1.EventAuth || strings.TrimSpace(in.Token) == "" {
		return "", websocket.StatusCode(v1.CloseUnauthorized), "auth_required"
	}

	id, err := g.verifier.Verify(in.Token, g.now())
	if err != nil {
		return "", websocket.StatusCode(v1.CloseUnauthorized), "invalid_token"
	}
	if err := g.authorize(ctx, id.UserID, chatID); err != nil {
		_, closeCode, reason := membershipFailure(err)
		g.log.Info("ws.handshake.membership", "conversation_id", chatID, "user_id", id.UserID, "err", err)
		return "", closeCode, reason
	}
	return id.UserID, 0, ""
}

func (g *Gateway) authorize(ctx context.Context, userID, chatID string) error {
	_, err := g.chat.Conversation(ctx, userID, chatID)
	return err
}

// membershipFailure maps a chat authorization error to an HTTP status, close code and reason.
func membershipFailure(err error) (int, websocket.StatusCode, string) {
	switch {
	case chat.IsNotFound(err):
		return http.StatusNotFound, websocket.StatusCode(v1.CloseNotFound), "not_found"
	case chat.IsForbidden(err):
		return http.StatusForbidden, websocket.StatusCode(v1.CloseForbidden), "forbidden"
	case chat.IsInvalidInput(err):
		return http.StatusBadRequest, websocket.StatusPolicyViolation, "bad_request"
	default:
		return http.StatusInternalServerError, websocket.StatusInternalError, "server_error"
	}
}

// session is the per-connection state owned by the read loop.
type session struct {
	client *Client
	log    *slog.Logger

	nameResolved bool
	displayName  string
}

func (g *Gateway) serveConn(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, userID, chatID string) {
	client := NewClient(NewConnID(), userID, chatID, g.cfg.SendQueueSize)
	log := g.log.With("conn_id", client.ID, "user_id", userID, "conversation_id", chatID)
	sess := &session{client: client, log: log}

	var closeOnce sync.Once

	// shutdown is idempotent. It does NOT close client.send.
	// The client leaves the Hub before Close so no broadcaster targets a torn-down client.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			if cleared := g.hub.Leave(client); cleared != nil {
				g.deliver(cleared.Recipients, v1.EventTyping, encodeFrame(v1.TypingFrame{
					Event:    v1.EventTyping,
					User:     cleared.UserID,
					UserName: cleared.DisplayName,
					Typing:   false,
				}))
			}
			g.metrics.observeHub(g.hub)

			client.Close()
			_ = conn.Close(code, reason)
			cancel()
			log.Info("ws.disconnect", "reason", reason)
		})
	}
	client.kick = shutdown

	// Queued before Join so it is always the first frame the client sees.
	client.Enqueue(encodeFrame(v1.ConnectedFrame{
		Event:  v1.EventConnected,
		ChatID: chatID,
		User:   userID,
		ConnID: client.ID,
	}))
	g.hub.Join(client)
	g.metrics.observeHub(g.hub)
	log.Info("ws.connect")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case frame := <-client.send:
				if err := writeFrame(ctx, conn, frame, g.cfg.WriteTimeout); err != nil {
					log.Info("ws.write.fail", "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.cfg.HeartbeatInterval)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					log.Info("ws.ping.fail", "failures", failures, "err", err)
					if failures >= maxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

	rl := NewRateLimiter(g.cfg.RateEvents, g.cfg.RateWindow)

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		in, err := readInbound(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrBadFrame:
				log.Info("ws.frame.bad", "err", err)
				g.sendError(client, "bad_json", "invalid JSON")
				continue readLoop
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
			default:
				log.Info("ws.read.fail", "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
			}
			break readLoop
		}

		if !rl.Allow(time.Now()) {
			log.Warn("ws.rate_limited")
			g.writeTerminalError(ctx, conn, "rate_limited", "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		g.metrics.inbound.WithLabelValues(eventLabel(in.Event)).Inc()
		g.dispatch(ctx, sess, in)
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(closeGrace):
	}
}

// ---- event handlers ----

func (g *Gateway) dispatch(ctx context.Context, s *session, in v1.Inbound) {
	switch in.Event {
	case v1.EventMessage:
		g.onMessage(ctx, s, in)
	case v1.EventTyping:
		g.onTyping(ctx, s)
	case v1.EventStopTyping:
		g.onStopTyping(s)
	case v1.EventRead:
		g.onRead(ctx, s)
	case v1.EventAuth:
		// Already authenticated; a repeated handshake is harmless.
	default:
		g.sendError(s.client, "unsupported", fmt.Sprintf("unsupported event: %s", in.Event))
	}
}

func (g *Gateway) onMessage(ctx context.Context, s *session, in v1.Inbound) {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		s.log.Debug("ws.message.empty")
		return
	}

	msg, err := g.chat.SendMessage(ctx, chat.SendMessageRequest{
		ConversationID: s.client.ConversationID,
		Sender:         s.client.UserID,
		Content:        content,
		Type:           chat.MessageType(in.Type),
	})
	if err != nil {
		s.log.Warn("chat.send.fail", "err", err)
		g.sendError(s.client, errorCode(err), chat.PublicMessage(err, "failed to send message"))
		return
	}
	g.PublishMessage(msg)
}

func (g *Gateway) onTyping(ctx context.Context, s *session) {
	name := g.resolveName(ctx, s)
	recipients := g.hub.StartTyping(s.client.ConversationID, s.client.UserID, name, g.now())
	g.deliver(recipients, v1.EventTyping, encodeFrame(v1.TypingFrame{
		Event:    v1.EventTyping,
		User:     s.client.UserID,
		UserName: name,
		Typing:   true,
	}))
}

func (g *Gateway) onStopTyping(s *session) {
	_, recipients := g.hub.StopTyping(s.client.ConversationID, s.client.UserID)
	g.deliver(recipients, v1.EventTyping, encodeFrame(v1.TypingFrame{
		Event:    v1.EventTyping,
		User:     s.client.UserID,
		UserName: s.displayName,
		Typing:   false,
	}))
}

func (g *Gateway) onRead(ctx context.Context, s *session) {
	n, err := g.chat.MarkRead(ctx, s.client.UserID, s.client.ConversationID)
	if err != nil {
		s.log.Warn("chat.read.fail", "err", err)
		g.sendError(s.client, errorCode(err), chat.PublicMessage(err, "failed to mark read"))
		return
	}
	s.log.Debug("chat.read", "updated", n)
	g.PublishRead(s.client.ConversationID, s.client.UserID)
}

// resolveName looks the display name up once per connection.
func (g *Gateway) resolveName(ctx context.Context, s *session) string {
	if s.nameResolved {
		return s.displayName
	}
	s.nameResolved = true
	u, err := g.chat.LookupUser(ctx, s.client.UserID)
	if err != nil {
		s.log.Debug("presence.name.fail", "err", err)
		return ""
	}
	s.displayName = u.DisplayName
	return s.displayName
}

// ---- publishing (also used by the REST surface) ----

// PublishMessage broadcasts a canonical message to every connection of its conversation.
func (g *Gateway) PublishMessage(msg chat.Message) {
	g.broadcast(msg.ConversationID, v1.EventMessage, v1.MessageFrame{Event: v1.EventMessage, Message: msg.Wire()})
}

// PublishMessageEdited broadcasts an edited message.
func (g *Gateway) PublishMessageEdited(msg chat.Message) {
	g.broadcast(msg.ConversationID, v1.EventMessageEdited, v1.MessageFrame{Event: v1.EventMessageEdited, Message: msg.Wire()})
}

// PublishMessageDeleted announces a removed message.
func (g *Gateway) PublishMessageDeleted(msg chat.Message) {
	g.broadcast(msg.ConversationID, v1.EventMessageDeleted, v1.MessageDeletedFrame{
		Event:     v1.EventMessageDeleted,
		MessageID: msg.ID,
		ChatID:    msg.ConversationID,
	})
}

// PublishRead announces that userID read conversationID, including to userID's own devices.
func (g *Gateway) PublishRead(conversationID, userID string) {
	g.broadcast(conversationID, v1.EventRead, v1.ReadFrame{Event: v1.EventRead, User: userID, ChatID: conversationID})
}

// PublishLeft closes userID's live connections to a conversation they just left.
func (g *Gateway) PublishLeft(conversationID, userID string) {
	for _, c := range g.hub.ConnectionsOf(conversationID, userID) {
		c.Kick(websocket.StatusCode(v1.CloseForbidden), "left chat")
	}
}

// CloseAll disconnects every live connection (server shutdown).
func (g *Gateway) CloseAll(reason string) {
	for _, c := range g.hub.All() {
		c.Kick(websocket.StatusGoingAway, reason)
	}
}

func (g *Gateway) broadcast(conversationID, event string, frame any) {
	g.deliver(g.hub.Recipients(conversationID, ""), event, encodeFrame(frame))
}

// deliver is fire-and-forget per recipient: a full or closing queue drops the
// frame for that connection only.
func (g *Gateway) deliver(recipients []*Client, event string, frame []byte) {
	if frame == nil {
		return
	}
	for _, c := range recipients {
		if c.Enqueue(frame) {
			g.metrics.outbound.WithLabelValues(event).Inc()
			continue
		}
		g.metrics.dropped.Inc()
		g.log.Debug("ws.frame.dropped", "conn_id", c.ID, "event", event)
	}
}

func (g *Gateway) sendError(c *Client, code, msg string) {
	if !c.Enqueue(encodeFrame(v1.ErrorFrame{Event: v1.EventError, Code: code, Message: msg})) {
		g.metrics.dropped.Inc()
		return
	}
	g.metrics.outbound.WithLabelValues(v1.EventError).Inc()
}

// writeTerminalError writes directly so the frame precedes the close.
func (g *Gateway) writeTerminalError(ctx context.Context, conn *websocket.Conn, code, msg string) {
	frame := encodeFrame(v1.ErrorFrame{Event: v1.EventError, Code: code, Message: msg})
	_ = writeFrame(ctx, conn, frame, g.cfg.WriteTimeout)
}

func errorCode(err error) string {
	switch {
	case chat.IsNotFound(err):
		return "not_found"
	case chat.IsForbidden(err):
		return "forbidden"
	case chat.IsInvalidInput(err):
		return "invalid_input"
	case chat.IsConflict(err):
		return "conflict"
	default:
		return "internal"
	}
}

func eventLabel(event string) string {
	switch event {
	case v1.EventMessage, v1.EventTyping, v1.EventStopTyping, v1.EventRead, v1.EventAuth:
		return event
	}
	return "unknown"
}

// ---- frame IO ----

var errBadFrame = errors.New("bad frame")

func encodeFrame(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

func readInbound(ctx context.Context, conn *websocket.Conn) (v1.Inbound, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Inbound{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Inbound{}, fmt.Errorf("%w: unsupported message type: %v", errBadFrame, mt)
	}
	var in v1.Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return v1.Inbound{}, fmt.Errorf("%w: %v", errBadFrame, err)
	}
	in.Event = strings.TrimSpace(in.Event)
	return in, nil
}

func writeFrame(parent context.Context, conn *websocket.Conn, frame []byte, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, frame)
}

func writeHTTPError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": code, "message": msg},
	})
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadFrame
)

func classifyReadErr(err error) readErrKind {
	if errors.Is(err, errBadFrame) {
		return readErrBadFrame
	}
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *Gateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.cfg.AllowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.cfg.AllowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			return nil
		}
		// Full origin match (scheme + host + optional port).
		if origin == a {
			return nil
		}
		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

// deriveOriginPatternsFromAllowedOrigins turns the allowlist into the host
// patterns websocket.Accept matches with filepath.Match. Accept matches against
// host:port, so every host also gets a "host:*" pattern.
func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		if strings.TrimSpace(a) == "*" {
			return []string{"*"}
		}
		h := originHostOnly(a)
		if h == "" {
			continue
		}
		seen[h] = struct{}{}
		seen[h+":*"] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	slices.Sort(out)
	return out
}
