// Package main provides a CI-friendly smoke test for the direct-chat surface.
//
// It validates:
//   - chat creation over REST
//   - header auth and first-frame auth handshakes (+ subprotocol selection)
//   - typing presence excludes the sender
//   - message fanout to both participants with an ISO timestamp
//   - read receipts
//   - history fetch over REST
//
// Tokens come from -token-a/-token-b, or are minted locally when -secret
// (hex PASETO v4 secret key shared with the server) is given.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	paseto "aidanwoods.dev/go-paseto"
	"github.com/coder/websocket"

	v1 "github.com/Marco-Polo-coding/TFG-Jose-Abreu/shared/contracts/directchat/v1"
)

const maxReadBytes = 1 << 20 // 1MiB

type smokeClient struct {
	name string
	conn *websocket.Conn

	inbox chan map[string]any
	errCh chan error
}

func main() {
	var (
		baseURL = flag.String("url", "http://127.0.0.1:8080", "HTTP base URL of the server")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		userA   = flag.String("user-a", "alice", "User id of participant A")
		userB   = flag.String("user-b", "bob", "User id of participant B")
		tokenA  = flag.String("token-a", "", "Bearer token for A")
		tokenB  = flag.String("token-b", "", "Bearer token for B")
		secret  = flag.String("secret", os.Getenv("CRPG_AUTH_SECRET_KEY_HEX"), "Hex secret key used to mint tokens")
		issuer  = flag.String("issuer", "crpg", "Token issuer when minting")
		text    = flag.String("text", "hello 👋", "Message text to send")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateBaseURL(*baseURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	ta, tb := *tokenA, *tokenB
	if ta == "" || tb == "" {
		if strings.TrimSpace(*secret) == "" {
			fatalf("either -token-a/-token-b or -secret is required")
		}
		key, err := paseto.NewV4AsymmetricSecretKeyFromHex(strings.TrimSpace(*secret))
		if err != nil {
			fatalf("invalid -secret: %v", err)
		}
		ta = mintToken(key, *issuer, *userA)
		tb = mintToken(key, *issuer, *userB)
	}

	root := context.Background()
	base := strings.TrimRight(*baseURL, "/")

	var conv struct {
		ID string `json:"id"`
	}
	status := mustDo(root, http.MethodPost, base+"/direct-chats", ta, map[string]string{"participant_id": *userB}, &conv, *timeout)
	if status != http.StatusCreated && status != http.StatusOK {
		fatalf("create chat: status=%d", status)
	}
	if conv.ID == "" {
		fatalf("create chat: missing id")
	}

	wsURL := wsBase(base) + "/ws/direct-chats/" + url.PathEscape(conv.ID)

	a := mustConnect(root, "A", wsURL, *origin, ta, false, *timeout)
	defer closeWS(a.conn)

	b := mustConnect(root, "B", wsURL, *origin, tb, true, *timeout)
	defer closeWS(b.conn)

	if *verbose {
		fmt.Printf("connected: chat_id=%s origin=%q\n", conv.ID, *origin)
	}

	mustWrite(root, a.conn, v1.Inbound{Event: v1.EventTyping}, *timeout)
	typing := b.mustReadUntil(root, v1.EventTyping, *timeout)
	if typing["user"] != *userA || typing["typing"] != true {
		fatalf("typing frame mismatch: %v", typing)
	}
	a.mustAssertNo(root, v1.EventTyping, 500*time.Millisecond)

	mustWrite(root, a.conn, v1.Inbound{Event: v1.EventMessage, Content: *text}, *timeout)
	for _, c := range []*smokeClient{a, b} {
		f := c.mustReadUntil(root, v1.EventMessage, *timeout)
		msg, _ := f["message"].(map[string]any)
		if msg["content"] != *text || msg["sender"] != *userA {
			fatalf("message frame mismatch (%s): %v", c.name, f)
		}
		ts, _ := msg["timestamp"].(string)
		if _, err := v1.ParseTimestamp(ts); err != nil {
			fatalf("message timestamp not ISO (%s): %q", c.name, ts)
		}
	}

	mustWrite(root, b.conn, v1.Inbound{Event: v1.EventRead}, *timeout)
	read := a.mustReadUntil(root, v1.EventRead, *timeout)
	if read["user"] != *userB {
		fatalf("read frame mismatch: %v", read)
	}

	var history []v1.Message
	status = mustDo(root, http.MethodGet, base+"/direct-chats/"+url.PathEscape(conv.ID)+"/messages?limit=5", tb, nil, &history, *timeout)
	if status != http.StatusOK {
		fatalf("history: status=%d", status)
	}
	if len(history) == 0 || history[0].Content != *text {
		fatalf("history missing sent message")
	}

	fmt.Printf("OK: chat_id=%s message_id=%s\n", conv.ID, history[0].ID)
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func wsBase(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	default:
		return "ws://" + strings.TrimPrefix(base, "http://")
	}
}

// mintToken signs the same claims the server verifies (iss, iat, nbf, exp, uid).
func mintToken(key paseto.V4AsymmetricSecretKey, issuer, userID string) string {
	now := time.Now().UTC()
	tok := paseto.NewToken()
	tok.SetIssuer(issuer)
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(now.Add(5 * time.Minute))
	_ = tok.Set("uid", userID)
	return tok.V4Sign(key, nil)
}

func mustDo(parent context.Context, method, target, token string, body, out any, stepTimeout time.Duration) int {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(mustJSON(body))
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		fatalf("build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("%s %s: %v", method, target, err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			fatalf("decode %s %s: %v", method, target, err)
		}
	}
	return resp.StatusCode
}

// mustConnect dials the chat. With header=false the token is sent as the first frame.
func mustConnect(parent context.Context, name, wsURL, origin, token string, header bool, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}
	if header {
		h.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	assertSubprotocol(resp, v1.Subprotocol)

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan map[string]any, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	if !header {
		mustWrite(parent, conn, v1.Inbound{Event: v1.EventAuth, Token: token}, stepTimeout)
	}

	connected := c.mustReadUntil(parent, v1.EventConnected, stepTimeout)
	if strings.TrimSpace(fmt.Sprint(connected["conn_id"])) == "" {
		fatalf("connected frame missing conn_id (%s)", name)
	}
	return c
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got == "" {
		return
	}
	if got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}
			if mt != websocket.MessageText {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}

			var frame map[string]any
			if err := json.Unmarshal(data, &frame); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- frame:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func (c *smokeClient) mustAssertNo(parent context.Context, event string, wait time.Duration) {
	ctx, cancel := context.WithTimeout(parent, wait)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-c.errCh:
			fatalf("connection closed unexpectedly (%s): %v", c.name, err)
		case f, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed unexpectedly (%s)", c.name)
			}
			if f["event"] == v1.EventError {
				fatalf("server error (%s): code=%v msg=%v", c.name, f["code"], f["message"])
			}
			if f["event"] == event {
				fatalf("unexpected %s received (%s)", event, c.name)
			}
		}
	}
}

func (c *smokeClient) mustReadUntil(parent context.Context, event string, stepTimeout time.Duration) map[string]any {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", event, c.name, ctx.Err())
		case err := <-c.errCh:
			if status := websocket.CloseStatus(err); status != -1 {
				fatalf("closed while waiting for %q (%s): code=%d", event, c.name, status)
			}
			fatalf("connection error while waiting for %q (%s): %v", event, c.name, err)
		case f, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", event, c.name)
			}
			if f["event"] == event {
				return f
			}
			if f["event"] == v1.EventError {
				fatalf("server error (%s): code=%v msg=%v", c.name, f["code"], f["message"])
			}
		}
	}
}

func mustWrite(parent context.Context, conn *websocket.Conn, frame v1.Inbound, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	if err := conn.Write(ctx, websocket.MessageText, mustJSON(frame)); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
