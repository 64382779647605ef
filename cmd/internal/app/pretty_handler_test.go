package app

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestPrettyHandler_RequestLine(t *testing.T) {
	t.Setenv("CRPG_LOG_WIDTH", "200")

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}, false))

	log.Warn("http.request",
		"method", "post",
		"path", "/direct-chats/01HX/messages",
		"status", 403,
		"status_class", "4xx",
		"result", "client_error",
		"duration_ms", int64(12),
	)

	line := strings.TrimSpace(buf.String())
	for _, want := range []string{
		"msg=http.request",
		"method=POST",
		"path=/direct-chats/01HX/messages",
		"status=403",
		"class=4xx",
		"result=client_error",
		"duration=12ms",
	} {
		if !strings.Contains(line, want) {
			t.Fatalf("missing %q in %q", want, line)
		}
	}
	if strings.Contains(line, "\x1b[") {
		t.Fatalf("color disabled but output has ANSI codes: %q", line)
	}
}

func TestPrettyHandler_GroupsAndColoredErr(t *testing.T) {
	t.Setenv("CRPG_LOG_WIDTH", "200")

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, nil, true)).
		WithGroup("ws").
		With("conn_id", "c-1")

	log.Info("ws.disconnect", "err", errors.New("peer gone"), slog.Group("room", "conversation_id", "01HX"))

	out := buf.String()
	if !strings.Contains(out, ansiRed+"\"peer gone\""+ansiReset) {
		t.Fatalf("err should be red and quoted: %q", out)
	}
	plain := stripANSI(out)
	for _, want := range []string{"ws.conn_id=c-1", "ws.room.conversation_id=01HX"} {
		if !strings.Contains(plain, want) {
			t.Fatalf("missing %q in %q", want, plain)
		}
	}
}

func TestStripANSI(t *testing.T) {
	t.Parallel()

	in := ansiGreen + "201" + ansiReset + " /direct-chats " + ansiRed + "ERR" + ansiReset
	if got, want := stripANSI(in), "201 /direct-chats ERR"; got != want {
		t.Fatalf("stripANSI()=%q want=%q", got, want)
	}
	if got := visualLen(ansiCyan + "héllo" + ansiReset); got != 5 {
		t.Fatalf("visualLen=%d want 5", got)
	}
}

func TestWrapSegments(t *testing.T) {
	t.Parallel()

	a := strings.Repeat("a", 20)
	b := strings.Repeat("b", 20)
	c := strings.Repeat("c", 20)

	cases := []struct {
		name  string
		segs  []string
		width int
		want  []string
	}{
		{name: "fits", segs: []string{a, b}, width: 60, want: []string{a + " " + b}},
		{name: "wraps", segs: []string{a, b, c}, width: 45, want: []string{a + " " + b, wrapIndent + c}},
		{name: "truncates", segs: []string{strings.Repeat("x", 50)}, width: 45, want: []string{strings.Repeat("x", 44) + "…"}},
		{name: "empty", segs: nil, width: 45, want: nil},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := wrapSegments(tc.segs, " ", tc.width, wrapIndent)
			if len(got) != len(tc.want) {
				t.Fatalf("lines=%d want %d (%q)", len(got), len(tc.want), got)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("line[%d]=%q want %q", i, got[i], tc.want[i])
				}
				if visualLen(got[i]) > tc.width {
					t.Fatalf("line[%d] too wide: %d", i, visualLen(got[i]))
				}
			}
		})
	}
}

func TestTerminalWidth(t *testing.T) {
	cases := []struct {
		name     string
		override string
		columns  string
		want     int
	}{
		{name: "override wins", override: "88", columns: "132", want: 88},
		{name: "columns fallback", override: "", columns: "72", want: 72},
		{name: "too narrow ignored", override: "10", columns: "20", want: defaultLogWidth},
		{name: "garbage ignored", override: "wide", columns: "", want: defaultLogWidth},
	}

	h := &prettyHandler{}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("CRPG_LOG_WIDTH", tc.override)
			t.Setenv("COLUMNS", tc.columns)
			if got := h.terminalWidth(); got != tc.want {
				t.Fatalf("terminalWidth()=%d want %d", got, tc.want)
			}
		})
	}
}
