package terminal

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"
)

const testPrompt = "[admin@device] > "

// scriptedTransport plays the device side of a session: it emits an
// initial prompt, then answers each received line from its response map.
type scriptedTransport struct {
	in        *io.PipeReader
	out       *io.PipeWriter
	responses map[string]string
}

func newScriptedTransport(t *testing.T, initial string, responses map[string]string) *scriptedTransport {
	t.Helper()

	deviceIn, sessionOut := io.Pipe()
	sessionIn, deviceOut := io.Pipe()

	tr := &scriptedTransport{
		in:        sessionIn,
		out:       sessionOut,
		responses: responses,
	}

	go func() {
		deviceOut.Write([]byte(initial))
		scanner := bufio.NewScanner(deviceIn)
		for scanner.Scan() {
			cmd := scanner.Text()
			reply, ok := responses[cmd]
			if !ok {
				reply = ""
			}
			// Echo the command like a real PTY, then the output and a
			// fresh prompt.
			deviceOut.Write([]byte(cmd + "\r\n" + reply + testPrompt))
		}
		deviceOut.Close()
	}()

	return tr
}

func (tr *scriptedTransport) Read(p []byte) (int, error)  { return tr.in.Read(p) }
func (tr *scriptedTransport) Write(p []byte) (int, error) { return tr.out.Write(p) }
func (tr *scriptedTransport) Banner() string              { return "SSH-2.0-test" }

func (tr *scriptedTransport) Close() error {
	tr.out.Close()
	tr.in.Close()
	return nil
}

func TestSessionRunScript(t *testing.T) {
	tr := newScriptedTransport(t, testPrompt, map[string]string{
		"/system identity print": "name: gateway\r\n",
		"/system resource print": "version: 7.16\r\nboard-name: RB5009\r\n",
	})
	s := Open(tr, time.Second)
	defer s.Close()

	steps := []Step{
		{Send: "/system identity print", Expect: Expects(`\[admin@device\] > $`)},
		{Send: "/system resource print", Expect: Expects(`\[admin@device\] > $`)},
	}
	outputs, err := s.Run(context.Background(), steps, s.Budget(len(steps)))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(outputs) != 2 {
		t.Fatalf("expected 2 outputs, got %d", len(outputs))
	}
	if outputs[0] != "name: gateway" {
		t.Errorf("step 0 output = %q", outputs[0])
	}
	if outputs[1] != "version: 7.16\nboard-name: RB5009" {
		t.Errorf("step 1 output = %q", outputs[1])
	}
}

func TestSessionConsumesInitialPrompt(t *testing.T) {
	// Banner and first prompt arrive before anything is sent. A sendless
	// step must consume them without hanging.
	tr := newScriptedTransport(t, "Welcome to the device\r\n"+testPrompt, map[string]string{
		"hostname": "gateway\r\n",
	})
	s := Open(tr, time.Second)
	defer s.Close()

	steps := []Step{
		{Expect: Expects(`\[admin@device\] > $`)},
		{Send: "hostname", Expect: Expects(`\[admin@device\] > $`)},
	}
	outputs, err := s.Run(context.Background(), steps, s.Budget(len(steps)))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outputs[1] != "gateway" {
		t.Errorf("output = %q", outputs[1])
	}
}

func TestSessionCommandTimeoutBackfills(t *testing.T) {
	tr := newScriptedTransport(t, testPrompt, map[string]string{
		"known": "ok\r\n",
	})
	s := Open(tr, 50*time.Millisecond)
	defer s.Close()

	steps := []Step{
		{Send: "known", Expect: Expects(`\[admin@device\] > $`)},
		{Send: "stall", Expect: Expects(`never-matches$`)},
		{Send: "unreached", Expect: Expects(`\[admin@device\] > $`)},
	}
	outputs, err := s.Run(context.Background(), steps, s.Budget(len(steps)))
	if !errors.Is(err, ErrCommandTimeout) {
		t.Fatalf("expected ErrCommandTimeout, got %v", err)
	}
	if len(outputs) != 3 {
		t.Fatalf("expected one entry per step, got %d", len(outputs))
	}
	if outputs[0] != "ok" {
		t.Errorf("completed step output = %q", outputs[0])
	}
	if outputs[2] != "" {
		t.Errorf("unreached step output = %q, want empty", outputs[2])
	}
}

func TestSessionContextCancel(t *testing.T) {
	tr := newScriptedTransport(t, "", nil) // never emits a prompt
	s := Open(tr, 5*time.Second)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := s.Run(ctx, []Step{{Expect: Expects(`> $`)}}, time.Minute)
	if !errors.Is(err, ErrTransportError) {
		t.Fatalf("expected ErrTransportError after cancel, got %v", err)
	}
}

func TestSessionHiddenStepNotEchoStripped(t *testing.T) {
	// Hidden steps (passwords) are typically not echoed by the device, so
	// the echo-removal heuristic must not eat the first output line.
	tr := newScriptedTransport(t, testPrompt, map[string]string{
		"secret123": "accepted\r\n",
	})
	s := Open(tr, time.Second)
	defer s.Close()

	steps := []Step{
		{Send: "secret123", Hidden: true, Expect: Expects(`\[admin@device\] > $`)},
	}
	outputs, err := s.Run(context.Background(), steps, s.Budget(len(steps)))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// The scripted device does echo; a hidden step keeps the echo line.
	if outputs[0] != "secret123\naccepted" {
		t.Errorf("output = %q", outputs[0])
	}
}

func TestSessionBudget(t *testing.T) {
	s := &Session{stepTimeout: 2 * time.Second}
	if got := s.Budget(4); got != 10*time.Second {
		t.Errorf("Budget(4) = %v, want 10s", got)
	}
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello\n", "hello\n"},
		{"carriage returns", "line1\r\nline2\r\n", "line1\nline2\n"},
		{"ansi colors", "\x1b[31mred\x1b[0m text", "red text"},
		{"cursor movement", "\x1b[2J\x1b[Hcleared", "cleared"},
		{"bell and backspace", "ab\x08c\x07", "abc"},
		{"tabs kept", "a\tb", "a\tb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitize(tt.in); got != tt.want {
				t.Errorf("sanitize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestExtractOutput(t *testing.T) {
	step := Step{Send: "show version"}
	text := "show version\nVersion: 1.2.3\n" + testPrompt
	if got := extractOutput(text, step); got != "Version: 1.2.3" {
		t.Errorf("extractOutput = %q", got)
	}
}

func TestProbeBanner(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conn.Write([]byte("SSH-2.0-ROSSSH\r\n"))
		conn.Close()
	}()

	banner, err := ProbeBanner(context.Background(), ln.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("ProbeBanner: %v", err)
	}
	if banner != "SSH-2.0-ROSSSH" {
		t.Errorf("banner = %q", banner)
	}
}

func TestProbeBannerConnectionRefused(t *testing.T) {
	// Grab a port and close it so nothing is listening there.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	if _, err := ProbeBanner(context.Background(), addr, 500*time.Millisecond); err == nil {
		t.Fatal("expected error for refused connection")
	}
}

func TestIsAuthFailure(t *testing.T) {
	if !IsAuthFailure(ErrAuthFailed) {
		t.Error("ErrAuthFailed not recognized")
	}
	if !IsAuthFailure(errors.New("ssh: handshake failed: ssh: unable to authenticate, attempted methods [none password]")) {
		t.Error("ssh auth error not recognized")
	}
	if IsAuthFailure(errors.New("connection refused")) {
		t.Error("reachability error misclassified as auth failure")
	}
	if IsAuthFailure(nil) {
		t.Error("nil misclassified")
	}
}
