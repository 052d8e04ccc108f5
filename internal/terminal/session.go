package terminal

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Step is one exchange in a terminal protocol script: text to send,
// followed by the prompt pattern(s) that mark the device as ready for the
// next command. A step with an empty Send waits for a prompt without
// sending anything, which is how login prompts are consumed.
type Step struct {
	Send   string
	Expect []*regexp.Regexp
	// Hidden marks steps whose sent text must not appear in captured
	// output or logs (passwords).
	Hidden bool
}

// Expects compiles prompt patterns for a Step.
func Expects(patterns ...string) []*regexp.Regexp {
	res := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		res = append(res, regexp.MustCompile(p))
	}
	return res
}

// Session drives an interactive terminal over a Transport as a
// synchronous state machine: accumulate bytes, strip terminal noise, match
// the last line against the current step's prompt patterns, advance.
type Session struct {
	transport   Transport
	stepTimeout time.Duration
	chunks      chan []byte
	done        chan struct{}
	buf         strings.Builder
}

// Open wraps a transport in a session and starts its read pump.
func Open(t Transport, stepTimeout time.Duration) *Session {
	s := &Session{
		transport:   t,
		stepTimeout: stepTimeout,
		chunks:      make(chan []byte, 16),
		done:        make(chan struct{}),
	}
	go s.pump()
	return s
}

// Banner exposes the transport's pre-shell identification text.
func (s *Session) Banner() string { return s.transport.Banner() }

// Budget returns a reasonable overall deadline for a script of n steps.
func (s *Session) Budget(n int) time.Duration {
	return time.Duration(n+1) * s.stepTimeout
}

// Close closes the underlying transport.
func (s *Session) Close() error {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	return s.transport.Close()
}

func (s *Session) pump() {
	buf := make([]byte, 4096)
	for {
		n, err := s.transport.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case s.chunks <- chunk:
			case <-s.done:
				return
			}
		}
		if err != nil {
			close(s.chunks)
			return
		}
	}
}

// Run executes a step sequence and returns the per-step captured output
// in order. On failure the returned slice still has one entry per step;
// steps that never ran are back-filled with empty strings so callers never
// index out of range. Echoed commands and trailing prompts are sliced out
// of each step's output.
func (s *Session) Run(ctx context.Context, steps []Step, overall time.Duration) ([]string, error) {
	outputs := make([]string, len(steps))
	deadline := time.Now().Add(overall)

	for i, step := range steps {
		out, err := s.runStep(ctx, step, deadline)
		outputs[i] = out
		if err != nil {
			return outputs, err
		}
	}
	return outputs, nil
}

func (s *Session) runStep(ctx context.Context, step Step, deadline time.Time) (string, error) {
	if step.Send != "" {
		if _, err := s.transport.Write([]byte(step.Send + "\n")); err != nil {
			return "", fmt.Errorf("%w: %v", ErrTransportError, err)
		}
	}

	stepDeadline := time.Now().Add(s.stepTimeout)
	if stepDeadline.After(deadline) {
		stepDeadline = deadline
	}
	timer := time.NewTimer(time.Until(stepDeadline))
	defer timer.Stop()

	for {
		// The prompt may already be sitting in the buffer, e.g. when a
		// banner and first prompt arrived in one chunk.
		if out, ok := s.tryMatch(step); ok {
			return out, nil
		}

		select {
		case chunk, ok := <-s.chunks:
			if !ok {
				// Transport closed mid-step
				return "", fmt.Errorf("%w: connection closed", ErrTransportError)
			}
			s.buf.WriteString(sanitize(string(chunk)))

		case <-timer.C:
			return "", fmt.Errorf("%w: no prompt matched", ErrCommandTimeout)

		case <-ctx.Done():
			return "", fmt.Errorf("%w: %v", ErrTransportError, ctx.Err())
		}
	}
}

// tryMatch checks whether the buffer's last line matches one of the
// step's prompt patterns and, if so, slices out the step's own output.
func (s *Session) tryMatch(step Step) (string, bool) {
	if len(step.Expect) == 0 {
		// No expectation: consume whatever is buffered
		out := s.buf.String()
		s.buf.Reset()
		return strings.TrimSpace(out), true
	}

	text := s.buf.String()
	last := lastLine(text)
	matched := false
	for _, re := range step.Expect {
		if re.MatchString(last) {
			matched = true
			break
		}
	}
	if !matched {
		return "", false
	}

	s.buf.Reset()
	return extractOutput(text, step), true
}

// extractOutput removes the echoed command from the front and the prompt
// line from the back, keeping only the command's own output.
func extractOutput(text string, step Step) string {
	lines := strings.Split(text, "\n")
	if len(lines) > 0 {
		lines = lines[:len(lines)-1] // trailing prompt line
	}
	if step.Send != "" && !step.Hidden && len(lines) > 0 &&
		strings.Contains(lines[0], step.Send) {
		lines = lines[1:] // echoed command
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func lastLine(text string) string {
	if idx := strings.LastIndexByte(text, '\n'); idx >= 0 {
		return text[idx+1:]
	}
	return text
}

var ansiEscape = regexp.MustCompile(`\x1b(\[[0-9;?]*[a-zA-Z]|\][^\x07]*\x07|[=>])`)

// sanitize strips ANSI escape sequences, carriage returns and other
// control characters that would confuse line-oriented prompt matching.
func sanitize(text string) string {
	text = ansiEscape.ReplaceAllString(text, "")
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case r == '\n' || r == '\t':
			b.WriteRune(r)
		case r == '\r' || r == '\x00' || r == '\x07' || r == '\x08':
			// dropped
		case r < 0x20:
			// other control characters dropped
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
