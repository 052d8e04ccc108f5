package terminal

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

// Transport is an authenticated byte stream to a device plus whatever
// identification text the transport produced before the shell opened.
type Transport interface {
	io.Reader
	io.Writer
	Close() error

	// Banner returns the server identification available before
	// shell-level interaction: the protocol version string and any
	// pre-authentication banner.
	Banner() string
}

// ProbeBanner reads the server's protocol greeting from a bare TCP
// connection without authenticating. SSH servers send their version string
// first, which is enough to pick a driver before any credential is spent.
func ProbeBanner(ctx context.Context, addr string, timeout time.Duration) (string, error) {
	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		if isTimeout(err) {
			return "", fmt.Errorf("%w: %s", ErrConnectTimeout, addr)
		}
		return "", fmt.Errorf("%w: %v", ErrTransportError, err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(timeout))
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && line == "" {
		if isTimeout(err) {
			return "", fmt.Errorf("%w: no greeting from %s", ErrConnectTimeout, addr)
		}
		return "", fmt.Errorf("%w: %v", ErrTransportError, err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// SSHTransport is an interactive PTY shell over an SSH connection.
type SSHTransport struct {
	client *ssh.Client
	sess   *ssh.Session
	stdin  io.WriteCloser
	stdout io.Reader
	banner string
}

var _ Transport = (*SSHTransport)(nil)

// DialSSH opens an authenticated interactive shell to addr. Address
// without a port defaults to 22. Authentication rejections are reported as
// ErrAuthFailed so callers can distinguish them from reachability failures.
func DialSSH(ctx context.Context, addr, username, password string, timeout time.Duration) (*SSHTransport, error) {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "22")
	}

	var bannerText string
	conf := &ssh.ClientConfig{
		User: username,
		Auth: []ssh.AuthMethod{
			ssh.Password(password),
			// Some embedded devices only offer keyboard-interactive
			ssh.KeyboardInteractive(func(name, instr string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range questions {
					answers[i] = password
				}
				return answers, nil
			}),
		},
		BannerCallback: func(message string) error {
			bannerText = message
			return nil
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}

	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %s", ErrConnectTimeout, addr)
		}
		return nil, fmt.Errorf("%w: %v", ErrTransportError, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, conf)
	if err != nil {
		conn.Close()
		if IsAuthFailure(err) {
			return nil, fmt.Errorf("%w: %s@%s", ErrAuthFailed, username, addr)
		}
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %s", ErrConnectTimeout, addr)
		}
		return nil, fmt.Errorf("%w: %v", ErrTransportError, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)

	sess, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrTransportError, err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 115200,
		ssh.TTY_OP_OSPEED: 115200,
	}
	if err := sess.RequestPty("vt100", 200, 500, modes); err != nil {
		sess.Close()
		client.Close()
		return nil, fmt.Errorf("%w: pty request: %v", ErrTransportError, err)
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrTransportError, err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrTransportError, err)
	}

	if err := sess.Shell(); err != nil {
		sess.Close()
		client.Close()
		return nil, fmt.Errorf("%w: shell request: %v", ErrTransportError, err)
	}

	banner := strings.TrimSpace(string(client.ServerVersion()))
	if bannerText != "" {
		banner = banner + "\n" + strings.TrimSpace(bannerText)
	}

	return &SSHTransport{
		client: client,
		sess:   sess,
		stdin:  stdin,
		stdout: stdout,
		banner: banner,
	}, nil
}

// Banner returns the SSH server version plus any pre-auth banner text.
func (t *SSHTransport) Banner() string { return t.banner }

func (t *SSHTransport) Read(p []byte) (int, error) { return t.stdout.Read(p) }

func (t *SSHTransport) Write(p []byte) (int, error) { return t.stdin.Write(p) }

// Close tears down the session and connection.
func (t *SSHTransport) Close() error {
	t.stdin.Close()
	t.sess.Close()
	return t.client.Close()
}

func isTimeout(err error) bool {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	return os.IsTimeout(err)
}
