package driver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"topod/internal/model"
	"topod/internal/terminal"
)

// HTTPFetcher is the capability interface for drivers whose devices have
// no shell at all. Callers type-assert it and skip the SSH session.
type HTTPFetcher interface {
	FetchHTTP(ctx context.Context, ip string, cred model.Credential) (*DeviceInfo, error)
}

// SwOS covers MikroTik switches running SwOS, which expose only a web
// UI. They are recognized from neighbor platform hints, never from an
// SSH banner, and are queried over plain HTTP.
type SwOS struct {
	// Client is overridable for tests; nil means a short-timeout default.
	Client *http.Client
}

func (d *SwOS) Name() string { return "swos" }

func (d *SwOS) Identify(ident string) int {
	if containsFold(ident, "SwOS") {
		return 90
	}
	return 0
}

// Fetch is never usable for SwOS; the crawler goes through FetchHTTP.
func (d *SwOS) Fetch(ctx context.Context, sess *terminal.Session, cred model.Credential) (*DeviceInfo, error) {
	return nil, fmt.Errorf("%w: swos has no shell", terminal.ErrTransportError)
}

var swosTitle = regexp.MustCompile(`(?i)<title>\s*SwOS\s*([^<]*)</title>`)

func (d *SwOS) FetchHTTP(ctx context.Context, ip string, cred model.Credential) (*DeviceInfo, error) {
	client := d.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+ip+"/", nil)
	if err != nil {
		return nil, err
	}
	if cred.Username != "" {
		req.SetBasicAuth(cred.Username, cred.Password)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", terminal.ErrTransportError, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, terminal.ErrAuthFailed
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", terminal.ErrTransportError, err)
	}

	info := &DeviceInfo{Vendor: "MikroTik", Model: "SwOS switch"}
	if m := swosTitle.FindSubmatch(body); m != nil {
		if v := string(m[1]); v != "" {
			info.FirmwareVersion = v
		}
	}
	return info, nil
}
