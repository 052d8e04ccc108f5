package enrich

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"

	"topod/internal/log"
)

// DefaultMDNSWindow bounds how long one mDNS sweep listens.
const DefaultMDNSWindow = 5 * time.Second

// mdnsServices are the service types worth browsing on a LAN; they
// cover printers, media endpoints, NAS boxes and plain workstations.
var mdnsServices = []string{
	"_workstation._tcp",
	"_ssh._tcp",
	"_http._tcp",
	"_ipp._tcp",
	"_printer._tcp",
	"_googlecast._tcp",
	"_airplay._tcp",
	"_hap._tcp",
	"_smb._tcp",
}

// MDNSName is one name learned from multicast DNS, keyed by IP since
// mDNS never carries a MAC.
type MDNSName struct {
	IP       string
	Hostname string
	Service  string
}

// BrowseMDNS sweeps the local segment for the given window and returns
// the instance names heard, deduplicated by IP (first service wins).
func BrowseMDNS(ctx context.Context, window time.Duration) map[string]MDNSName {
	if window <= 0 {
		window = DefaultMDNSWindow
	}
	ctx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		log.Warn("mdns: resolver init failed", "error", err)
		return nil
	}

	var mu sync.Mutex
	names := make(map[string]MDNSName)

	var wg sync.WaitGroup
	for _, service := range mdnsServices {
		entries := make(chan *zeroconf.ServiceEntry)

		wg.Add(1)
		go func(service string, results <-chan *zeroconf.ServiceEntry) {
			defer wg.Done()
			for entry := range results {
				if len(entry.AddrIPv4) == 0 {
					continue
				}
				ip := entry.AddrIPv4[0].String()
				mu.Lock()
				if _, ok := names[ip]; !ok {
					names[ip] = MDNSName{
						IP:       ip,
						Hostname: cleanInstanceName(entry.Instance),
						Service:  service,
					}
				}
				mu.Unlock()
			}
		}(service, entries)

		if err := resolver.Browse(ctx, service, "local.", entries); err != nil {
			log.Debug("mdns: browse failed", "service", service, "error", err)
			close(entries) // Browse never started, so it will not close this
		}
	}

	<-ctx.Done()
	wg.Wait()
	return names
}

// cleanInstanceName strips the decorations mDNS instance names carry
// ("alice@office-mac", "Printer (2)").
func cleanInstanceName(name string) string {
	if idx := strings.Index(name, "@"); idx != -1 {
		name = name[idx+1:]
	}
	name = strings.TrimSpace(name)
	if idx := strings.LastIndex(name, " ("); idx != -1 && strings.HasSuffix(name, ")") {
		name = name[:idx]
	}
	return strings.TrimSpace(name)
}
