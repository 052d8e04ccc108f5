package enrich

import (
	"context"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"
)

// ManagementPorts are the ports probed to judge whether a device has a
// management plane at all: SSH, telnet, HTTP(S) and Winbox.
var ManagementPorts = []int{22, 23, 80, 443, 8291}

// ProbePorts TCP-connects to each port on ip concurrently and returns
// the ones that accepted, sorted. A closed or filtered port is not an
// error, just absent from the result.
func ProbePorts(ctx context.Context, ip string, ports []int, timeout time.Duration) []int {
	if len(ports) == 0 {
		ports = ManagementPorts
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	var mu sync.Mutex
	var open []int

	var wg sync.WaitGroup
	dialer := &net.Dialer{Timeout: timeout}
	for _, port := range ports {
		wg.Add(1)
		go func(port int) {
			defer wg.Done()
			conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(ip, fmt.Sprint(port)))
			if err != nil {
				return
			}
			conn.Close()
			mu.Lock()
			open = append(open, port)
			mu.Unlock()
		}(port)
	}
	wg.Wait()

	sort.Ints(open)
	return open
}
