// Package crawler walks a network from its root device, driving terminal
// sessions through vendor drivers and persisting the resulting topology.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"topod/internal/credentials"
	"topod/internal/driver"
	"topod/internal/enrich"
	"topod/internal/events"
	"topod/internal/log"
	"topod/internal/model"
	"topod/internal/storage"
	"topod/internal/terminal"
)

var (
	// ErrScanAlreadyRunning rejects a second concurrent scan per network.
	ErrScanAlreadyRunning = errors.New("scan already running for this network")

	// ErrNoScanRunning rejects a stop with nothing to stop.
	ErrNoScanRunning = errors.New("no scan running for this network")
)

// Dial and probe indirection so tests can substitute scripted devices
// for real SSH endpoints.
type (
	DialFunc      func(ctx context.Context, addr, username, password string, timeout time.Duration) (terminal.Transport, error)
	ProbeFunc     func(ctx context.Context, addr string, timeout time.Duration) (string, error)
	MDNSFunc      func(ctx context.Context, window time.Duration) map[string]enrich.MDNSName
	SNMPFunc      func(ctx context.Context, ip string) (*enrich.SNMPInfo, error)
	PortProbeFunc func(ctx context.Context, ip string) []int
)

// Options tunes one orchestrator.
type Options struct {
	Workers        int
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
	SNMPCommunity  string
	MDNSWindow     time.Duration
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.Workers <= 0 {
		out.Workers = 4
	}
	if out.ConnectTimeout <= 0 {
		out.ConnectTimeout = 10 * time.Second
	}
	if out.CommandTimeout <= 0 {
		out.CommandTimeout = 20 * time.Second
	}
	if out.MDNSWindow <= 0 {
		out.MDNSWindow = enrich.DefaultMDNSWindow
	}
	return out
}

// Orchestrator owns scan lifecycles, one at most per network.
type Orchestrator struct {
	store    storage.Storage
	hub      *events.Hub
	resolver *credentials.Resolver
	registry *driver.Registry
	opts     Options

	dial      DialFunc
	probe     ProbeFunc
	mdns      MDNSFunc
	snmp      SNMPFunc
	portProbe PortProbeFunc

	mu      sync.Mutex
	running map[string]*run
}

// New wires an orchestrator against real transports.
func New(store storage.Storage, hub *events.Hub, opts Options) *Orchestrator {
	opts = opts.withDefaults()
	snmpClient := enrich.NewSNMPClient(opts.SNMPCommunity, 5*time.Second)
	return &Orchestrator{
		store:    store,
		hub:      hub,
		resolver: credentials.NewResolver(store),
		registry: driver.NewRegistry(),
		opts:     opts,
		dial: func(ctx context.Context, addr, username, password string, timeout time.Duration) (terminal.Transport, error) {
			return terminal.DialSSH(ctx, addr, username, password, timeout)
		},
		probe: terminal.ProbeBanner,
		mdns:  enrich.BrowseMDNS,
		snmp:  snmpClient.SystemInfo,
		portProbe: func(ctx context.Context, ip string) []int {
			return enrich.ProbePorts(ctx, ip, nil, 3*time.Second)
		},
		running: make(map[string]*run),
	}
}

// run is the state of one in-flight scan.
type run struct {
	scan    *model.Scan
	network *model.Network

	items chan workItem
	wg    sync.WaitGroup

	stopped chan struct{}
	stop    sync.Once

	mu       sync.Mutex
	visited  map[string]string // primary MAC -> parent interface ID of first discovery
	inflight map[string]string // address -> activity
	count    int
	rootUp   bool
	rootErr  string // why the root could not be crawled

	mdnsMu    sync.Mutex
	mdnsNames map[string]enrich.MDNSName
}

// workItem is one queued device discovery.
type workItem struct {
	// Mac is empty only for the root, whose MAC is unknown until the
	// first fetch succeeds.
	Mac               string
	IP                string
	ParentInterfaceID string
	HostnameHint      string
	PlatformHint      string
	Source            string
}

func (r *run) isStopped() bool {
	select {
	case <-r.stopped:
		return true
	default:
		return false
	}
}

func (r *run) setInflight(addr, activity string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if activity == "" {
		delete(r.inflight, addr)
		return
	}
	r.inflight[addr] = activity
}

func (r *run) inflightSummary() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.inflight))
	for addr, activity := range r.inflight {
		out = append(out, addr+": "+activity)
	}
	return out
}

// setRootErr records the first reason the root crawl failed.
func (r *run) setRootErr(msg string) {
	r.mu.Lock()
	if r.rootErr == "" {
		r.rootErr = msg
	}
	r.mu.Unlock()
}

// markVisited atomically claims a MAC for this crawl. It returns true
// when the caller is the first discoverer and must crawl the device.
func (r *run) markVisited(mac, parentIfaceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.visited[mac]; ok {
		return false
	}
	r.visited[mac] = parentIfaceID
	return true
}

// Start begins a scan of the given network. Only one scan may run per
// network; a second Start returns ErrScanAlreadyRunning.
func (o *Orchestrator) Start(ctx context.Context, networkID string) (*model.Scan, error) {
	network, err := o.store.GetNetwork(networkID)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	if _, ok := o.running[networkID]; ok {
		o.mu.Unlock()
		return nil, ErrScanAlreadyRunning
	}

	scan := &model.Scan{
		NetworkID:   networkID,
		Status:      model.ScanStatusRunning,
		RootAddress: network.RootAddress,
		StartedAt:   time.Now(),
	}
	if err := o.store.CreateScan(scan); err != nil {
		o.mu.Unlock()
		return nil, err
	}

	r := &run{
		scan:      scan,
		network:   network,
		items:     make(chan workItem, 1024),
		stopped:   make(chan struct{}),
		visited:   make(map[string]string),
		inflight:  make(map[string]string),
		mdnsNames: make(map[string]enrich.MDNSName),
	}
	o.running[networkID] = r
	o.mu.Unlock()

	go o.runScan(context.WithoutCancel(ctx), r)
	return scan, nil
}

// Stop requests a cooperative stop: in-flight devices finish, queued
// work is discarded, partial topology stays persisted.
func (o *Orchestrator) Stop(networkID string) error {
	o.mu.Lock()
	r, ok := o.running[networkID]
	o.mu.Unlock()
	if !ok {
		return ErrNoScanRunning
	}
	r.stop.Do(func() { close(r.stopped) })
	o.logf(r, model.ScanLogInfo, "stop requested, letting in-flight devices finish")
	return nil
}

// Status describes the current or most recent scan of a network.
type Status struct {
	State    string      `json:"state"` // idle, running, completed, failed, stopped
	Scan     *model.Scan `json:"scan,omitempty"`
	LogCount int         `json:"log_count"`
	Inflight []string    `json:"inflight,omitempty"`
}

// ScanStatus reports the state of a network's scan activity.
func (o *Orchestrator) ScanStatus(networkID string) (*Status, error) {
	o.mu.Lock()
	r, active := o.running[networkID]
	o.mu.Unlock()

	if active {
		count, err := o.store.CountScanLogs(r.scan.ID)
		if err != nil {
			return nil, err
		}
		return &Status{
			State:    model.ScanStatusRunning,
			Scan:     r.scan,
			LogCount: count,
			Inflight: r.inflightSummary(),
		}, nil
	}

	scan, err := o.store.GetLatestScan(networkID)
	if errors.Is(err, storage.ErrScanNotFound) {
		return &Status{State: "idle"}, nil
	}
	if err != nil {
		return nil, err
	}
	count, err := o.store.CountScanLogs(scan.ID)
	if err != nil {
		return nil, err
	}
	return &Status{State: scan.Status, Scan: scan, LogCount: count}, nil
}

// logf appends one scan log line and fans it out to subscribers.
func (o *Orchestrator) logf(r *run, level, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	entry := &model.ScanLog{
		ScanID:    r.scan.ID,
		Level:     level,
		Message:   msg,
		CreatedAt: time.Now(),
	}
	if err := o.store.AppendScanLog(entry); err != nil {
		log.Warn("scan log write failed", "scan", r.scan.ID, "error", err)
	}
	log.Debug(msg, "scan", r.scan.ID, "network", r.network.ID)
	o.hub.Publish(events.Event{
		Type:      events.TypeLog,
		NetworkID: r.network.ID,
		ScanID:    r.scan.ID,
		Level:     level,
		Message:   msg,
	})
}

func (o *Orchestrator) publishStatus(r *run, status, errMsg string) {
	o.hub.Publish(events.Event{
		Type:      events.TypeStatus,
		NetworkID: r.network.ID,
		ScanID:    r.scan.ID,
		Status:    status,
		Message:   errMsg,
	})
}

func (o *Orchestrator) publishTopology(r *run) {
	o.hub.Publish(events.Event{
		Type:      events.TypeTopology,
		NetworkID: r.network.ID,
		ScanID:    r.scan.ID,
	})
}
