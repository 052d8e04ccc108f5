// Package mcp exposes topology discovery to MCP clients over HTTP.
package mcp

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/paularlott/mcp"

	"topod/internal/crawler"
	"topod/internal/log"
	"topod/internal/model"
	"topod/internal/storage"
	"topod/internal/topology"
)

// ScheduleReloader re-syncs scheduled rescans after network edits.
type ScheduleReloader interface {
	Reload() error
}

// Server wraps the MCP server with the discovery engine.
type Server struct {
	mcpServer    *mcp.Server
	storage      storage.Storage
	orchestrator *crawler.Orchestrator
	scheduler    ScheduleReloader // may be nil
	bearerToken  string
}

// NewServer creates the MCP server for topology discovery.
func NewServer(store storage.Storage, orchestrator *crawler.Orchestrator, scheduler ScheduleReloader, bearerToken string) *Server {
	s := &Server{
		mcpServer:    mcp.NewServer("topod", "1.0.0"),
		storage:      store,
		orchestrator: orchestrator,
		scheduler:    scheduler,
		bearerToken:  bearerToken,
	}
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	// Network tools

	s.mcpServer.RegisterTool(
		mcp.NewTool("network_list", "List all managed networks with their last scan summary",
			mcp.String("name", "Filter by network name (partial match)"),
		),
		s.handleNetworkList,
	)

	s.mcpServer.RegisterTool(
		mcp.NewTool("network_save", "Create a new network or update an existing one. If id is provided and exists, it updates; otherwise creates new.",
			mcp.String("id", "Network ID (if updating existing network)"),
			mcp.String("name", "Network name", mcp.Required()),
			mcp.String("root_address", "IP or hostname of the root device", mcp.Required()),
			mcp.String("root_credential_id", "Credential ID used first against the root"),
			mcp.String("rescan_cron", "Cron expression for scheduled rescans, empty for manual only"),
		),
		s.handleNetworkSave,
	)

	s.mcpServer.RegisterTool(
		mcp.NewTool("network_delete", "Delete a network and its discovered topology",
			mcp.String("id", "Network ID", mcp.Required()),
		),
		s.handleNetworkDelete,
	)

	// Scan tools

	s.mcpServer.RegisterTool(
		mcp.NewTool("scan_start", "Start a topology scan of a network. Rejected if a scan is already running.",
			mcp.String("network_id", "Network ID", mcp.Required()),
		),
		s.handleScanStart,
	)

	s.mcpServer.RegisterTool(
		mcp.NewTool("scan_stop", "Stop a running scan. In-flight devices finish; the partial topology is kept.",
			mcp.String("network_id", "Network ID", mcp.Required()),
		),
		s.handleScanStop,
	)

	s.mcpServer.RegisterTool(
		mcp.NewTool("scan_status", "Get the current or most recent scan status of a network",
			mcp.String("network_id", "Network ID", mcp.Required()),
		),
		s.handleScanStatus,
	)

	s.mcpServer.RegisterTool(
		mcp.NewTool("scan_log", "Get the log lines of a scan",
			mcp.String("scan_id", "Scan ID", mcp.Required()),
		),
		s.handleScanLog,
	)

	// Topology tools

	s.mcpServer.RegisterTool(
		mcp.NewTool("topology_get", "Get the discovered topology tree of a network",
			mcp.String("network_id", "Network ID", mcp.Required()),
		),
		s.handleTopologyGet,
	)

	// Credential tools

	s.mcpServer.RegisterTool(
		mcp.NewTool("credential_test", "Test a username/password pair against one device. On success the match is cached like a normal crawl.",
			mcp.String("network_id", "Network ID", mcp.Required()),
			mcp.String("address", "Device IP or hostname", mcp.Required()),
			mcp.String("username", "Username", mcp.Required()),
			mcp.String("password", "Password", mcp.Required()),
			mcp.String("credential_id", "Stored credential ID, when testing a saved credential"),
		),
		s.handleCredentialTest,
	)

	// Device tools

	s.mcpServer.RegisterTool(
		mcp.NewTool("device_comment_set", "Set the operator comment on a device",
			mcp.String("mac", "Device MAC address", mcp.Required()),
			mcp.String("comment", "Comment text, empty to clear"),
		),
		s.handleDeviceCommentSet,
	)

	s.mcpServer.RegisterTool(
		mcp.NewTool("device_nomad_set", "Flag or unflag a device as nomad (exempt from moved-network warnings)",
			mcp.String("mac", "Device MAC address", mcp.Required()),
			mcp.String("nomad", "true or false", mcp.Required()),
		),
		s.handleDeviceNomadSet,
	)
}

// HandleRequest handles MCP HTTP requests with optional bearer token
// authentication.
func (s *Server) HandleRequest(w http.ResponseWriter, r *http.Request) {
	log.Debug("MCP request received", "method", r.Method, "path", r.URL.Path, "remote_addr", r.RemoteAddr)

	if s.bearerToken != "" {
		auth := r.Header.Get("Authorization")
		if auth == "" {
			log.Warn("MCP request missing Authorization header", "remote_addr", r.RemoteAddr)
			http.Error(w, "Unauthorized: Missing Authorization header", http.StatusUnauthorized)
			return
		}
		if !strings.HasPrefix(auth, "Bearer ") {
			log.Warn("MCP request invalid Authorization format", "remote_addr", r.RemoteAddr)
			http.Error(w, "Unauthorized: Invalid Authorization format", http.StatusUnauthorized)
			return
		}
		if strings.TrimPrefix(auth, "Bearer ") != s.bearerToken {
			log.Warn("MCP request invalid token", "remote_addr", r.RemoteAddr)
			http.Error(w, "Unauthorized: Invalid token", http.StatusUnauthorized)
			return
		}
	}

	s.mcpServer.HandleRequest(w, r)
}

func (s *Server) handleNetworkList(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	name := req.StringOr("name", "")
	networks, err := s.storage.ListNetworks(&model.NetworkFilter{Name: name})
	if err != nil {
		log.Error("MCP network list failed", "error", err)
		return nil, mcp.NewToolErrorInternal("failed to list networks: " + err.Error())
	}
	if len(networks) == 0 {
		return mcp.NewToolResponseText("No networks found"), nil
	}

	var result strings.Builder
	result.WriteString(fmt.Sprintf("Found %d networks:\n\n", len(networks)))
	for _, n := range networks {
		result.WriteString(formatNetworkSummary(&n))
		result.WriteString("\n")
	}
	return mcp.NewToolResponseText(result.String()), nil
}

func (s *Server) handleNetworkSave(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	name, err := req.String("name")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("name is required: " + err.Error())
	}
	rootAddress, err := req.String("root_address")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("root_address is required: " + err.Error())
	}

	n := &model.Network{
		ID:               req.StringOr("id", ""),
		Name:             name,
		RootAddress:      rootAddress,
		RootCredentialID: req.StringOr("root_credential_id", ""),
		RescanCron:       req.StringOr("rescan_cron", ""),
	}
	if n.ID != "" {
		if existing, err := s.storage.GetNetwork(n.ID); err == nil {
			n.LastScannedAt = existing.LastScannedAt
			n.DeviceCount = existing.DeviceCount
			n.IsOnline = existing.IsOnline
			n.CreatedAt = existing.CreatedAt
		}
	}
	if err := s.storage.SaveNetwork(n); err != nil {
		log.Error("MCP network save failed", "error", err, "name", name)
		return nil, mcp.NewToolErrorInternal("failed to save network: " + err.Error())
	}

	if s.scheduler != nil {
		if err := s.scheduler.Reload(); err != nil {
			log.Warn("Rescan schedule reload failed", "error", err)
		}
	}

	log.Info("MCP network saved", "id", n.ID, "name", n.Name)
	return mcp.NewToolResponseText(fmt.Sprintf("Network saved: %s (ID: %s)", n.Name, n.ID)), nil
}

func (s *Server) handleNetworkDelete(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	id, err := req.String("id")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("id is required: " + err.Error())
	}
	if err := s.storage.DeleteNetwork(id); err != nil {
		log.Error("MCP network delete failed", "error", err, "id", id)
		return nil, mcp.NewToolErrorInternal("failed to delete network: " + err.Error())
	}
	if s.scheduler != nil {
		if err := s.scheduler.Reload(); err != nil {
			log.Warn("Rescan schedule reload failed", "error", err)
		}
	}
	log.Info("MCP network deleted", "id", id)
	return mcp.NewToolResponseText("Network deleted successfully"), nil
}

func (s *Server) handleScanStart(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	networkID, err := req.String("network_id")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("network_id is required: " + err.Error())
	}

	scan, err := s.orchestrator.Start(ctx, networkID)
	if err == crawler.ErrScanAlreadyRunning {
		return mcp.NewToolResponseText("A scan is already running for this network"), nil
	}
	if err != nil {
		log.Error("MCP scan start failed", "error", err, "network", networkID)
		return nil, mcp.NewToolErrorInternal("failed to start scan: " + err.Error())
	}
	log.Info("MCP scan started", "scan", scan.ID, "network", networkID)
	return mcp.NewToolResponseText(fmt.Sprintf("Scan started: %s", scan.ID)), nil
}

func (s *Server) handleScanStop(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	networkID, err := req.String("network_id")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("network_id is required: " + err.Error())
	}
	if err := s.orchestrator.Stop(networkID); err != nil {
		if err == crawler.ErrNoScanRunning {
			return mcp.NewToolResponseText("No scan is running for this network"), nil
		}
		return nil, mcp.NewToolErrorInternal("failed to stop scan: " + err.Error())
	}
	return mcp.NewToolResponseText("Stop requested; in-flight devices will finish"), nil
}

func (s *Server) handleScanStatus(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	networkID, err := req.String("network_id")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("network_id is required: " + err.Error())
	}
	status, err := s.orchestrator.ScanStatus(networkID)
	if err != nil {
		return nil, mcp.NewToolErrorInternal("failed to get scan status: " + err.Error())
	}

	var result strings.Builder
	result.WriteString("State: " + status.State + "\n")
	if status.Scan != nil {
		result.WriteString(fmt.Sprintf("Scan: %s (started %s, %d devices)\n",
			status.Scan.ID, status.Scan.StartedAt.Format("2006-01-02 15:04:05"), status.Scan.DeviceCount))
		if status.Scan.ErrorMessage != "" {
			result.WriteString("Error: " + status.Scan.ErrorMessage + "\n")
		}
	}
	result.WriteString(fmt.Sprintf("Log lines: %d\n", status.LogCount))
	for _, line := range status.Inflight {
		result.WriteString("In flight: " + line + "\n")
	}
	return mcp.NewToolResponseText(result.String()), nil
}

func (s *Server) handleScanLog(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	scanID, err := req.String("scan_id")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("scan_id is required: " + err.Error())
	}
	logs, err := s.storage.ListScanLogs(scanID)
	if err != nil {
		return nil, mcp.NewToolErrorInternal("failed to list scan logs: " + err.Error())
	}
	if len(logs) == 0 {
		return mcp.NewToolResponseText("No log lines for this scan"), nil
	}

	var result strings.Builder
	for _, l := range logs {
		result.WriteString(fmt.Sprintf("%s [%s] %s\n",
			l.CreatedAt.Format("15:04:05"), l.Level, l.Message))
	}
	return mcp.NewToolResponseText(result.String()), nil
}

func (s *Server) handleTopologyGet(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	networkID, err := req.String("network_id")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("network_id is required: " + err.Error())
	}

	devices, err := s.storage.ListDevicesByNetwork(networkID)
	if err != nil {
		return nil, mcp.NewToolErrorInternal("failed to list devices: " + err.Error())
	}
	ifaces, err := s.storage.ListInterfacesByNetwork(networkID)
	if err != nil {
		return nil, mcp.NewToolErrorInternal("failed to list interfaces: " + err.Error())
	}
	tree := topology.Build(devices, ifaces)
	if tree.DeviceCount() == 0 {
		return mcp.NewToolResponseText("No devices discovered yet; run scan_start first"), nil
	}

	var result strings.Builder
	result.WriteString(fmt.Sprintf("%d devices:\n\n", tree.DeviceCount()))
	for _, root := range tree.Roots {
		writeTopologyNode(&result, root, 0)
	}
	if len(tree.Orphans) > 0 {
		result.WriteString("\nUnplaced devices:\n")
		for _, orphan := range tree.Orphans {
			writeTopologyNode(&result, orphan, 1)
		}
	}
	return mcp.NewToolResponseText(result.String()), nil
}

func (s *Server) handleCredentialTest(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	networkID, err := req.String("network_id")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("network_id is required: " + err.Error())
	}
	address, err := req.String("address")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("address is required: " + err.Error())
	}
	username, err := req.String("username")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("username is required: " + err.Error())
	}
	password, err := req.String("password")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("password is required: " + err.Error())
	}

	cred := model.Credential{
		ID:       req.StringOr("credential_id", ""),
		Username: username,
		Password: password,
	}
	device, err := s.orchestrator.TestCredential(ctx, networkID, address, cred)
	if err != nil {
		return mcp.NewToolResponseText("Credential test failed: " + err.Error()), nil
	}
	return mcp.NewToolResponseText(fmt.Sprintf("Login succeeded: %s (%s, %s %s)",
		device.Hostname, device.Mac, device.Vendor, device.Model)), nil
}

func (s *Server) handleDeviceCommentSet(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	mac, err := req.String("mac")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("mac is required: " + err.Error())
	}
	comment := req.StringOr("comment", "")
	if err := s.storage.SetDeviceComment(mac, comment); err != nil {
		return nil, mcp.NewToolErrorInternal("failed to set comment: " + err.Error())
	}
	return mcp.NewToolResponseText("Comment updated"), nil
}

func (s *Server) handleDeviceNomadSet(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	mac, err := req.String("mac")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("mac is required: " + err.Error())
	}
	nomadStr, err := req.String("nomad")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("nomad is required: " + err.Error())
	}
	nomad := nomadStr == "true"
	if err := s.storage.SetDeviceNomad(mac, nomad); err != nil {
		return nil, mcp.NewToolErrorInternal("failed to set nomad flag: " + err.Error())
	}
	return mcp.NewToolResponseText(fmt.Sprintf("Nomad flag set to %v", nomad)), nil
}

func formatNetworkSummary(n *model.Network) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (ID: %s)\n", n.Name, n.ID)
	fmt.Fprintf(&b, "  Root: %s\n", n.RootAddress)
	if n.LastScannedAt != nil {
		online := "offline"
		if n.IsOnline {
			online = "online"
		}
		fmt.Fprintf(&b, "  Last scan: %s, %d devices, root %s\n",
			n.LastScannedAt.Format("2006-01-02 15:04:05"), n.DeviceCount, online)
	} else {
		b.WriteString("  Never scanned\n")
	}
	if n.RescanCron != "" {
		fmt.Fprintf(&b, "  Rescan: %s\n", n.RescanCron)
	}
	return b.String()
}

func writeTopologyNode(b *strings.Builder, node *topology.Node, depth int) {
	indent := strings.Repeat("  ", depth)
	d := node.Device
	name := d.Hostname
	if name == "" {
		name = d.Mac
	}
	b.WriteString(indent + name)
	if d.IP != "" {
		b.WriteString(" (" + d.IP + ")")
	}
	if !d.Accessible {
		b.WriteString(" [inaccessible]")
	}
	if node.ViaInterface != nil {
		b.WriteString(" via " + node.ViaInterface.Name)
	}
	if d.PreviousNetworkName != "" {
		b.WriteString(" [moved from " + d.PreviousNetworkName + "]")
	}
	b.WriteString("\n")
	for _, child := range node.Children {
		writeTopologyNode(b, child, depth+1)
	}
}
