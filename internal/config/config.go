package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/paularlott/cli"
)

// Config holds the application configuration
type Config struct {
	DataDir        string
	ListenAddr     string
	MCPAuthToken   string
	Workers        int           // crawl worker pool width
	ConnectTimeout time.Duration // per connection attempt
	CommandTimeout time.Duration // per terminal command step
	SNMPCommunity  string
	MDNSWindow     time.Duration // mDNS enrichment listen window
	ConfigFile     string        // path to .env file, if one was loaded
}

// GetFlags returns the CLI flags shared by commands that load the
// configuration.
func GetFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:         "data-dir",
			Usage:        "Data directory path",
			DefaultValue: "./data",
			EnvVars:      []string{"TOPOD_DATA_DIR"},
		},
		&cli.StringFlag{
			Name:         "addr",
			Usage:        "Server listen address (e.g. :8090)",
			DefaultValue: ":8090",
			EnvVars:      []string{"TOPOD_LISTEN_ADDR"},
		},
		&cli.StringFlag{
			Name:         "mcp-token",
			Usage:        "MCP bearer token for authentication",
			DefaultValue: "",
			EnvVars:      []string{"TOPOD_MCP_TOKEN"},
		},
		&cli.StringFlag{
			Name:         "workers",
			Usage:        "Crawl worker pool size",
			DefaultValue: "4",
			EnvVars:      []string{"TOPOD_WORKERS"},
		},
		&cli.StringFlag{
			Name:         "connect-timeout",
			Usage:        "Per-device connection timeout",
			DefaultValue: "10s",
			EnvVars:      []string{"TOPOD_CONNECT_TIMEOUT"},
		},
		&cli.StringFlag{
			Name:         "command-timeout",
			Usage:        "Per-command terminal timeout",
			DefaultValue: "20s",
			EnvVars:      []string{"TOPOD_COMMAND_TIMEOUT"},
		},
		&cli.StringFlag{
			Name:         "snmp-community",
			Usage:        "SNMP community string for identity enrichment",
			DefaultValue: "public",
			EnvVars:      []string{"TOPOD_SNMP_COMMUNITY"},
		},
		&cli.StringFlag{
			Name:         "mdns-window",
			Usage:        "mDNS listen window per scan",
			DefaultValue: "5s",
			EnvVars:      []string{"TOPOD_MDNS_WINDOW"},
		},
	}
}

// Load loads configuration with the following priority (highest to lowest):
// 1. Command-line flags (when cmd is non-nil)
// 2. .env file (if exists)
// 3. Environment variables
// 4. Default values
func Load(cmd *cli.Command) *Config {
	cfg := &Config{
		DataDir:        "./data",
		ListenAddr:     ":8090",
		Workers:        4,
		ConnectTimeout: 10 * time.Second,
		CommandTimeout: 20 * time.Second,
		SNMPCommunity:  "public",
		MDNSWindow:     5 * time.Second,
	}

	// Environment first, .env file on top of it
	applyString(&cfg.DataDir, os.Getenv("TOPOD_DATA_DIR"))
	applyString(&cfg.ListenAddr, os.Getenv("TOPOD_LISTEN_ADDR"))
	applyString(&cfg.MCPAuthToken, os.Getenv("TOPOD_MCP_TOKEN"))
	applyString(&cfg.SNMPCommunity, os.Getenv("TOPOD_SNMP_COMMUNITY"))
	applyInt(&cfg.Workers, os.Getenv("TOPOD_WORKERS"))
	applyDuration(&cfg.ConnectTimeout, os.Getenv("TOPOD_CONNECT_TIMEOUT"))
	applyDuration(&cfg.CommandTimeout, os.Getenv("TOPOD_COMMAND_TIMEOUT"))
	applyDuration(&cfg.MDNSWindow, os.Getenv("TOPOD_MDNS_WINDOW"))

	envFile := ".env"
	if _, err := os.Stat(envFile); err == nil {
		if err := loadFromEnvFile(cfg, envFile); err == nil {
			cfg.ConfigFile = envFile
		}
	}

	// CLI flags win over everything
	if cmd != nil {
		applyString(&cfg.DataDir, cmd.GetString("data-dir"))
		applyString(&cfg.ListenAddr, cmd.GetString("addr"))
		applyString(&cfg.MCPAuthToken, cmd.GetString("mcp-token"))
		applyString(&cfg.SNMPCommunity, cmd.GetString("snmp-community"))
		applyInt(&cfg.Workers, cmd.GetString("workers"))
		applyDuration(&cfg.ConnectTimeout, cmd.GetString("connect-timeout"))
		applyDuration(&cfg.CommandTimeout, cmd.GetString("command-timeout"))
		applyDuration(&cfg.MDNSWindow, cmd.GetString("mdns-window"))
	}

	if cfg.Workers < 1 {
		cfg.Workers = 1
	}

	return cfg
}

// loadFromEnvFile loads configuration from a .env file
func loadFromEnvFile(cfg *Config, filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE or KEY="VALUE"
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.Trim(strings.TrimSpace(parts[1]), "\"")

		switch key {
		case "TOPOD_DATA_DIR":
			cfg.DataDir = value
		case "TOPOD_LISTEN_ADDR":
			cfg.ListenAddr = value
		case "TOPOD_MCP_TOKEN":
			cfg.MCPAuthToken = value
		case "TOPOD_SNMP_COMMUNITY":
			cfg.SNMPCommunity = value
		case "TOPOD_WORKERS":
			applyInt(&cfg.Workers, value)
		case "TOPOD_CONNECT_TIMEOUT":
			applyDuration(&cfg.ConnectTimeout, value)
		case "TOPOD_COMMAND_TIMEOUT":
			applyDuration(&cfg.CommandTimeout, value)
		case "TOPOD_MDNS_WINDOW":
			applyDuration(&cfg.MDNSWindow, value)
		}
	}

	return scanner.Err()
}

// IsMCPAuthEnabled checks if MCP authentication is configured
func (c *Config) IsMCPAuthEnabled() bool {
	return c.MCPAuthToken != ""
}

// String returns a string representation of the config source
func (c *Config) String() string {
	if c.ConfigFile != "" {
		return fmt.Sprintf(".env file (%s)", c.ConfigFile)
	}
	return "environment variables"
}

func applyString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func applyInt(dst *int, v string) {
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

func applyDuration(dst *time.Duration, v string) {
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
	}
}
