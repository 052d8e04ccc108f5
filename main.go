package main

import (
	"context"
	"fmt"
	"os"

	"github.com/paularlott/cli"
	"github.com/paularlott/cli/env"

	"topod/cmd/credential"
	"topod/cmd/scan"
	"topod/cmd/server"
	"topod/internal/log"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// Load .env file if it exists
	env.Load()

	// Initialize structured logging
	log.Configure("info", "console")

	rootCmd := &cli.Command{
		Name:        "topod",
		Version:     version,
		Usage:       "Network topology discovery daemon",
		Description: "Crawls managed networks over SSH, SNMP and mDNS and serves the discovered topology over MCP",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:         "log-level",
				Usage:        "Log level (trace, debug, info, warn, error)",
				DefaultValue: "info",
				EnvVars:      []string{"TOPOD_LOG_LEVEL"},
				Global:       true,
			},
			&cli.StringFlag{
				Name:         "log-format",
				Usage:        "Log format (console, json)",
				DefaultValue: "console",
				EnvVars:      []string{"TOPOD_LOG_FORMAT"},
				Global:       true,
			},
		},
		PreRun: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			logLevel := cmd.GetString("log-level")
			logFormat := cmd.GetString("log-format")
			log.Configure(logLevel, logFormat)
			return ctx, nil
		},
		Commands: []*cli.Command{
			server.Command(),
			scan.Command(),
			{
				Name:        "credential",
				Usage:       "Credential management commands",
				Description: "Store and test device login credentials",
				Commands:    credential.Commands(),
			},
			{
				Name:  "version",
				Usage: "Print version information",
				Run: func(ctx context.Context, cmd *cli.Command) error {
					fmt.Printf("topod %s (commit %s, built %s)\n", version, commit, date)
					return nil
				},
			},
		},
	}

	if err := rootCmd.Execute(context.Background()); err != nil {
		log.Error("Command execution failed", "error", err)
		os.Exit(1)
	}
}
