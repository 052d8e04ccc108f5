package scan

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/paularlott/cli"

	"topod/internal/config"
	"topod/internal/crawler"
	"topod/internal/events"
	"topod/internal/model"
	"topod/internal/storage"
)

// Command runs a one-shot crawl of a network and streams the scan log
// to stdout.
func Command() *cli.Command {
	return &cli.Command{
		Name:        "scan",
		Usage:       "Run a one-shot topology scan",
		Description: "Crawl a network's topology once and stream the scan log to stdout",
		Flags: append(config.GetFlags(),
			&cli.StringFlag{
				Name:     "network",
				Usage:    "Network ID or name to scan",
				Required: true,
			},
		),
		Run: func(ctx context.Context, cmd *cli.Command) error {
			cfg := config.Load(cmd)

			store, err := storage.NewSQLiteStorage(cfg.DataDir)
			if err != nil {
				return fmt.Errorf("failed to initialize storage: %w", err)
			}
			defer store.Close()

			network, err := resolveNetwork(store, cmd.GetString("network"))
			if err != nil {
				return err
			}

			hub := events.NewHub()
			orchestrator := crawler.New(store, hub, crawler.Options{
				Workers:        cfg.Workers,
				ConnectTimeout: cfg.ConnectTimeout,
				CommandTimeout: cfg.CommandTimeout,
				SNMPCommunity:  cfg.SNMPCommunity,
				MDNSWindow:     cfg.MDNSWindow,
			})

			// Subscribe before starting so no event is missed.
			ch, cancel := hub.Subscribe(network.ID)
			defer cancel()

			scan, err := orchestrator.Start(ctx, network.ID)
			if err != nil {
				return fmt.Errorf("failed to start scan: %w", err)
			}
			fmt.Printf("Scan %s started on %s (%s)\n", scan.ID, network.Name, network.RootAddress)

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

			for {
				select {
				case <-sigChan:
					fmt.Println("Stopping scan...")
					if err := orchestrator.Stop(network.ID); err != nil {
						return err
					}
				case ev, ok := <-ch:
					if !ok {
						return nil
					}
					switch ev.Type {
					case events.TypeLog:
						fmt.Printf("%s [%s] %s\n", ev.Time.Format("15:04:05"), ev.Level, ev.Message)
					case events.TypeChannels:
						if len(ev.Channels) > 0 {
							fmt.Printf("%s in flight: %v\n", ev.Time.Format("15:04:05"), ev.Channels)
						}
					case events.TypeStatus:
						if ev.Status == model.ScanStatusRunning {
							continue
						}
						fmt.Printf("Scan %s: %s", ev.ScanID, ev.Status)
						if ev.Message != "" {
							fmt.Printf(" (%s)", ev.Message)
						}
						fmt.Println()
						return printSummary(store, network.ID)
					}
				}
			}
		},
	}
}

// resolveNetwork accepts a network ID or an exact name.
func resolveNetwork(store storage.Storage, ref string) (*model.Network, error) {
	if n, err := store.GetNetwork(ref); err == nil {
		return n, nil
	}
	networks, err := store.ListNetworks(nil)
	if err != nil {
		return nil, err
	}
	for i := range networks {
		if networks[i].Name == ref {
			return &networks[i], nil
		}
	}
	return nil, fmt.Errorf("network not found: %s", ref)
}

func printSummary(store storage.Storage, networkID string) error {
	devices, err := store.ListDevicesByNetwork(networkID)
	if err != nil {
		return err
	}
	accessible := 0
	for _, d := range devices {
		if d.Accessible {
			accessible++
		}
	}
	fmt.Printf("%d devices (%d accessible)\n", len(devices), accessible)
	return nil
}
