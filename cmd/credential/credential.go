// Package credential holds the credential management subcommands.
package credential

import (
	"context"
	"fmt"
	"os"
	"syscall"

	"github.com/paularlott/cli"
	"golang.org/x/term"

	"topod/internal/config"
	"topod/internal/crawler"
	"topod/internal/events"
	"topod/internal/model"
	"topod/internal/storage"
)

func Commands() []*cli.Command {
	return []*cli.Command{
		addCommand(),
		listCommand(),
		deleteCommand(),
		testCommand(),
	}
}

func addCommand() *cli.Command {
	return &cli.Command{
		Name:        "add",
		Usage:       "Store a credential",
		Description: "Store a username/password pair, globally or scoped to one network. The password is prompted for, never passed on the command line.",
		Flags: append(config.GetFlags(),
			&cli.StringFlag{
				Name:     "username",
				Usage:    "Username",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "network",
				Usage: "Network ID to scope the credential to (omit for global)",
			},
		),
		Run: func(ctx context.Context, cmd *cli.Command) error {
			cfg := config.Load(cmd)

			store, err := storage.NewSQLiteStorage(cfg.DataDir)
			if err != nil {
				return fmt.Errorf("failed to initialize storage: %w", err)
			}
			defer store.Close()

			networkID := cmd.GetString("network")
			if networkID != "" {
				if _, err := store.GetNetwork(networkID); err != nil {
					return fmt.Errorf("network %s: %w", networkID, err)
				}
			}

			password, err := promptPassword("Password: ")
			if err != nil {
				return err
			}

			cred := &model.Credential{
				NetworkID: networkID,
				Username:  cmd.GetString("username"),
				Password:  password,
			}
			if err := store.SaveCredential(cred); err != nil {
				return fmt.Errorf("failed to save credential: %w", err)
			}

			fmt.Printf("Credential saved: %s (ID: %s)\n", cred.Username, cred.ID)
			return nil
		},
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:        "list",
		Usage:       "List stored credentials",
		Description: "List stored credentials, optionally scoped to one network",
		Flags: append(config.GetFlags(),
			&cli.StringFlag{
				Name:  "network",
				Usage: "Network ID (omit to list global credentials)",
			},
		),
		Run: func(ctx context.Context, cmd *cli.Command) error {
			cfg := config.Load(cmd)

			store, err := storage.NewSQLiteStorage(cfg.DataDir)
			if err != nil {
				return fmt.Errorf("failed to initialize storage: %w", err)
			}
			defer store.Close()

			creds, err := store.ListCredentials(cmd.GetString("network"))
			if err != nil {
				return fmt.Errorf("failed to list credentials: %w", err)
			}
			if len(creds) == 0 {
				fmt.Println("No credentials found")
				return nil
			}
			for _, c := range creds {
				scope := "global"
				if c.NetworkID != "" {
					scope = "network " + c.NetworkID
				}
				fmt.Printf("%s  %s (%s)\n", c.ID, c.Username, scope)
			}
			return nil
		},
	}
}

func deleteCommand() *cli.Command {
	return &cli.Command{
		Name:        "delete",
		Usage:       "Delete a stored credential",
		Description: "Remove a credential and its cached matches",
		Flags: append(config.GetFlags(),
			&cli.StringFlag{
				Name:     "id",
				Usage:    "Credential ID",
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

			if err := store.DeleteCredential(cmd.GetString("id")); err != nil {
				return fmt.Errorf("failed to delete credential: %w", err)
			}
			fmt.Println("Credential deleted")
			return nil
		},
	}
}

func testCommand() *cli.Command {
	return &cli.Command{
		Name:        "test",
		Usage:       "Test a credential against one device",
		Description: "Try logging in to a device. On success the match is cached like a normal crawl; the device record is updated without touching its topology placement.",
		Flags: append(config.GetFlags(),
			&cli.StringFlag{
				Name:     "network",
				Usage:    "Network ID",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "address",
				Usage:    "Device IP or hostname",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "id",
				Usage: "Stored credential ID to test",
			},
			&cli.StringFlag{
				Name:  "username",
				Usage: "Username, when testing an ad-hoc credential",
			},
		),
		Run: func(ctx context.Context, cmd *cli.Command) error {
			cfg := config.Load(cmd)

			store, err := storage.NewSQLiteStorage(cfg.DataDir)
			if err != nil {
				return fmt.Errorf("failed to initialize storage: %w", err)
			}
			defer store.Close()

			var cred model.Credential
			if id := cmd.GetString("id"); id != "" {
				stored, err := store.GetCredential(id)
				if err != nil {
					return fmt.Errorf("credential %s: %w", id, err)
				}
				cred = *stored
			} else {
				cred.Username = cmd.GetString("username")
				if cred.Username == "" {
					return fmt.Errorf("either --id or --username is required")
				}
				cred.Password, err = promptPassword("Password: ")
				if err != nil {
					return err
				}
			}

			orchestrator := crawler.New(store, events.NewHub(), crawler.Options{
				ConnectTimeout: cfg.ConnectTimeout,
				CommandTimeout: cfg.CommandTimeout,
			})

			device, err := orchestrator.TestCredential(ctx, cmd.GetString("network"), cmd.GetString("address"), cred)
			if err != nil {
				return fmt.Errorf("credential test failed: %w", err)
			}

			fmt.Printf("Login succeeded: %s\n", device.Hostname)
			fmt.Printf("  MAC: %s\n", device.Mac)
			if device.Vendor != "" || device.Model != "" {
				fmt.Printf("  Hardware: %s %s\n", device.Vendor, device.Model)
			}
			if device.FirmwareVersion != "" {
				fmt.Printf("  Firmware: %s\n", device.FirmwareVersion)
			}
			return nil
		},
	}
}

func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(password), nil
}
