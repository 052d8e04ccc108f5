package config

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/paularlott/cli"
)

// loadWithArgs runs Load the way the commands do: through a parsed
// cli.Command carrying the shared flag set.
func loadWithArgs(t *testing.T, args ...string) *Config {
	t.Helper()
	var cfg *Config
	cmd := &cli.Command{
		Name:  "topod-test",
		Flags: GetFlags(),
		Run: func(ctx context.Context, cmd *cli.Command) error {
			cfg = Load(cmd)
			return nil
		},
	}

	oldArgs := os.Args
	os.Args = append([]string{"topod-test"}, args...)
	defer func() { os.Args = oldArgs }()

	if err := cmd.Execute(context.Background()); err != nil {
		t.Fatal(err)
	}
	if cfg == nil {
		t.Fatal("command did not run")
	}
	return cfg
}

func TestLoadDefaults(t *testing.T) {
	cfg := Load(nil)
	if cfg.DataDir != "./data" || cfg.ListenAddr != ":8090" {
		t.Errorf("defaults = %q %q", cfg.DataDir, cfg.ListenAddr)
	}
	if cfg.Workers != 4 || cfg.SNMPCommunity != "public" {
		t.Errorf("defaults = %d workers, community %q", cfg.Workers, cfg.SNMPCommunity)
	}
	if cfg.ConnectTimeout != 10*time.Second || cfg.CommandTimeout != 20*time.Second {
		t.Errorf("timeout defaults = %v/%v", cfg.ConnectTimeout, cfg.CommandTimeout)
	}
	if cfg.MDNSWindow != 5*time.Second {
		t.Errorf("MDNSWindow default = %v, want 5s", cfg.MDNSWindow)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("TOPOD_WORKERS", "8")
	t.Setenv("TOPOD_MDNS_WINDOW", "2s")

	cfg := Load(nil)
	if cfg.Workers != 8 {
		t.Errorf("Workers = %d, want 8", cfg.Workers)
	}
	if cfg.MDNSWindow != 2*time.Second {
		t.Errorf("MDNSWindow = %v, want 2s", cfg.MDNSWindow)
	}
}

func TestLoadFlags(t *testing.T) {
	cfg := loadWithArgs(t,
		"--data-dir", t.TempDir(),
		"--workers", "2",
		"--mdns-window", "750ms",
	)
	if cfg.Workers != 2 {
		t.Errorf("Workers = %d, want 2", cfg.Workers)
	}
	if cfg.MDNSWindow != 750*time.Millisecond {
		t.Errorf("MDNSWindow = %v, want 750ms", cfg.MDNSWindow)
	}
}

func TestLoadFlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("TOPOD_MDNS_WINDOW", "2s")

	cfg := loadWithArgs(t, "--mdns-window", "750ms")
	if cfg.MDNSWindow != 750*time.Millisecond {
		t.Errorf("MDNSWindow = %v, want the flag value", cfg.MDNSWindow)
	}
}

func TestWorkersClampedToOne(t *testing.T) {
	t.Setenv("TOPOD_WORKERS", "0")

	cfg := Load(nil)
	if cfg.Workers != 1 {
		t.Errorf("Workers = %d, want clamp to 1", cfg.Workers)
	}
}
