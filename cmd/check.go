package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/luigi-home/luigid/internal/auth"
	"github.com/luigi-home/luigid/internal/config"
	"github.com/luigi-home/luigid/internal/logging"
	"github.com/luigi-home/luigid/internal/registry"
)

// RunCheck validates the configuration, the module registry and the
// credentials file without starting the daemon.
func RunCheck(configFile string, verbose bool) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if verbose {
		fmt.Printf("config: ok (listen %s)\n", cfg.Listen)
	}

	logger := logging.New(logging.Config{Level: logging.LevelError})

	reg, err := registry.Load(cfg.Registry, logger)
	if err != nil {
		return fmt.Errorf("registry %s: %w", cfg.Registry, err)
	}
	reg.Close()
	if verbose {
		fmt.Printf("registry: ok (%d modules)\n", reg.Count())
		for _, m := range reg.List() {
			fmt.Printf("  %s -> %s\n", m.Name, m.ServiceUnit)
		}
	}

	if _, err := auth.Load(cfg.Secrets); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Printf("warning: secrets file %s does not exist yet, run 'luigid user add'\n", cfg.Secrets)
		} else {
			return fmt.Errorf("secrets %s: %w", cfg.Secrets, err)
		}
	} else if verbose {
		fmt.Println("secrets: ok")
	}

	if cfg.TLS.Enabled() {
		if _, err := os.Stat(cfg.TLS.CertFile); err != nil {
			return fmt.Errorf("tls cert_file: %w", err)
		}
		if _, err := os.Stat(cfg.TLS.KeyFile); err != nil {
			return fmt.Errorf("tls key_file: %w", err)
		}
		if verbose {
			fmt.Println("tls: ok")
		}
	} else {
		fmt.Println("warning: TLS is not configured, credentials will cross the network in plaintext")
	}

	fmt.Println("configuration OK")
	return nil
}
