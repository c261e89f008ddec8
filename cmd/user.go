package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/luigi-home/luigid/internal/auth"
	"github.com/luigi-home/luigid/internal/config"
	"github.com/luigi-home/luigid/internal/validation"
)

// RunUserAdd adds or replaces one credential in the secrets file. The
// password is read from stdin so it never appears in the process list.
func RunUserAdd(configFile, username string) error {
	if err := validation.ValidateModuleName(username); err != nil {
		return fmt.Errorf("invalid username: %w", err)
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "Password for %s: ", username)
	reader := bufio.NewReader(os.Stdin)
	password, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}
	password = strings.TrimRight(password, "\r\n")
	if len(password) < 8 {
		return errors.New("password must be at least 8 characters")
	}

	if err := auth.AddCredential(cfg.Secrets, username, password); err != nil {
		return err
	}

	fmt.Printf("credential for %s written to %s\n", username, cfg.Secrets)
	return nil
}
