package app

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jku-tools/moodle-mirror/internal/session"
)

// loginSession bundles an authenticated client with the credentials used to
// open it, so long runs can transparently sign in again.
type loginSession struct {
	client   *session.Client
	username string
	password string
}

// openSession restores the saved session when possible and falls back to a
// full sign-in. Credentials come from the config, the environment, or an
// interactive prompt, in that order.
func openSession(ctx context.Context) (*loginSession, error) {
	client, err := session.New(session.DefaultConfig())
	if err != nil {
		return nil, err
	}

	username := cfg.Username
	if username == "" {
		username = os.Getenv("MOODLE_USERNAME")
	}
	if username == "" {
		username, err = promptLine("Username: ")
		if err != nil {
			return nil, err
		}
	}

	password := os.Getenv("MOODLE_PASSWORD")
	if password == "" {
		password, err = promptPassword("Password: ")
		if err != nil {
			return nil, err
		}
	}

	s := &loginSession{client: client, username: username, password: password}

	if blob := cfg.SessionBlob(); blob != nil && client.Restore(blob, password) {
		log.Debug().Str("username", username).Msg("Session restored from saved state")
		return s, nil
	}

	log.Info().Str("username", username).Msg("Signing in")
	if err := client.Login(ctx, username, password); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	s.persist()
	return s, nil
}

// relogin discards the current session and signs in again with the same
// credentials. Used by long downloads when the portal expires the session.
func (s *loginSession) relogin(ctx context.Context) error {
	log.Warn().Msg("Session expired, signing in again")
	if err := s.client.Login(ctx, s.username, s.password); err != nil {
		return err
	}
	s.persist()
	return nil
}

// persist seals the session state into the config file. Failures are only
// logged since the session itself keeps working.
func (s *loginSession) persist() {
	blob, err := s.client.Persist(s.password)
	if err != nil {
		log.Warn().Err(err).Msg("Could not seal session state")
		return
	}
	cfg.Username = s.username
	cfg.SetSessionBlob(blob)
	if err := cfg.Save(); err != nil {
		log.Warn().Err(err).Msg("Could not save config")
	}
}

func promptLine(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func promptPassword(prompt string) (string, error) {
	if !term.IsTerminal(int(syscall.Stdin)) {
		return promptLine(prompt)
	}
	fmt.Fprint(os.Stderr, prompt)
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(raw), nil
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.SetSessionBlob(nil)
			if err := cfg.Save(); err != nil {
				return err
			}
			fmt.Println("Saved session removed.")
			return nil
		},
	}
}
