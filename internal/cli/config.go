// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-smartcard.
//
// go-smartcard is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/jeremyhahn/go-smartcard/pkg/piv"
	"github.com/jeremyhahn/go-smartcard/pkg/pcsc"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// Config holds the resolved CLI configuration
type Config struct {
	Reader       string
	OutputFormat string
	Verbose      bool
}

// connect opens the configured reader and starts a card transaction.
// The caller owns the returned card and must Close it.
func connect(cfg *Config) (*pcsc.Card, error) {
	printVerbose("connecting to reader %q", cfg.Reader)
	card, err := pcsc.Connect(cfg.Reader)
	if err != nil {
		return nil, err
	}
	printVerbose("connected to %s", card.Reader())
	return card, nil
}

// withSession connects to the configured reader, opens a PIV session
// and hands it to fn. The card and session are released when fn
// returns.
func withSession(cfg *Config, fn func(s *piv.Session) error) error {
	card, err := connect(cfg)
	if err != nil {
		return err
	}
	defer card.Close()

	session, err := piv.NewSession(card)
	if err != nil {
		return err
	}
	defer session.Close()

	return fn(session)
}

// promptHidden reads a secret from stdin without echoing it. When
// stdin is not a terminal (tests, pipes) it falls back to a plain
// line read.
func promptHidden(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	if term.IsTerminal(int(os.Stdin.Fd())) {
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(raw)), nil
	}
	var line string
	if _, err := fmt.Fscanln(os.Stdin, &line); err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// secretFlag returns the value of a secret flag, prompting for it when
// the flag was not provided on the command line.
func secretFlag(cmd *cobra.Command, flag, prompt string) (string, error) {
	value, err := cmd.Flags().GetString(flag)
	if err != nil {
		return "", err
	}
	if value != "" {
		return value, nil
	}
	return promptHidden(prompt)
}

// newSecretFlag is secretFlag for new credentials: when prompting it
// asks twice and verifies both entries match.
func newSecretFlag(cmd *cobra.Command, flag, prompt string) (string, error) {
	value, err := cmd.Flags().GetString(flag)
	if err != nil {
		return "", err
	}
	if value != "" {
		return value, nil
	}
	first, err := promptHidden(prompt)
	if err != nil {
		return "", err
	}
	second, err := promptHidden("Repeat for confirmation: ")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", fmt.Errorf("entries do not match")
	}
	return first, nil
}
