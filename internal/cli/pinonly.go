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
	"github.com/spf13/cobra"
)

// parseMode maps a mode name to its PIN-only mode bits
func parseMode(name string) (piv.PINOnlyMode, error) {
	switch strings.ToLower(name) {
	case "none":
		return piv.PINOnlyNone, nil
	case "derived":
		return piv.PINOnlyDerived, nil
	case "protected":
		return piv.PINOnlyProtected, nil
	case "both", "derived+protected":
		return piv.PINOnlyDerived | piv.PINOnlyProtected, nil
	}
	return 0, fmt.Errorf("unknown mode %q (use none, derived, protected or both)", name)
}

// pinOnlyCmd represents the pin-only command group
var pinOnlyCmd = &cobra.Command{
	Use:   "pin-only",
	Short: "Manage PIN-only management key modes",
	Long: `Manage PIN-only management key modes.

In a PIN-only mode the management key is resolved from the PIN alone:
derived mode recomputes it from the PIN and a stored salt, protected
mode stores a copy in a PIN-gated object on the card.`,
}

// pinOnlyStatusCmd represents the pin-only status command
var pinOnlyStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the active PIN-only mode",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := getConfig()
		printer := NewPrinter(cfg.OutputFormat, os.Stdout)

		err := withSession(cfg, func(s *piv.Session) error {
			mode, err := s.GetPINOnlyMode()
			if err != nil {
				return err
			}
			return printer.PrintPINOnlyMode(mode.String())
		})
		if err != nil {
			handleError(err)
		}
	},
}

// pinOnlySetCmd represents the pin-only set command
var pinOnlySetCmd = &cobra.Command{
	Use:   "set <none|derived|protected|both>",
	Short: "Switch the PIN-only mode",
	Long: `Switch the card to a PIN-only management key mode, or back to none.

Enabling a mode installs a fresh management key and permanently blocks
the PUK; a PUK-based PIN reset would strand key material tied to the
PIN. Setting none restores the factory default management key but
leaves the PUK blocked.

A card already holding a custom management key without PIN-only
bookkeeping needs the key passed via --management-key.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := getConfig()
		printer := NewPrinter(cfg.OutputFormat, os.Stdout)

		mode, err := parseMode(args[0])
		if err != nil {
			handleError(err)
		}

		err = withSession(cfg, func(s *piv.Session) error {
			// An explicit key flag covers cards whose custom key has no
			// PIN-only bookkeeping to resolve it from.
			if keyHex, err := cmd.Flags().GetString("management-key"); err != nil {
				return err
			} else if keyHex != "" {
				key, err := managementKeyFromFlags(cmd, keyHex)
				if err != nil {
					return err
				}
				defer key.Zero()
				if err := s.AuthenticateManagementKey(key); err != nil {
					return err
				}
			}

			pin, err := secretFlag(cmd, "pin", "Enter PIN: ")
			if err != nil {
				return err
			}
			name, err := cmd.Flags().GetString("algorithm")
			if err != nil {
				return err
			}
			alg, err := parseAlgorithm(name)
			if err != nil {
				return err
			}

			if err := s.SetPINOnlyMode(pin, mode, alg); err != nil {
				return err
			}
			return printer.PrintSuccess(fmt.Sprintf("PIN-only mode set to %s", mode))
		})
		if err != nil {
			handleError(err)
		}
	},
}

func init() {
	pinOnlySetCmd.Flags().String("pin", "", "PIN (prompted when omitted)")
	pinOnlySetCmd.Flags().String("algorithm", "3des", "management key algorithm for the new key")
	pinOnlySetCmd.Flags().String("management-key", "", "current management key (hex), for cards with a custom key")

	pinOnlyCmd.AddCommand(pinOnlyStatusCmd)
	pinOnlyCmd.AddCommand(pinOnlySetCmd)
}
