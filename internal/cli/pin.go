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
	"strconv"

	"github.com/jeremyhahn/go-smartcard/pkg/piv"
	"github.com/spf13/cobra"
)

// verifyPinCmd represents the verify-pin command
var verifyPinCmd = &cobra.Command{
	Use:   "verify-pin",
	Short: "Verify the PIN",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := getConfig()
		printer := NewPrinter(cfg.OutputFormat, os.Stdout)

		err := withSession(cfg, func(s *piv.Session) error {
			pin, err := secretFlag(cmd, "pin", "Enter PIN: ")
			if err != nil {
				return err
			}
			if err := s.VerifyPIN(pin); err != nil {
				return err
			}
			return printer.PrintSuccess("PIN verified")
		})
		if err != nil {
			handleError(err)
		}
	},
}

// changePinCmd represents the change-pin command
var changePinCmd = &cobra.Command{
	Use:   "change-pin",
	Short: "Change the PIN",
	Long: `Change the PIN. If the management key is derived from the PIN,
the stored bookkeeping is updated so the new PIN keeps working.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := getConfig()
		printer := NewPrinter(cfg.OutputFormat, os.Stdout)

		err := withSession(cfg, func(s *piv.Session) error {
			current, err := secretFlag(cmd, "pin", "Enter current PIN: ")
			if err != nil {
				return err
			}
			newPIN, err := newSecretFlag(cmd, "new-pin", "Enter new PIN: ")
			if err != nil {
				return err
			}
			if err := s.UpdatePIN(current, newPIN); err != nil {
				return err
			}
			return printer.PrintSuccess("PIN changed")
		})
		if err != nil {
			handleError(err)
		}
	},
}

// changePukCmd represents the change-puk command
var changePukCmd = &cobra.Command{
	Use:   "change-puk",
	Short: "Change the PUK",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := getConfig()
		printer := NewPrinter(cfg.OutputFormat, os.Stdout)

		err := withSession(cfg, func(s *piv.Session) error {
			current, err := secretFlag(cmd, "puk", "Enter current PUK: ")
			if err != nil {
				return err
			}
			newPUK, err := newSecretFlag(cmd, "new-puk", "Enter new PUK: ")
			if err != nil {
				return err
			}
			if err := s.ChangePUK(current, newPUK); err != nil {
				return err
			}
			return printer.PrintSuccess("PUK changed")
		})
		if err != nil {
			handleError(err)
		}
	},
}

// unblockPinCmd represents the unblock-pin command
var unblockPinCmd = &cobra.Command{
	Use:   "unblock-pin",
	Short: "Unblock the PIN using the PUK",
	Long: `Reset a blocked PIN to a new value by presenting the PUK. The PIN
retry counter is replenished.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := getConfig()
		printer := NewPrinter(cfg.OutputFormat, os.Stdout)

		err := withSession(cfg, func(s *piv.Session) error {
			puk, err := secretFlag(cmd, "puk", "Enter PUK: ")
			if err != nil {
				return err
			}
			newPIN, err := newSecretFlag(cmd, "new-pin", "Enter new PIN: ")
			if err != nil {
				return err
			}
			if err := s.UnblockPIN(puk, newPIN); err != nil {
				return err
			}
			return printer.PrintSuccess("PIN unblocked")
		})
		if err != nil {
			handleError(err)
		}
	},
}

// setPinRetriesCmd represents the set-pin-retries command
var setPinRetriesCmd = &cobra.Command{
	Use:   "set-pin-retries <pin-retries> <puk-retries>",
	Short: "Set the PIN and PUK retry counters",
	Long: `Set new maximum retry counters for the PIN and PUK.

WARNING: the card resets both the PIN and the PUK to their factory
values when the counters change. Requires the management key and the
PIN.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := getConfig()
		printer := NewPrinter(cfg.OutputFormat, os.Stdout)

		pinRetries, err := strconv.Atoi(args[0])
		if err != nil {
			handleError(fmt.Errorf("invalid PIN retry count %q", args[0]))
		}
		pukRetries, err := strconv.Atoi(args[1])
		if err != nil {
			handleError(fmt.Errorf("invalid PUK retry count %q", args[1]))
		}

		err = withSession(cfg, func(s *piv.Session) error {
			if err := authenticateManagement(cmd, s); err != nil {
				return err
			}
			if !s.PINVerified() {
				pin, err := secretFlag(cmd, "pin", "Enter PIN: ")
				if err != nil {
					return err
				}
				if err := s.VerifyPIN(pin); err != nil {
					return err
				}
			}
			if err := s.SetRetries(pinRetries, pukRetries); err != nil {
				return err
			}
			return printer.PrintSuccess(fmt.Sprintf(
				"Retry counters set to PIN=%d PUK=%d; both credentials are back at factory values",
				pinRetries, pukRetries))
		})
		if err != nil {
			handleError(err)
		}
	},
}

func init() {
	verifyPinCmd.Flags().String("pin", "", "PIN (prompted when omitted)")

	changePinCmd.Flags().String("pin", "", "current PIN (prompted when omitted)")
	changePinCmd.Flags().String("new-pin", "", "new PIN (prompted when omitted)")

	changePukCmd.Flags().String("puk", "", "current PUK (prompted when omitted)")
	changePukCmd.Flags().String("new-puk", "", "new PUK (prompted when omitted)")

	unblockPinCmd.Flags().String("puk", "", "PUK (prompted when omitted)")
	unblockPinCmd.Flags().String("new-pin", "", "new PIN (prompted when omitted)")

	setPinRetriesCmd.Flags().String("pin", "", "PIN (prompted when omitted)")
	setPinRetriesCmd.Flags().String("management-key", "", "management key (hex)")
	setPinRetriesCmd.Flags().String("algorithm", "3des", "management key algorithm when --management-key is set")
}
