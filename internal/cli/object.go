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

// parseObjectName maps an object name to its card address
func parseObjectName(name string) (piv.ObjectID, error) {
	switch strings.ToLower(name) {
	case "chuid":
		return piv.ObjectCardholderID, nil
	case "capability", "ccc":
		return piv.ObjectCapability, nil
	case "admin":
		return piv.ObjectAdminData, nil
	case "key-history":
		return piv.ObjectKeyHistory, nil
	case "pin-protected":
		return piv.ObjectPINProtected, nil
	}
	return 0, fmt.Errorf("unknown object %q (use chuid, capability, admin, key-history or pin-protected)", name)
}

// objectCmd represents the object command group
var objectCmd = &cobra.Command{
	Use:   "object",
	Short: "Read and write card data objects",
	Long: `Read and write the card's data objects: the cardholder unique
identifier (chuid), the capability container (capability), the
administrative bookkeeping object (admin), the key history object
(key-history) and the PIN-gated secret container (pin-protected).`,
}

// objectReadCmd represents the object read command
var objectReadCmd = &cobra.Command{
	Use:   "read <name>",
	Short: "Read and decode a data object",
	Long: `Read a data object from the card and print its decoded fields.

Reading pin-protected requires PIN verification. Its decoded view
never includes the stored key bytes; --hex prints the raw encoding.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := getConfig()
		printer := NewPrinter(cfg.OutputFormat, os.Stdout)

		id, err := parseObjectName(args[0])
		if err != nil {
			handleError(err)
		}

		err = withSession(cfg, func(s *piv.Session) error {
			if id == piv.ObjectPINProtected {
				pin, err := secretFlag(cmd, "pin", "Enter PIN: ")
				if err != nil {
					return err
				}
				if err := s.VerifyPIN(pin); err != nil {
					return err
				}
			}
			obj, err := s.GetObject(id)
			if err != nil {
				return err
			}
			if raw, err := cmd.Flags().GetBool("hex"); err != nil {
				return err
			} else if raw {
				encoded, err := obj.Encode()
				if err != nil {
					return err
				}
				return printer.PrintHex(encoded)
			}
			return printer.PrintObject(obj)
		})
		if err != nil {
			handleError(err)
		}
	},
}

// objectInitCmd represents the object init command
var objectInitCmd = &cobra.Command{
	Use:   "init <chuid|capability>",
	Short: "Write a freshly generated object to the card",
	Long: `Generate a new cardholder unique identifier or capability
container and write it to the card. Requires the management key.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := getConfig()
		printer := NewPrinter(cfg.OutputFormat, os.Stdout)

		err := withSession(cfg, func(s *piv.Session) error {
			var obj piv.DataObject
			switch strings.ToLower(args[0]) {
			case "chuid":
				chuid, err := piv.NewCardholderID(nil)
				if err != nil {
					return err
				}
				obj = chuid
			case "capability", "ccc":
				capability, err := piv.NewCapability(nil)
				if err != nil {
					return err
				}
				obj = capability
			default:
				return fmt.Errorf("cannot generate object %q (use chuid or capability)", args[0])
			}

			if err := authenticateManagement(cmd, s); err != nil {
				return err
			}
			if err := s.PutObject(obj); err != nil {
				return err
			}
			if err := printer.PrintObject(obj); err != nil {
				return err
			}
			return printer.PrintSuccess(fmt.Sprintf("Object %s written", strings.ToLower(args[0])))
		})
		if err != nil {
			handleError(err)
		}
	},
}

// objectWriteKeyHistoryCmd represents the object write-key-history
// command
var objectWriteKeyHistoryCmd = &cobra.Command{
	Use:   "write-key-history",
	Short: "Write the key history object",
	Long: `Write the key history object describing how many retired key
certificates live on and off the card. Requires the management key.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := getConfig()
		printer := NewPrinter(cfg.OutputFormat, os.Stdout)

		err := withSession(cfg, func(s *piv.Session) error {
			onCard, err := cmd.Flags().GetInt("on-card")
			if err != nil {
				return err
			}
			offCard, err := cmd.Flags().GetInt("off-card")
			if err != nil {
				return err
			}
			url, err := cmd.Flags().GetString("url")
			if err != nil {
				return err
			}

			if err := authenticateManagement(cmd, s); err != nil {
				return err
			}
			history := &piv.KeyHistory{
				OnCardCerts:  onCard,
				OffCardCerts: offCard,
				OffCardURL:   url,
			}
			if err := s.PutObject(history); err != nil {
				return err
			}
			return printer.PrintSuccess("Key history written")
		})
		if err != nil {
			handleError(err)
		}
	},
}

// objectDeleteCmd represents the object delete command
var objectDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Clear a data object",
	Long: `Clear the object stored at an address by writing the empty
container over it. Requires the management key.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := getConfig()
		printer := NewPrinter(cfg.OutputFormat, os.Stdout)

		id, err := parseObjectName(args[0])
		if err != nil {
			handleError(err)
		}

		err = withSession(cfg, func(s *piv.Session) error {
			if err := authenticateManagement(cmd, s); err != nil {
				return err
			}
			if err := s.DeleteObject(id); err != nil {
				return err
			}
			return printer.PrintSuccess(fmt.Sprintf("Object %s cleared", strings.ToLower(args[0])))
		})
		if err != nil {
			handleError(err)
		}
	},
}

func init() {
	objectReadCmd.Flags().String("pin", "", "PIN, required for pin-protected (prompted when omitted)")
	objectReadCmd.Flags().Bool("hex", false, "print the raw encoding as hex")

	for _, cmd := range []*cobra.Command{objectInitCmd, objectWriteKeyHistoryCmd, objectDeleteCmd} {
		cmd.Flags().String("management-key", "", "management key (hex)")
		cmd.Flags().String("algorithm", "3des", "management key algorithm when --management-key is set")
		cmd.Flags().String("pin", "", "PIN, used when a PIN-only mode is active")
	}
	objectWriteKeyHistoryCmd.Flags().Int("on-card", 0, "number of retired certificates on the card")
	objectWriteKeyHistoryCmd.Flags().Int("off-card", 0, "number of retired certificates off the card")
	objectWriteKeyHistoryCmd.Flags().String("url", "", "URL where off-card certificates are published")

	objectCmd.AddCommand(objectReadCmd)
	objectCmd.AddCommand(objectInitCmd)
	objectCmd.AddCommand(objectWriteKeyHistoryCmd)
	objectCmd.AddCommand(objectDeleteCmd)
}
