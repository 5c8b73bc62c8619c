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
	"crypto/rand"
	"fmt"
	"os"
	"strings"

	"github.com/jeremyhahn/go-smartcard/pkg/encoding"
	"github.com/jeremyhahn/go-smartcard/pkg/piv"
	"github.com/spf13/cobra"
)

// parseAlgorithm maps an algorithm name to its management key cipher
func parseAlgorithm(name string) (piv.Algorithm, error) {
	switch strings.ToLower(name) {
	case "3des", "tdes":
		return piv.Alg3DES, nil
	case "aes128", "aes-128":
		return piv.AlgAES128, nil
	case "aes192", "aes-192":
		return piv.AlgAES192, nil
	case "aes256", "aes-256":
		return piv.AlgAES256, nil
	}
	return 0, fmt.Errorf("unknown algorithm %q (use 3des, aes128, aes192 or aes256)", name)
}

// inferAlgorithm maps a raw key length to an algorithm. A 24 byte key
// could be 3DES or AES-192; 3DES wins as the factory cipher and
// aes192 can be forced with --algorithm.
func inferAlgorithm(key []byte) (piv.Algorithm, error) {
	switch len(key) {
	case 16:
		return piv.AlgAES128, nil
	case 24:
		return piv.Alg3DES, nil
	case 32:
		return piv.AlgAES256, nil
	}
	return 0, fmt.Errorf("management key must be 16, 24 or 32 bytes, got %d", len(key))
}

// managementKeyFromFlags builds a ManagementKey from a hex string and
// the --algorithm flag, inferring the cipher from the key length when
// the flag was not given explicitly.
func managementKeyFromFlags(cmd *cobra.Command, keyHex string) (piv.ManagementKey, error) {
	raw, err := encoding.DecodeBase16(keyHex)
	if err != nil {
		return piv.ManagementKey{}, fmt.Errorf("invalid management key: %w", err)
	}
	var alg piv.Algorithm
	if cmd.Flags().Changed("algorithm") {
		name, err := cmd.Flags().GetString("algorithm")
		if err != nil {
			return piv.ManagementKey{}, err
		}
		if alg, err = parseAlgorithm(name); err != nil {
			return piv.ManagementKey{}, err
		}
	} else if alg, err = inferAlgorithm(raw); err != nil {
		return piv.ManagementKey{}, err
	}
	return piv.NewManagementKey(alg, raw)
}

// authenticateManagement establishes management key authentication for
// commands that need it. Resolution order: an explicit
// --management-key flag, the PIN when a PIN-only mode is enrolled,
// then the factory default key.
func authenticateManagement(cmd *cobra.Command, s *piv.Session) error {
	keyHex, err := cmd.Flags().GetString("management-key")
	if err != nil {
		return err
	}
	if keyHex != "" {
		key, err := managementKeyFromFlags(cmd, keyHex)
		if err != nil {
			return err
		}
		defer key.Zero()
		return s.AuthenticateManagementKey(key)
	}

	mode, err := s.GetPINOnlyMode()
	if err != nil {
		return err
	}
	if mode != piv.PINOnlyNone {
		printVerbose("PIN-only mode %s active, authenticating with PIN", mode)
		pin, err := secretFlag(cmd, "pin", "Enter PIN: ")
		if err != nil {
			return err
		}
		return s.AuthenticateWithPIN(pin)
	}

	printVerbose("trying factory default management key")
	key := piv.DefaultManagementKey()
	defer key.Zero()
	return s.AuthenticateManagementKey(key)
}

// setMgmtKeyCmd represents the set-mgmt-key command
var setMgmtKeyCmd = &cobra.Command{
	Use:   "set-mgmt-key",
	Short: "Set a new management key",
	Long: `Set a new management key on the card.

The new key is given as hex with --new-management-key, or generated on
the card's behalf with --generate. A generated key is printed exactly
once; it cannot be read back from the card.

If a PIN-only mode is active, disable it first with "pivctl pin-only
set none", otherwise the PIN can no longer reproduce the key.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := getConfig()
		printer := NewPrinter(cfg.OutputFormat, os.Stdout)

		err := withSession(cfg, func(s *piv.Session) error {
			if err := authenticateManagement(cmd, s); err != nil {
				return err
			}

			generate, err := cmd.Flags().GetBool("generate")
			if err != nil {
				return err
			}
			touch, err := cmd.Flags().GetBool("touch")
			if err != nil {
				return err
			}

			var key piv.ManagementKey
			if generate {
				name, err := cmd.Flags().GetString("algorithm")
				if err != nil {
					return err
				}
				alg, err := parseAlgorithm(name)
				if err != nil {
					return err
				}
				if key, err = piv.GenerateManagementKey(rand.Reader, alg); err != nil {
					return err
				}
			} else {
				keyHex, err := newSecretFlag(cmd, "new-management-key", "Enter new management key (hex): ")
				if err != nil {
					return err
				}
				if key, err = managementKeyFromFlags(cmd, keyHex); err != nil {
					return err
				}
			}
			defer key.Zero()

			if err := s.SetManagementKey(key, touch); err != nil {
				return err
			}
			if generate {
				return printer.PrintGeneratedKey(encoding.EncodeBase16(key.Key), key.Algorithm.String())
			}
			return printer.PrintSuccess("Management key set")
		})
		if err != nil {
			handleError(err)
		}
	},
}

func init() {
	setMgmtKeyCmd.Flags().String("management-key", "", "current management key (hex)")
	setMgmtKeyCmd.Flags().String("pin", "", "PIN, used when a PIN-only mode is active")
	setMgmtKeyCmd.Flags().String("new-management-key", "", "new management key (hex)")
	setMgmtKeyCmd.Flags().Bool("generate", false, "generate a random new key and print it")
	setMgmtKeyCmd.Flags().String("algorithm", "3des", "new key algorithm (3des, aes128, aes192, aes256)")
	setMgmtKeyCmd.Flags().Bool("touch", false, "require touch for each management key use")
}
