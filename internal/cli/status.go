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

	"github.com/jeremyhahn/go-smartcard/pkg/piv"
	"github.com/spf13/cobra"
)

// StatusInfo aggregates the card state shown by the status command
type StatusInfo struct {
	Reader      string
	Version     string
	Serial      string
	Retries     int
	PINOnlyMode string
	Credentials []CredentialStatus
}

// CredentialStatus describes one credential from the card's metadata
// report
type CredentialStatus struct {
	Name             string
	Algorithm        string
	Default          bool
	Retries          int
	RetriesRemaining int
	HasRetries       bool
}

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show PIV applet status",
	Long: `Show the PIV applet version, serial number, PIN retry counter,
PIN-only management key mode and, on firmware 5.3 or later, the
metadata report for each credential.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := getConfig()
		printer := NewPrinter(cfg.OutputFormat, os.Stdout)

		card, err := connect(cfg)
		if err != nil {
			handleError(err)
		}
		defer card.Close()

		session, err := piv.NewSession(card)
		if err != nil {
			handleError(err)
		}
		defer session.Close()

		status := &StatusInfo{
			Reader:  card.Reader(),
			Version: session.Version().String(),
		}

		if serial, err := session.Serial(); err == nil {
			status.Serial = fmt.Sprintf("%d", serial)
		} else {
			printVerbose("serial not available: %v", err)
		}

		retries, err := session.Retries()
		if err != nil {
			handleError(err)
		}
		status.Retries = retries

		mode, err := session.GetPINOnlyMode()
		if err != nil {
			handleError(err)
		}
		status.PINOnlyMode = mode.String()

		if session.Version().AtLeast(5, 3, 0) {
			creds := []piv.Credential{
				piv.CredentialPIN,
				piv.CredentialPUK,
				piv.CredentialManagementKey,
			}
			for _, cred := range creds {
				md, err := session.Metadata(cred)
				if err != nil {
					printVerbose("no metadata for %s: %v", cred, err)
					continue
				}
				cs := CredentialStatus{
					Name:             cred.String(),
					Default:          md.IsDefault,
					Retries:          md.Retries,
					RetriesRemaining: md.RetriesRemaining,
					HasRetries:       md.HasRetries,
				}
				// PIN and PUK report a reserved algorithm byte, not a
				// cipher.
				if md.Algorithm.Valid() {
					cs.Algorithm = md.Algorithm.String()
				}
				status.Credentials = append(status.Credentials, cs)
			}
		}

		if err := printer.PrintStatus(status); err != nil {
			handleError(err)
		}
	},
}
