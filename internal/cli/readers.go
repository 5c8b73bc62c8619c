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
	"os"

	"github.com/jeremyhahn/go-smartcard/pkg/pcsc"
	"github.com/spf13/cobra"
)

// readersCmd represents the readers command
var readersCmd = &cobra.Command{
	Use:   "readers",
	Short: "List attached smart card readers",
	Long:  `List the names of all smart card readers known to the PC/SC stack`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := getConfig()
		printer := NewPrinter(cfg.OutputFormat, os.Stdout)

		readers, err := pcsc.Readers()
		if err != nil {
			handleError(err)
		}
		if err := printer.PrintReaderList(readers); err != nil {
			handleError(err)
		}
	},
}
