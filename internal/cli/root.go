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

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "pivctl",
	Short: "pivctl - PIV smart card management tool",
	Long: `pivctl manages the PIV applet on a smart card over PC/SC:
PIN, PUK and management key administration, retry policy, PIN-only
management key modes, and the card's data objects.

Defaults for every flag may be placed in $HOME/.pivctl.yaml or passed
through PIVCTL_* environment variables.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is $HOME/.pivctl.yaml)")
	rootCmd.PersistentFlags().StringP("reader", "r", "",
		"reader name or prefix (default is the first attached reader)")
	rootCmd.PersistentFlags().StringP("output", "o", "text",
		"output format (text, json)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false,
		"verbose output")

	_ = viper.BindPFlag("reader", rootCmd.PersistentFlags().Lookup("reader"))
	_ = viper.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(readersCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(verifyPinCmd)
	rootCmd.AddCommand(changePinCmd)
	rootCmd.AddCommand(changePukCmd)
	rootCmd.AddCommand(unblockPinCmd)
	rootCmd.AddCommand(setPinRetriesCmd)
	rootCmd.AddCommand(setMgmtKeyCmd)
	rootCmd.AddCommand(pinOnlyCmd)
	rootCmd.AddCommand(objectCmd)
}

// initConfig reads in the config file and environment variables
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".pivctl")
	}

	viper.SetEnvPrefix("PIVCTL")
	viper.AutomaticEnv()

	// A missing config file is fine; flags and env cover everything.
	_ = viper.ReadInConfig()
}

// getConfig resolves the effective configuration from flags, env and
// config file
func getConfig() *Config {
	return &Config{
		Reader:       viper.GetString("reader"),
		OutputFormat: viper.GetString("output"),
		Verbose:      viper.GetBool("verbose"),
	}
}

// handleError prints an error and exits with code 1
func handleError(err error) {
	printer := NewPrinter(getConfig().OutputFormat, os.Stderr)
	_ = printer.PrintError(err) // Error printing to stderr is best-effort
	os.Exit(1)
}

// printVerbose prints a message if verbose mode is enabled
func printVerbose(format string, args ...interface{}) {
	if getConfig().Verbose {
		fmt.Fprintf(os.Stderr, "[VERBOSE] "+format+"\n", args...)
	}
}
