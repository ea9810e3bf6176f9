package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const Version = "0.1.0"

var (
	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "warplock",
		Short: "distributed locks on Redis",
		Long: fmt.Sprintf(`warplock (v%s)

Acquire, hold and inspect Redis backed mutual exclusion locks with
automatic lease renewal.`, Version),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return viper.BindPFlags(cmd.Flags())
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of warplock",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "warplock v%s\n", Version)
		},
	}
)

func init() {
	cobra.OnInitialize(func() { initConfig(viper.GetViper()) })

	RootCmd.AddCommand(acquireCmd)
	RootCmd.AddCommand(runCmd)
	RootCmd.AddCommand(statusCmd)
	RootCmd.AddCommand(contendCmd)
	RootCmd.AddCommand(versionCmd)

	registerFlags(RootCmd.PersistentFlags())
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
