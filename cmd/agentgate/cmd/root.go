package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "agentgate",
	Short: "agentgate is an authenticating gateway for agent tools",
	Long: `An API gateway that signs in users, guards machine-to-machine tool calls
with rotating service keys, serves project and team member records, and
relays realtime events over WebSockets.
Complete documentation is available at https://github.com/jmcleod/agentgate`,
	SilenceUsage: true,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

var configFile string

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to a YAML configuration file")
}
