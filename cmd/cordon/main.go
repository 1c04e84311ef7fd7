package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cordonproject/cordon/pkg/api"
)

var (
	configFile string
	serverURL  string
)

var rootCmd = &cobra.Command{
	Use:   "cordon",
	Short: "Leaderless control plane for container host fleets",
	Long: `Cordon coordinates a fleet of container hosts: placement, heartbeat
monitoring, automatic recovery, port allocation and a pull-based work
queue that agents poll over authenticated HTTP.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(api.Version)
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to config file")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://127.0.0.1:8420", "control plane address")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(hostCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(recoverCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
