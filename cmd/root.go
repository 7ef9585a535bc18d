package cmd

import (
	"fmt"
	"github.com/ValentinKolb/dRing/cmd/cluster"
	"github.com/ValentinKolb/dRing/cmd/kv"
	"github.com/ValentinKolb/dRing/cmd/serve"
	"github.com/spf13/cobra"
	"os"
)

const (
	Version = "0.1.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dring",
		Short: "partitioned key-value cluster",
		Long: fmt.Sprintf(`dRing (v%s)

A partitioned key-value cluster written in Go. Keys are spread over a
consistent hash ring, nodes find each other over udp multicast and merge
into one cluster without a consensus log.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dRing",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dRing v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(kv.KeyValueCommands)
	RootCmd.AddCommand(cluster.ClusterCommands)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
