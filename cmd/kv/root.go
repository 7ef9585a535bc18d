package kv

import (
	"github.com/ValentinKolb/dRing/cmd/util"
	"github.com/ValentinKolb/dRing/rpc/client"
	"github.com/spf13/cobra"
)

var (
	rpcStore *client.Client

	// KeyValueCommands represents the KV command group
	KeyValueCommands = &cobra.Command{
		Use:                "kv",
		Short:              "Perform key-value operations on the cluster",
		PersistentPreRunE:  setupKVClient,
		PersistentPostRunE: closeKVClient,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add client flags to the KV command
	util.SetupClientFlags(KeyValueCommands)

	// Add subcommands
	KeyValueCommands.AddCommand(setCmd)
	KeyValueCommands.AddCommand(getCmd)
	KeyValueCommands.AddCommand(delCmd)
	KeyValueCommands.AddCommand(hasCmd)
	KeyValueCommands.AddCommand(perfTestCmd)
}

// setupKVClient connects the ring routed client
func setupKVClient(cmd *cobra.Command, _ []string) error {
	c, err := util.NewClient(cmd)
	if err != nil {
		return err
	}
	rpcStore = c
	return nil
}

func closeKVClient(_ *cobra.Command, _ []string) error {
	if rpcStore != nil {
		rpcStore.Close()
	}
	return nil
}
