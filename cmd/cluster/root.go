package cluster

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/dRing/cmd/util"
	"github.com/ValentinKolb/dRing/rpc/client"
	"github.com/spf13/cobra"
	"strings"
)

var (
	rpcClient *client.Client

	// ClusterCommands represents the cluster command group
	ClusterCommands = &cobra.Command{
		Use:                "cluster",
		Short:              "Inspect and manage the cluster",
		PersistentPreRunE:  setupClient,
		PersistentPostRunE: closeClient,
	}

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Print the members, the master and the ring of the cluster",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Print(formatStatus(rpcClient))
			return nil
		},
	}

	rebalanceCmd = &cobra.Command{
		Use:   "rebalance",
		Short: "Ask every member to pull the buckets it owns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), util.GetClientConfig().Timeout())
			defer cancel()
			if err := rpcClient.Rebalance(ctx); err != nil {
				return err
			}
			fmt.Printf("rebalance requested on %d members\n", len(rpcClient.Status().Members))
			return nil
		},
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)
	util.SetupClientFlags(ClusterCommands)

	ClusterCommands.AddCommand(statusCmd)
	ClusterCommands.AddCommand(rebalanceCmd)
}

func setupClient(cmd *cobra.Command, _ []string) error {
	c, err := util.NewClient(cmd)
	if err != nil {
		return err
	}
	rpcClient = c
	return nil
}

func closeClient(_ *cobra.Command, _ []string) error {
	if rpcClient != nil {
		rpcClient.Close()
	}
	return nil
}

// formatStatus renders the cluster status with the number of buckets each
// member owns
func formatStatus(c *client.Client) string {
	var sb strings.Builder
	status := c.Status()
	r := c.Ring()

	sb.WriteString(fmt.Sprintf("Master       : %s\n", status.Master))
	sb.WriteString(fmt.Sprintf("Commit Index : %d\n", status.CommitIndex))
	sb.WriteString(fmt.Sprintf("Ring         : %s\n", status.Layout()))
	sb.WriteString(fmt.Sprintf("Members (%d)\n", len(status.Members)))
	for _, m := range status.Members {
		sb.WriteString(fmt.Sprintf("  %-24s %-22s %4d buckets\n", m.ID, m.Addr, len(r.OwnedBy(m))))
	}
	return sb.String()
}
