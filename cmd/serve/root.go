package serve

import (
	"fmt"
	cmdUtil "github.com/ValentinKolb/dRing/cmd/util"
	"github.com/ValentinKolb/dRing/rpc/common"
	"github.com/ValentinKolb/dRing/rpc/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"os"
	"strings"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start a dRing node",
		Long:    `Start a dRing node with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is DRING_<flag> (e.g. DRING_BUCKET_COUNT=271)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(cmdUtil.InitConfig)

	// add flags
	key := "node-id"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("NodeID is the unique identifier of this node (default: the hostname)"))

	key = "endpoint"
	ServeCmd.PersistentFlags().String(key, "127.0.0.1:7070", cmdUtil.WrapString("The address on which the node accepts connections of other members and clients"))

	key = "advertise"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("The address other members use to reach this node (default: the endpoint)"))

	key = "bucket-count"
	ServeCmd.PersistentFlags().Int(key, common.DefaultBucketCount, cmdUtil.WrapString("Number of buckets of the ring. Must be equal on every node of a cluster"))

	key = "virtual-nodes"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("Number of points every member places on the ring (0 = default). Must be equal on every node of a cluster"))

	key = "seeds"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Comma-separated list of nodes (host:port) probed for merging, for networks without multicast"))

	key = "merge-retries"
	ServeCmd.PersistentFlags().Int(key, 3, cmdUtil.WrapString("How often a remote cluster is asked during a merge before it counts as unreachable"))

	key = "auto-rebalance"
	ServeCmd.PersistentFlags().Bool(key, true, cmdUtil.WrapString("Pull newly owned buckets automatically after every membership change"))

	key = "multicast"
	ServeCmd.PersistentFlags().Bool(key, true, cmdUtil.WrapString("Enable discovery over udp multicast"))

	key = "multicast-group"
	ServeCmd.PersistentFlags().String(key, common.DefaultMulticastGroup, cmdUtil.WrapString("Multicast group address (ip:port) used for discovery"))

	key = "multicast-interface"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Network interface used for multicast (default: system default)"))

	key = "multicast-ttl"
	ServeCmd.PersistentFlags().Int(key, 1, cmdUtil.WrapString("TTL of discovery datagrams"))

	key = "multicast-loopback"
	ServeCmd.PersistentFlags().Bool(key, true, cmdUtil.WrapString("Receive discovery datagrams sent from this host (needed to run several nodes on one host)"))

	key = "heartbeat"
	ServeCmd.PersistentFlags().Int(key, common.DefaultHeartbeatMillis, cmdUtil.WrapString("Interval between discovery broadcasts in milliseconds"))

	key = "ask-timeout"
	ServeCmd.PersistentFlags().Int(key, common.DefaultAskTimeoutSecond, cmdUtil.WrapString("Seconds after which an unanswered call fails"))

	key = "dial-timeout"
	ServeCmd.PersistentFlags().Int(key, 5, cmdUtil.WrapString("Timeout of a single connection attempt in seconds"))

	key = "transport-retries"
	ServeCmd.PersistentFlags().Int(key, common.DefaultRetryCount, cmdUtil.WrapString("How many times to try connecting to a member before it counts as unreachable"))

	key = "transport-tcp-nodelay"
	ServeCmd.PersistentFlags().Bool(key, true, cmdUtil.WrapString("Whether to enable TCP_NODELAY on member connections"))

	key = "transport-tcp-keepalive"
	ServeCmd.PersistentFlags().Int(key, 30, cmdUtil.WrapString("The keepalive interval of member connections (in seconds, 0 = disabled)"))

	key = "workers"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("Size of the worker pool executing inbound messages (0 = number of cpus)"))

	key = "admin-endpoint"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Address of the http admin api serving /metrics and /status (empty = disabled)"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	serveCmdConfig.NodeID = viper.GetString("node-id")
	if serveCmdConfig.NodeID == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("no node id set and the hostname is unknown: %w", err)
		}
		serveCmdConfig.NodeID = hostname
	}
	serveCmdConfig.AdvertiseAddr = viper.GetString("advertise")
	serveCmdConfig.BucketCount = viper.GetInt("bucket-count")
	serveCmdConfig.VirtualNodes = viper.GetInt("virtual-nodes")
	serveCmdConfig.MergeRetries = viper.GetInt("merge-retries")
	serveCmdConfig.AutoRebalance = viper.GetBool("auto-rebalance")
	serveCmdConfig.AdminEndpoint = viper.GetString("admin-endpoint")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	// parse seeds
	serveCmdConfig.Seeds = nil
	for _, seed := range strings.Split(viper.GetString("seeds"), ",") {
		if seed = strings.TrimSpace(seed); seed != "" {
			serveCmdConfig.Seeds = append(serveCmdConfig.Seeds, seed)
		}
	}

	serveCmdConfig.Transport = common.TransportConfig{
		SocketConf: common.SocketConf{
			TCPNoDelay:      viper.GetBool("transport-tcp-nodelay"),
			TCPKeepAliveSec: viper.GetInt("transport-tcp-keepalive"),
			TCPLingerSec:    -1,
		},
		Endpoint:          viper.GetString("endpoint"),
		DialTimeoutSecond: viper.GetInt("dial-timeout"),
		AskTimeoutSecond:  viper.GetInt("ask-timeout"),
		RetryCount:        viper.GetInt("transport-retries"),
		Workers:           viper.GetInt("workers"),
	}

	serveCmdConfig.Multicast = common.MulticastConfig{
		Enabled:         viper.GetBool("multicast"),
		Group:           viper.GetString("multicast-group"),
		Interface:       viper.GetString("multicast-interface"),
		TTL:             viper.GetInt("multicast-ttl"),
		Loopback:        viper.GetBool("multicast-loopback"),
		HeartbeatMillis: viper.GetInt("heartbeat"),
	}

	// a wildcard endpoint can not be dialed by other members
	if serveCmdConfig.AdvertiseAddr == "" && strings.HasPrefix(serveCmdConfig.Transport.Endpoint, "0.0.0.0:") {
		return fmt.Errorf("endpoint %s is a wildcard address, set --advertise to an address other members can reach", serveCmdConfig.Transport.Endpoint)
	}

	if _, err := common.ParseLogLevel(serveCmdConfig.LogLevel); err != nil {
		return err
	}

	return serveCmdConfig.Validate()
}

// run starts the node and blocks until it is stopped
func run(_ *cobra.Command, _ []string) error {
	node, err := server.NewNode(*serveCmdConfig)
	if err != nil {
		return err
	}
	return node.Serve()
}
