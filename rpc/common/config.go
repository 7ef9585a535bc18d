package common

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Default values
// --------------------------------------------------------------------------

const (
	DefaultBucketCount      = 271
	DefaultAskTimeoutSecond = 200 // expiry of un-replied calls
	DefaultRetryCount       = 3
	DefaultMulticastGroup   = "239.255.27.1:54327"
	DefaultHeartbeatMillis  = 1000
)

// --------------------------------------------------------------------------
// Transport configuration structs
// --------------------------------------------------------------------------

// SocketConf holds the socket tuning applied to every connection
type SocketConf struct {
	WriteBufferSize int  // Socket write buffer in bytes (0 = os default)
	ReadBufferSize  int  // Socket read buffer in bytes (0 = os default)
	TCPNoDelay      bool // Disable Nagle's algorithm
	TCPKeepAliveSec int  // Keep-alive period (0 = disabled)
	TCPLingerSec    int  // Linger on close (-1 = os default)
}

// TransportConfig configures the point to point transport between members
type TransportConfig struct {
	SocketConf
	// Endpoint is the address the node listens on (host:port)
	Endpoint string
	// DialTimeoutSecond bounds a single connection attempt
	DialTimeoutSecond int
	// AskTimeoutSecond is the expiry of un-replied calls
	AskTimeoutSecond int
	// RetryCount is the number of connection attempts before a member counts as unreachable
	RetryCount int
	// Workers is the size of the worker pool executing inbound messages (0 = NumCPU)
	Workers int
}

// AskTimeout returns the expiry of un-replied calls
func (c TransportConfig) AskTimeout() time.Duration {
	if c.AskTimeoutSecond <= 0 {
		return DefaultAskTimeoutSecond * time.Second
	}
	return time.Duration(c.AskTimeoutSecond) * time.Second
}

// DialTimeout returns the timeout of a single connection attempt
func (c TransportConfig) DialTimeout() time.Duration {
	if c.DialTimeoutSecond <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.DialTimeoutSecond) * time.Second
}

// Retries returns the number of connection attempts (at least one)
func (c TransportConfig) Retries() int {
	return max(1, c.RetryCount)
}

// MulticastConfig configures the discovery group
type MulticastConfig struct {
	Enabled         bool
	Group           string // Group address (ip:port)
	Interface       string // Network interface name (empty = system default)
	TTL             int
	Loopback        bool // Receive own datagrams (needed for several nodes on one host)
	HeartbeatMillis int  // Interval between discovery broadcasts
}

// Heartbeat returns the interval between discovery broadcasts
func (c MulticastConfig) Heartbeat() time.Duration {
	if c.HeartbeatMillis <= 0 {
		return DefaultHeartbeatMillis * time.Millisecond
	}
	return time.Duration(c.HeartbeatMillis) * time.Millisecond
}

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

// ServerConfig holds all configuration parameters of a cluster node.
type ServerConfig struct {
	// Node identity
	NodeID        string
	AdvertiseAddr string // Address other members connect to (empty = Transport.Endpoint)

	// Ring parameters
	BucketCount  int
	VirtualNodes int

	// Seeds are contacted over tcp on startup, for networks without multicast
	Seeds []string

	// Merge protocol
	MergeRetries  int
	AutoRebalance bool

	Transport TransportConfig
	Multicast MulticastConfig

	// HTTP admin api (empty = disabled)
	AdminEndpoint string

	// Logging configuration
	LogLevel string
}

// Address returns the address other members use to reach this node
func (c *ServerConfig) Address() string {
	if c.AdvertiseAddr != "" {
		return c.AdvertiseAddr
	}
	return c.Transport.Endpoint
}

// Validate checks the configuration for invalid values
func (c *ServerConfig) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("node id must not be empty")
	}
	if c.Transport.Endpoint == "" {
		return fmt.Errorf("transport endpoint must not be empty")
	}
	if c.BucketCount < 1 {
		return fmt.Errorf("bucket count must be at least 1, got %d", c.BucketCount)
	}
	if c.Multicast.Enabled && c.Multicast.Group == "" {
		return fmt.Errorf("multicast is enabled but no group is set")
	}
	return nil
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// Node Identity
	addSection("Node Identity")
	addField("Node ID", c.NodeID)
	addField("Address", c.Address())

	// Ring parameters
	addSection("Ring")
	addField("Bucket Count", strconv.Itoa(c.BucketCount))
	addField("Virtual Nodes", strconv.Itoa(c.VirtualNodes))
	addField("Merge Retries", strconv.Itoa(c.MergeRetries))
	addField("Auto Rebalance", fmt.Sprintf("%t", c.AutoRebalance))

	// Transport
	addSection("Transport")
	addField("Endpoint", c.Transport.Endpoint)
	addField("Ask Timeout", c.Transport.AskTimeout().String())
	addField("Dial Timeout", c.Transport.DialTimeout().String())
	addField("Retry Count", strconv.Itoa(c.Transport.Retries()))
	addField("Workers", strconv.Itoa(c.Transport.Workers))
	addField("TCP No Delay", fmt.Sprintf("%t", c.Transport.TCPNoDelay))
	addField("TCP Keep Alive", fmt.Sprintf("%d sec", c.Transport.TCPKeepAliveSec))

	// Discovery
	addSection("Discovery")
	addField("Multicast", fmt.Sprintf("%t", c.Multicast.Enabled))
	if c.Multicast.Enabled {
		addField("Group", c.Multicast.Group)
		addField("Interface", c.Multicast.Interface)
		addField("Heartbeat", c.Multicast.Heartbeat().String())
	}
	for i, seed := range c.Seeds {
		addField(fmt.Sprintf("Seed %d", i), seed)
	}

	// Admin api
	addSection("Admin")
	if c.AdminEndpoint == "" {
		addField("Endpoint", "disabled")
	} else {
		addField("Endpoint", c.AdminEndpoint)
	}

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

type ClientConfig struct {
	// Seeds are the nodes asked for the cluster status
	Seeds         []string
	TimeoutSecond int
	Transport     TransportConfig
}

// Timeout returns the timeout of a single client call
func (c *ClientConfig) Timeout() time.Duration {
	if c.TimeoutSecond <= 0 {
		return c.Transport.AskTimeout()
	}
	return time.Duration(c.TimeoutSecond) * time.Second
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// General Client Settings
	addSection("Client Configuration")
	addField("Timeout", c.Timeout().String())
	addField("Retry Count", strconv.Itoa(c.Transport.Retries()))

	// Seeds
	addSection("Seeds")
	for i, seed := range c.Seeds {
		addField(strconv.Itoa(i), seed)
	}

	return sb.String()
}
