package util

import (
	"github.com/ValentinKolb/dRing/rpc/client"
	"github.com/ValentinKolb/dRing/rpc/common"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"strings"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupClientFlags adds the flags every client command needs
func SetupClientFlags(cmd *cobra.Command) {
	key := "seeds"
	cmd.PersistentFlags().String(key, "127.0.0.1:7070", WrapString("Comma-separated list of cluster nodes asked for the ring (host:port)"))

	key = "timeout"
	cmd.PersistentFlags().Int(key, 10, WrapString("The timeout in seconds of a single call"))

	key = "transport-retries"
	cmd.PersistentFlags().Int(key, 3, WrapString("How many times to try connecting to a node before it counts as unreachable"))

	key = "transport-tcp-nodelay"
	cmd.PersistentFlags().Bool(key, true, WrapString("Whether to enable TCP_NODELAY on client connections"))

	key = "log-level"
	cmd.PersistentFlags().String(key, "warn", WrapString("Level of the client logs (debug, info, warn, error)"))
}

// InitConfig loads the env files and binds environment variables with the
// DRING_ prefix
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("dring")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// GetClientConfig reads client configuration from viper
func GetClientConfig() *common.ClientConfig {
	var seeds []string
	for _, seed := range strings.Split(viper.GetString("seeds"), ",") {
		if seed = strings.TrimSpace(seed); seed != "" {
			seeds = append(seeds, seed)
		}
	}

	return &common.ClientConfig{
		Seeds:         seeds,
		TimeoutSecond: viper.GetInt("timeout"),
		Transport: common.TransportConfig{
			RetryCount: viper.GetInt("transport-retries"),
			SocketConf: common.SocketConf{
				TCPNoDelay:   viper.GetBool("transport-tcp-nodelay"),
				TCPLingerSec: -1,
			},
			Workers: 2,
		},
	}
}

// NewClient binds the flags of cmd and connects a client to the cluster
func NewClient(cmd *cobra.Command) (*client.Client, error) {
	if err := BindCommandFlags(cmd); err != nil {
		return nil, err
	}
	common.InitLoggers(viper.GetString("log-level"))
	return client.NewClient(*GetClientConfig())
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}
