// Command mcast-agent joins a multicast group and exchanges topic-addressed
// messages with every other agent on it.
package main

import (
	"fmt"
	"os"

	logging "github.com/ipfs/go-log/v2"
	"github.com/spf13/cobra"

	"Multicast-Agent/internal/config"
)

var log = logging.Logger("mcast-cli")

var rootCmd = &cobra.Command{
	Use:   "mcast-agent",
	Short: "Topic publish/subscribe over IP multicast",
	Long: `mcast-agent exchanges opaque payloads addressed by topic with every agent on
a shared multicast group. Each datagram carries the SHA-256 of the topic name
followed by the payload. Delivery is best effort.`,
	SilenceUsage: true,
}

var (
	configPath string
	logLevel   string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (default ~/.mcast-agent/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(hashCmd)
	rootCmd.AddCommand(interfacesCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the config file, applies the global flags and sets up
// logging from the result.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if err := setupLogging(cfg.Log); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupLogging(c config.LogConfig) error {
	level, err := logging.LevelFromString(c.Level)
	if err != nil {
		return fmt.Errorf("log level %q: %w", c.Level, err)
	}
	format := logging.ColorizedOutput
	switch c.Format {
	case "nocolor":
		format = logging.PlaintextOutput
	case "json":
		format = logging.JSONOutput
	}
	logging.SetupLogging(logging.Config{
		Format: format,
		Level:  level,
		Stderr: true,
	})
	return nil
}
